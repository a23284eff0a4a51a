package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		panic(err)
	}
	return c
})

func Use() *Configuration {
	return singleton()
}

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existingFiles = append(existingFiles, file)
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}

	return len(existingFiles), godotenv.Load(existingFiles...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"leadloop"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type LLMOptions struct {
	BaseURL             string        `env:"LLM_BASE_URL"`
	AccessToken         string        `env:"LLM_ACCESS_TOKEN"`
	Model               string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	RequestTimeout      time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"30s"`
	ConfidenceThreshold float64       `env:"LLM_CONFIDENCE_THRESHOLD" envDefault:"0.7"`
}

type PolicyOptions struct {
	OutboundCapWindow time.Duration `env:"POLICY_OUTBOUND_CAP_WINDOW" envDefault:"24h"`
	QuietHoursStart   int           `env:"POLICY_QUIET_HOURS_START" envDefault:"21"`
	QuietHoursEnd     int           `env:"POLICY_QUIET_HOURS_END" envDefault:"8"`
	MaxUnanswered     int           `env:"POLICY_MAX_UNANSWERED" envDefault:"5"`
	ContentDenylist   []string      `env:"POLICY_CONTENT_DENYLIST" envDefault:"scam,spam,unsolicited" envSeparator:","`
}

type SchedulerOptions struct {
	ReviewInterval   time.Duration `env:"SCHEDULER_REVIEW_INTERVAL" envDefault:"5m"`
	ReviewCutoff     time.Duration `env:"SCHEDULER_REVIEW_CUTOFF" envDefault:"24h"`
	ReviewBatchSize  int           `env:"SCHEDULER_REVIEW_BATCH_SIZE" envDefault:"200"`
	DispatchInterval time.Duration `env:"SCHEDULER_DISPATCH_INTERVAL" envDefault:"5s"`
	TenantBatchSize  int           `env:"SCHEDULER_TENANT_BATCH_SIZE" envDefault:"10"`
	DispatchBatch    int           `env:"SCHEDULER_DISPATCH_BATCH_SIZE" envDefault:"50"`
}

type MemoryOptions struct {
	Workers     int `env:"MEMORY_REFRESH_WORKERS" envDefault:"4"`
	QueueSize   int `env:"MEMORY_REFRESH_QUEUE_SIZE" envDefault:"256"`
	HistorySize int `env:"MEMORY_REFRESH_HISTORY_SIZE" envDefault:"20"`
}

type SnippetCacheOptions struct {
	Enabled bool          `env:"SNIPPET_CACHE_ENABLED" envDefault:"false"`
	Prefix  string        `env:"SNIPPET_CACHE_PREFIX" envDefault:"crm:knowledge:snippets"`
	TTL     time.Duration `env:"SNIPPET_CACHE_TTL" envDefault:"10m"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
	Addr    string `env:"PROMETHEUS_METRICS_ADDR" envDefault:"localhost:9180"`
}

type Configuration struct {
	Database     DatabaseOptions
	LLM          LLMOptions
	Policy       PolicyOptions
	Scheduler    SchedulerOptions
	Memory       MemoryOptions
	SnippetCache SnippetCacheOptions
	Prometheus   PrometheusOptions

	RedisURL         string `env:"REDIS_URL" envDefault:"localhost:6379"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`

	// RLS enforcement mode (disabled/enforce).
	RLSEnforce string `env:"RLS_ENFORCE" envDefault:"disabled"`

	logger *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.validateRLS(); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(c.LogrusLogLevel())
	logger.SetFormatter(&logrus.JSONFormatter{})
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

func (c *Configuration) validateRLS() error {
	mode := strings.ToLower(strings.TrimSpace(c.RLSEnforce))
	if mode == "" {
		mode = "disabled"
	}
	switch mode {
	case "disabled", "enforce":
	default:
		return fmt.Errorf("invalid RLS_ENFORCE=%q (expected disabled|enforce)", c.RLSEnforce)
	}

	if mode == "enforce" && strings.EqualFold(strings.TrimSpace(c.Database.User), "postgres") {
		return fmt.Errorf("RLS_ENFORCE=enforce requires a non-superuser DB_USER (postgres will bypass RLS)")
	}

	c.RLSEnforce = mode
	return nil
}

func (c *Configuration) validatePolicy() error {
	if c.Policy.QuietHoursStart < 0 || c.Policy.QuietHoursStart > 23 {
		return fmt.Errorf("invalid POLICY_QUIET_HOURS_START=%d (expected 0..23)", c.Policy.QuietHoursStart)
	}
	if c.Policy.QuietHoursEnd < 0 || c.Policy.QuietHoursEnd > 23 {
		return fmt.Errorf("invalid POLICY_QUIET_HOURS_END=%d (expected 0..23)", c.Policy.QuietHoursEnd)
	}
	if c.Policy.MaxUnanswered <= 0 {
		return fmt.Errorf("invalid POLICY_MAX_UNANSWERED=%d (expected > 0)", c.Policy.MaxUnanswered)
	}
	if c.LLM.ConfidenceThreshold < 0 || c.LLM.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid LLM_CONFIDENCE_THRESHOLD=%f (expected 0..1)", c.LLM.ConfidenceThreshold)
	}
	return nil
}

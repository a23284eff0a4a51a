package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	domainCache "github.com/leadloop/leadloop/modules/crm/domain/entities/cache"
	rediscache "github.com/leadloop/leadloop/modules/crm/infrastructure/cache"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/knowledge"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence"
	"github.com/leadloop/leadloop/modules/crm/scheduler"
	"github.com/leadloop/leadloop/modules/crm/services"
	"github.com/leadloop/leadloop/pkg/composables"
	"github.com/leadloop/leadloop/pkg/configuration"
	"github.com/leadloop/leadloop/pkg/eventbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer poolCancel()
	pool, err := pgxpool.New(poolCtx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	var snippetCache domainCache.Cache
	if conf.SnippetCache.Enabled {
		client := redis.NewClient(&redis.Options{Addr: conf.RedisURL})
		defer func() { _ = client.Close() }()
		snippetCache = rediscache.NewRedisCache(client, conf.SnippetCache.Prefix, conf.SnippetCache.TTL)
	}

	leadRepo := persistence.NewLeadRepository()
	workspaceRepo := persistence.NewWorkspaceRepository()
	threadRepo := persistence.NewThreadRepository()
	decisionRepo := persistence.NewDecisionRepository()
	memoryRepo := persistence.NewMemoryRepository()
	strategyRepo := persistence.NewStrategyRepository()
	knowledgeStore := persistence.NewKnowledgeStore()

	provider := llm.NewOpenAIProvider(llm.OpenAIProviderConfig{
		BaseURL:     conf.LLM.BaseURL,
		AccessToken: conf.LLM.AccessToken,
		Model:       conf.LLM.Model,
	})

	gate := services.NewPolicyGateService(services.PolicyGateConfig{
		DecisionRepo:        decisionRepo,
		LeadRepo:            leadRepo,
		ThreadRepo:          threadRepo,
		OutboundCapWindow:   conf.Policy.OutboundCapWindow,
		QuietHoursStart:     conf.Policy.QuietHoursStart,
		QuietHoursEnd:       conf.Policy.QuietHoursEnd,
		MaxUnanswered:       conf.Policy.MaxUnanswered,
		ConfidenceThreshold: conf.LLM.ConfidenceThreshold,
		ContentDenylist:     conf.Policy.ContentDenylist,
	})
	assembler := services.NewContextAssemblerService(services.ContextAssemblerConfig{
		StrategyRepo: strategyRepo,
		MemoryRepo:   memoryRepo,
		Retriever:    knowledge.NewKeywordRetriever(knowledgeStore, snippetCache),
	})
	refresher := services.NewMemoryRefresher(services.MemoryRefresherConfig{
		Provider:    provider,
		ThreadRepo:  threadRepo,
		MemoryRepo:  memoryRepo,
		Workers:     conf.Memory.Workers,
		QueueSize:   conf.Memory.QueueSize,
		HistorySize: conf.Memory.HistorySize,
	})
	orchestrator := services.NewTurnOrchestratorService(services.TurnOrchestratorConfig{
		LeadRepo:        leadRepo,
		WorkspaceRepo:   workspaceRepo,
		ThreadRepo:      threadRepo,
		Gate:            gate,
		Assembler:       assembler,
		Provider:        provider,
		Refresher:       refresher,
		Publisher:       eventbus.NewEventPublisher(logger),
		ProviderTimeout: conf.LLM.RequestTimeout,
		HistorySize:     conf.Memory.HistorySize,
	})

	state := scheduler.NewState()
	reviewLoop, err := scheduler.NewReviewLoop(leadRepo, workspaceRepo, state, scheduler.ReviewOptions{
		PollInterval: conf.Scheduler.ReviewInterval,
		Cutoff:       conf.Scheduler.ReviewCutoff,
		BatchSize:    conf.Scheduler.ReviewBatchSize,
		Logger:       logger.WithField("component", "review-loop"),
	})
	if err != nil {
		log.Fatalf("failed to create review loop: %v", err)
	}
	dispatcher, err := scheduler.NewDispatcher(leadRepo, orchestrator, state, scheduler.DispatchOptions{
		PollInterval:   conf.Scheduler.DispatchInterval,
		PerTenantBatch: conf.Scheduler.TenantBatchSize,
		BatchSize:      conf.Scheduler.DispatchBatch,
		Logger:         logger.WithField("component", "due-dispatcher"),
	})
	if err != nil {
		log.Fatalf("failed to create dispatcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithLogger(ctx, logrus.NewEntry(logger))

	refresher.Start(ctx)
	go runLoop(ctx, logger, "review-loop", reviewLoop.Run)
	go runLoop(ctx, logger, "due-dispatcher", dispatcher.Run)

	if conf.Prometheus.Enabled {
		go serveMetrics(logger, conf.Prometheus.Addr, conf.Prometheus.Path)
	}

	logger.Info("leadloop started")
	<-ctx.Done()
	logger.Info("shutting down")
	refresher.Stop()
}

func runLoop(ctx context.Context, logger *logrus.Logger, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Errorf("%s stopped", name)
	}
}

func serveMetrics(logger *logrus.Logger, addr, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("metrics endpoint stopped")
	}
}

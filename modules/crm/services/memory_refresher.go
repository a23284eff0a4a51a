package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/leadmemory"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
	"github.com/leadloop/leadloop/pkg/composables"
)

const (
	defaultRefreshWorkers   = 4
	defaultRefreshQueueSize = 256
	defaultHistorySize      = 20

	memoryExtractionPrompt = "Summarize the conversation below in at most two sentences, " +
		"then list short factual statements about the lead (budget, needs, objections, " +
		"timeline). Base everything strictly on the transcript."
)

var memoryExtractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"facts": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []string{"summary", "facts"},
	"additionalProperties": false,
}

var errEmptyExtraction = errors.New("structured extraction returned no summary")

type refreshTask struct {
	tenantID uuid.UUID
	leadID   uuid.UUID
}

type MemoryRefresherConfig struct {
	Provider   llm.Provider
	ThreadRepo convthread.Repository
	MemoryRepo leadmemory.Repository

	Workers     int
	QueueSize   int
	HistorySize int
}

func (c *MemoryRefresherConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultRefreshWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultRefreshQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
}

// MemoryRefresher distills recent thread history into durable lead memory on
// a bounded worker pool. Refreshes are best-effort: every failure is logged
// and abandoned, existing memory is left untouched, and nothing propagates
// back to the turn that scheduled the refresh. On shutdown queued and
// in-flight refreshes may be dropped.
type MemoryRefresher struct {
	cfg   MemoryRefresherConfig
	tasks chan refreshTask

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewMemoryRefresher(cfg MemoryRefresherConfig) *MemoryRefresher {
	cfg.setDefaults()
	return &MemoryRefresher{
		cfg:   cfg,
		tasks: make(chan refreshTask, cfg.QueueSize),
	}
}

// Start launches the worker pool. The given ctx carries the pool and logger
// the workers run under and bounds their lifetime.
func (r *MemoryRefresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx)
		}
	})
}

// Stop closes the queue and waits for in-flight refreshes to finish. Submits
// racing with Stop are dropped, not panicked on.
func (r *MemoryRefresher) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.tasks)
		r.mu.Unlock()
	})
	r.wg.Wait()
}

// Submit schedules a refresh for the lead. It never blocks: when the queue is
// full or the refresher is stopping the task is dropped and counted, the next
// completed turn will schedule a fresh one anyway.
func (r *MemoryRefresher) Submit(ctx context.Context, leadID uuid.UUID) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		composables.UseLogger(ctx).WithError(err).Warn("memory refresh submitted without tenant")
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		useTurnMetrics().memoryRefresh.WithLabelValues("dropped").Inc()
		composables.UseLogger(ctx).WithField("lead_id", leadID).Warn("memory refresh after shutdown, task dropped")
		return
	}
	select {
	case r.tasks <- refreshTask{tenantID: tenantID, leadID: leadID}:
	default:
		useTurnMetrics().memoryRefresh.WithLabelValues("dropped").Inc()
		composables.UseLogger(ctx).WithField("lead_id", leadID).Warn("memory refresh queue full, task dropped")
	}
}

func (r *MemoryRefresher) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-r.tasks:
			if !ok {
				return
			}
			taskCtx := composables.WithTenantID(ctx, task.tenantID)
			logger := composables.UseLogger(ctx).WithFields(logrus.Fields{
				"tenant_id": task.tenantID,
				"lead_id":   task.leadID,
			})
			if err := r.refresh(composables.WithLogger(taskCtx, logger), task); err != nil {
				useTurnMetrics().memoryRefresh.WithLabelValues("error").Inc()
				logger.WithError(err).Warn("memory refresh failed")
				continue
			}
			useTurnMetrics().memoryRefresh.WithLabelValues("ok").Inc()
		}
	}
}

func (r *MemoryRefresher) refresh(ctx context.Context, task refreshTask) error {
	messages, err := r.cfg.ThreadRepo.LastMessages(ctx, task.leadID, r.cfg.HistorySize)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	req, err := llm.NewExtractionRequest(
		[]llm.Message{
			{Role: llm.RoleUser, Content: memoryExtractionPrompt + "\n\n" + transcript(messages)},
		},
		"lead_memory",
		memoryExtractionSchema,
		llm.GenerationConfig{MaxTokens: 512},
	)
	if err != nil {
		return err
	}

	resp, err := r.cfg.Provider.Extract(ctx, req)
	if err != nil {
		return err
	}

	var extracted struct {
		Summary string   `json:"summary"`
		Facts   []string `json:"facts"`
	}
	if err := json.Unmarshal(resp.JSON, &extracted); err != nil {
		return err
	}
	if strings.TrimSpace(extracted.Summary) == "" {
		// Empty extraction is a failure, not a reason to wipe what we have.
		return errEmptyExtraction
	}

	memory := leadmemory.New(
		task.tenantID,
		task.leadID,
		extracted.Summary,
		extracted.Facts,
		leadmemory.WithLastUpdatedAt(time.Now()),
	)
	_, err = r.cfg.MemoryRepo.Put(ctx, memory)
	return err
}

// transcript renders messages oldest-first for the extraction prompt.
func transcript(messages []convthread.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(string(msg.Role()) + ": " + msg.Content() + "\n")
	}
	return b.String()
}

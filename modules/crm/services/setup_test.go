package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/strategy"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/knowledge"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence"
	"github.com/leadloop/leadloop/modules/crm/services"
	"github.com/leadloop/leadloop/pkg/composables"
)

// testNow is a Wednesday at 12:00 UTC, outside quiet hours.
var testNow = time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func timePtr(t time.Time) *time.Time { return &t }

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

// passthroughTx substitutes the tenant transaction in tests; the in-memory
// repositories have nothing to commit.
func passthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fixtures struct {
	ctx      context.Context
	tenantID uuid.UUID
	agentID  uuid.UUID

	leads      *persistence.InmemLeadRepository
	workspaces *persistence.InmemWorkspaceRepository
	threads    *persistence.InmemThreadRepository
	decisions  *persistence.InmemDecisionRepository
	memories   *persistence.InmemMemoryRepository
	strategies *persistence.InmemStrategyRepository
	docs       *persistence.InmemKnowledgeStore
}

func setupTest(t *testing.T) *fixtures {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tenantID := uuid.New()
	ctx := composables.WithTenantID(context.Background(), tenantID)
	ctx = composables.WithLogger(ctx, logrus.NewEntry(logger))

	return &fixtures{
		ctx:        ctx,
		tenantID:   tenantID,
		agentID:    uuid.New(),
		leads:      persistence.NewInmemLeadRepository(),
		workspaces: persistence.NewInmemWorkspaceRepository(),
		threads:    persistence.NewInmemThreadRepository(),
		decisions:  persistence.NewInmemDecisionRepository(),
		memories:   persistence.NewInmemMemoryRepository(),
		strategies: persistence.NewInmemStrategyRepository(),
		docs:       persistence.NewInmemKnowledgeStore(),
	}
}

func (f *fixtures) newWorkspace(t *testing.T, opts ...workspace.Option) workspace.Workspace {
	t.Helper()
	opts = append([]workspace.Option{workspace.WithID(f.tenantID)}, opts...)
	w, err := f.workspaces.Save(f.ctx, workspace.New("Acme", opts...))
	if err != nil {
		t.Fatalf("failed to save workspace: %v", err)
	}
	return w
}

func (f *fixtures) newLead(t *testing.T, opts ...lead.Option) lead.Lead {
	t.Helper()
	l, err := f.leads.Create(f.ctx, lead.New(f.tenantID, f.agentID, "Alice", opts...))
	if err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}
	return l
}

func (f *fixtures) newActiveStrategy(t *testing.T) strategy.StrategyVersion {
	t.Helper()
	s, err := f.strategies.Save(f.ctx, strategy.New(
		f.tenantID,
		1,
		strategy.WithStatus(strategy.StatusActive),
		strategy.WithTone("Friendly and concise"),
		strategy.WithObjectives("Qualify budget and timeline"),
		strategy.WithCallToAction("Offer a 15 minute call"),
	))
	if err != nil {
		t.Fatalf("failed to save strategy: %v", err)
	}
	return s
}

func (f *fixtures) newGate(opts ...func(*services.PolicyGateConfig)) *services.PolicyGateService {
	cfg := services.PolicyGateConfig{
		DecisionRepo: f.decisions,
		LeadRepo:     f.leads,
		ThreadRepo:   f.threads,
		Clock:        testClock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return services.NewPolicyGateService(cfg)
}

func (f *fixtures) newAssembler() *services.ContextAssemblerService {
	return f.newAssemblerWith(f.strategies)
}

func (f *fixtures) newAssemblerWith(strategies strategy.Repository) *services.ContextAssemblerService {
	return services.NewContextAssemblerService(services.ContextAssemblerConfig{
		StrategyRepo: strategies,
		MemoryRepo:   f.memories,
		Retriever:    knowledge.NewKeywordRetriever(f.docs, nil),
	})
}

// failingStrategyRepo simulates an unreadable strategy store.
type failingStrategyRepo struct {
	err error
}

func (r *failingStrategyRepo) GetActive(context.Context) (strategy.StrategyVersion, error) {
	return nil, r.err
}

func (r *failingStrategyRepo) Save(_ context.Context, _ strategy.StrategyVersion) (strategy.StrategyVersion, error) {
	return nil, r.err
}

func (f *fixtures) newOrchestrator(provider llm.Provider, opts ...func(*services.TurnOrchestratorConfig)) *services.TurnOrchestratorService {
	cfg := services.TurnOrchestratorConfig{
		LeadRepo:      f.leads,
		WorkspaceRepo: f.workspaces,
		ThreadRepo:    f.threads,
		Gate:          f.newGate(),
		Assembler:     f.newAssembler(),
		Provider:      provider,
		InTx:          passthroughTx,
		Clock:         testClock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return services.NewTurnOrchestratorService(cfg)
}

type stubProvider struct {
	chatResp    *llm.ChatResponse
	chatErr     error
	extractResp *llm.ExtractionResponse
	extractErr  error

	chatCalls    int
	extractCalls int
	lastChatReq  llm.ChatRequest
}

func (p *stubProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.chatCalls++
	p.lastChatReq = req
	if p.chatErr != nil {
		return nil, p.chatErr
	}
	return p.chatResp, nil
}

func (p *stubProvider) Extract(_ context.Context, _ llm.ExtractionRequest) (*llm.ExtractionResponse, error) {
	p.extractCalls++
	if p.extractErr != nil {
		return nil, p.extractErr
	}
	return p.extractResp, nil
}

func confidentReply(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Content:    content,
		Confidence: 0.95,
		Usage:      llm.Usage{PromptTokens: 100, CompletionTokens: 30, TotalTokens: 130},
		Provider:   llm.ProviderInfo{Name: "stub", Model: "stub-1"},
	}
}

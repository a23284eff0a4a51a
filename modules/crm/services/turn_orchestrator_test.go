package services_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
	"github.com/leadloop/leadloop/modules/crm/services"
	"github.com/leadloop/leadloop/pkg/eventbus"
)

func TestTurnOrchestrator_HappyPath(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)
	f.newActiveStrategy(t)

	provider := &stubProvider{chatResp: confidentReply("Hi Alice, do you have 15 minutes this week?")}
	sut := f.newOrchestrator(provider)

	result, err := sut.RunTurn(f.ctx, l.ID(), w.ID(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, services.TurnStatusSent, result.Status)
	assert.NotEmpty(t, result.Content)

	updated, err := f.leads.GetByID(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lead.StageContacted, updated.Stage())
	require.NotNil(t, updated.LastFollowupAt())
	assert.Equal(t, testNow, *updated.LastFollowupAt())

	messages, err := f.threads.LastMessages(f.ctx, l.ID(), 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, convthread.RoleModel, messages[0].Role())
	assert.Equal(t, result.Content, messages[0].Content())

	decisions, err := f.decisions.ListByLead(f.ctx, l.ID())
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, policydecision.ReasonAllChecksPassed, decisions[0].Reason())
	assert.Equal(t, policydecision.ReasonContentAccepted, decisions[1].Reason())
}

func TestTurnOrchestrator_SecondCallBlockedByCapWindow(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)
	f.newActiveStrategy(t)

	provider := &stubProvider{chatResp: confidentReply("First touch.")}
	sut := f.newOrchestrator(provider)

	result, err := sut.RunTurn(f.ctx, l.ID(), w.ID(), "Hi")
	require.NoError(t, err)
	require.Equal(t, services.TurnStatusSent, result.Status)

	result, err = sut.RunTurn(f.ctx, l.ID(), w.ID(), "still interested")
	require.NoError(t, err)
	assert.Equal(t, services.TurnStatusBlocked, result.Status)
	assert.Equal(t, policydecision.ReasonOutboundCap24h, result.Reason)

	// The provider must not have been called for the blocked turn.
	assert.Equal(t, 1, provider.chatCalls)
}

func TestTurnOrchestrator_LowConfidenceBlock(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)
	f.newActiveStrategy(t)

	provider := &stubProvider{chatResp: &llm.ChatResponse{Content: "Uh, maybe?", Confidence: 0.3}}
	sut := f.newOrchestrator(provider)

	result, err := sut.RunTurn(f.ctx, l.ID(), w.ID(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, services.TurnStatusBlocked, result.Status)
	assert.Equal(t, policydecision.ReasonLowConfidenceBlock, result.Reason)

	tagged, err := f.leads.GetByID(f.ctx, l.ID())
	require.NoError(t, err)
	assert.True(t, tagged.HasTag(lead.TagStrategyReviewRequired))
	assert.Equal(t, lead.StageNew, tagged.Stage())

	messages, err := f.threads.LastMessages(f.ctx, l.ID(), 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestTurnOrchestrator_ProviderError(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)
	f.newActiveStrategy(t)

	provider := &stubProvider{chatErr: errors.New("upstream 503")}
	sut := f.newOrchestrator(provider)

	result, err := sut.RunTurn(f.ctx, l.ID(), w.ID(), "Hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrProvider)
	assert.Equal(t, services.TurnStatusProviderError, result.Status)

	// Nothing persisted for a failed generation.
	messages, err := f.threads.LastMessages(f.ctx, l.ID(), 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
	fresh, err := f.leads.GetByID(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, lead.StageNew, fresh.Stage())
}

func TestTurnOrchestrator_MissingLeadIsDataIntegrityError(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	f.newActiveStrategy(t)

	sut := f.newOrchestrator(&stubProvider{chatResp: confidentReply("hello")})

	ghost := f.newLead(t)
	_, err := sut.RunTurn(f.ctx, ghost.ID(), w.ID(), "Hi")
	require.NoError(t, err)

	_, err = sut.RunTurn(f.ctx, newUUID(t), w.ID(), "Hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrDataIntegrity)
}

func TestTurnOrchestrator_ConfidenceScorerOverride(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)
	f.newActiveStrategy(t)

	// Provider reports full confidence, the injected scorer disagrees.
	provider := &stubProvider{chatResp: confidentReply("sure thing")}
	sut := f.newOrchestrator(provider, func(cfg *services.TurnOrchestratorConfig) {
		cfg.ConfidenceScorer = func(string) float64 { return 0.1 }
	})

	result, err := sut.RunTurn(f.ctx, l.ID(), w.ID(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, services.TurnStatusBlocked, result.Status)
	assert.Equal(t, policydecision.ReasonLowConfidenceBlock, result.Reason)
}

func TestTurnOrchestrator_PublishesTurnCompletedEvent(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)
	f.newActiveStrategy(t)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := eventbus.NewEventPublisher(logger)
	var events []services.TurnCompletedEvent
	bus.Subscribe(func(ev services.TurnCompletedEvent) {
		events = append(events, ev)
	})

	sut := f.newOrchestrator(&stubProvider{chatResp: confidentReply("hello")}, func(cfg *services.TurnOrchestratorConfig) {
		cfg.Publisher = bus
	})

	_, err := sut.RunTurn(f.ctx, l.ID(), w.ID(), "Hi")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, l.ID(), events[0].LeadID)
	assert.Equal(t, f.tenantID, events[0].TenantID)
}

func TestTurnOrchestrator_RecordInbound(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.newWorkspace(t)
	l := f.newLead(t, lead.WithLastFollowupAt(timePtr(testNow.Add(-48*time.Hour))))

	sut := f.newOrchestrator(&stubProvider{chatResp: confidentReply("hello")})
	require.NoError(t, sut.RecordInbound(f.ctx, l.ID(), "Yes, I am interested"))

	updated, err := f.leads.GetByID(f.ctx, l.ID())
	require.NoError(t, err)
	require.NotNil(t, updated.LastInboundAt())
	assert.True(t, updated.Engaged())

	messages, err := f.threads.LastMessages(f.ctx, l.ID(), 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, convthread.RoleUser, messages[0].Role())
}

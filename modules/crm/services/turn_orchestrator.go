package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
	"github.com/leadloop/leadloop/pkg/composables"
	"github.com/leadloop/leadloop/pkg/eventbus"
)

const (
	defaultProviderTimeout = 30 * time.Second

	// Sent to the model when a scheduled follow-up fires on a thread with no
	// history and no inbound text to react to.
	conversationOpener = "Open the conversation with the lead according to the strategy."
)

type TurnStatus string

const (
	TurnStatusSent          TurnStatus = "sent"
	TurnStatusBlocked       TurnStatus = "blocked"
	TurnStatusProviderError TurnStatus = "provider_error"
)

type TurnResult struct {
	Status  TurnStatus
	Reason  string
	Content string
}

// Transactor runs fn transactionally. The default joins or begins a
// tenant-scoped pgx transaction; tests substitute a passthrough.
type Transactor func(ctx context.Context, fn func(context.Context) error) error

type TurnOrchestratorConfig struct {
	LeadRepo      lead.Repository
	WorkspaceRepo workspace.Repository
	ThreadRepo    convthread.Repository
	Gate          *PolicyGateService
	Assembler     *ContextAssemblerService
	Provider      llm.Provider
	Refresher     *MemoryRefresher
	Publisher     eventbus.EventBus

	ProviderTimeout time.Duration
	HistorySize     int

	// ConfidenceScorer overrides the provider-reported confidence when set.
	ConfidenceScorer llm.ConfidenceScorer
	InTx             Transactor
	Clock            func() time.Time
}

func (c *TurnOrchestratorConfig) setDefaults() {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = defaultProviderTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.InTx == nil {
		c.InTx = composables.InTenantTx
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// TurnOrchestratorService runs one complete interaction cycle for a lead:
// pre-send gate, context assembly, provider call, post-gen gate, transactional
// persistence, then fire-and-forget memory refresh and event publication.
//
// Turns for different leads may run concurrently; turns for the same lead are
// serialized by an in-process keyed lock for the duration of the turn (the
// dispatcher additionally claims rows, so two processes never race on the
// same due lead).
type TurnOrchestratorService struct {
	cfg TurnOrchestratorConfig

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewTurnOrchestratorService(cfg TurnOrchestratorConfig) *TurnOrchestratorService {
	cfg.setDefaults()
	return &TurnOrchestratorService{
		cfg:   cfg,
		locks: map[uuid.UUID]*sync.Mutex{},
	}
}

// RunTurn is the sole entry point for both the due dispatcher and inbound
// message handling. userMessage may be empty on scheduled follow-ups.
//
// Calling RunTurn twice for the same lead inside the outbound-cap window
// yields a block on the second call, never a duplicate send.
func (s *TurnOrchestratorService) RunTurn(ctx context.Context, leadID, workspaceID uuid.UUID, userMessage string) (TurnResult, error) {
	unlock := s.lockLead(leadID)
	defer unlock()

	started := s.cfg.Clock()
	result, err := s.runTurn(ctx, leadID, workspaceID, userMessage)
	useTurnMetrics().turnDuration.Observe(s.cfg.Clock().Sub(started).Seconds())
	if result.Status != "" {
		useTurnMetrics().turnsTotal.WithLabelValues(string(result.Status)).Inc()
	}
	return result, err
}

func (s *TurnOrchestratorService) runTurn(ctx context.Context, leadID, workspaceID uuid.UUID, userMessage string) (TurnResult, error) {
	l, err := s.cfg.LeadRepo.GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, lead.ErrLeadNotFound) {
			return TurnResult{}, errors.Wrap(ErrDataIntegrity, err.Error())
		}
		return TurnResult{}, errors.Wrap(err, "failed to load lead")
	}
	w, err := s.cfg.WorkspaceRepo.GetByID(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, workspace.ErrWorkspaceNotFound) {
			return TurnResult{}, errors.Wrap(ErrDataIntegrity, err.Error())
		}
		return TurnResult{}, errors.Wrap(err, "failed to load workspace")
	}

	// PRE_SEND_CHECK
	decision, err := s.cfg.Gate.CheckPreSend(ctx, l, w)
	if err != nil {
		return TurnResult{}, err
	}
	if decision.Outcome() == policydecision.OutcomeBlock {
		s.publishBlocked(ctx, l, decision)
		return TurnResult{Status: TurnStatusBlocked, Reason: decision.Reason()}, nil
	}

	// CONTEXT_BUILD
	assembled, err := s.cfg.Assembler.Assemble(ctx, l, w, userMessage)
	if err != nil {
		return TurnResult{}, err
	}
	messages, err := s.requestMessages(ctx, leadID, userMessage)
	if err != nil {
		return TurnResult{}, err
	}
	req, err := llm.NewChatRequest(assembled.SystemInstruction, messages, assembled.GenConfig, assembled.ToolsEnabled)
	if err != nil {
		return TurnResult{}, err
	}

	// GENERATE
	providerCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	resp, err := s.cfg.Provider.Chat(providerCtx, req)
	if err != nil {
		useTurnMetrics().providerCalls.WithLabelValues("error").Inc()
		composables.UseLogger(ctx).WithError(err).WithField("lead_id", leadID).Error("llm provider call failed")
		return TurnResult{Status: TurnStatusProviderError}, errors.Wrap(llm.ErrProvider, err.Error())
	}
	useTurnMetrics().providerCalls.WithLabelValues("ok").Inc()
	useTurnMetrics().providerTokens.Add(float64(resp.Usage.TotalTokens))

	// POST_GEN_CHECK
	confidence := resp.Confidence
	if s.cfg.ConfidenceScorer != nil {
		confidence = s.cfg.ConfidenceScorer(resp.Content)
	}
	decision, err = s.cfg.Gate.CheckPostGen(ctx, l, DraftSnapshot{Content: resp.Content, Confidence: confidence})
	if err != nil {
		return TurnResult{}, err
	}
	if decision.Outcome() == policydecision.OutcomeBlock {
		s.publishBlocked(ctx, l, decision)
		return TurnResult{Status: TurnStatusBlocked, Reason: decision.Reason()}, nil
	}

	// PERSIST: thread append and lead update commit or fail together.
	now := s.cfg.Clock()
	outbound, err := convthread.NewMessage(convthread.RoleModel, resp.Content, now)
	if err != nil {
		return TurnResult{}, errors.Wrap(err, "generated content is not persistable")
	}
	err = s.cfg.InTx(ctx, func(txCtx context.Context) error {
		if err := s.cfg.ThreadRepo.Append(txCtx, leadID, outbound); err != nil {
			return errors.Wrap(err, "failed to append outbound message")
		}
		if _, err := s.cfg.LeadRepo.Save(txCtx, l.MarkContacted(now)); err != nil {
			return errors.Wrap(err, "failed to update lead after send")
		}
		return nil
	})
	if err != nil {
		return TurnResult{}, err
	}

	// PROGRESS
	if s.cfg.Refresher != nil {
		s.cfg.Refresher.Submit(ctx, leadID)
	}
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Publish(TurnCompletedEvent{
			TenantID:  l.TenantID(),
			LeadID:    leadID,
			Content:   resp.Content,
			Usage:     resp.Usage,
			Timestamp: now,
		})
	}
	return TurnResult{Status: TurnStatusSent, Content: resp.Content}, nil
}

// RecordInbound appends an inbound message and stamps the lead's engagement
// state. Invoked by inbound message handling, not by the dispatcher.
func (s *TurnOrchestratorService) RecordInbound(ctx context.Context, leadID uuid.UUID, content string) error {
	unlock := s.lockLead(leadID)
	defer unlock()

	now := s.cfg.Clock()
	msg, err := convthread.NewMessage(convthread.RoleUser, content, now)
	if err != nil {
		return err
	}
	return s.cfg.InTx(ctx, func(txCtx context.Context) error {
		l, err := s.cfg.LeadRepo.GetByID(txCtx, leadID)
		if err != nil {
			return errors.Wrap(err, "failed to load lead for inbound message")
		}
		if err := s.cfg.ThreadRepo.Append(txCtx, leadID, msg); err != nil {
			return errors.Wrap(err, "failed to append inbound message")
		}
		if _, err := s.cfg.LeadRepo.Save(txCtx, l.MarkInbound(now)); err != nil {
			return errors.Wrap(err, "failed to stamp inbound time")
		}
		return nil
	})
}

func (s *TurnOrchestratorService) requestMessages(ctx context.Context, leadID uuid.UUID, userMessage string) ([]llm.Message, error) {
	history, err := s.cfg.ThreadRepo.LastMessages(ctx, leadID, s.cfg.HistorySize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load thread history")
	}
	messages := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, llm.Message{
			Role:    llm.Role(msg.Role()),
			Content: msg.Content(),
		})
	}
	if userMessage != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})
	}
	if len(messages) == 0 {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: conversationOpener})
	}
	return messages, nil
}

func (s *TurnOrchestratorService) publishBlocked(ctx context.Context, l lead.Lead, decision policydecision.PolicyDecision) {
	composables.UseLogger(ctx).WithFields(logrus.Fields{
		"lead_id": l.ID(),
		"point":   decision.Point(),
		"reason":  decision.Reason(),
	}).Info("turn blocked by policy gate")
	if s.cfg.Publisher == nil {
		return
	}
	s.cfg.Publisher.Publish(TurnBlockedEvent{
		TenantID:  l.TenantID(),
		LeadID:    l.ID(),
		Point:     decision.Point(),
		Reason:    decision.Reason(),
		Timestamp: s.cfg.Clock(),
	})
}

func (s *TurnOrchestratorService) lockLead(id uuid.UUID) func() {
	s.mu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

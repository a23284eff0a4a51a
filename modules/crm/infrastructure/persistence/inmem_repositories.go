package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/knowledge"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/leadmemory"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/strategy"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/pkg/composables"
)

type threadKey struct {
	tenantID uuid.UUID
	leadID   uuid.UUID
}

type InmemThreadRepository struct {
	storage *SafeMap[threadKey, []convthread.Message]
}

func NewInmemThreadRepository() *InmemThreadRepository {
	return &InmemThreadRepository{
		storage: NewSafeMap[threadKey, []convthread.Message](),
	}
}

func (r *InmemThreadRepository) key(ctx context.Context, leadID uuid.UUID) (threadKey, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return threadKey{}, err
	}
	return threadKey{tenantID: tenantID, leadID: leadID}, nil
}

func (r *InmemThreadRepository) GetByLeadID(ctx context.Context, leadID uuid.UUID) (convthread.ConversationThread, error) {
	key, err := r.key(ctx, leadID)
	if err != nil {
		return nil, err
	}
	messages, _ := r.storage.Get(key)
	return convthread.New(key.tenantID, leadID, convthread.WithMessages(messages)), nil
}

func (r *InmemThreadRepository) Append(ctx context.Context, leadID uuid.UUID, msg convthread.Message) error {
	key, err := r.key(ctx, leadID)
	if err != nil {
		return err
	}
	r.storage.Update(func(m map[threadKey][]convthread.Message) {
		m[key] = append(m[key], msg)
	})
	return nil
}

func (r *InmemThreadRepository) LastMessages(ctx context.Context, leadID uuid.UUID, n int) ([]convthread.Message, error) {
	key, err := r.key(ctx, leadID)
	if err != nil {
		return nil, err
	}
	messages, _ := r.storage.Get(key)
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	out := make([]convthread.Message, len(messages))
	copy(out, messages)
	return out, nil
}

func (r *InmemThreadRepository) LastOutboundAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error) {
	key, err := r.key(ctx, leadID)
	if err != nil {
		return nil, err
	}
	messages, _ := r.storage.Get(key)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role() == convthread.RoleModel {
			at := messages[i].CreatedAt()
			return &at, nil
		}
	}
	return nil, nil
}

func (r *InmemThreadRepository) ConsecutiveUnanswered(ctx context.Context, leadID uuid.UUID) (int, error) {
	key, err := r.key(ctx, leadID)
	if err != nil {
		return 0, err
	}
	messages, _ := r.storage.Get(key)
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role() {
		case convthread.RoleUser:
			return count, nil
		case convthread.RoleModel:
			count++
		}
	}
	return count, nil
}

type InmemDecisionRepository struct {
	storage *SafeMap[uuid.UUID, policydecision.PolicyDecision]
}

func NewInmemDecisionRepository() *InmemDecisionRepository {
	return &InmemDecisionRepository{
		storage: NewSafeMap[uuid.UUID, policydecision.PolicyDecision](),
	}
}

func (r *InmemDecisionRepository) Create(ctx context.Context, d policydecision.PolicyDecision) (policydecision.PolicyDecision, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	if d.TenantID() != tenantID {
		return nil, errors.New("decision tenant mismatch")
	}
	r.storage.Set(d.ID(), d)
	return d, nil
}

func (r *InmemDecisionRepository) ListByLead(ctx context.Context, leadID uuid.UUID) ([]policydecision.PolicyDecision, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	var decisions []policydecision.PolicyDecision
	for _, d := range r.storage.Values() {
		if d.TenantID() == tenantID && d.LeadID() == leadID {
			decisions = append(decisions, d)
		}
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt().Before(decisions[j].CreatedAt())
	})
	return decisions, nil
}

func (r *InmemDecisionRepository) CountByLeadAndReason(ctx context.Context, leadID uuid.UUID, reason string) (int, error) {
	decisions, err := r.ListByLead(ctx, leadID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, d := range decisions {
		if d.Reason() == reason {
			count++
		}
	}
	return count, nil
}

type memoryKey struct {
	tenantID uuid.UUID
	leadID   uuid.UUID
}

type InmemMemoryRepository struct {
	storage *SafeMap[memoryKey, leadmemory.LeadMemory]
}

func NewInmemMemoryRepository() *InmemMemoryRepository {
	return &InmemMemoryRepository{
		storage: NewSafeMap[memoryKey, leadmemory.LeadMemory](),
	}
}

func (r *InmemMemoryRepository) GetByLeadID(ctx context.Context, leadID uuid.UUID) (leadmemory.LeadMemory, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	m, found := r.storage.Get(memoryKey{tenantID: tenantID, leadID: leadID})
	if !found {
		return nil, leadmemory.ErrMemoryNotFound
	}
	return m, nil
}

func (r *InmemMemoryRepository) Put(ctx context.Context, m leadmemory.LeadMemory) (leadmemory.LeadMemory, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	if m.TenantID() != tenantID {
		return nil, errors.New("memory tenant mismatch")
	}
	r.storage.Set(memoryKey{tenantID: tenantID, leadID: m.LeadID()}, m)
	return m, nil
}

type InmemStrategyRepository struct {
	storage *SafeMap[uuid.UUID, strategy.StrategyVersion]
}

func NewInmemStrategyRepository() *InmemStrategyRepository {
	return &InmemStrategyRepository{
		storage: NewSafeMap[uuid.UUID, strategy.StrategyVersion](),
	}
}

func (r *InmemStrategyRepository) GetActive(ctx context.Context) (strategy.StrategyVersion, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	var active strategy.StrategyVersion
	for _, s := range r.storage.Values() {
		if s.TenantID() != tenantID || s.Status() != strategy.StatusActive {
			continue
		}
		if active == nil || s.Version() > active.Version() {
			active = s
		}
	}
	if active == nil {
		return nil, strategy.ErrNoActiveStrategy
	}
	return active, nil
}

func (r *InmemStrategyRepository) Save(ctx context.Context, s strategy.StrategyVersion) (strategy.StrategyVersion, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	if s.TenantID() != tenantID {
		return nil, errors.New("strategy tenant mismatch")
	}
	r.storage.Set(s.ID(), s)
	return s, nil
}

type InmemWorkspaceRepository struct {
	storage *SafeMap[uuid.UUID, workspace.Workspace]
}

func NewInmemWorkspaceRepository() *InmemWorkspaceRepository {
	return &InmemWorkspaceRepository{
		storage: NewSafeMap[uuid.UUID, workspace.Workspace](),
	}
}

func (r *InmemWorkspaceRepository) GetByID(_ context.Context, id uuid.UUID) (workspace.Workspace, error) {
	w, found := r.storage.Get(id)
	if !found {
		return nil, workspace.ErrWorkspaceNotFound
	}
	return w, nil
}

func (r *InmemWorkspaceRepository) Save(_ context.Context, w workspace.Workspace) (workspace.Workspace, error) {
	r.storage.Set(w.ID(), w)
	return w, nil
}

type InmemKnowledgeStore struct {
	storage *SafeMap[uuid.UUID, knowledge.Doc]
}

func NewInmemKnowledgeStore() *InmemKnowledgeStore {
	return &InmemKnowledgeStore{
		storage: NewSafeMap[uuid.UUID, knowledge.Doc](),
	}
}

func (r *InmemKnowledgeStore) Add(doc knowledge.Doc) {
	r.storage.Set(doc.ID(), doc)
}

func (r *InmemKnowledgeStore) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]knowledge.Doc, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	var docs []knowledge.Doc
	for _, doc := range r.storage.Values() {
		if doc.TenantID() == tenantID && doc.AgentID() == agentID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt().Equal(docs[j].CreatedAt()) {
			return docs[i].ID().String() < docs[j].ID().String()
		}
		return docs[i].CreatedAt().Before(docs[j].CreatedAt())
	})
	return docs, nil
}

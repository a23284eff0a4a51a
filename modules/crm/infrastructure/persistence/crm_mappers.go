package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/knowledge"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/leadmemory"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/strategy"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
)

func ToDBLead(l lead.Lead) models.Lead {
	tags := make([]string, 0, len(l.Tags()))
	for _, t := range l.Tags() {
		tags = append(tags, string(t))
	}
	return models.Lead{
		ID:             l.ID().String(),
		TenantID:       l.TenantID().String(),
		AgentID:        l.AgentID().String(),
		Name:           l.Name(),
		Phone:          stringToNull(l.Phone()),
		Stage:          string(l.Stage()),
		Tags:           tags,
		OptedOut:       l.OptedOut(),
		Timezone:       stringToNull(l.Timezone()),
		LastFollowupAt: timePtrToNull(l.LastFollowupAt()),
		NextFollowupAt: timePtrToNull(l.NextFollowupAt()),
		LastInboundAt:  timePtrToNull(l.LastInboundAt()),
		CreatedAt:      l.CreatedAt(),
		UpdatedAt:      l.UpdatedAt(),
	}
}

func ToDomainLead(model models.Lead) (lead.Lead, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse UUID from string: %s", model.ID))
	}
	tenantID, err := uuid.Parse(model.TenantID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse tenant UUID from string: %s", model.TenantID))
	}
	agentID, err := uuid.Parse(model.AgentID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse agent UUID from string: %s", model.AgentID))
	}

	tags := make([]lead.Tag, 0, len(model.Tags))
	for _, t := range model.Tags {
		tags = append(tags, lead.Tag(t))
	}

	return lead.New(
		tenantID,
		agentID,
		model.Name,
		lead.WithID(id),
		lead.WithPhone(model.Phone.String),
		lead.WithStage(lead.Stage(model.Stage)),
		lead.WithTags(tags),
		lead.WithOptedOut(model.OptedOut),
		lead.WithTimezone(model.Timezone.String),
		lead.WithLastFollowupAt(nullToTimePtr(model.LastFollowupAt)),
		lead.WithNextFollowupAt(nullToTimePtr(model.NextFollowupAt)),
		lead.WithLastInboundAt(nullToTimePtr(model.LastInboundAt)),
		lead.WithCreatedAt(model.CreatedAt),
		lead.WithUpdatedAt(model.UpdatedAt),
	), nil
}

func ToDBWorkspace(w workspace.Workspace) models.Workspace {
	return models.Workspace{
		ID:             w.ID().String(),
		Name:           w.Name(),
		BudgetTier:     string(w.BudgetTier()),
		FollowupPreset: string(w.FollowupPreset()),
		SundayHold:     w.SundayHold(),
		CreatedAt:      w.CreatedAt(),
		UpdatedAt:      w.UpdatedAt(),
	}
}

func ToDomainWorkspace(model models.Workspace) (workspace.Workspace, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse UUID from string: %s", model.ID))
	}
	tier, err := workspace.ParseBudgetTier(model.BudgetTier)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("workspace %s has budget tier %q", model.ID, model.BudgetTier))
	}
	return workspace.New(
		model.Name,
		workspace.WithID(id),
		workspace.WithBudgetTier(tier),
		workspace.WithFollowupPreset(workspace.FollowupPreset(model.FollowupPreset)),
		workspace.WithSundayHold(model.SundayHold),
		workspace.WithCreatedAt(model.CreatedAt),
		workspace.WithUpdatedAt(model.UpdatedAt),
	), nil
}

func ToDBStrategy(s strategy.StrategyVersion) models.StrategyVersion {
	return models.StrategyVersion{
		ID:                s.ID().String(),
		TenantID:          s.TenantID().String(),
		Version:           s.Version(),
		Status:            string(s.Status()),
		Tone:              s.Tone(),
		Objectives:        s.Objectives(),
		ObjectionHandling: s.ObjectionHandling(),
		CallToAction:      s.CallToAction(),
		CreatedAt:         s.CreatedAt(),
	}
}

func ToDomainStrategy(model models.StrategyVersion) (strategy.StrategyVersion, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse UUID from string: %s", model.ID))
	}
	tenantID, err := uuid.Parse(model.TenantID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse tenant UUID from string: %s", model.TenantID))
	}
	return strategy.New(
		tenantID,
		model.Version,
		strategy.WithID(id),
		strategy.WithStatus(strategy.Status(model.Status)),
		strategy.WithTone(model.Tone),
		strategy.WithObjectives(model.Objectives),
		strategy.WithObjectionHandling(model.ObjectionHandling),
		strategy.WithCallToAction(model.CallToAction),
		strategy.WithCreatedAt(model.CreatedAt),
	), nil
}

func ToDBMemory(m leadmemory.LeadMemory) models.LeadMemory {
	return models.LeadMemory{
		LeadID:        m.LeadID().String(),
		TenantID:      m.TenantID().String(),
		Summary:       m.Summary(),
		Facts:         m.Facts(),
		LastUpdatedAt: m.LastUpdatedAt(),
	}
}

func ToDomainMemory(model models.LeadMemory) (leadmemory.LeadMemory, error) {
	leadID, err := uuid.Parse(model.LeadID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse UUID from string: %s", model.LeadID))
	}
	tenantID, err := uuid.Parse(model.TenantID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse tenant UUID from string: %s", model.TenantID))
	}
	return leadmemory.New(
		tenantID,
		leadID,
		model.Summary,
		model.Facts,
		leadmemory.WithLastUpdatedAt(model.LastUpdatedAt),
	), nil
}

func ToDBDecision(d policydecision.PolicyDecision) models.PolicyDecision {
	return models.PolicyDecision{
		ID:        d.ID().String(),
		TenantID:  d.TenantID().String(),
		LeadID:    d.LeadID().String(),
		Point:     string(d.Point()),
		Outcome:   string(d.Outcome()),
		Reason:    d.Reason(),
		Draft:     stringToNull(d.Draft()),
		CreatedAt: d.CreatedAt(),
	}
}

func ToDomainDecision(model models.PolicyDecision) (policydecision.PolicyDecision, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse UUID from string: %s", model.ID))
	}
	tenantID, err := uuid.Parse(model.TenantID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse tenant UUID from string: %s", model.TenantID))
	}
	leadID, err := uuid.Parse(model.LeadID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse lead UUID from string: %s", model.LeadID))
	}
	return policydecision.New(
		tenantID,
		leadID,
		policydecision.Point(model.Point),
		policydecision.Outcome(model.Outcome),
		model.Reason,
		policydecision.WithID(id),
		policydecision.WithDraft(model.Draft.String),
		policydecision.WithCreatedAt(model.CreatedAt),
	), nil
}

func ToDomainKnowledgeDoc(model models.KnowledgeDoc) (knowledge.Doc, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse UUID from string: %s", model.ID))
	}
	tenantID, err := uuid.Parse(model.TenantID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse tenant UUID from string: %s", model.TenantID))
	}
	agentID, err := uuid.Parse(model.AgentID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to parse agent UUID from string: %s", model.AgentID))
	}
	return knowledge.NewDoc(
		tenantID,
		agentID,
		model.Title,
		model.Content,
		knowledge.WithID(id),
		knowledge.WithCreatedAt(model.CreatedAt),
	), nil
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtrToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullToTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

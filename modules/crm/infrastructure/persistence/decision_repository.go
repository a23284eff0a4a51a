package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
	"github.com/leadloop/leadloop/pkg/composables"
)

const (
	decisionFindQuery = `
		SELECT id, tenant_id, lead_id, point, outcome, reason, draft, created_at
		  FROM crm_policy_decisions`

	decisionInsertQuery = `
		INSERT INTO crm_policy_decisions (id, tenant_id, lead_id, point, outcome, reason, draft, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	decisionCountQuery = `
		SELECT count(*)
		  FROM crm_policy_decisions
		 WHERE tenant_id = $1 AND lead_id = $2 AND reason = $3`
)

type DecisionRepository struct{}

func NewDecisionRepository() policydecision.Repository {
	return &DecisionRepository{}
}

func (r *DecisionRepository) Create(ctx context.Context, d policydecision.PolicyDecision) (policydecision.PolicyDecision, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	model := ToDBDecision(d)
	var idStr string
	if err := tx.QueryRow(
		ctx,
		decisionInsertQuery,
		model.ID,
		model.TenantID,
		model.LeadID,
		model.Point,
		model.Outcome,
		model.Reason,
		model.Draft,
		model.CreatedAt,
	).Scan(&idStr); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DecisionRepository) ListByLead(ctx context.Context, leadID uuid.UUID) ([]policydecision.PolicyDecision, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(
		ctx,
		decisionFindQuery+" WHERE tenant_id = $1 AND lead_id = $2 ORDER BY created_at, id",
		tenantID.String(), leadID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []policydecision.PolicyDecision
	for rows.Next() {
		var model models.PolicyDecision
		if err := rows.Scan(
			&model.ID,
			&model.TenantID,
			&model.LeadID,
			&model.Point,
			&model.Outcome,
			&model.Reason,
			&model.Draft,
			&model.CreatedAt,
		); err != nil {
			return nil, err
		}
		d, err := ToDomainDecision(model)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (r *DecisionRepository) CountByLeadAndReason(ctx context.Context, leadID uuid.UUID, reason string) (int, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRow(ctx, decisionCountQuery, tenantID.String(), leadID.String(), reason).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

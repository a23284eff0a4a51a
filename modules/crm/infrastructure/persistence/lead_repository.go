package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
	"github.com/leadloop/leadloop/pkg/composables"
)

const (
	leadFindQuery = `
		SELECT id, tenant_id, agent_id, name, phone, stage, tags, opted_out, timezone,
		       last_followup_at, next_followup_at, last_inbound_at, created_at, updated_at
		  FROM crm_leads`

	leadInsertQuery = `
		INSERT INTO crm_leads (
			id, tenant_id, agent_id, name, phone, stage, tags, opted_out, timezone,
			last_followup_at, next_followup_at, last_inbound_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	leadUpdateQuery = `
		UPDATE crm_leads
		   SET name = $1, phone = $2, stage = $3, tags = $4, opted_out = $5, timezone = $6,
		       last_followup_at = $7, next_followup_at = $8, last_inbound_at = $9, updated_at = $10
		 WHERE id = $11 AND tenant_id = $12
		RETURNING id`

	leadScheduleQuery = `
		UPDATE crm_leads
		   SET next_followup_at = $1, updated_at = $2
		 WHERE id = $3`

	leadFindStaleQuery = leadFindQuery + `
		 WHERE stage NOT IN ('SUPPRESSED', 'TAKE_OVER', 'CLOSED_WON', 'CLOSED_LOST')
		   AND NOT opted_out
		   AND (next_followup_at IS NULL OR next_followup_at < $1)
		 ORDER BY updated_at
		 LIMIT $2`

	leadCountDueQuery = `
		SELECT count(*)
		  FROM crm_leads
		 WHERE next_followup_at IS NOT NULL
		   AND next_followup_at <= $1
		   AND stage NOT IN ('SUPPRESSED', 'TAKE_OVER', 'CLOSED_WON', 'CLOSED_LOST')
		   AND NOT opted_out`

	// A claim locks the rows, bounds them per tenant so one noisy tenant
	// cannot monopolize a pass, and clears next_followup_at so back-to-back
	// passes never re-select the same lead.
	leadClaimDueQuery = `
		WITH locked AS (
			SELECT id, tenant_id, next_followup_at
			  FROM crm_leads
			 WHERE next_followup_at IS NOT NULL
			   AND next_followup_at <= $1
			   AND stage NOT IN ('SUPPRESSED', 'TAKE_OVER', 'CLOSED_WON', 'CLOSED_LOST')
			   AND NOT opted_out
			 ORDER BY next_followup_at
			 FOR UPDATE SKIP LOCKED
		), ranked AS (
			SELECT id, row_number() OVER (PARTITION BY tenant_id ORDER BY next_followup_at, id) AS rn
			  FROM locked
		), batch AS (
			SELECT id FROM ranked WHERE rn <= $2 ORDER BY rn LIMIT $3
		)
		UPDATE crm_leads l
		   SET next_followup_at = NULL, updated_at = $1
		 WHERE l.id IN (SELECT id FROM batch)
		RETURNING l.id, l.tenant_id, l.agent_id, l.name, l.phone, l.stage, l.tags, l.opted_out,
		          l.timezone, l.last_followup_at, l.next_followup_at, l.last_inbound_at,
		          l.created_at, l.updated_at`
)

type LeadRepository struct{}

func NewLeadRepository() lead.Repository {
	return &LeadRepository{}
}

func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (lead.Lead, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	leads, err := r.queryLeads(ctx, leadFindQuery+" WHERE id = $1 AND tenant_id = $2", id.String(), tenantID.String())
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, lead.ErrLeadNotFound
	}
	return leads[0], nil
}

func (r *LeadRepository) Create(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	model := ToDBLead(l)
	var idStr string
	if err := tx.QueryRow(
		ctx,
		leadInsertQuery,
		model.ID,
		model.TenantID,
		model.AgentID,
		model.Name,
		model.Phone,
		model.Stage,
		model.Tags,
		model.OptedOut,
		model.Timezone,
		model.LastFollowupAt,
		model.NextFollowupAt,
		model.LastInboundAt,
		model.CreatedAt,
		model.UpdatedAt,
	).Scan(&idStr); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *LeadRepository) Save(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	model := ToDBLead(l)
	var idStr string
	if err := tx.QueryRow(
		ctx,
		leadUpdateQuery,
		model.Name,
		model.Phone,
		model.Stage,
		model.Tags,
		model.OptedOut,
		model.Timezone,
		model.LastFollowupAt,
		model.NextFollowupAt,
		model.LastInboundAt,
		model.UpdatedAt,
		model.ID,
		model.TenantID,
	).Scan(&idStr); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *LeadRepository) ScheduleFollowup(ctx context.Context, id uuid.UUID, at time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, leadScheduleQuery, at, time.Now(), id.String())
	return err
}

func (r *LeadRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]lead.Lead, error) {
	return r.queryLeads(ctx, leadFindStaleQuery, cutoff, limit)
}

func (r *LeadRepository) CountDue(ctx context.Context, now time.Time) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRow(ctx, leadCountDueQuery, now).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *LeadRepository) ClaimDue(ctx context.Context, now time.Time, perTenant, limit int) ([]lead.Lead, error) {
	return r.queryLeads(ctx, leadClaimDueQuery, now, perTenant, limit)
}

func (r *LeadRepository) queryLeads(ctx context.Context, query string, args ...any) ([]lead.Lead, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []lead.Lead
	for rows.Next() {
		var model models.Lead
		if err := rows.Scan(
			&model.ID,
			&model.TenantID,
			&model.AgentID,
			&model.Name,
			&model.Phone,
			&model.Stage,
			&model.Tags,
			&model.OptedOut,
			&model.Timezone,
			&model.LastFollowupAt,
			&model.NextFollowupAt,
			&model.LastInboundAt,
			&model.CreatedAt,
			&model.UpdatedAt,
		); err != nil {
			return nil, err
		}
		l, err := ToDomainLead(model)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

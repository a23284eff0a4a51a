package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/leadmemory"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
	"github.com/leadloop/leadloop/pkg/composables"
)

const (
	memoryFindQuery = `
		SELECT lead_id, tenant_id, summary, facts, last_updated_at
		  FROM crm_lead_memory
		 WHERE tenant_id = $1 AND lead_id = $2`

	// Memory is a snapshot: an upsert replaces summary and facts wholesale.
	memoryUpsertQuery = `
		INSERT INTO crm_lead_memory (lead_id, tenant_id, summary, facts, last_updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lead_id) DO UPDATE
		   SET summary = EXCLUDED.summary,
		       facts = EXCLUDED.facts,
		       last_updated_at = EXCLUDED.last_updated_at`
)

type MemoryRepository struct{}

func NewMemoryRepository() leadmemory.Repository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) GetByLeadID(ctx context.Context, leadID uuid.UUID) (leadmemory.LeadMemory, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var model models.LeadMemory
	if err := tx.QueryRow(ctx, memoryFindQuery, tenantID.String(), leadID.String()).Scan(
		&model.LeadID,
		&model.TenantID,
		&model.Summary,
		&model.Facts,
		&model.LastUpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, leadmemory.ErrMemoryNotFound
		}
		return nil, err
	}
	return ToDomainMemory(model)
}

func (r *MemoryRepository) Put(ctx context.Context, m leadmemory.LeadMemory) (leadmemory.LeadMemory, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	model := ToDBMemory(m)
	if _, err := tx.Exec(
		ctx,
		memoryUpsertQuery,
		model.LeadID,
		model.TenantID,
		model.Summary,
		model.Facts,
		model.LastUpdatedAt,
	); err != nil {
		return nil, err
	}
	return m, nil
}

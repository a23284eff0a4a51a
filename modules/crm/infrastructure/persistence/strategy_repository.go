package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/strategy"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
	"github.com/leadloop/leadloop/pkg/composables"
)

const (
	strategyFindActiveQuery = `
		SELECT id, tenant_id, version, status, tone, objectives, objection_handling, call_to_action, created_at
		  FROM crm_strategy_versions
		 WHERE tenant_id = $1 AND status = 'ACTIVE'
		 ORDER BY version DESC
		 LIMIT 1`

	strategyUpsertQuery = `
		INSERT INTO crm_strategy_versions (id, tenant_id, version, status, tone, objectives, objection_handling, call_to_action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		   SET status = EXCLUDED.status,
		       tone = EXCLUDED.tone,
		       objectives = EXCLUDED.objectives,
		       objection_handling = EXCLUDED.objection_handling,
		       call_to_action = EXCLUDED.call_to_action`
)

type StrategyRepository struct{}

func NewStrategyRepository() strategy.Repository {
	return &StrategyRepository{}
}

func (r *StrategyRepository) GetActive(ctx context.Context) (strategy.StrategyVersion, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var model models.StrategyVersion
	if err := tx.QueryRow(ctx, strategyFindActiveQuery, tenantID.String()).Scan(
		&model.ID,
		&model.TenantID,
		&model.Version,
		&model.Status,
		&model.Tone,
		&model.Objectives,
		&model.ObjectionHandling,
		&model.CallToAction,
		&model.CreatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, strategy.ErrNoActiveStrategy
		}
		return nil, err
	}
	return ToDomainStrategy(model)
}

func (r *StrategyRepository) Save(ctx context.Context, s strategy.StrategyVersion) (strategy.StrategyVersion, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	model := ToDBStrategy(s)
	if _, err := tx.Exec(
		ctx,
		strategyUpsertQuery,
		model.ID,
		model.TenantID,
		model.Version,
		model.Status,
		model.Tone,
		model.Objectives,
		model.ObjectionHandling,
		model.CallToAction,
		model.CreatedAt,
	); err != nil {
		return nil, err
	}
	return s, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
	"github.com/leadloop/leadloop/pkg/composables"
)

const (
	workspaceFindQuery = `
		SELECT id, name, budget_tier, followup_preset, sunday_hold, created_at, updated_at
		  FROM crm_workspaces
		 WHERE id = $1`

	workspaceUpsertQuery = `
		INSERT INTO crm_workspaces (id, name, budget_tier, followup_preset, sunday_hold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		   SET name = EXCLUDED.name,
		       budget_tier = EXCLUDED.budget_tier,
		       followup_preset = EXCLUDED.followup_preset,
		       sunday_hold = EXCLUDED.sunday_hold,
		       updated_at = EXCLUDED.updated_at`
)

type WorkspaceRepository struct{}

func NewWorkspaceRepository() workspace.Repository {
	return &WorkspaceRepository{}
}

func (r *WorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (workspace.Workspace, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var model models.Workspace
	if err := tx.QueryRow(ctx, workspaceFindQuery, id.String()).Scan(
		&model.ID,
		&model.Name,
		&model.BudgetTier,
		&model.FollowupPreset,
		&model.SundayHold,
		&model.CreatedAt,
		&model.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, workspace.ErrWorkspaceNotFound
		}
		return nil, err
	}
	return ToDomainWorkspace(model)
}

func (r *WorkspaceRepository) Save(ctx context.Context, w workspace.Workspace) (workspace.Workspace, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	model := ToDBWorkspace(w)
	if _, err := tx.Exec(
		ctx,
		workspaceUpsertQuery,
		model.ID,
		model.Name,
		model.BudgetTier,
		model.FollowupPreset,
		model.SundayHold,
		model.CreatedAt,
		model.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return w, nil
}

package workspace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrInvalidBudgetTier = errors.New("invalid budget tier")
)

// BudgetTier governs prompt size and model cost for a workspace.
type BudgetTier string

const (
	TierGreen  BudgetTier = "GREEN"
	TierYellow BudgetTier = "YELLOW"
	TierRed    BudgetTier = "RED"
)

func ParseBudgetTier(s string) (BudgetTier, error) {
	switch BudgetTier(s) {
	case TierGreen, TierYellow, TierRed:
		return BudgetTier(s), nil
	}
	return "", ErrInvalidBudgetTier
}

type FollowupPreset string

const (
	PresetGentle     FollowupPreset = "GENTLE"
	PresetBalanced   FollowupPreset = "BALANCED"
	PresetAggressive FollowupPreset = "AGGRESSIVE"
)

// Interval returns the base follow-up interval for the preset.
func (p FollowupPreset) Interval() time.Duration {
	switch p {
	case PresetGentle:
		return 72 * time.Hour
	case PresetAggressive:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (Workspace, error)
	Save(ctx context.Context, w Workspace) (Workspace, error)
}

type Workspace interface {
	ID() uuid.UUID
	Name() string
	BudgetTier() BudgetTier
	FollowupPreset() FollowupPreset
	SundayHold() bool
	CreatedAt() time.Time
	UpdatedAt() time.Time
}

type workspaceImpl struct {
	id             uuid.UUID
	name           string
	budgetTier     BudgetTier
	followupPreset FollowupPreset
	sundayHold     bool
	createdAt      time.Time
	updatedAt      time.Time
}

func New(name string, opts ...Option) Workspace {
	w := &workspaceImpl{
		id:             uuid.New(),
		name:           name,
		budgetTier:     TierGreen,
		followupPreset: PresetBalanced,
		createdAt:      time.Now(),
		updatedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type Option func(*workspaceImpl)

func WithID(id uuid.UUID) Option {
	return func(w *workspaceImpl) {
		if id != uuid.Nil {
			w.id = id
		}
	}
}

func WithBudgetTier(tier BudgetTier) Option {
	return func(w *workspaceImpl) {
		if tier != "" {
			w.budgetTier = tier
		}
	}
}

func WithFollowupPreset(preset FollowupPreset) Option {
	return func(w *workspaceImpl) {
		if preset != "" {
			w.followupPreset = preset
		}
	}
}

func WithSundayHold(hold bool) Option {
	return func(w *workspaceImpl) {
		w.sundayHold = hold
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(w *workspaceImpl) {
		if !createdAt.IsZero() {
			w.createdAt = createdAt
		}
	}
}

func WithUpdatedAt(updatedAt time.Time) Option {
	return func(w *workspaceImpl) {
		if !updatedAt.IsZero() {
			w.updatedAt = updatedAt
		}
	}
}

func (w *workspaceImpl) ID() uuid.UUID {
	return w.id
}

func (w *workspaceImpl) Name() string {
	return w.name
}

func (w *workspaceImpl) BudgetTier() BudgetTier {
	return w.budgetTier
}

func (w *workspaceImpl) FollowupPreset() FollowupPreset {
	return w.followupPreset
}

func (w *workspaceImpl) SundayHold() bool {
	return w.sundayHold
}

func (w *workspaceImpl) CreatedAt() time.Time {
	return w.createdAt
}

func (w *workspaceImpl) UpdatedAt() time.Time {
	return w.updatedAt
}

package strategy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoActiveStrategy = errors.New("no active strategy")
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusDraft      Status = "DRAFT"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Repository reads strategy versions scoped to the tenant in context.
// The single-ACTIVE-version invariant is enforced by strategy management
// at write time; this side only ever reads the ACTIVE one.
type Repository interface {
	GetActive(ctx context.Context) (StrategyVersion, error)
	Save(ctx context.Context, s StrategyVersion) (StrategyVersion, error)
}

type StrategyVersion interface {
	ID() uuid.UUID
	TenantID() uuid.UUID
	Version() int
	Status() Status
	Tone() string
	Objectives() string
	ObjectionHandling() string
	CallToAction() string
	CreatedAt() time.Time

	// PromptText renders the strategy as the system-prompt block.
	PromptText() string
}

type strategyVersion struct {
	id                uuid.UUID
	tenantID          uuid.UUID
	version           int
	status            Status
	tone              string
	objectives        string
	objectionHandling string
	callToAction      string
	createdAt         time.Time
}

func New(tenantID uuid.UUID, version int, opts ...Option) StrategyVersion {
	s := &strategyVersion{
		id:        uuid.New(),
		tenantID:  tenantID,
		version:   version,
		status:    StatusDraft,
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*strategyVersion)

func WithID(id uuid.UUID) Option {
	return func(s *strategyVersion) {
		if id != uuid.Nil {
			s.id = id
		}
	}
}

func WithStatus(status Status) Option {
	return func(s *strategyVersion) {
		if status != "" {
			s.status = status
		}
	}
}

func WithTone(tone string) Option {
	return func(s *strategyVersion) {
		s.tone = tone
	}
}

func WithObjectives(objectives string) Option {
	return func(s *strategyVersion) {
		s.objectives = objectives
	}
}

func WithObjectionHandling(handling string) Option {
	return func(s *strategyVersion) {
		s.objectionHandling = handling
	}
}

func WithCallToAction(cta string) Option {
	return func(s *strategyVersion) {
		s.callToAction = cta
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(s *strategyVersion) {
		if !createdAt.IsZero() {
			s.createdAt = createdAt
		}
	}
}

func (s *strategyVersion) ID() uuid.UUID {
	return s.id
}

func (s *strategyVersion) TenantID() uuid.UUID {
	return s.tenantID
}

func (s *strategyVersion) Version() int {
	return s.version
}

func (s *strategyVersion) Status() Status {
	return s.status
}

func (s *strategyVersion) Tone() string {
	return s.tone
}

func (s *strategyVersion) Objectives() string {
	return s.objectives
}

func (s *strategyVersion) ObjectionHandling() string {
	return s.objectionHandling
}

func (s *strategyVersion) CallToAction() string {
	return s.callToAction
}

func (s *strategyVersion) CreatedAt() time.Time {
	return s.createdAt
}

func (s *strategyVersion) PromptText() string {
	var b strings.Builder
	if s.tone != "" {
		b.WriteString("Tone: " + s.tone + "\n")
	}
	if s.objectives != "" {
		b.WriteString("Objectives: " + s.objectives + "\n")
	}
	if s.objectionHandling != "" {
		b.WriteString("Objection handling: " + s.objectionHandling + "\n")
	}
	if s.callToAction != "" {
		b.WriteString("Call to action: " + s.callToAction + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

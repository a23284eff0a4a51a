package lead

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLeadNotFound = errors.New("lead not found")
)

type Stage string

const (
	StageNew        Stage = "NEW"
	StageContacted  Stage = "CONTACTED"
	StageEngaged    Stage = "ENGAGED"
	StageSuppressed Stage = "SUPPRESSED"
	StageTakeOver   Stage = "TAKE_OVER"
	StageClosedWon  Stage = "CLOSED_WON"
	StageClosedLost Stage = "CLOSED_LOST"
)

// Terminal reports whether the stage excludes the lead from autonomous
// follow-up scheduling.
func (s Stage) Terminal() bool {
	switch s {
	case StageSuppressed, StageTakeOver, StageClosedWon, StageClosedLost:
		return true
	}
	return false
}

type Tag string

const (
	TagStrategyReviewRequired Tag = "STRATEGY_REVIEW_REQUIRED"
	TagDisconnect             Tag = "DISCONNECT"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (Lead, error)
	Create(ctx context.Context, l Lead) (Lead, error)
	Save(ctx context.Context, l Lead) (Lead, error)

	// ScheduleFollowup writes next_followup_at without touching anything else.
	ScheduleFollowup(ctx context.Context, id uuid.UUID, at time.Time) error

	// FindStale returns non-terminal leads across tenants whose
	// next_followup_at is unset or older than cutoff.
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]Lead, error)

	// CountDue reports how many leads are currently due for dispatch.
	CountDue(ctx context.Context, now time.Time) (int, error)

	// ClaimDue atomically selects non-terminal leads with
	// next_followup_at <= now and clears next_followup_at on them, bounded
	// to perTenant rows per tenant and limit rows overall. A claimed lead is
	// invisible to subsequent claims until rescheduled.
	ClaimDue(ctx context.Context, now time.Time, perTenant, limit int) ([]Lead, error)
}

type Lead interface {
	ID() uuid.UUID
	TenantID() uuid.UUID
	AgentID() uuid.UUID
	Name() string
	Phone() string
	Stage() Stage
	Tags() []Tag
	HasTag(tag Tag) bool
	OptedOut() bool
	Timezone() string
	Location() *time.Location
	LastFollowupAt() *time.Time
	NextFollowupAt() *time.Time
	LastInboundAt() *time.Time
	CreatedAt() time.Time
	UpdatedAt() time.Time

	// Engaged reports whether the lead has replied inbound since the last
	// outbound touch.
	Engaged() bool

	MarkContacted(now time.Time) Lead
	MarkInbound(now time.Time) Lead
	WithTag(tag Tag) Lead
	WithNextFollowup(at *time.Time) Lead
}

type leadImpl struct {
	id             uuid.UUID
	tenantID       uuid.UUID
	agentID        uuid.UUID
	name           string
	phone          string
	stage          Stage
	tags           []Tag
	optedOut       bool
	timezone       string
	lastFollowupAt *time.Time
	nextFollowupAt *time.Time
	lastInboundAt  *time.Time
	createdAt      time.Time
	updatedAt      time.Time
}

func New(tenantID, agentID uuid.UUID, name string, opts ...Option) Lead {
	l := &leadImpl{
		id:        uuid.New(),
		tenantID:  tenantID,
		agentID:   agentID,
		name:      name,
		stage:     StageNew,
		createdAt: time.Now(),
		updatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type Option func(*leadImpl)

func WithID(id uuid.UUID) Option {
	return func(l *leadImpl) {
		if id != uuid.Nil {
			l.id = id
		}
	}
}

func WithPhone(phone string) Option {
	return func(l *leadImpl) {
		l.phone = phone
	}
}

func WithStage(stage Stage) Option {
	return func(l *leadImpl) {
		if stage != "" {
			l.stage = stage
		}
	}
}

func WithTags(tags []Tag) Option {
	return func(l *leadImpl) {
		l.tags = tags
	}
}

func WithOptedOut(optedOut bool) Option {
	return func(l *leadImpl) {
		l.optedOut = optedOut
	}
}

func WithTimezone(tz string) Option {
	return func(l *leadImpl) {
		l.timezone = tz
	}
}

func WithLastFollowupAt(at *time.Time) Option {
	return func(l *leadImpl) {
		l.lastFollowupAt = at
	}
}

func WithNextFollowupAt(at *time.Time) Option {
	return func(l *leadImpl) {
		l.nextFollowupAt = at
	}
}

func WithLastInboundAt(at *time.Time) Option {
	return func(l *leadImpl) {
		l.lastInboundAt = at
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(l *leadImpl) {
		if !createdAt.IsZero() {
			l.createdAt = createdAt
		}
	}
}

func WithUpdatedAt(updatedAt time.Time) Option {
	return func(l *leadImpl) {
		if !updatedAt.IsZero() {
			l.updatedAt = updatedAt
		}
	}
}

func (l *leadImpl) ID() uuid.UUID {
	return l.id
}

func (l *leadImpl) TenantID() uuid.UUID {
	return l.tenantID
}

func (l *leadImpl) AgentID() uuid.UUID {
	return l.agentID
}

func (l *leadImpl) Name() string {
	return l.name
}

func (l *leadImpl) Phone() string {
	return l.phone
}

func (l *leadImpl) Stage() Stage {
	return l.stage
}

func (l *leadImpl) Tags() []Tag {
	return l.tags
}

func (l *leadImpl) HasTag(tag Tag) bool {
	for _, t := range l.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (l *leadImpl) OptedOut() bool {
	return l.optedOut
}

func (l *leadImpl) Timezone() string {
	return l.timezone
}

func (l *leadImpl) Location() *time.Location {
	if l.timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(l.timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (l *leadImpl) LastFollowupAt() *time.Time {
	return l.lastFollowupAt
}

func (l *leadImpl) NextFollowupAt() *time.Time {
	return l.nextFollowupAt
}

func (l *leadImpl) LastInboundAt() *time.Time {
	return l.lastInboundAt
}

func (l *leadImpl) CreatedAt() time.Time {
	return l.createdAt
}

func (l *leadImpl) UpdatedAt() time.Time {
	return l.updatedAt
}

func (l *leadImpl) Engaged() bool {
	if l.lastInboundAt == nil {
		return false
	}
	if l.lastFollowupAt == nil {
		return true
	}
	return l.lastInboundAt.After(*l.lastFollowupAt)
}

// MarkContacted stamps the outbound touch. The only stage transition owned
// by the turn pipeline is NEW -> CONTACTED; every other stage change comes
// from outside.
func (l *leadImpl) MarkContacted(now time.Time) Lead {
	l.lastFollowupAt = &now
	if l.stage == StageNew {
		l.stage = StageContacted
	}
	l.updatedAt = now
	return l
}

func (l *leadImpl) MarkInbound(now time.Time) Lead {
	l.lastInboundAt = &now
	l.updatedAt = now
	return l
}

func (l *leadImpl) WithTag(tag Tag) Lead {
	if !l.HasTag(tag) {
		l.tags = append(l.tags, tag)
		l.updatedAt = time.Now()
	}
	return l
}

func (l *leadImpl) WithNextFollowup(at *time.Time) Lead {
	l.nextFollowupAt = at
	l.updatedAt = time.Now()
	return l
}

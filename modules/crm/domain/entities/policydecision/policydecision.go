package policydecision

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Point string

const (
	PointPreSend Point = "PRE_SEND"
	PointPostGen Point = "POST_GEN"
)

type Outcome string

const (
	OutcomePass  Outcome = "PASS"
	OutcomeBlock Outcome = "BLOCK"
)

// Reason codes, in pre-send evaluation order. The first triggered code wins.
const (
	ReasonOptOutSuppression     = "OPT_OUT_SUPPRESSION"
	ReasonHumanTakeoverActive   = "HUMAN_TAKEOVER_ACTIVE"
	ReasonOutboundCap24h        = "OUTBOUND_CAP_24H"
	ReasonQuietHoursActive      = "QUIET_HOURS_ACTIVE"
	ReasonSundayHold            = "SUNDAY_HOLD"
	ReasonStopRuleMaxUnanswered = "STOP_RULE_MAX_UNANSWERED"
	ReasonAllChecksPassed       = "ALL_CHECKS_PASSED"

	ReasonLowConfidenceBlock = "LOW_CONFIDENCE_BLOCK"
	ReasonRiskyContentBlock  = "RISKY_CONTENT_BLOCK"
	ReasonContentAccepted    = "CONTENT_ACCEPTED"
)

// Repository is append-only. Decisions are audit records; they are never
// updated or deleted.
type Repository interface {
	Create(ctx context.Context, d PolicyDecision) (PolicyDecision, error)
	ListByLead(ctx context.Context, leadID uuid.UUID) ([]PolicyDecision, error)
	CountByLeadAndReason(ctx context.Context, leadID uuid.UUID, reason string) (int, error)
}

type PolicyDecision interface {
	ID() uuid.UUID
	TenantID() uuid.UUID
	LeadID() uuid.UUID
	Point() Point
	Outcome() Outcome
	Reason() string
	Draft() string
	CreatedAt() time.Time
}

type decision struct {
	id        uuid.UUID
	tenantID  uuid.UUID
	leadID    uuid.UUID
	point     Point
	outcome   Outcome
	reason    string
	draft     string
	createdAt time.Time
}

func New(tenantID, leadID uuid.UUID, point Point, outcome Outcome, reason string, opts ...Option) PolicyDecision {
	d := &decision{
		id:        uuid.New(),
		tenantID:  tenantID,
		leadID:    leadID,
		point:     point,
		outcome:   outcome,
		reason:    reason,
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type Option func(*decision)

func WithID(id uuid.UUID) Option {
	return func(d *decision) {
		if id != uuid.Nil {
			d.id = id
		}
	}
}

// WithDraft attaches the rejected draft content for human review. Only
// post-gen blocks carry a draft.
func WithDraft(draft string) Option {
	return func(d *decision) {
		d.draft = draft
	}
}

func WithCreatedAt(at time.Time) Option {
	return func(d *decision) {
		if !at.IsZero() {
			d.createdAt = at
		}
	}
}

func (d *decision) ID() uuid.UUID {
	return d.id
}

func (d *decision) TenantID() uuid.UUID {
	return d.tenantID
}

func (d *decision) LeadID() uuid.UUID {
	return d.leadID
}

func (d *decision) Point() Point {
	return d.point
}

func (d *decision) Outcome() Outcome {
	return d.outcome
}

func (d *decision) Reason() string {
	return d.reason
}

func (d *decision) Draft() string {
	return d.draft
}

func (d *decision) CreatedAt() time.Time {
	return d.createdAt
}

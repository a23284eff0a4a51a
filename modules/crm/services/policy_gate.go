package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
)

const (
	defaultOutboundCapWindow = 24 * time.Hour
	defaultQuietHoursStart   = 21
	defaultQuietHoursEnd     = 8
	defaultMaxUnanswered     = 5
)

// TurnSnapshot is the immutable input to the pre-send rules. It is assembled
// once per evaluation; rules never touch repositories.
type TurnSnapshot struct {
	Lead                  lead.Lead
	Workspace             workspace.Workspace
	Now                   time.Time
	LastOutboundAt        *time.Time
	ConsecutiveUnanswered int
}

// DraftSnapshot is the immutable input to the post-generation rules.
type DraftSnapshot struct {
	Content    string
	Confidence float64
}

type presendRule struct {
	reason    string
	triggered func(cfg *PolicyGateConfig, s TurnSnapshot) bool
}

type postgenRule struct {
	reason    string
	triggered func(cfg *PolicyGateConfig, d DraftSnapshot) bool
}

type PolicyGateConfig struct {
	DecisionRepo policydecision.Repository
	LeadRepo     lead.Repository
	ThreadRepo   convthread.Repository

	OutboundCapWindow   time.Duration
	QuietHoursStart     int // local hour, inclusive
	QuietHoursEnd       int // local hour, exclusive
	MaxUnanswered       int
	ConfidenceThreshold float64
	ContentDenylist     []string

	// Clock is injectable so time-window rules are testable.
	Clock func() time.Time
}

func (c *PolicyGateConfig) setDefaults() {
	if c.OutboundCapWindow <= 0 {
		c.OutboundCapWindow = defaultOutboundCapWindow
	}
	if c.QuietHoursStart == 0 && c.QuietHoursEnd == 0 {
		c.QuietHoursStart = defaultQuietHoursStart
		c.QuietHoursEnd = defaultQuietHoursEnd
	}
	if c.MaxUnanswered <= 0 {
		c.MaxUnanswered = defaultMaxUnanswered
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.ContentDenylist == nil {
		c.ContentDenylist = []string{"scam", "spam", "unsolicited"}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// PolicyGateService evaluates compliance rules at two points of a turn:
// pre-send (may the system contact this lead at all) and post-generation
// (may the drafted content be delivered). Rules are a fixed-order list of
// pure predicates over a snapshot; the first triggered rule wins. Every
// evaluation, pass or block, persists exactly one PolicyDecision.
//
// Non-compliance is a normal BLOCK outcome, never an error. The gate errors
// only when required state cannot be read.
type PolicyGateService struct {
	cfg          PolicyGateConfig
	presendRules []presendRule
	postgenRules []postgenRule
}

func NewPolicyGateService(cfg PolicyGateConfig) *PolicyGateService {
	cfg.setDefaults()
	return &PolicyGateService{
		cfg: cfg,
		// Evaluation order is part of the contract: the recorded reason is
		// always the first triggered rule.
		presendRules: []presendRule{
			{policydecision.ReasonOptOutSuppression, ruleOptOutSuppression},
			{policydecision.ReasonHumanTakeoverActive, ruleHumanTakeoverActive},
			{policydecision.ReasonOutboundCap24h, ruleOutboundCap},
			{policydecision.ReasonQuietHoursActive, ruleQuietHours},
			{policydecision.ReasonSundayHold, ruleSundayHold},
			{policydecision.ReasonStopRuleMaxUnanswered, ruleStopMaxUnanswered},
		},
		postgenRules: []postgenRule{
			{policydecision.ReasonLowConfidenceBlock, ruleLowConfidence},
			{policydecision.ReasonRiskyContentBlock, ruleRiskyContent},
		},
	}
}

// CheckPreSend evaluates the pre-send rule list for the lead and persists the
// resulting decision. A BLOCK outcome is returned as a decision, not an error.
func (s *PolicyGateService) CheckPreSend(ctx context.Context, l lead.Lead, w workspace.Workspace) (policydecision.PolicyDecision, error) {
	if l == nil || w == nil {
		return nil, errors.Wrap(ErrDataIntegrity, "pre-send check requires lead and workspace")
	}

	snapshot, err := s.snapshot(ctx, l, w)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build turn snapshot")
	}

	outcome := policydecision.OutcomePass
	reason := policydecision.ReasonAllChecksPassed
	for _, rule := range s.presendRules {
		if rule.triggered(&s.cfg, snapshot) {
			outcome = policydecision.OutcomeBlock
			reason = rule.reason
			break
		}
	}

	decision := policydecision.New(l.TenantID(), l.ID(), policydecision.PointPreSend, outcome, reason)
	decision, err = s.cfg.DecisionRepo.Create(ctx, decision)
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist pre-send decision")
	}
	useTurnMetrics().gateDecisions.WithLabelValues(
		string(decision.Point()), string(decision.Outcome()), decision.Reason(),
	).Inc()
	return decision, nil
}

// CheckPostGen evaluates the drafted reply. A block persists a second,
// independent decision carrying the rejected draft for review and tags the
// lead STRATEGY_REVIEW_REQUIRED; the pre-send PASS already recorded stands.
func (s *PolicyGateService) CheckPostGen(ctx context.Context, l lead.Lead, draft DraftSnapshot) (policydecision.PolicyDecision, error) {
	if l == nil {
		return nil, errors.Wrap(ErrDataIntegrity, "post-gen check requires a lead")
	}

	outcome := policydecision.OutcomePass
	reason := policydecision.ReasonContentAccepted
	for _, rule := range s.postgenRules {
		if rule.triggered(&s.cfg, draft) {
			outcome = policydecision.OutcomeBlock
			reason = rule.reason
			break
		}
	}

	opts := []policydecision.Option{}
	if outcome == policydecision.OutcomeBlock {
		opts = append(opts, policydecision.WithDraft(draft.Content))
	}
	decision := policydecision.New(l.TenantID(), l.ID(), policydecision.PointPostGen, outcome, reason, opts...)
	decision, err := s.cfg.DecisionRepo.Create(ctx, decision)
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist post-gen decision")
	}

	if outcome == policydecision.OutcomeBlock {
		if _, err := s.cfg.LeadRepo.Save(ctx, l.WithTag(lead.TagStrategyReviewRequired)); err != nil {
			return nil, errors.Wrap(err, "failed to tag lead for strategy review")
		}
	}

	useTurnMetrics().gateDecisions.WithLabelValues(
		string(decision.Point()), string(decision.Outcome()), decision.Reason(),
	).Inc()
	return decision, nil
}

func (s *PolicyGateService) snapshot(ctx context.Context, l lead.Lead, w workspace.Workspace) (TurnSnapshot, error) {
	lastOutboundAt, err := s.cfg.ThreadRepo.LastOutboundAt(ctx, l.ID())
	if err != nil {
		return TurnSnapshot{}, errors.Wrap(err, "failed to read last outbound time")
	}
	unanswered, err := s.cfg.ThreadRepo.ConsecutiveUnanswered(ctx, l.ID())
	if err != nil {
		return TurnSnapshot{}, errors.Wrap(err, "failed to count unanswered messages")
	}
	return TurnSnapshot{
		Lead:                  l,
		Workspace:             w,
		Now:                   s.cfg.Clock(),
		LastOutboundAt:        lastOutboundAt,
		ConsecutiveUnanswered: unanswered,
	}, nil
}

func ruleOptOutSuppression(_ *PolicyGateConfig, s TurnSnapshot) bool {
	return s.Lead.OptedOut() || s.Lead.Stage() == lead.StageSuppressed
}

func ruleHumanTakeoverActive(_ *PolicyGateConfig, s TurnSnapshot) bool {
	return s.Lead.Stage() == lead.StageTakeOver
}

func ruleOutboundCap(cfg *PolicyGateConfig, s TurnSnapshot) bool {
	if s.LastOutboundAt == nil {
		return false
	}
	return s.Now.Sub(*s.LastOutboundAt) < cfg.OutboundCapWindow
}

func ruleQuietHours(cfg *PolicyGateConfig, s TurnSnapshot) bool {
	hour := s.Now.In(s.Lead.Location()).Hour()
	if cfg.QuietHoursStart > cfg.QuietHoursEnd {
		// Window wraps midnight, e.g. 21:00-08:00.
		return hour >= cfg.QuietHoursStart || hour < cfg.QuietHoursEnd
	}
	return hour >= cfg.QuietHoursStart && hour < cfg.QuietHoursEnd
}

func ruleSundayHold(_ *PolicyGateConfig, s TurnSnapshot) bool {
	if !s.Workspace.SundayHold() {
		return false
	}
	return s.Now.In(s.Lead.Location()).Weekday() == time.Sunday
}

func ruleStopMaxUnanswered(cfg *PolicyGateConfig, s TurnSnapshot) bool {
	return s.ConsecutiveUnanswered >= cfg.MaxUnanswered
}

func ruleLowConfidence(cfg *PolicyGateConfig, d DraftSnapshot) bool {
	return d.Confidence < cfg.ConfidenceThreshold
}

func ruleRiskyContent(cfg *PolicyGateConfig, d DraftSnapshot) bool {
	content := strings.ToLower(d.Content)
	for _, term := range cfg.ContentDenylist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.Contains(content, term) {
			return true
		}
	}
	return false
}

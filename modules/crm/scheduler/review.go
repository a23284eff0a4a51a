package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
)

// ReviewLoop plans next-contact times. Each pass picks non-terminal leads
// whose next_followup_at is unset or stale and writes now+interval, where the
// interval comes from the workspace follow-up preset and is halved for
// engaged leads. Writing next_followup_at is the loop's only side effect; it
// never contacts anyone.
type ReviewLoop struct {
	leads      lead.Repository
	workspaces workspace.Repository
	state      *State
	opts       ReviewOptions

	m *metrics
}

func NewReviewLoop(leads lead.Repository, workspaces workspace.Repository, state *State, opts ReviewOptions) (*ReviewLoop, error) {
	if leads == nil {
		return nil, errors.New("lead repository is required")
	}
	if workspaces == nil {
		return nil, errors.New("workspace repository is required")
	}
	if state == nil {
		state = NewState()
	}
	opts.setDefaults()
	return &ReviewLoop{
		leads:      leads,
		workspaces: workspaces,
		state:      state,
		opts:       opts,
		m:          getMetrics(),
	}, nil
}

func (l *ReviewLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := l.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			l.m.reviewErrors.Inc()
			l.opts.Logger.WithError(err).Warn("scheduler: review pass failed")
		}
	}
}

// RunOnce executes a single review pass. Per-lead failures are logged and
// skipped; they never abort the pass.
func (l *ReviewLoop) RunOnce(ctx context.Context) error {
	now := l.opts.Clock()
	stale, err := l.leads.FindStale(ctx, now.Add(-l.opts.Cutoff), l.opts.BatchSize)
	if err != nil {
		l.state.recordReview(0, now, true)
		return err
	}

	planned := 0
	for _, ld := range stale {
		w, err := l.workspaces.GetByID(ctx, ld.TenantID())
		if err != nil {
			l.opts.Logger.WithError(err).WithFields(logrus.Fields{
				"lead_id":   ld.ID(),
				"tenant_id": ld.TenantID(),
			}).Warn("scheduler: review skipped lead without workspace")
			continue
		}
		at := now.Add(FollowupInterval(w, ld))
		if err := l.leads.ScheduleFollowup(ctx, ld.ID(), at); err != nil {
			l.opts.Logger.WithError(err).WithField("lead_id", ld.ID()).Warn("scheduler: failed to schedule follow-up")
			continue
		}
		planned++
	}

	l.m.reviewTotal.Add(float64(planned))
	l.state.recordReview(planned, now, false)
	return nil
}

// FollowupInterval is the preset interval, halved when the lead has replied
// since the last outbound touch.
func FollowupInterval(w workspace.Workspace, ld lead.Lead) time.Duration {
	interval := w.FollowupPreset().Interval()
	if ld.Engaged() {
		interval /= 2
	}
	return interval
}

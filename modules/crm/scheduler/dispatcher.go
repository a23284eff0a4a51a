package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/services"
	"github.com/leadloop/leadloop/pkg/composables"
)

// TurnRunner is the orchestrator surface the dispatcher needs.
type TurnRunner interface {
	RunTurn(ctx context.Context, leadID, workspaceID uuid.UUID, userMessage string) (services.TurnResult, error)
}

// Dispatcher executes due follow-ups. Each pass atomically claims due leads
// (the claim clears next_followup_at, so an immediate second pass re-selects
// nothing), interleaves them fairly across tenants and runs one turn per
// lead. A failing or blocked lead never aborts the rest of the pass; the
// review loop replans anything the claim consumed.
type Dispatcher struct {
	leads  lead.Repository
	runner TurnRunner
	state  *State
	opts   DispatchOptions

	m *metrics
}

func NewDispatcher(leads lead.Repository, runner TurnRunner, state *State, opts DispatchOptions) (*Dispatcher, error) {
	if leads == nil {
		return nil, errors.New("lead repository is required")
	}
	if runner == nil {
		return nil, errors.New("turn runner is required")
	}
	if state == nil {
		state = NewState()
	}
	opts.setDefaults()
	return &Dispatcher{
		leads:  leads,
		runner: runner,
		state:  state,
		opts:   opts,
		m:      getMetrics(),
	}, nil
}

func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := d.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			d.m.dispatchError.Inc()
			d.opts.Logger.WithError(err).Warn("scheduler: dispatch pass failed")
		}
	}
}

// RunOnce executes a single dispatch pass.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	now := d.opts.Clock()

	if pending, err := d.leads.CountDue(ctx, now); err == nil {
		d.m.duePending.Set(float64(pending))
	}

	claimed, err := d.leads.ClaimDue(ctx, now, d.opts.PerTenantBatch, d.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		d.state.recordDispatch(0, 0, 0, now)
		return nil
	}

	var sent, blocked, failed int
	for _, ld := range interleaveByTenant(claimed) {
		logger := d.opts.Logger.WithFields(logrus.Fields{
			"lead_id":   ld.ID(),
			"tenant_id": ld.TenantID(),
		})
		leadCtx := composables.WithLogger(composables.WithTenantID(ctx, ld.TenantID()), logger)

		start := time.Now()
		result, err := d.runner.RunTurn(leadCtx, ld.ID(), ld.TenantID(), "")
		d.m.dispatchLatency.Observe(time.Since(start).Seconds())

		switch {
		case err != nil:
			failed++
			d.m.dispatchTotal.WithLabelValues("error").Inc()
			logger.WithError(err).Warn("scheduler: turn failed")
		case result.Status == services.TurnStatusBlocked:
			blocked++
			d.m.dispatchTotal.WithLabelValues("blocked").Inc()
			logger.WithField("reason", result.Reason).Info("scheduler: turn blocked")
		default:
			sent++
			d.m.dispatchTotal.WithLabelValues("sent").Inc()
		}
	}

	d.state.recordDispatch(sent, blocked, failed, now)
	return nil
}

// interleaveByTenant reorders a claim round-robin across tenants, preserving
// claim order within each tenant.
func interleaveByTenant(claimed []lead.Lead) []lead.Lead {
	queues := make(map[uuid.UUID][]lead.Lead)
	var tenants []uuid.UUID
	for _, ld := range claimed {
		if _, seen := queues[ld.TenantID()]; !seen {
			tenants = append(tenants, ld.TenantID())
		}
		queues[ld.TenantID()] = append(queues[ld.TenantID()], ld)
	}

	out := make([]lead.Lead, 0, len(claimed))
	for len(out) < len(claimed) {
		for _, tenant := range tenants {
			queue := queues[tenant]
			if len(queue) == 0 {
				continue
			}
			out = append(out, queue[0])
			queues[tenant] = queue[1:]
		}
	}
	return out
}

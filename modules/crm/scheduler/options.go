package scheduler

import (
	"time"

	"github.com/sirupsen/logrus"
)

type ReviewOptions struct {
	PollInterval time.Duration
	// Cutoff is the staleness horizon: a set next_followup_at older than
	// now-Cutoff is replanned.
	Cutoff    time.Duration
	BatchSize int

	Logger *logrus.Entry
	Clock  func() time.Time
}

func (o *ReviewOptions) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Minute
	}
	if o.Cutoff == 0 {
		o.Cutoff = 24 * time.Hour
	}
	if o.BatchSize == 0 {
		o.BatchSize = 200
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type DispatchOptions struct {
	PollInterval time.Duration
	// PerTenantBatch bounds how many leads one tenant may occupy in a single
	// pass so tenants with deep queues cannot starve the rest.
	PerTenantBatch int
	BatchSize      int

	Logger *logrus.Entry
	Clock  func() time.Time
}

func (o *DispatchOptions) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PerTenantBatch == 0 {
		o.PerTenantBatch = 10
	}
	if o.BatchSize == 0 {
		o.BatchSize = 50
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

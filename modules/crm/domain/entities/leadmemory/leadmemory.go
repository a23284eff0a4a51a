package leadmemory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMemoryNotFound = errors.New("lead memory not found")
)

// Repository persists one memory per lead. Put overwrites; memory is a
// snapshot, never an append log.
type Repository interface {
	GetByLeadID(ctx context.Context, leadID uuid.UUID) (LeadMemory, error)
	Put(ctx context.Context, m LeadMemory) (LeadMemory, error)
}

type LeadMemory interface {
	LeadID() uuid.UUID
	TenantID() uuid.UUID
	Summary() string
	Facts() []string
	LastUpdatedAt() time.Time
}

type leadMemory struct {
	leadID        uuid.UUID
	tenantID      uuid.UUID
	summary       string
	facts         []string
	lastUpdatedAt time.Time
}

func New(tenantID, leadID uuid.UUID, summary string, facts []string, opts ...Option) LeadMemory {
	m := &leadMemory{
		leadID:        leadID,
		tenantID:      tenantID,
		summary:       summary,
		facts:         facts,
		lastUpdatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type Option func(*leadMemory)

func WithLastUpdatedAt(at time.Time) Option {
	return func(m *leadMemory) {
		if !at.IsZero() {
			m.lastUpdatedAt = at
		}
	}
}

func (m *leadMemory) LeadID() uuid.UUID {
	return m.leadID
}

func (m *leadMemory) TenantID() uuid.UUID {
	return m.tenantID
}

func (m *leadMemory) Summary() string {
	return m.summary
}

func (m *leadMemory) Facts() []string {
	return m.facts
}

func (m *leadMemory) LastUpdatedAt() time.Time {
	return m.lastUpdatedAt
}

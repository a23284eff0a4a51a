package knowledge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is a read-only lookup of knowledge documents, scoped to the tenant
// in context and an agent.
type Store interface {
	ListByAgent(ctx context.Context, agentID uuid.UUID) ([]Doc, error)
}

type Doc interface {
	ID() uuid.UUID
	TenantID() uuid.UUID
	AgentID() uuid.UUID
	Title() string
	Content() string
	CreatedAt() time.Time
}

type doc struct {
	id        uuid.UUID
	tenantID  uuid.UUID
	agentID   uuid.UUID
	title     string
	content   string
	createdAt time.Time
}

func NewDoc(tenantID, agentID uuid.UUID, title, content string, opts ...DocOption) Doc {
	d := &doc{
		id:        uuid.New(),
		tenantID:  tenantID,
		agentID:   agentID,
		title:     title,
		content:   content,
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type DocOption func(*doc)

func WithID(id uuid.UUID) DocOption {
	return func(d *doc) {
		if id != uuid.Nil {
			d.id = id
		}
	}
}

func WithCreatedAt(at time.Time) DocOption {
	return func(d *doc) {
		if !at.IsZero() {
			d.createdAt = at
		}
	}
}

func (d *doc) ID() uuid.UUID        { return d.id }
func (d *doc) TenantID() uuid.UUID  { return d.tenantID }
func (d *doc) AgentID() uuid.UUID   { return d.agentID }
func (d *doc) Title() string        { return d.title }
func (d *doc) Content() string      { return d.content }
func (d *doc) CreatedAt() time.Time { return d.createdAt }

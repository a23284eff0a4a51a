package convthread

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrThreadNotFound = errors.New("conversation thread not found")
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
	ErrInvalidRole    = errors.New("invalid role")
)

const (
	MaxMessageLength = 4096
	MaxMessages      = 500
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Repository stores the ordered, append-only message history per lead.
// Append joins the transaction carried in ctx, so a thread append and a
// lead update commit or fail together.
type Repository interface {
	GetByLeadID(ctx context.Context, leadID uuid.UUID) (ConversationThread, error)
	Append(ctx context.Context, leadID uuid.UUID, msg Message) error
	LastMessages(ctx context.Context, leadID uuid.UUID, n int) ([]Message, error)
	LastOutboundAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error)

	// ConsecutiveUnanswered counts outbound (model) messages sent since the
	// lead's last inbound message.
	ConsecutiveUnanswered(ctx context.Context, leadID uuid.UUID) (int, error)
}

type ConversationThread interface {
	LeadID() uuid.UUID
	TenantID() uuid.UUID
	Messages() []Message
	AppendMessage(msg Message) ConversationThread
}

type conversationThread struct {
	leadID   uuid.UUID
	tenantID uuid.UUID
	messages []Message
}

func New(tenantID, leadID uuid.UUID, opts ...Option) ConversationThread {
	t := &conversationThread{
		leadID:   leadID,
		tenantID: tenantID,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type Option func(*conversationThread)

func WithMessages(messages []Message) Option {
	return func(t *conversationThread) {
		t.messages = messages
	}
}

func (t *conversationThread) LeadID() uuid.UUID {
	return t.leadID
}

func (t *conversationThread) TenantID() uuid.UUID {
	return t.tenantID
}

func (t *conversationThread) Messages() []Message {
	return t.messages
}

func (t *conversationThread) AppendMessage(msg Message) ConversationThread {
	if msg == nil {
		return t
	}
	t.messages = append(t.messages, msg)
	if len(t.messages) > MaxMessages {
		t.messages = t.messages[len(t.messages)-MaxMessages:]
	}
	return t
}

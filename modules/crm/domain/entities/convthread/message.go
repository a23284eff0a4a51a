package convthread

import (
	"time"
)

type Message interface {
	Role() Role
	Content() string
	CreatedAt() time.Time
}

type message struct {
	role      Role
	content   string
	createdAt time.Time
}

func NewMessage(role Role, content string, createdAt time.Time) (Message, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	switch role {
	case RoleUser, RoleModel, RoleTool:
	default:
		return nil, ErrInvalidRole
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &message{
		role:      role,
		content:   content,
		createdAt: createdAt,
	}, nil
}

func MustNewMessage(role Role, content string, createdAt time.Time) Message {
	msg, err := NewMessage(role, content, createdAt)
	if err != nil {
		panic(err)
	}
	return msg
}

func (m *message) Role() Role {
	return m.role
}

func (m *message) Content() string {
	return m.content
}

func (m *message) CreatedAt() time.Time {
	return m.createdAt
}

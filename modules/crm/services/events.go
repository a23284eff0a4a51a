package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
)

type TurnCompletedEvent struct {
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	Content   string
	Usage     llm.Usage
	Timestamp time.Time
}

type TurnBlockedEvent struct {
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	Point     policydecision.Point
	Reason    string
	Timestamp time.Time
}

package models

import (
	"database/sql"
	"time"
)

type Lead struct {
	ID             string
	TenantID       string
	AgentID        string
	Name           string
	Phone          sql.NullString
	Stage          string
	Tags           []string
	OptedOut       bool
	Timezone       sql.NullString
	LastFollowupAt sql.NullTime
	NextFollowupAt sql.NullTime
	LastInboundAt  sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Workspace struct {
	ID             string
	Name           string
	BudgetTier     string
	FollowupPreset string
	SundayHold     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type StrategyVersion struct {
	ID                string
	TenantID          string
	Version           int
	Status            string
	Tone              string
	Objectives        string
	ObjectionHandling string
	CallToAction      string
	CreatedAt         time.Time
}

type LeadMemory struct {
	LeadID        string
	TenantID      string
	Summary       string
	Facts         []string
	LastUpdatedAt time.Time
}

type PolicyDecision struct {
	ID        string
	TenantID  string
	LeadID    string
	Point     string
	Outcome   string
	Reason    string
	Draft     sql.NullString
	CreatedAt time.Time
}

type Message struct {
	ID        int64
	TenantID  string
	LeadID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

type KnowledgeDoc struct {
	ID        string
	TenantID  string
	AgentID   string
	Title     string
	Content   string
	CreatedAt time.Time
}

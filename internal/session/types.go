// Package session persists conversation sessions and their ordered turns.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session status values.
const (
	StatusActive = "active"
	StatusIdle   = "idle"
	StatusClosed = "closed"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is one conversation between an owner and their companion.
type Session struct {
	ID           uuid.UUID
	OwnerID      string
	Status       string
	Title        string
	TurnCount    int32
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActivity time.Time
}

// Turn is a single utterance within a session. Seq is assigned by the
// store and is contiguous per session starting at 1.
type Turn struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	Seq        int32
	Role       string
	Content    string
	AudioRef   string
	Provenance []string
	PeriodKey  string
	CreatedAt  time.Time
}

// TurnInput is a turn to append. Seq and timestamps are assigned by the store.
type TurnInput struct {
	Role       string
	Content    string
	AudioRef   string
	Provenance []string
	PeriodKey  string
}

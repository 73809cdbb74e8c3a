// Package timeline records member activity consumed from the events topic.
package timeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType names a timeline entry kind.
type EventType string

const (
	EventTypeRegister EventType = "register"
	EventTypeVote     EventType = "vote"
	EventTypeProposal EventType = "proposal"
	EventTypeInvite   EventType = "invite"
	EventTypeBinding  EventType = "binding"
)

var (
	ErrSubjectRequired   = errors.New("timeline event subject is required")
	ErrEventTypeRequired = errors.New("timeline event type is required")
)

// Event is the payload published on the events topic.
type Event struct {
	SubjectID string    `json:"lamport_id"`
	EventType EventType `json:"event_type"`
	Content   string    `json:"content"`
}

// Validate rejects payloads the writer could never store.
func (e *Event) Validate() error {
	if e.SubjectID == "" {
		return ErrSubjectRequired
	}
	if e.EventType == "" {
		return ErrEventTypeRequired
	}
	return nil
}

// Record is a stored timeline entry.
type Record struct {
	EventID   uuid.UUID `json:"event_id"`
	SubjectID string    `json:"lamport_id"`
	EventType EventType `json:"event_type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Page bounds list queries. Limit <= 0 means DefaultLimit.
type Page struct {
	Offset int
	Limit  int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

func (p Page) normalized() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

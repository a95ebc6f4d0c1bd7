package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

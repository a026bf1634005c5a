package bus

import (
	"time"

	"github.com/google/uuid"
)

// Payload is implemented by every concrete event body. The bus routes on
// EventType and never inspects the payload itself.
type Payload interface {
	EventType() string
}

// Metadata identifies a single event. EventID is unique per event;
// CorrelationID is shared by every event derived from one business action.
type Metadata struct {
	EventID        uuid.UUID `json:"event_id"`
	Type           string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	CorrelationID  uuid.UUID `json:"correlation_id"`
	UserID         string    `json:"user_id,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Source         string    `json:"source"`
	SchemaVersion  int       `json:"schema_version"`
}

// Event is the immutable envelope published on the bus.
type Event struct {
	Metadata Metadata `json:"metadata"`
	Payload  Payload  `json:"payload"`
}

// Handler processes one event. Errors are captured and logged by the
// dispatcher; they never reach the publisher or abort sibling handlers.
//
// A handler must not call Publish synchronously: the dispatch worker waits
// for every handler of the current event to return, so a re-entrant Publish
// blocks forever once the queue is full.
type Handler func(evt Event) error

// Middleware runs before an event is recorded or dispatched. It may return
// a transformed copy of the event, or an error to reject it.
type Middleware func(evt Event) (Event, error)

// Package pubsub provides the generic publish/subscribe plumbing behind
// tab-store change notifications and the log feed.
package pubsub

import "time"

// EventType classifies a published event.
type EventType string

const (
	// CreatedEvent marks a newly appended item, such as a log line.
	CreatedEvent EventType = "created"
	// UpdatedEvent marks a mutation of existing state, such as a tab change.
	UpdatedEvent EventType = "updated"
)

// Event is a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

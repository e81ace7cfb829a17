package racetimer

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of race timer event
type EventType string

const (
	EventTypeTimerUpdate EventType = "race-timer-update"
	EventTypeTimerFault  EventType = "race-timer-fault"
)

// Event is what the Ticker hands to publishers once per tick.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewUpdateEvent wraps a snapshot taken at the given time.
func NewUpdateEvent(snap Snapshot, at time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      EventTypeTimerUpdate,
		Timestamp: at,
		Snapshot:  &snap,
	}
}

// NewFaultEvent signals that the engine is no longer usable.
func NewFaultEvent(err error, at time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      EventTypeTimerFault,
		Timestamp: at,
		Error:     err.Error(),
	}
}

// Publisher receives tick events. Implementations must not block: a slow or
// absent listener drops the event.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(event Event)

func (f PublisherFunc) Publish(event Event) { f(event) }

// MultiPublisher fans an event out to every publisher in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(event Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(event)
		}
	}
}

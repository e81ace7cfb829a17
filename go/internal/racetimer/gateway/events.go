package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/roadbook/go/internal/racetimer"
)

// TimerEvent is the wire envelope pushed to WebSocket clients
type TimerEvent struct {
	ID        string              `json:"id"`
	Type      racetimer.EventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Data      json.RawMessage     `json:"data"`
}

// FaultPayload is the data of a race-timer-fault event
type FaultPayload struct {
	Error string `json:"error"`
}

// NewTimerEvent converts a ticker event to its WebSocket form. Update events
// carry the snapshot as data, fault events carry a FaultPayload.
func NewTimerEvent(event racetimer.Event) (*TimerEvent, error) {
	var (
		data []byte
		err  error
	)
	if event.Snapshot != nil {
		data, err = json.Marshal(event.Snapshot)
	} else {
		data, err = json.Marshal(FaultPayload{Error: event.Error})
	}
	if err != nil {
		return nil, err
	}

	return &TimerEvent{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Data:      data,
	}, nil
}

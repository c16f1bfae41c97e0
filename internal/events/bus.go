// Package events buffers engine lifecycle and dictation events for
// incremental consumption by the UI layer.
package events

import (
	"sync"
	"time"

	"local-dictation/internal/domain"
)

// EventType classifies messages emitted by the engine orchestration.
type EventType string

const (
	EventTypeEngineStatus EventType = "engine_status"
	EventTypeTranscript   EventType = "transcript"
	EventTypeModels       EventType = "models"
	EventTypeError        EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64              `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	Type      EventType          `json:"type"`
	Engine    domain.EngineKind  `json:"engine,omitempty"`
	State     domain.EngineState `json:"state,omitempty"`
	Message   string             `json:"message,omitempty"`
	Text      string             `json:"text,omitempty"`
}

// Bus stores recent events and provides incremental reads.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

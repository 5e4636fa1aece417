// Package memory implements the event log and position store in process
// memory. It backs the dry-run storage mode and the engine's tests; it makes
// no durability promises.
package memory

import (
	"context"
	"sync"
	"time"

	"positionengine/internal/domain"
)

// EventLog is an in-memory append-only event log. Sequence assignment and the
// append itself share one short critical section.
type EventLog struct {
	mu     sync.Mutex
	events []domain.Event
	nextID int64
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{nextID: 1}
}

// Append assigns the next event id and recorded_at timestamp and stores the
// event.
func (l *EventLog) Append(_ context.Context, ev domain.Event) (domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.ID = l.nextID
	l.nextID++
	ev.RecordedAt = time.Now().UTC()
	l.events = append(l.events, ev)
	return ev, nil
}

// Replay returns all events for one position in event id order.
func (l *EventLog) Replay(_ context.Context, positionID string) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Event
	for _, ev := range l.events {
		if ev.PositionID == positionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ReplayAll returns every event in event id order.
func (l *EventLog) ReplayAll(_ context.Context) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Event, len(l.events))
	copy(out, l.events)
	return out, nil
}

// ReplayRange returns up to limit events with id >= fromID.
func (l *EventLog) ReplayRange(_ context.Context, fromID int64, limit int) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Event
	for _, ev := range l.events {
		if ev.ID < fromID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LastSequence returns the highest assigned event id, or 0 when empty.
func (l *EventLog) LastSequence(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == 0 {
		return 0, nil
	}
	return l.events[len(l.events)-1].ID, nil
}

var _ domain.EventLog = (*EventLog)(nil)

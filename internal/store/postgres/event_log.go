package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"positionengine/internal/domain"
)

// EventLog implements domain.EventLog on the position_events table. The
// BIGSERIAL event_id keeps sequence assignment inside the database, so the
// only global critical section is the sequence fetch; inserts for unrelated
// positions run on separate pool connections without blocking each other.
// A returned Append is durable: the single-statement insert commits before
// RETURNING produces a row.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates an EventLog backed by the given connection pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

const eventSelectCols = `event_id, position_id, event_type, payload, recorded_at`

// Append persists the event and returns it with event_id and recorded_at
// assigned by the database.
func (l *EventLog) Append(ctx context.Context, ev domain.Event) (domain.Event, error) {
	const query = `
		INSERT INTO position_events (position_id, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING event_id, recorded_at`

	row := l.pool.QueryRow(ctx, query, ev.PositionID, string(ev.Type), []byte(ev.Payload))
	if err := row.Scan(&ev.ID, &ev.RecordedAt); err != nil {
		return domain.Event{}, fmt.Errorf("postgres: append %s for %s: %w", ev.Type, ev.PositionID, err)
	}
	return ev, nil
}

// Replay returns all events for one position in event id order.
func (l *EventLog) Replay(ctx context.Context, positionID string) ([]domain.Event, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM position_events
		 WHERE position_id = $1 ORDER BY event_id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: replay %s: %w", positionID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReplayAll returns every event in event id order.
func (l *EventLog) ReplayAll(ctx context.Context) ([]domain.Event, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM position_events ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: replay all: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReplayRange returns up to limit events with event_id >= fromID.
func (l *EventLog) ReplayRange(ctx context.Context, fromID int64, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM position_events
		WHERE event_id >= $1 ORDER BY event_id`
	args := []any{fromID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: replay range from %d: %w", fromID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastSequence returns the highest assigned event id, or 0 when the log is
// empty.
func (l *EventLog) LastSequence(ctx context.Context) (int64, error) {
	var last int64
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(event_id), 0) FROM position_events`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("postgres: last sequence: %w", err)
	}
	return last, nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var typ string
		var payload []byte

		if err := rows.Scan(&ev.ID, &ev.PositionID, &typ, &payload, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

var _ domain.EventLog = (*EventLog)(nil)

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"positionengine/internal/domain"
)

// RebuildStore drops the materialized position view and reconstructs it from
// a full replay of the event log. The result is identical no matter how many
// times it runs: the fold is deterministic and replay order is fixed by event
// id. This is the crash-recovery path and the reason the position table can
// be treated as a disposable cache.
func RebuildStore(ctx context.Context, log domain.EventLog, store domain.PositionStore, logger *slog.Logger) error {
	events, err := log.ReplayAll(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: replay all: %w", err)
	}

	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("rebuild: reset store: %w", err)
	}

	for _, ev := range events {
		if _, err := store.ApplyEvent(ctx, ev); err != nil {
			return fmt.Errorf("rebuild: apply event %d (%s for %s): %w",
				ev.ID, ev.Type, ev.PositionID, err)
		}
	}

	logger.InfoContext(ctx, "position store rebuilt from event log",
		slog.Int("events", len(events)),
	)
	return nil
}

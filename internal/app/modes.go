package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"positionengine/internal/engine"
	"positionengine/internal/reconcile"
	"positionengine/internal/server"
	"positionengine/internal/server/handler"
	"positionengine/internal/server/ws"
)

// ServeMode runs the full engine: a mandatory startup reconciliation pass,
// the periodic reconciliation loop, the HTTP + WebSocket API, and optionally
// the event log archival loop.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	rec := a.newReconciler(deps)

	// Startup reconciliation is not optional: serving position state that has
	// not been checked against the exchange would hand agents stale truth.
	report, err := rec.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("serve mode: startup reconciliation: %w", err)
	}
	a.logger.InfoContext(ctx, "startup reconciliation complete",
		slog.Int("remote", report.Remote),
		slog.Int("local", report.Local),
		slog.Int("matched", report.Matched),
		slog.Int("adjusted", report.Adjusted),
		slog.Int("closed", report.Closed),
		slog.Int("orphaned", report.Orphaned),
		slog.Int("recorded", report.Recorded),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Periodic reconciliation.
	g.Go(func() error {
		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("serve mode: reconcile loop: %w", err)
		}
		return nil
	})

	// WebSocket hub bridging position change signals to dashboards.
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Channel:   engine.PositionsChannel,
		Stream:    engine.PositionsStream,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// HTTP server.
	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.ApiKey,
		RequestsPerSecond: float64(a.cfg.Server.RequestsPerSecond),
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Service, a.cfg.Mode, a.logger),
		Positions: handler.NewPositionHandler(deps.Service, a.logger),
		Reconcile: handler.NewReconcileHandler(rec, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	// Periodic event log archival.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			a.runArchiveLoop(ctx, deps)
			return nil
		})
	}

	return g.Wait()
}

// ReconcileMode runs a single reconciliation pass and exits. Intended for
// cron-style invocation and operator runbooks.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	report, err := a.newReconciler(deps).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}

	a.logger.InfoContext(ctx, "reconciliation complete",
		slog.Int("remote", report.Remote),
		slog.Int("local", report.Local),
		slog.Int("matched", report.Matched),
		slog.Int("adjusted", report.Adjusted),
		slog.Int("closed", report.Closed),
		slog.Int("orphaned", report.Orphaned),
		slog.Int("recorded", report.Recorded),
		slog.Duration("took", report.Took),
	)
	return nil
}

// RebuildMode drops the materialized position store and reconstructs it from
// a full event log replay, then exits.
func (a *App) RebuildMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rebuild mode")

	if err := engine.RebuildStore(ctx, deps.EventLog, deps.PositionStore, a.logger); err != nil {
		return fmt.Errorf("rebuild mode: %w", err)
	}
	return nil
}

// ArchiveMode exports the whole event log to object storage as JSONL segments
// and exits. Re-running is idempotent: segment paths are derived from event id
// ranges, so unchanged ranges overwrite themselves with identical content.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	next, err := deps.Archiver.ArchiveEvents(ctx, 1)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("next_event_id", next))
	return nil
}

// newReconciler builds the reconciliation engine from wired dependencies.
func (a *App) newReconciler(deps *Dependencies) *reconcile.Reconciler {
	return reconcile.New(
		deps.Service,
		deps.Exchange,
		deps.Prices,
		reconcile.Config{
			Interval:        a.cfg.Reconcile.Interval.Duration,
			AmountTolerance: a.cfg.AmountToleranceDecimal(),
		},
		deps.Notifier,
		a.logger,
	)
}

// runArchiveLoop periodically exports new event log segments. The resume
// token lives in memory; after a restart the first pass re-uploads existing
// segments, which is harmless because uploads are idempotent.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}

	var resume int64 = 1
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next, err := deps.Archiver.ArchiveEvents(ctx, resume)
			if err != nil {
				a.logger.ErrorContext(ctx, "event log archival failed",
					slog.Int64("resume", resume),
					slog.String("error", err.Error()),
				)
				continue
			}
			resume = next
		}
	}
}

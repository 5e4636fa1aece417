// Package reconcile closes the gap between the local position store and the
// exchange's view of the account. It runs once at startup, before the engine
// accepts agent calls, and on a fixed interval afterwards. All corrections go
// through the position service; the reconciler never writes to storage
// directly.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"positionengine/internal/domain"
)

// Service is the slice of the position service the reconciler uses.
type Service interface {
	List(ctx context.Context, f domain.Filter) ([]domain.Position, error)
	Adjust(ctx context.Context, id string, delta decimal.Decimal, reason string) (domain.Position, error)
	CloseAt(ctx context.Context, id string, realizedPnL, exitPrice decimal.Decimal, reason string) (domain.Position, error)
	MarkOrphaned(ctx context.Context, id, reason string) (domain.Position, error)
	RecordRemote(ctx context.Context, remote domain.RemotePosition, entryPrice decimal.Decimal) (domain.Position, error)
}

// Notifier receives best-effort cycle failure alerts. A failed cycle means
// local state is unverified, so delivery bypasses the operator's event
// filter; notify.Notifier's NotifyAll satisfies it.
type Notifier interface {
	NotifyAll(ctx context.Context, title, message string) error
}

// Config tunes the reconciliation policy. Both values are operator decisions;
// the engine has no safe defaults to assume for money.
type Config struct {
	// Interval between periodic passes.
	Interval time.Duration
	// AmountTolerance is the largest local/remote amount difference still
	// treated as matched.
	AmountTolerance decimal.Decimal
}

// Report summarizes one reconciliation pass. A converged pass emits zero
// corrective events, so running twice against unchanged remote state reports
// only matches the second time.
type Report struct {
	Remote    int
	Local     int
	Matched   int
	Adjusted  int
	Closed    int
	Orphaned  int
	Recorded  int
	StartedAt time.Time
	Took      time.Duration
}

// Reconciler diffs local derived state against exchange ground truth.
// Tie-break policy: remote wins for quantity and existence, local wins for
// strategy metadata, which the exchange has no concept of.
type Reconciler struct {
	svc      Service
	exchange domain.ExchangeAdapter
	prices   domain.PriceSource
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
}

// New creates a Reconciler. notifier may be nil.
func New(svc Service, exchange domain.ExchangeAdapter, prices domain.PriceSource, cfg Config, notifier Notifier, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reconciler{
		svc:      svc,
		exchange: exchange,
		prices:   prices,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Run executes one pass immediately, then one per interval until the context
// is cancelled. A failed cycle is logged and retried at the next interval,
// never immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	if _, err := r.RunOnce(ctx); err != nil {
		r.cycleFailed(ctx, err)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.cycleFailed(ctx, err)
			}
		}
	}
}

type exposureKey struct {
	symbol string
	side   domain.Side
}

// RunOnce performs a single reconciliation pass. The remote snapshot is
// fetched before any position lock is taken; corrections then go through the
// service's normal locked path one position at a time.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	report := Report{StartedAt: time.Now().UTC()}

	remote, err := r.exchange.FetchOpenPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile: fetch remote positions: %w", err)
	}
	report.Remote = len(remote)

	local, err := r.svc.List(ctx, domain.Filter{
		Statuses: []domain.PositionStatus{domain.PositionStatusOpen, domain.PositionStatusClosing},
	})
	if err != nil {
		return report, fmt.Errorf("reconcile: list local positions: %w", err)
	}
	report.Local = len(local)

	orphans, err := r.svc.List(ctx, domain.Filter{
		Statuses: []domain.PositionStatus{domain.PositionStatusOrphaned},
	})
	if err != nil {
		return report, fmt.Errorf("reconcile: list orphans: %w", err)
	}

	remoteByKey := make(map[exposureKey]decimal.Decimal)
	for _, rp := range remote {
		k := exposureKey{rp.Symbol, rp.Side}
		remoteByKey[k] = remoteByKey[k].Add(rp.Amount)
	}

	localByKey := make(map[exposureKey][]domain.Position)
	for _, p := range local {
		k := exposureKey{p.Symbol, p.Side}
		localByKey[k] = append(localByKey[k], p)
	}

	orphanKeys := make(map[exposureKey]bool)
	for _, p := range orphans {
		orphanKeys[exposureKey{p.Symbol, p.Side}] = true
	}

	// Deterministic pass order keeps logs and tests stable.
	for _, k := range sortedKeys(remoteByKey) {
		remoteAmount := remoteByKey[k]
		group, ok := localByKey[k]
		if !ok {
			// Remote-only. Skip exposure already surfaced as an orphan, or a
			// second pass would duplicate it forever.
			if orphanKeys[k] {
				report.Matched++
				continue
			}
			if err := r.recordRemoteOnly(ctx, k, remoteAmount, &report); err != nil {
				return report, err
			}
			continue
		}

		localSum := decimal.Zero
		for _, p := range group {
			localSum = localSum.Add(p.Amount)
		}

		drift := remoteAmount.Sub(localSum)
		if drift.Abs().Cmp(r.cfg.AmountTolerance) <= 0 {
			report.Matched += len(group)
			continue
		}
		if err := r.correctDrift(ctx, k, group, drift, &report); err != nil {
			return report, err
		}
	}

	for _, k := range sortedGroupKeys(localByKey) {
		if _, ok := remoteByKey[k]; ok {
			continue
		}
		// Local-only: closed externally or never filled.
		for _, p := range localByKey[k] {
			if err := r.closeLocalOnly(ctx, p, &report); err != nil {
				return report, err
			}
		}
	}

	report.Took = time.Since(report.StartedAt)
	r.logger.InfoContext(ctx, "reconciliation pass complete",
		slog.Int("remote", report.Remote),
		slog.Int("local", report.Local),
		slog.Int("matched", report.Matched),
		slog.Int("adjusted", report.Adjusted),
		slog.Int("closed", report.Closed),
		slog.Int("orphaned", report.Orphaned),
		slog.Int("recorded", report.Recorded),
		slog.Duration("took", report.Took),
	)
	return report, nil
}

// correctDrift brings local quantity in line with the exchange. The delta is
// applied to the largest position of the group so the correction stays a
// single event.
func (r *Reconciler) correctDrift(ctx context.Context, k exposureKey, group []domain.Position, drift decimal.Decimal, report *Report) error {
	sort.Slice(group, func(i, j int) bool {
		return group[i].Amount.GreaterThan(group[j].Amount)
	})
	target := group[0]

	_, err := r.svc.Adjust(ctx, target.ID, drift, "reconciliation: exchange reports different quantity")
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The correction would zero out or invert the position; no single
			// adjustment can represent it. Surface instead of guessing.
			if _, markErr := r.svc.MarkOrphaned(ctx, target.ID,
				fmt.Sprintf("amount drift %s exceeds position size", drift)); markErr != nil {
				return fmt.Errorf("reconcile: orphan %s after unresolvable drift: %w", target.ID, markErr)
			}
			report.Orphaned++
			r.logger.WarnContext(ctx, "drift beyond correction, position orphaned",
				slog.String("position_id", target.ID),
				slog.String("symbol", k.symbol),
				slog.String("drift", drift.String()),
			)
			return nil
		}
		return fmt.Errorf("reconcile: adjust %s: %w", target.ID, err)
	}

	report.Adjusted++
	report.Matched += len(group) - 1
	return nil
}

// closeLocalOnly settles a position the exchange no longer reports. PnL comes
// from the best-available mark price; without one the engine refuses to
// invent a number and orphans the position instead.
func (r *Reconciler) closeLocalOnly(ctx context.Context, p domain.Position, report *Report) error {
	price, _, err := r.prices.MarkPrice(ctx, p.Symbol)
	if err != nil {
		if _, markErr := r.svc.MarkOrphaned(ctx, p.ID, "closed on exchange, no mark price for realized pnl"); markErr != nil {
			return fmt.Errorf("reconcile: orphan %s: %w", p.ID, markErr)
		}
		report.Orphaned++
		r.logger.WarnContext(ctx, "local-only position orphaned, no mark price",
			slog.String("position_id", p.ID),
			slog.String("symbol", p.Symbol),
		)
		return nil
	}

	pnl := price.Sub(p.EntryPrice).Mul(p.Amount)
	if p.Side == domain.SideShort {
		pnl = pnl.Neg()
	}

	if _, err := r.svc.CloseAt(ctx, p.ID, pnl, price, "closed on exchange"); err != nil {
		return fmt.Errorf("reconcile: close %s: %w", p.ID, err)
	}
	report.Closed++
	return nil
}

// recordRemoteOnly surfaces exchange exposure the engine has no record of.
func (r *Reconciler) recordRemoteOnly(ctx context.Context, k exposureKey, amount decimal.Decimal, report *Report) error {
	entryPrice := decimal.Zero
	if price, _, err := r.prices.MarkPrice(ctx, k.symbol); err == nil {
		entryPrice = price
	}

	pos, err := r.svc.RecordRemote(ctx, domain.RemotePosition{
		Symbol: k.symbol,
		Side:   k.side,
		Amount: amount,
	}, entryPrice)
	if err != nil {
		return fmt.Errorf("reconcile: record remote %s/%s: %w", k.symbol, k.side, err)
	}

	report.Recorded++
	r.logger.WarnContext(ctx, "remote-only exposure recorded as orphan",
		slog.String("position_id", pos.ID),
		slog.String("symbol", k.symbol),
		slog.String("side", string(k.side)),
		slog.String("amount", amount.String()),
	)
	return nil
}

func (r *Reconciler) cycleFailed(ctx context.Context, err error) {
	r.logger.ErrorContext(ctx, "reconciliation cycle failed",
		slog.String("error", err.Error()),
	)
	if r.notifier != nil {
		if nErr := r.notifier.NotifyAll(ctx, "Reconciliation failed", err.Error()); nErr != nil {
			r.logger.WarnContext(ctx, "notify failed", slog.String("error", nErr.Error()))
		}
	}
}

func sortedKeys(m map[exposureKey]decimal.Decimal) []exposureKey {
	keys := make([]exposureKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortExposureKeys(keys)
	return keys
}

func sortedGroupKeys(m map[exposureKey][]domain.Position) []exposureKey {
	keys := make([]exposureKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortExposureKeys(keys)
	return keys
}

func sortExposureKeys(keys []exposureKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].side < keys[j].side
	})
}

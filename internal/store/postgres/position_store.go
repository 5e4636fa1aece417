package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"positionengine/internal/domain"
)

// PositionStore implements domain.PositionStore on the positions table, the
// derived view of position_events.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Decimals travel as text so pgx NUMERIC handling never rounds through
// floats.
const positionSelectCols = `position_id, symbol, side, entry_price::text, amount::text,
	stop_price::text, take_profit_price::text, status, realized_pnl::text,
	owner, metadata, opened_at, closed_at`

// Get retrieves a single position by its id.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE position_id = $1`, id)

	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

// List returns positions matching the filter, oldest first. The id is only a
// tiebreaker: its sequence segment is unpadded, so sorting by id alone would
// put seq 10 before seq 2.
func (s *PositionStore) List(ctx context.Context, f domain.Filter) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, f.Symbol)
		argIdx++
	}
	if f.Owner != "" {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, f.Owner)
		argIdx++
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, statuses)
		argIdx++
	}

	query += " ORDER BY opened_at, position_id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan positions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

// ApplyEvent folds the event into the stored position and upserts the result.
// The caller holds the per-position lock, so read-fold-write needs no row
// lock of its own.
func (s *PositionStore) ApplyEvent(ctx context.Context, ev domain.Event) (domain.Position, error) {
	var current *domain.Position
	cur, err := s.Get(ctx, ev.PositionID)
	switch {
	case err == nil:
		current = &cur
	case errors.Is(err, domain.ErrNotFound):
		current = nil
	default:
		return domain.Position{}, err
	}

	next, err := domain.Fold(current, ev)
	if err != nil {
		return domain.Position{}, err
	}

	if err := s.upsert(ctx, next); err != nil {
		return domain.Position{}, err
	}
	return next, nil
}

// Reset removes all materialized rows. Only the rebuild path calls this.
func (s *PositionStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE positions`); err != nil {
		return fmt.Errorf("postgres: reset positions: %w", err)
	}
	return nil
}

func (s *PositionStore) upsert(ctx context.Context, p domain.Position) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata for %s: %w", p.ID, err)
	}
	if p.Metadata == nil {
		metadata = []byte(`{}`)
	}

	const query = `
		INSERT INTO positions (
			position_id, symbol, side, entry_price, amount,
			stop_price, take_profit_price, status, realized_pnl,
			owner, metadata, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, NOW()
		)
		ON CONFLICT (position_id) DO UPDATE SET
			amount            = EXCLUDED.amount,
			stop_price        = EXCLUDED.stop_price,
			take_profit_price = EXCLUDED.take_profit_price,
			status            = EXCLUDED.status,
			realized_pnl      = EXCLUDED.realized_pnl,
			metadata          = EXCLUDED.metadata,
			closed_at         = EXCLUDED.closed_at,
			updated_at        = NOW()`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side), p.EntryPrice.String(), p.Amount.String(),
		decimalText(p.StopPrice), decimalText(p.TakeProfitPrice), string(p.Status), decimalText(p.RealizedPnL),
		p.Owner, metadata, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	var entryPrice, amount string
	var stopPrice, takeProfit, realizedPnL *string
	var metadata []byte

	err := row.Scan(
		&p.ID, &p.Symbol, &side, &entryPrice, &amount,
		&stopPrice, &takeProfit, &status, &realizedPnL,
		&p.Owner, &metadata, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)

	if p.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return domain.Position{}, fmt.Errorf("parse entry_price: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Position{}, fmt.Errorf("parse amount: %w", err)
	}
	if p.StopPrice, err = parseOptionalDecimal(stopPrice); err != nil {
		return domain.Position{}, fmt.Errorf("parse stop_price: %w", err)
	}
	if p.TakeProfitPrice, err = parseOptionalDecimal(takeProfit); err != nil {
		return domain.Position{}, fmt.Errorf("parse take_profit_price: %w", err)
	}
	if p.RealizedPnL, err = parseOptionalDecimal(realizedPnL); err != nil {
		return domain.Position{}, fmt.Errorf("parse realized_pnl: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return domain.Position{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
		if len(p.Metadata) == 0 {
			p.Metadata = nil
		}
	}
	return p, nil
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)

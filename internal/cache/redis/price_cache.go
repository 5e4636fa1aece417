package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"positionengine/internal/domain"
)

// PriceCache implements domain.PriceSource using Redis hashes. External feed
// processes keep the hashes current; this process only reads them, except for
// SetMarkPrice which exists for operational backfills and tests.
// Each symbol's mark price lives at key "price:{symbol}" with fields "price"
// (decimal string) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
	// maxAge rejects stale marks. Zero disables the check.
	maxAge time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A positive
// maxAge makes MarkPrice treat older entries as missing.
func NewPriceCache(c *Client, maxAge time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), maxAge: maxAge}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetMarkPrice stores the latest mark price and timestamp for a symbol.
func (pc *PriceCache) SetMarkPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set mark price %s: %w", symbol, err)
	}
	return nil
}

// MarkPrice retrieves the latest mark price and timestamp for a symbol.
// It returns domain.ErrNotFound when no usable price exists, including when
// the cached mark is older than maxAge. Settling positions at a stale price
// would be worse than admitting the price is unknown.
func (pc *PriceCache) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("redis: get mark price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return decimal.Decimal{}, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Decimal{}, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("redis: parse mark price %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Decimal{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("redis: parse mark ts %s: %w", symbol, err)
	}
	ts := time.Unix(0, tsNano)

	if pc.maxAge > 0 && time.Since(ts) > pc.maxAge {
		return decimal.Decimal{}, time.Time{}, domain.ErrNotFound
	}

	return price, ts, nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*PriceCache)(nil)

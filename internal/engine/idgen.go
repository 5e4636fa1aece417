// Package engine implements the position state engine: identifier
// generation, per-position concurrency control, the rebuild path, and the
// position service facade that strategy agents call.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"positionengine/internal/domain"
)

// IDGenerator issues globally unique position identifiers of the form
// {SYMBOL}_{SIDE}_{sequence}_{random}. The persisted sequence, recovered from
// the event log at startup, is the actual uniqueness guarantee; the random
// suffix exists for readability and defense in depth only.
type IDGenerator struct {
	seq    atomic.Int64
	seeded atomic.Bool
}

// NewIDGenerator returns an unseeded generator. It refuses to issue ids until
// Seed succeeds.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Seed recovers the sequence counter from the highest event id in the log.
// If the log cannot be read the generator stays fail-closed.
func (g *IDGenerator) Seed(ctx context.Context, log domain.EventLog) error {
	last, err := log.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("idgen: recover sequence: %w", err)
	}
	g.seq.Store(last)
	g.seeded.Store(true)
	return nil
}

// NextID returns a new collision-free position identifier. Safe for arbitrary
// concurrent callers. Returns ErrSequenceUnavailable until seeded.
func (g *IDGenerator) NextID(symbol string, side domain.Side) (string, error) {
	if !g.seeded.Load() {
		return "", domain.ErrSequenceUnavailable
	}

	n := g.seq.Add(1)
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s_%s_%d_%s", sanitizeSymbol(symbol), side, n, suffix), nil
}

// sanitizeSymbol makes an instrument name safe for use inside an identifier.
func sanitizeSymbol(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', ' ', '_':
			return '-'
		default:
			return r
		}
	}, symbol)
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"positionengine/internal/domain"
)

// PositionStore is the in-memory materialized view of the event log.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Get returns a snapshot of one position.
func (s *PositionStore) Get(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos.Clone(), nil
}

// List returns snapshots matching the filter, oldest first, position id as
// tiebreaker. Same order as the postgres store.
func (s *PositionStore) List(_ context.Context, f domain.Filter) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, pos := range s.positions {
		if !matches(pos, f) {
			continue
		}
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ApplyEvent folds the event into the stored position and returns the updated
// snapshot.
func (s *PositionStore) ApplyEvent(_ context.Context, ev domain.Event) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *domain.Position
	if cur, ok := s.positions[ev.PositionID]; ok {
		current = &cur
	}

	next, err := domain.Fold(current, ev)
	if err != nil {
		return domain.Position{}, fmt.Errorf("memory: apply event %d: %w", ev.ID, err)
	}

	s.positions[ev.PositionID] = next
	return next.Clone(), nil
}

// Reset removes all materialized rows.
func (s *PositionStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]domain.Position)
	return nil
}

func matches(pos domain.Position, f domain.Filter) bool {
	if f.Symbol != "" && pos.Symbol != f.Symbol {
		return false
	}
	if f.Owner != "" && pos.Owner != f.Owner {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if pos.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

var _ domain.PositionStore = (*PositionStore)(nil)

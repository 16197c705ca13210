// Package memory implements the event and market stores and the writer
// lease in process memory.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var (
	_ domain.EventStore  = (*EventStore)(nil)
	_ domain.MarketStore = (*MarketStore)(nil)
)

type eventKey struct {
	market domain.MarketID
	seq    uint64
}

// EventStore keeps the event log in a slice.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.Event
	keys   map[eventKey]struct{}
}

// NewEventStore creates an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{keys: make(map[eventKey]struct{})}
}

func (s *EventStore) Append(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := eventKey{e.MarketID, e.Seq}
	if _, ok := s.keys[k]; ok {
		return fmt.Errorf("memory: append event %d/%d: %w", e.MarketID, e.Seq, domain.ErrAlreadyExists)
	}
	s.keys[k] = struct{}{}
	s.events = append(s.events, e)
	return nil
}

func (s *EventStore) ListByMarket(_ context.Context, id domain.MarketID) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.MarketID == id {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *EventStore) ListAll(_ context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	out := slices.Clone(s.events)
	s.mu.RUnlock()
	sortEvents(out)
	return out, nil
}

func sortEvents(events []domain.Event) {
	slices.SortFunc(events, func(a, b domain.Event) int {
		if c := cmp.Compare(a.MarketID, b.MarketID); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

// MarketStore keeps the market projection in a map.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[domain.MarketID]domain.MarketSummary
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[domain.MarketID]domain.MarketSummary)}
}

// Upsert stores m unless a newer summary of the same market is present.
func (s *MarketStore) Upsert(_ context.Context, m domain.MarketSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.markets[m.ID]; ok {
		if cur.Seq > m.Seq {
			return nil
		}
		m.ArchivedAt = cur.ArchivedAt
	}
	s.markets[m.ID] = m
	return nil
}

func (s *MarketStore) GetByID(_ context.Context, id domain.MarketID) (domain.MarketSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.MarketSummary{}, fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (s *MarketStore) ListResolvedUnarchived(_ context.Context, before time.Time, limit int) ([]domain.MarketSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MarketSummary
	for _, m := range s.markets {
		if m.Resolved && m.ArchivedAt == nil && m.Deadline.Before(before) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.MarketSummary) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MarketStore) MarkArchived(_ context.Context, id domain.MarketID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	m.ArchivedAt = &at
	s.markets[id] = m
	return nil
}

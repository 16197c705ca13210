package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// EventStore persists the append-only ledger event log.
type EventStore interface {
	// Append fails with ErrAlreadyExists when (MarketID, Seq) is taken.
	Append(ctx context.Context, e Event) error
	ListByMarket(ctx context.Context, id MarketID) ([]Event, error)
	// ListAll returns every event ordered by market ID, then sequence.
	ListAll(ctx context.Context) ([]Event, error)
}

// MarketStore persists the market summary projection derived from the event
// log. It is a read model; the event log stays the source of truth.
type MarketStore interface {
	Upsert(ctx context.Context, m MarketSummary) error
	GetByID(ctx context.Context, id MarketID) (MarketSummary, error)
	// ListResolvedUnarchived returns resolved markets whose deadline is
	// before the cutoff and that have not been archived, oldest first.
	ListResolvedUnarchived(ctx context.Context, before time.Time, limit int) ([]MarketSummary, error)
	MarkArchived(ctx context.Context, id MarketID, at time.Time) error
}

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var _ domain.EventJournal = (*Journal)(nil)

// Journal appends ledger events to an EventStore. Each append outlives the
// caller's cancellation but not the timeout, so a ledger never waits on a
// hung store for long while it holds its operation lock.
type Journal struct {
	store   domain.EventStore
	timeout time.Duration
}

// NewJournal creates a Journal. A zero timeout means 5 seconds.
func NewJournal(store domain.EventStore, timeout time.Duration) *Journal {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Journal{store: store, timeout: timeout}
}

// Append implements domain.EventJournal.
func (j *Journal) Append(ctx context.Context, e domain.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()
	if err := j.store.Append(ctx, e); err != nil {
		return fmt.Errorf("events: append market %d seq %d: %w", e.MarketID, e.Seq, err)
	}
	return nil
}

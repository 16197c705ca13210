package registry

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/ledger"
)

// Restore rebuilds an empty registry from a persisted event log. Market ids
// must be contiguous from zero and every market's log must start with its
// MarketCreated event. Nothing is emitted and no collaborator is called.
func (r *Registry) Restore(events []domain.Event) error {
	r.createMu.Lock()
	defer r.createMu.Unlock()
	if r.Count() != 0 {
		return fmt.Errorf("registry: restore: %w: registry is not empty", domain.ErrAlreadyExists)
	}

	events = slices.Clone(events)
	slices.SortStableFunc(events, func(a, b domain.Event) int {
		if c := cmp.Compare(a.MarketID, b.MarketID); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	var markets []*ledger.Ledger
	for _, e := range events {
		if e.Kind == domain.EventMarketCreated {
			if int(e.MarketID) != len(markets) || e.Seq != 1 {
				return fmt.Errorf("registry: restore market %d seq %d: %w: unexpected creation",
					e.MarketID, e.Seq, domain.ErrReplayMismatch)
			}
			p := r.params(e.MarketID, e.Account, e.Question, e.At, e.Deadline)
			markets = append(markets, ledger.Restore(p, r.ledgerOptions(e.MarketID)))
			continue
		}
		if int(e.MarketID) != len(markets)-1 {
			return fmt.Errorf("registry: restore market %d seq %d: %w: market was never created",
				e.MarketID, e.Seq, domain.ErrReplayMismatch)
		}
		if err := markets[e.MarketID].Apply(e); err != nil {
			return fmt.Errorf("registry: restore: %w", err)
		}
	}

	r.mu.Lock()
	r.markets = markets
	r.mu.Unlock()

	r.logger.Info("registry restored",
		slog.Int("markets", len(markets)),
		slog.Int("events", len(events)),
	)
	return nil
}

package ledger

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Apply folds a persisted event into the ledger without calling any
// collaborator or emitting. Events must arrive in sequence order starting
// at Seq 2; anything that contradicts the current state is rejected with
// ErrReplayMismatch and leaves the ledger untouched.
func (l *Ledger) Apply(e domain.Event) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if e.MarketID != l.params.ID {
		return mismatch(e, "event for market %d", e.MarketID)
	}
	if e.Seq != l.seq+1 {
		return mismatch(e, "expected seq %d", l.seq+1)
	}

	switch e.Kind {
	case domain.EventStaked:
		if l.resolved {
			return mismatch(e, "stake after resolution")
		}
		if !e.Side.Valid() || e.Amount == 0 {
			return mismatch(e, "malformed stake")
		}
		if uint64(e.Amount) > math.MaxUint64-uint64(l.totalYes)-uint64(l.totalNo) {
			return mismatch(e, "stake overflows pool")
		}
		yes, no := l.totalYes, l.totalNo
		if e.Side == domain.SideYes {
			yes += e.Amount
		} else {
			no += e.Amount
		}
		if yes != e.YesTotal || no != e.NoTotal {
			return mismatch(e, "totals %d/%d, log says %d/%d", yes, no, e.YesTotal, e.NoTotal)
		}
		pos, _ := l.position(e.Account)
		if e.Side == domain.SideYes {
			pos.Yes += e.Amount
		} else {
			pos.No += e.Amount
		}
		l.totalYes, l.totalNo = yes, no

	case domain.EventResolved:
		if l.resolved {
			return mismatch(e, "resolved twice")
		}
		if e.Account != l.params.Creator || !e.Side.Valid() {
			return mismatch(e, "malformed resolution")
		}
		l.resolved = true
		l.outcome = e.Side

	case domain.EventWithdrawn:
		if !l.resolved {
			return mismatch(e, "withdrawal before resolution")
		}
		if p, ok := l.positions[e.Account]; ok && p.Withdrawn {
			return mismatch(e, "withdrawn twice")
		}
		if due := l.winnings(e.Account); due == 0 || due != e.Amount {
			return mismatch(e, "paid %d, ledger owes %d", e.Amount, due)
		}
		pos, _ := l.position(e.Account)
		pos.Withdrawn = true
		l.paidOut += e.Amount

	default:
		return mismatch(e, "unexpected kind %q", e.Kind)
	}

	l.seq = e.Seq
	return nil
}

func mismatch(e domain.Event, format string, args ...any) error {
	return fmt.Errorf("ledger: apply %s seq %d: %w: %s",
		e.Kind, e.Seq, domain.ErrReplayMismatch, fmt.Sprintf(format, args...))
}

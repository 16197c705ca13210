package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/parimutuel/internal/clock"
	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var errStoreDown = errors.New("store down")

// rebuild replays the journal into a fresh ledger, the way a restart does.
func (h *harness) rebuild(t *testing.T) *Ledger {
	t.Helper()
	l := Restore(h.ledger.Params(), Options{Clock: h.clock})
	for _, e := range h.journal.all()[1:] {
		if err := l.Apply(e); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	return l
}

func TestNewFailsWhenCreationNotRecorded(t *testing.T) {
	sink := &recorder{}
	l, err := New(context.Background(), Params{ID: 1, Creator: creator, Deadline: deadline, CreatedAt: start}, Options{
		Clock:   clock.NewManual(start),
		Journal: &fakeJournal{err: errStoreDown},
		Sink:    sink,
	})
	if !errors.Is(err, domain.ErrJournalUnavailable) || l != nil {
		t.Fatalf("New = %v, %v; want nil ledger and ErrJournalUnavailable", l, err)
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("sinks saw %d events for a market that was never created", n)
	}
}

func TestStakeNotRecordedIsRefunded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.stake(t, alice, domain.SideYes, 100)

	h.journal.fail(errStoreDown)
	err := h.ledger.Stake(ctx, bob, domain.SideNo, 200)
	if !errors.Is(err, domain.ErrJournalUnavailable) {
		t.Fatalf("Stake err = %v, want ErrJournalUnavailable", err)
	}
	if got := h.bank.balance(bob); got != 1000 {
		t.Fatalf("bob balance = %d, want 1000 after refund", got)
	}
	if got := h.bank.escrowBalance(); got != 100 {
		t.Fatalf("escrow = %d, want 100", got)
	}
	if s := h.ledger.Summary(); s.TotalNo != 0 || s.Seq != 2 || s.Participants != 1 {
		t.Fatalf("summary = %+v, want only alice's stake at seq 2", s)
	}
	if n := len(h.sink.all()); n != 2 {
		t.Fatalf("sinks saw %d events, want 2", n)
	}

	h.journal.fail(nil)
	h.stake(t, bob, domain.SideNo, 200)

	restored := h.rebuild(t)
	want := h.ledger.Summary()
	got := restored.Summary()
	if got.Seq != 3 || got.TotalYes != want.TotalYes || got.TotalNo != want.TotalNo {
		t.Fatalf("restored summary = %+v, want %+v", got, want)
	}
	if got.TotalYes+got.TotalNo != h.bank.escrowBalance() {
		t.Fatalf("restored pools %d+%d, escrow holds %d", got.TotalYes, got.TotalNo, h.bank.escrowBalance())
	}
}

func TestResolveNotRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.clock.Set(deadline)

	h.journal.fail(errStoreDown)
	if err := h.ledger.Resolve(ctx, creator, domain.SideYes); !errors.Is(err, domain.ErrJournalUnavailable) {
		t.Fatalf("Resolve err = %v, want ErrJournalUnavailable", err)
	}
	if h.ledger.Summary().Resolved {
		t.Fatal("market resolved without a recorded event")
	}

	h.journal.fail(nil)
	h.resolve(t, domain.SideNo)
	if s := h.ledger.Summary(); s.Outcome != domain.SideNo || s.Seq != 2 {
		t.Fatalf("summary = %+v, want resolved no at seq 2", s)
	}
}

func TestResolveTwiceIgnoresOutcome(t *testing.T) {
	h := newHarness(t, "")
	h.resolve(t, domain.SideYes)
	for _, outcome := range []domain.Side{domain.SideNo, "maybe", ""} {
		err := h.ledger.Resolve(context.Background(), creator, outcome)
		if !errors.Is(err, domain.ErrAlreadyResolved) {
			t.Fatalf("Resolve(%q) err = %v, want ErrAlreadyResolved", outcome, err)
		}
	}
}

func TestWithdrawNotRecordedPausesMarket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.stake(t, alice, domain.SideYes, 100)
	h.stake(t, bob, domain.SideNo, 200)
	h.resolve(t, domain.SideYes)

	h.journal.fail(errStoreDown)
	amount, err := h.ledger.Withdraw(ctx, alice)
	if err != nil || amount != 300 {
		t.Fatalf("Withdraw = %d, %v; want 300 paid", amount, err)
	}
	if !h.ledger.Pending() {
		t.Fatal("unrecorded payout not pending")
	}
	if _, err := h.ledger.Withdraw(ctx, alice); !errors.Is(err, domain.ErrJournalUnavailable) {
		t.Fatalf("second Withdraw err = %v, want ErrJournalUnavailable", err)
	}
	if err := h.ledger.Stake(ctx, carol, domain.SideYes, 1); !errors.Is(err, domain.ErrJournalUnavailable) {
		t.Fatalf("Stake on paused market err = %v, want ErrJournalUnavailable", err)
	}
	if got := h.bank.balance(alice); got != 1200 {
		t.Fatalf("alice balance = %d, want 1200", got)
	}
	if n := len(h.sink.all()); n != 4 {
		t.Fatalf("sinks saw %d events before the payout was recorded, want 4", n)
	}

	h.journal.fail(nil)
	if err := h.ledger.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if h.ledger.Pending() {
		t.Fatal("payout still pending after Flush")
	}
	recorded := h.journal.all()
	if last := recorded[len(recorded)-1]; last.Kind != domain.EventWithdrawn || last.Seq != 5 || last.Amount != 300 {
		t.Fatalf("last recorded event = %+v, want withdrawal of 300 at seq 5", last)
	}
	if n := len(h.sink.all()); n != 5 {
		t.Fatalf("sinks saw %d events, want 5", n)
	}
	if _, err := h.ledger.Withdraw(ctx, alice); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("Withdraw after Flush err = %v, want ErrAlreadyWithdrawn", err)
	}
	if got := h.rebuild(t).CalculateWinnings(alice); got != 0 {
		t.Fatalf("restored ledger owes alice %d", got)
	}
}

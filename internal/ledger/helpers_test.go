package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/clock"
	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c3")

	start    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	deadline = start.Add(time.Hour)
)

// fakeBank is a minimal value-transfer collaborator holding participant
// balances and one escrow balance.
type fakeBank struct {
	mu       sync.Mutex
	balances map[common.Address]domain.Amount
	escrow   domain.Amount

	failIn  error
	failOut error
	onIn    func(ctx context.Context)
	onOut   func(ctx context.Context)
}

func newFakeBank(funds domain.Amount, accounts ...common.Address) *fakeBank {
	b := &fakeBank{balances: make(map[common.Address]domain.Amount)}
	for _, a := range accounts {
		b.balances[a] = funds
	}
	return b
}

func (b *fakeBank) TransferIn(ctx context.Context, from common.Address, amount domain.Amount) error {
	if b.onIn != nil {
		b.onIn(ctx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failIn != nil {
		return b.failIn
	}
	if b.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	b.balances[from] -= amount
	b.escrow += amount
	return nil
}

func (b *fakeBank) TransferOut(ctx context.Context, to common.Address, amount domain.Amount) error {
	if b.onOut != nil {
		b.onOut(ctx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOut != nil {
		return b.failOut
	}
	if b.escrow < amount {
		return domain.ErrInsufficientBalance
	}
	b.escrow -= amount
	b.balances[to] += amount
	return nil
}

func (b *fakeBank) balance(a common.Address) domain.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[a]
}

func (b *fakeBank) escrowBalance() domain.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.escrow
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// fakeJournal keeps appended events and fails while err is set.
type fakeJournal struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (j *fakeJournal) Append(_ context.Context, e domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, e)
	return nil
}

func (j *fakeJournal) fail(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

func (j *fakeJournal) all() []domain.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Event(nil), j.events...)
}

type harness struct {
	ledger  *Ledger
	clock   *clock.Manual
	bank    *fakeBank
	journal *fakeJournal
	sink    *recorder
}

func newHarness(t *testing.T, policy domain.EmptyPoolPolicy) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewManual(start),
		bank:    newFakeBank(1000, alice, bob, carol, creator),
		journal: &fakeJournal{},
		sink:    &recorder{},
	}
	l, err := New(context.Background(), Params{
		ID:        7,
		Question:  "Will it rain tomorrow?",
		Creator:   creator,
		Deadline:  deadline,
		CreatedAt: start,
	}, Options{
		Clock:     h.clock,
		Transfer:  h.bank,
		Journal:   h.journal,
		Sink:      h.sink,
		EmptyPool: policy,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ledger = l
	return h
}

func (h *harness) stake(t *testing.T, who common.Address, side domain.Side, amount domain.Amount) {
	t.Helper()
	if err := h.ledger.Stake(context.Background(), who, side, amount); err != nil {
		t.Fatalf("Stake(%s, %s, %d): %v", who.Hex(), side, amount, err)
	}
}

func (h *harness) resolve(t *testing.T, outcome domain.Side) {
	t.Helper()
	h.clock.Set(deadline)
	if err := h.ledger.Resolve(context.Background(), creator, outcome); err != nil {
		t.Fatalf("Resolve(%s): %v", outcome, err)
	}
}

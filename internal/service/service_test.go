package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/clock"
	"github.com/alanyoungcy/parimutuel/internal/custody"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/registry"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
)

var (
	testLogger   = slog.New(slog.NewTextHandler(io.Discard, nil))
	registryAddr = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	creator      = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob          = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	start        = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

type env struct {
	clock   *clock.Manual
	token   *custody.MemoryToken
	markets *memory.MarketStore
	svc     *MarketService
	tokens  *TokenService
}

// newEnv builds one replica over log. token and leases may be shared with
// other replicas; a nil token gets a fresh one.
func newEnv(t *testing.T, log domain.EventStore, token *custody.MemoryToken, leases domain.LeaseManager) *env {
	t.Helper()
	if token == nil {
		token = custody.NewMemoryToken("USDC", 6)
	}
	e := &env{
		clock:   clock.NewManual(start),
		token:   token,
		markets: memory.NewMarketStore(),
	}
	reg := registry.New(registry.Options{
		Address:   registryAddr,
		Clock:     e.clock,
		Transfers: custody.Factory(e.token),
		Journal:   events.NewJournal(log, time.Second),
		Logger:    testLogger,
	})
	e.svc = NewMarketService(reg, log, e.markets, leases, testLogger)
	e.tokens = NewTokenService(e.token, 1000, testLogger)
	return e
}

func (e *env) fund(t *testing.T, id domain.MarketID, who common.Address) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.tokens.Faucet(ctx, who); err != nil {
		t.Fatalf("Faucet: %v", err)
	}
	escrow, err := e.svc.Escrow(id)
	if err != nil {
		t.Fatalf("Escrow: %v", err)
	}
	if err := e.tokens.Approve(ctx, who, escrow, 1000); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}

// runMarket creates a market, takes two stakes and resolves it YES.
func (e *env) runMarket(t *testing.T) domain.MarketID {
	t.Helper()
	ctx := context.Background()
	m, err := e.svc.CreateMarket(ctx, creator, "Will it rain?", 2*time.Hour)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	e.fund(t, m.ID, alice)
	e.fund(t, m.ID, bob)
	if _, err := e.svc.Stake(ctx, m.ID, alice, domain.SideYes, 300); err != nil {
		t.Fatalf("Stake alice: %v", err)
	}
	if _, err := e.svc.Stake(ctx, m.ID, bob, domain.SideNo, 100); err != nil {
		t.Fatalf("Stake bob: %v", err)
	}
	e.clock.Advance(3 * time.Hour)
	if _, err := e.svc.Resolve(ctx, creator, m.ID, domain.SideYes); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return m.ID
}

func TestMarketLifecycleKeepsProjection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, memory.NewEventStore(), nil, nil)
	id := e.runMarket(t)

	p, err := e.markets.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("projection GetByID: %v", err)
	}
	if !p.Resolved || p.TotalYes != 300 || p.TotalNo != 100 || p.Seq != 4 {
		t.Fatalf("projection = %+v, want resolved 300/100 at seq 4", p)
	}

	pos, err := e.svc.Position(ctx, id, alice)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos.Winnings != 400 || !pos.Resolved {
		t.Fatalf("Position = %+v, want winnings 400 resolved", pos)
	}

	amount, err := e.svc.Withdraw(ctx, id, alice)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if amount != 400 {
		t.Fatalf("Withdraw = %d, want 400", amount)
	}
	bal, err := e.tokens.Balance(ctx, alice, nil)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Balance != 1100 {
		t.Fatalf("alice balance = %d, want 1100", bal.Balance)
	}
	if _, err := e.svc.Withdraw(ctx, id, bob); !errors.Is(err, domain.ErrNothingToWithdraw) {
		t.Fatalf("Withdraw bob = %v, want %v", err, domain.ErrNothingToWithdraw)
	}

	p, err = e.markets.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("projection GetByID: %v", err)
	}
	if p.PaidOut != 400 || p.Seq != 5 {
		t.Fatalf("projection paid out %d at seq %d, want 400 at 5", p.PaidOut, p.Seq)
	}

	history, err := e.svc.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	wantOdds := []uint8{50, 100, 75}
	if len(history) != len(wantOdds) {
		t.Fatalf("history has %d points, want %d", len(history), len(wantOdds))
	}
	for i, w := range wantOdds {
		if history[i].Odds != w {
			t.Fatalf("history[%d].Odds = %d, want %d", i, history[i].Odds, w)
		}
	}
}

func TestRestoreFromEventLog(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventStore()
	first := newEnv(t, log, nil, nil)
	id := first.runMarket(t)
	if _, err := first.svc.Withdraw(ctx, id, alice); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	want, err := first.svc.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}

	second := newEnv(t, log, nil, nil)
	if err := second.svc.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := second.svc.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("GetMarket after restore: %v", err)
	}
	if got.TotalYes != want.TotalYes || got.TotalNo != want.TotalNo || got.PaidOut != want.PaidOut ||
		got.Outcome != want.Outcome || got.Seq != want.Seq || got.Question != want.Question {
		t.Fatalf("restored summary = %+v, want %+v", got, want)
	}
	if _, err := second.markets.GetByID(ctx, id); err != nil {
		t.Fatalf("projection not rebuilt: %v", err)
	}
	if _, err := second.svc.Withdraw(ctx, id, alice); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("Withdraw after restore = %v, want %v", err, domain.ErrAlreadyWithdrawn)
	}
}

func TestListMarketsTotal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, memory.NewEventStore(), nil, nil)
	for range 3 {
		if _, err := e.svc.CreateMarket(ctx, creator, "q", 2*time.Hour); err != nil {
			t.Fatalf("CreateMarket: %v", err)
		}
	}
	page, total := e.svc.ListMarkets(ctx, domain.MarketFilterActive, domain.ListOpts{Limit: 2})
	if len(page) != 2 || total != 3 {
		t.Fatalf("ListMarkets = %d items, total %d, want 2 and 3", len(page), total)
	}
	page, total = e.svc.ListMarkets(ctx, domain.MarketFilterResolved, domain.ListOpts{})
	if len(page) != 0 || total != 0 {
		t.Fatalf("resolved ListMarkets = %d items, total %d, want 0", len(page), total)
	}
}

func TestSecondReplicaCannotPayTwice(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventStore()
	token := custody.NewMemoryToken("USDC", 6)
	leases := memory.NewLeases()

	a := newEnv(t, log, token, leases)
	if _, err := a.svc.Open(ctx); err != nil {
		t.Fatalf("Open a: %v", err)
	}
	id := a.runMarket(t)

	b := newEnv(t, log, token, leases)
	if _, err := b.svc.Open(ctx); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Open b = %v, want %v", err, domain.ErrLockHeld)
	}
	if _, err := b.svc.Withdraw(ctx, id, alice); !errors.Is(err, domain.ErrNotWriter) {
		t.Fatalf("Withdraw on b = %v, want %v", err, domain.ErrNotWriter)
	}

	if amount, err := a.svc.Withdraw(ctx, id, alice); err != nil || amount != 400 {
		t.Fatalf("Withdraw on a = %d, %v; want 400", amount, err)
	}
	a.svc.Close()
	if _, err := a.svc.Withdraw(ctx, id, bob); !errors.Is(err, domain.ErrNotWriter) {
		t.Fatalf("Withdraw on closed a = %v, want %v", err, domain.ErrNotWriter)
	}

	// b takes over with a's payout already in the log.
	if _, err := b.svc.Open(ctx); err != nil {
		t.Fatalf("Open b after handover: %v", err)
	}
	defer b.svc.Close()
	if _, err := b.svc.Withdraw(ctx, id, alice); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("Withdraw on b = %v, want %v", err, domain.ErrAlreadyWithdrawn)
	}
	bal, err := b.tokens.Balance(ctx, alice, nil)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Balance != 1100 {
		t.Fatalf("alice balance = %d, want 1100 (paid once)", bal.Balance)
	}
}

func TestLostLeaseStopsWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newEnv(t, memory.NewEventStore(), nil, memory.NewLeases())
	lost, err := e.svc.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.svc.CreateMarket(ctx, creator, "q", 2*time.Hour); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	cancel()
	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("lease not reported lost")
	}
	if _, err := e.svc.CreateMarket(context.Background(), creator, "q", 2*time.Hour); !errors.Is(err, domain.ErrNotWriter) {
		t.Fatalf("CreateMarket after lease loss = %v, want %v", err, domain.ErrNotWriter)
	}
	if _, err := e.svc.GetMarket(context.Background(), 0); err != nil {
		t.Fatalf("GetMarket after lease loss: %v", err)
	}
}

// flakyLog fails appends of one sequence number until healed.
type flakyLog struct {
	*memory.EventStore
	failSeq uint64
}

func (f *flakyLog) Append(ctx context.Context, e domain.Event) error {
	if e.Seq == f.failSeq {
		return errors.New("connection reset")
	}
	return f.EventStore.Append(ctx, e)
}

func TestFailedAppendKeepsLogRestorable(t *testing.T) {
	ctx := context.Background()
	log := &flakyLog{EventStore: memory.NewEventStore(), failSeq: 2}
	e := newEnv(t, log, nil, nil)
	m, err := e.svc.CreateMarket(ctx, creator, "Will it rain?", 2*time.Hour)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	e.fund(t, m.ID, alice)
	e.fund(t, m.ID, bob)

	if _, err := e.svc.Stake(ctx, m.ID, alice, domain.SideYes, 300); !errors.Is(err, domain.ErrJournalUnavailable) {
		t.Fatalf("Stake = %v, want %v", err, domain.ErrJournalUnavailable)
	}
	bal, err := e.tokens.Balance(ctx, alice, nil)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Balance != 1000 {
		t.Fatalf("alice balance = %d, want 1000 after refund", bal.Balance)
	}

	log.failSeq = 0
	if _, err := e.svc.Stake(ctx, m.ID, bob, domain.SideNo, 100); err != nil {
		t.Fatalf("Stake bob: %v", err)
	}

	restored := newEnv(t, log, nil, nil)
	if err := restored.svc.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := restored.svc.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.TotalYes != 0 || got.TotalNo != 100 || got.Seq != 2 {
		t.Fatalf("restored market = %+v, want only bob's 100 at seq 2", got)
	}
}

func TestUnknownMarket(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, memory.NewEventStore(), nil, nil)
	if _, err := e.svc.GetMarket(ctx, 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetMarket = %v, want %v", err, domain.ErrNotFound)
	}
	if _, err := e.svc.History(ctx, 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("History = %v, want %v", err, domain.ErrNotFound)
	}
	if _, err := e.svc.Stake(ctx, 9, alice, domain.SideYes, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Stake = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestFaucetDisabled(t *testing.T) {
	tokens := NewTokenService(custody.NewMemoryToken("USDC", 6), 0, testLogger)
	if _, err := tokens.Faucet(context.Background(), alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Faucet = %v, want %v", err, domain.ErrUnauthorized)
	}
	if info := tokens.Info(); info.Symbol != "USDC" || info.Decimals != 6 {
		t.Fatalf("Info = %+v", info)
	}
}

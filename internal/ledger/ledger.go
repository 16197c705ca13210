// Package ledger implements the pari-mutuel market ledger: per-participant
// stake accounting, live odds, the Open -> AwaitingResolution -> Resolved
// state machine and exactly-once settlement.
//
// Mutating operations are serialized per ledger by opMu, which is held
// across the value-transfer call, the journal append and the event emission.
// A change is committed only once the journal has accepted its event; a
// stake whose event is rejected is refunded. Committed state is guarded
// separately by stateMu so reads never block behind an in-flight transfer
// and never see a partial update.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Params are the immutable creation parameters of a market.
type Params struct {
	ID        domain.MarketID
	Question  string
	Creator   common.Address
	Escrow    common.Address
	Deadline  time.Time
	CreatedAt time.Time
}

// Options are the collaborators a ledger depends on.
type Options struct {
	Clock     domain.Clock
	Transfer  domain.ValueTransfer
	// Journal is optional; without one events are only emitted.
	Journal   domain.EventJournal
	Sink      domain.EventSink
	EmptyPool domain.EmptyPoolPolicy
	Logger    *slog.Logger
}

// Ledger owns all staking state of one market.
type Ledger struct {
	params   Params
	clock    domain.Clock
	transfer domain.ValueTransfer
	journal  domain.EventJournal
	sink     domain.EventSink
	policy   domain.EmptyPoolPolicy
	logger   *slog.Logger

	opMu    sync.Mutex
	stateMu sync.RWMutex

	totalYes  domain.Amount
	totalNo   domain.Amount
	positions map[common.Address]*domain.Position
	accounts  []common.Address
	resolved  bool
	outcome   domain.Side
	paidOut   domain.Amount
	settling  bool
	seq       uint64
	// pending is a paid withdrawal whose event the journal has not taken
	// yet. While set, every mutation first retries it.
	pending   *domain.Event
}

// New creates a ledger and records its MarketCreated event as Seq 1. No
// ledger is returned when the journal rejects that event.
func New(ctx context.Context, p Params, opts Options) (*Ledger, error) {
	l := newLedger(p, opts)
	l.opMu.Lock()
	defer l.opMu.Unlock()

	ev := l.event(domain.EventMarketCreated, p.Creator, p.CreatedAt)
	ev.Question = p.Question
	ev.Deadline = p.Deadline

	cctx := l.enter(ctx)
	if err := l.record(cctx, ev); err != nil {
		return nil, fmt.Errorf("ledger: create market %d: %w", p.ID, err)
	}
	l.stateMu.Lock()
	l.seq = ev.Seq
	l.stateMu.Unlock()

	l.emit(cctx, ev)
	return l, nil
}

// Restore creates a ledger whose MarketCreated event is already in the log.
// Later events are fed through Apply.
func Restore(p Params, opts Options) *Ledger {
	l := newLedger(p, opts)
	l.seq = 1
	return l
}

func newLedger(p Params, opts Options) *Ledger {
	policy := opts.EmptyPool
	if policy == "" {
		policy = domain.EmptyPoolRefund
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		params:    p,
		clock:     opts.Clock,
		transfer:  opts.Transfer,
		journal:   opts.Journal,
		sink:      opts.Sink,
		policy:    policy,
		logger:    logger.With(slog.Uint64("market_id", uint64(p.ID))),
		positions: make(map[common.Address]*domain.Position),
	}
}

// ID returns the market id.
func (l *Ledger) ID() domain.MarketID { return l.params.ID }

// Params returns the creation parameters.
func (l *Ledger) Params() Params { return l.params }

// Odds returns the YES share of the pool as an integer percentage, or 50
// when nothing has been staked.
func (l *Ledger) Odds() uint8 {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return PoolOdds(l.totalYes, l.totalNo)
}

// Position returns the participant's stakes. Unknown participants get a
// zero position.
func (l *Ledger) Position(account common.Address) domain.Position {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	if p, ok := l.positions[account]; ok {
		return *p
	}
	return domain.Position{Account: account}
}

// Positions returns every position in first-stake order.
func (l *Ledger) Positions() []domain.Position {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	out := make([]domain.Position, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *l.positions[a])
	}
	return out
}

// CalculateWinnings returns what Withdraw would pay the participant right
// now: zero before resolution and after the participant has withdrawn.
func (l *Ledger) CalculateWinnings(account common.Address) domain.Amount {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.winnings(account)
}

// State returns the lifecycle phase at the clock's current time.
func (l *Ledger) State() domain.MarketState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.stateAt(l.clock.Now())
}

// Seq returns the sequence number of the last event in the market's log.
func (l *Ledger) Seq() uint64 {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.seq
}

// Pending reports whether a paid withdrawal is still waiting for the
// journal. A pending ledger refuses every mutation until it is recorded.
func (l *Ledger) Pending() bool {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.pending != nil
}

// Summary returns a consistent snapshot of the market.
func (l *Ledger) Summary() domain.MarketSummary {
	now := l.clock.Now()
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	s := domain.MarketSummary{
		ID:           l.params.ID,
		Question:     l.params.Question,
		Creator:      l.params.Creator,
		Escrow:       l.params.Escrow,
		Deadline:     l.params.Deadline,
		CreatedAt:    l.params.CreatedAt,
		State:        l.stateAt(now),
		Resolved:     l.resolved,
		TotalYes:     l.totalYes,
		TotalNo:      l.totalNo,
		Odds:         PoolOdds(l.totalYes, l.totalNo),
		PaidOut:      l.paidOut,
		Participants: len(l.positions),
		Settling:     l.settling,
		Seq:          l.seq,
	}
	if l.resolved {
		s.Outcome = l.outcome
	}
	return s
}

func (l *Ledger) stateAt(now time.Time) domain.MarketState {
	switch {
	case l.resolved:
		return domain.MarketStateResolved
	case now.Before(l.params.Deadline):
		return domain.MarketStateOpen
	default:
		return domain.MarketStateAwaitingResolution
	}
}

// winnings requires stateMu or opMu.
func (l *Ledger) winnings(account common.Address) domain.Amount {
	if !l.resolved {
		return 0
	}
	pos, ok := l.positions[account]
	if ok && pos.Withdrawn {
		return 0
	}
	win, lose := l.totalYes, l.totalNo
	if l.outcome == domain.SideNo {
		win, lose = lose, win
	}
	if win == 0 {
		switch l.policy {
		case domain.EmptyPoolRefund:
			if ok {
				return pos.Total()
			}
		case domain.EmptyPoolCreator:
			if account == l.params.Creator {
				return lose
			}
		}
		return 0
	}
	if !ok {
		return 0
	}
	return payout(pos.Stake(l.outcome), lose, win)
}

// position returns the participant's entry, creating it if needed. It
// requires stateMu held for writing.
func (l *Ledger) position(account common.Address) (*domain.Position, bool) {
	if p, ok := l.positions[account]; ok {
		return p, false
	}
	p := &domain.Position{Account: account}
	l.positions[account] = p
	l.accounts = append(l.accounts, account)
	return p, true
}

func (l *Ledger) dropPosition(account common.Address) {
	delete(l.positions, account)
	if n := len(l.accounts); n > 0 && l.accounts[n-1] == account {
		l.accounts = l.accounts[:n-1]
	}
}

// event builds the next log entry, numbered one past the last committed
// event. It requires opMu.
func (l *Ledger) event(kind domain.EventKind, account common.Address, at time.Time) domain.Event {
	return domain.Event{
		ID:       uuid.New(),
		MarketID: l.params.ID,
		Seq:      l.seq + 1,
		Kind:     kind,
		At:       at,
		Account:  account,
	}
}

// record appends e to the journal. It requires opMu.
func (l *Ledger) record(ctx context.Context, e domain.Event) error {
	if l.journal == nil {
		return nil
	}
	if err := l.journal.Append(ctx, e); err != nil {
		l.logger.ErrorContext(ctx, "event not recorded",
			slog.Uint64("seq", e.Seq),
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", domain.ErrJournalUnavailable, err)
	}
	return nil
}

// flush records a pending withdrawal and then emits it. It requires opMu.
func (l *Ledger) flush(ctx context.Context) error {
	if l.pending == nil {
		return nil
	}
	ev := *l.pending
	if err := l.record(ctx, ev); err != nil {
		return err
	}
	l.stateMu.Lock()
	l.pending = nil
	l.stateMu.Unlock()
	l.emit(ctx, ev)
	return nil
}

// Flush retries the pending withdrawal event, if any.
func (l *Ledger) Flush(ctx context.Context) error {
	if err := l.guard(ctx); err != nil {
		return fmt.Errorf("ledger: flush: %w", err)
	}
	l.opMu.Lock()
	defer l.opMu.Unlock()
	if err := l.flush(l.enter(ctx)); err != nil {
		return fmt.Errorf("ledger: flush: %w", err)
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, e domain.Event) {
	if l.sink == nil {
		return
	}
	l.sink.Publish(ctx, e)
}

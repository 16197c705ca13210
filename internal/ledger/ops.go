package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// settlingKey marks a context handed to collaborators while a ledger
// operation is in flight.
type settlingKey struct{ l *Ledger }

// enter returns ctx marked as running inside one of l's operations.
func (l *Ledger) enter(ctx context.Context) context.Context {
	return context.WithValue(ctx, settlingKey{l}, true)
}

// guard rejects calls made from inside one of l's own collaborator calls.
// Without it such a call would wait on opMu forever.
func (l *Ledger) guard(ctx context.Context) error {
	if ctx.Value(settlingKey{l}) != nil {
		return domain.ErrReentrantCall
	}
	return nil
}

// Stake pulls amount from participant through the value-transfer
// collaborator and credits it to side. The position is credited only after
// the transfer is confirmed and its event recorded; a stake the journal
// rejects is paid back.
func (l *Ledger) Stake(ctx context.Context, participant common.Address, side domain.Side, amount domain.Amount) error {
	if err := l.guard(ctx); err != nil {
		return fmt.Errorf("ledger: stake: %w", err)
	}
	if !side.Valid() {
		return fmt.Errorf("ledger: stake: %w: %q", domain.ErrInvalidSide, side)
	}
	if amount == 0 {
		return fmt.Errorf("ledger: stake: %w", domain.ErrZeroAmount)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	cctx := l.enter(ctx)
	if err := l.flush(cctx); err != nil {
		return fmt.Errorf("ledger: stake: %w", err)
	}
	now := l.clock.Now()
	if l.resolved || !now.Before(l.params.Deadline) {
		return fmt.Errorf("ledger: stake: %w", domain.ErrMarketEnded)
	}
	if uint64(amount) > math.MaxUint64-uint64(l.totalYes)-uint64(l.totalNo) {
		return fmt.Errorf("ledger: stake: %w", domain.ErrAmountOverflow)
	}

	if err := l.transfer.TransferIn(cctx, participant, amount); err != nil {
		l.logger.WarnContext(ctx, "stake transfer failed",
			slog.String("account", participant.Hex()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ledger: stake: %w: %w", domain.ErrTransferFailed, err)
	}

	ev := l.event(domain.EventStaked, participant, now)
	ev.Side = side
	ev.Amount = amount
	ev.YesTotal, ev.NoTotal = l.totalYes, l.totalNo
	if side == domain.SideYes {
		ev.YesTotal += amount
	} else {
		ev.NoTotal += amount
	}
	if err := l.record(cctx, ev); err != nil {
		l.refund(cctx, participant, amount)
		return fmt.Errorf("ledger: stake: %w", err)
	}

	l.stateMu.Lock()
	pos, _ := l.position(participant)
	if side == domain.SideYes {
		pos.Yes += amount
	} else {
		pos.No += amount
	}
	l.totalYes, l.totalNo = ev.YesTotal, ev.NoTotal
	l.seq = ev.Seq
	l.stateMu.Unlock()

	l.emit(cctx, ev)
	return nil
}

// refund returns a stake whose event was not recorded.
func (l *Ledger) refund(ctx context.Context, participant common.Address, amount domain.Amount) {
	if err := l.transfer.TransferOut(ctx, participant, amount); err != nil {
		l.logger.ErrorContext(ctx, "stake refund failed, funds held in escrow",
			slog.String("account", participant.Hex()),
			slog.Uint64("amount", uint64(amount)),
			slog.String("error", err.Error()),
		)
	}
}

// Resolve records the outcome. Only the creator may resolve, only once, and
// only at or after the deadline. A resolved market reports
// ErrAlreadyResolved whatever outcome is passed.
func (l *Ledger) Resolve(ctx context.Context, caller common.Address, outcome domain.Side) error {
	if err := l.guard(ctx); err != nil {
		return fmt.Errorf("ledger: resolve: %w", err)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	cctx := l.enter(ctx)
	if err := l.flush(cctx); err != nil {
		return fmt.Errorf("ledger: resolve: %w", err)
	}
	if caller != l.params.Creator {
		return fmt.Errorf("ledger: resolve: %w", domain.ErrUnauthorized)
	}
	now := l.clock.Now()
	if now.Before(l.params.Deadline) {
		return fmt.Errorf("ledger: resolve: %w", domain.ErrTooEarly)
	}
	if l.resolved {
		return fmt.Errorf("ledger: resolve: %w", domain.ErrAlreadyResolved)
	}
	if !outcome.Valid() {
		return fmt.Errorf("ledger: resolve: %w: %q", domain.ErrInvalidSide, outcome)
	}

	ev := l.event(domain.EventResolved, caller, now)
	ev.Side = outcome
	if err := l.record(cctx, ev); err != nil {
		return fmt.Errorf("ledger: resolve: %w", err)
	}

	l.stateMu.Lock()
	l.resolved = true
	l.outcome = outcome
	l.seq = ev.Seq
	l.stateMu.Unlock()

	l.emit(cctx, ev)
	return nil
}

// Withdraw pays the participant's winnings exactly once. The participant is
// marked withdrawn before the transfer-out call; if that call fails the mark
// is reverted so the participant can retry. A payout the journal rejects
// stays committed and pending, and the ledger takes no further changes
// until Flush records it.
func (l *Ledger) Withdraw(ctx context.Context, participant common.Address) (domain.Amount, error) {
	if err := l.guard(ctx); err != nil {
		return 0, fmt.Errorf("ledger: withdraw: %w", err)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	cctx := l.enter(ctx)
	if err := l.flush(cctx); err != nil {
		return 0, fmt.Errorf("ledger: withdraw: %w", err)
	}
	if !l.resolved {
		return 0, fmt.Errorf("ledger: withdraw: %w", domain.ErrNotResolved)
	}
	if p, ok := l.positions[participant]; ok && p.Withdrawn {
		return 0, fmt.Errorf("ledger: withdraw: %w", domain.ErrAlreadyWithdrawn)
	}
	amount := l.winnings(participant)
	if amount == 0 {
		return 0, fmt.Errorf("ledger: withdraw: %w", domain.ErrNothingToWithdraw)
	}

	l.stateMu.Lock()
	pos, created := l.position(participant)
	pos.Withdrawn = true
	l.paidOut += amount
	l.settling = true
	l.stateMu.Unlock()

	err := l.transfer.TransferOut(cctx, participant, amount)

	l.stateMu.Lock()
	l.settling = false
	if err != nil {
		pos.Withdrawn = false
		l.paidOut -= amount
		if created {
			l.dropPosition(participant)
		}
		l.stateMu.Unlock()
		l.logger.WarnContext(ctx, "withdraw transfer failed, mark reverted",
			slog.String("account", participant.Hex()),
			slog.Uint64("amount", uint64(amount)),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("ledger: withdraw: %w: %w", domain.ErrTransferFailed, err)
	}
	ev := l.event(domain.EventWithdrawn, participant, l.clock.Now())
	ev.Amount = amount
	l.seq = ev.Seq
	l.stateMu.Unlock()

	if err := l.record(cctx, ev); err != nil {
		l.stateMu.Lock()
		l.pending = &ev
		l.stateMu.Unlock()
		l.logger.ErrorContext(ctx, "withdrawal paid but not recorded, market paused",
			slog.String("account", participant.Hex()),
			slog.Uint64("amount", uint64(amount)),
		)
		return amount, nil
	}
	l.emit(cctx, ev)
	return amount, nil
}

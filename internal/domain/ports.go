package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Clock is the ledger's only source of the current time.
type Clock interface {
	Now() time.Time
}

// ValueTransfer moves the staked asset between participants and a market's
// escrow. A nil error means the transfer is confirmed.
type ValueTransfer interface {
	// TransferIn pulls amount from a participant who pre-authorised it.
	TransferIn(ctx context.Context, from common.Address, amount Amount) error
	// TransferOut pays amount from escrow to a participant.
	TransferOut(ctx context.Context, to common.Address, amount Amount) error
}

// EventJournal durably records ledger events. A ledger commits a state
// change only once its event has been appended.
type EventJournal interface {
	Append(ctx context.Context, e Event) error
}

// EventSink receives every ledger event in commit order. Sinks handle their
// own delivery failures; the ledger never rolls back because an observer
// failed.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

// Token is the fungible asset markets settle in.
type Token interface {
	Symbol() string
	Decimals() int32
	BalanceOf(ctx context.Context, account common.Address) (Amount, error)
	Allowance(ctx context.Context, owner, spender common.Address) (Amount, error)
	Approve(ctx context.Context, owner, spender common.Address, amount Amount) error
	Mint(ctx context.Context, to common.Address, amount Amount) error
	Transfer(ctx context.Context, from, to common.Address, amount Amount) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount Amount) error
}

package custody

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var _ domain.ValueTransfer = (*Escrow)(nil)

// EscrowAddress derives the deterministic escrow account of market id the
// same way a contract factory's deployed addresses are derived from its
// address and nonce.
func EscrowAddress(registry common.Address, id domain.MarketID) common.Address {
	return crypto.CreateAddress(registry, uint64(id))
}

// Escrow binds a token to one market's escrow account. Participants must
// approve the escrow address as spender before staking.
type Escrow struct {
	token   domain.Token
	address common.Address
}

// NewEscrow returns the value-transfer collaborator for the escrow account.
func NewEscrow(token domain.Token, address common.Address) *Escrow {
	return &Escrow{token: token, address: address}
}

// Address returns the escrow account.
func (e *Escrow) Address() common.Address { return e.address }

// TransferIn pulls a pre-approved amount from a participant into escrow.
func (e *Escrow) TransferIn(ctx context.Context, from common.Address, amount domain.Amount) error {
	return e.token.TransferFrom(ctx, e.address, from, e.address, amount)
}

// TransferOut pays amount from escrow.
func (e *Escrow) TransferOut(ctx context.Context, to common.Address, amount domain.Amount) error {
	return e.token.Transfer(ctx, e.address, to, amount)
}

// Factory returns a constructor of per-market escrows over token, suitable
// for registry.Options.Transfers.
func Factory(token domain.Token) func(id domain.MarketID, escrow common.Address) domain.ValueTransfer {
	return func(_ domain.MarketID, escrow common.Address) domain.ValueTransfer {
		return NewEscrow(token, escrow)
	}
}

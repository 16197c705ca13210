// Package custody moves the staked asset between participants and market
// escrows.
package custody

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var _ domain.Token = (*MemoryToken)(nil)

// MemoryToken is an in-process fungible token with ERC-20 style balances and
// allowances. An allowance of math.MaxUint64 is never decremented.
type MemoryToken struct {
	symbol   string
	decimals int32

	mu         sync.Mutex
	balances   map[common.Address]domain.Amount
	allowances map[common.Address]map[common.Address]domain.Amount
}

// NewMemoryToken creates an empty token.
func NewMemoryToken(symbol string, decimals int32) *MemoryToken {
	return &MemoryToken{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]domain.Amount),
		allowances: make(map[common.Address]map[common.Address]domain.Amount),
	}
}

func (t *MemoryToken) Symbol() string  { return t.symbol }
func (t *MemoryToken) Decimals() int32 { return t.decimals }

func (t *MemoryToken) BalanceOf(_ context.Context, account common.Address) (domain.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender common.Address) (domain.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender], nil
}

func (t *MemoryToken) Approve(_ context.Context, owner, spender common.Address, amount domain.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]domain.Amount)
		t.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

func (t *MemoryToken) Mint(_ context.Context, to common.Address, amount domain.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[to] > math.MaxUint64-amount {
		return fmt.Errorf("custody: mint: %w", domain.ErrAmountOverflow)
	}
	t.balances[to] += amount
	return nil
}

func (t *MemoryToken) Transfer(_ context.Context, from, to common.Address, amount domain.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount domain.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowances[from][spender]
	if allowed < amount {
		return fmt.Errorf("custody: transfer from %s: %w", from.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	if amount > 0 && allowed != math.MaxUint64 {
		t.allowances[from][spender] = allowed - amount
	}
	return nil
}

// move requires t.mu.
func (t *MemoryToken) move(from, to common.Address, amount domain.Amount) error {
	if t.balances[from] < amount {
		return fmt.Errorf("custody: transfer from %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	if t.balances[to] > math.MaxUint64-amount {
		return fmt.Errorf("custody: transfer to %s: %w", to.Hex(), domain.ErrAmountOverflow)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

//go:embed scripts/token_transfer.lua
var tokenTransferLua string

//go:embed scripts/token_transfer_from.lua
var tokenTransferFromLua string

// MaxVaultAmount is the largest balance or transfer the vault accepts. Lua
// compares numbers as doubles, so values must stay exact in a float64.
const MaxVaultAmount domain.Amount = 1<<53 - 1

// maxAllowance is stored for unlimited approvals.
const maxAllowance = "max"

var _ domain.Token = (*TokenVault)(nil)

// TokenVault implements domain.Token on two Redis hashes per symbol, so
// balances survive restarts and writer handovers.
type TokenVault struct {
	rdb          *redis.Client
	ks           keyspace
	symbol       string
	decimals     int32
	transfer     *redis.Script
	transferFrom *redis.Script
}

// NewTokenVault creates a TokenVault for symbol backed by the given Client.
func NewTokenVault(c *Client, symbol string, decimals int32) *TokenVault {
	return &TokenVault{
		rdb:          c.rdb,
		ks:           c.ks,
		symbol:       strings.ToUpper(symbol),
		decimals:     decimals,
		transfer:     redis.NewScript(tokenTransferLua),
		transferFrom: redis.NewScript(tokenTransferFromLua),
	}
}

func (v *TokenVault) balancesKey() string { return v.ks.key("token", v.symbol, "balances") }
func (v *TokenVault) allowancesKey() string { return v.ks.key("token", v.symbol, "allowances") }

func allowanceField(owner, spender common.Address) string {
	return owner.Hex() + ":" + spender.Hex()
}

func checkVaultAmount(amount domain.Amount) error {
	if amount > MaxVaultAmount {
		return fmt.Errorf("%w: %d exceeds vault limit", domain.ErrInvalidAmount, amount)
	}
	return nil
}

func (v *TokenVault) Symbol() string  { return v.symbol }
func (v *TokenVault) Decimals() int32 { return v.decimals }

func (v *TokenVault) BalanceOf(ctx context.Context, account common.Address) (domain.Amount, error) {
	n, err := v.rdb.HGet(ctx, v.balancesKey(), account.Hex()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: balance of %s: %w", account.Hex(), err)
	}
	return domain.Amount(n), nil
}

func (v *TokenVault) Allowance(ctx context.Context, owner, spender common.Address) (domain.Amount, error) {
	s, err := v.rdb.HGet(ctx, v.allowancesKey(), allowanceField(owner, spender)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: allowance %s: %w", owner.Hex(), err)
	}
	return parseAllowance(s)
}

func parseAllowance(s string) (domain.Amount, error) {
	if s == maxAllowance {
		return math.MaxUint64, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse allowance %q: %w", s, err)
	}
	return domain.Amount(n), nil
}

func formatAllowance(amount domain.Amount) string {
	if amount == math.MaxUint64 {
		return maxAllowance
	}
	return strconv.FormatUint(uint64(amount), 10)
}

// Approve sets the allowance of spender over owner's balance. An amount of
// math.MaxUint64 is an unlimited approval.
func (v *TokenVault) Approve(ctx context.Context, owner, spender common.Address, amount domain.Amount) error {
	if amount != math.MaxUint64 {
		if err := checkVaultAmount(amount); err != nil {
			return err
		}
	}
	field := allowanceField(owner, spender)
	if err := v.rdb.HSet(ctx, v.allowancesKey(), field, formatAllowance(amount)).Err(); err != nil {
		return fmt.Errorf("redis: approve %s: %w", field, err)
	}
	return nil
}

func (v *TokenVault) Mint(ctx context.Context, to common.Address, amount domain.Amount) error {
	if err := checkVaultAmount(amount); err != nil {
		return err
	}
	key := v.balancesKey()
	n, err := v.rdb.HIncrBy(ctx, key, to.Hex(), int64(amount)).Result()
	if err != nil {
		return fmt.Errorf("redis: mint %s: %w", to.Hex(), err)
	}
	if n > int64(MaxVaultAmount) {
		if err := v.rdb.HIncrBy(ctx, key, to.Hex(), -int64(amount)).Err(); err != nil {
			return fmt.Errorf("redis: revert mint %s: %w", to.Hex(), err)
		}
		return fmt.Errorf("redis: mint %s: %w", to.Hex(), domain.ErrAmountOverflow)
	}
	return nil
}

func (v *TokenVault) Transfer(ctx context.Context, from, to common.Address, amount domain.Amount) error {
	if err := checkVaultAmount(amount); err != nil {
		return err
	}
	res, err := v.transfer.Run(ctx, v.rdb,
		[]string{v.balancesKey()},
		from.Hex(), to.Hex(), strconv.FormatUint(uint64(amount), 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: transfer %s: %w", from.Hex(), err)
	}
	if res != 1 {
		return fmt.Errorf("redis: transfer %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	return nil
}

func (v *TokenVault) TransferFrom(ctx context.Context, spender, from, to common.Address, amount domain.Amount) error {
	if err := checkVaultAmount(amount); err != nil {
		return err
	}
	res, err := v.transferFrom.Run(ctx, v.rdb,
		[]string{v.balancesKey(), v.allowancesKey()},
		spender.Hex(), from.Hex(), to.Hex(), strconv.FormatUint(uint64(amount), 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: transfer from %s: %w", from.Hex(), err)
	}
	return transferFromResult(from, res)
}

func transferFromResult(from common.Address, res int64) error {
	switch res {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("redis: transfer from %s: %w", from.Hex(), domain.ErrInsufficientAllowance)
	default:
		return fmt.Errorf("redis: transfer from %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
}

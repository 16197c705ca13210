package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// TokenInfo describes the asset markets settle in.
type TokenInfo struct {
	Symbol       string        `json:"symbol"`
	Decimals     int32         `json:"decimals"`
	FaucetAmount domain.Amount `json:"faucet_amount"`
}

// Balance is an account's holdings and, when a market is given, the
// allowance its escrow has over them.
type Balance struct {
	Account   common.Address  `json:"account"`
	Balance   domain.Amount   `json:"balance"`
	Spender   *common.Address `json:"spender,omitempty"`
	Allowance domain.Amount   `json:"allowance,omitempty"`
}

// TokenService exposes the settlement token: balances, approvals for market
// escrows, and the test faucet.
type TokenService struct {
	token  domain.Token
	faucet domain.Amount
	logger *slog.Logger
}

// NewTokenService creates a TokenService. A zero faucet amount disables
// the faucet.
func NewTokenService(token domain.Token, faucet domain.Amount, logger *slog.Logger) *TokenService {
	return &TokenService{
		token:  token,
		faucet: faucet,
		logger: logger.With(slog.String("component", "token_service")),
	}
}

func (s *TokenService) Info() TokenInfo {
	return TokenInfo{
		Symbol:       s.token.Symbol(),
		Decimals:     s.token.Decimals(),
		FaucetAmount: s.faucet,
	}
}

// Balance returns account's balance and, if spender is non-nil, its
// allowance.
func (s *TokenService) Balance(ctx context.Context, account common.Address, spender *common.Address) (Balance, error) {
	bal, err := s.token.BalanceOf(ctx, account)
	if err != nil {
		return Balance{}, fmt.Errorf("token_service: balance: %w", err)
	}
	out := Balance{Account: account, Balance: bal}
	if spender != nil {
		allowance, err := s.token.Allowance(ctx, account, *spender)
		if err != nil {
			return Balance{}, fmt.Errorf("token_service: allowance: %w", err)
		}
		out.Spender = spender
		out.Allowance = allowance
	}
	return out, nil
}

// Approve lets spender pull up to amount from owner.
func (s *TokenService) Approve(ctx context.Context, owner, spender common.Address, amount domain.Amount) error {
	if err := s.token.Approve(ctx, owner, spender, amount); err != nil {
		return fmt.Errorf("token_service: approve: %w", err)
	}
	s.logger.InfoContext(ctx, "allowance set",
		slog.String("owner", owner.Hex()),
		slog.String("spender", spender.Hex()),
		slog.Uint64("amount", uint64(amount)),
	)
	return nil
}

// Faucet mints the configured amount to account.
func (s *TokenService) Faucet(ctx context.Context, account common.Address) (domain.Amount, error) {
	if s.faucet == 0 {
		return 0, fmt.Errorf("token_service: faucet: %w", domain.ErrUnauthorized)
	}
	if err := s.token.Mint(ctx, account, s.faucet); err != nil {
		return 0, fmt.Errorf("token_service: faucet: %w", err)
	}
	s.logger.InfoContext(ctx, "faucet minted",
		slog.String("account", account.Hex()),
		slog.Uint64("amount", uint64(s.faucet)),
	)
	return s.faucet, nil
}

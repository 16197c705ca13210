package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

// TokenService is what the token handler needs from the service layer.
type TokenService interface {
	Info() service.TokenInfo
	Balance(ctx context.Context, account common.Address, spender *common.Address) (service.Balance, error)
	Approve(ctx context.Context, owner, spender common.Address, amount domain.Amount) error
	Faucet(ctx context.Context, account common.Address) (domain.Amount, error)
}

// EscrowResolver maps a market to the escrow participants approve.
type EscrowResolver interface {
	Escrow(id domain.MarketID) (common.Address, error)
}

// TokenHandler serves the settlement token endpoints.
type TokenHandler struct {
	tokens  TokenService
	escrows EscrowResolver
	logger  *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tokens TokenService, escrows EscrowResolver, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens:  tokens,
		escrows: escrows,
		logger:  logHandler(logger, "token"),
	}
}

// GetToken describes the token.
// GET /api/token
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tokens.Info())
}

// GetBalance returns an account's balance, and with ?market=ID the
// allowance of that market's escrow.
// GET /api/token/balances/{account}
func (h *TokenHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var spender *common.Address
	if v := r.URL.Query().Get("market"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid market id")
			return
		}
		escrow, err := h.escrows.Escrow(domain.MarketID(n))
		if err != nil {
			writeServiceError(w, r, h.logger, "get balance", err)
			return
		}
		spender = &escrow
	}
	bal, err := h.tokens.Balance(r.Context(), account, spender)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type approveRequest struct {
	MarketID *uint64 `json:"market_id"`
	Spender  string  `json:"spender"`
	// Amount is a human amount or "max".
	Amount string `json:"amount"`
}

// Approve lets a market escrow, or any spender, pull the caller's tokens.
// POST /api/token/approve
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var spender common.Address
	switch {
	case req.MarketID != nil:
		escrow, err := h.escrows.Escrow(domain.MarketID(*req.MarketID))
		if err != nil {
			writeServiceError(w, r, h.logger, "approve", err)
			return
		}
		spender = escrow
	case req.Spender != "":
		addr, err := parseAddress(req.Spender)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		spender = addr
	default:
		writeError(w, http.StatusBadRequest, "market_id or spender is required")
		return
	}

	amount := domain.Amount(math.MaxUint64)
	if !strings.EqualFold(strings.TrimSpace(req.Amount), "max") {
		a, err := domain.ParseAmount(req.Amount, h.tokens.Info().Decimals)
		if err != nil {
			writeServiceError(w, r, h.logger, "approve", err)
			return
		}
		amount = a
	}

	if err := h.tokens.Approve(r.Context(), owner, spender, amount); err != nil {
		writeServiceError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner,
		"spender": spender,
		"amount":  amount,
	})
}

// Faucet mints test tokens to the caller.
// POST /api/token/faucet
func (h *TokenHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	amount, err := h.tokens.Faucet(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "faucet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"amount":  amount,
		"display": amount.Format(h.tokens.Info().Decimals),
	})
}

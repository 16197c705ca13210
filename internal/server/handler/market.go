package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, creator common.Address, question string, duration time.Duration) (domain.MarketSummary, error)
	GetMarket(ctx context.Context, id domain.MarketID) (domain.MarketSummary, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.MarketSummary, int)
	Odds(ctx context.Context, id domain.MarketID) (uint8, error)
	History(ctx context.Context, id domain.MarketID) ([]events.OddsPoint, error)
	Position(ctx context.Context, id domain.MarketID, account common.Address) (service.PositionView, error)
	Stake(ctx context.Context, id domain.MarketID, participant common.Address, side domain.Side, amount domain.Amount) (domain.MarketSummary, error)
	Resolve(ctx context.Context, caller common.Address, id domain.MarketID, outcome domain.Side) (domain.MarketSummary, error)
	Withdraw(ctx context.Context, id domain.MarketID, participant common.Address) (domain.Amount, error)
}

// MarketHandler serves the market endpoints.
type MarketHandler struct {
	markets  MarketService
	decimals int32
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. Human amounts in requests are
// parsed with decimals.
func NewMarketHandler(markets MarketService, decimals int32, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		decimals: decimals,
		logger:   logHandler(logger, "market"),
	}
}

func logHandler(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("handler", name))
}

type listMarketsResponse struct {
	Markets []domain.MarketSummary `json:"markets"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// ListMarkets returns one page of markets.
// GET /api/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	filter, err := domain.ParseMarketFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := parseListOpts(r)
	markets, total := h.markets.ListMarkets(r.Context(), filter, opts)
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type createMarketRequest struct {
	Question        string `json:"question"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// CreateMarket opens a market resolved by the signing account.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	creator, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), creator, req.Question, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket returns one market summary.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetOdds returns the YES share in percent.
// GET /api/markets/{id}/odds
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	odds, err := h.markets.Odds(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get odds", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "odds": odds})
}

// GetHistory returns the odds curve rebuilt from the event log.
// GET /api/markets/{id}/history
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := h.markets.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "points": points})
}

// GetPosition returns an account's stakes and claimable winnings.
// GET /api/markets/{id}/positions/{account}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parseAddress(r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.markets.Position(r.Context(), id, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type stakeRequest struct {
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

// Stake backs a side with a human amount such as "12.5".
// POST /api/markets/{id}/stake
func (h *MarketHandler) Stake(w http.ResponseWriter, r *http.Request) {
	participant, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req stakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeServiceError(w, r, h.logger, "stake", err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount, h.decimals)
	if err != nil {
		writeServiceError(w, r, h.logger, "stake", err)
		return
	}
	m, err := h.markets.Stake(r.Context(), id, participant, side, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "stake", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// Resolve settles a market. Only its creator may call it.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	resolver, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := domain.ParseSide(req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	m, err := h.markets.Resolve(r.Context(), resolver, id, outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type withdrawResponse struct {
	MarketID domain.MarketID `json:"market_id"`
	Account  common.Address  `json:"account"`
	Amount   domain.Amount   `json:"amount"`
	Display  string          `json:"display"`
}

// Withdraw pays the signing account's winnings.
// POST /api/markets/{id}/withdraw
func (h *MarketHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	participant, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.markets.Withdraw(r.Context(), id, participant)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		MarketID: id,
		Account:  participant,
		Amount:   amount,
		Display:  amount.Format(h.decimals),
	})
}


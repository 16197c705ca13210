// Package registry creates market ledgers and addresses them by a stable
// integer id.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/custody"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/ledger"
)

const (
	DefaultMinDuration = time.Hour
	DefaultMaxDuration = 365 * 24 * time.Hour
)

// TransferFactory returns the value-transfer collaborator for a market's
// escrow account.
type TransferFactory func(id domain.MarketID, escrow common.Address) domain.ValueTransfer

// Options configure a Registry.
type Options struct {
	// Address seeds the per-market escrow addresses.
	Address     common.Address
	MinDuration time.Duration
	MaxDuration time.Duration
	EmptyPool   domain.EmptyPoolPolicy
	Clock       domain.Clock
	Transfers   TransferFactory
	// Journal records every event before the change is committed.
	Journal     domain.EventJournal
	Sink        domain.EventSink
	Logger      *slog.Logger
}

// Registry is an append-only arena of market ledgers. Ids are arena
// indexes and never change.
type Registry struct {
	opts   Options
	logger *slog.Logger

	createMu sync.Mutex
	mu       sync.RWMutex
	markets  []*ledger.Ledger
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.MinDuration == 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.EmptyPool == "" {
		opts.EmptyPool = domain.EmptyPoolRefund
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "registry")),
	}
}

// Address returns the address escrow accounts are derived from.
func (r *Registry) Address() common.Address { return r.opts.Address }

// CreateMarket validates the question and duration and appends a new
// ledger whose deadline is now + duration.
func (r *Registry) CreateMarket(ctx context.Context, creator common.Address, question string, duration time.Duration) (domain.MarketID, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return 0, fmt.Errorf("registry: create market: %w", domain.ErrInvalidQuestion)
	}
	if duration < r.opts.MinDuration || duration > r.opts.MaxDuration {
		return 0, fmt.Errorf("registry: create market: %w: %s not within [%s, %s]",
			domain.ErrInvalidDuration, duration, r.opts.MinDuration, r.opts.MaxDuration)
	}

	// createMu keeps ids dense while sinks observing MarketCreated can still
	// read the registry.
	r.createMu.Lock()
	defer r.createMu.Unlock()

	id := domain.MarketID(r.Count())
	now := r.opts.Clock.Now().UTC().Truncate(time.Second)
	l, err := ledger.New(ctx, r.params(id, creator, question, now, now.Add(duration)), r.ledgerOptions(id))
	if err != nil {
		return 0, fmt.Errorf("registry: %w", err)
	}

	r.mu.Lock()
	r.markets = append(r.markets, l)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", uint64(id)),
		slog.String("creator", creator.Hex()),
		slog.Time("deadline", now.Add(duration)),
	)
	return id, nil
}

// Market returns the ledger of market id.
func (r *Registry) Market(id domain.MarketID) (*ledger.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if uint64(id) >= uint64(len(r.markets)) {
		return nil, fmt.Errorf("registry: market %d: %w", id, domain.ErrNotFound)
	}
	return r.markets[id], nil
}

// GetMarket returns the summary of market id.
func (r *Registry) GetMarket(id domain.MarketID) (domain.MarketSummary, error) {
	l, err := r.Market(id)
	if err != nil {
		return domain.MarketSummary{}, err
	}
	return l.Summary(), nil
}

// ResolveMarket dispatches a resolution to market id.
func (r *Registry) ResolveMarket(ctx context.Context, caller common.Address, id domain.MarketID, outcome domain.Side) error {
	l, err := r.Market(id)
	if err != nil {
		return err
	}
	return l.Resolve(ctx, caller, outcome)
}

// Stake dispatches a stake to market id.
func (r *Registry) Stake(ctx context.Context, id domain.MarketID, participant common.Address, side domain.Side, amount domain.Amount) error {
	l, err := r.Market(id)
	if err != nil {
		return err
	}
	return l.Stake(ctx, participant, side, amount)
}

// Withdraw dispatches a withdrawal to market id.
func (r *Registry) Withdraw(ctx context.Context, id domain.MarketID, participant common.Address) (domain.Amount, error) {
	l, err := r.Market(id)
	if err != nil {
		return 0, err
	}
	return l.Withdraw(ctx, participant)
}

// Count returns the number of markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// List returns summaries of the markets passing filter, ordered by id.
// A non-positive limit returns every match after offset.
func (r *Registry) List(filter domain.MarketFilter, opts domain.ListOpts) []domain.MarketSummary {
	r.mu.RLock()
	markets := append([]*ledger.Ledger(nil), r.markets...)
	r.mu.RUnlock()

	out := make([]domain.MarketSummary, 0)
	skipped := 0
	for _, l := range markets {
		s := l.Summary()
		if !filter.Matches(s.State) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, s)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

func (r *Registry) params(id domain.MarketID, creator common.Address, question string, createdAt, deadline time.Time) ledger.Params {
	return ledger.Params{
		ID:        id,
		Question:  question,
		Creator:   creator,
		Escrow:    custody.EscrowAddress(r.opts.Address, id),
		Deadline:  deadline,
		CreatedAt: createdAt,
	}
}

func (r *Registry) ledgerOptions(id domain.MarketID) ledger.Options {
	var transfer domain.ValueTransfer
	if r.opts.Transfers != nil {
		transfer = r.opts.Transfers(id, custody.EscrowAddress(r.opts.Address, id))
	}
	return ledger.Options{
		Clock:     r.opts.Clock,
		Transfer:  transfer,
		Journal:   r.opts.Journal,
		Sink:      r.opts.Sink,
		EmptyPool: r.opts.EmptyPool,
		Logger:    r.opts.Logger,
	}
}

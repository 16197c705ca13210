package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/registry"
)

// Only the replica holding the writer lease mutates markets.
const (
	writerLeaseKey = "registry-writer"
	writerLeaseTTL = 15 * time.Second
)

// PositionView is a participant's position plus what they can withdraw now.
type PositionView struct {
	MarketID domain.MarketID `json:"market_id"`
	domain.Position
	Winnings domain.Amount `json:"winnings"`
	Resolved bool          `json:"resolved"`
}

// MarketService runs market operations against the registry and keeps the
// market projection in step with the event log.
type MarketService struct {
	registry *registry.Registry
	log      domain.EventStore
	markets  domain.MarketStore
	leases   domain.LeaseManager
	logger   *slog.Logger

	leaseMu sync.Mutex
	lost    <-chan struct{}
	release func()
}

// NewMarketService creates a MarketService. With a nil lease manager the
// service is always writable and must be the only one using its store.
func NewMarketService(
	reg *registry.Registry,
	log domain.EventStore,
	markets domain.MarketStore,
	leases domain.LeaseManager,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		registry: reg,
		log:      log,
		markets:  markets,
		leases:   leases,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// Open takes the writer lease and then restores the registry from the event
// log. It fails with domain.ErrLockHeld while another replica is the
// writer. The returned channel is closed if the lease is lost, after which
// every mutation fails with domain.ErrNotWriter.
func (s *MarketService) Open(ctx context.Context) (<-chan struct{}, error) {
	if s.leases != nil {
		lost, release, err := s.leases.Hold(ctx, writerLeaseKey, writerLeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("market_service: writer lease: %w", err)
		}
		s.leaseMu.Lock()
		s.lost, s.release = lost, release
		s.leaseMu.Unlock()
	}
	if err := s.Restore(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	return s.lost, nil
}

// Close gives up the writer lease.
func (s *MarketService) Close() {
	s.leaseMu.Lock()
	release := s.release
	s.release = nil
	s.leaseMu.Unlock()
	if release != nil {
		release()
	}
}

// writable fails unless this replica may mutate markets.
func (s *MarketService) writable() error {
	if s.leases == nil {
		return nil
	}
	s.leaseMu.Lock()
	lost, held := s.lost, s.release != nil
	s.leaseMu.Unlock()
	if !held {
		return fmt.Errorf("market_service: %w", domain.ErrNotWriter)
	}
	select {
	case <-lost:
		return fmt.Errorf("market_service: %w", domain.ErrNotWriter)
	default:
		return nil
	}
}

// Restore rebuilds the registry from the event log and refreshes the
// projection of every market.
func (s *MarketService) Restore(ctx context.Context) error {
	log, err := s.log.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("market_service: load event log: %w", err)
	}
	if err := s.registry.Restore(log); err != nil {
		return fmt.Errorf("market_service: %w", err)
	}
	for id := range s.registry.Count() {
		s.project(ctx, domain.MarketID(id))
	}
	s.logger.InfoContext(ctx, "markets restored",
		slog.Int("markets", s.registry.Count()),
		slog.Int("events", len(log)),
	)
	return nil
}

// CreateMarket opens a market resolved by creator.
func (s *MarketService) CreateMarket(ctx context.Context, creator common.Address, question string, duration time.Duration) (domain.MarketSummary, error) {
	if err := s.writable(); err != nil {
		return domain.MarketSummary{}, err
	}
	id, err := s.registry.CreateMarket(ctx, creator, question, duration)
	if err != nil {
		return domain.MarketSummary{}, err
	}
	return s.project(ctx, id), nil
}

// GetMarket returns the live summary of market id. The archive timestamp
// comes from the projection when it is available.
func (s *MarketService) GetMarket(ctx context.Context, id domain.MarketID) (domain.MarketSummary, error) {
	m, err := s.registry.GetMarket(id)
	if err != nil {
		return domain.MarketSummary{}, err
	}
	if p, err := s.markets.GetByID(ctx, id); err == nil {
		m.ArchivedAt = p.ArchivedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "projection read failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}

// ListMarkets returns one page of markets passing filter and the number of
// matches across all pages.
func (s *MarketService) ListMarkets(_ context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.MarketSummary, int) {
	page := s.registry.List(filter, opts)
	total := len(page)
	if opts.Limit > 0 || opts.Offset > 0 {
		total = len(s.registry.List(filter, domain.ListOpts{}))
	}
	return page, total
}

// Odds returns the YES share of market id in percent.
func (s *MarketService) Odds(_ context.Context, id domain.MarketID) (uint8, error) {
	l, err := s.registry.Market(id)
	if err != nil {
		return 0, err
	}
	return l.Odds(), nil
}

// History rebuilds the odds curve of market id from its stored events.
func (s *MarketService) History(ctx context.Context, id domain.MarketID) ([]events.OddsPoint, error) {
	if _, err := s.registry.Market(id); err != nil {
		return nil, err
	}
	log, err := s.log.ListByMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service: history of market %d: %w", id, err)
	}
	return events.OddsHistory(log), nil
}

// Position returns account's position in market id.
func (s *MarketService) Position(_ context.Context, id domain.MarketID, account common.Address) (PositionView, error) {
	l, err := s.registry.Market(id)
	if err != nil {
		return PositionView{}, err
	}
	return PositionView{
		MarketID: id,
		Position: l.Position(account),
		Winnings: l.CalculateWinnings(account),
		Resolved: l.State() == domain.MarketStateResolved,
	}, nil
}

// Escrow returns the address participants approve before staking on id.
func (s *MarketService) Escrow(id domain.MarketID) (common.Address, error) {
	l, err := s.registry.Market(id)
	if err != nil {
		return common.Address{}, err
	}
	return l.Params().Escrow, nil
}

// Stake backs side of market id with amount from participant.
func (s *MarketService) Stake(ctx context.Context, id domain.MarketID, participant common.Address, side domain.Side, amount domain.Amount) (domain.MarketSummary, error) {
	if err := s.writable(); err != nil {
		return domain.MarketSummary{}, err
	}
	if err := s.registry.Stake(ctx, id, participant, side, amount); err != nil {
		return domain.MarketSummary{}, err
	}
	return s.project(ctx, id), nil
}

// Resolve settles market id on behalf of caller.
func (s *MarketService) Resolve(ctx context.Context, caller common.Address, id domain.MarketID, outcome domain.Side) (domain.MarketSummary, error) {
	if err := s.writable(); err != nil {
		return domain.MarketSummary{}, err
	}
	if err := s.registry.ResolveMarket(ctx, caller, id, outcome); err != nil {
		return domain.MarketSummary{}, err
	}
	s.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", uint64(id)),
		slog.String("outcome", string(outcome)),
	)
	return s.project(ctx, id), nil
}

// Withdraw pays participant's winnings from market id.
func (s *MarketService) Withdraw(ctx context.Context, id domain.MarketID, participant common.Address) (domain.Amount, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}

	amount, err := s.registry.Withdraw(ctx, id, participant)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "winnings paid",
		slog.Uint64("market_id", uint64(id)),
		slog.String("account", participant.Hex()),
		slog.Uint64("amount", uint64(amount)),
	)
	s.project(ctx, id)
	return amount, nil
}

// project writes the current summary of market id to the projection store.
// A failed write is logged; the next operation or restore repairs it.
func (s *MarketService) project(ctx context.Context, id domain.MarketID) domain.MarketSummary {
	m, err := s.registry.GetMarket(id)
	if err != nil {
		return m
	}
	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "projection upsert failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
	}
	return m
}

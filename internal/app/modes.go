package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/parimutuel/internal/custody"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/registry"
	"github.com/alanyoungcy/parimutuel/internal/server"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/ws"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

const (
	// journalTimeout bounds a single event append.
	journalTimeout = 5 * time.Second
	// busTimeout bounds each call the bus sink makes.
	busTimeout = 2 * time.Second
)

// markets bundles the market service with the sinks that need their own
// goroutines.
type markets struct {
	svc    *service.MarketService
	notify *events.NotifySink
}

// buildMarkets wires the registry, its journal, the event sink chain and
// the market service. Sinks hear an event only after the journal has it;
// extra sinks run last.
func (a *App) buildMarkets(deps *Dependencies, extra ...domain.EventSink) markets {
	var sinks events.Multi
	if deps.SignalBus != nil {
		sinks = append(sinks, events.NewBusSink(deps.SignalBus, busTimeout, a.logger))
	}
	if deps.KafkaSink != nil {
		sinks = append(sinks, deps.KafkaSink)
	}
	var ns *events.NotifySink
	if deps.Notifier != nil {
		ns = events.NewNotifySink(deps.Notifier, deps.Token.Symbol(), deps.Token.Decimals(), 0, a.logger)
		sinks = append(sinks, ns)
	}
	sinks = append(sinks, extra...)

	reg := registry.New(registry.Options{
		Address:     registryAddress(a.cfg),
		MinDuration: a.cfg.Market.MinDuration.Duration,
		MaxDuration: a.cfg.Market.MaxDuration.Duration,
		EmptyPool:   domain.EmptyPoolPolicy(a.cfg.Market.EmptyPoolPolicy),
		Clock:       deps.Clock,
		Transfers:   custody.Factory(deps.Token),
		Journal:     events.NewJournal(deps.EventStore, journalTimeout),
		Sink:        sinks,
		Logger:      a.logger,
	})
	return markets{
		svc:    service.NewMarketService(reg, deps.EventStore, deps.MarketStore, deps.Leases, a.logger),
		notify: ns,
	}
}

// ServerMode takes the writer lease, restores the registry and serves the
// HTTP API, the WebSocket relay and, when S3 is configured, the periodic
// archiver. It refuses to start while another replica is the writer and
// stops if the lease is lost.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	// With a bus the hub is fed by its subscription and can replay the
	// stream; without one it is a direct sink.
	hub := ws.NewHub(deps.SignalBus, a.logger)
	var extra []domain.EventSink
	if deps.SignalBus == nil {
		extra = append(extra, hub)
	}
	m := a.buildMarkets(deps, extra...)

	lost, err := m.svc.Open(ctx)
	if errors.Is(err, domain.ErrLockHeld) {
		return fmt.Errorf("server mode: another replica is the writer: %w", err)
	}
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	defer m.svc.Close()

	tokens := service.NewTokenService(deps.Token, a.cfg.FaucetAmount(), a.logger)
	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
			MaxSkew:     a.cfg.Server.MaxSkew.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(deps.Pingers, a.logger),
			Markets: handler.NewMarketHandler(m.svc, deps.Token.Decimals(), a.logger),
			Tokens:  handler.NewTokenHandler(tokens, m.svc, a.logger),
		},
		hub,
		deps.RateLimiter,
		deps.Clock.Now,
		a.logger,
	)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	if m.notify != nil {
		g.Go(func() error {
			return m.notify.Run(ctx)
		})
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	}

	g.Go(func() error {
		select {
		case <-lost:
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("server mode: writer lease lost")
		case <-ctx.Done():
			return nil
		}
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// ReplayMode rebuilds every market from the event log, logs its summary and
// exits. It is the quickest way to check a log for consistency.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	m := a.buildMarkets(deps)
	if err := m.svc.Restore(ctx); err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}

	list, total := m.svc.ListMarkets(ctx, domain.MarketFilterAll, domain.ListOpts{})
	decimals := deps.Token.Decimals()
	for _, s := range list {
		a.logger.InfoContext(ctx, "market",
			slog.Uint64("market_id", uint64(s.ID)),
			slog.String("question", s.Question),
			slog.String("state", string(s.State)),
			slog.String("outcome", string(s.Outcome)),
			slog.String("total_yes", s.TotalYes.Format(decimals)),
			slog.String("total_no", s.TotalNo.Format(decimals)),
			slog.String("paid_out", s.PaidOut.Format(decimals)),
			slog.Int("odds", int(s.Odds)),
			slog.Int("participants", s.Participants),
			slog.Uint64("seq", s.Seq),
		)
	}
	a.logger.InfoContext(ctx, "replay complete", slog.Int("markets", total))
	return nil
}

// ArchiveMode runs one archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return errors.New("archive mode: s3 is not configured")
	}
	n, err := deps.Archiver.ArchiveResolved(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int("archived", n))
	return nil
}

// runArchiver archives on every tick until ctx is cancelled. A failed pass
// is logged and retried on the next tick.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := archiver.ArchiveResolved(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "archive pass failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived resolved markets", slog.Int("count", n))
			}
		}
	}
}

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// BusSink publishes events on the per-market pub/sub channel and appends
// them to the durable events stream. Failures are logged and dropped.
type BusSink struct {
	bus     domain.SignalBus
	timeout time.Duration
	logger  *slog.Logger
}

// NewBusSink creates a BusSink. Each bus call is bounded by timeout; zero
// means 2 seconds.
func NewBusSink(bus domain.SignalBus, timeout time.Duration, logger *slog.Logger) *BusSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &BusSink{
		bus:     bus,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "event_bus_sink")),
	}
}

// Publish implements domain.EventSink.
func (s *BusSink) Publish(ctx context.Context, e domain.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event", slog.String("error", err.Error()))
		return
	}
	ctx = context.WithoutCancel(ctx)

	pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.bus.Publish(pubCtx, Channel(e.MarketID), payload)
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish event",
			slog.Uint64("market_id", uint64(e.MarketID)),
			slog.String("error", err.Error()),
		)
	}

	streamCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.bus.StreamAppend(streamCtx, StreamName, payload)
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "failed to append event to stream",
			slog.Uint64("market_id", uint64(e.MarketID)),
			slog.String("error", err.Error()),
		)
	}
}

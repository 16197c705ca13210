package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Notifier is the subset of notify.Notifier the sink uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifySink turns market events into operator notifications. Delivery is
// asynchronous: events are queued and sent by Run. When the queue is full
// the notification is dropped.
type NotifySink struct {
	notifier Notifier
	decimals int32
	symbol   string
	queue    chan domain.Event
	logger   *slog.Logger
}

// NewNotifySink creates a NotifySink with room for size pending events.
func NewNotifySink(n Notifier, symbol string, decimals int32, size int, logger *slog.Logger) *NotifySink {
	if size <= 0 {
		size = 256
	}
	return &NotifySink{
		notifier: n,
		decimals: decimals,
		symbol:   symbol,
		queue:    make(chan domain.Event, size),
		logger:   logger.With(slog.String("component", "event_notify_sink")),
	}
}

// Publish implements domain.EventSink.
func (s *NotifySink) Publish(ctx context.Context, e domain.Event) {
	select {
	case s.queue <- e:
	default:
		s.logger.WarnContext(ctx, "notification queue full, dropping event",
			slog.Uint64("market_id", uint64(e.MarketID)),
			slog.String("kind", string(e.Kind)),
		)
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (s *NotifySink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-s.queue:
			title, message := s.Render(e)
			if err := s.notifier.Notify(ctx, string(e.Kind), title, message); err != nil {
				s.logger.WarnContext(ctx, "notification failed",
					slog.Uint64("market_id", uint64(e.MarketID)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Render formats e as a notification title and body.
func (s *NotifySink) Render(e domain.Event) (title, message string) {
	switch e.Kind {
	case domain.EventMarketCreated:
		return fmt.Sprintf("Market #%d created", e.MarketID),
			fmt.Sprintf("%s\nCloses %s", e.Question, e.Deadline.Format("2006-01-02 15:04 MST"))
	case domain.EventStaked:
		return fmt.Sprintf("Stake on market #%d", e.MarketID),
			fmt.Sprintf("%s staked %s %s on %s (pool YES %s / NO %s)",
				e.Account.Hex(), e.Amount.Format(s.decimals), s.symbol, e.Side,
				e.YesTotal.Format(s.decimals), e.NoTotal.Format(s.decimals))
	case domain.EventResolved:
		return fmt.Sprintf("Market #%d resolved", e.MarketID),
			fmt.Sprintf("Outcome: %s", e.Side)
	case domain.EventWithdrawn:
		return fmt.Sprintf("Payout on market #%d", e.MarketID),
			fmt.Sprintf("%s withdrew %s %s", e.Account.Hex(), e.Amount.Format(s.decimals), s.symbol)
	default:
		return string(e.Kind), fmt.Sprintf("market #%d seq %d", e.MarketID, e.Seq)
	}
}

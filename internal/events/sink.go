// Package events delivers ledger events to storage, buses and people, and
// rebuilds derived views such as odds history from the event log.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// StreamName is the durable stream every event is appended to.
const StreamName = "events:markets"

// ChannelPattern matches the channel of every market.
const ChannelPattern = "market:*"

// Channel returns the pub/sub channel carrying the events of market id.
func Channel(id domain.MarketID) string {
	return fmt.Sprintf("market:%d", id)
}

// Multi fans an event out to every sink in order.
type Multi []domain.EventSink

// Publish implements domain.EventSink.
func (m Multi) Publish(ctx context.Context, e domain.Event) {
	for _, s := range m {
		s.Publish(ctx, e)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish implements domain.EventSink.
func (r *Recorder) Publish(_ context.Context, e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// SinkFunc adapts a function to domain.EventSink.
type SinkFunc func(ctx context.Context, e domain.Event)

// Publish implements domain.EventSink.
func (f SinkFunc) Publish(ctx context.Context, e domain.Event) { f(ctx, e) }

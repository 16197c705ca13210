package domain

import (
	"context"
	"time"
)

// RateLimiter counts requests per key in a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out short leases for one-off jobs such as an archive
// pass. Acquire fails with ErrLockHeld when someone else holds key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LeaseManager grants long-lived exclusive leases. Hold fails with
// ErrLockHeld when key is taken and otherwise keeps renewing the lease until
// release is called or ctx ends. lost is closed once the lease can no longer
// be confirmed as ours.
type LeaseManager interface {
	Hold(ctx context.Context, key string, ttl time.Duration) (lost <-chan struct{}, release func(), err error)
}

// StreamMessage is one retained entry of an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus relays encoded market events: channels for live delivery and a
// capped stream for catch-up after a reconnect.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

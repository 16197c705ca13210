package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var _ domain.LeaseManager = (*Leases)(nil)

// Leases hands out exclusive leases within one process. Leases never
// expire while held; one ends when released or when its ctx ends.
type Leases struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLeases() *Leases {
	return &Leases{held: make(map[string]chan struct{})}
}

// Hold implements domain.LeaseManager. ttl is ignored.
func (l *Leases) Hold(ctx context.Context, key string, _ time.Duration) (<-chan struct{}, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, nil, fmt.Errorf("memory: hold lease %s: %w", key, domain.ErrLockHeld)
	}
	lost := make(chan struct{})
	l.held[key] = lost

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(lost)
		})
	}
	stop := context.AfterFunc(ctx, release)
	return lost, func() {
		stop()
		release()
	}, nil
}

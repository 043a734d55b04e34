// Package ticklock serializes timer ticks of the same kind, either within
// one process or across replicas sharing a Redis instance.
package ticklock

import (
	"context"
	"sync"
	"time"
)

// Locker takes a named lock for at most ttl. When ok is false the lock is
// held elsewhere and release is nil.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Local is an in-process Locker. The ttl is ignored; the lock is held until
// released.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

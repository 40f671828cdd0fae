package lock

import (
	"context"
	"sync"
)

// Locker serializes work on a named resource. Distinct resource keys are
// independent. Implementations must be safe for concurrent use.
//
// The order engine nests two keys: the narrow per-(offer,user) key is always
// acquired first, the broad per-offer key inside it. That ordering is fixed
// system-wide; reordering acquisitions risks deadlock.
type Locker interface {
	// WithLock acquires an exclusive lock on resource, runs fn, and releases
	// the lock when fn returns, whatever its outcome.
	WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error
}

// Local is an in-process Locker used when the lock backend is configured as
// "mock" and in tests. It provides mutual exclusion within a single process
// only.
type Local struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*sync.Mutex)}
}

func (l *Local) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[resource]
	if !ok {
		m = &sync.Mutex{}
		l.locks[resource] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

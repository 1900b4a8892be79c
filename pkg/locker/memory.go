package locker

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local locker for tests and single-node installs.
type MemoryLocker struct {
	mu     sync.Mutex
	locks  map[string]chan struct{}
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks:  make(map[string]chan struct{}),
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.locks[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.locks[key] = slot
	}

	return slot
}

// Acquire blocks until the workflow lock is free or the context is done.
// The ttl is ignored: a process-local lock dies with its holder.
func (l *MemoryLocker) Acquire(ctx context.Context, workflowID string, _ time.Duration) (ReleaseFunc, error) {
	slot := l.slot("workflow:" + workflowID)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrLockBusy
	}

	var once sync.Once

	return func() {
		once.Do(func() { <-slot })
	}, nil
}

// TryAcquire grants the lease when no unexpired lease with the same name exists.
func (l *MemoryLocker) TryAcquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, held := l.leases[name]; held && expiry.After(now) {
		return false, nil
	}

	l.leases[name] = now.Add(ttl)

	return true, nil
}

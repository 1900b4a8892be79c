// Package locker provides the two mutual-exclusion primitives the engine
// needs: a per-workflow lock that serializes transitions, and a TTL lease
// that keeps periodic jobs single-flight across worker processes.
package locker

import (
	"context"
	"errors"
	"time"
)

// ErrLockBusy is returned when a workflow lock could not be acquired before
// the context deadline. Callers retry the whole transition a bounded number
// of times.
var ErrLockBusy = errors.New("workflow lock busy")

// ReleaseFunc releases a held lock. Safe to call once.
type ReleaseFunc func()

// WorkflowLocker serializes transitions on a single workflow. Locks on
// different workflows are independent.
type WorkflowLocker interface {
	Acquire(ctx context.Context, workflowID string, ttl time.Duration) (ReleaseFunc, error)
}

// LeaseLocker hands out non-blocking TTL leases for periodic jobs. A failed
// acquire is not an error: it means another process runs the job.
type LeaseLocker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// Locker is what deployments wire: both primitives from one backend.
type Locker interface {
	WorkflowLocker
	LeaseLocker
}

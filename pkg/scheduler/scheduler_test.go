package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow/pkg/locker"
)

func testScheduler() (*Scheduler, *locker.MemoryLocker) {
	locks := locker.NewMemoryLocker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewScheduler(nil, locks, logger), locks
}

func TestRunLeased_RunsWhenLeaseWon(t *testing.T) {
	s, _ := testScheduler()

	ran := 0
	s.runLeased(context.Background(), "job-a", func(context.Context) error {
		ran++

		return nil
	})

	assert.Equal(t, 1, ran)
}

func TestRunLeased_SkipsWhenLeaseHeld(t *testing.T) {
	s, locks := testScheduler()

	held, err := locks.TryAcquire(context.Background(), "stepflow.job.job-a", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	ran := 0
	s.runLeased(context.Background(), "job-a", func(context.Context) error {
		ran++

		return nil
	})

	assert.Equal(t, 0, ran)

	// A different job name is an independent lease.
	s.runLeased(context.Background(), "job-b", func(context.Context) error {
		ran++

		return nil
	})

	assert.Equal(t, 1, ran)
}

func TestRunLeased_JobErrorDoesNotPanic(t *testing.T) {
	s, _ := testScheduler()

	s.runLeased(context.Background(), "job-a", func(context.Context) error {
		return errors.New("boom")
	})
}

// Package scheduler runs the periodic maintenance jobs: resuming expired
// delays and scanning for overdue tasks. Each tick is guarded by a lease so
// that only one scheduler instance runs a job at a time.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stepflow-io/stepflow/pkg/engine"
	"github.com/stepflow-io/stepflow/pkg/locker"
)

const (
	delayScanSchedule   = "* * * * *"   // every minute
	overdueScanSchedule = "*/5 * * * *" // every five minutes
	leaseTTL            = 50 * time.Second
)

type Scheduler struct {
	orchestrator *engine.Orchestrator
	leases       locker.LeaseLocker
	logger       *slog.Logger
	cron         *cron.Cron
}

func NewScheduler(orchestrator *engine.Orchestrator, leases locker.LeaseLocker, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		leases:       leases,
		logger:       logger.With("module", "scheduler"),
	}
}

// Start registers the jobs and starts the cron loop. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"resume-expired-delays", delayScanSchedule, s.orchestrator.ResumeExpiredDelays},
		{"overdue-scan", overdueScanSchedule, s.orchestrator.OverdueScan},
	}

	for _, job := range jobs {
		job := job

		_, err := s.cron.AddFunc(job.schedule, func() {
			s.runLeased(ctx, job.name, job.run)
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "jobs", len(jobs))

	return nil
}

// runLeased runs the job only when this instance wins the lease. A lost
// lease is a silent skip: another instance is already on it.
func (s *Scheduler) runLeased(ctx context.Context, name string, run func(context.Context) error) {
	held, err := s.leases.TryAcquire(ctx, "stepflow.job."+name, leaseTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to acquire job lease", "job", name, "error", err)

		return
	}

	if !held {
		return
	}

	started := time.Now()

	if err := run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Job failed", "job", name, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Job finished", "job", name, "duration", time.Since(started))
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

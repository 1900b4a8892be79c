// The stepflow-scheduler binary runs the periodic scans: resuming expired
// delays and sending overdue notifications. Multiple instances may run; the
// lease locker keeps each job single-flight.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/stepflow-io/stepflow/pkg/cmd"
	"github.com/stepflow-io/stepflow/pkg/engine"
	"github.com/stepflow-io/stepflow/pkg/log"
	"github.com/stepflow-io/stepflow/pkg/metrics"
	"github.com/stepflow-io/stepflow/pkg/scheduler"
)

func main() {
	logger := log.WithModule("scheduler")

	command := &cli.Command{
		Name:                  "stepflow-scheduler",
		Usage:                 "Run periodic delay-resume and overdue scans",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "lock-url",
				Usage:   "Workflow lock backend (redis://... or memory)",
				Value:   "memory",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.StringFlag{
				Name:    "directory-url",
				Usage:   "Base URL of the accounts service for identity lookups",
				Sources: cli.EnvVars("DIRECTORY_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Stepflow scheduler")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locks, err := cmd.NewLocker(ctx, command.String("lock-url"))
			if err != nil {
				return err
			}

			directory := cmd.NewDirectory(command.String("directory-url"))
			orchestrator := engine.NewOrchestrator(persistence, locks, directory, logger, metrics.NewUnregistered())

			sched := scheduler.NewScheduler(orchestrator, locks, logger)
			if err := sched.Start(ctx); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-ctx.Done():
			case <-stop:
			}

			logger.InfoContext(ctx, "Shutting down scheduler")
			sched.Stop()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

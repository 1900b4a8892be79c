// The stepflow-relay binary drains the transactional outbox and publishes
// stored events to the broker. Keeping this out of the API process means a
// slow broker never slows a transition down.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"

	"github.com/stepflow-io/stepflow/pkg/cmd"
	"github.com/stepflow-io/stepflow/pkg/log"
	"github.com/stepflow-io/stepflow/pkg/metrics"
	"github.com/stepflow-io/stepflow/pkg/outbox"
)

const (
	defaultInterval    = time.Second
	defaultMetricsPort = 9092
)

func main() {
	logger := log.WithModule("relay")

	command := &cli.Command{
		Name:                  "stepflow-relay",
		Usage:                 "Publish stored workflow events to the broker",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Outbox poll interval",
				Value:   defaultInterval,
				Sources: cli.EnvVars("RELAY_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port to expose Prometheus metrics on",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
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

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Stepflow relay")

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

			publisher, err := cmd.NewPublisher(command.String("event-bus"), "stepflow-relay", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := publisher.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close publisher", "error", err)
				}
			}()

			registry := prometheus.NewRegistry()

			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

				addr := ":" + strconv.Itoa(command.Int("metrics-port"))
				if err := http.ListenAndServe(addr, mux); err != nil {
					logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
				}
			}()

			relay := outbox.NewRelay(persistence.Outbox(), publisher, logger, command.Duration("interval")).
				WithMetrics(metrics.New(registry))

			err = relay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

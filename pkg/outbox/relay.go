package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stepflow-io/stepflow/pkg/events"
	"github.com/stepflow-io/stepflow/pkg/metrics"
)

const defaultBatchSize = 100

// Relay drains unpublished outbox messages and publishes them on the event
// bus topic. Publishing is at-least-once; consumers deduplicate by message ID.
type Relay struct {
	repo      Repository
	publisher message.Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	metrics   *metrics.Metrics
}

func NewRelay(repo Repository, publisher message.Publisher, logger *slog.Logger, interval time.Duration) *Relay {
	return &Relay{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("module", "outbox_relay"),
		interval:  interval,
		batchSize: defaultBatchSize,
	}
}

// WithMetrics attaches Prometheus collectors to the relay.
func (r *Relay) WithMetrics(m *metrics.Metrics) *Relay {
	r.metrics = m

	return r
}

// Run drains the outbox on every tick until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Failed to drain outbox", "error", err)
			}
		}
	}
}

// Drain publishes every currently unpublished message, oldest first.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		batch, err := r.repo.ListUnpublished(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("failed to list unpublished messages: %w", err)
		}

		if len(batch) == 0 {
			return nil
		}

		published := make([]string, 0, len(batch))

		for _, m := range batch {
			msg := message.NewMessage(m.ID, []byte(m.Payload))
			msg.Metadata.Set(events.EventKeyMetadataKey, m.Key)
			msg.Metadata.Set(events.EventTypeMetadataKey, string(m.EventType))

			if err := r.publisher.Publish(events.Topic, msg); err != nil {
				// Stop the batch on the first failure so ordering within a
				// workflow key is preserved on retry.
				r.logger.ErrorContext(ctx, "Failed to publish outbox message",
					"message_id", m.ID, "event_type", m.EventType, "error", err)

				break
			}

			published = append(published, m.ID)

			if r.metrics != nil {
				r.metrics.OutboxPublished.Inc()
			}
		}

		if len(published) > 0 {
			if err := r.repo.MarkPublished(ctx, published, time.Now()); err != nil {
				return fmt.Errorf("failed to mark messages published: %w", err)
			}
		}

		if len(published) < len(batch) {
			return nil
		}
	}
}

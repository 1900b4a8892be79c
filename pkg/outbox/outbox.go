// Package outbox implements the transactional outbox: lifecycle events are
// stored in the same atomic save as the workflow state mutation, and a relay
// publishes them to the event bus after commit. Slow brokers therefore never
// extend workflow lock hold time.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/pkg/eventbus"
	"github.com/stepflow-io/stepflow/pkg/events"
)

// Message is one stored, not-necessarily-yet-published event.
type Message struct {
	ID          string           `json:"id"`
	Key         string           `json:"key"` // partition key, the workflow ID
	EventType   events.EventType `json:"event_type"`
	Payload     json.RawMessage  `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

// NewMessage serializes an event into an outbox message keyed by workflow.
func NewMessage(key string, event eventbus.Event, now time.Time) (Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:        uuid.New().String(),
		Key:       key,
		EventType: event.GetType(),
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// Repository is the persistence surface the relay drains. Appending happens
// inside the workflow save, not here.
type Repository interface {
	ListUnpublished(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

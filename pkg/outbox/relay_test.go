package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow/pkg/channels/gochannel"
	"github.com/stepflow-io/stepflow/pkg/events"
	"github.com/stepflow-io/stepflow/pkg/models"
	"github.com/stepflow-io/stepflow/pkg/outbox"
	"github.com/stepflow-io/stepflow/pkg/persistence/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		AccountID:   "acc-1",
		TemplateID:  "tpl-1",
		Name:        "Relay Test",
		Status:      models.WorkflowStatusRunning,
		DateCreated: time.Now().UTC(),
	}
}

func storedMessage(t *testing.T, store *memory.Persistence, key, eventType string) outbox.Message {
	t.Helper()

	m := outbox.Message{
		ID:        uuid.New().String(),
		Key:       key,
		EventType: events.EventType(eventType),
		Payload:   json.RawMessage(`{"workflow_id":"` + key + `"}`),
		CreatedAt: time.Now().UTC(),
	}

	err := store.Workflows().Save(context.Background(), testWorkflow(key), []outbox.Message{m}, nil)
	require.NoError(t, err)

	return m
}

func TestRelay_DrainPublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(discardLogger()))
	require.NoError(t, err)

	received, err := sub.Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	stored := storedMessage(t, store, "wf-1", "workflow.started")

	// The test channel blocks Publish until the subscriber acks, so acking
	// has to happen off the goroutine running Drain.
	got := make(chan *message.Message, 1)

	go func() {
		for msg := range received {
			msg.Ack()
			got <- msg
		}
	}()

	relay := outbox.NewRelay(store.Outbox(), pub, discardLogger(), time.Second)
	require.NoError(t, relay.Drain(ctx))

	select {
	case msg := <-got:
		assert.Equal(t, stored.ID, msg.UUID)
		assert.Equal(t, "wf-1", msg.Metadata.Get(events.EventKeyMetadataKey))
		assert.Equal(t, "workflow.started", msg.Metadata.Get(events.EventTypeMetadataKey))
		assert.JSONEq(t, string(stored.Payload), string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published message")
	}

	pending, err := store.Outbox().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second drain finds nothing to publish.
	require.NoError(t, relay.Drain(ctx))

	pending, err = store.Outbox().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelay_PublishFailureKeepsMessagesUnpublished(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	storedMessage(t, store, "wf-1", "workflow.started")
	storedMessage(t, store, "wf-1", "task.activated")

	relay := outbox.NewRelay(store.Outbox(), &failingPublisher{failAfter: 1}, discardLogger(), time.Second)
	require.NoError(t, relay.Drain(ctx))

	// The first message went out, the second stays for the next drain.
	pending, err := store.Outbox().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, events.EventType("task.activated"), pending[0].EventType)
}

type failingPublisher struct {
	failAfter int
	sent      int
}

func (p *failingPublisher) Publish(_ string, messages ...*message.Message) error {
	for range messages {
		if p.sent >= p.failAfter {
			return errors.New("broker unavailable")
		}

		p.sent++
	}

	return nil
}

func (p *failingPublisher) Close() error { return nil }

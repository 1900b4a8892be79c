package engine

import (
	"github.com/stepflow-io/stepflow/pkg/eventbus"
	"github.com/stepflow-io/stepflow/pkg/events"
	"github.com/stepflow-io/stepflow/pkg/models"
)

// TransitionResult collects the side effects of exactly one applied
// transition: the events to hand to the outbound queue, deduplicated by
// construction (one task-activated per newly activated task, one
// workflow-ended per terminal transition).
type TransitionResult struct {
	Events []eventbus.Event
}

func (r *TransitionResult) emit(event eventbus.Event) {
	r.Events = append(r.Events, event)
}

func (e *Engine) base(wf *models.Workflow, eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:         e.newID(),
		Type:       eventType,
		Timestamp:  e.clock(),
		AccountID:  wf.AccountID,
		WorkflowID: wf.ID,
	}
}

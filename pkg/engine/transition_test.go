package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow/pkg/eventbus"
	"github.com/stepflow-io/stepflow/pkg/events"
	"github.com/stepflow-io/stepflow/pkg/models"
)

type fakeSubs struct {
	running map[string]int
}

func (f *fakeSubs) CountRunningSubWorkflows(_ context.Context, taskID string) (int, error) {
	return f.running[taskID], nil
}

type engineFixture struct {
	engine    *Engine
	directory *fakeDirectory
	subs      *fakeSubs
	now       time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		directory: newFakeDirectory(),
		subs:      &fakeSubs{running: map[string]int{}},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.directory, f.subs).withClock(func() time.Time { return f.now })

	return f
}

// threeTaskTemplate builds a template with one user performer per task.
func threeTaskTemplate() *models.Template {
	tasks := make([]*models.TaskTemplate, 0, 3)

	for n := 1; n <= 3; n++ {
		tasks = append(tasks, &models.TaskTemplate{
			Number:      n,
			Name:        "Task " + string(rune('0'+n)),
			APIName:     "task_" + string(rune('0'+n)),
			AllowRevert: true,
			RawPerformers: []*models.RawPerformer{{
				Kind:   models.PerformerKindUser,
				UserID: "user-" + string(rune('0'+n)),
			}},
		})
	}

	return &models.Template{
		ID:        "tpl-1",
		AccountID: "acc-1",
		Name:      "Three Tasks",
		IsActive:  true,
		Tasks:     tasks,
	}
}

func (f *engineFixture) run(t *testing.T, template *models.Template, req RunRequest) *models.Workflow {
	t.Helper()

	wf := f.engine.materialize(template, req)
	res := &TransitionResult{}
	require.NoError(t, f.engine.Advance(context.Background(), wf, res))

	return wf
}

func eventTypes(res *TransitionResult) []events.EventType {
	out := make([]events.EventType, 0, len(res.Events))
	for _, e := range res.Events {
		out = append(out, e.GetType())
	}

	return out
}

func findEvent(res *TransitionResult, eventType events.EventType) (eventbus.Event, bool) {
	for _, e := range res.Events {
		if e.GetType() == eventType {
			return e, true
		}
	}

	return nil, false
}

func TestLifecycle_CompleteAllTasks(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	assert.Equal(t, 1, wf.CurrentTask)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[0].Status)
	assert.Equal(t, models.TaskStatusPending, wf.Tasks[1].Status)

	res, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, wf.Tasks[0].Status)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[1].Status)
	assert.Equal(t, 2, wf.CurrentTask)
	assert.Contains(t, eventTypes(res), events.TaskCompletedEvent)
	assert.Contains(t, eventTypes(res), events.TaskActivatedEvent)

	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[1].ID, "user-2")
	require.NoError(t, err)

	res, err = f.engine.Complete(context.Background(), wf, wf.Tasks[2].ID, "user-3")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDone, wf.Status)
	assert.Equal(t, models.EndReasonCompleted, wf.EndReason)
	assert.Equal(t, 3, wf.CurrentTask)
	require.NotNil(t, wf.DateCompleted)

	ended, ok := findEvent(res, events.WorkflowEndedEvent)
	require.True(t, ok)
	assert.Equal(t, models.EndReasonCompleted, ended.(events.WorkflowEnded).Reason)
}

func TestLifecycle_ConditionSkipsMiddleTask(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[1].Conditions = []*models.Condition{{
		ID:     "c1",
		Action: models.ConditionActionSkipTask,
		Order:  1,
		Rules: []models.Rule{singlePredicate(
			"priority", models.OperatorEqual, models.FieldTypeText, "low",
		)},
	}}

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{
		StarterID: "starter-1",
		Kickoff:   []models.FieldValue{{APIName: "priority", Type: models.FieldTypeText, Value: "low"}},
	})

	res, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusSkipped, wf.Tasks[1].Status)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[2].Status)
	assert.Equal(t, 3, wf.CurrentTask)
	// The skipped task never materialized performers.
	assert.Empty(t, wf.Tasks[1].Performers)
	assert.Contains(t, eventTypes(res), events.TaskSkippedEvent)
}

func TestLifecycle_ConditionEndsWorkflow(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[1].Conditions = []*models.Condition{{
		ID:     "c1",
		Action: models.ConditionActionEndWorkflow,
		Order:  1,
		Rules: []models.Rule{singlePredicate(
			"approved", models.OperatorEqual, models.FieldTypeText, "no",
		)},
	}}

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{
		StarterID: "starter-1",
		Kickoff:   []models.FieldValue{{APIName: "approved", Type: models.FieldTypeText, Value: "no"}},
	})

	res, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDone, wf.Status)
	assert.Equal(t, models.EndReasonByCondition, wf.EndReason)
	// Remaining tasks are left untouched, not skipped.
	assert.Equal(t, models.TaskStatusPending, wf.Tasks[1].Status)
	assert.Equal(t, models.TaskStatusPending, wf.Tasks[2].Status)

	ended, ok := findEvent(res, events.WorkflowEndedEvent)
	require.True(t, ok)
	assert.Equal(t, models.EndReasonByCondition, ended.(events.WorkflowEnded).Reason)
}

func TestComplete_RequireCompletionByAll(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[0].RequireCompletionByAll = true
	template.Tasks[0].RawPerformers = []*models.RawPerformer{
		{Kind: models.PerformerKindUser, UserID: "user-a"},
		{Kind: models.PerformerKindUser, UserID: "user-b"},
	}

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	res, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[0].Status)
	assert.Equal(t, 1, wf.CurrentTask)
	assert.NotContains(t, eventTypes(res), events.TaskActivatedEvent)

	// Double completion by the same performer is rejected.
	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-a")
	assert.ErrorIs(t, err, ErrAlreadyCompletedByUser)

	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-b")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, wf.Tasks[0].Status)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[1].Status)
}

func TestComplete_OwnerOverridesByAll(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[0].RequireCompletionByAll = true
	template.Tasks[0].RawPerformers = []*models.RawPerformer{
		{Kind: models.PerformerKindUser, UserID: "user-a"},
		{Kind: models.PerformerKindUser, UserID: "user-b"},
	}

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	// owner-1 holds no performer row but completes anyway, and the owner
	// completion finishes the task outright.
	_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, wf.Tasks[0].Status)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[1].Status)
}

func TestComplete_GroupMembership(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[0].RawPerformers = []*models.RawPerformer{
		{Kind: models.PerformerKindGroup, GroupID: "grp-1"},
	}

	f := newEngineFixture(t)
	f.directory.addMember("grp-1", "user-m")
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	// An outsider with no row and no membership is rejected.
	_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-x")
	assert.ErrorIs(t, err, ErrNotAPerformer)

	// A group member completes through the group row.
	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-m")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, wf.Tasks[0].Status)
}

func TestComplete_Guards(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	t.Run("not current task", func(t *testing.T) {
		_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[1].ID, "user-2")
		assert.ErrorIs(t, err, ErrTaskNotCurrent)
	})

	t.Run("checklists incomplete", func(t *testing.T) {
		wf.Tasks[0].ChecklistsTotal = 2
		wf.Tasks[0].ChecklistsMarked = 1

		_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
		assert.ErrorIs(t, err, ErrChecklistsIncomplete)

		wf.Tasks[0].ChecklistsMarked = 2
	})

	t.Run("sub-workflows still running", func(t *testing.T) {
		f.subs.running[wf.Tasks[0].ID] = 1

		_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
		assert.ErrorIs(t, err, ErrSubWorkflowsRunning)

		delete(f.subs.running, wf.Tasks[0].ID)
	})

	t.Run("delayed workflow rejects completion", func(t *testing.T) {
		wf.Status = models.WorkflowStatusDelayed

		_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
		assert.ErrorIs(t, err, ErrWorkflowNotRunning)

		wf.Status = models.WorkflowStatusRunning
	})

	t.Run("ended workflow rejects completion", func(t *testing.T) {
		wf.Status = models.WorkflowStatusDone

		_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
		assert.ErrorIs(t, err, ErrAlreadyEnded)

		wf.Status = models.WorkflowStatusRunning
	})
}

func TestRevert_SingleStep(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, wf.CurrentTask)

	res, err := f.engine.Revert(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 1, wf.CurrentTask)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[0].Status)
	assert.Equal(t, models.TaskStatusPending, wf.Tasks[1].Status)
	assert.Contains(t, eventTypes(res), events.TaskRevertedEvent)

	// Completion flags on the reverted-to task were cleared.
	for _, p := range wf.Tasks[0].ActivePerformers() {
		assert.False(t, p.IsCompleted)
	}

	// The run can be redone forward.
	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, wf.CurrentTask)
	assert.Equal(t, models.TaskStatusCompleted, wf.Tasks[0].Status)
}

func TestRevert_Guards(t *testing.T) {
	f := newEngineFixture(t)

	t.Run("first task has no predecessor", func(t *testing.T) {
		wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

		_, err := f.engine.Revert(context.Background(), wf)
		assert.ErrorIs(t, err, ErrTaskNotReturnable)
	})

	t.Run("allow_revert disabled", func(t *testing.T) {
		template := threeTaskTemplate()
		template.Tasks[1].AllowRevert = false

		wf := f.run(t, template, RunRequest{StarterID: "starter-1"})
		_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
		require.NoError(t, err)

		_, err = f.engine.Revert(context.Background(), wf)
		assert.ErrorIs(t, err, ErrTaskNotReturnable)
	})

	t.Run("predecessor now conditionally skipped", func(t *testing.T) {
		template := threeTaskTemplate()
		template.Tasks[0].Conditions = []*models.Condition{{
			ID:     "c1",
			Action: models.ConditionActionSkipTask,
			Order:  1,
			Rules: []models.Rule{singlePredicate(
				"priority", models.OperatorEqual, models.FieldTypeText, "low",
			)},
		}}

		wf := f.run(t, template, RunRequest{StarterID: "starter-1"})
		require.Equal(t, 1, wf.CurrentTask)

		_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
		require.NoError(t, err)

		// The field changes after task 1 completed; reverting to a task that
		// would now be skipped is rejected rather than cascading.
		wf.Kickoff = []models.FieldValue{{APIName: "priority", Type: models.FieldTypeText, Value: "low"}}

		_, err = f.engine.Revert(context.Background(), wf)
		assert.ErrorIs(t, err, ErrTaskNotReturnable)
	})
}

func TestRevert_ExplicitTargetOverride(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[2].RevertTask = "task_1"

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)
	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[1].ID, "user-2")
	require.NoError(t, err)
	require.Equal(t, 3, wf.CurrentTask)

	_, err = f.engine.Revert(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 1, wf.CurrentTask)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[0].Status)
}

func TestReturnTo_JumpBack(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[1].DelayDuration = models.Duration(time.Hour)

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)

	// Task 2 started a template delay; force-resume and complete it.
	require.Equal(t, models.WorkflowStatusDelayed, wf.Status)
	_, err = f.engine.ForceResume(context.Background(), wf)
	require.NoError(t, err)
	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[1].ID, "user-2")
	require.NoError(t, err)
	require.Equal(t, 3, wf.CurrentTask)

	res, err := f.engine.ReturnTo(context.Background(), wf, wf.Tasks[0].ID)
	require.NoError(t, err)

	assert.Equal(t, 1, wf.CurrentTask)
	assert.Equal(t, 1, wf.RevertedTo)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[0].Status)
	assert.Equal(t, models.TaskStatusPending, wf.Tasks[1].Status)
	assert.Equal(t, models.TaskStatusPending, wf.Tasks[2].Status)
	assert.Nil(t, wf.Tasks[1].DateStarted)

	// The ended delay on task 2 is historical and stays.
	require.Len(t, wf.Tasks[1].Delays, 1)
	assert.NotNil(t, wf.Tasks[1].Delays[0].EndDate)

	for _, p := range wf.Tasks[1].Performers {
		assert.False(t, p.IsCompleted)
	}

	reverted, ok := findEvent(res, events.WorkflowRevertedEvent)
	require.True(t, ok)
	assert.Equal(t, 3, reverted.(events.WorkflowReverted).FromTaskNumber)
	assert.Equal(t, 1, reverted.(events.WorkflowReverted).ToTaskNumber)
}

func TestReturnTo_ReopensDoneWorkflow(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	for _, userID := range []string{"user-1", "user-2", "user-3"} {
		task, _ := wf.ActiveTask()
		_, err := f.engine.Complete(context.Background(), wf, task.ID, userID)
		require.NoError(t, err)
	}

	require.Equal(t, models.WorkflowStatusDone, wf.Status)

	_, err := f.engine.ReturnTo(context.Background(), wf, wf.Tasks[2].ID)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Empty(t, string(wf.EndReason))
	assert.Nil(t, wf.DateCompleted)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[2].Status)
}

func TestReturnTo_Guards(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)

	t.Run("forward target rejected", func(t *testing.T) {
		_, err := f.engine.ReturnTo(context.Background(), wf, wf.Tasks[2].ID)
		assert.ErrorIs(t, err, ErrInvalidReturnTarget)
	})

	t.Run("current task rejected while running", func(t *testing.T) {
		_, err := f.engine.ReturnTo(context.Background(), wf, wf.Tasks[1].ID)
		assert.ErrorIs(t, err, ErrInvalidReturnTarget)
	})

	t.Run("unknown task rejected", func(t *testing.T) {
		_, err := f.engine.ReturnTo(context.Background(), wf, "nope")
		assert.ErrorIs(t, err, ErrInvalidReturnTarget)
	})

	t.Run("sub-workflow on affected task rejected", func(t *testing.T) {
		f.subs.running[wf.Tasks[1].ID] = 2

		_, err := f.engine.ReturnTo(context.Background(), wf, wf.Tasks[0].ID)
		assert.ErrorIs(t, err, ErrSubWorkflowsRunning)

		delete(f.subs.running, wf.Tasks[1].ID)
	})

	t.Run("terminated workflow rejected", func(t *testing.T) {
		wf.Status = models.WorkflowStatusTerminated

		_, err := f.engine.ReturnTo(context.Background(), wf, wf.Tasks[0].ID)
		assert.ErrorIs(t, err, ErrAlreadyEnded)

		wf.Status = models.WorkflowStatusRunning
	})
}

func TestReturnTo_FromDelayedWorkflow(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	_, err := f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)

	_, err = f.engine.ForceDelay(context.Background(), wf, models.Duration(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.WorkflowStatusDelayed, wf.Status)

	_, err = f.engine.ReturnTo(context.Background(), wf, wf.Tasks[0].ID)
	require.NoError(t, err)

	// The abandoned pause ends with the return; no force-resume needed.
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[0].Status)
	assert.Equal(t, models.TaskStatusPending, wf.Tasks[1].Status)

	// The forced delay on the left task is closed history.
	require.Len(t, wf.Tasks[1].Delays, 1)
	assert.NotNil(t, wf.Tasks[1].Delays[0].EndDate)
	_, open := wf.Tasks[1].OpenDelay()
	assert.False(t, open)

	// Progress resumes normally, including through the once-delayed task.
	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[1].Status)

	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[1].ID, "user-2")
	require.NoError(t, err)
}

func TestFinish_EarlyTermination(t *testing.T) {
	template := threeTaskTemplate()
	template.Finalizable = true

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	t.Run("random user lacks permission", func(t *testing.T) {
		_, err := f.engine.Finish(context.Background(), wf, "user-x")
		assert.ErrorIs(t, err, ErrNotFinalizable)
	})

	t.Run("starter may finish", func(t *testing.T) {
		res, err := f.engine.Finish(context.Background(), wf, "starter-1")
		require.NoError(t, err)

		assert.Equal(t, models.WorkflowStatusDone, wf.Status)
		assert.Equal(t, models.EndReasonTerminated, wf.EndReason)

		ended, ok := findEvent(res, events.WorkflowEndedEvent)
		require.True(t, ok)
		assert.Equal(t, "starter-1", ended.(events.WorkflowEnded).UserID)
	})

	t.Run("already ended", func(t *testing.T) {
		_, err := f.engine.Finish(context.Background(), wf, "starter-1")
		assert.ErrorIs(t, err, ErrAlreadyEnded)
	})
}

func TestFinish_NotFinalizable(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	_, err := f.engine.Finish(context.Background(), wf, "starter-1")
	assert.ErrorIs(t, err, ErrNotFinalizable)
}

func TestForceDelayAndResume(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	res, err := f.engine.ForceDelay(context.Background(), wf, models.Duration(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDelayed, wf.Status)
	assert.Equal(t, models.TaskStatusDelayed, wf.Tasks[0].Status)

	delay, open := wf.Tasks[0].OpenDelay()
	require.True(t, open)
	assert.Equal(t, models.DirectlyStatusCreated, delay.DirectlyStatus)
	assert.Contains(t, eventTypes(res), events.WorkflowDelayedEvent)

	// Completing while delayed is rejected.
	_, err = f.engine.Complete(context.Background(), wf, wf.Tasks[0].ID, "user-1")
	assert.ErrorIs(t, err, ErrWorkflowNotRunning)

	// A template duration change in between must not touch the forced delay.
	f.engine.delays.UpdateDuration(wf.Tasks[0], models.Duration(time.Hour))

	res, err = f.engine.ForceResume(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Equal(t, models.TaskStatusActive, wf.Tasks[0].Status)
	assert.NotNil(t, delay.EndDate)
	assert.Equal(t, models.Duration(24*time.Hour), delay.Duration)
	assert.Contains(t, eventTypes(res), events.WorkflowResumedEvent)

	// Resuming a running workflow is rejected.
	_, err = f.engine.ForceResume(context.Background(), wf)
	assert.ErrorIs(t, err, ErrWorkflowNotDelayed)
}

func TestTemplateDelay_StartsOnActivation(t *testing.T) {
	template := threeTaskTemplate()
	template.Tasks[0].DelayDuration = models.Duration(time.Hour)

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	assert.Equal(t, models.WorkflowStatusDelayed, wf.Status)
	assert.Equal(t, models.TaskStatusDelayed, wf.Tasks[0].Status)

	delay, open := wf.Tasks[0].OpenDelay()
	require.True(t, open)
	assert.Equal(t, models.DirectlyStatusNone, delay.DirectlyStatus)
	require.NotNil(t, delay.EstimatedEndDate)
	assert.Equal(t, f.now.Add(time.Hour), *delay.EstimatedEndDate)
}

func TestActivateTask_DueDateFromDueIn(t *testing.T) {
	due := models.Duration(48 * time.Hour)
	template := threeTaskTemplate()
	template.Tasks[0].DueIn = &due

	f := newEngineFixture(t)
	wf := f.run(t, template, RunRequest{StarterID: "starter-1"})

	require.NotNil(t, wf.Tasks[0].DueDate)
	assert.Equal(t, f.now.Add(48*time.Hour), *wf.Tasks[0].DueDate)
	assert.False(t, wf.Tasks[0].OverdueSent)
}

func TestSetUrgency(t *testing.T) {
	f := newEngineFixture(t)
	wf := f.run(t, threeTaskTemplate(), RunRequest{StarterID: "starter-1"})

	res, err := f.engine.SetUrgency(wf, true)
	require.NoError(t, err)
	assert.True(t, wf.IsUrgent)
	assert.Contains(t, eventTypes(res), events.WorkflowUrgencyChangedEvent)

	// Setting the same value again emits nothing.
	res, err = f.engine.SetUrgency(wf, true)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestMaterialize_SnapshotsTemplate(t *testing.T) {
	template := threeTaskTemplate()
	f := newEngineFixture(t)

	wf := f.engine.materialize(template, RunRequest{
		Name:      "March onboarding",
		StarterID: "starter-1",
		IsUrgent:  true,
	})

	assert.Equal(t, "March onboarding", wf.Name)
	assert.Equal(t, template.ID, wf.TemplateID)
	assert.Equal(t, 3, wf.TaskCount)
	assert.True(t, wf.IsUrgent)
	assert.Equal(t, 0, wf.CurrentTask)
	assert.Contains(t, wf.Members, "starter-1")

	// Task definitions were copied, not aliased.
	template.Tasks[0].Name = "mutated"
	assert.Equal(t, "Task 1", wf.Tasks[0].Name)
}

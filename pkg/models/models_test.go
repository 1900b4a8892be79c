package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayState(t *testing.T) {
	now := time.Now()

	delay := &Delay{Duration: Duration(time.Hour)}
	assert.Equal(t, DelayStatePending, delay.State(now))

	delay.Start(now)
	assert.Equal(t, DelayStateActive, delay.State(now))
	require.NotNil(t, delay.EstimatedEndDate)
	assert.Equal(t, now.Add(time.Hour), *delay.EstimatedEndDate)

	assert.Equal(t, DelayStateExpired, delay.State(now.Add(2*time.Hour)))
	assert.True(t, delay.IsExpired(now.Add(2*time.Hour)))

	end := now.Add(30 * time.Minute)
	delay.EndDate = &end
	assert.Equal(t, DelayStateEnded, delay.State(now.Add(2*time.Hour)))
}

func TestWorkflowPriorFieldValue(t *testing.T) {
	wf := &Workflow{
		Kickoff: []FieldValue{
			{APIName: "priority", Type: FieldTypeText, Value: "low"},
		},
		Tasks: []*Task{
			{Number: 1, OutputFields: []FieldValue{
				{APIName: "priority", Type: FieldTypeText, Value: "high"},
				{APIName: "approver", Type: FieldTypeUser, Value: "user-7"},
			}},
			{Number: 2, OutputFields: []FieldValue{
				{APIName: "priority", Type: FieldTypeText, Value: "urgent"},
			}},
		},
	}

	// Kickoff value is visible before any task output exists.
	fv, ok := wf.PriorFieldValue("priority", 1)
	require.True(t, ok)
	assert.Equal(t, "low", fv.Value)

	// Later task output shadows kickoff.
	fv, ok = wf.PriorFieldValue("priority", 2)
	require.True(t, ok)
	assert.Equal(t, "high", fv.Value)

	// The most recent prior value wins.
	fv, ok = wf.PriorFieldValue("priority", 3)
	require.True(t, ok)
	assert.Equal(t, "urgent", fv.Value)

	_, ok = wf.PriorFieldValue("missing", 3)
	assert.False(t, ok)

	fields := wf.FieldsBefore(2)
	assert.Equal(t, "high", fields["priority"].Value)
	assert.Equal(t, "user-7", fields["approver"].Value)
}

func TestOperatorNegative(t *testing.T) {
	assert.True(t, OperatorNotEqual.Negative())
	assert.True(t, OperatorNotExists.Negative())
	assert.True(t, OperatorNotContain.Negative())
	assert.False(t, OperatorEqual.Negative())
	assert.False(t, OperatorMoreThan.Negative())
}

func TestDurationJSON(t *testing.T) {
	d := Duration(36 * time.Hour)

	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"36h0m0s"`, string(data))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalJSON([]byte(`"15m"`)))
	assert.Equal(t, 15*time.Minute, parsed.Std())

	require.Error(t, parsed.UnmarshalJSON([]byte(`"nope"`)))
}

func TestTaskActivePerformers(t *testing.T) {
	deleted := time.Now()
	task := &Task{Performers: []*TaskPerformer{
		{UserID: "u1", Kind: PerformerKindUser, DirectlyStatus: DirectlyStatusNone},
		{UserID: "u2", Kind: PerformerKindUser, DirectlyStatus: DirectlyStatusDeleted},
		{UserID: "u3", Kind: PerformerKindUser, DirectlyStatus: DirectlyStatusNone, DeletedAt: &deleted},
		{GroupID: "g1", Kind: PerformerKindGroup, DirectlyStatus: DirectlyStatusCreated},
	}}

	active := task.ActivePerformers()
	require.Len(t, active, 2)
	assert.Equal(t, "user:u1", active[0].Identity())
	assert.Equal(t, "group:g1", active[1].Identity())
}

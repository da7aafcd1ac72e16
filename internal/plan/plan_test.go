package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainPlan() *ExecutionPlan {
	return &ExecutionPlan{
		Tasks: []*Task{
			{ID: "task_1", Status: StatusPending},
			{ID: "task_2", Dependencies: []string{"task_1"}, Status: StatusPending},
			{ID: "task_3", Dependencies: []string{"task_2"}, Status: StatusPending},
		},
		ExecutionPhases: [][]string{{"task_1"}, {"task_2"}, {"task_3"}},
	}
}

func TestExecutionPlan_NextTask(t *testing.T) {
	t.Parallel()

	p := chainPlan()

	next := p.NextTask()
	require.NotNil(t, next)
	assert.Equal(t, "task_1", next.ID)

	p.MarkCompleted("task_1", "done")
	next = p.NextTask()
	require.NotNil(t, next)
	assert.Equal(t, "task_2", next.ID)

	// An in-progress task blocks its dependents without being returned
	// again itself.
	p.MarkStarted("task_2")
	assert.Nil(t, p.NextTask())

	p.MarkCompleted("task_2", "done")
	next = p.NextTask()
	require.NotNil(t, next)
	assert.Equal(t, "task_3", next.ID)
}

func TestExecutionPlan_NextTask_PrefersEarlierTask(t *testing.T) {
	t.Parallel()

	p := &ExecutionPlan{
		Tasks: []*Task{
			{ID: "task_1", Status: StatusPending},
			{ID: "task_2", Status: StatusPending},
		},
	}

	next := p.NextTask()
	require.NotNil(t, next)
	assert.Equal(t, "task_1", next.ID)
}

func TestExecutionPlan_MarkTransitions(t *testing.T) {
	t.Parallel()

	p := chainPlan()

	p.MarkStarted("task_1")
	assert.Equal(t, StatusInProgress, p.Tasks[0].Status)
	require.NotNil(t, p.Tasks[0].StartedAt)

	p.MarkCompleted("task_1", "all good")
	assert.Equal(t, StatusCompleted, p.Tasks[0].Status)
	assert.Equal(t, "all good", p.Tasks[0].Result)
	require.NotNil(t, p.Tasks[0].CompletedAt)

	p.MarkFailed("task_2", "tests broke")
	assert.Equal(t, StatusFailed, p.Tasks[1].Status)
	assert.Equal(t, "Failed: tests broke", p.Tasks[1].Result)
	require.NotNil(t, p.Tasks[1].CompletedAt)

	// Unknown IDs are ignored.
	p.MarkCompleted("task_99", "x")
	assert.Equal(t, StatusPending, p.Tasks[2].Status)
}

func TestExecutionPlan_Progress(t *testing.T) {
	t.Parallel()

	p := &ExecutionPlan{
		Tasks: []*Task{
			{ID: "a", Status: StatusCompleted},
			{ID: "b", Status: StatusCompleted},
			{ID: "c", Status: StatusFailed},
			{ID: "d", Status: StatusInProgress},
			{ID: "e", Status: StatusPending},
		},
	}

	assert.Equal(t, Progress{
		Total:      5,
		Completed:  2,
		Failed:     1,
		InProgress: 1,
		Pending:    1,
		Percentage: 40,
	}, p.Progress())
}

func TestExecutionPlan_Progress_Empty(t *testing.T) {
	t.Parallel()

	p := &ExecutionPlan{}
	assert.Equal(t, Progress{}, p.Progress())
}

func TestExecutionPlan_PendingTasks(t *testing.T) {
	t.Parallel()

	p := chainPlan()
	p.MarkCompleted("task_1", "")

	pending := p.PendingTasks()
	require.Len(t, pending, 2)
	assert.Equal(t, "task_2", pending[0].ID)
	assert.Equal(t, "task_3", pending[1].ID)
}

func TestExecutionPlan_TasksByPhase(t *testing.T) {
	t.Parallel()

	p := chainPlan()
	p.ExecutionPhases = [][]string{{"task_1", "ghost"}, {"ghost"}, {"task_2", "task_3"}}

	phases := p.TasksByPhase()
	require.Len(t, phases, 2)
	require.Len(t, phases[0], 1)
	assert.Equal(t, "task_1", phases[0][0].ID)
	require.Len(t, phases[1], 2)
	assert.Equal(t, "task_2", phases[1][0].ID)
	assert.Equal(t, "task_3", phases[1][1].ID)
}

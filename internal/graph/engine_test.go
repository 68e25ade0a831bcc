package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear() TaskGraph {
	return New(
		TaskNode{ID: "t1", Status: StatusReady},
		TaskNode{ID: "t2", Status: StatusPending, DependsOn: []string{"t1"}},
		TaskNode{ID: "t3", Status: StatusPending, DependsOn: []string{"t2"}},
	)
}

func TestReadyTasksPromotesPendingWithTerminalDeps(t *testing.T) {
	g := linear()
	assert.Equal(t, []string{"t1"}, g.ReadyTasks())

	g, err := g.UpdateStatus("t1", StatusDone)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, g.ReadyTasks())
	n, _ := g.Get("t2")
	assert.Equal(t, StatusReady, n.Status)
}

func TestUpdateStatusIdempotent(t *testing.T) {
	g := linear()
	once, err := g.UpdateStatus("t1", StatusDone, WithOutput("ok"))
	require.NoError(t, err)
	twice, err := once.UpdateStatus("t1", StatusDone, WithOutput("ok"))
	require.NoError(t, err)
	assert.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestAddThenRemoveYieldsCancelledNotAbsent(t *testing.T) {
	g := New()
	g, ids := g.AddTasks([]TaskSpec{{Title: "only task"}})
	require.Len(t, ids, 1)
	g = g.RemoveTasks(ids)
	n, ok := g.Get(ids[0])
	require.True(t, ok, "removed task must remain present, not absent")
	assert.Equal(t, StatusCancelled, n.Status)
}

func TestRemoveTasksAutoPromotesDownstream(t *testing.T) {
	g := linear()
	g = g.RemoveTasks([]string{"t1"})
	n, _ := g.Get("t2")
	assert.Equal(t, StatusReady, n.Status)
}

func TestAddTasksReadinessEvaluatedAgainstPreInsertGraph(t *testing.T) {
	// Open Question (spec.md §9): co-batched dependents are evaluated against
	// the pre-insert graph and may remain pending for one extra cycle.
	g := New()
	g, ids := g.AddTasks([]TaskSpec{
		{ID: "a", Title: "first"},
		{ID: "b", Title: "second", DependsOn: []string{"a"}},
	})
	require.Equal(t, []string{"a", "b"}, ids)
	nb, _ := g.Get("b")
	assert.Equal(t, StatusPending, nb.Status)
}

func TestRetryResetsFailedAndIncrementsAttempts(t *testing.T) {
	g := New(TaskNode{ID: "t1", Status: StatusFailed, Attempts: 1, Error: "boom"})
	g, err := g.Retry("t1", nil, nil, nil)
	require.NoError(t, err)
	n, _ := g.Get("t1")
	assert.Equal(t, StatusReady, n.Status)
	assert.Equal(t, 2, n.Attempts)
	assert.Empty(t, n.Error)
}

func TestBlockAndUnblock(t *testing.T) {
	g := New(TaskNode{ID: "t1", Status: StatusRunning})
	g, err := g.Block("t1", "need clarification")
	require.NoError(t, err)
	n, _ := g.Get("t1")
	assert.Equal(t, StatusBlocked, n.Status)
	assert.Equal(t, "need clarification", n.BlockingQuestion)

	g, err = g.Unblock("t1")
	require.NoError(t, err)
	n, _ = g.Get("t1")
	assert.Equal(t, StatusReady, n.Status)
	assert.Empty(t, n.BlockingQuestion)
}

func TestIsCompleteAndIsStuck(t *testing.T) {
	g := New(
		TaskNode{ID: "t1", Status: StatusDone},
		TaskNode{ID: "t2", Status: StatusSkipped},
	)
	assert.True(t, g.IsComplete())
	assert.False(t, g.IsStuck())

	stuck := New(
		TaskNode{ID: "t1", Status: StatusBlocked},
		TaskNode{ID: "t2", Status: StatusPending, DependsOn: []string{"t1"}},
	)
	assert.False(t, stuck.IsComplete())
	assert.True(t, stuck.IsStuck())
}

func TestNextTaskID(t *testing.T) {
	g := New(TaskNode{ID: "t1"}, TaskNode{ID: "t7"}, TaskNode{ID: "t3"})
	assert.Equal(t, "t8", g.Next())
	assert.Equal(t, "t1", New().Next())
}

func TestValidateDetectsDanglingReference(t *testing.T) {
	g := New(TaskNode{ID: "t1", DependsOn: []string{"missing"}})
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestValidateDetectsCycle(t *testing.T) {
	g := New(
		TaskNode{ID: "t1", DependsOn: []string{"t2"}},
		TaskNode{ID: "t2", DependsOn: []string{"t1"}},
	)
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestSnapshotOrderingIsLexicographic(t *testing.T) {
	g := New(TaskNode{ID: "t10"}, TaskNode{ID: "t2"}, TaskNode{ID: "t1"})
	snap := g.Snapshot()
	ids := make([]string, len(snap.Tasks))
	for i, n := range snap.Tasks {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"t1", "t10", "t2"}, ids)
}

package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/graph"
)

func TestCreateAndUpdatePipelineRun(t *testing.T) {
	ctx := context.Background()
	store := New()

	run := checkpoint.PipelineRun{RunID: "r1", ProjectID: "p1", Status: checkpoint.StatusRunning}
	require.NoError(t, store.CreatePipelineRun(ctx, run))

	status := checkpoint.StatusCompleted
	cost := 1.23
	require.NoError(t, store.UpdatePipelineRun(ctx, "r1", checkpoint.Fields{
		Status:         &status,
		RunningCostUSD: &cost,
	}))

	got, ok := store.GetPipelineRun(ctx, "r1")
	require.True(t, ok)
	assert.Equal(t, checkpoint.StatusCompleted, got.Status)
	assert.Equal(t, 1.23, got.RunningCostUSD)
}

func TestUpdatePipelineRunUnknownReturnsError(t *testing.T) {
	err := New().UpdatePipelineRun(context.Background(), "missing", checkpoint.Fields{})
	assert.Error(t, err)
}

func TestGetPipelineRunReturnsDefensiveCopy(t *testing.T) {
	ctx := context.Background()
	store := New()
	run := checkpoint.PipelineRun{
		RunID: "r1",
		Graph: graph.Snapshot{Tasks: []graph.TaskNode{{ID: "t1"}}},
	}
	require.NoError(t, store.CreatePipelineRun(ctx, run))

	got, ok := store.GetPipelineRun(ctx, "r1")
	require.True(t, ok)
	got.Graph.Tasks[0].ID = "mutated"

	again, _ := store.GetPipelineRun(ctx, "r1")
	assert.Equal(t, "t1", again.Graph.Tasks[0].ID)
}

func TestAgentMessageInboxRouting(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.CreateAgentMessage(ctx, checkpoint.AgentMessageRow{RunID: "r1", From: "coder", To: "pm", Type: "question", Message: "which db?"}))
	require.NoError(t, store.CreateAgentMessage(ctx, checkpoint.AgentMessageRow{RunID: "r1", From: "reviewer", To: "coder", Type: "suggestion", Message: "use postgres"}))

	inbox, err := store.GetInboxMessages(ctx, "r1", "pm")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "which db?", inbox[0].Message)
}

func TestFindProjectByIDRequiresSeed(t *testing.T) {
	ctx := context.Background()
	store := New()

	_, err := store.FindProjectByID(ctx, "p1")
	assert.Error(t, err)

	store.Seed(checkpoint.Project{ID: "p1", Name: "demo"})
	p, err := store.FindProjectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
}

func TestAgentRunsAndEventsAccumulate(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.CreateAgentRun(ctx, checkpoint.AgentRunRow{RunID: "r1", TaskID: "t1", Attempt: 1}))
	require.NoError(t, store.CreateEventLog(ctx, checkpoint.EventLogRow{RunID: "r1", Kind: "task_completed"}))

	assert.Len(t, store.AgentRuns(), 1)
	assert.Len(t, store.Events(), 1)
}

package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/orchestrator/internal/memory"
)

func TestAppendAndReadEvents(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.AppendEvent(ctx, "r1", memory.Event{Type: memory.EventTaskCompleted, TaskID: "t1"}))
	require.NoError(t, store.AppendEvent(ctx, "r1", memory.Event{Type: memory.EventTaskFailed, TaskID: "t2"}))

	events := store.Events("r1")
	require.Len(t, events, 2)
	assert.Equal(t, "t1", events[0].TaskID)
	assert.Empty(t, store.Events("other"))
}

func TestRecordOpinionScopedPerAgent(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.RecordOpinion(ctx, "r1", "reviewer", "in my opinion this is risky"))

	assert.Equal(t, []string{"in my opinion this is risky"}, store.Opinions("r1", "reviewer"))
	assert.Empty(t, store.Opinions("r1", "coder"))
}

func TestAdjustRelationshipAccumulates(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.AdjustRelationship(ctx, "r1", "coder", "reviewer", -0.5))
	require.NoError(t, store.AdjustRelationship(ctx, "r1", "coder", "reviewer", 0.2))

	assert.InDelta(t, -0.3, store.Relationship("r1", "coder", "reviewer"), 1e-9)
}

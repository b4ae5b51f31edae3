package chronograph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleSnapshot(runID string, updatedAt time.Time) *RunSnapshot {
	started := updatedAt.Add(-time.Minute)
	return &RunSnapshot{
		RunID:        runID,
		WorkflowName: "sample",
		Status:       WorkflowStatusPaused,
		NodeStates: map[string]*NodeState{
			"a": {Status: NodeStatusCompleted, Attempts: 1, Output: "done"},
			"b": {Status: NodeStatusPending},
		},
		Variables: map[string]any{"region": "us-east-1"},
		Events: []*Event{
			{ID: "evt-1", Seq: 1, Type: EventWorkflowStarted, Timestamp: started},
			{ID: "evt-2", Seq: 2, Type: EventNodeStarted, NodeID: "a", PrevID: "evt-1", Timestamp: started.Add(time.Second)},
		},
		Checkpoints: []*Checkpoint{
			{ID: "ckpt-1", Seq: 1, Label: "start", RunID: runID, Status: WorkflowStatusRunning,
				NodeStates: map[string]*NodeState{"a": {Status: NodeStatusPending}},
				Variables:  map[string]any{"region": "us-east-1"},
				CreatedAt:  started},
		},
		StartedAt: started,
		UpdatedAt: updatedAt,
	}
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	_, err := store.LoadRun(ctx, "run-1")
	require.ErrorIs(t, err, ErrRunNotFound)

	now := time.Now()
	require.NoError(t, store.SaveRun(ctx, sampleSnapshot("run-1", now)))

	loaded, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "run-1", loaded.RunID)
	require.Equal(t, WorkflowStatusPaused, loaded.Status)
	require.Len(t, loaded.Events, 2)
	require.Len(t, loaded.Checkpoints, 1)
	require.Equal(t, NodeStatusCompleted, loaded.NodeStates["a"].Status)

	// Saving again replaces the stored snapshot.
	replacement := sampleSnapshot("run-1", now.Add(time.Minute))
	replacement.Status = WorkflowStatusCompleted
	require.NoError(t, store.SaveRun(ctx, replacement))
	loaded, err = store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, loaded.Status)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	_, err = store.LoadRun(ctx, "run-1")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStorageListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	base := time.Now()
	for i := 1; i <= 3; i++ {
		runID := fmt.Sprintf("run-%d", i)
		require.NoError(t, store.SaveRun(ctx, sampleSnapshot(runID, base.Add(time.Duration(i)*time.Minute))))
	}

	summaries, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	require.Equal(t, "run-3", summaries[0].RunID)
	require.Equal(t, "run-2", summaries[1].RunID)
	require.Equal(t, "run-1", summaries[2].RunID)
	require.Equal(t, "sample", summaries[0].WorkflowName)
	require.Equal(t, 2, summaries[0].EventCount)
}

func TestNullStorage(t *testing.T) {
	ctx := context.Background()
	store := NewNullStorage()

	require.NoError(t, store.SaveRun(ctx, sampleSnapshot("run-1", time.Now())))
	_, err := store.LoadRun(ctx, "run-1")
	require.ErrorIs(t, err, ErrRunNotFound)

	summaries, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Empty(t, summaries)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
}

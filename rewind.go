package chronograph

import (
	"context"
	"fmt"
	"time"
)

// RewindTarget selects the checkpoint to rewind to. Exactly one selector
// should be set: a checkpoint id, an event sequence number, or a point in
// time, which picks the newest checkpoint created at or before it. A zero
// target selects the latest checkpoint.
type RewindTarget struct {
	CheckpointID string
	Seq          int64
	At           time.Time
}

func (t RewindTarget) String() string {
	switch {
	case t.CheckpointID != "":
		return t.CheckpointID
	case t.Seq > 0:
		return fmt.Sprintf("seq %d", t.Seq)
	case !t.At.IsZero():
		return t.At.Format(time.RFC3339)
	default:
		return "latest"
	}
}

// RewindTo restores the run to the state a checkpoint captured. Node states
// and variables are replaced with the checkpoint's copies, nodes that were
// mid-flight at capture time return to pending, and the run is left paused.
// The timeline is never rewritten: the rewind itself is recorded as a new
// event, so history reflects that the run went back.
//
// Rewinding requires the run to be paused or finished. Rewinding a failed
// or completed run reopens it; call Resume to continue from the restored
// state.
func (e *Engine) RewindTo(ctx context.Context, target RewindTarget) error {
	e.mutex.Lock()
	if e.stopRequested || e.state.Status() == WorkflowStatusStopped {
		e.mutex.Unlock()
		return ErrStopped
	}
	if e.running && !e.parked {
		e.mutex.Unlock()
		return ErrRewindWhileRunning
	}

	checkpoint, ok := e.findCheckpoint(target)
	if !ok {
		e.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, target)
	}

	e.state.RestoreSnapshot(WorkflowStatusPaused, checkpoint.NodeStates, "")
	e.state.ResetRunningToPending()
	e.variables.Restore(checkpoint.Variables)
	e.completedCount = countCompleted(checkpoint.NodeStates)
	if !e.running {
		e.pauseRequested = false
	}
	e.mutex.Unlock()

	e.emit(ctx, EventWorkflowRewound, "", map[string]any{
		"checkpoint_id":  checkpoint.ID,
		"checkpoint_seq": checkpoint.Seq,
		"label":          checkpoint.Label,
	})
	e.logger.Info("workflow rewound",
		"checkpoint_id", checkpoint.ID,
		"checkpoint_seq", checkpoint.Seq,
		"label", checkpoint.Label)
	e.saveBestEffort(ctx)
	return nil
}

func (e *Engine) findCheckpoint(target RewindTarget) (*Checkpoint, bool) {
	switch {
	case target.CheckpointID != "":
		return e.checkpoints.FindByID(target.CheckpointID)
	case target.Seq > 0:
		return e.checkpoints.FindBySeq(target.Seq)
	case !target.At.IsZero():
		return e.checkpoints.FindByTime(target.At)
	default:
		checkpoint := e.checkpoints.Latest()
		if checkpoint == nil {
			return nil, false
		}
		return checkpoint, true
	}
}

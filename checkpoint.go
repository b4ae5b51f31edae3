package chronograph

import (
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// NewCheckpointID returns a new unique checkpoint identifier
func NewCheckpointID() string {
	id, err := typeid.WithPrefix("ckpt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Checkpoint contains a complete snapshot of run state at a moment in time.
// Snapshots are deep copies: nothing in a checkpoint aliases live state, so
// a rewind restores exactly what was recorded.
type Checkpoint struct {
	ID          string                `json:"id"`
	Seq         int64                 `json:"seq"`
	Label       string                `json:"label,omitempty"`
	RunID       string                `json:"run_id"`
	Status      WorkflowStatus        `json:"status"`
	NodeStates  map[string]*NodeState `json:"node_states"`
	Variables   map[string]any        `json:"variables"`
	ActiveNodes []string              `json:"active_nodes,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	dup := &Checkpoint{
		ID:        c.ID,
		Seq:       c.Seq,
		Label:     c.Label,
		RunID:     c.RunID,
		Status:    c.Status,
		Variables: deepCopyMap(c.Variables),
		CreatedAt: c.CreatedAt,
	}
	dup.NodeStates = make(map[string]*NodeState, len(c.NodeStates))
	for id, state := range c.NodeStates {
		dup.NodeStates[id] = state.Copy()
	}
	if c.ActiveNodes != nil {
		dup.ActiveNodes = make([]string, len(c.ActiveNodes))
		copy(dup.ActiveNodes, c.ActiveNodes)
	}
	return dup
}

// checkpointList holds a run's checkpoints in creation order, capped at a
// maximum count. When full, adding a checkpoint evicts exactly the oldest.
type checkpointList struct {
	mutex       sync.RWMutex
	checkpoints []*Checkpoint
	limit       int
}

func newCheckpointList(limit int) *checkpointList {
	return &checkpointList{limit: limit}
}

// Add appends a checkpoint, evicting the oldest if the list is at capacity.
func (l *checkpointList) Add(checkpoint *Checkpoint) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.limit > 0 && len(l.checkpoints) >= l.limit {
		excess := len(l.checkpoints) - l.limit + 1
		l.checkpoints = append(l.checkpoints[:0:0], l.checkpoints[excess:]...)
	}
	l.checkpoints = append(l.checkpoints, checkpoint)
}

// All returns the checkpoints oldest first.
func (l *checkpointList) All() []*Checkpoint {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	checkpoints := make([]*Checkpoint, len(l.checkpoints))
	copy(checkpoints, l.checkpoints)
	return checkpoints
}

// Len returns the number of retained checkpoints.
func (l *checkpointList) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.checkpoints)
}

// Latest returns the most recent checkpoint, or nil if none exist.
func (l *checkpointList) Latest() *Checkpoint {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if len(l.checkpoints) == 0 {
		return nil
	}
	return l.checkpoints[len(l.checkpoints)-1]
}

// FindByID returns the retained checkpoint with the given id.
func (l *checkpointList) FindByID(id string) (*Checkpoint, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	for _, checkpoint := range l.checkpoints {
		if checkpoint.ID == id {
			return checkpoint, true
		}
	}
	return nil, false
}

// FindBySeq returns the retained checkpoint with the given sequence number.
func (l *checkpointList) FindBySeq(seq int64) (*Checkpoint, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	for _, checkpoint := range l.checkpoints {
		if checkpoint.Seq == seq {
			return checkpoint, true
		}
	}
	return nil, false
}

// FindByTime returns the newest retained checkpoint created at or before the
// given time.
func (l *checkpointList) FindByTime(at time.Time) (*Checkpoint, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	for i := len(l.checkpoints) - 1; i >= 0; i-- {
		if !l.checkpoints[i].CreatedAt.After(at) {
			return l.checkpoints[i], true
		}
	}
	return nil, false
}

// Restore replaces the retained checkpoints, used when loading from storage.
func (l *checkpointList) Restore(checkpoints []*Checkpoint) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.checkpoints = make([]*Checkpoint, len(checkpoints))
	copy(l.checkpoints, checkpoints)
	if l.limit > 0 && len(l.checkpoints) > l.limit {
		excess := len(l.checkpoints) - l.limit
		l.checkpoints = append(l.checkpoints[:0:0], l.checkpoints[excess:]...)
	}
}

package chronograph

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// WorkflowStatus represents the run-level status of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusIdle      WorkflowStatus = "idle"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusStopped   WorkflowStatus = "stopped"
)

// Terminal returns true if the run has ended. A terminal run can still be
// rewound to an earlier checkpoint, except when it was stopped.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusStopped:
		return true
	}
	return false
}

// engineState consolidates all mutable run state into a single structure.
// All data here is serializable for checkpointing.
type engineState struct {
	runID        string
	workflowName string
	status       WorkflowStatus
	startTime    time.Time
	endTime      time.Time
	err          string
	nodeStates   map[string]*NodeState
	mutex        sync.RWMutex
}

// newEngineState creates run state with every node pending.
func newEngineState(runID, workflowName string, nodeIDs []string) *engineState {
	nodeStates := make(map[string]*NodeState, len(nodeIDs))
	for _, id := range nodeIDs {
		nodeStates[id] = &NodeState{Status: NodeStatusPending}
	}
	return &engineState{
		runID:        runID,
		workflowName: workflowName,
		status:       WorkflowStatusIdle,
		nodeStates:   nodeStates,
	}
}

// RunID returns the run ID
func (s *engineState) RunID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.runID
}

// Status returns the current run status
func (s *engineState) Status() WorkflowStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.status
}

// SetStatus updates the run status
func (s *engineState) SetStatus(status WorkflowStatus) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.status = status
	if status != WorkflowStatusFailed {
		s.err = ""
	}
}

// SetFinished records a terminal status along with the end time and error.
func (s *engineState) SetFinished(status WorkflowStatus, endTime time.Time, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.status = status
	s.endTime = endTime
	if err != nil {
		s.err = err.Error()
	} else {
		s.err = ""
	}
}

// Error returns the current run error
func (s *engineState) Error() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.err == "" {
		return nil
	}
	return errors.New(s.err)
}

// SetStartTime records when the run began
func (s *engineState) SetStartTime(t time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.startTime = t
}

// StartTime returns when the run began
func (s *engineState) StartTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.startTime
}

// EndTime returns when the run finished
func (s *engineState) EndTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.endTime
}

// NodeState returns a copy of a single node's state
func (s *engineState) NodeState(id string) (*NodeState, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	state, ok := s.nodeStates[id]
	if !ok {
		return nil, false
	}
	return state.Copy(), true
}

// NodeStates returns a deep copy of all node states
func (s *engineState) NodeStates() map[string]*NodeState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return copyNodeStates(s.nodeStates)
}

// NodeStatus returns a single node's status
func (s *engineState) NodeStatus(id string) NodeStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if state, ok := s.nodeStates[id]; ok {
		return state.Status
	}
	return ""
}

// UpdateNode applies an update function to a node state under the lock
func (s *engineState) UpdateNode(id string, updateFn func(*NodeState)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if state, exists := s.nodeStates[id]; exists {
		updateFn(state)
	}
}

// RunningNodes returns the ids of currently running nodes, sorted
func (s *engineState) RunningNodes() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var running []string
	for id, state := range s.nodeStates {
		if state.Status == NodeStatusRunning {
			running = append(running, id)
		}
	}
	sort.Strings(running)
	return running
}

// CountByStatus returns how many nodes are in each status
func (s *engineState) CountByStatus() map[NodeStatus]int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	counts := make(map[NodeStatus]int)
	for _, state := range s.nodeStates {
		counts[state.Status]++
	}
	return counts
}

// AllNodesTerminal reports whether every node has finished, failed or been
// skipped. A run with a failed branch is "done" even though descendants of
// the failure remain pending, so callers should combine this with a check
// for whether any node can still become ready.
func (s *engineState) AllNodesTerminal() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, state := range s.nodeStates {
		if !state.Status.Terminal() {
			return false
		}
	}
	return true
}

// ResetRunningToPending returns every running node to pending. Used when a
// pause or stop interrupts in-flight work. The attempt that was cut short
// does not count against the node's retry budget.
func (s *engineState) ResetRunningToPending() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var reset []string
	for id, state := range s.nodeStates {
		if state.Status == NodeStatusRunning {
			state.Status = NodeStatusPending
			if state.Attempts > 0 {
				state.Attempts--
			}
			state.StartedAt = nil
			state.Error = ""
			reset = append(reset, id)
		}
	}
	sort.Strings(reset)
	return reset
}

// Snapshot returns the pieces of state a checkpoint captures: the run
// status, a deep copy of all node states, and the running node ids.
func (s *engineState) Snapshot() (WorkflowStatus, map[string]*NodeState, []string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var running []string
	for id, state := range s.nodeStates {
		if state.Status == NodeStatusRunning {
			running = append(running, id)
		}
	}
	sort.Strings(running)
	return s.status, copyNodeStates(s.nodeStates), running
}

// RestoreSnapshot overwrites node states, status, and the run error from a
// checkpoint or stored snapshot.
func (s *engineState) RestoreSnapshot(status WorkflowStatus, nodeStates map[string]*NodeState, errText string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.status = status
	s.nodeStates = copyNodeStates(nodeStates)
	s.err = errText
	s.endTime = time.Time{}
}

// copyNodeStates creates a deep copy of a node states map
func copyNodeStates(m map[string]*NodeState) map[string]*NodeState {
	copied := make(map[string]*NodeState, len(m))
	for k, v := range m {
		copied[k] = v.Copy()
	}
	return copied
}

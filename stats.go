package chronograph

import "time"

// RunState is a point-in-time view of a run: the workflow status plus a deep
// copy of every node's state and the shared variables. Mutating a RunState
// has no effect on the engine.
type RunState struct {
	RunID        string                `json:"run_id"`
	WorkflowName string                `json:"workflow_name"`
	Status       WorkflowStatus        `json:"status"`
	NodeStates   map[string]*NodeState `json:"node_states"`
	Variables    map[string]any        `json:"variables"`
	ActiveNodes  []string              `json:"active_nodes,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// Stats summarizes a run's progress and history.
type Stats struct {
	RunID           string             `json:"run_id"`
	WorkflowName    string             `json:"workflow_name"`
	Status          WorkflowStatus     `json:"status"`
	TotalNodes      int                `json:"total_nodes"`
	NodeCounts      map[NodeStatus]int `json:"node_counts"`
	TotalAttempts   int                `json:"total_attempts"`
	EventCount      int                `json:"event_count"`
	CheckpointCount int                `json:"checkpoint_count"`
	Rewinds         int                `json:"rewinds"`
	StartedAt       time.Time          `json:"started_at,omitzero"`
	Duration        time.Duration      `json:"duration"`
}

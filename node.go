package chronograph

import (
	"fmt"
	"time"
)

// NodeStatus describes where a node is in its lifecycle.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal returns true if the node will not execute again this run.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped:
		return true
	}
	return false
}

// Satisfied returns true if downstream nodes may treat this node as done.
// A failed node is terminal but never satisfies its out-edges, which is what
// leaves its descendants pending when a branch fails.
func (s NodeStatus) Satisfied() bool {
	return s == NodeStatusCompleted || s == NodeStatusSkipped
}

// Node represents a single task in a workflow graph.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string         `json:"type" yaml:"type"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Store       string         `json:"store,omitempty" yaml:"store,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty" yaml:"-"`
	Retry       *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Outputs maps keys of a map-valued node output to shared variable
	// names, writing each named value through its binding on completion.
	// Non-map outputs ignore Outputs; use Store to capture those whole.
	Outputs map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// CheckpointAfter requests a checkpoint labeled "after-<id>" as soon as
	// this node completes, independent of the periodic checkpoint cadence.
	CheckpointAfter bool `json:"checkpoint_after,omitempty" yaml:"checkpoint_after,omitempty"`
}

// DisplayName returns the node's name, falling back to its id.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// UnmarshalYAML accepts human-friendly duration strings like "30s" for the
// node timeout.
func (n *Node) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type nodeAlias Node
	aux := struct {
		*nodeAlias `yaml:",inline"`
		Timeout    string `yaml:"timeout,omitempty"`
	}{nodeAlias: (*nodeAlias)(n)}
	if err := unmarshal(&aux); err != nil {
		return err
	}
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("node %q: invalid timeout: %w", n.ID, err)
		}
		n.Timeout = d
	}
	return nil
}

// RetryPolicy configures retry behavior for a node. A node with MaxRetries=N
// is attempted at most N+1 times. Backoff is the delay before the first
// retry and doubles for each subsequent one.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Backoff    time.Duration `json:"backoff,omitempty" yaml:"-"`
}

// UnmarshalYAML accepts duration strings like "500ms" for the backoff.
func (r *RetryPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	aux := struct {
		MaxRetries int    `yaml:"max_retries"`
		Backoff    string `yaml:"backoff"`
	}{}
	if err := unmarshal(&aux); err != nil {
		return err
	}
	r.MaxRetries = aux.MaxRetries
	if aux.Backoff != "" {
		d, err := time.ParseDuration(aux.Backoff)
		if err != nil {
			return fmt.Errorf("invalid retry backoff: %w", err)
		}
		r.Backoff = d
	}
	return nil
}

// RetryDelay returns the delay to apply before the given retry attempt,
// where attempt 1 is the first retry. The base backoff doubles with each
// subsequent retry.
func (r *RetryPolicy) RetryDelay(attempt int, defaultBackoff time.Duration) time.Duration {
	backoff := defaultBackoff
	if r != nil && r.Backoff > 0 {
		backoff = r.Backoff
	}
	if attempt < 1 {
		attempt = 1
	}
	return backoff * (1 << (attempt - 1))
}

// NodeState captures the mutable runtime state of a single node. It is what
// checkpoints snapshot and what rewinds restore.
type NodeState struct {
	Status      NodeStatus `json:"status"`
	Attempts    int        `json:"attempts,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	Retryable   bool       `json:"retryable,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Copy returns a deep copy of the node state.
func (s *NodeState) Copy() *NodeState {
	if s == nil {
		return nil
	}
	dup := &NodeState{
		Status:    s.Status,
		Attempts:  s.Attempts,
		Output:    deepCopyValue(s.Output),
		Error:     s.Error,
		Retryable: s.Retryable,
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		dup.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

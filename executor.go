package chronograph

import (
	"context"
)

// Executor represents an action a node can perform. Implementations must
// honor context cancellation: the engine cancels the context on timeout and
// when a run is paused or stopped.
type Executor interface {

	// Name returns the node type this executor handles
	Name() string

	// Execute runs the action with the node's parameters and returns its output.
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// ExecutorRegistry is a map of node types to executors
type ExecutorRegistry map[string]Executor

// ExecutorFunc is a function that can be used as an executor
type ExecutorFunc struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (any, error)
}

// NewExecutorFunc creates a new ExecutorFunc
func NewExecutorFunc(name string, fn func(ctx context.Context, params map[string]any) (any, error)) *ExecutorFunc {
	return &ExecutorFunc{name: name, fn: fn}
}

func (e *ExecutorFunc) Name() string {
	return e.name
}

func (e *ExecutorFunc) Execute(ctx context.Context, params map[string]any) (any, error) {
	return e.fn(ctx, params)
}

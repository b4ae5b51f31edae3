package chronograph

import (
	"context"
	"encoding/json"
	"fmt"
)

// Confirm the interfaces are implemented correctly.
var (
	_ Executor                = (*ExecutorFunc)(nil)
	_ TypedExecutor[any, any] = (*typedExecutorFunc[any, any])(nil)
)

// TypedExecutor is an executor whose parameters arrive as a struct instead
// of a raw map. Wrap one with NewTypedExecutor to register it with an engine.
type TypedExecutor[TParams, TResult any] interface {

	// Name returns the node type this executor handles
	Name() string

	// Execute runs the action with decoded parameters.
	Execute(ctx context.Context, params TParams) (TResult, error)
}

// NewTypedExecutor adapts a TypedExecutor to the Executor interface. Node
// parameters are decoded into TParams by JSON field name before execution.
func NewTypedExecutor[TParams, TResult any](typed TypedExecutor[TParams, TResult]) Executor {
	return &typedExecutorAdapter[TParams, TResult]{typed: typed}
}

type typedExecutorAdapter[TParams, TResult any] struct {
	typed TypedExecutor[TParams, TResult]
}

func (a *typedExecutorAdapter[TParams, TResult]) Name() string {
	return a.typed.Name()
}

func (a *typedExecutorAdapter[TParams, TResult]) Execute(ctx context.Context, params map[string]any) (any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters for %q: %w", a.typed.Name(), err)
	}
	var decoded TParams
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("invalid parameters for %q: %w", a.typed.Name(), err)
	}
	return a.typed.Execute(ctx, decoded)
}

// NewTypedExecutorFunc returns a typed Executor for the given function.
func NewTypedExecutorFunc[TParams, TResult any](name string, fn func(ctx context.Context, params TParams) (TResult, error)) Executor {
	return NewTypedExecutor[TParams, TResult](&typedExecutorFunc[TParams, TResult]{name: name, fn: fn})
}

// typedExecutorFunc is a helper struct for creating typed executors from functions
type typedExecutorFunc[TParams, TResult any] struct {
	name string
	fn   func(ctx context.Context, params TParams) (TResult, error)
}

// Name of the executor.
func (t *typedExecutorFunc[TParams, TResult]) Name() string {
	return t.name
}

// Execute the action.
func (t *typedExecutorFunc[TParams, TResult]) Execute(ctx context.Context, params TParams) (TResult, error) {
	return t.fn(ctx, params)
}

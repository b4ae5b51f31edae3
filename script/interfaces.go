package script

import (
	"context"
)

// Value is the result of evaluating an expression against a run's shared
// variables. Edge conditions consult IsTruthy, template interpolation uses
// String, and the script executor stores Value into the variable store.
type Value interface {

	// Value returns the result as a plain Go value
	Value() any

	// String renders the result for interpolation into a template
	String() string

	// IsTruthy reports whether a condition producing this result holds
	IsTruthy() bool
}

// Script is a compiled expression. Evaluate runs it with the given globals,
// which the engine populates from the current shared variables.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler turns edge conditions, template expressions, and script node
// source into Scripts. Engines accept a custom Compiler through
// EngineOptions; the Risor implementation in this package is the default.
type Compiler interface {
	Compile(ctx context.Context, code string) (Script, error)
}

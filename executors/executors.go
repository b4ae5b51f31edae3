// Package executors provides the built-in node executors: shell commands,
// HTTP requests, file operations, Risor scripts, and a handful of smaller
// utilities. Register them with an engine via DefaultExecutors, or pick
// individual executors for a locked-down setup.
package executors

import (
	"encoding/json"
	"fmt"

	"github.com/deepnoodle-ai/chronograph"
)

// Confirm the executor interface is implemented correctly.
var (
	_ chronograph.Executor = (*ShellExecutor)(nil)
	_ chronograph.Executor = (*HTTPExecutor)(nil)
	_ chronograph.Executor = (*FileExecutor)(nil)
	_ chronograph.Executor = (*PrintExecutor)(nil)
	_ chronograph.Executor = (*SleepExecutor)(nil)
	_ chronograph.Executor = (*ScriptExecutor)(nil)
	_ chronograph.Executor = (*TimeExecutor)(nil)
	_ chronograph.Executor = (*RandomExecutor)(nil)
	_ chronograph.Executor = (*JSONExecutor)(nil)
	_ chronograph.Executor = (*FailExecutor)(nil)
)

// DefaultExecutors returns every built-in executor.
func DefaultExecutors() []chronograph.Executor {
	return []chronograph.Executor{
		NewShellExecutor(),
		NewHTTPExecutor(),
		NewFileExecutor(),
		NewPrintExecutor(),
		NewSleepExecutor(),
		NewScriptExecutor(),
		NewTimeExecutor(),
		NewRandomExecutor(),
		NewJSONExecutor(),
		NewFailExecutor(),
	}
}

// decodeParams converts a raw parameter map into a typed input struct
func decodeParams(params map[string]any, target any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

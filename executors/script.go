package executors

import (
	"context"
	"fmt"
	"reflect"

	"github.com/deepnoodle-ai/chronograph"
	"github.com/deepnoodle-ai/chronograph/script"
	"github.com/risor-io/risor/object"
)

// ScriptExecutor runs a Risor script against the workflow variables. The
// script sees the current variables through the "variables" map and can
// read, set, and delete entries; changes are written back to the run after
// the script returns. The script's final expression value becomes the node
// output.
type ScriptExecutor struct{}

func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{}
}

func (e *ScriptExecutor) Name() string {
	return "script"
}

func (e *ScriptExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	code, ok := params["code"].(string)
	if !ok || code == "" {
		return nil, fmt.Errorf("missing 'code' parameter")
	}

	variables, ok := chronograph.GetVariablesFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing variables in context")
	}
	original := variables.Snapshot()

	// The variables global is a live Risor map so mutations made by the
	// script survive evaluation and can be read back.
	entries := make(map[string]object.Object, len(original))
	for key, value := range original {
		entries[key] = script.ConvertGoValueToRisor(value)
	}
	variablesObject := object.NewMap(entries)

	globals := script.DefaultRisorGlobals()
	globals["variables"] = variablesObject

	engine := script.NewRisorScriptingEngine(globals)
	compiled, err := engine.Compile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	result, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		return nil, fmt.Errorf("failed to run script: %w", err)
	}

	modified, _ := script.ConvertRisorValueToGo(variablesObject).(map[string]any)
	applyVariableChanges(variables, original, modified)

	return result.Value(), nil
}

// applyVariableChanges writes back the differences between the variable set
// a script started with and the one it left behind.
func applyVariableChanges(variables *chronograph.Variables, original, modified map[string]any) {
	for key, value := range modified {
		previous, exists := original[key]
		if !exists || !reflect.DeepEqual(previous, value) {
			variables.Set(key, value)
		}
	}
	for key := range original {
		if _, exists := modified[key]; !exists {
			variables.Delete(key)
		}
	}
}

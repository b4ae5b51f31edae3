package chronograph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkflowRegistry manages a collection of workflow definitions
type WorkflowRegistry interface {
	// Register adds a workflow to the registry
	Register(workflow *Workflow) error

	// Get retrieves a workflow by name
	Get(name string) (*Workflow, bool)

	// List returns all registered workflow names
	List() []string
}

// MemoryWorkflowRegistry implements WorkflowRegistry using in-memory storage
type MemoryWorkflowRegistry struct {
	mutex     sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryWorkflowRegistry creates a new in-memory workflow registry
func NewMemoryWorkflowRegistry() *MemoryWorkflowRegistry {
	return &MemoryWorkflowRegistry{
		workflows: make(map[string]*Workflow),
	}
}

// Register adds a workflow to the registry
func (r *MemoryWorkflowRegistry) Register(workflow *Workflow) error {
	if workflow == nil {
		return fmt.Errorf("workflow cannot be nil")
	}
	if workflow.Name() == "" {
		return fmt.Errorf("workflow name cannot be empty")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.workflows[workflow.Name()] = workflow
	return nil
}

// Get retrieves a workflow by name
func (r *MemoryWorkflowRegistry) Get(name string) (*Workflow, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	workflow, exists := r.workflows[name]
	return workflow, exists
}

// List returns all registered workflow names
func (r *MemoryWorkflowRegistry) List() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	return names
}

// SubworkflowResult is the output of a subworkflow node.
type SubworkflowResult struct {
	RunID     string         `json:"run_id"`
	Status    WorkflowStatus `json:"status"`
	Variables map[string]any `json:"variables"`
	Duration  time.Duration  `json:"duration"`
}

// SubworkflowExecutor runs a registered workflow as a single node of a
// parent run. The child run gets its own engine, timeline, and checkpoints;
// only its final variables flow back to the parent through the node output.
//
// Node parameters:
//
//	workflow  - name of the registered workflow to run (required)
//	variables - initial variables for the child run
//	timeout   - duration string bounding the child run
type SubworkflowExecutor struct {
	registry  WorkflowRegistry
	executors []Executor
	logger    *slog.Logger
}

// SubworkflowExecutorOptions configures a SubworkflowExecutor
type SubworkflowExecutorOptions struct {
	// Registry resolves workflow names (required)
	Registry WorkflowRegistry

	// Executors available to child runs
	Executors []Executor

	// Logger for child run logging
	Logger *slog.Logger
}

// NewSubworkflowExecutor creates a new SubworkflowExecutor
func NewSubworkflowExecutor(opts SubworkflowExecutorOptions) (*SubworkflowExecutor, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("workflow registry is required")
	}
	return &SubworkflowExecutor{
		registry:  opts.Registry,
		executors: opts.Executors,
		logger:    opts.Logger,
	}, nil
}

func (e *SubworkflowExecutor) Name() string {
	return "workflow"
}

func (e *SubworkflowExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	name, _ := params["workflow"].(string)
	if name == "" {
		return nil, fmt.Errorf("missing 'workflow' parameter")
	}
	wf, exists := e.registry.Get(name)
	if !exists {
		return nil, fmt.Errorf("workflow %q not found in registry", name)
	}

	variables, _ := params["variables"].(map[string]any)

	child, err := NewEngine(EngineOptions{
		Workflow:  wf,
		Executors: e.executors,
		Variables: variables,
		Logger:    e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create child run: %w", err)
	}

	execCtx := ctx
	if raw, ok := params["timeout"]; ok {
		timeout, err := parseChildTimeout(raw)
		if err != nil {
			return nil, err
		}
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	startTime := time.Now()
	runErr := child.Run(execCtx)
	if runErr != nil {
		return nil, fmt.Errorf("child workflow %q: %w", name, runErr)
	}
	return &SubworkflowResult{
		RunID:     child.RunID(),
		Status:    child.Status(),
		Variables: child.Variables().Snapshot(),
		Duration:  time.Since(startTime),
	}, nil
}

func parseChildTimeout(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case string:
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid timeout format: %w", err)
		}
		return timeout, nil
	case time.Duration:
		return v, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	}
	return 0, fmt.Errorf("timeout must be a string or number of seconds")
}

package chronograph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/deepnoodle-ai/chronograph/retry"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustWorkflow(t *testing.T, opts Options) *Workflow {
	t.Helper()
	wf, err := New(opts)
	require.NoError(t, err)
	return wf
}

func newTestEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	engine, err := NewEngine(opts)
	require.NoError(t, err)
	return engine
}

func eventsOfType(events []*Event, eventType EventType) []*Event {
	var matched []*Event
	for _, event := range events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// orderRecorder tracks the order in which node executors were invoked.
type orderRecorder struct {
	mutex sync.Mutex
	order []string
}

func (r *orderRecorder) record(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.order = append(r.order, id)
}

func (r *orderRecorder) recorded() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string{}, r.order...)
}

func (r *orderRecorder) executor(name string) Executor {
	return NewExecutorFunc(name, func(ctx context.Context, params map[string]any) (any, error) {
		id, _ := params["id"].(string)
		r.record(id)
		return id, nil
	})
}

func TestEngineValidation(t *testing.T) {
	t.Run("workflow required", func(t *testing.T) {
		_, err := NewEngine(EngineOptions{Logger: testLogger()})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidWorkflow)
		require.Contains(t, err.Error(), "workflow is required")
	})

	t.Run("missing executor", func(t *testing.T) {
		wf := mustWorkflow(t, Options{
			Name:  "test",
			Nodes: []*Node{{ID: "a", Type: "ghost"}},
		})
		_, err := NewEngine(EngineOptions{Workflow: wf, Logger: testLogger()})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidWorkflow)
		require.Contains(t, err.Error(), `no executor registered for node type "ghost"`)
	})
}

func TestRunLinearWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recorder := &orderRecorder{}
	wf := mustWorkflow(t, Options{
		Name: "linear",
		Nodes: []*Node{
			{ID: "a", Type: "task", Params: map[string]any{"id": "a"}},
			{ID: "b", Type: "task", Params: map[string]any{"id": "b"}},
			{ID: "c", Type: "task", Params: map[string]any{"id": "c"}},
		},
		Edges: []*Edge{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
	})
	engine := newTestEngine(t, EngineOptions{
		Workflow:  wf,
		Executors: []Executor{recorder.executor("task")},
	})

	require.NoError(t, engine.Run(ctx))
	require.Equal(t, WorkflowStatusCompleted, engine.Status())
	require.Equal(t, []string{"a", "b", "c"}, recorder.recorded())

	states := engine.NodeStates()
	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, NodeStatusCompleted, states[id].Status, id)
		require.Equal(t, 1, states[id].Attempts, id)
		require.Equal(t, id, states[id].Output, id)
		require.NotNil(t, states[id].StartedAt, id)
		require.NotNil(t, states[id].CompletedAt, id)
	}

	types := make([]EventType, 0)
	for _, event := range engine.Events() {
		types = append(types, event.Type)
	}
	require.Equal(t, []EventType{
		EventWorkflowStarted,
		EventCheckpointCreated,
		EventNodeStarted,
		EventNodeCompleted,
		EventNodeStarted,
		EventNodeCompleted,
		EventNodeStarted,
		EventNodeCompleted,
		EventCheckpointCreated,
		EventWorkflowCompleted,
	}, types)
}

func TestRunDiamondWaves(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recorder := &orderRecorder{}
	wf := mustWorkflow(t, Options{
		Name: "diamond",
		Nodes: []*Node{
			{ID: "a", Type: "task", Params: map[string]any{"id": "a"}},
			{ID: "b", Type: "task", Params: map[string]any{"id": "b"}},
			{ID: "c", Type: "task", Params: map[string]any{"id": "c"}},
			{ID: "d", Type: "task", Params: map[string]any{"id": "d"}},
		},
		Edges: []*Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
		},
	})
	engine := newTestEngine(t, EngineOptions{
		Workflow:  wf,
		Executors: []Executor{recorder.executor("task")},
	})

	require.NoError(t, engine.Run(ctx))
	require.Equal(t, WorkflowStatusCompleted, engine.Status())

	order := recorder.recorded()
	require.Len(t, order, 4)
	require.Equal(t, "a", order[0])
	require.Equal(t, "d", order[3])
	require.ElementsMatch(t, []string{"b", "c"}, order[1:3])

	// The join node runs exactly once even with two satisfied in-edges.
	started := eventsOfType(engine.Events(), EventNodeStarted)
	startCounts := map[string]int{}
	for _, event := range started {
		startCounts[event.NodeID]++
	}
	require.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, startCounts)
}

func TestMaxConcurrentNodesBoundsWave(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mutex sync.Mutex
	current, peak := 0, 0
	gauge := NewExecutorFunc("task", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		current++
		if current > peak {
			peak = current
		}
		mutex.Unlock()
		time.Sleep(50 * time.Millisecond)
		mutex.Lock()
		current--
		mutex.Unlock()
		return nil, nil
	})

	nodes := make([]*Node, 0, 8)
	for i := 1; i <= 8; i++ {
		nodes = append(nodes, &Node{ID: fmt.Sprintf("n%d", i), Type: "task"})
	}
	wf := mustWorkflow(t, Options{Name: "parallel", Nodes: nodes})
	engine := newTestEngine(t, EngineOptions{
		Workflow:           wf,
		Executors:          []Executor{gauge},
		MaxConcurrentNodes: 3,
	})

	require.NoError(t, engine.Run(ctx))
	require.Equal(t, WorkflowStatusCompleted, engine.Status())
	require.Equal(t, 3, peak)
}

func TestFailedDependencyLeavesDescendantsPending(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wf := mustWorkflow(t, Options{
		Name: "broken-branch",
		Nodes: []*Node{
			{ID: "a", Type: "ok"},
			{ID: "b", Type: "boom"},
			{ID: "c", Type: "ok"},
			{ID: "d", Type: "ok"},
		},
		Edges: []*Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
		},
	})
	engine := newTestEngine(t, EngineOptions{
		Workflow: wf,
		Executors: []Executor{
			NewExecutorFunc("ok", func(ctx context.Context, params map[string]any) (any, error) {
				return "ok", nil
			}),
			NewExecutorFunc("boom", func(ctx context.Context, params map[string]any) (any, error) {
				return nil, errors.New("boom")
			}),
		},
	})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "workflow failed")
	require.Contains(t, err.Error(), "b: boom")
	require.Equal(t, WorkflowStatusFailed, engine.Status())

	states := engine.NodeStates()
	require.Equal(t, NodeStatusCompleted, states["a"].Status)
	require.Equal(t, NodeStatusFailed, states["b"].Status)
	require.Equal(t, NodeStatusCompleted, states["c"].Status)
	require.Equal(t, NodeStatusPending, states["d"].Status)

	failed := eventsOfType(engine.Events(), EventWorkflowFailed)
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].Data["error"], "b: boom")

	// A second Run reports the same failure without re-executing anything.
	eventCount := len(engine.Events())
	again := engine.Run(ctx)
	require.Error(t, again)
	require.Equal(t, err.Error(), again.Error())
	require.Len(t, engine.Events(), eventCount)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var calls int
	var mutex sync.Mutex
	flaky := NewExecutorFunc("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		calls++
		n := calls
		mutex.Unlock()
		if n < 3 {
			return nil, fmt.Errorf("transient failure %d", n)
		}
		return "finally", nil
	})

	wf := mustWorkflow(t, Options{
		Name: "retrying",
		Nodes: []*Node{
			{ID: "r", Type: "flaky", Retry: &RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}},
		},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{flaky}})

	require.NoError(t, engine.Run(ctx))
	require.Equal(t, WorkflowStatusCompleted, engine.Status())
	require.Equal(t, 3, calls)

	states := engine.NodeStates()
	require.Equal(t, NodeStatusCompleted, states["r"].Status)
	require.Equal(t, 3, states["r"].Attempts)
	require.Equal(t, "finally", states["r"].Output)

	// Retries reuse the original dispatch: one node.started, one completion
	// carrying the final attempt count.
	require.Len(t, eventsOfType(engine.Events(), EventNodeStarted), 1)
	completed := eventsOfType(engine.Events(), EventNodeCompleted)
	require.Len(t, completed, 1)
	require.Equal(t, 3, completed[0].Data["attempts"])
}

func TestRetryExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var calls int
	var mutex sync.Mutex
	failing := NewExecutorFunc("failing", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		calls++
		mutex.Unlock()
		return nil, errors.New("persistent failure")
	})

	wf := mustWorkflow(t, Options{
		Name: "exhausted",
		Nodes: []*Node{
			{ID: "f", Type: "failing", Retry: &RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}},
		},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{failing}})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Equal(t, WorkflowStatusFailed, engine.Status())
	require.Equal(t, 3, calls)

	states := engine.NodeStates()
	require.Equal(t, NodeStatusFailed, states["f"].Status)
	require.Equal(t, 3, states["f"].Attempts)
	require.Contains(t, states["f"].Error, "persistent failure")

	failed := eventsOfType(engine.Events(), EventNodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, 3, failed[0].Data["attempts"])
	require.Contains(t, failed[0].Data["error"], "persistent failure")
}

func TestRetryStopsOnNonRecoverableError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var calls int
	var mutex sync.Mutex
	fatal := NewExecutorFunc("fatal", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		calls++
		mutex.Unlock()
		return nil, retry.NewNonRecoverableError(errors.New("bad credentials"))
	})

	wf := mustWorkflow(t, Options{
		Name: "fatal",
		Nodes: []*Node{
			{ID: "f", Type: "fatal", Retry: &RetryPolicy{MaxRetries: 5, Backoff: time.Millisecond}},
		},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{fatal}})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Equal(t, 1, calls)

	states := engine.NodeStates()
	require.Equal(t, NodeStatusFailed, states["f"].Status)
	require.Equal(t, 1, states["f"].Attempts)
	require.False(t, states["f"].Retryable)

	failed := eventsOfType(engine.Events(), EventNodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, false, failed[0].Data["retryable"])
}

func TestRetryStopsOnFatalNodeError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var calls int
	var mutex sync.Mutex
	broken := NewExecutorFunc("broken", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		calls++
		mutex.Unlock()
		return nil, NewNodeError(ErrorTypeFatal, "unsupported parameter shape")
	})

	wf := mustWorkflow(t, Options{
		Name: "fatal-classified",
		Nodes: []*Node{
			{ID: "b", Type: "broken", Retry: &RetryPolicy{MaxRetries: 4, Backoff: time.Millisecond}},
		},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{broken}})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Equal(t, 1, calls)

	states := engine.NodeStates()
	require.Equal(t, NodeStatusFailed, states["b"].Status)
	require.Equal(t, 1, states["b"].Attempts)
	require.False(t, states["b"].Retryable)

	failed := eventsOfType(engine.Events(), EventNodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, ErrorTypeFatal, failed[0].Data["error_type"])
}

func TestRetryBackoffDoubles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mutex sync.Mutex
	var attempts []time.Time
	failing := NewExecutorFunc("failing", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		attempts = append(attempts, time.Now())
		mutex.Unlock()
		return nil, errors.New("nope")
	})

	wf := mustWorkflow(t, Options{
		Name: "backoff",
		Nodes: []*Node{
			{ID: "b", Type: "failing", Retry: &RetryPolicy{MaxRetries: 2, Backoff: 30 * time.Millisecond}},
		},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{failing}})

	require.Error(t, engine.Run(ctx))
	require.Len(t, attempts, 3)
	require.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 30*time.Millisecond)
	require.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 60*time.Millisecond)
}

func TestConditionalEdges(t *testing.T) {
	runWorkflow := func(t *testing.T, wf *Workflow, variables map[string]any) (*Engine, error) {
		t.Helper()
		recorder := &orderRecorder{}
		engine := newTestEngine(t, EngineOptions{
			Workflow:  wf,
			Executors: []Executor{recorder.executor("task")},
			Variables: variables,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return engine, engine.Run(ctx)
	}

	t.Run("false branch is skipped and cascades", func(t *testing.T) {
		wf := mustWorkflow(t, Options{
			Name: "deploy",
			Nodes: []*Node{
				{ID: "check", Type: "task", Params: map[string]any{"id": "check"}},
				{ID: "deploy", Type: "task", Params: map[string]any{"id": "deploy"}},
				{ID: "announce", Type: "task", Params: map[string]any{"id": "announce"}},
				{ID: "notify", Type: "task", Params: map[string]any{"id": "notify"}},
			},
			Edges: []*Edge{
				{From: "check", To: "deploy", Condition: `environment == "production"`},
				{From: "deploy", To: "announce"},
				{From: "check", To: "notify", Condition: `environment == "staging"`},
			},
		})
		engine, err := runWorkflow(t, wf, map[string]any{"environment": "staging"})
		require.NoError(t, err)
		require.Equal(t, WorkflowStatusCompleted, engine.Status())

		states := engine.NodeStates()
		require.Equal(t, NodeStatusCompleted, states["check"].Status)
		require.Equal(t, NodeStatusSkipped, states["deploy"].Status)
		require.Equal(t, NodeStatusSkipped, states["announce"].Status)
		require.Equal(t, NodeStatusCompleted, states["notify"].Status)

		// Skipped nodes leave no trace on the timeline.
		for _, event := range engine.Events() {
			require.NotEqual(t, "deploy", event.NodeID)
			require.NotEqual(t, "announce", event.NodeID)
		}
		completed := eventsOfType(engine.Events(), EventWorkflowCompleted)
		require.Len(t, completed, 1)
		require.Equal(t, 2, completed[0].Data["nodes_completed"])
		require.Equal(t, 2, completed[0].Data["nodes_skipped"])
	})

	t.Run("bare boolean variable", func(t *testing.T) {
		wf := mustWorkflow(t, Options{
			Name: "gated",
			Nodes: []*Node{
				{ID: "a", Type: "task", Params: map[string]any{"id": "a"}},
				{ID: "b", Type: "task", Params: map[string]any{"id": "b"}},
			},
			Edges: []*Edge{{From: "a", To: "b", Condition: "ready"}},
		})
		engine, err := runWorkflow(t, wf, map[string]any{"ready": true})
		require.NoError(t, err)
		require.Equal(t, NodeStatusCompleted, engine.NodeStates()["b"].Status)
	})

	t.Run("variables map access", func(t *testing.T) {
		wf := mustWorkflow(t, Options{
			Name: "mapped",
			Nodes: []*Node{
				{ID: "a", Type: "task", Params: map[string]any{"id": "a"}},
				{ID: "b", Type: "task", Params: map[string]any{"id": "b"}},
			},
			Edges: []*Edge{{From: "a", To: "b", Condition: `variables["mode"] == "fast"`}},
		})
		engine, err := runWorkflow(t, wf, map[string]any{"mode": "fast"})
		require.NoError(t, err)
		require.Equal(t, NodeStatusCompleted, engine.NodeStates()["b"].Status)
	})

	t.Run("any satisfied in-edge fires the node", func(t *testing.T) {
		wf := mustWorkflow(t, Options{
			Name: "join",
			Nodes: []*Node{
				{ID: "x", Type: "task", Params: map[string]any{"id": "x"}},
				{ID: "y", Type: "task", Params: map[string]any{"id": "y"}},
				{ID: "z", Type: "task", Params: map[string]any{"id": "z"}},
			},
			Edges: []*Edge{
				{From: "x", To: "z", Condition: "1 > 2"},
				{From: "y", To: "z"},
			},
		})
		engine, err := runWorkflow(t, wf, nil)
		require.NoError(t, err)
		require.Equal(t, NodeStatusCompleted, engine.NodeStates()["z"].Status)
	})

	t.Run("all false in-edges skip the node", func(t *testing.T) {
		wf := mustWorkflow(t, Options{
			Name: "dead-end",
			Nodes: []*Node{
				{ID: "x", Type: "task", Params: map[string]any{"id": "x"}},
				{ID: "y", Type: "task", Params: map[string]any{"id": "y"}},
				{ID: "z", Type: "task", Params: map[string]any{"id": "z"}},
			},
			Edges: []*Edge{
				{From: "x", To: "z", Condition: "1 > 2"},
				{From: "y", To: "z", Condition: "false"},
			},
		})
		engine, err := runWorkflow(t, wf, nil)
		require.NoError(t, err)
		require.Equal(t, NodeStatusSkipped, engine.NodeStates()["z"].Status)
	})
}

func TestConditionCompileErrorFailsNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var calls int
	var mutex sync.Mutex
	task := NewExecutorFunc("task", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		calls++
		mutex.Unlock()
		return nil, nil
	})

	wf := mustWorkflow(t, Options{
		Name: "bad-condition",
		Nodes: []*Node{
			{ID: "a", Type: "task"},
			{ID: "b", Type: "task"},
		},
		Edges: []*Edge{{From: "a", To: "b", Condition: "this is not ((("}},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{task}})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Equal(t, WorkflowStatusFailed, engine.Status())
	require.Equal(t, 1, calls)

	states := engine.NodeStates()
	require.Equal(t, NodeStatusFailed, states["b"].Status)
	require.Contains(t, states["b"].Error, "failed to compile condition")

	failed := eventsOfType(engine.Events(), EventNodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "b", failed[0].NodeID)
	require.Equal(t, 0, failed[0].Data["attempts"])
}

func TestTemplateParams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var received map[string]any
	var mutex sync.Mutex
	capture := NewExecutorFunc("capture", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		received = params
		mutex.Unlock()
		return nil, nil
	})

	wf := mustWorkflow(t, Options{
		Name: "templated",
		Nodes: []*Node{
			{ID: "a", Type: "capture", Params: map[string]any{
				"message": "Hello, ${name}!",
				"count":   3,
				"nested":  map[string]any{"line": "${name} has ${count} items"},
				"list":    []any{"${name}", "plain"},
			}},
		},
		Variables: map[string]any{"name": "World", "count": 3},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{capture}})

	require.NoError(t, engine.Run(ctx))
	require.Equal(t, "Hello, World!", received["message"])
	require.Equal(t, 3, received["count"])
	nested, ok := received["nested"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "World has 3 items", nested["line"])
	list, ok := received["list"].([]any)
	require.True(t, ok)
	require.Equal(t, []any{"World", "plain"}, list)
}

func TestTemplateParamErrorFailsNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var calls int
	var mutex sync.Mutex
	capture := NewExecutorFunc("capture", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		calls++
		mutex.Unlock()
		return nil, nil
	})

	wf := mustWorkflow(t, Options{
		Name: "bad-template",
		Nodes: []*Node{
			{ID: "a", Type: "capture", Params: map[string]any{"message": "${broken (("}},
		},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{capture}})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Equal(t, 0, calls)
	require.Contains(t, engine.NodeStates()["a"].Error, "failed to compile parameter template")
}

func TestStoreWritesVariable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wf := mustWorkflow(t, Options{
		Name: "storing",
		Nodes: []*Node{
			{ID: "fetch", Type: "fetch", Store: "payload"},
			{ID: "use", Type: "use", Params: map[string]any{"value": "got ${payload}"}},
		},
		Edges: []*Edge{{From: "fetch", To: "use"}},
	})

	var received string
	var mutex sync.Mutex
	engine := newTestEngine(t, EngineOptions{
		Workflow: wf,
		Executors: []Executor{
			NewExecutorFunc("fetch", func(ctx context.Context, params map[string]any) (any, error) {
				return "fresh-data", nil
			}),
			NewExecutorFunc("use", func(ctx context.Context, params map[string]any) (any, error) {
				mutex.Lock()
				received, _ = params["value"].(string)
				mutex.Unlock()
				return nil, nil
			}),
		},
	})

	require.NoError(t, engine.Run(ctx))
	value, ok := engine.Variables().Get("payload")
	require.True(t, ok)
	require.Equal(t, "fresh-data", value)
	require.Equal(t, "got fresh-data", received)
}

func TestOutputBindings(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wf := mustWorkflow(t, Options{
		Name: "bindings",
		Nodes: []*Node{
			{
				ID:    "probe",
				Type:  "probe",
				Store: "response",
				Outputs: map[string]string{
					"code": "status_code",
					"body": "response_body",
				},
			},
		},
	})

	engine := newTestEngine(t, EngineOptions{
		Workflow: wf,
		Executors: []Executor{
			NewExecutorFunc("probe", func(ctx context.Context, params map[string]any) (any, error) {
				return map[string]any{"code": 201, "body": "created", "ignored": true}, nil
			}),
		},
	})

	require.NoError(t, engine.Run(ctx))

	// Each bound output key lands in its own variable; Store still holds
	// the whole output.
	code, _ := engine.Variables().Get("status_code")
	require.Equal(t, 201, code)
	body, _ := engine.Variables().Get("response_body")
	require.Equal(t, "created", body)
	whole, _ := engine.Variables().Get("response")
	require.Equal(t, map[string]any{"code": 201, "body": "created", "ignored": true}, whole)

	// Unbound output keys do not leak into the variable store.
	_, ok := engine.Variables().Get("ignored")
	require.False(t, ok)
}

func TestNodeTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slow := NewExecutorFunc("slow", func(ctx context.Context, params map[string]any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	wf := mustWorkflow(t, Options{
		Name:  "slow",
		Nodes: []*Node{{ID: "s", Type: "slow", Timeout: 30 * time.Millisecond}},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{slow}})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Equal(t, WorkflowStatusFailed, engine.Status())

	states := engine.NodeStates()
	require.Equal(t, NodeStatusFailed, states["s"].Status)
	require.Contains(t, states["s"].Error, "context deadline exceeded")
	require.True(t, states["s"].Retryable)

	failed := eventsOfType(engine.Events(), EventNodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, ErrorTypeTimeout, failed[0].Data["error_type"])
}

func TestNodeTimeoutRecoversWithRetry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var calls int
	var mutex sync.Mutex
	slowThenFast := NewExecutorFunc("slow", func(ctx context.Context, params map[string]any) (any, error) {
		mutex.Lock()
		calls++
		n := calls
		mutex.Unlock()
		if n == 1 {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		}
		return "recovered", nil
	})

	wf := mustWorkflow(t, Options{
		Name: "slow-retry",
		Nodes: []*Node{
			{ID: "s", Type: "slow", Timeout: 50 * time.Millisecond,
				Retry: &RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}},
		},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{slowThenFast}})

	require.NoError(t, engine.Run(ctx))
	states := engine.NodeStates()
	require.Equal(t, NodeStatusCompleted, states["s"].Status)
	require.Equal(t, 2, states["s"].Attempts)
	require.Equal(t, "recovered", states["s"].Output)
}

func TestExecutorPanicIsContained(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	panicky := NewExecutorFunc("panicky", func(ctx context.Context, params map[string]any) (any, error) {
		panic("kaboom")
	})

	wf := mustWorkflow(t, Options{
		Name:  "panicky",
		Nodes: []*Node{{ID: "p", Type: "panicky"}},
	})
	engine := newTestEngine(t, EngineOptions{Workflow: wf, Executors: []Executor{panicky}})

	err := engine.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "executor panicked: kaboom")
	require.Equal(t, WorkflowStatusFailed, engine.Status())
	require.Equal(t, NodeStatusFailed, engine.NodeStates()["p"].Status)
}

func TestRunRecordsGapFreeTimeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recorder := &orderRecorder{}
	wf := mustWorkflow(t, Options{
		Name: "timeline",
		Nodes: []*Node{
			{ID: "a", Type: "task", Params: map[string]any{"id": "a"}},
			{ID: "b", Type: "task", Params: map[string]any{"id": "b"}},
			{ID: "c", Type: "task", Params: map[string]any{"id": "c"}},
		},
		Edges: []*Edge{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
	})

	var mutex sync.Mutex
	var observed []*Event
	engine := newTestEngine(t, EngineOptions{
		Workflow:  wf,
		Executors: []Executor{recorder.executor("task")},
	})
	engine.Subscribe(EventListenerFunc(func(ctx context.Context, event *Event) {
		mutex.Lock()
		observed = append(observed, event)
		mutex.Unlock()
	}))

	require.NoError(t, engine.Run(ctx))

	known := []EventType{
		EventWorkflowStarted,
		EventNodeStarted,
		EventNodeCompleted,
		EventNodeFailed,
		EventCheckpointCreated,
		EventWorkflowRewound,
		EventWorkflowCompleted,
		EventWorkflowFailed,
	}

	events := engine.Events()
	require.NotEmpty(t, events)
	require.Equal(t, EventWorkflowStarted, events[0].Type)
	require.Equal(t, EventWorkflowCompleted, events[len(events)-1].Type)
	for i, event := range events {
		require.Equal(t, int64(i+1), event.Seq)
		require.NotEmpty(t, event.ID)
		require.Contains(t, known, event.Type)
		require.False(t, event.Timestamp.IsZero())
		if i == 0 {
			require.Empty(t, event.PrevID)
		} else {
			require.Equal(t, events[i-1].ID, event.PrevID)
			require.False(t, event.Timestamp.Before(events[i-1].Timestamp))
		}
	}

	// Subscribed listeners see every event in timeline order.
	mutex.Lock()
	defer mutex.Unlock()
	require.Len(t, observed, len(events))
	for i, event := range observed {
		require.Equal(t, events[i].ID, event.ID)
	}
}

func TestEngineStats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recorder := &orderRecorder{}
	wf := mustWorkflow(t, Options{
		Name: "stats",
		Nodes: []*Node{
			{ID: "a", Type: "task", Params: map[string]any{"id": "a"}},
			{ID: "b", Type: "task", Params: map[string]any{"id": "b"}},
		},
		Edges: []*Edge{{From: "a", To: "b"}},
	})
	engine := newTestEngine(t, EngineOptions{
		Workflow:  wf,
		Executors: []Executor{recorder.executor("task")},
		Variables: map[string]any{"region": "us-east-1"},
	})

	require.NoError(t, engine.Run(ctx))

	stats := engine.Stats()
	require.Equal(t, engine.RunID(), stats.RunID)
	require.Equal(t, "stats", stats.WorkflowName)
	require.Equal(t, WorkflowStatusCompleted, stats.Status)
	require.Equal(t, 2, stats.TotalNodes)
	require.Equal(t, 2, stats.NodeCounts[NodeStatusCompleted])
	require.Equal(t, 2, stats.TotalAttempts)
	require.Equal(t, len(engine.Events()), stats.EventCount)
	require.Equal(t, len(engine.Checkpoints()), stats.CheckpointCount)
	require.Zero(t, stats.Rewinds)
	require.Greater(t, stats.Duration, time.Duration(0))

	state := engine.RunState()
	require.Equal(t, WorkflowStatusCompleted, state.Status)
	require.Equal(t, "us-east-1", state.Variables["region"])
	require.Empty(t, state.ActiveNodes)

	// Returned node states are copies, not live references.
	state.NodeStates["a"].Status = NodeStatusFailed
	require.Equal(t, NodeStatusCompleted, engine.NodeStates()["a"].Status)
}

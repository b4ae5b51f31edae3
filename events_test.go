package chronograph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerFanOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wf := mustWorkflow(t, Options{
		Name:  "fanout",
		Nodes: []*Node{{ID: "a", Type: "task"}},
	})
	engine := newTestEngine(t, EngineOptions{
		Workflow: wf,
		Executors: []Executor{NewExecutorFunc("task", func(ctx context.Context, params map[string]any) (any, error) {
			return nil, nil
		})},
	})

	var mutex sync.Mutex
	var order []string
	listener := func(name string) EventListener {
		return EventListenerFunc(func(ctx context.Context, event *Event) {
			if event.Type == EventWorkflowStarted {
				mutex.Lock()
				order = append(order, name)
				mutex.Unlock()
			}
		})
	}
	engine.Subscribe(listener("first"))
	engine.Subscribe(listener("second"))
	engine.Subscribe(listener("third"))

	require.NoError(t, engine.Run(ctx))

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestListenerPanicDoesNotDisruptRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wf := mustWorkflow(t, Options{
		Name: "panicky-listener",
		Nodes: []*Node{
			{ID: "a", Type: "task"},
			{ID: "b", Type: "task"},
		},
		Edges: []*Edge{{From: "a", To: "b"}},
	})
	engine := newTestEngine(t, EngineOptions{
		Workflow: wf,
		Executors: []Executor{NewExecutorFunc("task", func(ctx context.Context, params map[string]any) (any, error) {
			return nil, nil
		})},
	})

	engine.Subscribe(EventListenerFunc(func(ctx context.Context, event *Event) {
		panic("listener exploded")
	}))
	var mutex sync.Mutex
	seen := 0
	engine.Subscribe(EventListenerFunc(func(ctx context.Context, event *Event) {
		mutex.Lock()
		seen++
		mutex.Unlock()
	}))

	require.NoError(t, engine.Run(ctx))
	require.Equal(t, WorkflowStatusCompleted, engine.Status())

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, len(engine.Events()), seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wf := mustWorkflow(t, Options{
		Name:  "unsubscribe",
		Nodes: []*Node{{ID: "a", Type: "task"}},
	})

	var mutex sync.Mutex
	count := 0
	var unsubscribe func()
	engine := newTestEngine(t, EngineOptions{
		Workflow: wf,
		Executors: []Executor{NewExecutorFunc("task", func(ctx context.Context, params map[string]any) (any, error) {
			return nil, nil
		})},
	})
	unsubscribe = engine.Subscribe(EventListenerFunc(func(ctx context.Context, event *Event) {
		mutex.Lock()
		count++
		if count == 2 {
			unsubscribe()
		}
		mutex.Unlock()
	}))

	require.NoError(t, engine.Run(ctx))
	require.Greater(t, len(engine.Events()), 2)

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, 2, count)
}

func TestListenerSet(t *testing.T) {
	set := newListenerSet(testLogger())
	require.Zero(t, set.Len())

	var got []int64
	remove := set.Add(EventListenerFunc(func(ctx context.Context, event *Event) {
		got = append(got, event.Seq)
	}))
	require.Equal(t, 1, set.Len())

	set.Notify(context.Background(), &Event{Seq: 1, Type: EventWorkflowStarted})
	set.Notify(context.Background(), &Event{Seq: 2, Type: EventNodeStarted})
	require.Equal(t, []int64{1, 2}, got)

	remove()
	require.Zero(t, set.Len())
	set.Notify(context.Background(), &Event{Seq: 3, Type: EventNodeCompleted})
	require.Equal(t, []int64{1, 2}, got)

	// Removing twice is harmless.
	remove()
}

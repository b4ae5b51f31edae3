package chronograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/chronograph/retry"
	"github.com/deepnoodle-ai/chronograph/script"
	"go.jetify.com/typeid"
	"golang.org/x/sync/errgroup"
)

// NewRunID returns a new unique run identifier
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Defaults applied by New when the corresponding option is unset.
const (
	DefaultMaxConcurrentNodes   = 4
	DefaultNodeTimeout          = 30 * time.Second
	DefaultRetryBackoff         = 500 * time.Millisecond
	DefaultMaxCheckpoints       = 50
	DefaultAutoCheckpointEveryN = 10
	DefaultAutoSaveInterval     = 30 * time.Second
)

// EngineOptions configures a new Engine.
type EngineOptions struct {

	// Workflow to execute (required)
	Workflow *Workflow

	// Executors available to run nodes. Every node type used by the
	// workflow must have a matching executor.
	Executors []Executor

	// RunID identifies this run. Auto-generated if empty. Set it to a
	// previously saved run id before calling Load to resume that run.
	RunID string

	// Variables seeds or overrides the workflow's initial variables
	Variables map[string]any

	// Logger for structured run logging
	Logger *slog.Logger

	// Formatter for console output of node lifecycle, optional
	Formatter RunFormatter

	// Storage persists run snapshots, optional
	Storage Storage

	// EventLog receives every timeline event as it is recorded, optional.
	// Defaults to a no-op log.
	EventLog EventLog

	// ScriptCompiler overrides the default Risor compiler used for edge
	// conditions and parameter templates. When unset, expressions are
	// compiled against the live variable set at evaluation time.
	ScriptCompiler script.Compiler

	// MaxConcurrentNodes bounds how many nodes run in a single wave
	MaxConcurrentNodes int

	// NodeTimeout applies to nodes that do not declare their own timeout
	NodeTimeout time.Duration

	// DefaultBackoff is the base retry delay for nodes whose retry policy
	// does not declare one
	DefaultBackoff time.Duration

	// MaxCheckpoints bounds the number of retained checkpoints. When the
	// cap is reached the oldest checkpoint is evicted.
	MaxCheckpoints int

	// DisableAutoCheckpoints turns off the start, periodic, final, and
	// node-requested checkpoints. Manual checkpoints still work.
	DisableAutoCheckpoints bool

	// AutoCheckpointEveryN creates a checkpoint after every Nth node
	// completion
	AutoCheckpointEveryN int

	// AutoSaveInterval is how often a running engine persists its state
	// to storage. Negative disables periodic saves.
	AutoSaveInterval time.Duration
}

// Engine executes a workflow as a sequence of concurrent waves, recording
// every state change on an append-only timeline and periodically capturing
// full-state checkpoints that runs can be rewound to.
//
// An Engine drives exactly one run. Run blocks until the run reaches a
// terminal status, parking while paused. Pause, Resume, Stop, RewindTo, and
// CreateCheckpoint are safe to call from other goroutines.
type Engine struct {
	workflow    *Workflow
	state       *engineState
	variables   *Variables
	timeline    *Timeline
	checkpoints *checkpointList
	listeners   *listenerSet
	executors   map[string]Executor
	compiler    script.Compiler
	storage     Storage
	eventLog    EventLog
	logger      *slog.Logger
	formatter   RunFormatter

	maxConcurrentNodes   int
	nodeTimeout          time.Duration
	defaultBackoff       time.Duration
	autoCheckpoints      bool
	autoCheckpointEveryN int
	autoSaveInterval     time.Duration

	// checkpointMu serializes snapshot capture with the checkpoint.created
	// event so a checkpoint's seq always matches its recorded state
	checkpointMu sync.Mutex

	// mutex guards the orchestration flags below. cond is signaled to wake
	// a run loop parked on a pause.
	mutex          sync.Mutex
	cond           *sync.Cond
	running        bool
	started        bool
	parked         bool
	pauseRequested bool
	stopRequested  bool
	runCancel      context.CancelFunc
	completedCount int
}

// NewEngine creates an Engine for the given workflow.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("%w: workflow is required", ErrInvalidWorkflow)
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	if opts.EventLog == nil {
		opts.EventLog = NewNullEventLog()
	}
	if opts.MaxConcurrentNodes <= 0 {
		opts.MaxConcurrentNodes = DefaultMaxConcurrentNodes
	}
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = DefaultNodeTimeout
	}
	if opts.DefaultBackoff <= 0 {
		opts.DefaultBackoff = DefaultRetryBackoff
	}
	if opts.MaxCheckpoints <= 0 {
		opts.MaxCheckpoints = DefaultMaxCheckpoints
	}
	if opts.AutoCheckpointEveryN <= 0 {
		opts.AutoCheckpointEveryN = DefaultAutoCheckpointEveryN
	}
	if opts.AutoSaveInterval == 0 {
		opts.AutoSaveInterval = DefaultAutoSaveInterval
	}

	executors := make(map[string]Executor, len(opts.Executors))
	for _, executor := range opts.Executors {
		executors[executor.Name()] = executor
	}
	for _, node := range opts.Workflow.Nodes() {
		if _, ok := executors[node.Type]; !ok {
			return nil, fmt.Errorf("%w: no executor registered for node type %q",
				ErrInvalidWorkflow, node.Type)
		}
	}

	initial := deepCopyMap(opts.Workflow.InitialVariables())
	for name, value := range opts.Variables {
		initial[name] = value
	}

	logger := opts.Logger.With("run_id", opts.RunID)

	engine := &Engine{
		workflow:             opts.Workflow,
		state:                newEngineState(opts.RunID, opts.Workflow.Name(), opts.Workflow.NodeIDs()),
		variables:            NewVariables(initial),
		timeline:             NewTimeline(),
		checkpoints:          newCheckpointList(opts.MaxCheckpoints),
		listeners:            newListenerSet(logger),
		executors:            executors,
		compiler:             opts.ScriptCompiler,
		storage:              opts.Storage,
		eventLog:             opts.EventLog,
		logger:               logger,
		formatter:            opts.Formatter,
		maxConcurrentNodes:   opts.MaxConcurrentNodes,
		nodeTimeout:          opts.NodeTimeout,
		defaultBackoff:       opts.DefaultBackoff,
		autoCheckpoints:      !opts.DisableAutoCheckpoints,
		autoCheckpointEveryN: opts.AutoCheckpointEveryN,
		autoSaveInterval:     opts.AutoSaveInterval,
	}
	engine.cond = sync.NewCond(&engine.mutex)
	return engine, nil
}

// RunID returns the run identifier
func (e *Engine) RunID() string {
	return e.state.RunID()
}

// Status returns the current run status
func (e *Engine) Status() WorkflowStatus {
	return e.state.Status()
}

// Workflow returns the workflow being executed
func (e *Engine) Workflow() *Workflow {
	return e.workflow
}

// Variables returns the live variable set for the run
func (e *Engine) Variables() *Variables {
	return e.variables
}

// Events returns all recorded events in append order. Callers must not
// modify the returned events.
func (e *Engine) Events() []*Event {
	return e.timeline.Events()
}

// Checkpoints returns copies of the retained checkpoints, oldest first.
func (e *Engine) Checkpoints() []*Checkpoint {
	all := e.checkpoints.All()
	checkpoints := make([]*Checkpoint, len(all))
	for i, checkpoint := range all {
		checkpoints[i] = checkpoint.Copy()
	}
	return checkpoints
}

// NodeStates returns a copy of the current state of every node
func (e *Engine) NodeStates() map[string]*NodeState {
	return e.state.NodeStates()
}

// Subscribe registers a listener for run events. The returned function
// removes the listener.
func (e *Engine) Subscribe(listener EventListener) func() {
	return e.listeners.Add(listener)
}

// RunState returns a point-in-time view of the run
func (e *Engine) RunState() *RunState {
	status, nodeStates, activeNodes := e.state.Snapshot()
	return &RunState{
		RunID:        e.state.RunID(),
		WorkflowName: e.workflow.Name(),
		Status:       status,
		NodeStates:   nodeStates,
		Variables:    e.variables.Snapshot(),
		ActiveNodes:  activeNodes,
		Error:        errString(e.state.Error()),
	}
}

// Stats summarizes the run for display
func (e *Engine) Stats() *Stats {
	startTime := e.state.StartTime()
	var duration time.Duration
	if !startTime.IsZero() {
		end := e.state.EndTime()
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(startTime)
	}
	rewinds := 0
	for _, event := range e.timeline.Events() {
		if event.Type == EventWorkflowRewound {
			rewinds++
		}
	}
	attempts := 0
	for _, state := range e.state.NodeStates() {
		attempts += state.Attempts
	}
	return &Stats{
		RunID:           e.state.RunID(),
		WorkflowName:    e.workflow.Name(),
		Status:          e.state.Status(),
		TotalNodes:      len(e.workflow.Nodes()),
		NodeCounts:      e.state.CountByStatus(),
		TotalAttempts:   attempts,
		EventCount:      e.timeline.Len(),
		CheckpointCount: e.checkpoints.Len(),
		Rewinds:         rewinds,
		StartedAt:       startTime,
		Duration:        duration,
	}
}

// Run executes the workflow from its current state until it reaches a
// terminal status. It blocks through pauses. Returns nil when the run
// completes, ErrStopped when stopped, and the run error when it fails.
// Calling Run on an engine whose run already reached a terminal status
// returns that run's result without executing anything.
func (e *Engine) Run(ctx context.Context) error {
	e.mutex.Lock()
	if e.running {
		e.mutex.Unlock()
		return ErrAlreadyRunning
	}
	if e.stopRequested || e.state.Status() == WorkflowStatusStopped {
		e.mutex.Unlock()
		return ErrStopped
	}
	if e.state.Status().Terminal() {
		err := e.state.Error()
		e.mutex.Unlock()
		return err
	}
	e.running = true
	e.mutex.Unlock()

	defer func() {
		e.mutex.Lock()
		e.running = false
		e.parked = false
		e.mutex.Unlock()
	}()

	stopWatch := e.watchCancellation(ctx)
	defer stopWatch()

	if e.storage != nil && e.autoSaveInterval > 0 {
		stopAutosave := e.startAutosave()
		defer stopAutosave()
	}

	e.ensureStarted(ctx)
	return e.runLoop(ctx)
}

// Pause asks the engine to suspend execution. In-flight node attempts are
// interrupted and returned to pending without consuming a retry. Run stays
// blocked until Resume or Stop.
func (e *Engine) Pause() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.stopRequested || e.state.Status() == WorkflowStatusStopped {
		return ErrStopped
	}
	if !e.running {
		return ErrNotRunning
	}
	if e.pauseRequested {
		return nil
	}
	e.pauseRequested = true
	if e.runCancel != nil {
		e.runCancel()
	}
	e.logger.Info("pause requested")
	return nil
}

// Resume continues a paused run. If a Run call is parked it wakes and picks
// up from the current state. Otherwise, for example after a Load or a
// rewind, Resume drives the run itself and blocks like Run.
func (e *Engine) Resume(ctx context.Context) error {
	e.mutex.Lock()
	if e.stopRequested || e.state.Status() == WorkflowStatusStopped {
		e.mutex.Unlock()
		return ErrStopped
	}
	if e.running {
		e.pauseRequested = false
		e.cond.Broadcast()
		e.mutex.Unlock()
		e.logger.Info("resume requested")
		return nil
	}
	e.pauseRequested = false
	e.mutex.Unlock()
	return e.Run(ctx)
}

// Stop permanently halts the run. In-flight attempts are interrupted, state
// is saved, and the run status becomes stopped. A stopped engine rejects
// all further execution with ErrStopped. Stop is idempotent.
func (e *Engine) Stop() {
	e.mutex.Lock()
	if e.stopRequested || e.state.Status() == WorkflowStatusStopped {
		e.mutex.Unlock()
		return
	}
	e.stopRequested = true
	running := e.running
	if e.runCancel != nil {
		e.runCancel()
	}
	e.cond.Broadcast()
	e.mutex.Unlock()

	e.logger.Info("stop requested")
	if !running {
		e.finishStopped(context.Background())
	}
}

// ExecuteNode runs a single node manually. The node must be ready: all of
// its dependencies resolved and at least one in-edge satisfied. Afterwards
// the run is left paused, or finalized when no executable work remains.
// Returns the node's own failure error if the node fails.
func (e *Engine) ExecuteNode(ctx context.Context, nodeID string) error {
	e.mutex.Lock()
	if e.running {
		e.mutex.Unlock()
		return ErrAlreadyRunning
	}
	if e.stopRequested || e.state.Status() == WorkflowStatusStopped {
		e.mutex.Unlock()
		return ErrStopped
	}
	if status := e.state.Status(); status.Terminal() {
		e.mutex.Unlock()
		return fmt.Errorf("%w: workflow is %s", ErrNodeNotReady, status)
	}
	e.running = true
	e.mutex.Unlock()

	defer func() {
		e.mutex.Lock()
		e.running = false
		e.runCancel = nil
		e.mutex.Unlock()
	}()

	if _, ok := e.workflow.GetNode(nodeID); !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}

	e.ensureStarted(ctx)

	ready := e.computeReady(ctx)
	status := e.state.NodeStatus(nodeID)
	if status != NodeStatusPending {
		if status == NodeStatusSkipped {
			// Resolved to skipped while computing readiness
			e.settleAfterStep(ctx)
			return nil
		}
		return fmt.Errorf("%w: %q is %s", ErrNodeNotReady, nodeID, status)
	}
	if !containsString(ready, nodeID) {
		return fmt.Errorf("%w: %q has unresolved dependencies", ErrNodeNotReady, nodeID)
	}

	stepCtx, cancel := context.WithCancel(ctx)
	e.mutex.Lock()
	e.runCancel = cancel
	e.mutex.Unlock()
	nodeErr := e.runNode(stepCtx, nodeID)
	cancel()

	e.settleAfterStep(ctx)
	return nodeErr
}

// settleAfterStep finalizes the run if no executable work remains after a
// manual step, otherwise parks it as paused.
func (e *Engine) settleAfterStep(ctx context.Context) {
	e.mutex.Lock()
	stopped := e.stopRequested
	e.mutex.Unlock()
	if stopped {
		e.finishStopped(ctx)
		return
	}
	if e.state.Status().Terminal() {
		return
	}
	if len(e.computeReady(ctx)) == 0 {
		e.finalize(ctx)
		return
	}
	e.state.SetStatus(WorkflowStatusPaused)
	e.saveBestEffort(ctx)
}

// CreateCheckpoint captures a full snapshot of the run state under the
// given label and returns a copy of it.
func (e *Engine) CreateCheckpoint(ctx context.Context, label string) (*Checkpoint, error) {
	e.mutex.Lock()
	if e.stopRequested || e.state.Status() == WorkflowStatusStopped {
		e.mutex.Unlock()
		return nil, ErrStopped
	}
	e.mutex.Unlock()

	if label == "" {
		label = "manual"
	}
	checkpoint := e.createCheckpoint(ctx, label)
	return checkpoint.Copy(), nil
}

// Save persists the current run state to storage
func (e *Engine) Save(ctx context.Context) error {
	if e.storage == nil {
		return ErrNoStorage
	}
	return e.saveState(ctx)
}

// Load restores the engine from the snapshot stored for its run id. A run
// that was saved mid-execution resumes as paused with its interrupted nodes
// returned to pending.
func (e *Engine) Load(ctx context.Context) error {
	if e.storage == nil {
		return ErrNoStorage
	}
	e.mutex.Lock()
	if e.running {
		e.mutex.Unlock()
		return ErrAlreadyRunning
	}
	e.mutex.Unlock()

	snapshot, err := e.storage.LoadRun(ctx, e.state.RunID())
	if err != nil {
		return err
	}
	e.restore(snapshot)
	e.logger.Info("run loaded from storage",
		"status", e.state.Status(),
		"events", e.timeline.Len(),
		"checkpoints", e.checkpoints.Len())
	return nil
}

func (e *Engine) restore(snapshot *RunSnapshot) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	status := snapshot.Status
	if status == WorkflowStatusRunning {
		status = WorkflowStatusPaused
	}
	e.state.RestoreSnapshot(status, snapshot.NodeStates, snapshot.Error)
	e.state.ResetRunningToPending()
	if !snapshot.StartedAt.IsZero() {
		e.state.SetStartTime(snapshot.StartedAt)
	}
	e.variables.Restore(snapshot.Variables)
	e.timeline.Restore(snapshot.Events)
	e.checkpoints.Restore(snapshot.Checkpoints)
	e.started = e.timeline.Len() > 0
	e.completedCount = countCompleted(snapshot.NodeStates)
	e.pauseRequested = false
	e.stopRequested = status == WorkflowStatusStopped
}

// ensureStarted transitions the run to running, emitting the started event
// and the initial checkpoint exactly once per run.
func (e *Engine) ensureStarted(ctx context.Context) {
	e.mutex.Lock()
	if e.started {
		e.mutex.Unlock()
		e.state.SetStatus(WorkflowStatusRunning)
		return
	}
	e.started = true
	e.mutex.Unlock()

	e.state.SetStatus(WorkflowStatusRunning)
	e.state.SetStartTime(time.Now())
	e.emit(ctx, EventWorkflowStarted, "", map[string]any{
		"workflow_name": e.workflow.Name(),
	})
	e.logger.Info("workflow started",
		"workflow_name", e.workflow.Name(),
		"nodes", len(e.workflow.Nodes()),
		"max_concurrent_nodes", e.maxConcurrentNodes)
	if e.autoCheckpoints {
		e.createCheckpoint(ctx, "start")
	}
}

// runLoop drives execution wave by wave until the run is terminal
func (e *Engine) runLoop(ctx context.Context) error {
	for {
		if err := e.waitIfPaused(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return e.finishStopped(ctx)
			}
			return e.failInterrupted(ctx, err)
		}

		ready := e.computeReady(ctx)
		if len(ready) == 0 {
			return e.finalize(ctx)
		}

		wave := ready
		if len(wave) > e.maxConcurrentNodes {
			wave = wave[:e.maxConcurrentNodes]
		}
		e.runWave(ctx, wave)
	}
}

// waitIfPaused parks the run loop while a pause is in effect. It returns
// ErrStopped when a stop was requested and the context error when the
// caller's context is done.
func (e *Engine) waitIfPaused(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	saved := false
	for {
		if e.stopRequested {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.pauseRequested {
			e.parked = false
			if e.state.Status() == WorkflowStatusPaused {
				e.state.SetStatus(WorkflowStatusRunning)
				e.logger.Info("workflow resumed")
			}
			return nil
		}
		e.parked = true
		if !saved {
			saved = true
			e.state.SetStatus(WorkflowStatusPaused)
			e.logger.Info("workflow paused")
			e.mutex.Unlock()
			e.saveBestEffort(context.WithoutCancel(ctx))
			e.mutex.Lock()
			continue
		}
		e.cond.Wait()
	}
}

// watchCancellation wakes a parked run loop when the caller's context is
// canceled. The returned function stops the watcher.
func (e *Engine) watchCancellation(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.cond.Broadcast()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// computeReady resolves which pending nodes can execute now. A node is
// eligible once every in-edge source is completed or skipped. An eligible
// node is ready if any in-edge from a completed source carries no condition
// or a condition that evaluates truthy; otherwise it is marked skipped,
// which may cascade to its descendants.
func (e *Engine) computeReady(ctx context.Context) []string {
	for {
		var ready []string
		changed := false
		for _, nodeID := range e.workflow.NodeIDs() {
			if e.state.NodeStatus(nodeID) != NodeStatusPending {
				continue
			}
			inEdges := e.workflow.InEdges(nodeID)
			if len(inEdges) == 0 {
				ready = append(ready, nodeID)
				continue
			}
			eligible := true
			for _, edge := range inEdges {
				if !e.state.NodeStatus(edge.From).Satisfied() {
					eligible = false
					break
				}
			}
			if !eligible {
				continue
			}

			fire := false
			var condErr error
			for _, edge := range inEdges {
				if e.state.NodeStatus(edge.From) != NodeStatusCompleted {
					// Edges from skipped sources never fire
					continue
				}
				if edge.Condition == "" {
					fire = true
					break
				}
				truthy, err := e.evalCondition(ctx, edge.Condition)
				if err != nil {
					condErr = err
					break
				}
				if truthy {
					fire = true
					break
				}
			}
			if condErr != nil {
				e.failNodeCondition(ctx, nodeID, condErr)
				changed = true
				continue
			}
			if fire {
				ready = append(ready, nodeID)
				continue
			}

			e.state.UpdateNode(nodeID, func(ns *NodeState) {
				ns.Status = NodeStatusSkipped
			})
			e.logger.Info("node skipped", "node_id", nodeID)
			changed = true
		}
		if !changed {
			return ready
		}
	}
}

// runWave executes up to maxConcurrentNodes ready nodes concurrently and
// waits for all of them to settle before returning.
func (e *Engine) runWave(ctx context.Context, wave []string) {
	waveCtx, cancel := context.WithCancel(ctx)
	e.mutex.Lock()
	e.runCancel = cancel
	e.mutex.Unlock()

	group, groupCtx := errgroup.WithContext(waveCtx)
	for _, nodeID := range wave {
		group.Go(func() error {
			e.runNode(groupCtx, nodeID)
			return nil
		})
	}
	_ = group.Wait()

	e.mutex.Lock()
	e.runCancel = nil
	e.mutex.Unlock()
	cancel()
}

// runNode executes one node through its retry budget. Returns the node's
// final error, or nil if it completed or was interrupted.
func (e *Engine) runNode(ctx context.Context, nodeID string) error {
	node, ok := e.workflow.GetNode(nodeID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	maxAttempts := 1
	if node.Retry != nil {
		maxAttempts = 1 + node.Retry.MaxRetries
	}

	startedAt := time.Now()
	e.state.UpdateNode(nodeID, func(ns *NodeState) {
		ns.Status = NodeStatusRunning
		ns.StartedAt = &startedAt
		ns.Error = ""
	})
	e.emit(ctx, EventNodeStarted, nodeID, map[string]any{
		"node_type": node.Type,
	})
	if e.formatter != nil {
		e.formatter.PrintNodeStart(nodeID, node.Type)
	}
	e.logger.Info("node started", "node_id", nodeID, "node_type", node.Type)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		e.state.UpdateNode(nodeID, func(ns *NodeState) {
			ns.Attempts = attempt
		})

		output, err := e.executeAttempt(ctx, node)
		if err == nil {
			e.completeNode(ctx, node, output, attempt, startedAt)
			return nil
		}
		if ctx.Err() != nil {
			// Interrupted mid-attempt: the attempt does not count
			e.resetInterrupted(nodeID, true)
			return nil
		}
		lastErr = err
		e.logger.Warn("node attempt failed",
			"node_id", nodeID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err)

		// Errors that declare themselves non-recoverable or fatal burn the
		// rest of the retry budget. Heuristic classification never does.
		var declared retry.RecoverableError
		if errors.As(err, &declared) && !declared.IsRecoverable() {
			break
		}
		var fatal *NodeError
		if errors.As(err, &fatal) && fatal.Type == ErrorTypeFatal {
			break
		}
		if attempt < maxAttempts {
			delay := node.Retry.RetryDelay(attempt, e.defaultBackoff)
			select {
			case <-ctx.Done():
				// Interrupted while waiting to retry: attempts stand
				e.resetInterrupted(nodeID, false)
				return nil
			case <-time.After(delay):
			}
		}
	}

	e.failNode(ctx, node, lastErr, attempts, startedAt)
	return lastErr
}

// executeAttempt runs a single attempt of a node under its timeout. The
// executor runs on its own goroutine so a hung executor cannot wedge the
// run; the attempt fails with the context error instead.
func (e *Engine) executeAttempt(ctx context.Context, node *Node) (any, error) {
	executor, ok := e.executors[node.Type]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type %q", node.Type)
	}

	params, err := e.resolveParams(ctx, node.Params)
	if err != nil {
		return nil, err
	}

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.nodeTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCtx = WithRunID(execCtx, e.state.RunID())
	execCtx = WithLogger(execCtx, e.logger)
	execCtx = WithVariables(execCtx, e.variables)

	type attemptResult struct {
		output any
		err    error
	}
	results := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- attemptResult{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		output, err := executor.Execute(execCtx, params)
		results <- attemptResult{output: output, err: err}
	}()

	select {
	case result := <-results:
		return result.output, result.err
	case <-execCtx.Done():
		return nil, execCtx.Err()
	}
}

func (e *Engine) completeNode(ctx context.Context, node *Node, output any, attempts int, startedAt time.Time) {
	now := time.Now()
	e.state.UpdateNode(node.ID, func(ns *NodeState) {
		ns.Status = NodeStatusCompleted
		ns.Output = deepCopyValue(output)
		ns.Error = ""
		ns.Retryable = false
		ns.CompletedAt = &now
	})
	if node.Store != "" {
		e.variables.Set(node.Store, output)
	}
	if len(node.Outputs) > 0 {
		if outputMap, ok := output.(map[string]any); ok {
			for key, variable := range node.Outputs {
				if value, exists := outputMap[key]; exists {
					e.variables.Set(variable, value)
				}
			}
		}
	}
	e.emit(ctx, EventNodeCompleted, node.ID, map[string]any{
		"attempts":    attempts,
		"duration_ms": durationMs(startedAt, now),
	})
	if e.formatter != nil {
		e.formatter.PrintNodeOutput(node.ID, output)
	}
	e.logger.Info("node completed", "node_id", node.ID, "attempts", attempts)

	if node.CheckpointAfter && e.autoCheckpoints {
		e.createCheckpoint(ctx, "after-"+node.ID)
	}
	e.noteCompletion(ctx)
}

// noteCompletion advances the completion counter and cuts a periodic
// checkpoint when the cadence comes due.
func (e *Engine) noteCompletion(ctx context.Context) {
	if !e.autoCheckpoints {
		return
	}
	e.mutex.Lock()
	e.completedCount++
	due := e.completedCount%e.autoCheckpointEveryN == 0
	e.mutex.Unlock()
	if due {
		e.createCheckpoint(ctx, "auto")
	}
}

func (e *Engine) failNode(ctx context.Context, node *Node, cause error, attempts int, startedAt time.Time) {
	classified := ClassifyError(cause)
	retryable := retry.IsRecoverable(cause) && classified.Type != ErrorTypeFatal
	now := time.Now()
	e.state.UpdateNode(node.ID, func(ns *NodeState) {
		ns.Status = NodeStatusFailed
		ns.Error = cause.Error()
		ns.Retryable = retryable
		ns.CompletedAt = &now
	})
	e.emit(ctx, EventNodeFailed, node.ID, map[string]any{
		"attempts":    attempts,
		"duration_ms": durationMs(startedAt, now),
		"error":       cause.Error(),
		"error_type":  classified.Type,
		"retryable":   retryable,
	})
	if e.formatter != nil {
		e.formatter.PrintNodeError(node.ID, cause)
	}
	e.logger.Error("node failed",
		"node_id", node.ID,
		"attempts", attempts,
		"error", cause,
		"retryable", retryable)
}

// failNodeCondition marks a node failed because one of its in-edge
// conditions could not be evaluated. The node never executes.
func (e *Engine) failNodeCondition(ctx context.Context, nodeID string, cause error) {
	now := time.Now()
	e.state.UpdateNode(nodeID, func(ns *NodeState) {
		ns.Status = NodeStatusFailed
		ns.Error = cause.Error()
		ns.CompletedAt = &now
	})
	e.emit(ctx, EventNodeFailed, nodeID, map[string]any{
		"attempts":   0,
		"error":      cause.Error(),
		"error_type": ClassifyError(cause).Type,
		"retryable":  false,
	})
	if e.formatter != nil {
		e.formatter.PrintNodeError(nodeID, cause)
	}
	e.logger.Error("node failed", "node_id", nodeID, "error", cause)
}

// resetInterrupted returns an interrupted node to pending. A rollback
// uncounts the attempt that was cut short mid-flight.
func (e *Engine) resetInterrupted(nodeID string, rollbackAttempt bool) {
	e.state.UpdateNode(nodeID, func(ns *NodeState) {
		ns.Status = NodeStatusPending
		if rollbackAttempt && ns.Attempts > 0 {
			ns.Attempts--
		}
		ns.StartedAt = nil
		ns.Error = ""
	})
	e.logger.Info("node interrupted", "node_id", nodeID)
}

// finalize settles the run once no executable work remains. Nodes that are
// still pending at this point are unreachable because an ancestor failed.
func (e *Engine) finalize(ctx context.Context) error {
	now := time.Now()
	var failures []string
	for _, nodeID := range e.workflow.NodeIDs() {
		if state, ok := e.state.NodeState(nodeID); ok && state.Status == NodeStatusFailed {
			failures = append(failures, fmt.Sprintf("%s: %s", nodeID, state.Error))
		}
	}

	if len(failures) > 0 {
		runErr := fmt.Errorf("workflow failed: %s", strings.Join(failures, "; "))
		e.state.SetFinished(WorkflowStatusFailed, now, runErr)
		if e.autoCheckpoints {
			e.createCheckpoint(ctx, "final")
		}
		e.emit(ctx, EventWorkflowFailed, "", map[string]any{
			"error":       runErr.Error(),
			"duration_ms": durationMs(e.state.StartTime(), now),
		})
		e.logger.Error("workflow failed", "failed_nodes", len(failures))
		e.saveBestEffort(ctx)
		return runErr
	}

	e.state.SetFinished(WorkflowStatusCompleted, now, nil)
	if e.autoCheckpoints {
		e.createCheckpoint(ctx, "final")
	}
	counts := e.state.CountByStatus()
	e.emit(ctx, EventWorkflowCompleted, "", map[string]any{
		"duration_ms":     durationMs(e.state.StartTime(), now),
		"nodes_completed": counts[NodeStatusCompleted],
		"nodes_skipped":   counts[NodeStatusSkipped],
	})
	e.logger.Info("workflow completed",
		"nodes_completed", counts[NodeStatusCompleted],
		"nodes_skipped", counts[NodeStatusSkipped])
	e.saveBestEffort(ctx)
	return nil
}

// finishStopped records the stopped status and persists it. Stopping emits
// no event; the timeline records what the workflow did, and a stop is a
// decision about the run, not part of its history.
func (e *Engine) finishStopped(ctx context.Context) error {
	e.state.SetFinished(WorkflowStatusStopped, time.Now(), nil)
	e.logger.Info("workflow stopped")
	e.saveBestEffort(context.WithoutCancel(ctx))
	return ErrStopped
}

// failInterrupted settles the run as failed after the caller's context was
// canceled mid-execution. Interrupted nodes were already returned to
// pending, so a rewind to a checkpoint can resume the work later.
func (e *Engine) failInterrupted(ctx context.Context, cause error) error {
	now := time.Now()
	e.state.SetFinished(WorkflowStatusFailed, now, cause)
	e.emit(context.WithoutCancel(ctx), EventWorkflowFailed, "", map[string]any{
		"error":       cause.Error(),
		"duration_ms": durationMs(e.state.StartTime(), now),
	})
	e.logger.Error("workflow interrupted", "error", cause)
	e.saveBestEffort(context.WithoutCancel(ctx))
	return cause
}

// createCheckpoint captures the run state and records the checkpoint. The
// checkpoint's seq is the seq of its checkpoint.created event.
func (e *Engine) createCheckpoint(ctx context.Context, label string) *Checkpoint {
	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()

	status, nodeStates, activeNodes := e.state.Snapshot()
	checkpoint := &Checkpoint{
		ID:          NewCheckpointID(),
		Label:       label,
		RunID:       e.state.RunID(),
		Status:      status,
		NodeStates:  nodeStates,
		Variables:   e.variables.Snapshot(),
		ActiveNodes: activeNodes,
		CreatedAt:   time.Now(),
	}
	event := e.emit(ctx, EventCheckpointCreated, "", map[string]any{
		"checkpoint_id": checkpoint.ID,
		"label":         label,
	})
	checkpoint.Seq = event.Seq
	e.checkpoints.Add(checkpoint)
	e.logger.Debug("checkpoint created",
		"checkpoint_id", checkpoint.ID,
		"label", label,
		"seq", checkpoint.Seq)
	return checkpoint
}

// emit appends an event to the timeline and fans it out to listeners
func (e *Engine) emit(ctx context.Context, eventType EventType, nodeID string, data map[string]any) *Event {
	event := e.timeline.Append(eventType, nodeID, data)
	if err := e.eventLog.LogEvent(ctx, e.state.RunID(), event); err != nil {
		e.logger.Error("failed to log event", "error", err, "event_id", event.ID)
	}
	e.listeners.Notify(ctx, event)
	return event
}

// conditionGlobals builds the globals for one expression evaluation: the
// Risor builtins, every variable by bare name, and the variables map.
func (e *Engine) conditionGlobals() map[string]any {
	globals := script.DefaultRisorGlobals()
	vars := e.variables.Snapshot()
	for name, value := range vars {
		globals[name] = value
	}
	globals["variables"] = vars
	return globals
}

func (e *Engine) evalCondition(ctx context.Context, condition string) (bool, error) {
	globals := e.conditionGlobals()
	compiler := e.compiler
	if compiler == nil {
		compiler = script.NewRisorScriptingEngine(globals)
	}
	compiled, err := compiler.Compile(ctx, condition)
	if err != nil {
		return false, fmt.Errorf("failed to compile condition %q: %w", condition, err)
	}
	value, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}
	return value.IsTruthy(), nil
}

// resolveParams expands ${...} templates in node parameters against the
// current variables. Template failures count as attempt failures.
func (e *Engine) resolveParams(ctx context.Context, params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	resolved, err := e.resolveValue(ctx, params)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func (e *Engine) resolveValue(ctx context.Context, value any) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "${") {
			return v, nil
		}
		globals := e.conditionGlobals()
		compiler := e.compiler
		if compiler == nil {
			compiler = script.NewRisorScriptingEngine(globals)
		}
		template, err := script.NewTemplate(compiler, v)
		if err != nil {
			return nil, fmt.Errorf("failed to compile parameter template: %w", err)
		}
		return template.Eval(ctx, globals)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			r, err := e.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			resolved[key] = r
		}
		return resolved, nil
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			r, err := e.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			resolved[i] = r
		}
		return resolved, nil
	default:
		return value, nil
	}
}

func (e *Engine) saveState(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}
	if err := e.storage.SaveRun(ctx, e.buildSnapshot()); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (e *Engine) saveBestEffort(ctx context.Context) {
	if err := e.saveState(ctx); err != nil {
		e.logger.Error("failed to save run state", "error", err)
	}
}

func (e *Engine) buildSnapshot() *RunSnapshot {
	status, nodeStates, _ := e.state.Snapshot()
	return &RunSnapshot{
		RunID:        e.state.RunID(),
		WorkflowName: e.workflow.Name(),
		Status:       status,
		NodeStates:   nodeStates,
		Variables:    e.variables.Snapshot(),
		Events:       e.timeline.Events(),
		Checkpoints:  e.checkpoints.All(),
		Error:        errString(e.state.Error()),
		StartedAt:    e.state.StartTime(),
		UpdatedAt:    time.Now(),
	}
}

// startAutosave periodically persists run state until the returned stop
// function is called. Save failures are logged, never fatal.
func (e *Engine) startAutosave() func() {
	done := make(chan struct{})
	ticker := time.NewTicker(e.autoSaveInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				e.saveBestEffort(saveCtx)
				cancel()
			}
		}
	}()
	return func() { close(done) }
}

func countCompleted(nodeStates map[string]*NodeState) int {
	count := 0
	for _, state := range nodeStates {
		if state.Status == NodeStatusCompleted {
			count++
		}
	}
	return count
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func durationMs(start, end time.Time) float64 {
	if start.IsZero() {
		return 0
	}
	return float64(end.Sub(start)) / float64(time.Millisecond)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

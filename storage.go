package chronograph

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RunSnapshot is the full persisted form of a run: its identity, current
// state, the complete timeline, and the retained checkpoints. A snapshot is
// everything needed to reopen a run and continue or rewind it.
type RunSnapshot struct {
	RunID        string                `json:"run_id"`
	WorkflowName string                `json:"workflow_name"`
	Status       WorkflowStatus        `json:"status"`
	NodeStates   map[string]*NodeState `json:"node_states"`
	Variables    map[string]any        `json:"variables"`
	Events       []*Event              `json:"events"`
	Checkpoints  []*Checkpoint         `json:"checkpoints"`
	Error        string                `json:"error,omitempty"`
	StartedAt    time.Time             `json:"started_at,omitzero"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// RunSummary describes a stored run without its full state.
type RunSummary struct {
	RunID        string         `json:"run_id"`
	WorkflowName string         `json:"workflow_name"`
	Status       WorkflowStatus `json:"status"`
	EventCount   int            `json:"event_count"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Storage persists run snapshots. Implementations must be safe for
// concurrent use; the engine saves from both its run loop and the autosave
// ticker.
type Storage interface {
	// SaveRun persists a snapshot, replacing any previous one for the run
	SaveRun(ctx context.Context, snapshot *RunSnapshot) error

	// LoadRun retrieves the snapshot for a run. Returns ErrRunNotFound if
	// the run has never been saved.
	LoadRun(ctx context.Context, runID string) (*RunSnapshot, error)

	// ListRuns returns summaries of all stored runs, most recent first
	ListRuns(ctx context.Context) ([]*RunSummary, error)

	// DeleteRun removes all stored data for a run
	DeleteRun(ctx context.Context, runID string) error
}

// Summary returns the summary view of a snapshot.
func (s *RunSnapshot) Summary() *RunSummary {
	return &RunSummary{
		RunID:        s.RunID,
		WorkflowName: s.WorkflowName,
		Status:       s.Status,
		EventCount:   len(s.Events),
		UpdatedAt:    s.UpdatedAt,
	}
}

// NullStorage is a no-op implementation
type NullStorage struct{}

func NewNullStorage() *NullStorage {
	return &NullStorage{}
}

func (s *NullStorage) SaveRun(ctx context.Context, snapshot *RunSnapshot) error {
	return nil
}

func (s *NullStorage) LoadRun(ctx context.Context, runID string) (*RunSnapshot, error) {
	return nil, ErrRunNotFound
}

func (s *NullStorage) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	return nil, nil
}

func (s *NullStorage) DeleteRun(ctx context.Context, runID string) error {
	return nil
}

// MemoryStorage keeps snapshots in process memory. Useful in tests and for
// callers that want autosave plumbing without a durable backend.
type MemoryStorage struct {
	mutex sync.RWMutex
	runs  map[string]*RunSnapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{runs: make(map[string]*RunSnapshot)}
}

func (s *MemoryStorage) SaveRun(ctx context.Context, snapshot *RunSnapshot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.runs[snapshot.RunID] = snapshot
	return nil
}

func (s *MemoryStorage) LoadRun(ctx context.Context, runID string) (*RunSnapshot, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	snapshot, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return snapshot, nil
}

func (s *MemoryStorage) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	summaries := make([]*RunSummary, 0, len(s.runs))
	for _, snapshot := range s.runs {
		summaries = append(summaries, snapshot.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *MemoryStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.runs, runID)
	return nil
}

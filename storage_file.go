package chronograph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultSnapshotHistory is how many snapshot files FileStorage keeps per
// run before pruning the oldest.
const defaultSnapshotHistory = 5

// FileStorage persists run snapshots to disk, one directory per run. Each
// save writes a new snapshot file and repoints a latest.json symlink, so a
// crash mid-write never corrupts the previously saved state.
type FileStorage struct {
	dataDir string
	history int
}

// NewFileStorage creates a new file-based storage adapter rooted at dataDir.
func NewFileStorage(dataDir string) (*FileStorage, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".chronograph", "runs")
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &FileStorage{dataDir: dataDir, history: defaultSnapshotHistory}, nil
}

// SaveRun writes the snapshot to disk and updates the latest pointer.
func (s *FileStorage) SaveRun(ctx context.Context, snapshot *RunSnapshot) error {
	runDir := filepath.Join(s.dataDir, snapshot.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	snapshotPath := filepath.Join(runDir, fmt.Sprintf("snapshot-%d.json", snapshot.UpdatedAt.UnixNano()))
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run snapshot: %w", err)
	}

	if err := os.WriteFile(snapshotPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	latestPath := filepath.Join(runDir, "latest.json")
	if err := s.updateLatestSymlink(snapshotPath, latestPath); err != nil {
		return fmt.Errorf("failed to update latest symlink: %w", err)
	}

	return s.pruneSnapshots(runDir)
}

// LoadRun reads the latest snapshot for a run.
func (s *FileStorage) LoadRun(ctx context.Context, runID string) (*RunSnapshot, error) {
	latestPath := filepath.Join(s.dataDir, runID, "latest.json")

	if _, err := os.Stat(latestPath); os.IsNotExist(err) {
		return nil, ErrRunNotFound
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot RunSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run snapshot: %w", err)
	}

	return &snapshot, nil
}

// ListRuns returns summaries of all stored runs, newest first.
func (s *FileStorage) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*RunSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var summaries []*RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snapshot, err := s.LoadRun(ctx, entry.Name())
		if err != nil {
			// Skip runs we can't read
			continue
		}
		summaries = append(summaries, snapshot.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

// DeleteRun removes all stored data for a run.
func (s *FileStorage) DeleteRun(ctx context.Context, runID string) error {
	runDir := filepath.Join(s.dataDir, runID)
	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to delete run directory: %w", err)
	}
	return nil
}

// pruneSnapshots deletes all but the newest history snapshot files.
func (s *FileStorage) pruneSnapshots(runDir string) error {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return fmt.Errorf("failed to read run directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "snapshot-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) <= s.history {
		return nil
	}
	// Timestamped names sort oldest first
	sort.Strings(names)
	for _, name := range names[:len(names)-s.history] {
		if err := os.Remove(filepath.Join(runDir, name)); err != nil {
			return fmt.Errorf("failed to prune snapshot %s: %w", name, err)
		}
	}
	return nil
}

// updateLatestSymlink updates the symlink to point to the latest snapshot
func (s *FileStorage) updateLatestSymlink(snapshotPath, latestPath string) error {
	// Remove existing symlink if it exists
	if _, err := os.Lstat(latestPath); err == nil {
		if err := os.Remove(latestPath); err != nil {
			return fmt.Errorf("failed to remove existing latest symlink: %w", err)
		}
	}

	// On Windows, copy the file instead of creating a symlink
	if strings.Contains(os.Getenv("OS"), "Windows") {
		data, err := os.ReadFile(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to read snapshot for copy: %w", err)
		}
		return os.WriteFile(latestPath, data, 0644)
	}

	// Create relative symlink
	rel, err := filepath.Rel(filepath.Dir(latestPath), snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to create relative path: %w", err)
	}

	return os.Symlink(rel, latestPath)
}

package chronograph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage persists run snapshots in a single-file SQLite database.
// Zero setup, single writer. WAL mode keeps readers unblocked while the
// engine autosaves.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database at path, creating it if needed. Use
// ":memory:" for an in-memory database that is lost on close.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage, nil
}

func (s *SQLiteStorage) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT NOT NULL PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			event_count INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_updated ON workflow_runs(updated_at)"); err != nil {
		return fmt.Errorf("failed to create idx_runs_updated: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces the snapshot for a run.
func (s *SQLiteStorage) SaveRun(ctx context.Context, snapshot *RunSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal run snapshot: %w", err)
	}
	query := `
		INSERT INTO workflow_runs (run_id, workflow_name, status, event_count, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			status = excluded.status,
			event_count = excluded.event_count,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		snapshot.RunID,
		snapshot.WorkflowName,
		string(snapshot.Status),
		len(snapshot.Events),
		string(data),
		snapshot.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun retrieves the snapshot for a run.
func (s *SQLiteStorage) LoadRun(ctx context.Context, runID string) (*RunSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot FROM workflow_runs WHERE run_id = ?", runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	var snapshot RunSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListRuns returns summaries of all stored runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	query := `
		SELECT run_id, workflow_name, status, event_count, updated_at
		FROM workflow_runs
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*RunSummary
	for rows.Next() {
		var (
			summary   RunSummary
			status    string
			updatedAt string
		)
		if err := rows.Scan(&summary.RunID, &summary.WorkflowName, &status, &summary.EventCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		summary.Status = WorkflowStatus(status)
		if summary.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return summaries, nil
}

// DeleteRun removes all stored data for a run.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM workflow_runs WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

package chronograph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStorage persists run snapshots in a PostgreSQL table with a JSONB
// snapshot column. Suited to deployments where stored runs outlive a single
// host or need to be visible to other services.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects using the given DSN and prepares the schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	storage := &PostgresStorage{db: db}
	if err := storage.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage, nil
}

func (s *PostgresStorage) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT NOT NULL PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			event_count INTEGER NOT NULL,
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
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
func (s *PostgresStorage) SaveRun(ctx context.Context, snapshot *RunSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal run snapshot: %w", err)
	}
	query := `
		INSERT INTO workflow_runs (run_id, workflow_name, status, event_count, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			workflow_name = EXCLUDED.workflow_name,
			status = EXCLUDED.status,
			event_count = EXCLUDED.event_count,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		snapshot.RunID,
		snapshot.WorkflowName,
		string(snapshot.Status),
		len(snapshot.Events),
		data,
		snapshot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun retrieves the snapshot for a run.
func (s *PostgresStorage) LoadRun(ctx context.Context, runID string) (*RunSnapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot FROM workflow_runs WHERE run_id = $1", runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	var snapshot RunSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListRuns returns summaries of all stored runs, newest first.
func (s *PostgresStorage) ListRuns(ctx context.Context) ([]*RunSummary, error) {
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
			updatedAt time.Time
		)
		if err := rows.Scan(&summary.RunID, &summary.WorkflowName, &status, &summary.EventCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		summary.Status = WorkflowStatus(status)
		summary.UpdatedAt = updatedAt
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return summaries, nil
}

// DeleteRun removes all stored data for a run.
func (s *PostgresStorage) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM workflow_runs WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

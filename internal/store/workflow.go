package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StartWorkflow records an ingestion instance. Starting an instance that
// already exists is a no-op.
func (s *Store) StartWorkflow(ctx context.Context, instance string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO Workflow (instance, started_at) VALUES (?, ?)", instance, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("starting workflow %q: %w", instance, err)
	}
	return nil
}

func (s *Store) FinishWorkflow(ctx context.Context, instance string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE Workflow SET completed_at = ? WHERE instance = ?", time.Now().UnixNano(), instance)
	if err != nil {
		return fmt.Errorf("finishing workflow %q: %w", instance, err)
	}
	return nil
}

// LatestUnfinishedWorkflow returns the most recently started instance that
// never finished.
func (s *Store) LatestUnfinishedWorkflow(ctx context.Context) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT instance FROM Workflow
		WHERE completed_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`)
	var instance string
	err := row.Scan(&instance)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("finding unfinished workflow: %w", err)
	}
	return instance, true, nil
}

func (s *Store) LoadStep(ctx context.Context, instance, name string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT result FROM WorkflowStep WHERE instance = ? AND name = ?", instance, name)
	var result []byte
	err := row.Scan(&result)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading step %q of %q: %w", name, instance, err)
	}
	return result, true, nil
}

func (s *Store) SaveStep(ctx context.Context, instance, name string, result []byte) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO WorkflowStep (instance, name, result) VALUES (?, ?, ?)", instance, name, result)
	if err != nil {
		return fmt.Errorf("saving step %q of %q: %w", name, instance, err)
	}
	return nil
}

// StepCount returns the number of recorded steps of instance.
func (s *Store) StepCount(ctx context.Context, instance string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM WorkflowStep WHERE instance = ?", instance).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting steps of %q: %w", instance, err)
	}
	return n, nil
}

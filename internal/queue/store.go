package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/db"
)

// FailureStore keeps terminal job failures in the task_failures table.
type FailureStore struct {
	db *db.DB
}

// NewFailureStore creates a FailureStore backed by the given database.
func NewFailureStore(database *db.DB) *FailureStore {
	return &FailureStore{db: database}
}

// RecordFailure inserts f.
func (s *FailureStore) RecordFailure(ctx context.Context, f Failure) error {
	args := string(f.Args)
	if args == "" {
		args = "{}"
	}
	failedAt := f.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_failures (id, job_id, task, args, attempts, outcome, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.JobID, f.Task, args, f.Attempts, f.Outcome, f.Error, failedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting task failure: %w", err)
	}
	return nil
}

// List returns the most recent failures, optionally for one task.
func (s *FailureStore) List(ctx context.Context, task string, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, job_id, task, args, attempts, outcome, error, failed_at FROM task_failures"
	var args []any
	if task != "" {
		query += " WHERE task = ?"
		args = append(args, task)
	}
	query += " ORDER BY failed_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying task failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var (
			f       Failure
			rawArgs string
			ts      string
		)
		if err := rows.Scan(&f.ID, &f.JobID, &f.Task, &rawArgs, &f.Attempts, &f.Outcome, &f.Error, &ts); err != nil {
			return nil, fmt.Errorf("scanning task failure: %w", err)
		}
		f.Args = []byte(rawArgs)
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			f.FailedAt = t
		} else if t, err := time.Parse(time.DateTime, ts); err == nil {
			f.FailedAt = t
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

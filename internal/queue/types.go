package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/retry"
)

// ErrStopped is returned by Schedule once the queue has been stopped.
var ErrStopped = errors.New("queue stopped")

// Handler executes one attempt of a task. args is the JSON the task was
// scheduled with.
type Handler func(ctx context.Context, args json.RawMessage) error

// Task is a named unit of background work with its retry policy.
type Task struct {
	Name        string
	Description string
	Policy      retry.Policy
	Handler     Handler
}

// Scheduler enqueues a task by name to run after delay.
type Scheduler interface {
	Schedule(ctx context.Context, name string, args any, delay time.Duration) error
}

// Job is one scheduled invocation of a task.
type Job struct {
	ID   string          `json:"id"`
	Task string          `json:"task"`
	Args json.RawMessage `json:"args"`
	// Retries counts failed attempts that were retried.
	Retries int `json:"retries"`
}

// Failure is the record kept for a job that will not be tried again.
type Failure struct {
	ID       string          `json:"id"`
	JobID    string          `json:"job_id"`
	Task     string          `json:"task"`
	Args     json.RawMessage `json:"args"`
	Attempts int             `json:"attempts"`
	Outcome  string          `json:"outcome"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// FailureRecorder stores terminal job failures.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, f Failure) error
}

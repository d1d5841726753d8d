// Package queue runs named tasks on a pool of workers. Tasks can be
// delayed, and a failed attempt is re-enqueued or abandoned according to
// the task's retry policy.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ziadkadry99/issue-sync/internal/clock"
	"github.com/ziadkadry99/issue-sync/internal/retry"
)

// Config controls the worker pool.
type Config struct {
	// Workers defaults to 4.
	Workers int
	// Buffer is the capacity of the ready queue. Defaults to 256.
	Buffer int
	// TaskTimeout bounds each attempt. Defaults to 60s.
	TaskTimeout time.Duration

	Clock    clock.Clock
	Logger   *slog.Logger
	Failures FailureRecorder
}

// Queue is an in-process Scheduler.
type Queue struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	jobs   chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tasks   map[string]Task
	timers  map[string]clock.Timer
	pending int
	idle    chan struct{}
	started bool
	stopped bool
}

// New creates a Queue. Jobs may be scheduled before Start; they run once
// workers are started.
func New(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Queue{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		jobs:   make(chan Job, cfg.Buffer),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]Task),
		timers: make(map[string]clock.Timer),
		idle:   idle,
	}
}

// Register adds a task. Names must be unique.
func (q *Queue) Register(task Task) error {
	if task.Name == "" || task.Handler == nil {
		return fmt.Errorf("task needs a name and a handler")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.tasks[task.Name]; exists {
		return fmt.Errorf("task %q already registered", task.Name)
	}
	q.tasks[task.Name] = task
	return nil
}

// Tasks returns the registered tasks ordered by name.
func (q *Queue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

func (q *Queue) task(name string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[name]
	return t, ok
}

// Schedule enqueues task name with args to run after delay.
func (q *Queue) Schedule(ctx context.Context, name string, args any, delay time.Duration) error {
	if _, ok := q.task(name); !ok {
		return fmt.Errorf("scheduling unknown task %q", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding %s args: %w", name, err)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.mu.Unlock()

	job := Job{ID: uuid.New().String(), Task: name, Args: data}
	q.logger.Debug("task scheduled", "task", name, "job_id", job.ID, "delay", delay)
	q.park(job, delay)
	return nil
}

// Run executes task name inline, retrying in-process per its policy.
// Used where the caller needs the result.
func (q *Queue) Run(ctx context.Context, name string, args any) error {
	task, ok := q.task(name)
	if !ok {
		return fmt.Errorf("running unknown task %q", name)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding %s args: %w", name, err)
	}
	return retry.Do(ctx, q.clock, task.Policy, func(ctx context.Context) error {
		return invoke(ctx, task, data)
	})
}

// Start launches the workers.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("task queue started", "workers", q.cfg.Workers, "tasks", len(q.tasks))
}

// Drain blocks until no job is queued, delayed or running.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop cancels delayed jobs, signals running jobs through their context
// and waits for the workers to exit. Jobs still queued are dropped and no
// longer count as pending.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	cancelled := 0
	for id, t := range q.timers {
		if t.Stop() {
			cancelled++
		}
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	dropped := 0
drop:
	for {
		select {
		case <-q.jobs:
			dropped++
		default:
			break drop
		}
	}
	q.mu.Unlock()

	// Cancelled and dropped jobs will never run; release them so Drain
	// returns.
	for i := 0; i < cancelled+dropped; i++ {
		q.done()
	}
	q.logger.Info("task queue stopped", "cancelled_delayed", cancelled, "dropped", dropped)
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(job)
		}
	}
}

func (q *Queue) run(job Job) {
	task, ok := q.task(job.Task)
	if !ok {
		q.logger.Error("dropping job for unregistered task", "task", job.Task, "job_id", job.ID)
		q.done()
		return
	}

	attempt := job.Retries + 1
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.TaskTimeout)
	err := invoke(ctx, task, job.Args)
	cancel()

	decision := task.Policy.Decide(err, job.Retries)
	switch decision.Outcome {
	case retry.Succeeded:
		q.logger.Debug("task succeeded", "task", job.Task, "job_id", job.ID, "attempt", attempt)
		q.done()

	case retry.Retry:
		q.logger.Warn("task failed, retrying",
			"task", job.Task,
			"job_id", job.ID,
			"attempt", attempt,
			"delay", decision.Delay,
			"error", err,
		)
		job.Retries++
		q.park(job, decision.Delay)

	default:
		terminal := decision.Terminal(attempt)
		q.logger.Error("task failed",
			"task", job.Task,
			"job_id", job.ID,
			"attempt", attempt,
			"outcome", decision.Outcome.String(),
			"error", err,
		)
		q.recordFailure(job, decision.Outcome, attempt, terminal)
		q.done()
	}
}

// invoke runs one attempt, converting a panic into an error.
func invoke(ctx context.Context, task Task, args json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Handler(ctx, args)
}

// park enqueues job once delay has elapsed on the queue's clock.
func (q *Queue) park(job Job, delay time.Duration) {
	if delay <= 0 {
		q.enqueue(job)
		return
	}

	t := q.clock.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.ID)
		q.mu.Unlock()
		q.enqueue(job)
	})

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		if t.Stop() {
			q.done()
		}
		return
	}
	q.timers[job.ID] = t
	q.mu.Unlock()
}

func (q *Queue) enqueue(job Job) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.done()
		return
	}
	select {
	case q.jobs <- job:
		q.mu.Unlock()
		return
	default:
	}
	q.mu.Unlock()

	// Ready queue is full. Hand off so a worker scheduling follow-up
	// jobs never blocks on its own queue.
	go func() {
		select {
		case q.jobs <- job:
		case <-q.ctx.Done():
			q.done()
		}
	}()
}

func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		return
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

func (q *Queue) recordFailure(job Job, outcome retry.Outcome, attempts int, err error) {
	if q.cfg.Failures == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := Failure{
		ID:       uuid.New().String(),
		JobID:    job.ID,
		Task:     job.Task,
		Args:     job.Args,
		Attempts: attempts,
		Outcome:  outcome.String(),
		Error:    err.Error(),
		FailedAt: q.clock.Now().UTC(),
	}
	if rerr := q.cfg.Failures.RecordFailure(ctx, f); rerr != nil {
		q.logger.Error("recording task failure", "task", job.Task, "job_id", job.ID, "error", rerr)
	}
}

// TerminalOutcome reports the retry outcome of err if it came out of Run.
func TerminalOutcome(err error) (retry.Outcome, bool) {
	var terminal *retry.TerminalError
	if errors.As(err, &terminal) {
		return terminal.Outcome, true
	}
	return retry.Succeeded, false
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/issue-sync/internal/clock"
	"github.com/ziadkadry99/issue-sync/internal/db"
	"github.com/ziadkadry99/issue-sync/internal/retry"
)

var errBoom = errors.New("boom")

// countingHandler records the args of every call and fails the first
// failures calls with err.
type countingHandler struct {
	mu       sync.Mutex
	calls    []json.RawMessage
	failures int
	err      error
}

func (h *countingHandler) Handle(ctx context.Context, args json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, args)
	if len(h.calls) <= h.failures {
		return h.err
	}
	return nil
}

func (h *countingHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func setupTestQueue(t *testing.T, clk clock.Clock) (*Queue, *FailureStore) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	failures := NewFailureStore(database)
	q := New(Config{
		Workers:  2,
		Clock:    clk,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Failures: failures,
	})
	t.Cleanup(q.Stop)
	return q, failures
}

func drain(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleRunsTask(t *testing.T) {
	q, _ := setupTestQueue(t, nil)
	h := &countingHandler{}
	if err := q.Register(Task{Name: "t.echo", Handler: h.Handle}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	q.Start()

	if err := q.Schedule(context.Background(), "t.echo", map[string]int64{"group_id": 7}, 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	drain(t, q)

	if h.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", h.CallCount())
	}
	if string(h.calls[0]) != `{"group_id":7}` {
		t.Errorf("args = %s", h.calls[0])
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	q, _ := setupTestQueue(t, nil)
	h := &countingHandler{}
	if err := q.Register(Task{Name: "t.a", Handler: h.Handle}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := q.Register(Task{Name: "t.a", Handler: h.Handle}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if err := q.Register(Task{Name: "t.b"}); err == nil {
		t.Error("expected error for missing handler")
	}
}

func TestScheduleUnknownTask(t *testing.T) {
	q, _ := setupTestQueue(t, nil)
	if err := q.Schedule(context.Background(), "nope", nil, 0); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestRetryThenSucceed(t *testing.T) {
	q, failures := setupTestQueue(t, nil)
	h := &countingHandler{failures: 2, err: errBoom}
	q.Register(Task{Name: "t.flaky", Policy: retry.Policy{MaxRetries: 5}, Handler: h.Handle})
	q.Start()

	q.Schedule(context.Background(), "t.flaky", nil, 0)
	drain(t, q)

	if h.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", h.CallCount())
	}
	got, _ := failures.List(context.Background(), "", 0)
	if len(got) != 0 {
		t.Errorf("failures = %+v, want none", got)
	}
}

func TestExcludedErrorIsDeadLettered(t *testing.T) {
	q, failures := setupTestQueue(t, nil)
	h := &countingHandler{failures: 10, err: fmt.Errorf("loading: %w", db.NotFound("group", 3))}
	q.Register(Task{
		Name:    "t.missing",
		Policy:  retry.Policy{MaxRetries: 5, Exclude: []error{db.ErrNotFound}},
		Handler: h.Handle,
	})
	q.Start()

	q.Schedule(context.Background(), "t.missing", map[string]int{"id": 3}, 0)
	drain(t, q)

	if h.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", h.CallCount())
	}
	got, err := failures.List(context.Background(), "t.missing", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("failures = %d, want 1", len(got))
	}
	if got[0].Outcome != "excluded" || got[0].Attempts != 1 {
		t.Errorf("failure = %+v", got[0])
	}
	if string(got[0].Args) != `{"id":3}` {
		t.Errorf("args = %s", got[0].Args)
	}
}

func TestExhaustedAfterMaxRetries(t *testing.T) {
	q, failures := setupTestQueue(t, nil)
	h := &countingHandler{failures: 100, err: errBoom}
	q.Register(Task{Name: "t.broken", Policy: retry.Policy{MaxRetries: 2}, Handler: h.Handle})
	q.Start()

	q.Schedule(context.Background(), "t.broken", nil, 0)
	drain(t, q)

	if h.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", h.CallCount())
	}
	got, _ := failures.List(context.Background(), "", 0)
	if len(got) != 1 || got[0].Outcome != "exhausted" || got[0].Attempts != 3 {
		t.Errorf("failures = %+v", got)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	q, failures := setupTestQueue(t, nil)
	q.Register(Task{Name: "t.panic", Handler: func(ctx context.Context, args json.RawMessage) error {
		panic("kaboom")
	}})
	q.Start()

	q.Schedule(context.Background(), "t.panic", nil, 0)
	drain(t, q)

	got, _ := failures.List(context.Background(), "t.panic", 0)
	if len(got) != 1 {
		t.Fatalf("failures = %d, want 1", len(got))
	}
}

func TestRetryDelayUsesClock(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q, _ := setupTestQueue(t, clk)
	h := &countingHandler{failures: 1, err: errBoom}
	q.Register(Task{Name: "t.later", Policy: retry.Policy{MaxRetries: 5, Delay: 5 * time.Minute}, Handler: h.Handle})
	q.Start()

	q.Schedule(context.Background(), "t.later", nil, 0)
	waitFor(t, "retry to be parked", func() bool { return clk.Pending() == 1 })
	if h.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1 before the delay", h.CallCount())
	}

	clk.Advance(4 * time.Minute)
	if h.CallCount() != 1 {
		t.Fatalf("retried before the delay elapsed")
	}

	clk.Advance(time.Minute)
	drain(t, q)
	if h.CallCount() != 2 {
		t.Errorf("calls = %d, want 2", h.CallCount())
	}
}

func TestDelayedSchedule(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q, _ := setupTestQueue(t, clk)
	h := &countingHandler{}
	q.Register(Task{Name: "t.delayed", Handler: h.Handle})
	q.Start()

	q.Schedule(context.Background(), "t.delayed", nil, 10*time.Minute)
	if clk.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.Pending())
	}

	clk.Advance(10 * time.Minute)
	drain(t, q)
	if h.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", h.CallCount())
	}
}

func TestStopCancelsDelayedJobs(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q, _ := setupTestQueue(t, clk)
	h := &countingHandler{}
	q.Register(Task{Name: "t.delayed", Handler: h.Handle})
	q.Start()

	q.Schedule(context.Background(), "t.delayed", nil, time.Hour)
	q.Stop()

	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d after Stop, want 0", clk.Pending())
	}
	if err := q.Schedule(context.Background(), "t.delayed", nil, 0); !errors.Is(err, ErrStopped) {
		t.Errorf("Schedule after Stop: err = %v, want ErrStopped", err)
	}
}

func TestStopReleasesPendingJobs(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q, _ := setupTestQueue(t, clk)
	h := &countingHandler{}
	q.Register(Task{Name: "t.pending", Handler: h.Handle})

	// Not started: the first job waits in the ready queue.
	if err := q.Schedule(context.Background(), "t.pending", nil, 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := q.Schedule(context.Background(), "t.pending", nil, time.Hour); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Errorf("Drain after Stop: %v", err)
	}
	if n := h.CallCount(); n != 0 {
		t.Errorf("handler called %d times, want 0", n)
	}
}

func TestRunInline(t *testing.T) {
	q, _ := setupTestQueue(t, nil)
	ok := &countingHandler{failures: 1, err: errBoom}
	bad := &countingHandler{failures: 100, err: errBoom}
	q.Register(Task{Name: "t.ok", Policy: retry.Policy{MaxRetries: 3}, Handler: ok.Handle})
	q.Register(Task{Name: "t.bad", Policy: retry.Policy{MaxRetries: 1}, Handler: bad.Handle})
	ctx := context.Background()

	if err := q.Run(ctx, "t.ok", nil); err != nil {
		t.Errorf("Run(t.ok): %v", err)
	}
	if ok.CallCount() != 2 {
		t.Errorf("t.ok calls = %d, want 2", ok.CallCount())
	}

	err := q.Run(ctx, "t.bad", nil)
	if !errors.Is(err, errBoom) {
		t.Errorf("Run(t.bad): err = %v, want boom", err)
	}
	if outcome, ok := TerminalOutcome(err); !ok || outcome != retry.Exhausted {
		t.Errorf("outcome = %v, %v; want exhausted", outcome, ok)
	}
}

func TestTaskRoutes(t *testing.T) {
	q, failures := setupTestQueue(t, nil)
	h := &countingHandler{}
	q.Register(Task{
		Name:        "t.b",
		Description: "second",
		Policy:      retry.Policy{MaxRetries: 5, Delay: 5 * time.Minute, Exclude: []error{db.ErrNotFound}},
		Handler:     h.Handle,
	})
	q.Register(Task{Name: "t.a", Handler: h.Handle})
	failures.RecordFailure(context.Background(), Failure{ID: "f1", JobID: "j1", Task: "t.b", Outcome: "excluded", Error: "gone", Attempts: 1})

	r := chi.NewRouter()
	RegisterRoutes(r, q, failures)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var tasks []taskInfo
	json.NewDecoder(w.Body).Decode(&tasks)
	if len(tasks) != 2 || tasks[0].Name != "t.a" || tasks[1].Delay != "5m0s" {
		t.Errorf("tasks = %+v", tasks)
	}
	if len(tasks[1].Exclude) != 1 || tasks[1].Exclude[0] != "not found" {
		t.Errorf("exclude = %v", tasks[1].Exclude)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/failures?task=t.b", nil))
	var got []Failure
	json.NewDecoder(w.Body).Decode(&got)
	if len(got) != 1 || got[0].ID != "f1" || string(got[0].Args) != "{}" {
		t.Errorf("failures = %+v", got)
	}
}

// Package scheduler fires queue tasks on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/ziadkadry99/issue-sync/internal/queue"
)

// Trigger schedules Task with Args every time Schedule fires. Schedule
// accepts cron expressions and descriptors such as "@every 1h".
type Trigger struct {
	Name        string
	Description string
	Schedule    string
	Task        string
	Args        any
}

// Service owns the cron scheduler.
type Service struct {
	cron    *gocron.Scheduler
	queue   queue.Scheduler
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	triggers map[string]Trigger
}

// New creates a Service that hands fired triggers to q.
func New(q queue.Scheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cron:     gocron.NewScheduler(time.UTC),
		queue:    q,
		logger:   logger,
		timeout:  10 * time.Second,
		triggers: make(map[string]Trigger),
	}
}

// Add registers a trigger. Names must be unique.
func (s *Service) Add(t Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.triggers[t.Name]; exists {
		return fmt.Errorf("trigger %q already exists", t.Name)
	}

	job, err := s.cron.Cron(t.Schedule).Do(func() {
		if err := s.fire(t); err != nil {
			s.logger.Error("scheduled trigger failed", "trigger", t.Name, "task", t.Task, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling trigger %q (%s): %w", t.Name, t.Schedule, err)
	}
	job.Tag(t.Name)

	s.triggers[t.Name] = t
	s.logger.Info("registered trigger", "trigger", t.Name, "schedule", t.Schedule, "task", t.Task)
	return nil
}

// Remove unregisters a trigger by name.
func (s *Service) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.triggers[name]; !exists {
		return fmt.Errorf("trigger %q does not exist", name)
	}
	delete(s.triggers, name)
	return s.cron.RemoveByTag(name)
}

// Triggers returns the registered triggers sorted by name.
func (s *Service) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow fires the named trigger immediately.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	t, exists := s.triggers[name]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("trigger %q does not exist", name)
	}
	return s.fire(t)
}

// Start runs the cron scheduler in the background.
func (s *Service) Start() {
	s.logger.Info("starting scheduler", "triggers", s.cron.Len())
	s.cron.StartAsync()
}

// Stop halts the cron scheduler. Tasks already handed to the queue are
// not affected.
func (s *Service) Stop() {
	s.logger.Info("stopping scheduler")
	s.cron.Stop()
}

func (s *Service) fire(t Trigger) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Debug("firing trigger", "trigger", t.Name, "task", t.Task)
	return s.queue.Schedule(ctx, t.Task, t.Args, 0)
}

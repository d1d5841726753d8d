// Package retry classifies task failures against a per-task policy:
// which errors earn another attempt, after what delay, and which must
// surface immediately because no amount of retrying will fix them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/clock"
)

// ErrPermanent marks a failure that no policy may retry, such as task
// arguments that cannot be decoded.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so that it matches ErrPermanent.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Policy is the retry configuration attached to one task.
type Policy struct {
	// MaxRetries bounds the number of retries after the first attempt.
	MaxRetries int
	// Delay is the wait before the next attempt unless the error
	// supplies its own (see RetryAfter).
	Delay time.Duration
	// On, when non-empty, restricts retries to errors matching one of
	// these via errors.Is. Anything else is terminal.
	On []error
	// Exclude lists errors that are never retried, even if they also
	// match On.
	Exclude []error
}

// Outcome is the verdict for one failed attempt.
type Outcome int

const (
	Succeeded Outcome = iota
	Retry
	Excluded
	NotRetryable
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Retry:
		return "retry"
	case Excluded:
		return "excluded"
	case NotRetryable:
		return "not_retryable"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is what the executor should do with a failed attempt.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
	Err     error
}

// RetryAfter is implemented by errors that know how long the remote side
// wants the caller to wait (an HTTP Retry-After header, for instance).
type RetryAfter interface {
	RetryAfter() time.Duration
}

// Decide classifies err after `retries` retries have already been spent.
func (p Policy) Decide(err error, retries int) Decision {
	if err == nil {
		return Decision{Outcome: Succeeded}
	}
	if errors.Is(err, ErrPermanent) || matchesAny(err, p.Exclude) {
		return Decision{Outcome: Excluded, Err: err}
	}
	if len(p.On) > 0 && !matchesAny(err, p.On) {
		return Decision{Outcome: NotRetryable, Err: err}
	}
	if retries >= p.MaxRetries {
		return Decision{Outcome: Exhausted, Err: err}
	}

	delay := p.Delay
	var ra RetryAfter
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			delay = d
		}
	}
	return Decision{Outcome: Retry, Delay: delay, Err: err}
}

// Terminal converts a non-retry decision into the error callers see.
// It returns nil for Succeeded and Retry.
func (d Decision) Terminal(attempts int) error {
	switch d.Outcome {
	case Succeeded, Retry:
		return nil
	}
	return &TerminalError{Outcome: d.Outcome, Attempts: attempts, Err: d.Err}
}

// TerminalError wraps the last failure of a task that will not be tried
// again.
type TerminalError struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Outcome, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds or p says to stop, sleeping on clk between
// attempts. It is the in-process counterpart of the queue's delayed
// re-enqueue and is used where a caller has to wait for the result.
func Do(ctx context.Context, clk clock.Clock, p Policy, fn func(ctx context.Context) error) error {
	for retries := 0; ; retries++ {
		err := fn(ctx)
		d := p.Decide(err, retries)
		if d.Outcome != Retry {
			return d.Terminal(retries + 1)
		}

		select {
		case <-ctx.Done():
			return &TerminalError{Outcome: Exhausted, Attempts: retries + 1, Err: errors.Join(err, ctx.Err())}
		case <-clk.After(d.Delay):
		}
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

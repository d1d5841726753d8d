package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/db"
	"github.com/ziadkadry99/issue-sync/internal/provider"
	"github.com/ziadkadry99/issue-sync/internal/queue"
	"github.com/ziadkadry99/issue-sync/internal/retry"
)

// Task names.
const (
	TaskKickoffCheck = "subscriptions.kickoff_check"
	TaskCheck        = "subscriptions.check"
)

var (
	kickoffPolicy = retry.Policy{
		MaxRetries: 5,
		Delay:      5 * time.Minute,
	}
	// Provider failures, including an unreachable host, are left to the
	// next scan.
	checkPolicy = retry.Policy{
		MaxRetries: 5,
		Delay:      5 * time.Minute,
		Exclude: []error{
			provider.ErrAPI,
			provider.ErrUnauthorized,
			provider.ErrTransport,
			db.ErrNotFound,
		},
	}
)

// KickoffArgs are the arguments of TaskKickoffCheck.
type KickoffArgs struct {
	Provider string `json:"provider"`
}

// CheckArgs are the arguments of TaskCheck.
type CheckArgs struct {
	IntegrationID  int64 `json:"integration_id"`
	OrganizationID int64 `json:"organization_id"`
}

// Tasks returns the queue tasks backed by svc.
func Tasks(svc *Service) []queue.Task {
	return []queue.Task{
		{
			Name:        TaskKickoffCheck,
			Description: "Select stale provider subscriptions and schedule checks",
			Policy:      kickoffPolicy,
			Handler: func(ctx context.Context, raw json.RawMessage) error {
				var args KickoffArgs
				if err := decodeArgs(raw, &args); err != nil {
					return err
				}
				_, err := svc.Scan(ctx, args.Provider, nil)
				return err
			},
		},
		{
			Name:        TaskCheck,
			Description: "Inspect one subscription and re-enable it if disabled",
			Policy:      checkPolicy,
			Handler: func(ctx context.Context, raw json.RawMessage) error {
				var args CheckArgs
				if err := decodeArgs(raw, &args); err != nil {
					return err
				}
				return svc.Check(ctx, args.IntegrationID, args.OrganizationID)
			},
		},
	}
}

// Register adds the subscription tasks to q.
func Register(q *queue.Queue, svc *Service) error {
	for _, task := range Tasks(svc) {
		if err := q.Register(task); err != nil {
			return err
		}
	}
	return nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return retry.Permanent(fmt.Errorf("decoding task args: %w", err))
	}
	return nil
}

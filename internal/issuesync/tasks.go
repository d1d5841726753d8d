package issuesync

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
	TaskPostComment          = "issuesync.post_comment"
	TaskSyncAssigneeOutbound = "issuesync.sync_assignee_outbound"
	TaskSyncStatusOutbound   = "issuesync.sync_status_outbound"
	TaskKickOffStatusSyncs   = "issuesync.kick_off_status_syncs"
	TaskSyncMetadata         = "issuesync.sync_metadata"
)

// Retry policies. Missing rows never come back, so they are excluded
// everywhere they can occur.
var (
	syncPolicy = retry.Policy{
		MaxRetries: 5,
		Delay:      5 * time.Minute,
		Exclude:    []error{db.ErrNotFound},
	}
	kickoffPolicy = retry.Policy{
		MaxRetries: 5,
		Delay:      5 * time.Minute,
	}
	metadataPolicy = retry.Policy{
		MaxRetries: 5,
		Delay:      20 * time.Second,
		On:         []error{provider.ErrIntegration},
		Exclude:    []error{db.ErrNotFound},
	}
)

// CommentArgs are the arguments of TaskPostComment.
type CommentArgs struct {
	ExternalIssueID int64  `json:"external_issue_id"`
	Text            string `json:"text"`
}

// AssigneeArgs are the arguments of TaskSyncAssigneeOutbound. A nil
// UserID unassigns.
type AssigneeArgs struct {
	ExternalIssueID int64  `json:"external_issue_id"`
	UserID          *int64 `json:"user_id"`
	Assign          bool   `json:"assign"`
}

// StatusArgs are the arguments of TaskSyncStatusOutbound.
type StatusArgs struct {
	GroupID         int64 `json:"group_id"`
	ExternalIssueID int64 `json:"external_issue_id"`
}

// KickoffArgs are the arguments of TaskKickOffStatusSyncs.
type KickoffArgs struct {
	ProjectID int64 `json:"project_id"`
	GroupID   int64 `json:"group_id"`
}

// MetadataArgs are the arguments of TaskSyncMetadata.
type MetadataArgs struct {
	IntegrationID int64 `json:"integration_id"`
}

// Tasks returns the queue tasks backed by svc.
func Tasks(svc *Service) []queue.Task {
	return []queue.Task{
		{
			Name:        TaskPostComment,
			Description: "Post a comment to a linked external issue",
			Policy:      syncPolicy,
			Handler: func(ctx context.Context, raw json.RawMessage) error {
				var args CommentArgs
				if err := decodeArgs(raw, &args); err != nil {
					return err
				}
				return svc.PostComment(ctx, args.ExternalIssueID, args.Text)
			},
		},
		{
			Name:        TaskSyncAssigneeOutbound,
			Description: "Mirror an assignment to a linked external issue",
			Policy:      syncPolicy,
			Handler: func(ctx context.Context, raw json.RawMessage) error {
				var args AssigneeArgs
				if err := decodeArgs(raw, &args); err != nil {
					return err
				}
				return svc.SyncAssigneeOutbound(ctx, args.ExternalIssueID, args.UserID, args.Assign)
			},
		},
		{
			Name:        TaskSyncStatusOutbound,
			Description: "Mirror a group's resolution to a linked external issue",
			Policy:      syncPolicy,
			Handler: func(ctx context.Context, raw json.RawMessage) error {
				var args StatusArgs
				if err := decodeArgs(raw, &args); err != nil {
					return err
				}
				return svc.SyncStatusOutbound(ctx, args.GroupID, args.ExternalIssueID)
			},
		},
		{
			Name:        TaskKickOffStatusSyncs,
			Description: "Schedule a status sync for every external issue linked to a group",
			Policy:      kickoffPolicy,
			Handler: func(ctx context.Context, raw json.RawMessage) error {
				var args KickoffArgs
				if err := decodeArgs(raw, &args); err != nil {
					return err
				}
				_, err := svc.KickOffStatusSyncs(ctx, args.ProjectID, args.GroupID)
				return err
			},
		},
		{
			Name:        TaskSyncMetadata,
			Description: "Refresh provider account details stored on an integration",
			Policy:      metadataPolicy,
			Handler: func(ctx context.Context, raw json.RawMessage) error {
				var args MetadataArgs
				if err := decodeArgs(raw, &args); err != nil {
					return err
				}
				return svc.SyncMetadata(ctx, args.IntegrationID)
			},
		},
	}
}

// Register adds the issue sync tasks to q.
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

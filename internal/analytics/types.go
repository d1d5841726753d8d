package analytics

import (
	"context"
	"time"
)

// Event names emitted after a successful outbound sync.
const (
	EventCommentSynced  = "integration.issue.comments.synced"
	EventAssigneeSynced = "integration.issue.assignee.synced"
	EventStatusSynced   = "integration.issue.status.synced"
)

// Event is one analytics record.
type Event struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Provider       string    `json:"provider"`
	IntegrationID  int64     `json:"integration_id"`
	OrganizationID int64     `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Recorder is the analytics sink.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

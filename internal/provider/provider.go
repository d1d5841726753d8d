// Package provider talks to external issue trackers. Each supported
// tracker contributes an Installation (what one integration can do for
// one organization) and a SubscriptionClient (webhook upkeep).
package provider

import (
	"context"

	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

// SyncKind names a category of outbound sync an installation may have
// switched off.
type SyncKind string

const (
	SyncComment          SyncKind = "comment"
	SyncOutboundAssignee SyncKind = "outbound_assignee"
	SyncOutboundStatus   SyncKind = "outbound_status"
)

// Installation is an integration bound to an organization's sync
// settings.
type Installation interface {
	// Provider returns the provider key, e.g. "vsts".
	Provider() string

	// Instance identifies the remote account the integration points at.
	// For VSTS this is the account URL.
	Instance() string

	// ShouldSync reports whether the organization enabled this kind of
	// outbound sync.
	ShouldSync(kind SyncKind) bool

	CreateComment(ctx context.Context, key, text string) error

	// SyncAssigneeOutbound assigns user to the external issue, or clears
	// the assignee when assign is false or user is nil.
	SyncAssigneeOutbound(ctx context.Context, issue tracker.ExternalIssue, user *tracker.User, assign bool) error

	SyncStatusOutbound(ctx context.Context, issue tracker.ExternalIssue, resolved bool, projectID int64) error

	// SyncMetadata fetches account details from the provider and returns
	// the refreshed metadata. The caller persists it.
	SyncMetadata(ctx context.Context) (integrations.Metadata, error)

	Client() SubscriptionClient
}

// Subscription is a provider's view of a webhook registration.
type Subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubscriptionClient inspects and re-enables webhook subscriptions.
type SubscriptionClient interface {
	GetSubscription(ctx context.Context, instance, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, instance, id string) error
}

// OrgSettings is the organization side of an installation. The zero
// value is an installation with no organization, which syncs nothing.
type OrgSettings struct {
	OrganizationID int64
	Config         integrations.OrgConfig
}

func (o OrgSettings) shouldSync(kind SyncKind) bool {
	if o.OrganizationID == 0 {
		return false
	}
	switch kind {
	case SyncComment:
		return o.Config.SyncComments
	case SyncOutboundAssignee:
		return o.Config.SyncForwardAssignment
	case SyncOutboundStatus:
		return o.Config.SyncStatusForward
	}
	return false
}

package tracker

// GroupStatus is the lifecycle state of an internal issue.
type GroupStatus string

const (
	StatusUnresolved      GroupStatus = "unresolved"
	StatusResolved        GroupStatus = "resolved"
	StatusIgnored         GroupStatus = "ignored"
	StatusPendingDeletion GroupStatus = "pending_deletion"
)

// SyncableStatuses are the group states that are mirrored to external
// trackers. Anything else is left alone.
var SyncableStatuses = []GroupStatus{StatusUnresolved, StatusResolved}

// LinkedType says what a GroupLink points at.
type LinkedType string

const (
	LinkedCommit      LinkedType = "commit"
	LinkedPullRequest LinkedType = "pull_request"
	LinkedIssue       LinkedType = "issue"
)

// Organization scopes feature flags and integrations.
type Organization struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// User is an assignee candidate.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Group is an internal issue record.
type Group struct {
	ID             int64       `json:"id"`
	ProjectID      int64       `json:"project_id"`
	OrganizationID int64       `json:"organization_id"`
	Status         GroupStatus `json:"status"`
	Title          string      `json:"title"`
}

// ExternalIssue is an issue in an external tracker that internal state
// is linked to. Key is opaque and provider-specific.
type ExternalIssue struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	IntegrationID  int64  `json:"integration_id"`
	Key            string `json:"key"`
	Title          string `json:"title"`
}

// GroupLink ties a Group to something outside it. For LinkedIssue links,
// LinkedID is an ExternalIssue id.
type GroupLink struct {
	ID           int64      `json:"id"`
	ProjectID    int64      `json:"project_id"`
	GroupID      int64      `json:"group_id"`
	LinkedType   LinkedType `json:"linked_type"`
	LinkedID     int64      `json:"linked_id"`
	Relationship string     `json:"relationship"`
}

// Package issuesync pushes changes on internal issues out to linked
// external trackers: comments, assignees and resolution status.
package issuesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ziadkadry99/issue-sync/internal/analytics"
	"github.com/ziadkadry99/issue-sync/internal/features"
	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/provider"
	"github.com/ziadkadry99/issue-sync/internal/queue"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

// InstallationResolver binds an integration to an organization.
type InstallationResolver interface {
	Installation(ctx context.Context, in *integrations.Integration, organizationID int64) (provider.Installation, error)
}

// Config wires a Service to its collaborators.
type Config struct {
	Tracker       *tracker.Store
	Integrations  *integrations.Store
	Installations InstallationResolver
	Features      features.Checker
	Scheduler     queue.Scheduler
	Analytics     analytics.Recorder
	Logger        *slog.Logger
}

// Service implements the outbound sync tasks.
type Service struct {
	tracker       *tracker.Store
	integrations  *integrations.Store
	installations InstallationResolver
	gate          *Gate
	scheduler     queue.Scheduler
	analytics     analytics.Recorder
	logger        *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tracker:       cfg.Tracker,
		integrations:  cfg.Integrations,
		installations: cfg.Installations,
		gate:          NewGate(cfg.Features),
		scheduler:     cfg.Scheduler,
		analytics:     cfg.Analytics,
		logger:        logger,
	}
}

// target is everything a sync needs about one external issue.
type target struct {
	issue        *tracker.ExternalIssue
	org          *tracker.Organization
	integration  *integrations.Integration
	installation provider.Installation
}

// loadTarget loads what a sync of kind needs and runs the gate. The flag
// is checked before the integration is loaded. A nil target means skip.
func (s *Service) loadTarget(ctx context.Context, externalIssueID int64, kind provider.SyncKind) (*target, error) {
	issue, err := s.tracker.GetExternalIssue(ctx, externalIssueID)
	if err != nil {
		return nil, err
	}
	org, err := s.tracker.GetOrganization(ctx, issue.OrganizationID)
	if err != nil {
		return nil, err
	}
	enabled, err := s.gate.Enabled(ctx, *org)
	if err != nil {
		return nil, err
	}
	if !enabled {
		s.logSkip(kind, SkipFeatureDisabled, org.ID, issue.IntegrationID, issue.ID)
		return nil, nil
	}

	in, err := s.integrations.Get(ctx, issue.IntegrationID)
	if err != nil {
		return nil, err
	}
	inst, err := s.installations.Installation(ctx, in, issue.OrganizationID)
	if err != nil {
		return nil, err
	}
	if decision := capability(inst, kind); decision != Sync {
		s.logSkip(kind, decision, org.ID, in.ID, issue.ID)
		return nil, nil
	}
	return &target{issue: issue, org: org, integration: in, installation: inst}, nil
}

func (s *Service) logSkip(kind provider.SyncKind, decision Decision, orgID, integrationID, externalIssueID int64) {
	s.logger.Debug("outbound sync skipped",
		"kind", string(kind),
		"decision", decision.String(),
		"organization_id", orgID,
		"integration_id", integrationID,
		"external_issue_id", externalIssueID,
	)
}

// record emits an analytics event. Failures are logged and dropped.
func (s *Service) record(ctx context.Context, name string, t *target) {
	if s.analytics == nil {
		return
	}
	err := s.analytics.Record(ctx, analytics.Event{
		Name:           name,
		Provider:       t.integration.Provider,
		IntegrationID:  t.integration.ID,
		OrganizationID: t.org.ID,
	})
	if err != nil {
		s.logger.Warn("recording analytics event", "event", name, "error", err)
	}
}

// PostComment pushes a comment onto the external issue.
func (s *Service) PostComment(ctx context.Context, externalIssueID int64, text string) error {
	t, err := s.loadTarget(ctx, externalIssueID, provider.SyncComment)
	if err != nil || t == nil {
		return err
	}

	if err := t.installation.CreateComment(ctx, t.issue.Key, text); err != nil {
		return fmt.Errorf("creating comment on %s: %w", t.issue.Key, err)
	}
	s.record(ctx, analytics.EventCommentSynced, t)
	return nil
}

// SyncAssigneeOutbound mirrors an assignment. A nil userID unassigns
// without looking up a user.
func (s *Service) SyncAssigneeOutbound(ctx context.Context, externalIssueID int64, userID *int64, assign bool) error {
	t, err := s.loadTarget(ctx, externalIssueID, provider.SyncOutboundAssignee)
	if err != nil || t == nil {
		return err
	}

	var user *tracker.User
	if userID != nil {
		user, err = s.tracker.GetUser(ctx, *userID)
		if err != nil {
			return err
		}
	}

	if err := t.installation.SyncAssigneeOutbound(ctx, *t.issue, user, assign); err != nil {
		return fmt.Errorf("syncing assignee of %s: %w", t.issue.Key, err)
	}
	s.record(ctx, analytics.EventAssigneeSynced, t)
	return nil
}

// SyncStatusOutbound mirrors the group's resolution onto the external
// issue. Groups that are gone or not unresolved/resolved are ignored.
func (s *Service) SyncStatusOutbound(ctx context.Context, groupID, externalIssueID int64) error {
	group, err := s.tracker.GetSyncableGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		s.logger.Debug("status sync skipped, group not syncable", "group_id", groupID)
		return nil
	}

	t, err := s.loadTarget(ctx, externalIssueID, provider.SyncOutboundStatus)
	if err != nil || t == nil {
		return err
	}

	resolved := group.Status == tracker.StatusResolved
	if err := t.installation.SyncStatusOutbound(ctx, *t.issue, resolved, group.ProjectID); err != nil {
		return fmt.Errorf("syncing status of %s: %w", t.issue.Key, err)
	}
	s.record(ctx, analytics.EventStatusSynced, t)
	return nil
}

// KickOffStatusSyncs schedules one status sync per external issue linked
// to the group and returns how many were scheduled.
func (s *Service) KickOffStatusSyncs(ctx context.Context, projectID, groupID int64) (int, error) {
	ids, err := s.tracker.ListLinkedIssueIDs(ctx, projectID, groupID)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		args := StatusArgs{GroupID: groupID, ExternalIssueID: id}
		if err := s.scheduler.Schedule(ctx, TaskSyncStatusOutbound, args, 0); err != nil {
			return i, fmt.Errorf("scheduling status sync for external issue %d: %w", id, err)
		}
	}
	s.logger.Debug("status syncs scheduled", "project_id", projectID, "group_id", groupID, "count", len(ids))
	return len(ids), nil
}

// SyncMetadata refreshes the provider account details of an integration.
func (s *Service) SyncMetadata(ctx context.Context, integrationID int64) error {
	in, err := s.integrations.Get(ctx, integrationID)
	if err != nil {
		return err
	}
	inst, err := s.installations.Installation(ctx, in, 0)
	if err != nil {
		return err
	}
	meta, err := inst.SyncMetadata(ctx)
	if err != nil {
		return fmt.Errorf("syncing metadata of integration %d: %w", integrationID, err)
	}
	return s.integrations.UpdateMetadata(ctx, integrationID, meta)
}

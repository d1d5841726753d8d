// Package features answers per-organization feature flag questions.
// A stored override for (flag, organization) wins; otherwise the flag is
// on when the organization slug matches one of the configured patterns.
package features

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ziadkadry99/issue-sync/internal/db"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

// IssueSync gates every outbound issue sync.
const IssueSync = "organizations:integrations-issue-sync"

// Checker is the feature flag service.
type Checker interface {
	Has(ctx context.Context, flag string, org tracker.Organization) (bool, error)
}

// Service is a Checker backed by config patterns and stored overrides.
type Service struct {
	db       *db.DB
	patterns map[string][]string
}

// NewService creates a Service. patterns maps a flag name (with or
// without the "organizations:" prefix) to doublestar patterns over
// organization slugs.
func NewService(database *db.DB, patterns map[string][]string) (*Service, error) {
	normalized := make(map[string][]string, len(patterns))
	for flag, list := range patterns {
		for _, p := range list {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("invalid pattern %q for flag %s", p, flag)
			}
		}
		name := qualify(flag)
		normalized[name] = append(normalized[name], list...)
	}
	return &Service{db: database, patterns: normalized}, nil
}

// Has reports whether flag is enabled for org.
func (s *Service) Has(ctx context.Context, flag string, org tracker.Organization) (bool, error) {
	flag = qualify(flag)

	enabled, ok, err := s.override(ctx, flag, org.ID)
	if err != nil {
		return false, err
	}
	if ok {
		return enabled, nil
	}

	for _, pattern := range s.patterns[flag] {
		match, err := doublestar.Match(pattern, org.Slug)
		if err != nil {
			return false, fmt.Errorf("matching flag %s pattern %q: %w", flag, pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// Override stores an explicit value for (flag, organization).
func (s *Service) Override(ctx context.Context, flag string, organizationID int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_flags (name, organization_id, enabled, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(name, organization_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		qualify(flag), organizationID, enabled)
	if err != nil {
		return fmt.Errorf("storing flag override: %w", err)
	}
	return nil
}

// ClearOverride removes a stored value so the configured patterns apply
// again.
func (s *Service) ClearOverride(ctx context.Context, flag string, organizationID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM feature_flags WHERE name = ? AND organization_id = ?", qualify(flag), organizationID)
	if err != nil {
		return fmt.Errorf("clearing flag override: %w", err)
	}
	return nil
}

func (s *Service) override(ctx context.Context, flag string, organizationID int64) (enabled, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT enabled FROM feature_flags WHERE name = ? AND organization_id = ?", flag, organizationID,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("loading flag override: %w", err)
	}
	return enabled, true, nil
}

func qualify(flag string) string {
	const prefix = "organizations:"
	if len(flag) >= len(prefix) && flag[:len(prefix)] == prefix {
		return flag
	}
	return prefix + flag
}

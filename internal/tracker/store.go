package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ziadkadry99/issue-sync/internal/db"
)

// Store provides lookups over issue-tracking records. Lookups by id
// return a *db.NotFoundError when the row does not exist.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// CreateOrganization inserts an organization and returns it with its id.
func (s *Store) CreateOrganization(ctx context.Context, org Organization) (*Organization, error) {
	id, err := s.insert(ctx, "organization",
		"INSERT INTO organizations (id, slug, name) VALUES (?, ?, ?)",
		nullID(org.ID), org.Slug, org.Name)
	if err != nil {
		return nil, err
	}
	org.ID = id
	return &org, nil
}

// GetOrganization returns the organization with the given id.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx,
		"SELECT id, slug, name FROM organizations WHERE id = ?", id,
	).Scan(&org.ID, &org.Slug, &org.Name)
	if err != nil {
		return nil, lookupError("organization", id, err)
	}
	return &org, nil
}

// CreateUser inserts a user and returns it with its id.
func (s *Store) CreateUser(ctx context.Context, user User) (*User, error) {
	id, err := s.insert(ctx, "user",
		"INSERT INTO users (id, email, name) VALUES (?, ?, ?)",
		nullID(user.ID), user.Email, user.Name)
	if err != nil {
		return nil, err
	}
	user.ID = id
	return &user, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, name FROM users WHERE id = ?", id,
	).Scan(&user.ID, &user.Email, &user.Name)
	if err != nil {
		return nil, lookupError("user", id, err)
	}
	return &user, nil
}

// CreateGroup inserts a group and returns it with its id.
func (s *Store) CreateGroup(ctx context.Context, group Group) (*Group, error) {
	if group.Status == "" {
		group.Status = StatusUnresolved
	}
	id, err := s.insert(ctx, "group",
		"INSERT INTO issue_groups (id, project_id, organization_id, status, title) VALUES (?, ?, ?, ?, ?)",
		nullID(group.ID), group.ProjectID, group.OrganizationID, string(group.Status), group.Title)
	if err != nil {
		return nil, err
	}
	group.ID = id
	return &group, nil
}

// SetGroupStatus changes a group's status.
func (s *Store) SetGroupStatus(ctx context.Context, id int64, status GroupStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE issue_groups SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("updating group status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.NotFound("group", id)
	}
	return nil
}

// GetGroup returns the group with the given id regardless of status.
func (s *Store) GetGroup(ctx context.Context, id int64) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, organization_id, status, title FROM issue_groups WHERE id = ?", id)
	group, err := scanGroup(row)
	if err != nil {
		return nil, lookupError("group", id, err)
	}
	return group, nil
}

// GetSyncableGroup returns the group only if its status is one of
// SyncableStatuses. A group in any other state, or a missing group,
// yields (nil, nil): there is nothing to mirror.
func (s *Store) GetSyncableGroup(ctx context.Context, id int64) (*Group, error) {
	placeholders := make([]string, len(SyncableStatuses))
	args := []any{id}
	for i, status := range SyncableStatuses {
		placeholders[i] = "?"
		args = append(args, string(status))
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, organization_id, status, title FROM issue_groups WHERE id = ? AND status IN ("+
			strings.Join(placeholders, ", ")+")", args...)
	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading group %d: %w", id, err)
	}
	return group, nil
}

// CreateExternalIssue inserts an external issue and returns it with its id.
func (s *Store) CreateExternalIssue(ctx context.Context, issue ExternalIssue) (*ExternalIssue, error) {
	id, err := s.insert(ctx, "external issue",
		"INSERT INTO external_issues (id, organization_id, integration_id, key, title) VALUES (?, ?, ?, ?, ?)",
		nullID(issue.ID), issue.OrganizationID, issue.IntegrationID, issue.Key, issue.Title)
	if err != nil {
		return nil, err
	}
	issue.ID = id
	return &issue, nil
}

// GetExternalIssue returns the external issue with the given id.
func (s *Store) GetExternalIssue(ctx context.Context, id int64) (*ExternalIssue, error) {
	var issue ExternalIssue
	err := s.db.QueryRowContext(ctx,
		"SELECT id, organization_id, integration_id, key, title FROM external_issues WHERE id = ?", id,
	).Scan(&issue.ID, &issue.OrganizationID, &issue.IntegrationID, &issue.Key, &issue.Title)
	if err != nil {
		return nil, lookupError("external_issue", id, err)
	}
	return &issue, nil
}

// CreateGroupLink inserts a group link and returns it with its id.
func (s *Store) CreateGroupLink(ctx context.Context, link GroupLink) (*GroupLink, error) {
	if link.Relationship == "" {
		link.Relationship = "references"
	}
	id, err := s.insert(ctx, "group link",
		"INSERT INTO group_links (id, project_id, group_id, linked_type, linked_id, relationship) VALUES (?, ?, ?, ?, ?, ?)",
		nullID(link.ID), link.ProjectID, link.GroupID, string(link.LinkedType), link.LinkedID, link.Relationship)
	if err != nil {
		return nil, err
	}
	link.ID = id
	return &link, nil
}

// ListLinkedIDs returns the linked_id of every link of the given type for
// a (project, group) pair, ordered by link id.
func (s *Store) ListLinkedIDs(ctx context.Context, projectID, groupID int64, linkedType LinkedType) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT linked_id FROM group_links
		WHERE project_id = ? AND group_id = ? AND linked_type = ?
		ORDER BY id`, projectID, groupID, string(linkedType))
	if err != nil {
		return nil, fmt.Errorf("querying group links: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListLinkedIssueIDs returns the external issue ids linked to a group.
func (s *Store) ListLinkedIssueIDs(ctx context.Context, projectID, groupID int64) ([]int64, error) {
	return s.ListLinkedIDs(ctx, projectID, groupID, LinkedIssue)
}

func (s *Store) insert(ctx context.Context, entity, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting %s: %w", entity, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading %s id: %w", entity, err)
	}
	return id, nil
}

// nullID lets callers pick an explicit id or leave 0 for autoincrement.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func lookupError(entity string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return db.NotFound(entity, id)
	}
	return fmt.Errorf("loading %s %d: %w", entity, id, err)
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(sc scanner) (*Group, error) {
	var (
		g      Group
		status string
	)
	if err := sc.Scan(&g.ID, &g.ProjectID, &g.OrganizationID, &status, &g.Title); err != nil {
		return nil, err
	}
	g.Status = GroupStatus(status)
	return &g, nil
}

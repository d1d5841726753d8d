package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ziadkadry99/issue-sync/internal/db"
)

// Store records analytics events in the local database.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Record inserts an event. If e.ID is empty a UUID is generated.
func (s *Store) Record(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_events (id, name, provider, integration_id, organization_id)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Provider, e.IntegrationID, e.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("inserting analytics event: %w", err)
	}
	return nil
}

// ListFilter controls which events List returns.
type ListFilter struct {
	Name           string
	OrganizationID int64
	Since          time.Time
	Limit          int
}

// List returns events matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Event, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.OrganizationID != 0 {
		clauses = append(clauses, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}

	query := "SELECT id, name, provider, integration_id, organization_id, created_at FROM analytics_events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analytics events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Provider, &e.IntegrationID, &e.OrganizationID, &ts); err != nil {
			return nil, fmt.Errorf("scanning analytics event: %w", err)
		}
		if t, err := time.Parse(time.DateTime, ts); err == nil {
			e.CreatedAt = t
		} else if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.CreatedAt = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

package integrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/db"
)

// Store provides access to integrations and their organization links.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts an integration and returns it with its id.
func (s *Store) Create(ctx context.Context, in Integration) (*Integration, error) {
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}

	var id any
	if in.ID != 0 {
		id = in.ID
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO integrations (id, provider, external_id, name, metadata) VALUES (?, ?, ?, ?, ?)",
		id, in.Provider, in.ExternalID, in.Name, string(meta))
	if err != nil {
		return nil, fmt.Errorf("inserting integration: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading integration id: %w", err)
	}
	return s.Get(ctx, newID)
}

// Get returns the integration with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Integration, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, provider, external_id, name, metadata, created_at FROM integrations WHERE id = ?", id)
	in, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.NotFound("integration", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading integration %d: %w", id, err)
	}
	return in, nil
}

// ListByProvider returns every integration for the given provider,
// ordered by id.
func (s *Store) ListByProvider(ctx context.Context, provider string) ([]Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, provider, external_id, name, metadata, created_at FROM integrations WHERE provider = ? ORDER BY id",
		provider)
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	var result []Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		result = append(result, *in)
	}
	return result, rows.Err()
}

// UpdateMetadata replaces the stored metadata of an integration.
func (s *Store) UpdateMetadata(ctx context.Context, id int64, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE integrations SET metadata = ? WHERE id = ?", string(data), id)
	if err != nil {
		return fmt.Errorf("updating integration metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.NotFound("integration", id)
	}
	return nil
}

// AddOrganization attaches an integration to an organization, replacing
// the sync configuration if the pair already exists.
func (s *Store) AddOrganization(ctx context.Context, oi OrganizationIntegration) (*OrganizationIntegration, error) {
	cfg, err := json.Marshal(oi.Config)
	if err != nil {
		return nil, fmt.Errorf("marshalling org config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organization_integrations (organization_id, integration_id, config)
		VALUES (?, ?, ?)
		ON CONFLICT(organization_id, integration_id) DO UPDATE SET config = excluded.config`,
		oi.OrganizationID, oi.IntegrationID, string(cfg))
	if err != nil {
		return nil, fmt.Errorf("upserting organization integration: %w", err)
	}
	return s.GetOrganizationIntegration(ctx, oi.OrganizationID, oi.IntegrationID)
}

// GetOrganizationIntegration returns the link between an organization and
// an integration.
func (s *Store) GetOrganizationIntegration(ctx context.Context, organizationID, integrationID int64) (*OrganizationIntegration, error) {
	var (
		oi  OrganizationIntegration
		cfg string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, integration_id, config FROM organization_integrations
		WHERE organization_id = ? AND integration_id = ?`, organizationID, integrationID,
	).Scan(&oi.ID, &oi.OrganizationID, &oi.IntegrationID, &cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.NotFound("organization_integration", fmt.Sprintf("%d/%d", organizationID, integrationID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading organization integration: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &oi.Config); err != nil {
		return nil, fmt.Errorf("decoding org config: %w", err)
	}
	return &oi, nil
}

// OrganizationIDs returns the ids of every organization the integration
// is attached to.
func (s *Store) OrganizationIDs(ctx context.Context, integrationID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT organization_id FROM organization_integrations WHERE integration_id = ? ORDER BY organization_id",
		integrationID)
	if err != nil {
		return nil, fmt.Errorf("querying organization integrations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning organization id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanIntegration(sc scanner) (*Integration, error) {
	var (
		in   Integration
		meta string
		ts   string
	)
	if err := sc.Scan(&in.ID, &in.Provider, &in.ExternalID, &in.Name, &meta, &ts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &in.Metadata); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.DateTime, ts); err == nil {
		in.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339, ts); err == nil {
		in.CreatedAt = t
	}
	return &in, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"collab-jobs/core/models"

	"github.com/lib/pq"
)

// CollaborationRepository reads collaborations, memberships, datasets and consents
type CollaborationRepository struct {
	db *DB
}

// NewCollaborationRepository creates a new collaboration repository
func NewCollaborationRepository(db *DB) *CollaborationRepository {
	return &CollaborationRepository{db: db}
}

// GetCollaboration retrieves a collaboration by ID
func (r *CollaborationRepository) GetCollaboration(ctx context.Context, id string) (*models.Collaboration, error) {
	query := `
		SELECT id, owner_org_id, name, purpose, created_at
		FROM collaborations
		WHERE id = $1
	`

	var c models.Collaboration
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.OwnerOrgID, &c.Name, &c.Purpose, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetParticipant retrieves an org's membership record
func (r *CollaborationRepository) GetParticipant(ctx context.Context, collaborationID, orgID string) (*models.Participant, error) {
	query := `
		SELECT collaboration_id, org_id, role
		FROM collaboration_participants
		WHERE collaboration_id = $1 AND org_id = $2
	`

	var p models.Participant
	err := r.db.QueryRowContext(ctx, query, collaborationID, orgID).Scan(&p.CollaborationID, &p.OrgID, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// IsMember reports whether orgID owns or participates in the collaboration
func (r *CollaborationRepository) IsMember(ctx context.Context, collaborationID, orgID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM collaborations c
			WHERE c.id = $1 AND (c.owner_org_id = $2 OR EXISTS (
				SELECT 1 FROM collaboration_participants p
				WHERE p.collaboration_id = c.id AND p.org_id = $2
			))
		)
	`

	var member bool
	if err := r.db.QueryRowContext(ctx, query, collaborationID, orgID).Scan(&member); err != nil {
		return false, err
	}
	return member, nil
}

// GetDatasets retrieves the datasets that exist among ids, keyed by ID
func (r *CollaborationRepository) GetDatasets(ctx context.Context, ids []string) (map[string]*models.Dataset, error) {
	query := `
		SELECT id, org_id, name, connector_json, resource_uri
		FROM datasets
		WHERE id = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	datasets := make(map[string]*models.Dataset, len(ids))
	for rows.Next() {
		var d models.Dataset
		var connectorJSON []byte
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Name, &connectorJSON, &d.ResourceURI); err != nil {
			return nil, err
		}
		if len(connectorJSON) > 0 {
			if err := json.Unmarshal(connectorJSON, &d.Connector); err != nil {
				return nil, fmt.Errorf("failed to decode dataset %s connector: %w", d.ID, err)
			}
		}
		datasets[d.ID] = &d
	}

	return datasets, rows.Err()
}

// CountConsents counts consent records per dataset. Datasets without consent
// are absent from the result.
func (r *CollaborationRepository) CountConsents(ctx context.Context, datasetIDs []string) (map[string]int, error) {
	query := `
		SELECT dataset_id, COUNT(*)
		FROM consents
		WHERE dataset_id = ANY($1)
		GROUP BY dataset_id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(datasetIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, len(datasetIDs))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}

	return counts, rows.Err()
}

// ApplySeed upserts reference data in one transaction
func (r *CollaborationRepository) ApplySeed(ctx context.Context, seed *Seed) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range seed.Collaborations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collaborations (id, owner_org_id, name, purpose)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, c.ID, c.OwnerOrgID, c.Name, c.Purpose); err != nil {
			return fmt.Errorf("failed to seed collaboration %s: %w", c.ID, err)
		}
	}

	for _, p := range seed.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collaboration_participants (collaboration_id, org_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (collaboration_id, org_id) DO UPDATE SET role = EXCLUDED.role
		`, p.CollaborationID, p.OrgID, p.Role); err != nil {
			return fmt.Errorf("failed to seed participant %s/%s: %w", p.CollaborationID, p.OrgID, err)
		}
	}

	for _, d := range seed.Datasets {
		connectorJSON, err := json.Marshal(d.Connector)
		if err != nil {
			return err
		}
		if d.Connector == nil {
			connectorJSON = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO datasets (id, org_id, name, connector_json, resource_uri)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, d.ID, d.OrgID, d.Name, connectorJSON, d.ResourceURI); err != nil {
			return fmt.Errorf("failed to seed dataset %s: %w", d.ID, err)
		}
	}

	for _, c := range seed.Consents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO consents (id, dataset_id, purpose, jurisdiction, retention_days)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, c.ID, c.DatasetID, c.Purpose, c.Jurisdiction, c.RetentionDays); err != nil {
			return fmt.Errorf("failed to seed consent %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// PostgresStore is the authoritative Postgres-backed Store
type PostgresStore struct {
	*JobRepository
	*EventRepository
	*CollaborationRepository
}

// NewPostgresStore assembles the repositories over one connection pool
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{
		JobRepository:           NewJobRepository(db),
		EventRepository:         NewEventRepository(db),
		CollaborationRepository: NewCollaborationRepository(db),
	}
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"collab-jobs/core/models"

	"github.com/google/uuid"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// AppendEvent inserts an untransitioned event for an existing job
func (r *EventRepository) AppendEvent(ctx context.Context, event *models.JobEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, event.JobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	if err := insertEventTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ListJobEvents retrieves a job's events in ascending creation order
func (r *EventRepository) ListJobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	return listJobEvents(ctx, r.db, jobID)
}

func listJobEvents(ctx context.Context, q queryer, jobID string) ([]models.JobEvent, error) {
	query := `
		SELECT id, job_id, type, old_status, new_status, data_json, created_at
		FROM job_events
		WHERE job_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := q.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.JobEvent{}
	for rows.Next() {
		var event models.JobEvent
		var oldStatus, newStatus sql.NullString
		var dataJSON []byte

		if err := rows.Scan(
			&event.ID,
			&event.JobID,
			&event.Type,
			&oldStatus,
			&newStatus,
			&dataJSON,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}

		if oldStatus.Valid {
			event.OldStatus = models.StatusPtr(models.JobStatus(oldStatus.String))
		}
		if newStatus.Valid {
			event.NewStatus = models.StatusPtr(models.JobStatus(newStatus.String))
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event %s data: %w", event.ID, err)
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// insertEventTx writes an event inside an open transaction and fills in its
// generated fields
func insertEventTx(ctx context.Context, tx *sql.Tx, event *models.JobEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}

	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	var oldStatus, newStatus sql.NullString
	if event.OldStatus != nil {
		oldStatus = sql.NullString{String: string(*event.OldStatus), Valid: true}
	}
	if event.NewStatus != nil {
		newStatus = sql.NullString{String: string(*event.NewStatus), Valid: true}
	}

	query := `
		INSERT INTO job_events (id, job_id, type, old_status, new_status, data_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return tx.QueryRowContext(ctx, query,
		event.ID,
		event.JobID,
		event.Type,
		oldStatus,
		newStatus,
		dataJSON,
	).Scan(&event.CreatedAt)
}

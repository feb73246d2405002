package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"collab-jobs/core/models"
	"collab-jobs/core/spec"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts the job and its initial event in one transaction
func (r *JobRepository) CreateJob(ctx context.Context, job *models.Job, initial *models.JobEvent) error {
	inputJSON, err := spec.MarshalInput(job.Input)
	if err != nil {
		return fmt.Errorf("failed to encode job input: %w", err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO jobs (id, collaboration_id, created_by_org_id, type, status, input_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	if err := tx.QueryRowContext(ctx, query,
		job.ID,
		job.CollaborationID,
		job.CreatedByOrgID,
		job.Type,
		job.Status,
		inputJSON,
	).Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return err
	}

	if initial != nil {
		initial.JobID = job.ID
		if err := insertEventTx(ctx, tx, initial); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const jobColumns = `
	j.id, j.collaboration_id, j.created_by_org_id, j.type, j.status, j.input_json,
	j.result_json, j.artifact_uri, j.created_at, j.updated_at, j.started_at, j.finished_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var inputJSON, resultJSON []byte
	var artifactURI sql.NullString
	var startedAt, finishedAt sql.NullTime

	if err := row.Scan(
		&job.ID,
		&job.CollaborationID,
		&job.CreatedByOrgID,
		&job.Type,
		&job.Status,
		&inputJSON,
		&resultJSON,
		&artifactURI,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	input, err := spec.UnmarshalInput(inputJSON)
	if err != nil {
		return nil, err
	}
	job.Input = input

	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode job %s result: %w", job.ID, err)
		}
	}
	if artifactURI.Valid {
		job.ArtifactURI = &artifactURI.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}

	return &job, nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// GetJobDetail reads a job and its events from one snapshot, so the status
// always matches the newest transition event
func (r *JobRepository) GetJobDetail(ctx context.Context, id string) (*models.Job, []models.JobEvent, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.id = $1`
	job, err := scanJob(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	events, err := listJobEvents(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, events, tx.Commit()
}

// TransitionJob performs the conditional status update and inserts the paired
// event in the same transaction. The row lock taken by the inner SELECT makes
// concurrent transitions on one job serialize, so exactly one of them matches.
func (r *JobRepository) TransitionJob(ctx context.Context, t Transition) (TransitionResult, error) {
	var resultJSON, artifactURI sql.NullString
	if t.Result != nil {
		encoded, err := json.Marshal(t.Result)
		if err != nil {
			return TransitionResult{}, fmt.Errorf("failed to encode job result: %w", err)
		}
		resultJSON = sql.NullString{String: string(encoded), Valid: true}
	}
	if t.ArtifactURI != nil {
		artifactURI = sql.NullString{String: *t.ArtifactURI, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	query := `
		UPDATE jobs AS j
		SET status = $1,
			updated_at = NOW(),
			started_at = CASE WHEN $2 THEN NOW() ELSE j.started_at END,
			finished_at = CASE WHEN $3 THEN NOW() ELSE j.finished_at END,
			result_json = COALESCE($4::jsonb, j.result_json),
			artifact_uri = COALESCE($5, j.artifact_uri)
		FROM (SELECT id, status FROM jobs WHERE id = $6 FOR UPDATE) AS prev
		WHERE j.id = prev.id AND prev.status = ANY($7)
		RETURNING prev.status
	`

	var oldStatus models.JobStatus
	err = tx.QueryRowContext(ctx, query,
		t.To,
		t.To == models.JobStatusRunning,
		t.To.IsTerminal(),
		resultJSON,
		artifactURI,
		t.JobID,
		pq.Array(statusStrings(t.From)),
	).Scan(&oldStatus)

	if errors.Is(err, sql.ErrNoRows) {
		var current models.JobStatus
		lookupErr := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, t.JobID).Scan(&current)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return TransitionResult{}, ErrNotFound
		}
		if lookupErr != nil {
			return TransitionResult{}, lookupErr
		}
		return TransitionResult{Applied: false, Current: current}, nil
	}
	if err != nil {
		return TransitionResult{}, err
	}

	event := t.Event
	event.JobID = t.JobID
	event.OldStatus = models.StatusPtr(oldStatus)
	event.NewStatus = models.StatusPtr(t.To)
	if err := insertEventTx(ctx, tx, &event); err != nil {
		return TransitionResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}

	return TransitionResult{Applied: true, OldStatus: oldStatus, Current: t.To, Event: &event}, nil
}

// ListJobs lists jobs visible to the caller: those whose collaboration the
// caller owns or participates in
func (r *JobRepository) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, int, error) {
	where := `
		FROM jobs j
		JOIN collaborations c ON c.id = j.collaboration_id
		WHERE (c.owner_org_id = $1 OR EXISTS (
			SELECT 1 FROM collaboration_participants p
			WHERE p.collaboration_id = c.id AND p.org_id = $1
		))
	`
	args := []interface{}{filter.CallerOrgID}
	argIndex := 2

	if filter.Type != nil {
		where += fmt.Sprintf(" AND j.type = $%d", argIndex)
		args = append(args, *filter.Type)
		argIndex++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND j.status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.CollaborationID != "" {
		where += fmt.Sprintf(" AND j.collaboration_id = $%d", argIndex)
		args = append(args, filter.CollaborationID)
		argIndex++
	}
	if filter.CreatedAfter != nil {
		where += fmt.Sprintf(" AND j.created_at >= $%d", argIndex)
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}
	if filter.CreatedBefore != nil {
		where += fmt.Sprintf(" AND j.created_at <= $%d", argIndex)
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}
	if filter.Query != "" {
		where += fmt.Sprintf(` AND j.id LIKE $%d ESCAPE '\'`, argIndex)
		args = append(args, escapeLike(filter.Query)+"%")
		argIndex++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + jobColumns + where +
		fmt.Sprintf(" ORDER BY j.created_at DESC, j.id ASC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.PageSize, filter.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}

	return jobs, total, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

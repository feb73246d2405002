package repository

import (
	"context"
	"errors"

	"collab-jobs/core/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Transition is a conditional status update: set the job to To only if its
// current status is one of From. The paired event is committed with it.
type Transition struct {
	JobID string
	From  []models.JobStatus
	To    models.JobStatus

	// Event carries Type and Data; the store fills in ID, JobID, statuses and CreatedAt.
	Event models.JobEvent

	// Optional write-once outputs, applied only when the transition wins
	Result      map[string]interface{}
	ArtifactURI *string
}

// TransitionResult reports the outcome of a conditional status update.
// When Applied is false, Current is the status observed instead.
type TransitionResult struct {
	Applied   bool
	OldStatus models.JobStatus
	Current   models.JobStatus
	Event     *models.JobEvent
}

// JobStore persists jobs and their event history
type JobStore interface {
	// CreateJob inserts a job together with its initial event
	CreateJob(ctx context.Context, job *models.Job, initial *models.JobEvent) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// GetJobDetail returns a job and its ordered events as one consistent read
	GetJobDetail(ctx context.Context, id string) (*models.Job, []models.JobEvent, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, int, error)
	TransitionJob(ctx context.Context, t Transition) (TransitionResult, error)
	AppendEvent(ctx context.Context, event *models.JobEvent) error
	ListJobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)
}

// CollaborationStore answers membership, dataset and consent questions
type CollaborationStore interface {
	GetCollaboration(ctx context.Context, id string) (*models.Collaboration, error)
	// GetParticipant returns ErrNotFound when orgID holds no membership record
	GetParticipant(ctx context.Context, collaborationID, orgID string) (*models.Participant, error)
	// IsMember reports whether orgID owns or participates in the collaboration
	IsMember(ctx context.Context, collaborationID, orgID string) (bool, error)
	GetDatasets(ctx context.Context, ids []string) (map[string]*models.Dataset, error)
	CountConsents(ctx context.Context, datasetIDs []string) (map[string]int, error)
}

// Seeder loads reference data (collaborations, datasets, consents)
type Seeder interface {
	ApplySeed(ctx context.Context, seed *Seed) error
}

// Store is the full authoritative store
type Store interface {
	JobStore
	CollaborationStore
	Seeder
}

func containsStatus(set []models.JobStatus, s models.JobStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

func statusStrings(set []models.JobStatus) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}

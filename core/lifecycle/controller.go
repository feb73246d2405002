// Package lifecycle drives jobs from admission to a terminal status. It owns
// all status bookkeeping around adapter runs; adapters only compute.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"collab-jobs/core/adapters"
	"collab-jobs/core/apperror"
	"collab-jobs/core/audit"
	"collab-jobs/core/eventlog"
	"collab-jobs/core/models"
	"collab-jobs/core/policy"
	"collab-jobs/core/repository"
	"collab-jobs/core/spec"
	"collab-jobs/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ResultFilename is the artifact name of an adapter's payload
const ResultFilename = "result.json"

// Controller orchestrates job creation, start, cancellation and reads
type Controller struct {
	jobs      repository.JobStore
	collabs   repository.CollaborationStore
	policy    *policy.Engine
	log       *eventlog.Log
	artifacts *storage.ArtifactStore
	adapters  *adapters.Registry
	audit     *audit.Recorder
	logger    logrus.FieldLogger

	adapterTimeout time.Duration
}

// Deps groups the controller's collaborators
type Deps struct {
	Jobs      repository.JobStore
	Collabs   repository.CollaborationStore
	Policy    *policy.Engine
	Log       *eventlog.Log
	Artifacts *storage.ArtifactStore
	Adapters  *adapters.Registry
	Audit     *audit.Recorder
	Logger    logrus.FieldLogger

	// AdapterTimeout bounds a single adapter run; zero means no bound
	// beyond the caller's context
	AdapterTimeout time.Duration
}

// NewController creates a lifecycle controller
func NewController(d Deps) *Controller {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Policy == nil {
		d.Policy = policy.NewEngine(d.Collabs)
	}
	if d.Log == nil {
		d.Log = eventlog.New(d.Jobs, eventlog.WithLogger(d.Logger))
	}
	if d.Adapters == nil {
		d.Adapters = adapters.NewDefaultRegistry()
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder(nil, d.Logger)
	}
	return &Controller{
		jobs:           d.Jobs,
		collabs:        d.Collabs,
		policy:         d.Policy,
		log:            d.Log,
		artifacts:      d.Artifacts,
		adapters:       d.Adapters,
		audit:          d.Audit,
		logger:         d.Logger,
		adapterTimeout: d.AdapterTimeout,
	}
}

// JobDetail is a job with its ordered event history
type JobDetail struct {
	Job    *models.Job
	Events []models.JobEvent
}

// CreateJob admits and persists a new job in PENDING with a QUEUED event.
// Denied requests write nothing.
func (c *Controller) CreateJob(
	ctx context.Context,
	callerOrgID string,
	collaborationID string,
	jobType models.JobType,
	input models.JobInput,
) (*models.Job, error) {
	if !jobType.Valid() {
		return nil, apperror.Validation(fmt.Errorf("unsupported job type %q", jobType))
	}
	if input.Type != jobType {
		return nil, apperror.Validation(fmt.Errorf("input type %q does not match job type %q", input.Type, jobType))
	}
	if err := spec.Validate(input); err != nil {
		return nil, apperror.Validation(err)
	}

	decision, err := c.policy.AuthorizeJobCreation(ctx, callerOrgID, collaborationID, jobType, input)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize job: %w", err)
	}
	if !decision.Allowed {
		c.logger.WithFields(logrus.Fields{
			"org_id":           callerOrgID,
			"collaboration_id": collaborationID,
			"reason":           decision.Reason,
			"dataset_id":       decision.DatasetID,
		}).Info("Job creation denied")
		return nil, decision.Err()
	}

	job := &models.Job{
		ID:              uuid.NewString(),
		CollaborationID: collaborationID,
		CreatedByOrgID:  callerOrgID,
		Type:            jobType,
		Status:          models.JobStatusPending,
		Input:           input,
	}
	queued := &models.JobEvent{
		Type:      models.EventQueued,
		NewStatus: models.StatusPtr(models.JobStatusPending),
		Data:      map[string]interface{}{"type": string(jobType)},
	}
	if err := c.jobs.CreateJob(ctx, job, queued); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"job_id":           job.ID,
		"org_id":           callerOrgID,
		"collaboration_id": collaborationID,
		"type":             jobType,
	}).Info("Job created")

	c.audit.Record(ctx, audit.ActorFromContext(ctx, callerOrgID), audit.ActionJobCreate, map[string]interface{}{
		"jobId":           job.ID,
		"collaborationId": collaborationID,
		"type":            string(jobType),
	})

	return job, nil
}

// StartJob moves a PENDING job to RUNNING and runs its adapter inline. The
// adapter's outcome becomes a terminal transition; adapter failures are not
// returned to the caller, but failing to record the outcome is.
func (c *Controller) StartJob(ctx context.Context, jobID, callerOrgID string) error {
	job, err := c.scopedJob(ctx, jobID, callerOrgID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPending {
		return apperror.Conflict(apperror.CodeInvalidState, fmt.Sprintf("job is %s", job.Status))
	}

	_, err = c.log.Transition(ctx, eventlog.Change{
		JobID:     job.ID,
		From:      []models.JobStatus{models.JobStatusPending},
		To:        models.JobStatusRunning,
		EventType: models.EventStarted,
		Data:      map[string]interface{}{"startedBy": callerOrgID},
	})
	if err != nil {
		return eventlog.ConflictError(err, apperror.CodeInvalidState)
	}

	c.audit.Record(ctx, audit.ActorFromContext(ctx, callerOrgID), audit.ActionJobStart, map[string]interface{}{
		"jobId": job.ID,
	})

	// Bookkeeping after this point must survive the request being canceled
	bookkeeping := context.WithoutCancel(ctx)

	adapter, ok := c.adapters.Lookup(job.Type)
	if !ok {
		if _, err := c.log.Append(bookkeeping, job.ID, models.EventProgress, map[string]interface{}{
			"message": "no adapter registered for job type",
			"type":    string(job.Type),
		}); err != nil {
			return fmt.Errorf("failed to record missing adapter: %w", err)
		}
		c.logger.WithFields(logrus.Fields{"job_id": job.ID, "type": job.Type}).Warn("No adapter registered, job left RUNNING")
		return nil
	}

	runCtx := ctx
	if c.adapterTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.adapterTimeout)
		defer cancel()
	}

	out, runErr := adapters.Run(runCtx, adapter, job.Input)
	if runErr == nil && out == nil {
		runErr = errors.New("adapter returned no output")
	}
	if runErr != nil {
		return c.fail(bookkeeping, job.ID, runErr)
	}
	return c.succeed(bookkeeping, job.ID, out)
}

// fail records the adapter error as a FAILED transition. Losing the race to a
// concurrent cancel is not an error; store failures are.
func (c *Controller) fail(ctx context.Context, jobID string, runErr error) error {
	kind := "error"
	var vErr *adapters.ValidationError
	switch {
	case errors.As(runErr, &vErr):
		kind = "validation"
	case errors.Is(runErr, context.DeadlineExceeded):
		kind = "timeout"
	case errors.Is(runErr, context.Canceled):
		kind = "canceled"
	}

	logger := c.logger.WithFields(logrus.Fields{"job_id": jobID, "kind": kind})
	logger.WithError(runErr).Warn("Adapter failed")

	_, err := c.log.Transition(ctx, eventlog.Change{
		JobID:     jobID,
		From:      []models.JobStatus{models.JobStatusRunning},
		To:        models.JobStatusFailed,
		EventType: models.EventFailed,
		Data: map[string]interface{}{
			"error": runErr.Error(),
			"kind":  kind,
		},
	})
	if errors.Is(err, eventlog.ErrInvalidTransition) {
		logger.WithError(err).Info("Job left RUNNING before the adapter failed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record adapter failure: %w", err)
	}
	return nil
}

// succeed stores the artifact and records the SUCCEEDED transition. When the
// job was canceled meanwhile, the artifact is removed again.
func (c *Controller) succeed(ctx context.Context, jobID string, out *adapters.Output) error {
	logger := c.logger.WithField("job_id", jobID)

	payload := out.Artifact
	if payload == nil {
		encoded, err := json.Marshal(out.Result)
		if err != nil {
			logger.WithError(err).Warn("Failed to encode result artifact")
		}
		payload = encoded
	}

	var artifactURI *string
	written := false
	if c.artifacts != nil && payload != nil {
		uri, err := c.artifacts.Write(jobID, ResultFilename, payload)
		if err != nil {
			// The job still succeeds; the URI may point at a missing object
			logger.WithError(err).Warn("Failed to write artifact")
			uri = c.artifacts.URIFor(jobID, ResultFilename)
		} else {
			written = true
		}
		artifactURI = &uri
	}

	data := map[string]interface{}{"result": out.Result}
	if artifactURI != nil {
		data["artifactUri"] = *artifactURI
	}

	_, err := c.log.Transition(ctx, eventlog.Change{
		JobID:       jobID,
		From:        []models.JobStatus{models.JobStatusRunning},
		To:          models.JobStatusSucceeded,
		EventType:   models.EventCompleted,
		Data:        data,
		Result:      out.Result,
		ArtifactURI: artifactURI,
	})
	if errors.Is(err, eventlog.ErrInvalidTransition) {
		logger.WithError(err).Info("Job left RUNNING before the adapter finished, discarding result")
		if written {
			if rmErr := c.artifacts.Remove(jobID, ResultFilename); rmErr != nil {
				logger.WithError(rmErr).Warn("Failed to remove orphaned artifact")
			}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record adapter success: %w", err)
	}
	return nil
}

// CancelJob moves a PENDING or RUNNING job to CANCELED
func (c *Controller) CancelJob(ctx context.Context, jobID, callerOrgID, reason string) error {
	job, err := c.scopedJob(ctx, jobID, callerOrgID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return apperror.Conflict(apperror.CodeInvalidState, fmt.Sprintf("job is %s", job.Status))
	}

	data := map[string]interface{}{"canceledBy": callerOrgID}
	if reason != "" {
		data["reason"] = reason
	}
	_, err = c.log.Transition(ctx, eventlog.Change{
		JobID:     job.ID,
		From:      models.NonTerminalStatuses(),
		To:        models.JobStatusCanceled,
		EventType: models.EventCanceled,
		Data:      data,
	})
	if err != nil {
		return eventlog.ConflictError(err, apperror.CodeInvalidState)
	}

	c.audit.Record(ctx, audit.ActorFromContext(ctx, callerOrgID), audit.ActionJobCancel, map[string]interface{}{
		"jobId":  job.ID,
		"reason": reason,
	})
	return nil
}

// GetJob returns the job and its full event history, read together
func (c *Controller) GetJob(ctx context.Context, jobID, callerOrgID string) (*JobDetail, error) {
	job, events, err := c.jobs.GetJobDetail(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.JobNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if err := c.checkScope(ctx, job, callerOrgID); err != nil {
		return nil, err
	}
	return &JobDetail{Job: job, Events: events}, nil
}

// ListJobs lists jobs in collaborations the caller owns or participates in
func (c *Controller) ListJobs(ctx context.Context, filter models.JobFilter) (*models.JobPage, error) {
	filter.Normalize()
	jobs, total, err := c.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return models.NewJobPage(jobs, total, filter), nil
}

// ArtifactInfo describes a job's result artifact
type ArtifactInfo struct {
	JobID        string
	Filename     string
	URI          string
	Exists       bool
	Size         int64
	LastModified time.Time
}

// DownloadName is the attachment name offered to clients
func (a *ArtifactInfo) DownloadName() string {
	return a.JobID + "-" + a.Filename
}

// GetArtifactInfo reports artifact metadata without reading its contents
func (c *Controller) GetArtifactInfo(ctx context.Context, jobID, callerOrgID string) (*ArtifactInfo, error) {
	job, err := c.scopedJob(ctx, jobID, callerOrgID)
	if err != nil {
		return nil, err
	}
	info := &ArtifactInfo{JobID: job.ID}
	if job.ArtifactURI == nil || c.artifacts == nil {
		return info, nil
	}
	info.URI = *job.ArtifactURI

	filename, ok := storage.ResolveFilenameFromURI(*job.ArtifactURI)
	if !ok {
		return info, nil
	}
	info.Filename = filename

	stat, err := c.artifacts.Stat(job.ID, filename)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	info.Exists = true
	info.Size = stat.Size
	info.LastModified = stat.LastModified
	return info, nil
}

// OpenArtifact opens a job's artifact for streaming. A URI whose object is
// absent yields ARTIFACT_NOT_FOUND.
func (c *Controller) OpenArtifact(ctx context.Context, jobID, callerOrgID string) (io.ReadCloser, *ArtifactInfo, error) {
	info, err := c.GetArtifactInfo(ctx, jobID, callerOrgID)
	if err != nil {
		return nil, nil, err
	}
	if !info.Exists {
		return nil, nil, apperror.New(http.StatusNotFound, apperror.CodeArtifactNotFound, "artifact not found")
	}

	f, err := c.artifacts.Open(info.JobID, info.Filename)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		return nil, nil, apperror.New(http.StatusNotFound, apperror.CodeArtifactNotFound, "artifact not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, info, nil
}

// scopedJob loads a job the caller may see. Missing and out-of-scope jobs are
// indistinguishable to the caller.
func (c *Controller) scopedJob(ctx context.Context, jobID, callerOrgID string) (*models.Job, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.JobNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	if err := c.checkScope(ctx, job, callerOrgID); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Controller) checkScope(ctx context.Context, job *models.Job, callerOrgID string) error {
	member, err := c.collabs.IsMember(ctx, job.CollaborationID, callerOrgID)
	if err != nil {
		return fmt.Errorf("failed to check job scope: %w", err)
	}
	if !member {
		return apperror.JobNotFound()
	}
	return nil
}

// Package webhook accepts out-of-band status callbacks from asynchronous
// adapters and applies them through the event log.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"collab-jobs/core/apperror"
	"collab-jobs/core/audit"
	"collab-jobs/core/eventlog"
	"collab-jobs/core/models"
	"collab-jobs/core/repository"

	"github.com/sirupsen/logrus"
)

// EventType is the kind of callback an adapter reports
type EventType string

const (
	EventProgress  EventType = "PROGRESS"
	EventCompleted EventType = "COMPLETED"
	EventFailed    EventType = "FAILED"
)

// Event is one callback payload
type Event struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Outcome reports what a callback did
type Outcome string

const (
	OutcomeRecorded   Outcome = "recorded"
	OutcomeTransition Outcome = "transitioned"
	OutcomeIgnored    Outcome = "ignored" // Job already terminal
)

// Ingestor applies callbacks to jobs
type Ingestor struct {
	jobs   repository.JobStore
	log    *eventlog.Log
	audit  *audit.Recorder
	logger logrus.FieldLogger
}

// NewIngestor creates a webhook ingestor
func NewIngestor(jobs repository.JobStore, log *eventlog.Log, recorder *audit.Recorder, logger logrus.FieldLogger) *Ingestor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ingestor{jobs: jobs, log: log, audit: recorder, logger: logger}
}

// Handle applies one callback. COMPLETED and FAILED finish the job from any
// non-terminal status; once terminal, repeated callbacks are no-ops.
func (in *Ingestor) Handle(ctx context.Context, jobID string, event Event) (Outcome, error) {
	job, err := in.jobs.GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", apperror.JobNotFound()
	}
	if err != nil {
		return "", fmt.Errorf("failed to load job: %w", err)
	}

	logger := in.logger.WithFields(logrus.Fields{"job_id": job.ID, "callback": event.Type})
	data := copyData(event.Data)
	data["source"] = "webhook"

	var outcome Outcome
	switch event.Type {
	case EventProgress:
		if _, err := in.log.Append(ctx, job.ID, models.EventProgress, data); err != nil {
			return "", fmt.Errorf("failed to append progress: %w", err)
		}
		outcome = OutcomeRecorded

	case EventCompleted, EventFailed:
		outcome, err = in.finish(ctx, job, event.Type, data)
		if err != nil {
			return "", err
		}
		if outcome == OutcomeIgnored {
			logger.WithField("status", job.Status).Info("Ignoring callback for terminal job")
		}

	default:
		return "", apperror.New(http.StatusBadRequest, apperror.CodeInvalidEvent, fmt.Sprintf("unsupported event type %q", event.Type))
	}

	in.audit.Record(ctx, audit.ActorFromContext(ctx, ""), audit.ActionJobWebhook, map[string]interface{}{
		"jobId":   job.ID,
		"event":   string(event.Type),
		"outcome": string(outcome),
	})
	return outcome, nil
}

func (in *Ingestor) finish(ctx context.Context, job *models.Job, eventType EventType, data map[string]interface{}) (Outcome, error) {
	if job.Status.IsTerminal() {
		return OutcomeIgnored, nil
	}

	change := eventlog.Change{
		JobID:     job.ID,
		From:      models.NonTerminalStatuses(),
		To:        models.JobStatusFailed,
		EventType: models.EventStatusChange,
		Data:      data,
		Overwrite: true,
	}
	if eventType == EventCompleted {
		change.To = models.JobStatusSucceeded
		if result, ok := data["result"].(map[string]interface{}); ok {
			change.Result = result
		}
		if uri, ok := data["artifactUri"].(string); ok && uri != "" {
			change.ArtifactURI = &uri
		}
	}

	_, err := in.log.Transition(ctx, change)
	if errors.Is(err, eventlog.ErrInvalidTransition) {
		// Another writer finished the job after we read it
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to apply callback: %w", err)
	}
	return OutcomeTransition, nil
}

func copyData(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Package eventlog is the single writer of job status transitions. Each
// transition is an atomic compare-and-set in the store, committed together
// with its event.
package eventlog

import (
	"context"
	"errors"
	"fmt"

	"collab-jobs/core/apperror"
	"collab-jobs/core/models"
	"collab-jobs/core/repository"

	"github.com/sirupsen/logrus"
)

// ErrInvalidTransition is returned when the job was not in an expected status
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError describes a transition that lost the compare-and-set
type TransitionError struct {
	JobID   string
	From    []models.JobStatus
	To      models.JobStatus
	Current models.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move %s -> %s (expected one of %v)", e.JobID, e.Current, e.To, e.From)
}

// Is matches ErrInvalidTransition
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Publisher receives committed events, e.g. for fan-out to other services
type Publisher interface {
	Publish(ctx context.Context, event models.JobEvent) error
}

// Log appends events and performs status transitions
type Log struct {
	store     repository.JobStore
	publisher Publisher
	logger    logrus.FieldLogger
}

// Option customizes a Log
type Option func(*Log)

// WithPublisher forwards committed events to p
func WithPublisher(p Publisher) Option {
	return func(l *Log) {
		l.publisher = p
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// New creates an event log over a job store
func New(store repository.JobStore, opts ...Option) *Log {
	l := &Log{store: store, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Change describes a requested transition
type Change struct {
	JobID     string
	From      []models.JobStatus
	To        models.JobStatus
	EventType models.EventType
	Data      map[string]interface{}

	Result      map[string]interface{}
	ArtifactURI *string

	// Overwrite allows an out-of-band callback to finish a job from any
	// non-terminal status
	Overwrite bool
}

func (c Change) validate() error {
	if len(c.From) == 0 {
		return fmt.Errorf("transition of job %s has no expected status", c.JobID)
	}
	for _, from := range c.From {
		allowed := models.CanTransition(from, c.To)
		if c.Overwrite {
			allowed = models.CanOverwrite(from, c.To)
		}
		if !allowed {
			return fmt.Errorf("%s -> %s is not a job state machine edge", from, c.To)
		}
	}
	return nil
}

// Transition moves the job from one of c.From to c.To. It returns a
// *TransitionError (matching ErrInvalidTransition) when another writer won,
// and repository.ErrNotFound when the job does not exist.
func (l *Log) Transition(ctx context.Context, c Change) (*models.JobEvent, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	res, err := l.store.TransitionJob(ctx, repository.Transition{
		JobID:       c.JobID,
		From:        c.From,
		To:          c.To,
		Event:       models.JobEvent{Type: c.EventType, Data: c.Data},
		Result:      c.Result,
		ArtifactURI: c.ArtifactURI,
	})
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		return nil, &TransitionError{JobID: c.JobID, From: c.From, To: c.To, Current: res.Current}
	}

	l.logger.WithFields(logrus.Fields{
		"job_id": c.JobID,
		"from":   res.OldStatus,
		"to":     c.To,
		"event":  c.EventType,
	}).Info("Job status changed")

	l.publish(ctx, *res.Event)
	return res.Event, nil
}

// Append records an untransitioned event
func (l *Log) Append(ctx context.Context, jobID string, eventType models.EventType, data map[string]interface{}) (*models.JobEvent, error) {
	event := &models.JobEvent{JobID: jobID, Type: eventType, Data: data}
	if err := l.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}
	l.publish(ctx, *event)
	return event, nil
}

// Events returns a job's history in ascending creation order
func (l *Log) Events(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	return l.store.ListJobEvents(ctx, jobID)
}

func (l *Log) publish(ctx context.Context, event models.JobEvent) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.WithError(err).WithField("job_id", event.JobID).Warn("Failed to publish job event")
	}
}

// ConflictError maps a lost transition to the 409-class client error
func ConflictError(err error, code string) error {
	var tErr *TransitionError
	if errors.As(err, &tErr) {
		appErr := apperror.Conflict(code, fmt.Sprintf("job is %s", tErr.Current))
		appErr.Err = err
		return appErr
	}
	return err
}

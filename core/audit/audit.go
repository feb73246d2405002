// Package audit forwards records of mutating operations to an external audit
// store. Recording is best effort: a failing sink never blocks the operation.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Actions recorded by the job engine
const (
	ActionJobCreate  = "job.create"
	ActionJobStart   = "job.start"
	ActionJobCancel  = "job.cancel"
	ActionJobWebhook = "job.webhook"
)

// Actor identifies who performed an action
type Actor struct {
	OrgID     string `json:"orgId"`
	SubjectID string `json:"subjectId,omitempty"`
	KeyID     string `json:"keyId,omitempty"`
	Kind      string `json:"kind"` // user | api_key | webhook | system
}

// Record is one audit entry
type Record struct {
	Actor   Actor                  `json:"actor"`
	Action  string                 `json:"action"`
	Details map[string]interface{} `json:"details,omitempty"`
	At      time.Time              `json:"at"`
}

// Sink stores audit records
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Recorder is what the core calls after each mutating operation
type Recorder struct {
	sink   Sink
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewRecorder wraps a sink. A nil sink records to the log only.
func NewRecorder(sink Sink, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// Record forwards an entry; failures are logged and swallowed
func (r *Recorder) Record(ctx context.Context, actor Actor, action string, details map[string]interface{}) {
	if r == nil {
		return
	}
	rec := Record{Actor: actor, Action: action, Details: details, At: r.now().UTC()}
	if err := r.sink.Record(ctx, rec); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"org_id": actor.OrgID,
		}).Warn("Failed to record audit entry")
	}
}

// LogSink writes audit records as structured log lines
type LogSink struct {
	logger logrus.FieldLogger
}

// NewLogSink creates a log-backed sink
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink
func (s *LogSink) Record(ctx context.Context, rec Record) error {
	s.logger.WithFields(logrus.Fields{
		"audit":      true,
		"action":     rec.Action,
		"org_id":     rec.Actor.OrgID,
		"subject_id": rec.Actor.SubjectID,
		"key_id":     rec.Actor.KeyID,
		"details":    rec.Details,
	}).Info("audit")
	return nil
}

// MultiSink fans a record out to several sinks
type MultiSink []Sink

// Record implements Sink; every sink is attempted
func (m MultiSink) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps records in memory, for tests
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// Record implements Sink
func (m *MemorySink) Record(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Actions returns the recorded actions in order
func (m *MemorySink) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, rec := range m.records {
		out[i] = rec.Action
	}
	return out
}

type actorKey struct{}

// WithActor attaches the acting principal to ctx
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the principal attached to ctx, falling back to an
// org-only actor
func ActorFromContext(ctx context.Context, orgID string) Actor {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
		return actor
	}
	return Actor{OrgID: orgID, Kind: "system"}
}

// Package nats fans job events out to NATS subscribers.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"collab-jobs/core/models"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix events are published under
const DefaultSubject = "jobs.events"

// Conn is the part of *nats.Conn the publisher needs
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends each job event to <subject>.<jobID>
type Publisher struct {
	conn    Conn
	subject string
	closer  func()
}

// Connect dials the NATS server at url
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("collab-jobs"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := NewPublisher(nc, subject)
	p.closer = nc.Close
	return p, nil
}

// NewPublisher wraps an existing connection
func NewPublisher(conn Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Subject returns the subject an event for jobID is published on
func (p *Publisher) Subject(jobID string) string {
	return p.subject + "." + jobID
}

// Publish encodes the event as JSON and publishes it
func (p *Publisher) Publish(ctx context.Context, event models.JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload(event))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event.JobID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func payload(event models.JobEvent) map[string]interface{} {
	out := map[string]interface{}{
		"id":        event.ID,
		"jobId":     event.JobID,
		"type":      event.Type,
		"createdAt": event.CreatedAt,
	}
	if event.OldStatus != nil {
		out["oldStatus"] = *event.OldStatus
	}
	if event.NewStatus != nil {
		out["newStatus"] = *event.NewStatus
	}
	if len(event.Data) > 0 {
		out["data"] = event.Data
	}
	return out
}

// Close closes the owned connection, if any
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

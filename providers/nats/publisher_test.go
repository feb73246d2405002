package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"collab-jobs/core/models"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestPublishTransitionEvent(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "")

	err := p.Publish(context.Background(), models.JobEvent{
		ID:        "e1",
		JobID:     "j1",
		Type:      models.EventStarted,
		OldStatus: models.StatusPtr(models.JobStatusPending),
		NewStatus: models.StatusPtr(models.JobStatusRunning),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "jobs.events.j1" {
		t.Fatalf("subjects = %v", conn.subjects)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(conn.payloads[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["oldStatus"] != "PENDING" || got["newStatus"] != "RUNNING" || got["type"] != "STARTED" {
		t.Fatalf("payload = %v", got)
	}
	if _, ok := got["data"]; ok {
		t.Fatalf("empty data should be omitted: %v", got)
	}
}

func TestPublishPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&fakeConn{err: boom}, "custom")
	if p.Subject("x") != "custom.x" {
		t.Fatalf("subject = %s", p.Subject("x"))
	}
	if err := p.Publish(context.Background(), models.JobEvent{JobID: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewPublisher(&fakeConn{}, "").Publish(ctx, models.JobEvent{JobID: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

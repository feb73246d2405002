package webhook

import (
	"context"
	"testing"

	"collab-jobs/core/apperror"
	"collab-jobs/core/audit"
	"collab-jobs/core/eventlog"
	"collab-jobs/core/models"
	"collab-jobs/core/repository"
)

type fixture struct {
	store    *repository.MemoryStore
	log      *eventlog.Log
	ingestor *Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.AddCollaboration(models.Collaboration{ID: "C", OwnerOrgID: "A"})
	log := eventlog.New(store)
	return &fixture{
		store:    store,
		log:      log,
		ingestor: NewIngestor(store, log, audit.NewRecorder(&audit.MemorySink{}, nil), nil),
	}
}

func (f *fixture) job(t *testing.T, status models.JobStatus) string {
	t.Helper()
	job := &models.Job{
		CollaborationID: "C",
		Type:            models.JobTypeSMPC,
		Status:          models.JobStatusPending,
		Input: models.JobInput{Type: models.JobTypeSMPC, SMPC: &models.SMPCSpec{
			Operation: models.SMPCCount, DatasetIDs: []string{"D"},
		}},
	}
	ctx := context.Background()
	if err := f.store.CreateJob(ctx, job, &models.JobEvent{Type: models.EventQueued, NewStatus: models.StatusPtr(models.JobStatusPending)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	path := map[models.JobStatus][]models.JobStatus{
		models.JobStatusPending:   nil,
		models.JobStatusRunning:   {models.JobStatusRunning},
		models.JobStatusSucceeded: {models.JobStatusRunning, models.JobStatusSucceeded},
		models.JobStatusCanceled:  {models.JobStatusCanceled},
	}[status]
	current := models.JobStatusPending
	for _, next := range path {
		if _, err := f.log.Transition(ctx, eventlog.Change{
			JobID: job.ID, From: []models.JobStatus{current}, To: next, EventType: models.EventStatusChange,
		}); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		current = next
	}
	return job.ID
}

func (f *fixture) get(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return job
}

func TestCompletedCallbackFinishesRunningJob(t *testing.T) {
	f := newFixture(t)
	id := f.job(t, models.JobStatusRunning)

	outcome, err := f.ingestor.Handle(context.Background(), id, Event{
		Type: EventCompleted,
		Data: map[string]interface{}{
			"result":      map[string]interface{}{"total": float64(7)},
			"artifactUri": "artifact://" + id + "/result.json",
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeTransition {
		t.Fatalf("outcome = %s", outcome)
	}

	job := f.get(t, id)
	if job.Status != models.JobStatusSucceeded || job.Result["total"] != float64(7) || job.ArtifactURI == nil {
		t.Fatalf("unexpected job %+v", job)
	}

	events, _ := f.log.Events(context.Background(), id)
	last := events[len(events)-1]
	if last.Type != models.EventStatusChange || *last.OldStatus != models.JobStatusRunning {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestFailedCallbackFromPending(t *testing.T) {
	f := newFixture(t)
	id := f.job(t, models.JobStatusPending)

	if _, err := f.ingestor.Handle(context.Background(), id, Event{Type: EventFailed}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status := f.get(t, id).Status; status != models.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", status)
	}
}

func TestCallbackOnTerminalJobIsNoOp(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusSucceeded, models.JobStatusCanceled} {
		f := newFixture(t)
		id := f.job(t, status)
		before, _ := f.log.Events(context.Background(), id)

		for _, eventType := range []EventType{EventFailed, EventCompleted, EventFailed} {
			outcome, err := f.ingestor.Handle(context.Background(), id, Event{Type: eventType})
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if outcome != OutcomeIgnored {
				t.Fatalf("outcome = %s, want ignored", outcome)
			}
		}

		if got := f.get(t, id).Status; got != status {
			t.Fatalf("status = %s, want %s", got, status)
		}
		after, _ := f.log.Events(context.Background(), id)
		if len(after) != len(before) {
			t.Fatalf("no-op callback wrote %d events", len(after)-len(before))
		}
	}
}

func TestProgressCallbackAppendsOnly(t *testing.T) {
	f := newFixture(t)
	id := f.job(t, models.JobStatusRunning)

	outcome, err := f.ingestor.Handle(context.Background(), id, Event{Type: EventProgress, Data: map[string]interface{}{"pct": 40}})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeRecorded {
		t.Fatalf("outcome = %s", outcome)
	}
	if status := f.get(t, id).Status; status != models.JobStatusRunning {
		t.Fatalf("status = %s, want RUNNING", status)
	}

	events, _ := f.log.Events(context.Background(), id)
	last := events[len(events)-1]
	if last.Type != models.EventProgress || last.IsTransition() || last.Data["source"] != "webhook" {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestUnknownJobAndEvent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ingestor.Handle(context.Background(), "missing", Event{Type: EventProgress}); apperror.CodeOf(err) != apperror.CodeJobNotFound {
		t.Fatalf("expected JOB_NOT_FOUND, got %v", err)
	}

	id := f.job(t, models.JobStatusRunning)
	if _, err := f.ingestor.Handle(context.Background(), id, Event{Type: "EXPLODED"}); apperror.CodeOf(err) != apperror.CodeInvalidEvent {
		t.Fatalf("expected INVALID_EVENT, got %v", err)
	}
}

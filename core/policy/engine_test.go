package policy

import (
	"context"
	"errors"
	"testing"

	"collab-jobs/core/apperror"
	"collab-jobs/core/models"
	"collab-jobs/core/repository"
)

func newFixture() *repository.MemoryStore {
	store := repository.NewMemoryStore()
	store.AddCollaboration(models.Collaboration{ID: "collab-1", OwnerOrgID: "org-a", Name: "Census"})
	store.AddParticipant(models.Participant{CollaborationID: "collab-1", OrgID: "org-b", Role: models.RoleConsumer})
	store.AddParticipant(models.Participant{CollaborationID: "collab-1", OrgID: "org-p", Role: models.RoleProvider})
	store.AddDataset(models.Dataset{ID: "ds-b", OrgID: "org-b"})
	store.AddConsent(models.Consent{DatasetID: "ds-b", Purpose: "aggregate"})
	store.AddDataset(models.Dataset{ID: "ds-a", OrgID: "org-a"})
	store.AddConsent(models.Consent{DatasetID: "ds-a", Purpose: "aggregate"})
	store.AddDataset(models.Dataset{ID: "ds-noconsent", OrgID: "org-b"})
	store.AddDataset(models.Dataset{ID: "ds-outsider", OrgID: "org-x"})
	store.AddConsent(models.Consent{DatasetID: "ds-outsider"})
	return store
}

func smpcInput(ids ...string) models.JobInput {
	return models.JobInput{
		Type: models.JobTypeSMPC,
		SMPC: &models.SMPCSpec{Operation: models.SMPCCount, DatasetIDs: ids},
	}
}

func TestAuthorizeJobCreation(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		collab  string
		jobType models.JobType
		input   models.JobInput
		want    Reason
		allowed bool
		dataset string
	}{
		{name: "owner admitted", caller: "org-a", collab: "collab-1", jobType: models.JobTypeSMPC, input: smpcInput("ds-b"), allowed: true},
		{name: "consumer admitted", caller: "org-b", collab: "collab-1", jobType: models.JobTypeSMPC, input: smpcInput("ds-a", "ds-b"), allowed: true},
		{name: "provider admitted for smpc", caller: "org-p", collab: "collab-1", jobType: models.JobTypeSMPC, input: smpcInput("ds-a"), allowed: true},
		{name: "unknown collaboration", caller: "org-a", collab: "missing", jobType: models.JobTypeSMPC, input: smpcInput("ds-b"), want: ReasonCollabNotFoundOrForbidden},
		{name: "outsider", caller: "org-x", collab: "collab-1", jobType: models.JobTypeSMPC, input: smpcInput("ds-b"), want: ReasonCollabNotFoundOrForbidden},
		{name: "provider forbidden for tee", caller: "org-p", collab: "collab-1", jobType: models.JobTypeTEE,
			input: models.JobInput{Type: models.JobTypeTEE, TEE: &models.TEESpec{Image: "img", DatasetIDs: []string{"ds-a"}}}, want: ReasonRoleForbidden},
		{name: "missing dataset", caller: "org-a", collab: "collab-1", jobType: models.JobTypeSMPC, input: smpcInput("ds-b", "nope"), want: ReasonDatasetNotFound, dataset: "nope"},
		{name: "dataset org outside", caller: "org-a", collab: "collab-1", jobType: models.JobTypeSMPC, input: smpcInput("ds-outsider"), want: ReasonDatasetOrgNotParticipant, dataset: "ds-outsider"},
		{name: "missing consent", caller: "org-a", collab: "collab-1", jobType: models.JobTypeSMPC, input: smpcInput("ds-b", "ds-noconsent"), want: ReasonMissingConsent, dataset: "ds-noconsent"},
	}

	engine := NewEngine(newFixture())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.AuthorizeJobCreation(context.Background(), tt.caller, tt.collab, tt.jobType, tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v (reason %s)", got.Allowed, tt.allowed, got.Reason)
			}
			if got.Reason != tt.want {
				t.Fatalf("reason = %q, want %q", got.Reason, tt.want)
			}
			if got.DatasetID != tt.dataset {
				t.Fatalf("dataset = %q, want %q", got.DatasetID, tt.dataset)
			}
		})
	}
}

func TestAuthorizeChecksShortCircuitInOrder(t *testing.T) {
	// The dataset is both missing consent and owned by an outsider; the
	// ownership check runs first.
	store := newFixture()
	store.AddDataset(models.Dataset{ID: "ds-both", OrgID: "org-x"})
	engine := NewEngine(store)

	got, err := engine.AuthorizeJobCreation(context.Background(), "org-a", "collab-1", models.JobTypeSMPC, smpcInput("ds-both"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reason != ReasonDatasetOrgNotParticipant {
		t.Fatalf("reason = %q, want %q", got.Reason, ReasonDatasetOrgNotParticipant)
	}
}

func TestDecisionErr(t *testing.T) {
	if err := Admit().Err(); err != nil {
		t.Fatalf("admit should not produce an error, got %v", err)
	}
	err := Deny(ReasonMissingConsent).Err()
	appErr, ok := apperror.As(err)
	if !ok {
		t.Fatalf("expected apperror, got %T", err)
	}
	if appErr.Status != 403 || appErr.Code != apperror.CodeMissingConsent {
		t.Fatalf("unexpected error %+v", appErr)
	}
}

type failingStore struct {
	repository.CollaborationStore
}

func (failingStore) GetCollaboration(ctx context.Context, id string) (*models.Collaboration, error) {
	return nil, errors.New("connection refused")
}

func TestAuthorizePropagatesStoreFailure(t *testing.T) {
	engine := NewEngine(failingStore{})
	_, err := engine.AuthorizeJobCreation(context.Background(), "org-a", "collab-1", models.JobTypeSMPC, smpcInput("ds-b"))
	if err == nil {
		t.Fatal("expected infrastructure error")
	}
}

package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"collab-jobs/core/models"
)

func TestSMPCStubCount(t *testing.T) {
	out, err := NewSMPCStub().Run(context.Background(), models.JobInput{
		Type: models.JobTypeSMPC,
		SMPC: &models.SMPCSpec{Operation: models.SMPCCount, DatasetIDs: []string{"ds-1"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Result["total"] != 1337 {
		t.Fatalf("total = %v, want 1337", out.Result["total"])
	}

	var artifact map[string]interface{}
	if err := json.Unmarshal(out.Artifact, &artifact); err != nil {
		t.Fatalf("artifact is not JSON: %v", err)
	}
	if artifact["operation"] != "COUNT" {
		t.Fatalf("unexpected artifact %v", artifact)
	}
}

func TestSMPCStubRejectsUnknownOperation(t *testing.T) {
	_, err := NewSMPCStub().Run(context.Background(), models.JobInput{
		Type: models.JobTypeSMPC,
		SMPC: &models.SMPCSpec{Operation: "MEDIAN", DatasetIDs: []string{"ds-1"}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSMPCStubRejectsWrongVariant(t *testing.T) {
	_, err := NewSMPCStub().Run(context.Background(), models.JobInput{
		Type: models.JobTypeTEE,
		TEE:  &models.TEESpec{Image: "x", DatasetIDs: []string{"ds-1"}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSMPCStubHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSMPCStub().Run(ctx, models.JobInput{
		Type: models.JobTypeSMPC,
		SMPC: &models.SMPCSpec{Operation: models.SMPCCount, DatasetIDs: []string{"ds-1"}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	if _, ok := r.Lookup(models.JobTypeSMPC); !ok {
		t.Fatal("expected SMPC adapter to be registered")
	}
	if _, ok := r.Lookup(models.JobTypeTEE); ok {
		t.Fatal("expected no TEE adapter")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	boom := AdapterFunc(func(ctx context.Context, input models.JobInput) (*Output, error) {
		panic("kaboom")
	})
	_, err := Run(context.Background(), boom, models.JobInput{})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

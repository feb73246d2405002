package spec

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"collab-jobs/core/models"
)

func TestParseJobInput(t *testing.T) {
	tests := []struct {
		name    string
		jobType models.JobType
		raw     string
		field   string // expected ValidationError field, empty for success
	}{
		{"count", models.JobTypeSMPC, `{"type":"SMPC","spec":{"operation":"COUNT","datasetIds":["d1","d2"]}}`, ""},
		{"type defaults to job type", models.JobTypeSMPC, `{"spec":{"operation":"AVG","field":"age","datasetIds":["d1"]}}`, ""},
		{"tee", models.JobTypeTEE, `{"type":"TEE","spec":{"image":"registry/enclave:1","datasetIds":["d1"]}}`, ""},
		{"type mismatch", models.JobTypeTEE, `{"type":"SMPC","spec":{"operation":"COUNT","datasetIds":["d1"]}}`, "input.type"},
		{"sum needs field", models.JobTypeSMPC, `{"type":"SMPC","spec":{"operation":"SUM","datasetIds":["d1"]}}`, "input.spec.field"},
		{"unknown operation", models.JobTypeSMPC, `{"type":"SMPC","spec":{"operation":"MEDIAN","datasetIds":["d1"]}}`, "input.spec.operation"},
		{"unknown field", models.JobTypeSMPC, `{"type":"SMPC","spec":{"operation":"COUNT","datasetIds":["d1"],"extra":1}}`, "input.spec"},
		{"no datasets", models.JobTypeSMPC, `{"type":"SMPC","spec":{"operation":"COUNT","datasetIds":[]}}`, "input.spec.datasetIds"},
		{"duplicate dataset", models.JobTypeSMPC, `{"type":"SMPC","spec":{"operation":"COUNT","datasetIds":["d1","d1"]}}`, "input.spec.datasetIds"},
		{"tee needs image", models.JobTypeTEE, `{"type":"TEE","spec":{"datasetIds":["d1"]}}`, "input.spec.image"},
		{"missing spec", models.JobTypeSMPC, `{"type":"SMPC"}`, "input.spec"},
		{"malformed", models.JobTypeSMPC, `{`, "input"},
		{"unknown type", "BATCH", `{"type":"BATCH","spec":{}}`, "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseJobInput(tt.jobType, []byte(tt.raw))
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if in.Type != tt.jobType || len(in.DatasetIDs()) == 0 {
					t.Fatalf("unexpected input %+v", in)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Fatalf("field = %s, want %s (%v)", vErr.Field, tt.field, err)
			}
		})
	}
}

func TestDatasetLimit(t *testing.T) {
	ids := make([]string, MaxDatasets+1)
	for i := range ids {
		ids[i] = fmt.Sprintf(`"d%d"`, i)
	}
	raw := `{"spec":{"operation":"COUNT","datasetIds":[` + strings.Join(ids, ",") + `]}}`
	if _, err := ParseJobInput(models.JobTypeSMPC, []byte(raw)); err == nil {
		t.Fatal("expected too many datasets to be rejected")
	}
}

func TestParseJobInputYAML(t *testing.T) {
	in, err := ParseJobInputYAML(models.JobTypeSMPC, []byte("type: SMPC\nspec:\n  operation: SUM\n  field: revenue\n  datasetIds: [a, b]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.SMPC.Field != "revenue" || len(in.SMPC.DatasetIDs) != 2 {
		t.Fatalf("unexpected input %+v", in.SMPC)
	}
}

func TestStoredInputRoundTrip(t *testing.T) {
	in := models.JobInput{Type: models.JobTypeTEE, TEE: &models.TEESpec{Image: "img", DatasetIDs: []string{"d1"}}}
	raw, err := MarshalInput(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := UnmarshalInput(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TEE == nil || out.TEE.Image != "img" || out.SMPC != nil {
		t.Fatalf("unexpected input %+v", out)
	}
}

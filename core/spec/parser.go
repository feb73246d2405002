package spec

import (
	"encoding/json"
	"fmt"
	"strings"

	"collab-jobs/core/models"

	"gopkg.in/yaml.v3"
)

// MaxDatasets bounds the number of datasets a single job may reference
const MaxDatasets = 16

// InputDocument is the wire form of a job input: {type, spec}
type InputDocument struct {
	Type models.JobType `json:"type" yaml:"type"`
	Spec json.RawMessage `json:"spec" yaml:"-"`
}

// ValidationError reports a job input that fails domain validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid job input: " + e.Reason
	}
	return fmt.Sprintf("invalid job input: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParseJobInput decodes a {type, spec} JSON document into a validated JobInput.
// jobType is the type declared on the job itself; the input must agree with it.
func ParseJobInput(jobType models.JobType, raw []byte) (models.JobInput, error) {
	var doc InputDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.JobInput{}, invalid("input", "malformed JSON: %v", err)
	}
	if doc.Type == "" {
		doc.Type = jobType
	}
	if doc.Type != jobType {
		return models.JobInput{}, invalid("input.type", "%q does not match job type %q", doc.Type, jobType)
	}
	if len(doc.Spec) == 0 || string(doc.Spec) == "null" {
		return models.JobInput{}, invalid("input.spec", "required")
	}

	in := models.JobInput{Type: jobType}
	switch jobType {
	case models.JobTypeSMPC:
		var s models.SMPCSpec
		if err := strictUnmarshal(doc.Spec, &s); err != nil {
			return models.JobInput{}, invalid("input.spec", "%v", err)
		}
		in.SMPC = &s
	case models.JobTypeTEE:
		var s models.TEESpec
		if err := strictUnmarshal(doc.Spec, &s); err != nil {
			return models.JobInput{}, invalid("input.spec", "%v", err)
		}
		in.TEE = &s
	default:
		return models.JobInput{}, invalid("type", "unsupported job type %q", jobType)
	}

	if err := Validate(in); err != nil {
		return models.JobInput{}, err
	}
	return in, nil
}

// ParseJobInputYAML accepts the same document written as YAML
func ParseJobInputYAML(jobType models.JobType, raw []byte) (models.JobInput, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return models.JobInput{}, invalid("input", "malformed YAML: %v", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return models.JobInput{}, invalid("input", "%v", err)
	}
	return ParseJobInput(jobType, asJSON)
}

// Validate checks the domain invariants of an input variant
func Validate(in models.JobInput) error {
	switch in.Type {
	case models.JobTypeSMPC:
		if in.SMPC == nil {
			return invalid("input.spec", "required")
		}
		switch in.SMPC.Operation {
		case models.SMPCCount:
		case models.SMPCSum, models.SMPCAvg:
			if strings.TrimSpace(in.SMPC.Field) == "" {
				return invalid("input.spec.field", "required for %s", in.SMPC.Operation)
			}
		default:
			return invalid("input.spec.operation", "unsupported operation %q", in.SMPC.Operation)
		}
		return validateDatasets(in.SMPC.DatasetIDs)
	case models.JobTypeTEE:
		if in.TEE == nil {
			return invalid("input.spec", "required")
		}
		if strings.TrimSpace(in.TEE.Image) == "" {
			return invalid("input.spec.image", "required")
		}
		return validateDatasets(in.TEE.DatasetIDs)
	}
	return invalid("type", "unsupported job type %q", in.Type)
}

func validateDatasets(ids []string) error {
	if len(ids) == 0 {
		return invalid("input.spec.datasetIds", "at least one dataset is required")
	}
	if len(ids) > MaxDatasets {
		return invalid("input.spec.datasetIds", "at most %d datasets allowed", MaxDatasets)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalid("input.spec.datasetIds", "empty dataset id")
		}
		if _, dup := seen[id]; dup {
			return invalid("input.spec.datasetIds", "duplicate dataset id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// MarshalInput serializes an input to its stored {type, spec} form
func MarshalInput(in models.JobInput) ([]byte, error) {
	specJSON, err := json.Marshal(in.Spec())
	if err != nil {
		return nil, err
	}
	return json.Marshal(InputDocument{Type: in.Type, Spec: specJSON})
}

// UnmarshalInput restores a stored input without re-validating it
func UnmarshalInput(raw []byte) (models.JobInput, error) {
	var doc InputDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.JobInput{}, fmt.Errorf("failed to decode stored input: %w", err)
	}
	in := models.JobInput{Type: doc.Type}
	switch doc.Type {
	case models.JobTypeSMPC:
		in.SMPC = &models.SMPCSpec{}
		if err := json.Unmarshal(doc.Spec, in.SMPC); err != nil {
			return models.JobInput{}, fmt.Errorf("failed to decode stored SMPC spec: %w", err)
		}
	case models.JobTypeTEE:
		in.TEE = &models.TEESpec{}
		if err := json.Unmarshal(doc.Spec, in.TEE); err != nil {
			return models.JobInput{}, fmt.Errorf("failed to decode stored TEE spec: %w", err)
		}
	default:
		return models.JobInput{}, fmt.Errorf("stored input has unknown type %q", doc.Type)
	}
	return in, nil
}

// InputMap renders an input as a generic {type, spec} map for API responses
func InputMap(in models.JobInput) map[string]interface{} {
	return map[string]interface{}{
		"type": in.Type,
		"spec": in.Spec(),
	}
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

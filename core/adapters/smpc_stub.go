package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"collab-jobs/core/models"
)

// stubTotal is the fixed aggregate the stub reports for COUNT
const stubTotal = 1337

// SMPCStub simulates a secure multi-party aggregate. It returns deterministic
// values so callers can exercise the full lifecycle without a real protocol.
type SMPCStub struct{}

// NewSMPCStub creates the stub adapter
func NewSMPCStub() *SMPCStub {
	return &SMPCStub{}
}

// Run implements Adapter
func (s *SMPCStub) Run(ctx context.Context, input models.JobInput) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input.Type != models.JobTypeSMPC || input.SMPC == nil {
		return nil, &ValidationError{Message: fmt.Sprintf("SMPC adapter cannot run %s input", input.Type)}
	}

	spec := input.SMPC
	if len(spec.DatasetIDs) == 0 {
		return nil, &ValidationError{Message: "no datasets"}
	}

	result := map[string]interface{}{
		"operation": string(spec.Operation),
		"datasets":  len(spec.DatasetIDs),
	}
	switch spec.Operation {
	case models.SMPCCount:
		result["total"] = stubTotal
	case models.SMPCSum:
		result["field"] = spec.Field
		result["total"] = stubTotal * len(spec.DatasetIDs)
	case models.SMPCAvg:
		result["field"] = spec.Field
		result["mean"] = float64(stubTotal) / 100
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("unsupported operation %q", spec.Operation)}
	}

	artifact, err := json.MarshalIndent(map[string]interface{}{
		"operation":  spec.Operation,
		"datasetIds": spec.DatasetIDs,
		"result":     result,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	return &Output{Result: result, Artifact: artifact}, nil
}

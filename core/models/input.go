package models

// SMPCOperation is the aggregate an SMPC job computes
type SMPCOperation string

const (
	SMPCCount SMPCOperation = "COUNT"
	SMPCSum   SMPCOperation = "SUM"
	SMPCAvg   SMPCOperation = "AVG"
)

// SMPCSpec is the input of an SMPC job
type SMPCSpec struct {
	Operation  SMPCOperation `json:"operation"`
	DatasetIDs []string      `json:"datasetIds"`
	Field      string        `json:"field,omitempty"`
}

// TEESpec is the input of a trusted-execution job
type TEESpec struct {
	Image      string   `json:"image"`
	DatasetIDs []string `json:"datasetIds"`
}

// JobInput is a tagged union keyed by job type. Exactly one of the variant
// fields is set, matching Type.
type JobInput struct {
	Type JobType
	SMPC *SMPCSpec
	TEE  *TEESpec
}

// DatasetIDs returns the datasets referenced by the input, in spec order
func (in JobInput) DatasetIDs() []string {
	switch {
	case in.SMPC != nil:
		return in.SMPC.DatasetIDs
	case in.TEE != nil:
		return in.TEE.DatasetIDs
	}
	return nil
}

// Spec returns the active variant
func (in JobInput) Spec() interface{} {
	switch in.Type {
	case JobTypeSMPC:
		return in.SMPC
	case JobTypeTEE:
		return in.TEE
	}
	return nil
}

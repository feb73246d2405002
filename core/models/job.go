package models

import "time"

// Job represents one computation request submitted to a collaboration
type Job struct {
	ID              string
	CollaborationID string
	CreatedByOrgID  string // Org that submitted the job
	Type            JobType
	Status          JobStatus
	Input           JobInput // Immutable after creation
	ArtifactURI     *string  // Set once, on terminal transition
	Result          map[string]interface{}
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// JobType selects the adapter that executes a job
type JobType string

const (
	JobTypeSMPC JobType = "SMPC"
	JobTypeTEE  JobType = "TEE"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobTypeSMPC, JobTypeTEE:
		return true
	}
	return false
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCanceled  JobStatus = "CANCELED"
)

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition may leave s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

var transitions = map[JobStatus]map[JobStatus]struct{}{
	JobStatusPending: {
		JobStatusRunning:  {},
		JobStatusCanceled: {},
	},
	JobStatusRunning: {
		JobStatusSucceeded: {},
		JobStatusFailed:    {},
		JobStatusCanceled:  {},
	},
	JobStatusSucceeded: {},
	JobStatusFailed:    {},
	JobStatusCanceled:  {},
}

// CanTransition reports whether from -> to is an edge of the job state machine
func CanTransition(from, to JobStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// CanOverwrite reports whether an out-of-band callback may move a job from
// `from` to `to`. Callbacks skip the RUNNING requirement but never leave a
// terminal state.
func CanOverwrite(from, to JobStatus) bool {
	if !from.Valid() || from.IsTerminal() {
		return false
	}
	return to == JobStatusSucceeded || to == JobStatusFailed
}

// NonTerminalStatuses lists the statuses a job can still leave
func NonTerminalStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning}
}

// JobFilter restricts a job listing to the caller's scope
type JobFilter struct {
	CallerOrgID     string
	Type            *JobType
	Status          *JobStatus
	CollaborationID string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Query           string // Job id prefix
	Page            int
	PageSize        int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging parameters to their allowed range
func (f *JobFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset returns the row offset of the current page
func (f JobFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// JobPage is one page of a job listing
type JobPage struct {
	Jobs       []*Job
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// NewJobPage computes the page count for a listing
func NewJobPage(jobs []*Job, total int, f JobFilter) *JobPage {
	if jobs == nil {
		jobs = []*Job{}
	}
	pages := 0
	if f.PageSize > 0 {
		pages = (total + f.PageSize - 1) / f.PageSize
	}
	return &JobPage{
		Jobs:       jobs,
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: pages,
	}
}

package models

import "time"

// EventType classifies a job event
type EventType string

const (
	EventQueued       EventType = "QUEUED"
	EventStarted      EventType = "STARTED"
	EventProgress     EventType = "PROGRESS"
	EventCompleted    EventType = "COMPLETED"
	EventFailed       EventType = "FAILED"
	EventCanceled     EventType = "CANCELED"
	EventCallback     EventType = "CALLBACK"
	EventStatusChange EventType = "STATUS_CHANGE"
)

// JobEvent is an append-only record of a job's progress or status transition.
// OldStatus and NewStatus are only set on transition-bearing events.
type JobEvent struct {
	ID        string
	JobID     string
	Type      EventType
	OldStatus *JobStatus
	NewStatus *JobStatus
	Data      map[string]interface{}
	CreatedAt time.Time
}

// IsTransition reports whether the event records a status change
func (e JobEvent) IsTransition() bool {
	return e.NewStatus != nil
}

// StatusPtr returns a pointer to a copy of s
func StatusPtr(s JobStatus) *JobStatus {
	return &s
}

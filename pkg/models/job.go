package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state reported by the endpoint service.
type JobStatus string

const (
	StatusInQueue    JobStatus = "IN_QUEUE"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
	StatusTimedOut   JobStatus = "TIMED_OUT"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{
	StatusInQueue,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusTimedOut,
}

// IsTerminal reports whether no further state change can follow s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Succeeded reports whether s is the single successful terminal status.
func (s JobStatus) Succeeded() bool {
	return s == StatusCompleted
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Job is the service-side record of a submitted unit of work. Clients never
// see it directly; they receive JobResult snapshots built from it.
type Job struct {
	ID            string           `db:"id"             json:"id"`
	EndpointID    string           `db:"endpoint_id"    json:"endpoint_id"`
	Status        JobStatus        `db:"status"         json:"status"`
	Input         json.RawMessage  `db:"input"          json:"input"`
	Policy        *ExecutionPolicy `db:"policy"         json:"policy,omitempty"`
	Webhook       string           `db:"webhook"        json:"webhook,omitempty"`
	Output        json.RawMessage  `db:"output"         json:"output,omitempty"`
	ErrorMessage  string           `db:"error_message"  json:"error,omitempty"`
	DelayTime     int64            `db:"delay_time"     json:"delay_time"`
	ExecutionTime int64            `db:"execution_time" json:"execution_time"`
	StartedAt     *time.Time       `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time       `db:"completed_at"   json:"completed_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"     json:"updated_at"`
}

// Snapshot renders the wire view of j. Output and timings are only present
// once the job has reached a terminal status.
func (j *Job) Snapshot() JobResult {
	res := JobResult{
		ID:     j.ID,
		Status: j.Status,
	}
	if j.Status.IsTerminal() {
		res.Output = j.Output
		res.Error = j.ErrorMessage
		res.DelayTime = j.DelayTime
		res.ExecutionTime = j.ExecutionTime
	}
	return res
}

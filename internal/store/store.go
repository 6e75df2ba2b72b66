package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/kiranshivaraju/jobclient/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All job persistence goes through here.
// Implementations must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string, endpointID string) (*models.Job, error)
	// UpdateJobStatus moves a job along the transition table and returns the
	// updated record. The check and the write are atomic.
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error)

	AppendStreamChunk(ctx context.Context, jobID string, output json.RawMessage) error
	// TakeStreamChunks returns the chunks appended since the previous call, in
	// append order, and marks them delivered.
	TakeStreamChunks(ctx context.Context, jobID string) ([]json.RawMessage, error)

	CountJobsByStatus(ctx context.Context, endpointID string) (map[models.JobStatus]int, error)
	// PurgeQueued deletes every IN_QUEUE job of the endpoint and returns their ids.
	PurgeQueued(ctx context.Context, endpointID string) ([]string, error)
}

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.StatusInQueue:    {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusFailed, models.StatusCancelled, models.StatusTimedOut},
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to models.JobStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// predecessors lists the statuses a job may be in before moving to status.
func predecessors(status models.JobStatus) []string {
	var out []string
	for from, tos := range validTransitions {
		if slices.Contains(tos, status) {
			out = append(out, string(from))
		}
	}
	slices.Sort(out)
	return out
}

type jobUpdateParams struct {
	Output        json.RawMessage
	ErrorMessage  *string
	DelayTime     *int64
	ExecutionTime *int64
}

type JobUpdateOption func(*jobUpdateParams)

func WithOutput(output json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Output = output
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// WithDelayTime records the queue wait in milliseconds.
func WithDelayTime(ms int64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.DelayTime = &ms
	}
}

// WithExecutionTime records the time spent running in milliseconds.
func WithExecutionTime(ms int64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ExecutionTime = &ms
	}
}

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

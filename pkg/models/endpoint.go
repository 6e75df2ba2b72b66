// Package models contains the wire and domain types shared by the endpoint
// client and the simulated endpoint service.
package models

import (
	"encoding/json"
	"fmt"
)

// ExecutionPolicy is forwarded to the service with a submission. The client
// never enforces it.
type ExecutionPolicy struct {
	ExecutionTimeout int64 `json:"executionTimeout,omitempty"` // ms
	TTL              int64 `json:"ttl,omitempty"`              // ms
}

// S3Config lets the service upload large outputs to a bucket instead of
// returning them inline.
type S3Config struct {
	AccessID     string `json:"accessId"`
	AccessSecret string `json:"accessSecret"`
	BucketName   string `json:"bucketName"`
	EndpointURL  string `json:"endpointUrl"`
}

// RunRequest is the body of run and runsync submissions.
type RunRequest struct {
	Input    any              `json:"input"`
	Webhook  string           `json:"webhook,omitempty"`
	S3Config *S3Config        `json:"s3Config,omitempty"`
	Policy   *ExecutionPolicy `json:"policy,omitempty"`
}

// JobResult is a normalized snapshot of a job as returned by the
// status-bearing operations. Started, Completed and Succeeded are derived
// client-side from Status; they are never sent by the service.
type JobResult struct {
	ID            string          `json:"id"`
	Status        JobStatus       `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	DelayTime     int64           `json:"delayTime,omitempty"`
	ExecutionTime int64           `json:"executionTime,omitempty"`

	Started   bool `json:"started,omitempty"`
	Completed bool `json:"completed,omitempty"`
	Succeeded bool `json:"succeeded,omitempty"`
}

// DecodeOutput unmarshals the job output into v.
func (r *JobResult) DecodeOutput(v any) error {
	if len(r.Output) == 0 {
		return fmt.Errorf("job %s has no output", r.ID)
	}
	return json.Unmarshal(r.Output, v)
}

// StreamChunk is one incremental output fragment.
type StreamChunk struct {
	Output json.RawMessage `json:"output"`
}

// StreamResult is the body of a single stream fetch.
type StreamResult struct {
	ID     string        `json:"id,omitempty"`
	Status JobStatus     `json:"status"`
	Stream []StreamChunk `json:"stream"`
}

// JobCounts is the per-status breakdown reported by the health operation.
type JobCounts struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"inProgress"`
	InQueue    int `json:"inQueue"`
	Retried    int `json:"retried"`
}

// WorkerCounts reports endpoint worker occupancy.
type WorkerCounts struct {
	Idle    int `json:"idle"`
	Running int `json:"running"`
}

// HealthResult is the body of the health operation.
type HealthResult struct {
	Jobs    JobCounts    `json:"jobs"`
	Workers WorkerCounts `json:"workers"`
}

// PurgeResult is the body of the purge-queue operation.
type PurgeResult struct {
	Removed int    `json:"removed"`
	Status  string `json:"status"`
}

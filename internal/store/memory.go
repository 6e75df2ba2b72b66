package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/jobclient/pkg/models"
)

// MemoryStore keeps jobs in process memory. It is the default backend of the
// simulated service and loses everything on restart.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	chunks map[string][]json.RawMessage
	cursor map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*models.Job),
		chunks: make(map[string][]json.RawMessage),
		cursor: make(map[string]int),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string, endpointID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.EndpointID != endpointID {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(j.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status == models.StatusInProgress {
		j.StartedAt = &now
	}
	if status.IsTerminal() {
		j.CompletedAt = &now
	}
	if params.Output != nil {
		j.Output = params.Output
	}
	if params.ErrorMessage != nil {
		j.ErrorMessage = *params.ErrorMessage
	}
	if params.DelayTime != nil {
		j.DelayTime = *params.DelayTime
	}
	if params.ExecutionTime != nil {
		j.ExecutionTime = *params.ExecutionTime
	}

	cp := *j
	return &cp, nil
}

func (s *MemoryStore) AppendStreamChunk(ctx context.Context, jobID string, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	s.chunks[jobID] = append(s.chunks[jobID], output)
	return nil
}

func (s *MemoryStore) TakeStreamChunks(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, ErrNotFound
	}
	all := s.chunks[jobID]
	from := s.cursor[jobID]
	if from >= len(all) {
		return nil, nil
	}
	s.cursor[jobID] = len(all)
	return append([]json.RawMessage(nil), all[from:]...), nil
}

func (s *MemoryStore) CountJobsByStatus(ctx context.Context, endpointID string) (map[models.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.JobStatus]int)
	for _, j := range s.jobs {
		if j.EndpointID == endpointID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) PurgeQueued(ctx context.Context, endpointID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, j := range s.jobs {
		if j.EndpointID == endpointID && j.Status == models.StatusInQueue {
			ids = append(ids, id)
			delete(s.jobs, id)
			delete(s.chunks, id)
			delete(s.cursor, id)
		}
	}
	return ids, nil
}

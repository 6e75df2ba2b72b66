// Package simulator runs a local stand-in for the remote endpoint service.
// Jobs are persisted through store.Store, executed by an Executor on a
// bounded worker pool, and observed through long-poll helpers that mirror
// the service's bounded-wait semantics.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobclient/internal/cache"
	"github.com/kiranshivaraju/jobclient/internal/store"
	"github.com/kiranshivaraju/jobclient/pkg/models"
)

const (
	statusTTL      = 30 * time.Minute
	snapshotTTL    = 30 * time.Minute
	peekInterval   = 250 * time.Millisecond
	syncIDPrefix   = "sync-"
	purgeCompleted = "completed"
)

// Options sizes the simulator.
type Options struct {
	Workers    int
	StreamHold time.Duration
}

// Simulator owns every running job goroutine. Create it with New and stop
// it with Close.
type Simulator struct {
	store      store.Store
	cache      cache.Cache
	executor   Executor
	logger     *slog.Logger
	workers    int
	streamHold time.Duration

	slots chan struct{}
	busy  atomic.Int64

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	watchers map[string]*watcher
}

// New creates a Simulator. A nil logger uses slog.Default().
func New(st store.Store, ca cache.Cache, exec Executor, opts Options, logger *slog.Logger) *Simulator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.StreamHold <= 0 {
		opts.StreamHold = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Simulator{
		store:      st,
		cache:      ca,
		executor:   exec,
		logger:     logger,
		workers:    opts.Workers,
		streamHold: opts.StreamHold,
		slots:      make(chan struct{}, opts.Workers),
		ctx:        ctx,
		stop:       stop,
		running:    make(map[string]context.CancelFunc),
		watchers:   make(map[string]*watcher),
	}
}

// Close stops accepting jobs, cancels every job goroutine and waits for them.
// Jobs interrupted this way keep their last persisted status.
func (s *Simulator) Close() {
	s.closed.Store(true)
	s.stop()
	s.wg.Wait()
}

// Submit records a new IN_QUEUE job and schedules it. Jobs submitted for a
// synchronous run get ids prefixed with "sync-".
func (s *Simulator) Submit(ctx context.Context, endpointID string, req models.RunRequest, synchronous bool) (*models.Job, error) {
	if s.closed.Load() {
		return nil, ErrSimulatorDown
	}
	if req.Input == nil {
		return nil, fmt.Errorf("%w: input is required", ErrInvalidInput)
	}
	input, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.Policy != nil && req.Policy.ExecutionTimeout < 0 {
		return nil, fmt.Errorf("%w: executionTimeout must not be negative", ErrInvalidInput)
	}

	id := uuid.NewString()
	if synchronous {
		id = syncIDPrefix + id
	}
	now := time.Now().UTC()
	job := &models.Job{
		ID:         id,
		EndpointID: endpointID,
		Status:     models.StatusInQueue,
		Input:      input,
		Policy:     req.Policy,
		Webhook:    req.Webhook,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	if err := s.cache.SetJobStatus(ctx, id, models.StatusInQueue, statusTTL); err != nil {
		s.logger.Warn("caching job status failed", "job_id", id, "error", err)
	}
	transitionsTotal.WithLabelValues(string(models.StatusInQueue)).Inc()

	jobCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(jobCtx, job)

	s.logger.Info("job submitted", "endpoint_id", endpointID, "job_id", id, "sync", synchronous)
	return job, nil
}

// run drives one job from IN_QUEUE to a terminal status. It recovers from
// executor panics and always releases its worker slot.
func (s *Simulator) run(ctx context.Context, job *models.Job) {
	defer s.wg.Done()
	defer s.release(job.ID)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in job execution", "error", r, "job_id", job.ID)
			_, _ = s.transition(job.ID, models.StatusFailed, store.WithErrorMessage(fmt.Sprintf("panic: %v", r)))
		}
	}()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		// Cancelled or purged while queued.
		return
	}
	workersBusy.Set(float64(s.busy.Add(1)))
	defer func() {
		workersBusy.Set(float64(s.busy.Add(-1)))
		<-s.slots
	}()

	delay := time.Since(job.CreatedAt).Milliseconds()
	if _, err := s.transition(job.ID, models.StatusInProgress, store.WithDelayTime(delay)); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("starting job failed", "job_id", job.ID, "error", err)
		}
		return
	}

	execCtx := ctx
	if job.Policy != nil && job.Policy.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(job.Policy.ExecutionTimeout)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	output, err := s.executor.Execute(execCtx, job.Input, func(chunk json.RawMessage) error {
		if err := s.store.AppendStreamChunk(context.Background(), job.ID, chunk); err != nil {
			return fmt.Errorf("appending stream chunk: %w", err)
		}
		s.notify(job.ID)
		return nil
	})
	elapsed := time.Since(start)
	executionSeconds.Observe(elapsed.Seconds())
	took := store.WithExecutionTime(elapsed.Milliseconds())

	switch {
	case ctx.Err() != nil:
		// Cancel already recorded CANCELLED, or the simulator is closing.
		return
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		_, err = s.transition(job.ID, models.StatusTimedOut, took,
			store.WithErrorMessage("execution timeout exceeded"))
	case err != nil:
		_, err = s.transition(job.ID, models.StatusFailed, took, store.WithErrorMessage(err.Error()))
	default:
		if output == nil {
			output = json.RawMessage("null")
		}
		_, err = s.transition(job.ID, models.StatusCompleted, took, store.WithOutput(output))
	}
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		s.logger.Error("finishing job failed", "job_id", job.ID, "error", err)
	}
}

// transition persists a status change, refreshes the cache and wakes waiters.
func (s *Simulator) transition(id string, status models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	ctx := context.Background()
	job, err := s.store.UpdateJobStatus(ctx, id, status, opts...)
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(status)).Inc()

	if err := s.cache.SetJobStatus(ctx, id, status, statusTTL); err != nil {
		s.logger.Warn("caching job status failed", "job_id", id, "error", err)
	}
	if status.IsTerminal() {
		if b, err := json.Marshal(job); err == nil {
			if err := s.cache.Set(ctx, cache.JobSnapshotKey(id), b, snapshotTTL); err != nil {
				s.logger.Warn("caching job snapshot failed", "job_id", id, "error", err)
			}
		}
	}
	s.notify(id)

	s.logger.Debug("job transition", "job_id", id, "status", status)
	return job, nil
}

// release forgets the job's cancel func once its goroutine exits.
func (s *Simulator) release(id string) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// interrupt cancels the goroutine of a job, if it is still running.
func (s *Simulator) interrupt(id string) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Job returns the current record of a job, preferring the cached terminal
// snapshot when one exists.
func (s *Simulator) Job(ctx context.Context, endpointID, id string) (*models.Job, error) {
	if b, ok, err := s.cache.Get(ctx, cache.JobSnapshotKey(id)); err == nil && ok {
		var job models.Job
		if json.Unmarshal(b, &job) == nil && job.EndpointID == endpointID {
			return &job, nil
		}
	}
	job, err := s.store.GetJob(ctx, id, endpointID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// Cancel moves a non-terminal job to CANCELLED and stops its execution. A
// job that is already terminal is returned unchanged.
func (s *Simulator) Cancel(ctx context.Context, endpointID, id string) (*models.Job, error) {
	job, err := s.Job(ctx, endpointID, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	cancelled, err := s.transition(id, models.StatusCancelled)
	switch {
	case err == nil:
		s.interrupt(id)
		s.logger.Info("job cancelled", "endpoint_id", endpointID, "job_id", id)
		return cancelled, nil
	case errors.Is(err, store.ErrInvalidTransition):
		// Finished between the read and the update.
		return s.Job(ctx, endpointID, id)
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrJobNotFound
	default:
		return nil, fmt.Errorf("cancelling job: %w", err)
	}
}

// Purge removes every queued job of the endpoint.
func (s *Simulator) Purge(ctx context.Context, endpointID string) (*models.PurgeResult, error) {
	ids, err := s.store.PurgeQueued(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("purging queue: %w", err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		s.interrupt(id)
		s.notify(id)
		keys = append(keys, cache.JobStatusKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("dropping purged job statuses failed", "error", err)
	}

	s.logger.Info("queue purged", "endpoint_id", endpointID, "removed", len(ids))
	return &models.PurgeResult{Removed: len(ids), Status: purgeCompleted}, nil
}

// Health reports job counts for the endpoint and the worker pool occupancy.
func (s *Simulator) Health(ctx context.Context, endpointID string) (*models.HealthResult, error) {
	counts, err := s.store.CountJobsByStatus(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	busy := int(s.busy.Load())
	return &models.HealthResult{
		Jobs: models.JobCounts{
			Completed:  counts[models.StatusCompleted],
			Failed:     counts[models.StatusFailed] + counts[models.StatusTimedOut],
			InProgress: counts[models.StatusInProgress],
			InQueue:    counts[models.StatusInQueue],
		},
		Workers: models.WorkerCounts{
			Idle:    s.workers - busy,
			Running: busy,
		},
	}, nil
}

package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/jobclient/internal/store"
	"github.com/kiranshivaraju/jobclient/pkg/models"
)

// watcher is the change channel shared by every waiter on one job.
type watcher struct {
	ch   chan struct{}
	refs int
}

// watch returns a channel that is closed on the next change to job id, and
// a func that releases the subscription. The entry is dropped once its last
// waiter releases it or a change is notified.
func (s *Simulator) watch(id string) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watchers[id]
	if !ok {
		w = &watcher{ch: make(chan struct{})}
		s.watchers[id] = w
	}
	w.refs++

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			w.refs--
			if w.refs == 0 && s.watchers[id] == w {
				delete(s.watchers, id)
			}
		})
	}
}

func (s *Simulator) notify(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watchers[id]; ok {
		close(w.ch)
		delete(s.watchers, id)
	}
}

// WaitTerminal blocks until the job reaches a terminal status or wait
// elapses, and returns the latest record either way.
func (s *Simulator) WaitTerminal(ctx context.Context, endpointID, id string, wait time.Duration) (*models.Job, error) {
	return s.await(ctx, endpointID, id, wait, func(_, cur *models.Job) bool {
		return cur.Status.IsTerminal()
	})
}

// WaitChange blocks until the job's status differs from the status it had
// on entry, or wait elapses. Terminal jobs return immediately.
func (s *Simulator) WaitChange(ctx context.Context, endpointID, id string, wait time.Duration) (*models.Job, error) {
	return s.await(ctx, endpointID, id, wait, func(first, cur *models.Job) bool {
		return cur.Status.IsTerminal() || cur.Status != first.Status
	})
}

func (s *Simulator) await(ctx context.Context, endpointID, id string, wait time.Duration, done func(first, cur *models.Job) bool) (*models.Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(peekInterval)
	defer ticker.Stop()

	var first *models.Job
	for {
		// Subscribe before reading so a change in between is not missed.
		changed, release := s.watch(id)
		cur, err := s.Job(ctx, endpointID, id)
		if err != nil {
			release()
			return nil, err
		}
		if first == nil {
			first = cur
		}
		if done(first, cur) {
			release()
			return cur, nil
		}

		woke := s.sleepUntilChange(ctx, id, cur.Status, changed, ticker.C, timer.C)
		release()
		if !woke {
			return cur, ctx.Err()
		}
	}
}

// sleepUntilChange waits for a local notification or for the shared cache
// to report a status other than last, which covers changes made by another
// simulator instance on the same store. It returns false once the timer
// fires or ctx is done.
func (s *Simulator) sleepUntilChange(ctx context.Context, id string, last models.JobStatus,
	changed <-chan struct{}, tick <-chan time.Time, deadline <-chan time.Time) bool {
	for {
		select {
		case <-changed:
			return true
		case <-tick:
			status, ok, err := s.cache.GetJobStatus(ctx, id)
			if err != nil || !ok || status != last {
				return true
			}
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Stream returns the chunks produced since the previous fetch. When none are
// pending it holds the request until a chunk arrives, the job reaches a
// terminal status, or the stream hold elapses.
func (s *Simulator) Stream(ctx context.Context, endpointID, id string) (*models.StreamResult, error) {
	timer := time.NewTimer(s.streamHold)
	defer timer.Stop()
	ticker := time.NewTicker(peekInterval)
	defer ticker.Stop()

	for {
		changed, release := s.watch(id)
		// Status is read before taking chunks: executors emit every chunk
		// before the terminal transition, so a terminal status here means no
		// chunk can be left behind.
		job, err := s.Job(ctx, endpointID, id)
		if err != nil {
			release()
			return nil, err
		}
		raw, err := s.store.TakeStreamChunks(ctx, id)
		if err != nil {
			release()
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrJobNotFound
			}
			return nil, fmt.Errorf("taking stream chunks: %w", err)
		}

		res := &models.StreamResult{ID: id, Status: job.Status, Stream: make([]models.StreamChunk, 0, len(raw))}
		for _, r := range raw {
			res.Stream = append(res.Stream, models.StreamChunk{Output: r})
		}
		if len(raw) > 0 || job.Status.IsTerminal() {
			release()
			return res, nil
		}

		woke := s.sleepUntilChange(ctx, id, job.Status, changed, ticker.C, timer.C)
		release()
		if !woke {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return res, nil
		}
	}
}

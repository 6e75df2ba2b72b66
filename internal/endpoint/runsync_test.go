package endpoint

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobclient/internal/config"
	"github.com/kiranshivaraju/jobclient/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClampWait(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{-time.Second, config.MinPollWait},
		{0, config.MinPollWait},
		{999 * time.Millisecond, config.MinPollWait},
		{time.Second, time.Second},
		{45 * time.Second, 45 * time.Second},
		{90 * time.Second, 90 * time.Second},
		{90*time.Second + time.Millisecond, config.MaxPollWait},
		{time.Hour, config.MaxPollWait},
	}
	for _, tt := range tests {
		got := ClampWait(tt.in)
		if got != tt.want {
			t.Errorf("ClampWait(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got < config.MinPollWait || got > config.MaxPollWait {
			t.Errorf("ClampWait(%v) = %v escapes bounds", tt.in, got)
		}
	}
}

func TestWaitBudget_Precedence(t *testing.T) {
	c := New(config.ClientConfig{APIKey: "k", EndpointID: "e", WaitTimeout: 42 * time.Second})
	withPolicy := models.RunRequest{Policy: &models.ExecutionPolicy{ExecutionTimeout: 3000}}

	if got := c.WaitBudget(withPolicy, 5*time.Second); got != 5*time.Second {
		t.Errorf("caller timeout should win, got %v", got)
	}
	if got := c.WaitBudget(withPolicy, 0); got != 3*time.Second {
		t.Errorf("policy timeout should apply, got %v", got)
	}
	if got := c.WaitBudget(models.RunRequest{}, 0); got != 42*time.Second {
		t.Errorf("client default should apply, got %v", got)
	}
	if got := New(config.ClientConfig{}).WaitBudget(models.RunRequest{}, 0); got != config.DefaultWaitTimeout {
		t.Errorf("package default should apply, got %v", got)
	}
}

// scriptedJob answers runsync and status-sync from a fixed status sequence.
type scriptedJob struct {
	mu       sync.Mutex
	statuses []models.JobStatus
	waits    []string
	requests atomic.Int64
}

func (s *scriptedJob) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.mu.Lock()
		s.waits = append(s.waits, r.URL.Query().Get("wait"))
		status := s.statuses[0]
		if len(s.statuses) > 1 {
			s.statuses = s.statuses[1:]
		}
		s.mu.Unlock()

		body := map[string]any{"id": "job-1", "status": status}
		if status == models.StatusCompleted {
			body["output"] = map[string]string{"answer": "42"}
			body["executionTime"] = 1500
		}
		writeJSON(w, body)
	}
}

func TestRunSync_PollsUntilCompleted(t *testing.T) {
	job := &scriptedJob{statuses: []models.JobStatus{
		models.StatusInQueue, models.StatusInProgress, models.StatusInProgress, models.StatusCompleted,
	}}
	ts := endpointServer(t, job.handler(t))
	c := newTestClient(t, ts.URL)

	before := testutil.ToFloat64(pollsTotal)
	res, err := c.RunSync(context.Background(), models.RunRequest{Input: map[string]string{"prompt": "x"}}, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusCompleted || !res.Completed || !res.Succeeded {
		t.Errorf("unexpected result: %+v", res)
	}
	var out map[string]string
	if err := res.DecodeOutput(&out); err != nil || out["answer"] != "42" {
		t.Errorf("unexpected output %s (%v)", res.Output, err)
	}
	if got := job.requests.Load(); got != 4 {
		t.Errorf("expected 1 submission + 3 polls, got %d requests", got)
	}
	if got := testutil.ToFloat64(pollsTotal) - before; got != 3 {
		t.Errorf("expected 3 polls recorded, got %v", got)
	}
}

func TestRunSync_TerminalFailuresAreValues(t *testing.T) {
	for _, status := range []models.JobStatus{models.StatusFailed, models.StatusCancelled, models.StatusTimedOut} {
		t.Run(string(status), func(t *testing.T) {
			job := &scriptedJob{statuses: []models.JobStatus{models.StatusInProgress, status}}
			ts := endpointServer(t, job.handler(t))
			c := newTestClient(t, ts.URL)

			res, err := c.RunSync(context.Background(), models.RunRequest{Input: 1}, 10*time.Second)
			if err != nil {
				t.Fatalf("terminal failure must not be an error: %v", err)
			}
			if !res.Completed || res.Succeeded || res.Status != status {
				t.Errorf("unexpected result: %+v", res)
			}
		})
	}
}

func TestRunSync_EveryWaitIsClamped(t *testing.T) {
	job := &scriptedJob{statuses: []models.JobStatus{
		models.StatusInQueue, models.StatusInProgress, models.StatusCompleted,
	}}
	ts := endpointServer(t, job.handler(t))
	c := newTestClient(t, ts.URL)

	if _, err := c.RunSync(context.Background(), models.RunRequest{Input: 1}, 10*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.waits[0] != "90000" {
		t.Errorf("submission wait should be capped at 90000, got %s", job.waits[0])
	}
	for i, w := range job.waits {
		ms, err := strconv.Atoi(w)
		if err != nil {
			t.Fatalf("request %d: bad wait %q", i, w)
		}
		if ms < 1000 || ms > 90000 {
			t.Errorf("request %d: wait %d outside [1000, 90000]", i, ms)
		}
	}
}

func TestRunSync_LocalTimeoutStopsPolling(t *testing.T) {
	var requests atomic.Int64
	ts := endpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(10 * time.Millisecond)
		writeJSON(w, map[string]any{"id": "job-slow", "status": "IN_PROGRESS"})
	})
	c := newTestClient(t, ts.URL)

	budget := 150 * time.Millisecond
	before := testutil.ToFloat64(localTimeoutsTotal.WithLabelValues(driverRunSync))
	start := time.Now()
	res, err := c.RunSync(context.Background(), models.RunRequest{Input: 1}, budget)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("local timeout must not be an error: %v", err)
	}
	if res.Completed || res.Succeeded {
		t.Errorf("expected completed=false, got %+v", res)
	}
	if res.ID != "job-slow" || res.Status != models.StatusInProgress {
		t.Errorf("expected last snapshot, got %+v", res)
	}
	if elapsed > budget+500*time.Millisecond {
		t.Errorf("returned too late: %v", elapsed)
	}
	if got := testutil.ToFloat64(localTimeoutsTotal.WithLabelValues(driverRunSync)) - before; got != 1 {
		t.Errorf("expected one local timeout recorded, got %v", got)
	}

	issued := requests.Load()
	time.Sleep(100 * time.Millisecond)
	if requests.Load() != issued {
		t.Errorf("polls continued after return: %d -> %d", issued, requests.Load())
	}
}

func TestRunSync_PolicyTimeoutAgainstLongJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-second timing test")
	}

	// The job needs 10s; each call honours the requested wait.
	submitted := time.Now()
	jobDuration := 10 * time.Second
	ts := endpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		wait, _ := strconv.Atoi(r.URL.Query().Get("wait"))
		remaining := jobDuration - time.Since(submitted)
		hold := time.Duration(wait) * time.Millisecond
		if remaining < hold {
			hold = remaining
		}
		select {
		case <-time.After(hold):
		case <-r.Context().Done():
			return
		}
		status := models.StatusInProgress
		if time.Since(submitted) >= jobDuration {
			status = models.StatusCompleted
		}
		writeJSON(w, map[string]any{"id": "job-long", "status": status})
	})
	c := newTestClient(t, ts.URL)

	req := models.RunRequest{
		Input:  map[string]string{"prompt": "x"},
		Policy: &models.ExecutionPolicy{ExecutionTimeout: 3000},
	}
	start := time.Now()
	res, err := c.RunSync(context.Background(), req, 0)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Completed {
		t.Errorf("expected completed=false, got %+v", res)
	}
	if elapsed < 3*time.Second || elapsed > 5*time.Second {
		t.Errorf("expected return shortly after 3s, took %v", elapsed)
	}
}

func TestRunSync_TransportFailureDuringPoll(t *testing.T) {
	var requests atomic.Int64
	ts := endpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			writeJSON(w, map[string]any{"id": "job-1", "status": "IN_QUEUE"})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, ts.URL)

	_, err := c.RunSync(context.Background(), models.RunRequest{Input: 1}, 10*time.Second)
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected 502 status error, got: %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("failed poll must not be retried, got %d requests", requests.Load())
	}
}

func TestRunSync_SubmissionFailure(t *testing.T) {
	ts := endpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, ts.URL)

	_, err := c.RunSync(context.Background(), models.RunRequest{Input: 1}, time.Second)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus, got: %v", err)
	}
}

func TestRunSync_ContextCancelled(t *testing.T) {
	ts := endpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "job-1", "status": "IN_PROGRESS"})
	})
	c := newTestClient(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.RunSync(ctx, models.RunRequest{Input: 1}, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

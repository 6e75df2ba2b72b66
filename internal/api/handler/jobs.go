package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/jobclient/internal/api/response"
	"github.com/kiranshivaraju/jobclient/internal/config"
	"github.com/kiranshivaraju/jobclient/internal/simulator"
	"github.com/kiranshivaraju/jobclient/pkg/models"
)

const maxBodyBytes = 10 << 20

// JobService defines what the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, endpointID string, req models.RunRequest, synchronous bool) (*models.Job, error)
	Job(ctx context.Context, endpointID, id string) (*models.Job, error)
	WaitTerminal(ctx context.Context, endpointID, id string, wait time.Duration) (*models.Job, error)
	WaitChange(ctx context.Context, endpointID, id string, wait time.Duration) (*models.Job, error)
	Stream(ctx context.Context, endpointID, id string) (*models.StreamResult, error)
	Cancel(ctx context.Context, endpointID, id string) (*models.Job, error)
	Purge(ctx context.Context, endpointID string) (*models.PurgeResult, error)
	Health(ctx context.Context, endpointID string) (*models.HealthResult, error)
}

// NewRunHandler returns an http.HandlerFunc for POST /v2/{endpointID}/run.
func NewRunHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		job, err := svc.Submit(r.Context(), chi.URLParam(r, "endpointID"), req, false)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, job.Snapshot())
	}
}

// NewRunSyncHandler returns an http.HandlerFunc for POST /v2/{endpointID}/runsync.
// The response is held until the job is terminal or the wait elapses.
func NewRunSyncHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wait, ok := parseWait(w, r)
		if !ok {
			return
		}
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		endpointID := chi.URLParam(r, "endpointID")

		job, err := svc.Submit(r.Context(), endpointID, req, true)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if latest, err := svc.WaitTerminal(r.Context(), endpointID, job.ID, wait); err == nil {
			job = latest
		} else if r.Context().Err() != nil {
			return
		} else if !errors.Is(err, simulator.ErrJobNotFound) {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, job.Snapshot())
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /v2/{endpointID}/status/{jobID}.
func NewStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Job(r.Context(), chi.URLParam(r, "endpointID"), chi.URLParam(r, "jobID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, job.Snapshot())
	}
}

// NewStatusSyncHandler returns an http.HandlerFunc for
// GET /v2/{endpointID}/status-sync/{jobID}. The response is held until the
// status changes or the wait elapses.
func NewStatusSyncHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wait, ok := parseWait(w, r)
		if !ok {
			return
		}
		job, err := svc.WaitChange(r.Context(), chi.URLParam(r, "endpointID"), chi.URLParam(r, "jobID"), wait)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			writeServiceError(w, err)
			return
		}
		response.JSON(w, job.Snapshot())
	}
}

// NewStreamHandler returns an http.HandlerFunc for GET /v2/{endpointID}/stream/{jobID}.
func NewStreamHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Stream(r.Context(), chi.URLParam(r, "endpointID"), chi.URLParam(r, "jobID"))
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			writeServiceError(w, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewCancelHandler returns an http.HandlerFunc for POST /v2/{endpointID}/cancel/{jobID}.
func NewCancelHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Cancel(r.Context(), chi.URLParam(r, "endpointID"), chi.URLParam(r, "jobID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, job.Snapshot())
	}
}

// NewPurgeHandler returns an http.HandlerFunc for POST /v2/{endpointID}/purge-queue.
func NewPurgeHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Purge(r.Context(), chi.URLParam(r, "endpointID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewEndpointHealthHandler returns an http.HandlerFunc for GET /v2/{endpointID}/health.
func NewEndpointHealthHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Health(r.Context(), chi.URLParam(r, "endpointID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, res)
	}
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (models.RunRequest, bool) {
	var req models.RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return req, false
	}
	if req.Input == nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "input is required", nil)
		return req, false
	}
	return req, true
}

// parseWait reads the wait query parameter in milliseconds. A missing wait
// means the longest hold; larger values are capped to it.
func parseWait(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return config.MaxPollWait, true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "wait must be a non-negative integer (ms)", nil)
		return 0, false
	}
	ms = min(ms, config.MaxPollWait.Milliseconds())
	return time.Duration(ms) * time.Millisecond, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, simulator.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found", nil)
	case errors.Is(err, simulator.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, simulator.ErrSimulatorDown):
		response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", "service is shutting down", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

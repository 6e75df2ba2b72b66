package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/jobclient/internal/api/response"
	"github.com/kiranshivaraju/jobclient/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_IsUnwrapped(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, models.JobResult{ID: "j1", Status: models.StatusInQueue})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "j1", body["id"])
	assert.Equal(t, "IN_QUEUE", body["status"])
	assert.NotContains(t, body, "data")
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "job not found", body["error"])
	assert.Equal(t, "JOB_NOT_FOUND", body["code"])
	assert.NotContains(t, body, "details")
}

func TestError_WithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusServiceUnavailable, "DEGRADED", "degraded", map[string]string{"cache": "degraded"})

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	details := body["details"].(map[string]any)
	assert.Equal(t, "degraded", details["cache"])
}

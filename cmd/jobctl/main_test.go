package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobclient/internal/config"
	"github.com/kiranshivaraju/jobclient/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── fake client ────────────────────────────────────────────────────────────

type fakeClient struct {
	gotReq     models.RunRequest
	gotID      string
	gotTimeout time.Duration
	gotWait    time.Duration
	called     string
	err        error
	chunks     []string
}

func (f *fakeClient) result(op string) (*models.JobResult, error) {
	f.called = op
	if f.err != nil {
		return nil, f.err
	}
	return &models.JobResult{ID: "job-1", Status: models.StatusCompleted, Completed: true}, nil
}

func (f *fakeClient) Submit(_ context.Context, req models.RunRequest) (*models.JobResult, error) {
	f.gotReq = req
	return f.result("submit")
}

func (f *fakeClient) SubmitAndWait(_ context.Context, req models.RunRequest, wait time.Duration) (*models.JobResult, error) {
	f.gotReq, f.gotWait = req, wait
	return f.result("submit-and-wait")
}

func (f *fakeClient) Status(_ context.Context, id string) (*models.JobResult, error) {
	f.gotID = id
	return f.result("status")
}

func (f *fakeClient) StatusWait(_ context.Context, id string, wait time.Duration) (*models.JobResult, error) {
	f.gotID, f.gotWait = id, wait
	return f.result("status-wait")
}

func (f *fakeClient) StreamFetch(_ context.Context, id string) (*models.StreamResult, error) {
	f.gotID = id
	return &models.StreamResult{Status: models.StatusCompleted}, f.err
}

func (f *fakeClient) Cancel(_ context.Context, id string) (*models.JobResult, error) {
	f.gotID = id
	return f.result("cancel")
}

func (f *fakeClient) PurgeQueue(_ context.Context) (*models.PurgeResult, error) {
	f.called = "purge"
	return &models.PurgeResult{Removed: 4, Status: "completed"}, f.err
}

func (f *fakeClient) Health(_ context.Context) (*models.HealthResult, error) {
	f.called = "health"
	return &models.HealthResult{Workers: models.WorkerCounts{Idle: 3}}, f.err
}

func (f *fakeClient) RunSync(_ context.Context, req models.RunRequest, timeout time.Duration) (*models.JobResult, error) {
	f.gotReq, f.gotTimeout = req, timeout
	return f.result("runsync")
}

func (f *fakeClient) Stream(_ context.Context, id string, timeout time.Duration) iter.Seq2[models.StreamChunk, error] {
	f.gotID, f.gotTimeout = id, timeout
	return func(yield func(models.StreamChunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(models.StreamChunk{Output: json.RawMessage(c)}, nil) {
				return
			}
		}
		if f.err != nil {
			yield(models.StreamChunk{}, f.err)
		}
	}
}

func exec(t *testing.T, f *fakeClient, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(context.Background(), f, args, strings.NewReader(stdin), &out)
	return out.String(), err
}

// ─── commands ───────────────────────────────────────────────────────────────

func TestExecute_RunWithArgument(t *testing.T) {
	f := &fakeClient{}
	out, err := exec(t, f, "", "run", `{"input":{"prompt":"hi"},"webhook":"https://hook"}`)
	require.NoError(t, err)

	assert.Equal(t, "submit", f.called)
	assert.Equal(t, "https://hook", f.gotReq.Webhook)
	assert.Equal(t, map[string]any{"prompt": "hi"}, f.gotReq.Input)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "job-1", res["id"])
}

func TestExecute_RunSyncFromStdin(t *testing.T) {
	f := &fakeClient{}
	_, err := exec(t, f, `{"prompt":"from stdin"}`, "runsync", "-timeout", "45s")
	require.NoError(t, err)

	assert.Equal(t, "runsync", f.called)
	assert.Equal(t, 45*time.Second, f.gotTimeout)
	raw, err := json.Marshal(f.gotReq.Input)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"from stdin"}`, string(raw), "documents without input are sent as the input")
}

func TestExecute_PayloadErrors(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":   `{`,
		"not object": `[1,2]`,
		"null input": `{"input":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeClient{}
			_, err := exec(t, f, "", "run", payload)
			assert.Error(t, err)
			assert.Empty(t, f.called)
		})
	}

	_, err := exec(t, &fakeClient{}, "", "run", `{"a":1}`, `{"b":2}`)
	assert.ErrorContains(t, err, "at most one payload")
}

func TestExecute_JobCommands(t *testing.T) {
	cases := []struct {
		args []string
		op   string
	}{
		{[]string{"status", "job-9"}, "status"},
		{[]string{"status-sync", "-wait", "5s", "job-9"}, "status-wait"},
		{[]string{"cancel", "job-9"}, "cancel"},
	}
	for _, tc := range cases {
		f := &fakeClient{}
		_, err := exec(t, f, "", tc.args...)
		require.NoError(t, err, tc.args)
		assert.Equal(t, tc.op, f.called)
		assert.Equal(t, "job-9", f.gotID)
	}
}

func TestExecute_StatusSyncDefaultsToMaxWait(t *testing.T) {
	f := &fakeClient{}
	_, err := exec(t, f, "", "status-sync", "job-9")
	require.NoError(t, err)
	assert.Equal(t, config.MaxPollWait, f.gotWait)
}

func TestExecute_JobIDRequired(t *testing.T) {
	for _, cmd := range []string{"status", "status-sync", "cancel", "stream"} {
		_, err := exec(t, &fakeClient{}, "", cmd)
		assert.ErrorContains(t, err, "job id is required", cmd)
	}
}

func TestExecute_StreamPrintsOneLinePerChunk(t *testing.T) {
	f := &fakeClient{chunks: []string{`"a"`, `"b"`, `{"c":3}`}}
	out, err := exec(t, f, "", "stream", "-timeout", "1m", "job-2")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, f.gotTimeout)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{`{"output":"a"}`, `{"output":"b"}`, `{"output":{"c":3}}`}, lines)
}

func TestExecute_StreamError(t *testing.T) {
	boom := errors.New("connection reset")
	f := &fakeClient{chunks: []string{`"a"`}, err: boom}
	out, err := exec(t, f, "", "stream", "job-2")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, `{"output":"a"}`+"\n", out)
}

func TestExecute_HealthAndPurge(t *testing.T) {
	f := &fakeClient{}
	out, err := exec(t, f, "", "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"idle":3`)

	out, err = exec(t, f, "", "purge")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":4,"status":"completed"}`, out)
}

func TestExecute_ClientError(t *testing.T) {
	boom := errors.New("endpoint unreachable")
	_, err := exec(t, &fakeClient{err: boom}, "", "status", "job-1")
	assert.ErrorIs(t, err, boom)
}

func TestExecute_Usage(t *testing.T) {
	_, err := exec(t, &fakeClient{}, "")
	assert.ErrorIs(t, err, errUsage)

	_, err = exec(t, &fakeClient{}, "", "explode")
	assert.ErrorIs(t, err, errUsage)

	_, err = exec(t, &fakeClient{}, "", "runsync", "-timeout", "soon")
	assert.Error(t, err)
}

// ─── run() ──────────────────────────────────────────────────────────────────

func TestRun_RequiresAPIKey(t *testing.T) {
	t.Setenv("JOBCLIENT_API_KEY", "")
	err := run(context.Background(), []string{"health"}, strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_RequiresEndpoint(t *testing.T) {
	t.Setenv("JOBCLIENT_API_KEY", "key")
	t.Setenv("JOBCLIENT_ENDPOINT_ID", "")
	err := run(context.Background(), []string{"health"}, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorContains(t, err, "endpoint id is required")
}

func TestRun_EndpointFlagOverridesEnv(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jobs":{"inQueue":1},"workers":{"idle":2,"running":0}}`))
	}))
	defer srv.Close()

	t.Setenv("JOBCLIENT_API_KEY", "secret-key")
	t.Setenv("JOBCLIENT_ENDPOINT_ID", "from-env")
	t.Setenv("JOBCLIENT_BASE_URL", srv.URL+"/v2")

	var out bytes.Buffer
	err := run(context.Background(), []string{"-endpoint", "from-flag", "health"}, strings.NewReader(""), &out)
	require.NoError(t, err)

	assert.Equal(t, "/v2/from-flag/health", gotPath)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Contains(t, out.String(), `"inQueue":1`)
}

package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kiranshivaraju/jobclient/internal/config"
	"github.com/kiranshivaraju/jobclient/pkg/models"
)

// Operation names used for logging and metrics.
const (
	opRun        = "run"
	opRunSync    = "runsync"
	opStatus     = "status"
	opStatusSync = "status-sync"
	opStream     = "stream"
	opCancel     = "cancel"
	opHealth     = "health"
	opPurgeQueue = "purge-queue"
)

// Client is the interface for driving jobs on one endpoint.
type Client interface {
	Submit(ctx context.Context, req models.RunRequest) (*models.JobResult, error)
	SubmitAndWait(ctx context.Context, req models.RunRequest, wait time.Duration) (*models.JobResult, error)
	Status(ctx context.Context, jobID string) (*models.JobResult, error)
	StatusWait(ctx context.Context, jobID string, wait time.Duration) (*models.JobResult, error)
	StreamFetch(ctx context.Context, jobID string) (*models.StreamResult, error)
	Cancel(ctx context.Context, jobID string) (*models.JobResult, error)
	PurgeQueue(ctx context.Context) (*models.PurgeResult, error)
	Health(ctx context.Context) (*models.HealthResult, error)

	RunSync(ctx context.Context, req models.RunRequest, timeout time.Duration) (*models.JobResult, error)
	Stream(ctx context.Context, jobID string, timeout time.Duration) iter.Seq2[models.StreamChunk, error]
}

// HTTPClient implements Client over the endpoint service's JSON/HTTP API.
// Configuration is fixed at construction; every method is safe for
// concurrent use.
type HTTPClient struct {
	baseURL        string
	apiKey         string
	endpointID     string
	waitTimeout    time.Duration
	requestTimeout time.Duration
	client         *http.Client
	logger         *slog.Logger
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the transport. Its Timeout should be zero or larger
// than MaxPollWait, since per-call deadlines are applied through the context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// New creates a client for cfg.EndpointID.
func New(cfg config.ClientConfig, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		endpointID:     cfg.EndpointID,
		waitTimeout:    cfg.WaitTimeout,
		requestTimeout: cfg.RequestTimeout,
		client:         &http.Client{},
		logger:         slog.Default(),
	}
	if c.baseURL == "" {
		c.baseURL = config.BaseURLFor(cfg.Env)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.waitTimeout <= 0 {
		c.waitTimeout = config.DefaultWaitTimeout
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = config.DefaultRequestTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns a client for another endpoint sharing this client's
// credential and transport.
func (c *HTTPClient) Endpoint(endpointID string) *HTTPClient {
	cp := *c
	cp.endpointID = endpointID
	return &cp
}

// EndpointID returns the endpoint this client talks to.
func (c *HTTPClient) EndpointID() string { return c.endpointID }

// Submit queues a job and returns immediately with its id and status.
func (c *HTTPClient) Submit(ctx context.Context, req models.RunRequest) (*models.JobResult, error) {
	var res models.JobResult
	if err := c.do(ctx, opRun, http.MethodPost, "run", nil, req, c.requestTimeout, &res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, fmt.Errorf("%w: missing job id", ErrInvalidResponse)
	}
	if err := normalize(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitAndWait queues a job and lets the service hold the connection until
// the job finishes or ClampWait(wait) elapses.
func (c *HTTPClient) SubmitAndWait(ctx context.Context, req models.RunRequest, wait time.Duration) (*models.JobResult, error) {
	wait = ClampWait(wait)
	var res models.JobResult
	if err := c.do(ctx, opRunSync, http.MethodPost, "runsync", waitQuery(wait), req, wait+c.requestTimeout, &res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, fmt.Errorf("%w: missing job id", ErrInvalidResponse)
	}
	if err := normalize(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status returns the current snapshot of a job without waiting.
func (c *HTTPClient) Status(ctx context.Context, jobID string) (*models.JobResult, error) {
	return c.jobCall(ctx, opStatus, http.MethodGet, "status", jobID, nil, c.requestTimeout)
}

// StatusWait returns a snapshot after the service has held the connection
// for up to ClampWait(wait) or until the job changes state.
func (c *HTTPClient) StatusWait(ctx context.Context, jobID string, wait time.Duration) (*models.JobResult, error) {
	wait = ClampWait(wait)
	return c.jobCall(ctx, opStatusSync, http.MethodGet, "status-sync", jobID, waitQuery(wait), wait+c.requestTimeout)
}

// Cancel asks the service to stop a job. Cancelling a job that already
// finished is not an error; the unchanged terminal snapshot is returned.
func (c *HTTPClient) Cancel(ctx context.Context, jobID string) (*models.JobResult, error) {
	return c.jobCall(ctx, opCancel, http.MethodPost, "cancel", jobID, nil, c.requestTimeout)
}

// StreamFetch performs one stream fetch, returning chunks produced since the
// previous fetch together with the current status. The service may hold the
// connection while it waits for output.
func (c *HTTPClient) StreamFetch(ctx context.Context, jobID string) (*models.StreamResult, error) {
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	var res models.StreamResult
	path := "stream/" + url.PathEscape(jobID)
	if err := c.do(ctx, opStream, http.MethodGet, path, nil, nil, config.MaxPollWait+c.requestTimeout, &res); err != nil {
		return nil, err
	}
	if res.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrInvalidResponse)
	}
	return &res, nil
}

// PurgeQueue removes every job still waiting in the endpoint queue.
func (c *HTTPClient) PurgeQueue(ctx context.Context) (*models.PurgeResult, error) {
	var res models.PurgeResult
	if err := c.do(ctx, opPurgeQueue, http.MethodPost, "purge-queue", nil, struct{}{}, c.requestTimeout, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health returns job and worker counts for the endpoint.
func (c *HTTPClient) Health(ctx context.Context) (*models.HealthResult, error) {
	var res models.HealthResult
	if err := c.do(ctx, opHealth, http.MethodGet, "health", nil, nil, c.requestTimeout, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) jobCall(ctx context.Context, op, method, action, jobID string, query url.Values, timeout time.Duration) (*models.JobResult, error) {
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	var body any
	if method == http.MethodPost {
		body = struct{}{}
	}
	var res models.JobResult
	path := action + "/" + url.PathEscape(jobID)
	if err := c.do(ctx, op, method, path, query, body, timeout, &res); err != nil {
		return nil, err
	}
	if err := normalize(&res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		res.ID = jobID
	}
	return &res, nil
}

// do performs exactly one request under its own deadline and decodes the
// response into out.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, body any, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	u := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(c.endpointID), path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	requestID := ulid.Make().String()
	c.setHeaders(httpReq, requestID)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		observeRequest(op, 0, time.Since(start))
		c.logger.Debug("endpoint request failed",
			"operation", op, "endpoint_id", c.endpointID, "request_id", requestID, "error", err)
		return classifyError(err)
	}
	defer resp.Body.Close()

	observeRequest(op, resp.StatusCode, time.Since(start))
	c.logger.Debug("endpoint request",
		"operation", op,
		"endpoint_id", c.endpointID,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	return decodeResponse(resp, out)
}

func (c *HTTPClient) setHeaders(req *http.Request, requestID string) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
}

func waitQuery(wait time.Duration) url.Values {
	return url.Values{"wait": {strconv.FormatInt(wait.Milliseconds(), 10)}}
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

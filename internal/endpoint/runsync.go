package endpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/jobclient/internal/config"
	"github.com/kiranshivaraju/jobclient/pkg/models"
)

// ClampWait bounds a requested server-side wait to [MinPollWait, MaxPollWait].
func ClampWait(d time.Duration) time.Duration {
	if d < config.MinPollWait {
		return config.MinPollWait
	}
	if d > config.MaxPollWait {
		return config.MaxPollWait
	}
	return d
}

// WaitBudget picks the overall RunSync budget: the caller's timeout, else the
// policy's execution timeout, else the client default.
func (c *HTTPClient) WaitBudget(req models.RunRequest, timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if req.Policy != nil && req.Policy.ExecutionTimeout > 0 {
		return time.Duration(req.Policy.ExecutionTimeout) * time.Millisecond
	}
	return c.waitTimeout
}

// RunSync submits a job and polls until it reaches a terminal status or the
// wait budget runs out.
//
// Running out of budget is not an error: the last snapshot is returned with
// Completed false and the remote job keeps running. Call Cancel to stop it.
// Because every server-side wait is floored at MinPollWait, the call can
// return up to one poll after the nominal deadline.
func (c *HTTPClient) RunSync(ctx context.Context, req models.RunRequest, timeout time.Duration) (*models.JobResult, error) {
	budget := c.WaitBudget(req, timeout)
	start := time.Now()

	res, err := c.SubmitAndWait(ctx, req, budget)
	if err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}

	for !res.Status.IsTerminal() {
		elapsed := time.Since(start)
		if elapsed > budget {
			localTimeoutsTotal.WithLabelValues(driverRunSync).Inc()
			c.logger.Info("wait budget exhausted before job finished",
				"endpoint_id", c.endpointID,
				"job_id", res.ID,
				"status", res.Status,
				"budget_ms", budget.Milliseconds(),
				"elapsed_ms", elapsed.Milliseconds(),
			)
			res.Completed = false
			return res, nil
		}

		pollsTotal.Inc()
		next, err := c.StatusWait(ctx, res.ID, budget-elapsed)
		if err != nil {
			return nil, fmt.Errorf("polling job %s: %w", res.ID, err)
		}
		res = next
	}

	return res, nil
}

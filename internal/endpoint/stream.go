package endpoint

import (
	"context"
	"iter"
	"time"

	"github.com/kiranshivaraju/jobclient/pkg/models"
)

// Stream returns a lazy sequence of a job's output chunks. Each step of the
// range performs at most one fetch; chunks are yielded in the order the
// service returned them.
//
// The sequence ends after the fetch that reports a terminal status (its
// chunks are still yielded), or after the first fetch completing past
// timeout when timeout > 0. A fetch error is yielded once and ends the
// sequence. Stopping the range early issues no further requests. A stream is
// not restartable: chunks already delivered are not replayed by the service.
func (c *HTTPClient) Stream(ctx context.Context, jobID string, timeout time.Duration) iter.Seq2[models.StreamChunk, error] {
	return func(yield func(models.StreamChunk, error) bool) {
		start := time.Now()

		for completed := false; !completed; {
			res, err := c.StreamFetch(ctx, jobID)
			if err != nil {
				yield(models.StreamChunk{}, err)
				return
			}

			switch {
			case res.Status.IsTerminal():
				completed = true
			case timeout > 0 && time.Since(start) > timeout:
				localTimeoutsTotal.WithLabelValues(driverStream).Inc()
				c.logger.Info("stream timeout reached before job finished",
					"endpoint_id", c.endpointID, "job_id", jobID, "status", res.Status)
				completed = true
			}

			for _, chunk := range res.Stream {
				streamChunksTotal.Inc()
				if !yield(chunk, nil) {
					return
				}
			}
		}
	}
}

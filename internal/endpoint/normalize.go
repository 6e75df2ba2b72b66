package endpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kiranshivaraju/jobclient/pkg/models"
)

// maxDrain caps how much of an error body is read before the connection is
// handed back to the pool.
const maxDrain = 64 << 10

// decodeResponse turns a raw response into either a *StatusError or the
// decoded body. It never retries.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		return newStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// normalize derives the client-side flags of a status-bearing result.
// A body without a status cannot drive the lifecycle and is rejected.
func normalize(res *models.JobResult) error {
	if res.Status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidResponse)
	}
	res.Started = true
	res.Completed = res.Status.IsTerminal()
	res.Succeeded = res.Status.Succeeded()
	return nil
}

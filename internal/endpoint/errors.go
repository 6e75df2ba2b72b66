package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Sentinel errors for endpoint client failures.
var (
	ErrUnexpectedStatus = errors.New("endpoint returned non-200 status")
	ErrInvalidResponse  = errors.New("endpoint returned invalid response")
	ErrUnreachable      = errors.New("endpoint unreachable")
	ErrRequestTimeout   = errors.New("endpoint request timeout")
	ErrMissingJobID     = errors.New("job id is required")
)

// StatusError is a transport failure: the service answered with a status
// other than 200. Only the status line is reliable; bodies are discarded.
type StatusError struct {
	StatusCode int
	StatusText string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d %s", ErrUnexpectedStatus, e.StatusCode, e.StatusText)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func newStatusError(resp *http.Response) *StatusError {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, StatusText: text}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrRequestTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

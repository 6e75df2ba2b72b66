package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Executor performs the work of one job. Chunks passed to emit become
// visible to stream readers immediately; the returned value is the job's
// final output. Implementations must return promptly once ctx is done.
type Executor interface {
	Name() string
	Execute(ctx context.Context, input json.RawMessage, emit func(json.RawMessage) error) (json.RawMessage, error)
}

// NewExecutor constructs the executor named by kind.
// Called once at server startup.
func NewExecutor(kind string) (Executor, error) {
	switch kind {
	case "mock":
		return MockExecutor{}, nil
	case "echo":
		return EchoExecutor{}, nil
	default:
		return nil, fmt.Errorf("%w %q: must be one of mock, echo", ErrUnknownKind, kind)
	}
}

// EchoExecutor returns its input unchanged as a single chunk.
type EchoExecutor struct{}

func (EchoExecutor) Name() string { return "echo" }

func (EchoExecutor) Execute(ctx context.Context, input json.RawMessage, emit func(json.RawMessage) error) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := emit(input); err != nil {
		return nil, err
	}
	return input, nil
}

// MockExecutor follows the mock-worker conventions carried in the input:
//
//	mock_return  value to return; an array streams one chunk per element
//	mock_delay   seconds to sleep before each chunk
//	mock_error   fail with this message once the delay has passed
//
// Inputs without mock_return are echoed back.
type MockExecutor struct{}

type mockInput struct {
	Return json.RawMessage `json:"mock_return"`
	Delay  float64         `json:"mock_delay"`
	Error  string          `json:"mock_error"`
}

// jobFailure is an executor-reported failure whose message is shown to clients.
type jobFailure struct{ msg string }

func (e jobFailure) Error() string { return e.msg }

func (MockExecutor) Name() string { return "mock" }

func (MockExecutor) Execute(ctx context.Context, input json.RawMessage, emit func(json.RawMessage) error) (json.RawMessage, error) {
	var in mockInput
	if err := json.Unmarshal(input, &in); err != nil {
		// Non-object inputs carry no directives.
		in = mockInput{}
	}
	if in.Delay < 0 {
		return nil, fmt.Errorf("%w: mock_delay must not be negative", ErrInvalidInput)
	}
	delay := time.Duration(in.Delay * float64(time.Second))

	if in.Error != "" {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		return nil, jobFailure{msg: in.Error}
	}

	ret := in.Return
	if len(ret) == 0 {
		ret = input
	}

	var items []json.RawMessage
	if err := json.Unmarshal(ret, &items); err != nil {
		items = []json.RawMessage{ret}
	}
	for _, item := range items {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		if err := emit(item); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

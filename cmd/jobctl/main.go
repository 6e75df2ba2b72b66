// Package main is a command-line driver for endpoint jobs.
//
// Usage:
//
//	jobctl [-endpoint ID] <command> [flags] [args]
//
// Commands:
//
//	run [payload]                     submit a job and print its id and status
//	runsync [-timeout D] [payload]    submit a job and wait for its result
//	status <job-id>                   print the current job status
//	status-sync [-wait D] <job-id>    hold until the job status changes
//	stream [-timeout D] <job-id>      print output chunks, one JSON line each
//	cancel <job-id>                   cancel a job
//	health                            print endpoint job and worker counts
//	purge                             remove every queued job
//
// The payload is a JSON request body such as {"input":{...}}; a document
// without an "input" member is sent as the input itself. When the payload
// argument is omitted or "-", it is read from stdin. Connection settings come
// from the JOBCLIENT_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kiranshivaraju/jobclient/internal/config"
	"github.com/kiranshivaraju/jobclient/internal/endpoint"
	"github.com/kiranshivaraju/jobclient/pkg/models"
)

var errUsage = errors.New("usage: jobctl [-endpoint ID] <run|runsync|status|status-sync|stream|cancel|health|purge> [args]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "jobctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("jobctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	endpointID := fs.String("endpoint", "", "endpoint id (overrides JOBCLIENT_ENDPOINT_ID)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *endpointID != "" {
		cfg.EndpointID = *endpointID
	}
	if cfg.EndpointID == "" {
		return errors.New("endpoint id is required: set JOBCLIENT_ENDPOINT_ID or pass -endpoint")
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	client := endpoint.New(*cfg, endpoint.WithLogger(logger))
	return execute(ctx, client, fs.Args(), stdin, stdout)
}

// execute runs one command against c and writes its JSON result to stdout.
func execute(ctx context.Context, c endpoint.Client, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	timeout := fs.Duration("timeout", 0, "overall wait budget")
	wait := fs.Duration("wait", config.MaxPollWait, "server-side hold")
	if err := fs.Parse(rest); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	rest = fs.Args()

	switch cmd {
	case "run", "runsync":
		req, err := readPayload(rest, stdin)
		if err != nil {
			return err
		}
		var res *models.JobResult
		if cmd == "run" {
			res, err = c.Submit(ctx, req)
		} else {
			res, err = c.RunSync(ctx, req, *timeout)
		}
		if err != nil {
			return err
		}
		return printJSON(stdout, res)

	case "status", "status-sync", "cancel":
		id, err := jobID(cmd, rest)
		if err != nil {
			return err
		}
		var res *models.JobResult
		switch cmd {
		case "status":
			res, err = c.Status(ctx, id)
		case "status-sync":
			res, err = c.StatusWait(ctx, id, *wait)
		default:
			res, err = c.Cancel(ctx, id)
		}
		if err != nil {
			return err
		}
		return printJSON(stdout, res)

	case "stream":
		id, err := jobID(cmd, rest)
		if err != nil {
			return err
		}
		for chunk, err := range c.Stream(ctx, id, *timeout) {
			if err != nil {
				return err
			}
			if err := printJSON(stdout, chunk); err != nil {
				return err
			}
		}
		return nil

	case "health":
		res, err := c.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, res)

	case "purge":
		res, err := c.PurgeQueue(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, res)
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func jobID(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s: exactly one job id is required", cmd)
	}
	return args[0], nil
}

// readPayload decodes the request body from the first argument, or from
// stdin when it is absent or "-".
func readPayload(args []string, stdin io.Reader) (models.RunRequest, error) {
	var raw []byte
	switch {
	case len(args) > 1:
		return models.RunRequest{}, errors.New("at most one payload argument is allowed")
	case len(args) == 1 && args[0] != "-":
		raw = []byte(args[0])
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return models.RunRequest{}, fmt.Errorf("reading payload: %w", err)
		}
		raw = b
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.RunRequest{}, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if _, ok := doc["input"]; !ok {
		return models.RunRequest{Input: json.RawMessage(raw)}, nil
	}

	var req models.RunRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return models.RunRequest{}, fmt.Errorf("decoding payload: %w", err)
	}
	if req.Input == nil {
		return models.RunRequest{}, errors.New("payload input must not be null")
	}
	return req, nil
}

func printJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

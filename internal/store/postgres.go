package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobclient/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, endpoint_id, status, input, policy, webhook, output, error_message,
	delay_time, execution_time, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.EndpointID, &j.Status, &j.Input, &j.Policy, &j.Webhook, &j.Output,
		&j.ErrorMessage, &j.DelayTime, &j.ExecutionTime, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, endpoint_id, status, input, policy, webhook, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.EndpointID, job.Status, job.Input, job.Policy, job.Webhook, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string, endpointID string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND endpoint_id = $2`, id, endpointID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params := applyOptions(opts)

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now, predecessors(status)}
	argIdx := 5

	if status == models.StatusInProgress {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status.IsTerminal() {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Output != nil {
		query += fmt.Sprintf(", output = $%d", argIdx)
		args = append(args, params.Output)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.DelayTime != nil {
		query += fmt.Sprintf(", delay_time = $%d", argIdx)
		args = append(args, *params.DelayTime)
		argIdx++
	}
	if params.ExecutionTime != nil {
		query += fmt.Sprintf(", execution_time = $%d", argIdx)
		args = append(args, *params.ExecutionTime)
		argIdx++
	}

	// The status guard makes the transition check and the write one statement.
	query += " WHERE id = $1 AND status = ANY($4) RETURNING " + jobColumns

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	var current models.JobStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// --- Stream chunks ---

func (s *PostgresStore) AppendStreamChunk(ctx context.Context, jobID string, output json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stream_chunks (job_id, output) VALUES ($1, $2)`, jobID, output)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return ErrNotFound
		}
		return fmt.Errorf("append stream chunk: %w", err)
	}
	return nil
}

func (s *PostgresStore) TakeStreamChunks(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`WITH taken AS (
		   UPDATE stream_chunks SET delivered = TRUE
		   WHERE job_id = $1 AND NOT delivered
		   RETURNING id, output
		 )
		 SELECT output FROM taken ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("take stream chunks: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var chunk json.RawMessage
		if err := rows.Scan(&chunk); err != nil {
			return nil, fmt.Errorf("scan stream chunk: %w", err)
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

// --- Aggregates ---

func (s *PostgresStore) CountJobsByStatus(ctx context.Context, endpointID string) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE endpoint_id = $1 GROUP BY status`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) PurgeQueued(ctx context.Context, endpointID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM jobs WHERE endpoint_id = $1 AND status = $2 RETURNING id`,
		endpointID, models.StatusInQueue)
	if err != nil {
		return nil, fmt.Errorf("purge queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan purged job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Package jobstore is the durable Job Store: CRUD over training_jobs
// and append-only insert over training_logs, with every state
// transition enforced as an atomic UPDATE ... WHERE status = $expected
// (spec.md §4.7): complete/fail/cancel are idempotent by construction,
// and claim_for_run succeeds at most once, returning ErrAlreadyClaimed
// on any later call.
//
// Grounded on Outblock-flowindex/backend/internal/repository/
// repo_core.go's pgxpool.ParseConfig + env-tuned pool + RuntimeParams
// pattern (the teacher itself has no SQL driver; jackc/pgx/v5 is
// adopted from the wider retrieved pack, see DESIGN.md), and on
// original_source/training/cleanup_orphaned_jobs.py's table/column
// shape.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyClaimed is returned by ClaimForRun when the row is not
// pending (another worker won the race, or it was already claimed/
// cancelled).
var ErrAlreadyClaimed = errors.New("jobstore: job already claimed or not pending")

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("jobstore: job not found")

// InfraError wraps an underlying store failure with a Retriable
// marker, per spec.md §7's "infrastructure errors (fail the job with
// retriable marker for operators)".
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("jobstore: %s: %v", e.Op, e.Err) }
func (e *InfraError) Unwrap() error { return e.Err }
func (e *InfraError) Retriable() bool { return true }

// Store is the pgx-backed Job Store.
type Store struct {
	db *pgxpool.Pool
}

// Open parses dbURL, applies environment-tuned pool settings exactly
// as repo_core.go's NewRepository does, and returns a ready Store.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("jobstore: parse db url: %w", err)
	}
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MinConns = int32(n)
		}
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("jobstore: connect: %w", err)
	}
	return &Store{db: pool}, nil
}

// Close releases the pool. Part of the connection pool's documented
// init/teardown (spec.md §9: "process-wide state is confined to the
// connection pool").
func (s *Store) Close() { s.db.Close() }

// Migrate applies each statement in order. Called once at
// cmd/apiserver and cmd/worker startup with the statements of every
// migrations/*.sql file (see Migrations), grounded on
// repo_core.go's Migrate(schemaPath) shape.
func (s *Store) Migrate(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("jobstore: migrate: %w", err)
		}
	}
	return nil
}

// InsertPendingParams is the validated submission the Submission API
// boundary hands to the store.
type InsertPendingParams struct {
	StrategyID      domain.StrategyID
	Symbol          string
	Exchange        string
	Timeframe       domain.Timeframe
	Regime          string
	Optimizer       domain.Optimizer
	LookbackCandles int
	NIterations     int
	Seed            *int64
}

// InsertPending creates a new job row in 'pending' status and returns
// its id. Submitting the same spec twice yields two distinct ids — no
// dedup, per spec.md §8.
func (s *Store) InsertPending(ctx context.Context, p InsertPendingParams) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO training_jobs
			(strategy_id, symbol, exchange, timeframe, regime, optimizer,
			 lookback_candles, n_iterations, seed, status, submitted_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending', now(), now())
		RETURNING id
	`, string(p.StrategyID), p.Symbol, p.Exchange, string(p.Timeframe), p.Regime,
		string(p.Optimizer), p.LookbackCandles, p.NIterations, p.Seed).Scan(&id)
	if err != nil {
		return 0, &InfraError{Op: "insert_pending", Err: err}
	}
	return id, nil
}

// ClaimForRun atomically transitions pending -> running, setting
// started_at and worker_handle. Returns ErrAlreadyClaimed if the row
// was not pending (including when it no longer exists, e.g. a
// cancelled pending row was deleted).
func (s *Store) ClaimForRun(ctx context.Context, id int64, workerHandle string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE training_jobs
		SET status = 'running', started_at = now(), updated_at = now(), worker_handle = $2
		WHERE id = $1 AND status = 'pending'
	`, id, workerHandle)
	if err != nil {
		return &InfraError{Op: "claim_for_run", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// UpdateProgress partially updates the progress fields of a running
// job. Never transitions state (spec.md §4.7); the WHERE clause keeps
// it a no-op if the job has already reached a terminal state. Matches
// progress.Mutator's signature; jobID arrives as a string there so it
// can stay store-agnostic, and is parsed back to the BIGINT key here.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress, reward, loss float64, iteration, total int, stage string) error {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return fmt.Errorf("jobstore: update_progress: invalid job id %q: %w", jobID, err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE training_jobs
		SET progress = $2, current_reward = $3, current_loss = $4,
		    current_iteration = $5, total_iterations = $6, current_stage = $7,
		    updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id, progress, reward, loss, iteration, total, stage)
	if err != nil {
		return &InfraError{Op: "update_progress", Err: err}
	}
	return nil
}

// Heartbeat bumps updated_at without touching progress fields, for the
// worker's periodic liveness signal (spec.md §4.8).
func (s *Store) Heartbeat(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE training_jobs SET updated_at = now() WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return &InfraError{Op: "heartbeat", Err: err}
	}
	return nil
}

// Result is the terminal success payload: the winning parameter
// vector and its metrics.
type Result struct {
	Params  domain.ParameterVector `json:"params"`
	Metrics domain.Metrics         `json:"metrics"`
}

// Complete is an idempotent atomic terminal transition to 'completed'.
// A second call affects zero rows and returns nil (no-op), per
// spec.md §8's idempotence law.
func (s *Store) Complete(ctx context.Context, id int64, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("jobstore: marshal result: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE training_jobs
		SET status = 'completed', result = $2, progress = 1, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id, payload)
	if err != nil {
		return &InfraError{Op: "complete", Err: err}
	}
	return nil
}

// Fail is an idempotent atomic terminal transition to 'failed'.
func (s *Store) Fail(ctx context.Context, id int64, message string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE training_jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id, message)
	if err != nil {
		return &InfraError{Op: "fail", Err: err}
	}
	return nil
}

// Cancel is an idempotent atomic terminal transition to 'cancelled'.
// For a pending row it deletes it outright (spec.md §4.8: "cancel
// (delete row)"); for a running row it flips the cooperative-cancel
// flag by writing status='cancelled' directly, which the worker polls
// for between candidate evaluations.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM training_jobs WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return &InfraError{Op: "cancel_pending", Err: err}
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = s.db.Exec(ctx, `
		UPDATE training_jobs
		SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id)
	if err != nil {
		return &InfraError{Op: "cancel_running", Err: err}
	}
	return nil
}

// IsCancelled reports whether a job's row has already moved to
// 'cancelled' — the worker polls this between candidate evaluations
// to implement cooperative cancellation.
func (s *Store) IsCancelled(ctx context.Context, id int64) (bool, error) {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM training_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, &InfraError{Op: "is_cancelled", Err: err}
	}
	return status == string(domain.JobCancelled), nil
}

// Get returns one job row, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (domain.TrainingJob, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, strategy_id, symbol, exchange, timeframe, optimizer,
		       lookback_candles, n_iterations, seed, status, worker_handle,
		       progress, current_reward, current_loss,
		       coalesce(error_message, ''), submitted_at, started_at, completed_at, updated_at
		FROM training_jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrainingJob{}, ErrNotFound
	}
	if err != nil {
		return domain.TrainingJob{}, &InfraError{Op: "get", Err: err}
	}
	return job, nil
}

// ListByStatus returns rows matching any of the given statuses,
// ordered by (submitted_at, id) — the FIFO order the queue and the
// queue view both rely on.
func (s *Store) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.TrainingJob, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, strategy_id, symbol, exchange, timeframe, optimizer,
		       lookback_candles, n_iterations, seed, status, worker_handle,
		       progress, current_reward, current_loss,
		       coalesce(error_message, ''), submitted_at, started_at, completed_at, updated_at
		FROM training_jobs WHERE status = ANY($1)
		ORDER BY submitted_at ASC, id ASC
	`, names)
	if err != nil {
		return nil, &InfraError{Op: "list_by_status", Err: err}
	}
	defer rows.Close()

	var out []domain.TrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &InfraError{Op: "list_by_status scan", Err: err}
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (domain.TrainingJob, error) {
	var j domain.TrainingJob
	var id int64
	var strategyID, timeframe, status, optimizer string
	var seed *int64
	var startedAt, completedAt *time.Time
	var updatedAt time.Time
	err := row.Scan(&id, &strategyID, &j.Symbol, &j.Exchange, &timeframe, &optimizer,
		&j.LookbackBars, &j.NIterations, &seed, &status, &j.WorkerHandle,
		&j.Progress, &j.CurrentReward, &j.CurrentLoss, &j.ErrorMessage,
		&j.SubmittedAt, &startedAt, &completedAt, &updatedAt)
	if err != nil {
		return domain.TrainingJob{}, err
	}
	j.ID = strconv.FormatInt(id, 10)
	j.Strategy = domain.StrategyID(strategyID)
	j.Timeframe = domain.Timeframe(timeframe)
	j.Status = domain.JobStatus(status)
	j.Optimizer = domain.Optimizer(optimizer)
	if seed != nil {
		j.Seed = *seed
	}
	j.StartedAt = startedAt
	j.CompletedAt = completedAt
	j.HeartbeatAt = &updatedAt
	return j, nil
}

// AppendLog inserts an append-only log row, assigning the next
// per-job sequence number. Implements progress.LogAppender: per
// spec.md §4.7 this never fails the caller, so a malformed id or a
// write error is swallowed here rather than propagated as job
// failure. The error is discarded without being logged.
func (s *Store) AppendLog(ctx context.Context, jobID string, event domain.TrainingLogEvent, message string, progress float64) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return
	}
	_, _ = s.db.Exec(ctx, `
		INSERT INTO training_logs (job_id, sequence, event_time, stage, message, progress, level)
		VALUES ($1, (SELECT coalesce(max(sequence), 0) + 1 FROM training_logs WHERE job_id = $1), now(), $2, $3, $4, 'info')
	`, id, string(event), message, progress)
}

// ListLogs returns up to limit log rows for a job, oldest-first.
func (s *Store) ListLogs(ctx context.Context, jobID int64, limit int) ([]domain.TrainingLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, sequence, event_time, stage, message
		FROM training_logs WHERE job_id = $1
		ORDER BY event_time ASC, sequence ASC
		LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, &InfraError{Op: "list_logs", Err: err}
	}
	defer rows.Close()

	var out []domain.TrainingLog
	for rows.Next() {
		var l domain.TrainingLog
		var jid int64
		var event string
		if err := rows.Scan(&jid, &l.Sequence, &l.EventTime, &event, &l.Message); err != nil {
			return nil, &InfraError{Op: "list_logs scan", Err: err}
		}
		l.JobID = strconv.FormatInt(jid, 10)
		l.Event = domain.TrainingLogEvent(event)
		out = append(out, l)
	}
	return out, rows.Err()
}

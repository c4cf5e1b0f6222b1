// ABOUTME: Durable job queue rows backing the background worker pool
// ABOUTME: Claiming is a single UPDATE ... RETURNING so a job runs on one worker only

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, name, payload, status, attempts, max_attempts, last_error, run_after, created_at, updated_at`

// CreateJob enqueues a new job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.RunAfter.IsZero() {
		job.RunAfter = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	if job.Payload == nil {
		job.Payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.Name,
		job.Payload,
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		job.LastError,
		formatTime(job.RunAfter),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("created job", "id", job.ID, "name", job.Name)
	return nil
}

// GetJob retrieves a job by ID.
// Returns ErrNotFound if the job doesn't exist.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// ClaimJob moves the oldest runnable queued job to running and returns it.
// Returns ErrNotFound when no job is runnable at now.
func (s *SQLiteStore) ClaimJob(ctx context.Context, now time.Time) (*Job, error) {
	ts := formatTime(now)
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ?
			ORDER BY run_after, created_at
			LIMIT 1
		) AND status = ?
		RETURNING `+jobColumns,
		string(JobRunning), ts, string(JobQueued), ts, string(JobQueued),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a running job as succeeded.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	return s.finishJob(ctx, id, JobSucceeded, "", nil)
}

// FailJob records the error. With a nil retryAt the job is marked failed;
// otherwise it goes back to the queue to run after retryAt.
func (s *SQLiteStore) FailJob(ctx context.Context, id, lastErr string, retryAt *time.Time) error {
	if retryAt != nil {
		return s.finishJob(ctx, id, JobQueued, lastErr, retryAt)
	}
	return s.finishJob(ctx, id, JobFailed, lastErr, nil)
}

func (s *SQLiteStore) finishJob(ctx context.Context, id string, status JobStatus, lastErr string, runAfter *time.Time) error {
	now := formatTime(time.Now())
	query := `UPDATE jobs SET status = ?, last_error = ?, updated_at = ?`
	args := []any{string(status), lastErr, now}
	if runAfter != nil {
		query += `, run_after = ?`
		args = append(args, formatTime(*runAfter))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueRunningJobs puts jobs stuck in running back to queued.
func (s *SQLiteStore) RequeueRunningJobs(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		string(JobQueued), formatTime(time.Now()), string(JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("requeueing running jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking requeued rows: %w", err)
	}
	if n > 0 {
		s.logger.Warn("requeued orphaned jobs", "count", n)
	}
	return int(n), nil
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, runAfter, createdAt, updatedAt string
	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Payload,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastError,
		&runAfter,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	if job.RunAfter, err = parseTime(runAfter); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

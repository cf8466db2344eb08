// Package store holds the sqlx repositories backing the job lifecycle,
// credentials and the Postgres rate-limit window. Status transitions
// are guarded in SQL so that concurrent writers (a worker claiming vs.
// a caller cancelling) resolve to exactly one winner.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"vocalis/internal/apierr"
	"vocalis/internal/domain"
	"vocalis/internal/lifecycle"
)

const jobColumns = `
	job_id, job_type, status, priority, params, result,
	error_code, error_message, error_retryable,
	progress_percent, progress_message,
	created_at, updated_at, started_at, completed_at,
	owner_user_id, credential_id, webhook_url, webhook_sent,
	dispatch_token, retries, max_retries, audio_key, audio_url,
	last_heartbeat_at`

// JobStore is the sqlx-backed implementation of lifecycle.Store.
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewJobStore(db *sqlx.DB, logger *slog.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_type, status, priority, params,
			progress_percent, created_at, updated_at,
			owner_user_id, credential_id, webhook_url,
			retries, max_retries, audio_key, audio_url
		) VALUES (
			:job_id, :job_type, :status, :priority, :params,
			:progress_percent, :created_at, :updated_at,
			:owner_user_id, :credential_id, :webhook_url,
			:retries, :max_retries, :audio_key, :audio_url
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apierr.JobAlreadyExists(job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, lifecycle.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetOwned fetches a job scoped to its owner. A foreign-owned job is
// reported as not found, never as forbidden.
func (s *JobStore) GetOwned(ctx context.Context, id string, owner domain.Owner) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1 AND owner_user_id = $2`
	if err := s.db.GetContext(ctx, &job, query, id, owner.UserID); err != nil {
		if err == sql.ErrNoRows {
			return nil, lifecycle.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, owner domain.Owner, f lifecycle.ListFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_user_id = $1`
	args := []interface{}{owner.UserID}
	argIdx := 2

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, f.Type)
		argIdx++
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// guarded runs an update whose WHERE clause encodes the legal source
// states and translates a zero-row result into the precise error.
func (s *JobStore) guarded(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return lifecycle.ErrInvalidTransition
	}
	return nil
}

// SetDispatchToken records the queue handle and moves pending → queued
// atomically. Only valid from pending.
func (s *JobStore) SetDispatchToken(ctx context.Context, id, token string) error {
	query := `
		UPDATE jobs
		SET status = $1, dispatch_token = $2, updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`
	return s.guarded(ctx, id, query, domain.JobStatusQueued, token, id, domain.JobStatusPending)
}

// Claim atomically moves queued → processing and returns the claimed
// job. A zero-row update means another worker won (or the job was
// cancelled while queued) and surfaces as ErrAlreadyClaimed.
func (s *JobStore) Claim(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusProcessing, id, domain.JobStatusQueued)
	if err != nil {
		if err == sql.ErrNoRows {
			s.logger.Warn("failed to claim job, not in queued state",
				slog.String("job_id", id),
			)
			return nil, lifecycle.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// UpdateProgress applies a monotonic progress update to a processing
// job. Stale or out-of-order updates match zero rows and are dropped
// silently: progress is best-effort by contract.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	query := `
		UPDATE jobs
		SET progress_percent = $1,
		    progress_message = COALESCE(NULLIF($2, ''), progress_message),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4 AND progress_percent <= $1
	`
	if _, err := s.db.ExecContext(ctx, query, percent, message, id, domain.JobStatusProcessing); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (s *JobStore) Succeed(ctx context.Context, id string, result json.RawMessage) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    progress_percent = 100,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`
	return s.guarded(ctx, id, query, domain.JobStatusCompleted, []byte(result), id, domain.JobStatusProcessing)
}

func (s *JobStore) Fail(ctx context.Context, id string, jobErr domain.JobError) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_code = $2,
		    error_message = $3,
		    error_retryable = $4,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $5 AND status = ANY($6)
	`
	from := []string{domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusProcessing}
	return s.guarded(ctx, id, query,
		domain.JobStatusFailed, jobErr.Code, jobErr.Message, jobErr.Retryable, id, pqStringArray(from))
}

func (s *JobStore) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $1, completed_at = NOW(), updated_at = NOW()
		WHERE job_id = $2 AND status = ANY($3)
	`
	from := []string{domain.JobStatusPending, domain.JobStatusQueued}
	return s.guarded(ctx, id, query, domain.JobStatusCancelled, id, pqStringArray(from))
}

// Requeue moves processing → queued for a retry attempt, bumping the
// retry counter and clearing stale progress.
func (s *JobStore) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    retries = retries + 1,
		    progress_percent = 0,
		    progress_message = NULL,
		    started_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`
	return s.guarded(ctx, id, query, domain.JobStatusQueued, id, domain.JobStatusProcessing)
}

func (s *JobStore) Heartbeat(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`
	res, err := s.db.ExecContext(ctx, query, id, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		s.logger.Warn("heartbeat for job that is not processing",
			slog.String("job_id", id),
		)
	}
	return nil
}

// MarkWebhookSent flags the webhook as attempted. Setting it twice is a
// no-op, which keeps delivery at-most-once.
func (s *JobStore) MarkWebhookSent(ctx context.Context, id string) error {
	query := `UPDATE jobs SET webhook_sent = TRUE, updated_at = NOW() WHERE job_id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark webhook sent: %w", err)
	}
	return nil
}

// ExpiredJobs returns terminal jobs whose completion predates cutoff,
// oldest first.
func (s *JobStore) ExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ANY($1)
		  AND completed_at < $2
		ORDER BY completed_at ASC
		LIMIT $3
	`
	terminal := []string{domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled}
	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, pqStringArray(terminal), cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job row permanently.
func (s *JobStore) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// PendingWebhooks returns terminal jobs with a callback URL whose
// webhook has not been attempted.
func (s *JobStore) PendingWebhooks(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ANY($1)
		  AND webhook_url IS NOT NULL
		  AND webhook_sent = FALSE
		ORDER BY completed_at ASC
		LIMIT $2
	`
	terminal := []string{domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled}
	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, pqStringArray(terminal), limit); err != nil {
		return nil, fmt.Errorf("failed to list pending webhooks: %w", err)
	}
	return jobs, nil
}

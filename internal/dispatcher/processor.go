package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vocalis/internal/apierr"
	"vocalis/internal/domain"
	"vocalis/internal/lifecycle"
)

// processJob drives one delivery end to end: claim the job, execute it
// under the wall-clock ceiling with a heartbeat, and record the
// outcome. A nil return means the delivery is settled (success, failed
// terminally, or retried via republish) and must be ACKed. The claim
// is the sole arbiter of whether a delivery runs: a duplicate or stale
// delivery finds the job no longer queued and is dropped here.
func (d *Dispatcher) processJob(ctx context.Context, msg *domain.JobMessage) error {
	job, err := d.jobs.Start(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyClaimed) || errors.Is(err, lifecycle.ErrNotFound) {
			// Cancelled while queued, claimed elsewhere, or gone.
			d.logger.Warn("Job not claimable, dropping delivery",
				slog.String("job_id", msg.JobID),
				slog.String("reason", err.Error()),
			)
			return err
		}
		return fmt.Errorf("%w: failed to claim job: %v", errTransient, err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go d.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	result, execErr := d.executor.Execute(jobCtx, job)
	if execErr != nil {
		timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
		return d.settleFailure(ctx, job, execErr, timedOut)
	}

	if err := d.jobs.Succeed(ctx, job.ID, result); err != nil {
		d.logger.Error("Failed to record job success",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		// The work is done; don't redeliver and redo it.
	}
	return nil
}

// settleFailure records a failed execution: requeue and republish when
// the failure is retryable and budget remains, otherwise fail the job
// terminally.
func (d *Dispatcher) settleFailure(ctx context.Context, job *domain.Job, execErr error, timedOut bool) error {
	if timedOut {
		timeoutSecs := int(d.jobTimeout / time.Second)
		d.logger.Warn("Job exceeded execution ceiling",
			slog.String("job_id", job.ID),
			slog.Int("timeout_seconds", timeoutSecs),
		)
		return d.failTerminally(ctx, job, jobErrorFrom(job.ID, apierr.JobTimeout(job.ID, timeoutSecs)))
	}

	retryable := apierr.IsRetryable(execErr)
	if retryable && job.Retries < job.MaxRetries {
		d.logger.Info("Retrying job",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Retries+1),
			slog.Int("max_retries", job.MaxRetries),
			slog.String("error", execErr.Error()),
		)

		if err := d.jobs.Requeue(ctx, job.ID); err != nil {
			d.logger.Error("Failed to requeue job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			return d.failTerminally(ctx, job, jobErrorFrom(job.ID, execErr))
		}

		body, err := json.Marshal(domain.JobMessage{
			JobID:         job.ID,
			DispatchToken: job.DispatchToken.String,
		})
		if err == nil {
			err = d.rabbitClient.PublishWithRetry(ctx, body, "application/json", domain.AMQPPriority(job.Priority))
		}
		if err != nil {
			// Requeued in the store but not on the queue: fail it so
			// the caller is not left with a job nothing will run.
			d.logger.Error("Failed to republish retried job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			return d.failTerminally(ctx, job, domain.JobError{
				Code:      "QUEUE_ERROR",
				Message:   "Failed to re-enqueue job for retry",
				Retryable: true,
			})
		}
		return nil
	}

	if retryable {
		d.logger.Warn("Job exceeded max retries",
			slog.String("job_id", job.ID),
			slog.Int("retries", job.Retries),
			slog.Int("max_retries", job.MaxRetries),
		)
	}
	return d.failTerminally(ctx, job, jobErrorFrom(job.ID, execErr))
}

func (d *Dispatcher) failTerminally(ctx context.Context, job *domain.Job, jobErr domain.JobError) error {
	if err := d.jobs.Fail(ctx, job.ID, jobErr); err != nil {
		d.logger.Error("Failed to record job failure",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
	return nil
}

// jobErrorFrom converts an execution error to the structured error
// recorded on the job. Uncoded errors become a generic processing
// failure for the job.
func jobErrorFrom(jobID string, err error) domain.JobError {
	apiErr := apierr.As(err)
	if apiErr == nil {
		apiErr = apierr.JobFailed(jobID, err.Error())
	}
	return domain.JobError{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Retryable: apiErr.Retryable,
	}
}

// sendJobHeartbeat periodically refreshes the job's liveness timestamp
// while it executes.
func (d *Dispatcher) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.jobs.Heartbeat(ctx, jobID); err != nil {
				d.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

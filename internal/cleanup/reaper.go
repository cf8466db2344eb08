// Package cleanup prunes expired jobs. Terminal jobs older than the
// retention TTL are deleted together with their stored audio, keeping
// the job table and the blob store from growing without bound.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vocalis/internal/apierr"
	"vocalis/internal/blobstore"
	"vocalis/internal/domain"
)

// Store is the slice of the job store the reaper needs.
type Store interface {
	ExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// Config holds reaper configuration
type Config struct {
	TTL       time.Duration
	Interval  time.Duration
	BatchSize int
}

// Reaper periodically deletes terminal jobs past their retention TTL.
type Reaper struct {
	store     Store
	blobs     blobstore.Store
	ttl       time.Duration
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewReaper(store Store, blobs blobstore.Store, cfg Config, logger *slog.Logger) *Reaper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}

	return &Reaper{
		store:     store,
		blobs:     blobs,
		ttl:       cfg.TTL,
		interval:  interval,
		batchSize: batch,
		logger:    logger,
	}
}

// Run sweeps until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("Cleanup reaper started",
		slog.Duration("ttl", r.ttl),
		slog.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Cleanup reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep deletes one batch of expired jobs and their audio blobs.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.ttl)
	jobs, err := r.store.ExpiredJobs(ctx, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to list expired jobs",
			slog.Any("error", err),
		)
		return
	}

	for i := range jobs {
		job := &jobs[i]

		if job.AudioKey.Valid {
			if err := r.blobs.Delete(ctx, job.AudioKey.String); err != nil && !isBlobMissing(err) {
				// Keep the job so the blob is retried next sweep.
				r.logger.Warn("Failed to delete expired audio, keeping job",
					slog.String("job_id", job.ID),
					slog.String("key", job.AudioKey.String),
					slog.Any("error", err),
				)
				continue
			}
		}

		if err := r.store.DeleteJob(ctx, job.ID); err != nil {
			r.logger.Error("Failed to delete expired job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		r.logger.Info("Expired job deleted",
			slog.String("job_id", job.ID),
			slog.String("status", job.Status),
		)
	}
}

// isBlobMissing reports whether the blob was already gone, which the
// sweep treats as success.
func isBlobMissing(err error) bool {
	var apiErr *apierr.Error
	return errors.As(err, &apiErr) && apiErr.Code == "FILE_NOT_FOUND"
}

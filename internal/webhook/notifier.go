// Package webhook delivers completion callbacks for terminal jobs. The
// contract is at-most-once: each job's webhook is attempted exactly one
// time and never retried, so a flaky receiver can never see duplicate
// completion events.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"vocalis/internal/domain"
	"vocalis/internal/lifecycle"
)

// Config holds notifier configuration
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	BatchSize    int
}

// Notifier polls for terminal jobs with unsent webhooks and posts their
// completion payloads.
type Notifier struct {
	jobs      *lifecycle.Manager
	client    *http.Client
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewNotifier(jobs *lifecycle.Manager, cfg Config, logger *slog.Logger) *Notifier {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}

	return &Notifier{
		jobs:      jobs,
		client:    &http.Client{Timeout: timeout},
		interval:  interval,
		batchSize: batch,
		logger:    logger,
	}
}

// Run polls until the context is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	n.logger.Info("Webhook notifier started",
		slog.Duration("poll_interval", n.interval),
	)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Webhook notifier stopped")
			return
		case <-ticker.C:
			n.deliverPending(ctx)
		}
	}
}

func (n *Notifier) deliverPending(ctx context.Context) {
	jobs, err := n.jobs.PendingWebhooks(ctx, n.batchSize)
	if err != nil {
		n.logger.Error("Failed to list pending webhooks",
			slog.Any("error", err),
		)
		return
	}

	for i := range jobs {
		job := &jobs[i]

		// Mark before sending. A crash between the two loses the
		// delivery, which at-most-once permits; marking after could
		// deliver twice, which it does not.
		if err := n.jobs.MarkWebhookSent(ctx, job.ID); err != nil {
			n.logger.Error("Failed to mark webhook sent, skipping delivery",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		if err := n.send(ctx, job); err != nil {
			n.logger.Warn("Webhook delivery failed",
				slog.String("job_id", job.ID),
				slog.String("url", job.WebhookURL.String),
				slog.Any("error", err),
			)
			continue
		}

		n.logger.Info("Webhook delivered",
			slog.String("job_id", job.ID),
			slog.String("status", job.Status),
		)
	}
}

func (n *Notifier) send(ctx context.Context, job *domain.Job) error {
	payload := domain.WebhookPayload{
		Event:   "job." + job.Status,
		JobID:   job.ID,
		JobType: job.Type,
		Status:  job.Status,
		Error:   job.Error(),
	}
	if job.CompletedAt.Valid {
		payload.CompletedAt = job.CompletedAt.Time
	}
	if job.Status == domain.JobStatusCompleted && len(job.Result) > 0 {
		payload.Result = job.Result
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.WebhookURL.String, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vocalis-webhook/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook receiver returned status %d", resp.StatusCode)
	}
	return nil
}

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vocalis/internal/apierr"
	"vocalis/internal/domain"
)

// ListFilter narrows a job listing. Owner scoping is mandatory and
// handled separately.
type ListFilter struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// Store is the persistence contract the Manager drives. Implementations
// must enforce the transition guards themselves (a guarded UPDATE that
// matches zero rows), returning ErrInvalidTransition or ErrNotFound so
// races between writers resolve to exactly one winner.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetOwned(ctx context.Context, id string, owner domain.Owner) (*domain.Job, error)
	List(ctx context.Context, owner domain.Owner, f ListFilter) ([]domain.Job, error)

	SetDispatchToken(ctx context.Context, id, token string) error
	Claim(ctx context.Context, id string) (*domain.Job, error)
	UpdateProgress(ctx context.Context, id string, percent int, message string) error
	Succeed(ctx context.Context, id string, result json.RawMessage) error
	Fail(ctx context.Context, id string, jobErr domain.JobError) error
	Cancel(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) error
	Heartbeat(ctx context.Context, id string) error

	MarkWebhookSent(ctx context.Context, id string) error
	PendingWebhooks(ctx context.Context, limit int) ([]domain.Job, error)
}

// Manager is the only component allowed to move jobs between states.
type Manager struct {
	store  Store
	logger *slog.Logger
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// CreateInput carries everything needed to create a job in pending.
type CreateInput struct {
	Type       string
	Params     json.RawMessage
	Priority   string
	Owner      domain.Owner
	WebhookURL string
	AudioKey   string
	AudioURL   string
	MaxRetries int
}

// Create inserts a new job in status pending.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*domain.Job, error) {
	if in.Priority == "" {
		in.Priority = domain.JobPriorityNormal
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = domain.DefaultMaxRetries
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:           uuid.New().String(),
		Type:         in.Type,
		Status:       domain.JobStatusPending,
		Priority:     in.Priority,
		Params:       in.Params,
		CreatedAt:    now,
		UpdatedAt:    now,
		OwnerUserID:  in.Owner.UserID,
		CredentialID: in.Owner.CredentialID,
		MaxRetries:   in.MaxRetries,
	}
	if in.WebhookURL != "" {
		job.WebhookURL.String, job.WebhookURL.Valid = in.WebhookURL, true
	}
	if in.AudioKey != "" {
		job.AudioKey.String, job.AudioKey.Valid = in.AudioKey, true
	}
	if in.AudioURL != "" {
		job.AudioURL.String, job.AudioURL.Valid = in.AudioURL, true
	}

	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	m.logger.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.String("priority", job.Priority),
		slog.String("user_id", job.OwnerUserID),
	)
	return job, nil
}

// Dispatch hands a pending job to the queue: records the dispatch token
// and moves pending → queued in one guarded update.
func (m *Manager) Dispatch(ctx context.Context, id, token string) error {
	if err := m.store.SetDispatchToken(ctx, id, token); err != nil {
		return err
	}
	m.logger.Info("job dispatched",
		slog.String("job_id", id),
		slog.String("dispatch_token", token),
	)
	return nil
}

// Start claims a queued job for execution (queued → processing, sets
// started_at). A job that cannot be claimed is being handled elsewhere.
func (m *Manager) Start(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.store.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	m.logger.Info("job started",
		slog.String("job_id", id),
		slog.String("job_type", job.Type),
	)
	return job, nil
}

// Progress records a progress update for a processing job. Percentages
// are clamped and never move backwards; updates against jobs no longer
// processing are dropped.
func (m *Manager) Progress(ctx context.Context, id string, percent int, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		// 100 is reserved for completion.
		percent = 99
	}
	return m.store.UpdateProgress(ctx, id, percent, message)
}

// Succeed completes a job: processing → completed, result set,
// progress forced to 100, completed_at stamped.
func (m *Manager) Succeed(ctx context.Context, id string, result json.RawMessage) error {
	if err := m.store.Succeed(ctx, id, result); err != nil {
		return err
	}
	m.logger.Info("job completed", slog.String("job_id", id))
	return nil
}

// Fail moves a job to failed from pending, queued or processing and
// records the structured error.
func (m *Manager) Fail(ctx context.Context, id string, jobErr domain.JobError) error {
	if err := m.store.Fail(ctx, id, jobErr); err != nil {
		return err
	}
	m.logger.Warn("job failed",
		slog.String("job_id", id),
		slog.String("error_code", jobErr.Code),
		slog.String("error", jobErr.Message),
		slog.Bool("retryable", jobErr.Retryable),
	)
	return nil
}

// Requeue sends a processing job back to queued for another attempt and
// increments its retry count.
func (m *Manager) Requeue(ctx context.Context, id string) error {
	if err := m.store.Requeue(ctx, id); err != nil {
		return err
	}
	m.logger.Info("job requeued for retry", slog.String("job_id", id))
	return nil
}

// Cancel cancels an owner's job. Only pending and queued jobs are
// cancellable; anything else is rejected with a validation error naming
// the current status, and the job is left untouched.
func (m *Manager) Cancel(ctx context.Context, id string, owner domain.Owner) error {
	job, err := m.store.GetOwned(ctx, id, owner)
	if err != nil {
		return err
	}
	if !Cancellable(job.Status) {
		return apierr.InvalidStateTransition(id, job.Status)
	}
	if err := m.store.Cancel(ctx, id); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Lost a race with the dispatcher or another canceller;
			// report against whatever state won.
			if current, getErr := m.store.GetOwned(ctx, id, owner); getErr == nil {
				return apierr.InvalidStateTransition(id, current.Status)
			}
		}
		return err
	}
	m.logger.Info("job cancelled", slog.String("job_id", id))
	return nil
}

// Get returns a job scoped to its owner. Foreign-owned and nonexistent
// jobs are indistinguishable.
func (m *Manager) Get(ctx context.Context, id string, owner domain.Owner) (*domain.Job, error) {
	return m.store.GetOwned(ctx, id, owner)
}

// List returns an owner's jobs, newest first.
func (m *Manager) List(ctx context.Context, owner domain.Owner, f ListFilter) ([]domain.Job, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return m.store.List(ctx, owner, f)
}

// Heartbeat refreshes the liveness timestamp of a processing job.
func (m *Manager) Heartbeat(ctx context.Context, id string) error {
	return m.store.Heartbeat(ctx, id)
}

// PendingWebhooks lists terminal jobs whose webhook has not been
// attempted yet.
func (m *Manager) PendingWebhooks(ctx context.Context, limit int) ([]domain.Job, error) {
	return m.store.PendingWebhooks(ctx, limit)
}

// MarkWebhookSent flags a job's webhook as attempted. Idempotent.
func (m *Manager) MarkWebhookSent(ctx context.Context, id string) error {
	return m.store.MarkWebhookSent(ctx, id)
}

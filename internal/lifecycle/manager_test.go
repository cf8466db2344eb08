package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalis/internal/apierr"
	"vocalis/internal/domain"
	"vocalis/shared/logger"
)

// memStore mirrors the guarded-update semantics of the SQL store in
// memory: every transition checks the source state under one lock and a
// mismatch produces the same errors the real store would.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job)}
}

func (s *memStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) GetOwned(_ context.Context, id string, owner domain.Owner) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OwnerUserID != owner.UserID {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) List(_ context.Context, owner domain.Owner, f ListFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.OwnerUserID != owner.UserID {
			continue
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.Type != "" && job.Type != f.Type {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset > len(out) {
		return []domain.Job{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) transition(id string, from []string, apply func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	for _, st := range from {
		if job.Status == st {
			apply(job)
			job.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrInvalidTransition
}

func (s *memStore) SetDispatchToken(_ context.Context, id, token string) error {
	return s.transition(id, []string{domain.JobStatusPending}, func(j *domain.Job) {
		j.Status = domain.JobStatusQueued
		j.DispatchToken.String, j.DispatchToken.Valid = token, true
	})
}

func (s *memStore) Claim(_ context.Context, id string) (*domain.Job, error) {
	err := s.transition(id, []string{domain.JobStatusQueued}, func(j *domain.Job) {
		j.Status = domain.JobStatusProcessing
		j.StartedAt.Time, j.StartedAt.Valid = time.Now().UTC(), true
		j.LastHeartbeatAt.Time, j.LastHeartbeatAt.Valid = time.Now().UTC(), true
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyClaimed
	}
	return s.GetByID(context.Background(), id)
}

func (s *memStore) UpdateProgress(_ context.Context, id string, percent int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing || job.ProgressPercent > percent {
		// Stale updates are dropped, never an error.
		return nil
	}
	job.ProgressPercent = percent
	if message != "" {
		job.ProgressMessage.String, job.ProgressMessage.Valid = message, true
	}
	return nil
}

func (s *memStore) Succeed(_ context.Context, id string, result json.RawMessage) error {
	return s.transition(id, []string{domain.JobStatusProcessing}, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.Result = result
		j.ProgressPercent = 100
		j.CompletedAt.Time, j.CompletedAt.Valid = time.Now().UTC(), true
	})
}

func (s *memStore) Fail(_ context.Context, id string, jobErr domain.JobError) error {
	from := []string{domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusProcessing}
	return s.transition(id, from, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.ErrorCode.String, j.ErrorCode.Valid = jobErr.Code, true
		j.ErrorMessage.String, j.ErrorMessage.Valid = jobErr.Message, true
		j.ErrorRetryable = jobErr.Retryable
		j.CompletedAt.Time, j.CompletedAt.Valid = time.Now().UTC(), true
	})
}

func (s *memStore) Cancel(_ context.Context, id string) error {
	from := []string{domain.JobStatusPending, domain.JobStatusQueued}
	return s.transition(id, from, func(j *domain.Job) {
		j.Status = domain.JobStatusCancelled
		j.CompletedAt.Time, j.CompletedAt.Valid = time.Now().UTC(), true
	})
}

func (s *memStore) Requeue(_ context.Context, id string) error {
	return s.transition(id, []string{domain.JobStatusProcessing}, func(j *domain.Job) {
		j.Status = domain.JobStatusQueued
		j.Retries++
		j.ProgressPercent = 0
		j.ProgressMessage = sql.NullString{}
		j.StartedAt.Valid = false
	})
}

func (s *memStore) Heartbeat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && job.Status == domain.JobStatusProcessing {
		job.LastHeartbeatAt.Time, job.LastHeartbeatAt.Valid = time.Now().UTC(), true
	}
	return nil
}

func (s *memStore) MarkWebhookSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.WebhookSent = true
	}
	return nil
}

func (s *memStore) PendingWebhooks(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if domain.TerminalStatus(job.Status) && job.WebhookURL.Valid && !job.WebhookSent {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Time.Before(out[j].CompletedAt.Time)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*memStore)(nil)

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewManager(store, logger.NewDefault().Logger), store
}

var testOwner = domain.Owner{UserID: "user-1", CredentialID: uuid.NewString()}

func createTestJob(t *testing.T, m *Manager) *domain.Job {
	t.Helper()
	job, err := m.Create(context.Background(), CreateInput{
		Type:   domain.JobTypeTranscription,
		Params: json.RawMessage(`{"language_code":"en"}`),
		Owner:  testOwner,
	})
	require.NoError(t, err)
	return job
}

func TestManager_Create_Defaults(t *testing.T) {
	m, _ := newTestManager(t)

	job := createTestJob(t, m)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.JobPriorityNormal, job.Priority)
	assert.Equal(t, domain.DefaultMaxRetries, job.MaxRetries)
	assert.Equal(t, 0, job.Retries)
	assert.Equal(t, testOwner.UserID, job.OwnerUserID)
	assert.False(t, job.WebhookURL.Valid)
}

func TestManager_Create_Explicit(t *testing.T) {
	m, _ := newTestManager(t)

	job, err := m.Create(context.Background(), CreateInput{
		Type:       domain.JobTypeDiarization,
		Priority:   domain.JobPriorityHigh,
		Owner:      testOwner,
		WebhookURL: "https://example.com/hook",
		AudioKey:   "audio/user-1/2026/08/31/a.wav",
		MaxRetries: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobPriorityHigh, job.Priority)
	assert.Equal(t, 1, job.MaxRetries)
	assert.Equal(t, "https://example.com/hook", job.WebhookURL.String)
	assert.True(t, job.AudioKey.Valid)
}

func TestManager_DispatchAndStart(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)
	token := uuid.NewString()

	require.NoError(t, m.Dispatch(context.Background(), job.ID, token))

	queued, err := m.Get(context.Background(), job.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, queued.Status)
	assert.Equal(t, token, queued.DispatchToken.String)

	started, err := m.Start(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, started.Status)
	assert.True(t, started.StartedAt.Valid)
}

func TestManager_Dispatch_OnlyFromPending(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)

	require.NoError(t, m.Dispatch(context.Background(), job.ID, uuid.NewString()))

	err := m.Dispatch(context.Background(), job.ID, uuid.NewString())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_Start_AlreadyClaimed(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), job.ID, uuid.NewString()))

	_, err := m.Start(context.Background(), job.ID)
	require.NoError(t, err)

	_, err = m.Start(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestManager_Start_NotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Start(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Progress_Clamped(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), job.ID, uuid.NewString()))
	_, err := m.Start(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, m.Progress(context.Background(), job.ID, 150, "almost done"))

	got, err := m.Get(context.Background(), job.ID, testOwner)
	require.NoError(t, err)
	// 100 is reserved for completion.
	assert.Equal(t, 99, got.ProgressPercent)
	assert.Equal(t, "almost done", got.ProgressMessage.String)

	require.NoError(t, m.Progress(context.Background(), job.ID, -10, ""))
	got, err = m.Get(context.Background(), job.ID, testOwner)
	require.NoError(t, err)
	// Progress never moves backwards.
	assert.Equal(t, 99, got.ProgressPercent)
}

func TestManager_Succeed(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), job.ID, uuid.NewString()))
	_, err := m.Start(context.Background(), job.ID)
	require.NoError(t, err)

	result := json.RawMessage(`{"text":"hello"}`)
	require.NoError(t, m.Succeed(context.Background(), job.ID, result))

	got, err := m.Get(context.Background(), job.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Result))
	assert.True(t, got.CompletedAt.Valid)
}

func TestManager_Succeed_RequiresProcessing(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)

	err := m.Succeed(context.Background(), job.ID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_Fail_FromAnyActiveState(t *testing.T) {
	m, _ := newTestManager(t)

	jobErr := domain.JobError{Code: "STT_UNAVAILABLE", Message: "backend down", Retryable: true}

	// pending
	pending := createTestJob(t, m)
	require.NoError(t, m.Fail(context.Background(), pending.ID, jobErr))

	// queued
	queued := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), queued.ID, uuid.NewString()))
	require.NoError(t, m.Fail(context.Background(), queued.ID, jobErr))

	// processing
	processing := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), processing.ID, uuid.NewString()))
	_, err := m.Start(context.Background(), processing.ID)
	require.NoError(t, err)
	require.NoError(t, m.Fail(context.Background(), processing.ID, jobErr))

	got, err := m.Get(context.Background(), processing.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "STT_UNAVAILABLE", got.ErrorCode.String)
	assert.True(t, got.ErrorRetryable)

	// failed is terminal
	err = m.Fail(context.Background(), processing.ID, jobErr)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_Requeue_IncrementsRetries(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), job.ID, uuid.NewString()))
	_, err := m.Start(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, m.Requeue(context.Background(), job.ID))

	got, err := m.Get(context.Background(), job.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, 0, got.ProgressPercent)
	assert.False(t, got.StartedAt.Valid)
}

func TestManager_Cancel_PendingAndQueued(t *testing.T) {
	m, _ := newTestManager(t)

	pending := createTestJob(t, m)
	require.NoError(t, m.Cancel(context.Background(), pending.ID, testOwner))

	queued := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), queued.ID, uuid.NewString()))
	require.NoError(t, m.Cancel(context.Background(), queued.ID, testOwner))

	got, err := m.Get(context.Background(), queued.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
}

func TestManager_Cancel_ProcessingRejected(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), job.ID, uuid.NewString()))
	_, err := m.Start(context.Background(), job.ID)
	require.NoError(t, err)

	err = m.Cancel(context.Background(), job.ID, testOwner)
	require.Error(t, err)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.Status)
	assert.Equal(t, "INVALID_STATE_TRANSITION", apiErr.Code)
	assert.Equal(t, domain.JobStatusProcessing, apiErr.Details["current_status"])

	// The job is left untouched.
	got, err := m.Get(context.Background(), job.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
}

func TestManager_Cancel_ForeignOwnerLooksLikeNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)

	other := domain.Owner{UserID: "user-2", CredentialID: uuid.NewString()}
	err := m.Cancel(context.Background(), job.ID, other)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Get_ForeignOwnerLooksLikeNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	job := createTestJob(t, m)

	other := domain.Owner{UserID: "user-2", CredentialID: uuid.NewString()}
	_, err := m.Get(context.Background(), job.ID, other)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_List_DefaultsAndCaps(t *testing.T) {
	m, store := newTestManager(t)

	base := time.Now().UTC()
	for i := 0; i < 120; i++ {
		job := &domain.Job{
			ID:          uuid.NewString(),
			Type:        domain.JobTypeTranscription,
			Status:      domain.JobStatusPending,
			Priority:    domain.JobPriorityNormal,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
			OwnerUserID: testOwner.UserID,
		}
		require.NoError(t, store.Create(context.Background(), job))
	}

	// Zero limit defaults to 50.
	jobs, err := m.List(context.Background(), testOwner, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 50)

	// Newest first.
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))

	// Limit is capped at 100.
	jobs, err = m.List(context.Background(), testOwner, ListFilter{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, jobs, 100)
}

func TestManager_List_StatusFilter(t *testing.T) {
	m, _ := newTestManager(t)

	done := createTestJob(t, m)
	require.NoError(t, m.Dispatch(context.Background(), done.ID, uuid.NewString()))
	_, err := m.Start(context.Background(), done.ID)
	require.NoError(t, err)
	require.NoError(t, m.Succeed(context.Background(), done.ID, json.RawMessage(`{}`)))

	createTestJob(t, m)

	jobs, err := m.List(context.Background(), testOwner, ListFilter{Status: domain.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, done.ID, jobs[0].ID)
}

func TestManager_Webhooks(t *testing.T) {
	m, _ := newTestManager(t)

	job, err := m.Create(context.Background(), CreateInput{
		Type:       domain.JobTypeTranscription,
		Owner:      testOwner,
		WebhookURL: "https://example.com/hook",
	})
	require.NoError(t, err)

	// Not terminal yet, so nothing pending.
	pending, err := m.PendingWebhooks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, m.Fail(context.Background(), job.ID, domain.JobError{Code: "X", Message: "boom"}))

	pending, err = m.PendingWebhooks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)

	require.NoError(t, m.MarkWebhookSent(context.Background(), job.ID))

	pending, err = m.PendingWebhooks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

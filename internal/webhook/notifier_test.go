package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalis/internal/domain"
	"vocalis/internal/lifecycle"
	"vocalis/shared/logger"
)

// webhookStore implements just enough of lifecycle.Store to drive the
// notifier: a fixed set of terminal jobs and the sent flag.
type webhookStore struct {
	mu      sync.Mutex
	jobs    []domain.Job
	sent    map[string]bool
	markErr error
}

func newWebhookStore(jobs ...domain.Job) *webhookStore {
	return &webhookStore{jobs: jobs, sent: make(map[string]bool)}
}

func (s *webhookStore) PendingWebhooks(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.WebhookURL.Valid && !s.sent[job.ID] {
			out = append(out, job)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *webhookStore) MarkWebhookSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.sent[id] = true
	return nil
}

func (s *webhookStore) marked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[id]
}

// The notifier never touches the rest of the store surface.

func (s *webhookStore) Create(context.Context, *domain.Job) error { return errors.New("unexpected") }
func (s *webhookStore) GetByID(context.Context, string) (*domain.Job, error) {
	return nil, errors.New("unexpected")
}
func (s *webhookStore) GetOwned(context.Context, string, domain.Owner) (*domain.Job, error) {
	return nil, errors.New("unexpected")
}
func (s *webhookStore) List(context.Context, domain.Owner, lifecycle.ListFilter) ([]domain.Job, error) {
	return nil, errors.New("unexpected")
}
func (s *webhookStore) SetDispatchToken(context.Context, string, string) error {
	return errors.New("unexpected")
}
func (s *webhookStore) Claim(context.Context, string) (*domain.Job, error) {
	return nil, errors.New("unexpected")
}
func (s *webhookStore) UpdateProgress(context.Context, string, int, string) error {
	return errors.New("unexpected")
}
func (s *webhookStore) Succeed(context.Context, string, json.RawMessage) error {
	return errors.New("unexpected")
}
func (s *webhookStore) Fail(context.Context, string, domain.JobError) error {
	return errors.New("unexpected")
}
func (s *webhookStore) Cancel(context.Context, string) error  { return errors.New("unexpected") }
func (s *webhookStore) Requeue(context.Context, string) error { return errors.New("unexpected") }
func (s *webhookStore) Heartbeat(context.Context, string) error {
	return errors.New("unexpected")
}

var _ lifecycle.Store = (*webhookStore)(nil)

func terminalJob(status, url string) domain.Job {
	job := domain.Job{
		ID:          uuid.NewString(),
		Type:        domain.JobTypeTranscription,
		Status:      status,
		Priority:    domain.JobPriorityNormal,
		OwnerUserID: "user-1",
		CompletedAt: sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	job.WebhookURL = sql.NullString{String: url, Valid: true}
	if status == domain.JobStatusCompleted {
		job.Result = json.RawMessage(`{"text":"hello"}`)
	}
	if status == domain.JobStatusFailed {
		job.ErrorCode = sql.NullString{String: "STT_SERVICE_ERROR", Valid: true}
		job.ErrorMessage = sql.NullString{String: "backend down", Valid: true}
	}
	return job
}

func newTestNotifier(store lifecycle.Store) *Notifier {
	jobs := lifecycle.NewManager(store, logger.NewDefault().Logger)
	return NewNotifier(jobs, Config{Timeout: 2 * time.Second}, logger.NewDefault().Logger)
}

func TestNotifier_DeliversCompletedJob(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []domain.WebhookPayload
		headers  []http.Header
	)

	store := newWebhookStore()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload domain.WebhookPayload
		require.NoError(t, json.Unmarshal(body, &payload))

		mu.Lock()
		requests = append(requests, payload)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()

		// The job must be marked before the request goes out.
		assert.True(t, store.marked(payload.JobID))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := terminalJob(domain.JobStatusCompleted, srv.URL)
	store.jobs = []domain.Job{job}

	notifier := newTestNotifier(store)
	notifier.deliverPending(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 1)

	payload := requests[0]
	assert.Equal(t, "job.completed", payload.Event)
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, domain.JobTypeTranscription, payload.JobType)
	assert.Equal(t, domain.JobStatusCompleted, payload.Status)
	assert.JSONEq(t, `{"text":"hello"}`, string(payload.Result))
	assert.Nil(t, payload.Error)

	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
	assert.Equal(t, "vocalis-webhook/1.0", headers[0].Get("User-Agent"))
}

func TestNotifier_DeliversFailedJobWithError(t *testing.T) {
	var (
		mu      sync.Mutex
		payload domain.WebhookPayload
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		require.NoError(t, json.Unmarshal(body, &payload))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newWebhookStore(terminalJob(domain.JobStatusFailed, srv.URL))
	notifier := newTestNotifier(store)
	notifier.deliverPending(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "job.failed", payload.Event)
	require.NotNil(t, payload.Error)
	assert.Equal(t, "STT_SERVICE_ERROR", payload.Error.Code)
	assert.Equal(t, "backend down", payload.Error.Message)
	assert.Empty(t, payload.Result)
}

func TestNotifier_MarkFailureSkipsDelivery(t *testing.T) {
	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newWebhookStore(terminalJob(domain.JobStatusCompleted, srv.URL))
	store.markErr = errors.New("db unavailable")

	notifier := newTestNotifier(store)
	notifier.deliverPending(context.Background())

	// Mark-before-send: if the mark fails, nothing may be delivered.
	assert.Zero(t, hits.Load())
}

func TestNotifier_FailedDeliveryIsNotRetried(t *testing.T) {
	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	job := terminalJob(domain.JobStatusCompleted, srv.URL)
	store := newWebhookStore(job)

	notifier := newTestNotifier(store)
	notifier.deliverPending(context.Background())
	notifier.deliverPending(context.Background())

	// At-most-once: one attempt, ever, even though the receiver failed.
	assert.Equal(t, int64(1), hits.Load())
	assert.True(t, store.marked(job.ID))
}

func TestNotifier_UnreachableReceiver(t *testing.T) {
	job := terminalJob(domain.JobStatusCompleted, "http://127.0.0.1:1/hook")
	store := newWebhookStore(job)

	notifier := newTestNotifier(store)
	notifier.deliverPending(context.Background())

	// The attempt is burned regardless of the outcome.
	assert.True(t, store.marked(job.ID))
}

func TestNewNotifier_Defaults(t *testing.T) {
	n := NewNotifier(nil, Config{}, logger.NewDefault().Logger)

	assert.Equal(t, 5*time.Second, n.interval)
	assert.Equal(t, 50, n.batchSize)
	assert.Equal(t, 10*time.Second, n.client.Timeout)
}

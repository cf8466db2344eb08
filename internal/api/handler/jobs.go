package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vocalis/internal/api/dto"
	"vocalis/internal/apierr"
	"vocalis/internal/blobstore"
	"vocalis/internal/domain"
	"vocalis/internal/lifecycle"
)

// CredentialKey is the gin context key the auth middleware stores the
// resolved credential under.
const CredentialKey = "credential"

// CredentialFrom returns the authenticated credential, or nil on
// unauthenticated routes.
func CredentialFrom(c *gin.Context) *domain.Credential {
	v, ok := c.Get(CredentialKey)
	if !ok {
		return nil
	}
	cred, _ := v.(*domain.Credential)
	return cred
}

var supportedAudioFormats = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".webm"}

func supportedAudioFormat(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	for _, s := range supportedAudioFormats {
		if ext == s {
			return true
		}
	}
	return false
}

// CreateTranscription handles POST /v1/transcriptions
// Accepts an audio upload and submits an asynchronous transcription job.
func (h *Handler) CreateTranscription(c *gin.Context) {
	var opts dto.TranscriptionOptions
	if err := c.ShouldBind(&opts); err != nil {
		h.renderError(c, apierr.Validation("Invalid form fields", map[string]any{"reason": err.Error()}))
		return
	}

	params := domain.TranscriptionParams{
		LanguageCode:       opts.LanguageCode,
		SpeakerDiarization: opts.SpeakerDiarization,
		WordTimestamps:     opts.WordTimestamps,
	}
	if err := params.Validate(); err != nil {
		h.renderError(c, apierr.Validation(err.Error(), nil))
		return
	}

	jobType := domain.JobTypeTranscription
	var encoded json.RawMessage
	var err error
	if opts.SpeakerDiarization {
		jobType = domain.JobTypeTranscriptionWithDiarization
		encoded, err = domain.EncodeParams(domain.CombinedParams{TranscriptionParams: params})
	} else {
		encoded, err = domain.EncodeParams(params)
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.submitAudioJob(c, jobType, encoded, opts.Priority, opts.WebhookURL, opts.AudioURL)
}

// CreateDiarization handles POST /v1/diarizations
// Accepts an audio upload and submits an asynchronous diarization job.
func (h *Handler) CreateDiarization(c *gin.Context) {
	var opts dto.DiarizationOptions
	if err := c.ShouldBind(&opts); err != nil {
		h.renderError(c, apierr.Validation("Invalid form fields", map[string]any{"reason": err.Error()}))
		return
	}

	params := domain.DiarizationParams{
		NumSpeakers: opts.NumSpeakers,
		MinSpeakers: opts.MinSpeakers,
		MaxSpeakers: opts.MaxSpeakers,
	}
	if err := params.Validate(); err != nil {
		h.renderError(c, apierr.Validation(err.Error(), nil))
		return
	}

	encoded, err := domain.EncodeParams(params)
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.submitAudioJob(c, domain.JobTypeDiarization, encoded, opts.Priority, opts.WebhookURL, opts.AudioURL)
}

// submitAudioJob runs the shared submission pipeline: validate the
// upload, store the audio blob, create the job in pending, publish the
// dispatch message and move the job to queued. The 202 reply reports
// the queued job. Audio arrives either as a multipart file or as an
// audio_url the service fetches, never both.
func (h *Handler) submitAudioJob(c *gin.Context, jobType string, params json.RawMessage, priority, webhookURL, audioURL string) {
	cred := CredentialFrom(c)
	if cred == nil {
		h.renderError(c, apierr.Authentication(""))
		return
	}

	if priority == "" {
		priority = domain.JobPriorityNormal
	}
	if !domain.ValidJobPriority(priority) {
		h.renderError(c, apierr.Validation("Invalid priority", map[string]any{
			"priority": priority,
			"allowed":  []string{domain.JobPriorityLow, domain.JobPriorityNormal, domain.JobPriorityHigh},
		}))
		return
	}

	fileHeader, fileErr := c.FormFile("file")
	hasFile := fileErr == nil

	if hasFile && audioURL != "" {
		h.renderError(c, apierr.Validation("Provide an audio file or audio_url, not both", nil))
		return
	}
	if !hasFile && audioURL == "" {
		h.renderError(c, apierr.Validation("Audio file is required", nil))
		return
	}

	var audioKey string
	if hasFile {
		if !supportedAudioFormat(fileHeader.Filename) {
			h.renderError(c, apierr.InvalidAudioFormat(
				strings.ToLower(path.Ext(fileHeader.Filename)),
				supportedAudioFormats,
			))
			return
		}

		if h.deps.MaxAudioBytes > 0 && fileHeader.Size > h.deps.MaxAudioBytes {
			h.renderError(c, apierr.FileTooLarge(
				humanize.Bytes(uint64(fileHeader.Size)),
				humanize.Bytes(uint64(h.deps.MaxAudioBytes)),
			))
			return
		}

		key, err := h.storeAudio(c, cred.UserID, fileHeader)
		if err != nil {
			h.renderError(c, err)
			return
		}
		audioKey = key
	} else {
		key, err := h.fetchAudio(c, cred.UserID, audioURL)
		if err != nil {
			h.renderError(c, err)
			return
		}
		audioKey = key
	}

	job, err := h.deps.Jobs.Create(c.Request.Context(), lifecycle.CreateInput{
		Type:       jobType,
		Params:     params,
		Priority:   priority,
		Owner:      cred.Owner(),
		WebhookURL: webhookURL,
		AudioKey:   audioKey,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	if err := h.dispatch(c, job); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.JobAccepted{
		JobID:     job.ID,
		JobType:   job.Type,
		Status:    domain.JobStatusQueued,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
	})
}

func (h *Handler) storeAudio(c *gin.Context, userID string, fileHeader *multipart.FileHeader) (string, error) {
	f, err := fileHeader.Open()
	if err != nil {
		return "", apierr.Storage("Failed to read uploaded file").Wrap(err)
	}
	defer f.Close()

	key := blobstore.GenerateKey(userID, fileHeader.Filename, time.Now())
	contentType := fileHeader.Header.Get("Content-Type")

	if _, err := h.deps.Blobs.Upload(c.Request.Context(), key, f, contentType); err != nil {
		return "", apierr.Storage("Failed to store uploaded file").Wrap(err)
	}
	return key, nil
}

// fetchAudio downloads the audio from a caller-supplied URL into the
// blob store. The size ceiling is enforced while streaming since remote
// servers may omit Content-Length.
func (h *Handler) fetchAudio(c *gin.Context, userID, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apierr.Validation("audio_url must be an absolute http(s) URL", nil)
	}

	if !supportedAudioFormat(u.Path) {
		return "", apierr.InvalidAudioFormat(
			strings.ToLower(path.Ext(u.Path)),
			supportedAudioFormats,
		)
	}

	ctx := c.Request.Context()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", apierr.Validation("audio_url must be an absolute http(s) URL", nil)
	}

	resp, err := h.fetch.Do(req)
	if err != nil {
		return "", apierr.Validation("Failed to fetch audio_url", map[string]any{"reason": err.Error()})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apierr.Validation("audio_url fetch failed", map[string]any{"upstream_status": resp.StatusCode})
	}

	var body io.Reader = resp.Body
	if h.deps.MaxAudioBytes > 0 {
		if resp.ContentLength > h.deps.MaxAudioBytes {
			return "", apierr.FileTooLarge(
				humanize.Bytes(uint64(resp.ContentLength)),
				humanize.Bytes(uint64(h.deps.MaxAudioBytes)),
			)
		}
		body = io.LimitReader(resp.Body, h.deps.MaxAudioBytes+1)
	}

	key := blobstore.GenerateKey(userID, path.Base(u.Path), time.Now())
	n, err := h.deps.Blobs.Upload(ctx, key, body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", apierr.Storage("Failed to store fetched audio").Wrap(err)
	}

	if h.deps.MaxAudioBytes > 0 && n > h.deps.MaxAudioBytes {
		if delErr := h.deps.Blobs.Delete(ctx, key); delErr != nil {
			h.logger.Warn("Failed to delete oversized fetched audio",
				slog.String("key", key),
				slog.Any("error", delErr),
			)
		}
		return "", apierr.FileTooLarge(
			humanize.Bytes(uint64(n)),
			humanize.Bytes(uint64(h.deps.MaxAudioBytes)),
		)
	}

	return key, nil
}

// dispatch moves the job to queued with its token, then publishes the
// queue message. The store transition must land before the broker sees
// the message: a worker can consume the delivery immediately, and its
// claim requires the job to already be queued. A publish failure fails
// the job so it never sits in queued with nothing to run it.
func (h *Handler) dispatch(c *gin.Context, job *domain.Job) error {
	ctx := c.Request.Context()
	token := uuid.New().String()

	msg, err := json.Marshal(domain.JobMessage{
		JobID:         job.ID,
		DispatchToken: token,
	})
	if err != nil {
		return err
	}

	if err := h.deps.Jobs.Dispatch(ctx, job.ID, token); err != nil {
		return err
	}

	if err := h.deps.Queue.PublishWithRetry(ctx, msg, "application/json", domain.AMQPPriority(job.Priority)); err != nil {
		h.logger.Error("Failed to publish job, failing it",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		if failErr := h.deps.Jobs.Fail(ctx, job.ID, domain.JobError{
			Code:      "QUEUE_ERROR",
			Message:   "Failed to enqueue job for processing",
			Retryable: true,
		}); failErr != nil {
			h.logger.Error("Failed to mark unpublished job as failed",
				slog.String("job_id", job.ID),
				slog.Any("error", failErr),
			)
		}
		return apierr.Storage("Failed to enqueue job").Wrap(err)
	}

	return nil
}

// GetJob handles GET /v1/jobs/:job_id
// Retrieves a job owned by the caller.
func (h *Handler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.renderError(c, apierr.JobNotFound(jobID))
		return
	}

	cred := CredentialFrom(c)
	job, err := h.deps.Jobs.Get(c.Request.Context(), jobID, cred.Owner())
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /v1/jobs
// Lists the caller's jobs, newest first, with optional filters.
func (h *Handler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.renderError(c, apierr.Validation("Invalid query parameters", map[string]any{"reason": err.Error()}))
		return
	}

	if req.Status != "" && !domain.TerminalStatus(req.Status) &&
		req.Status != domain.JobStatusPending && req.Status != domain.JobStatusQueued && req.Status != domain.JobStatusProcessing {
		h.renderError(c, apierr.Validation("Invalid status filter", map[string]any{"status": req.Status}))
		return
	}
	if req.JobType != "" && !domain.ValidJobType(req.JobType) {
		h.renderError(c, apierr.Validation("Invalid job_type filter", map[string]any{"job_type": req.JobType}))
		return
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	cred := CredentialFrom(c)
	jobs, err := h.deps.Jobs.List(c.Request.Context(), cred.Owner(), lifecycle.ListFilter{
		Status: req.Status,
		Type:   req.JobType,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	out := make([]dto.JobDetail, len(jobs))
	for i := range jobs {
		out[i] = dto.FromJob(&jobs[i])
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:   out,
		Limit:  limit,
		Offset: req.Offset,
	})
}

// CancelJob handles DELETE /v1/jobs/:job_id
// Cancels a pending or queued job owned by the caller.
func (h *Handler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.renderError(c, apierr.JobNotFound(jobID))
		return
	}

	cred := CredentialFrom(c)
	if err := h.deps.Jobs.Cancel(c.Request.Context(), jobID, cred.Owner()); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		JobID:  jobID,
		Status: domain.JobStatusCancelled,
	})
}

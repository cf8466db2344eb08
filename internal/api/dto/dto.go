// Package dto holds the request and response shapes of the HTTP API.
package dto

import (
	"encoding/json"
	"time"

	"vocalis/internal/domain"
)

// TranscriptionOptions are the form fields accepted alongside the audio
// upload on POST /v1/transcriptions.
type TranscriptionOptions struct {
	LanguageCode       string `form:"language_code"`
	SpeakerDiarization bool   `form:"speaker_diarization"`
	WordTimestamps     bool   `form:"word_timestamps"`
	Priority           string `form:"priority"`
	WebhookURL         string `form:"webhook_url"`
	AudioURL           string `form:"audio_url"`
}

// DiarizationOptions are the form fields accepted alongside the audio
// upload on POST /v1/diarizations.
type DiarizationOptions struct {
	NumSpeakers int    `form:"num_speakers"`
	MinSpeakers int    `form:"min_speakers"`
	MaxSpeakers int    `form:"max_speakers"`
	Priority    string `form:"priority"`
	WebhookURL  string `form:"webhook_url"`
	AudioURL    string `form:"audio_url"`
}

// JobAccepted is the 202 response for a newly submitted job.
type JobAccepted struct {
	JobID     string    `json:"job_id"`
	JobType   string    `json:"job_type"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// JobErrorDTO is the error block on a failed job.
type JobErrorDTO struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// JobDetail is the full job view returned by GET /v1/jobs/:job_id.
type JobDetail struct {
	JobID           string          `json:"job_id"`
	JobType         string          `json:"job_type"`
	Status          string          `json:"status"`
	Priority        string          `json:"priority"`
	Params          json.RawMessage `json:"params,omitempty"`
	ProgressPercent int             `json:"progress_percent"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *JobErrorDTO    `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// ListJobsRequest are the query parameters of GET /v1/jobs.
type ListJobsRequest struct {
	Status  string `form:"status"`
	JobType string `form:"job_type"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// ListJobsResponse is the paged job listing.
type ListJobsResponse struct {
	Jobs   []JobDetail `json:"jobs"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// CancelJobResponse acknowledges a cancellation.
type CancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ChatMessageDTO is one chat turn in a completion request.
type ChatMessageDTO struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []ChatMessageDTO `json:"messages" binding:"required,min=1"`
	Temperature float32          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int            `json:"index"`
	Message      ChatMessageDTO `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streaming completion response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   UsageDTO     `json:"usage"`
}

// UsageDTO reports token accounting.
type UsageDTO struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatDelta is the delta block inside a streaming chunk.
type ChatDelta struct {
	Content string `json:"content,omitempty"`
}

// ChatStreamChoice is one choice inside a streaming chunk.
type ChatStreamChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE event of a streamed completion.
type ChatCompletionChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
}

// FromJob maps a domain job to its API view.
func FromJob(job *domain.Job) JobDetail {
	detail := JobDetail{
		JobID:           job.ID,
		JobType:         job.Type,
		Status:          job.Status,
		Priority:        job.Priority,
		Params:          job.Params,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage.String,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}

	if job.Status == domain.JobStatusCompleted && len(job.Result) > 0 {
		detail.Result = job.Result
	}

	if jobErr := job.Error(); jobErr != nil {
		detail.Error = &JobErrorDTO{
			Code:      jobErr.Code,
			Message:   jobErr.Message,
			Retryable: jobErr.Retryable,
		}
	}

	if job.StartedAt.Valid {
		t := job.StartedAt.Time
		detail.StartedAt = &t
	}
	if job.CompletedAt.Valid {
		t := job.CompletedAt.Time
		detail.CompletedAt = &t
	}

	return detail
}

package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Job types.
const (
	JobTypeTranscription             = "transcription"
	JobTypeDiarization               = "diarization"
	JobTypeTranscriptionWithDiarization = "transcription_with_diarization"
)

// Job statuses. Transitions between them are governed by the lifecycle
// package; nothing else writes Status.
const (
	JobStatusPending    = "pending"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Job priorities. Advisory only: they affect dispatch ordering, never
// correctness.
const (
	JobPriorityLow    = "low"
	JobPriorityNormal = "normal"
	JobPriorityHigh   = "high"
)

// DefaultMaxRetries bounds worker-side retry attempts per job.
const DefaultMaxRetries = 3

// ValidJobType reports whether t names a known job type.
func ValidJobType(t string) bool {
	switch t {
	case JobTypeTranscription, JobTypeDiarization, JobTypeTranscriptionWithDiarization:
		return true
	}
	return false
}

// ValidJobPriority reports whether p names a known priority.
func ValidJobPriority(p string) bool {
	switch p {
	case JobPriorityLow, JobPriorityNormal, JobPriorityHigh:
		return true
	}
	return false
}

// TerminalStatus reports whether s is a final state.
func TerminalStatus(s string) bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AMQPPriority maps a job priority onto the 0..10 AMQP message priority
// range used by the dispatch queue.
func AMQPPriority(p string) uint8 {
	switch p {
	case JobPriorityHigh:
		return 9
	case JobPriorityLow:
		return 1
	default:
		return 5
	}
}

// JobError is the structured error recorded on a failed job.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Job is the durable record of one unit of asynchronous work.
// Params and Result are stored as schemaless JSON blobs; the typed views
// live in params.go and are applied only at the boundary.
type Job struct {
	ID              string          `db:"job_id"`
	Type            string          `db:"job_type"`
	Status          string          `db:"status"`
	Priority        string          `db:"priority"`
	Params          json.RawMessage `db:"params"`
	Result          json.RawMessage `db:"result"`
	ErrorCode       sql.NullString  `db:"error_code"`
	ErrorMessage    sql.NullString  `db:"error_message"`
	ErrorRetryable  bool            `db:"error_retryable"`
	ProgressPercent int             `db:"progress_percent"`
	ProgressMessage sql.NullString  `db:"progress_message"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	StartedAt       sql.NullTime    `db:"started_at"`
	CompletedAt     sql.NullTime    `db:"completed_at"`
	OwnerUserID     string          `db:"owner_user_id"`
	CredentialID    string          `db:"credential_id"`
	WebhookURL      sql.NullString  `db:"webhook_url"`
	WebhookSent     bool            `db:"webhook_sent"`
	DispatchToken   sql.NullString  `db:"dispatch_token"`
	Retries         int             `db:"retries"`
	MaxRetries      int             `db:"max_retries"`
	AudioKey        sql.NullString  `db:"audio_key"`
	AudioURL        sql.NullString  `db:"audio_url"`
	LastHeartbeatAt sql.NullTime    `db:"last_heartbeat_at"`
}

// Error returns the structured error for a failed job, or nil.
func (j *Job) Error() *JobError {
	if !j.ErrorMessage.Valid && !j.ErrorCode.Valid {
		return nil
	}
	code := j.ErrorCode.String
	if code == "" {
		code = "JOB_ERROR"
	}
	return &JobError{
		Code:      code,
		Message:   j.ErrorMessage.String,
		Retryable: j.ErrorRetryable,
	}
}

// Owner identifies the caller a job belongs to. All retrieval and
// mutation is scoped by it.
type Owner struct {
	UserID       string
	CredentialID string
}

// JobMessage is the dispatch-queue payload correlating a queue entry to
// its job record.
type JobMessage struct {
	JobID         string `json:"job_id"`
	DispatchToken string `json:"dispatch_token"`
	DeliveryTag   uint64 `json:"-"`
}

// WebhookPayload is the body delivered to a job's callback URL once the
// job reaches a terminal state.
type WebhookPayload struct {
	Event       string          `json:"event"`
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type"`
	Status      string          `json:"status"`
	CompletedAt time.Time       `json:"completed_at"`
	ResultURL   string          `json:"result_url,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

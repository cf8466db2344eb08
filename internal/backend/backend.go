// Package backend defines the inference backends the job layer fronts:
// chat completion, speech-to-text and speaker diarization. Each backend
// is an interface with a mock implementation for local development and
// a real client wired from configuration.
package backend

import (
	"context"
	"io"

	"vocalis/internal/domain"
)

// ChatMessage is a single turn in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a completed (non-streaming) chat response.
type ChatResponse struct {
	Model   string
	Content string
	Usage   Usage
}

// LLM produces chat completions, optionally streamed. ChatStream calls
// onDelta once per content fragment in order; a non-nil return from
// onDelta aborts the stream.
type LLM interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, onDelta func(delta string) error) error

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Word is a recognized word with timing.
type Word struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
}

// TranscribeRequest carries the audio and decoding options for a
// speech-to-text run.
type TranscribeRequest struct {
	Audio    io.Reader
	Filename string
	Params   domain.TranscriptionParams

	// Progress receives coarse progress updates when non-nil.
	Progress func(percent int, message string)
}

// TranscriptSegment is a contiguous span of recognized speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the output of a speech-to-text run.
type TranscriptionResult struct {
	Text            string              `json:"text"`
	LanguageCode    string              `json:"language_code"`
	DurationSeconds float64             `json:"duration_seconds"`
	Confidence      float64             `json:"confidence,omitempty"`
	Segments        []TranscriptSegment `json:"segments,omitempty"`
	Words           []Word              `json:"words,omitempty"`
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (*TranscriptionResult, error)
}

// DiarizeRequest carries the audio and speaker hints for a diarization
// run.
type DiarizeRequest struct {
	Audio    io.Reader
	Filename string
	Params   domain.DiarizationParams

	Progress func(percent int, message string)
}

// Segment is a span of audio attributed to one speaker.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Overlap is a span where more than one speaker talks at once.
type Overlap struct {
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Speakers []string `json:"speakers"`
}

// SpeakerStat aggregates one speaker's talk time.
type SpeakerStat struct {
	Speaker      string  `json:"speaker"`
	TotalSeconds float64 `json:"total_seconds"`
	Segments     int     `json:"segments"`
}

// DiarizationResult is the output of a diarization run. RTTM holds the
// same segments rendered in RTTM exchange format.
type DiarizationResult struct {
	Segments    []Segment     `json:"segments"`
	Speakers    []string      `json:"speakers"`
	NumSpeakers int           `json:"num_speakers"`
	Overlaps    []Overlap     `json:"overlaps,omitempty"`
	Stats       []SpeakerStat `json:"stats,omitempty"`
	RTTM        string        `json:"rttm"`
}

// Diarizer attributes audio spans to speakers.
type Diarizer interface {
	Diarize(ctx context.Context, req DiarizeRequest) (*DiarizationResult, error)
}

package backend

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// MockLLM is a deterministic chat backend for development and tests.
type MockLLM struct{}

func NewMockLLM() *MockLLM { return &MockLLM{} }

func (m *MockLLM) reply(req ChatRequest) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		return "Hello! How can I help you today?"
	}
	return fmt.Sprintf("You said: %q. This is a mock completion.", last)
}

func (m *MockLLM) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	content := m.reply(req)
	promptTokens := 0
	for _, msg := range req.Messages {
		promptTokens += len(strings.Fields(msg.Content))
	}
	completionTokens := len(strings.Fields(content))

	model := req.Model
	if model == "" {
		model = DefaultChatModel
	}

	return &ChatResponse{
		Model:   model,
		Content: content,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func (m *MockLLM) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string) error) error {
	words := strings.Fields(m.reply(req))
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		delta := w
		if i < len(words)-1 {
			delta += " "
		}
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockLLM) HealthCheck(context.Context) error { return nil }

// MockTranscriber is a deterministic speech-to-text backend. The
// requested language code passes through unchanged so callers can
// verify option plumbing end to end.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (m *MockTranscriber) Transcribe(_ context.Context, req TranscribeRequest) (*TranscriptionResult, error) {
	if req.Progress != nil {
		req.Progress(10, "decoding audio")
	}

	n, err := io.Copy(io.Discard, req.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	if req.Progress != nil {
		req.Progress(80, "transcribing")
	}

	lang := req.Params.LanguageCode
	if lang == "" {
		lang = "en"
	}

	result := &TranscriptionResult{
		Text:            "This is a mock transcription of the submitted audio.",
		LanguageCode:    lang,
		DurationSeconds: float64(n) / 32000.0,
		Confidence:      0.92,
	}
	result.Segments = []TranscriptSegment{{
		Start: 0,
		End:   result.DurationSeconds,
		Text:  result.Text,
	}}

	if req.Params.WordTimestamps {
		words := strings.Fields(result.Text)
		step := 0.4
		for i, w := range words {
			start := float64(i) * step
			result.Words = append(result.Words, Word{
				Word:  w,
				Start: start,
				End:   start + step,
			})
		}
	}

	return result, nil
}

// MockDiarizer is a deterministic diarization backend producing eight
// fixed segments with speakers assigned round-robin.
type MockDiarizer struct{}

func NewMockDiarizer() *MockDiarizer { return &MockDiarizer{} }

func (m *MockDiarizer) Diarize(_ context.Context, req DiarizeRequest) (*DiarizationResult, error) {
	if req.Progress != nil {
		req.Progress(10, "decoding audio")
	}

	if _, err := io.Copy(io.Discard, req.Audio); err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	speakers := 2
	if req.Params.NumSpeakers > 0 {
		speakers = req.Params.NumSpeakers
	}

	if req.Progress != nil {
		req.Progress(80, "clustering speakers")
	}

	const segmentCount = 8
	const segmentLen = 4.0

	segments := make([]Segment, 0, segmentCount)
	for i := 0; i < segmentCount; i++ {
		start := float64(i) * segmentLen
		segments = append(segments, Segment{
			Start:   start,
			End:     start + segmentLen,
			Speaker: fmt.Sprintf("SPEAKER_%02d", i%speakers),
		})
	}

	result := &DiarizationResult{
		Segments:    segments,
		Speakers:    DistinctSpeakers(segments),
		NumSpeakers: CountSpeakers(segments),
		Stats:       SpeakerStats(segments),
		RTTM:        FormatRTTM(strings.TrimSuffix(req.Filename, ".wav"), segments),
	}
	if speakers >= 2 {
		// Synthetic cross-talk around the first turn boundary.
		result.Overlaps = []Overlap{{
			Start:    segmentLen - 0.2,
			End:      segmentLen + 0.2,
			Speakers: []string{segments[0].Speaker, segments[1].Speaker},
		}}
	}
	return result, nil
}

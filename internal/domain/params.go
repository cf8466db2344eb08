package domain

import (
	"encoding/json"
	"fmt"
)

// TranscriptionParams is the typed view of params for transcription jobs
// (and the transcription half of combined jobs).
type TranscriptionParams struct {
	LanguageCode       string `json:"language_code,omitempty"`
	SpeakerDiarization bool   `json:"speaker_diarization"`
	WordTimestamps     bool   `json:"word_timestamps"`
}

// DiarizationParams is the typed view of params for diarization jobs.
// NumSpeakers pins the exact speaker count; Min/MaxSpeakers bound the
// search when the count is unknown.
type DiarizationParams struct {
	NumSpeakers int `json:"num_speakers,omitempty"`
	MinSpeakers int `json:"min_speakers,omitempty"`
	MaxSpeakers int `json:"max_speakers,omitempty"`
}

// CombinedParams is the typed view for transcription_with_diarization.
type CombinedParams struct {
	TranscriptionParams
	DiarizationParams
}

func (p TranscriptionParams) Validate() error {
	if p.LanguageCode != "" && len(p.LanguageCode) > 8 {
		return fmt.Errorf("invalid language_code %q", p.LanguageCode)
	}
	return nil
}

func (p DiarizationParams) Validate() error {
	if p.NumSpeakers < 0 || p.MinSpeakers < 0 || p.MaxSpeakers < 0 {
		return fmt.Errorf("speaker counts must be non-negative")
	}
	if p.MinSpeakers > 0 && p.MaxSpeakers > 0 && p.MinSpeakers > p.MaxSpeakers {
		return fmt.Errorf("min_speakers (%d) exceeds max_speakers (%d)", p.MinSpeakers, p.MaxSpeakers)
	}
	return nil
}

func (p CombinedParams) Validate() error {
	if err := p.TranscriptionParams.Validate(); err != nil {
		return err
	}
	return p.DiarizationParams.Validate()
}

// EncodeParams serializes a typed params value to the blob persisted on
// the job record. Serialization happens only here, at the boundary.
func EncodeParams(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode job params: %w", err)
	}
	return b, nil
}

// DecodeParams validates a job's stored params blob against the schema
// of its type and returns the typed value.
func DecodeParams(jobType string, raw json.RawMessage) (any, error) {
	switch jobType {
	case JobTypeTranscription:
		var p TranscriptionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode transcription params: %w", err)
		}
		return p, p.Validate()
	case JobTypeDiarization:
		var p DiarizationParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode diarization params: %w", err)
		}
		return p, p.Validate()
	case JobTypeTranscriptionWithDiarization:
		var p CombinedParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode combined params: %w", err)
		}
		return p, p.Validate()
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
}

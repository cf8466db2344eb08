package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"vocalis/internal/apierr"
)

// HTTPTranscriber calls an HTTP speech-to-text service. The audio is
// posted as a multipart upload with decoding options as form fields;
// the service answers with a TranscriptionResult JSON body.
type HTTPTranscriber struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPTranscriber(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPTranscriber{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscriptionResult, error) {
	fields := map[string]string{
		"word_timestamps": strconv.FormatBool(req.Params.WordTimestamps),
	}
	if req.Params.LanguageCode != "" {
		fields["language_code"] = req.Params.LanguageCode
	}

	if req.Progress != nil {
		req.Progress(10, "uploading audio")
	}

	var result TranscriptionResult
	if err := postAudio(ctx, t.client, t.baseURL+"/transcribe", req.Audio, req.Filename, fields, &result); err != nil {
		t.logger.Error("Transcription backend request failed",
			slog.Any("error", err),
		)
		return nil, apierr.STTUnavailable().Wrap(err)
	}

	if req.Progress != nil {
		req.Progress(90, "transcription received")
	}
	return &result, nil
}

// HTTPDiarizer calls an HTTP speaker-diarization service with the same
// multipart convention as HTTPTranscriber.
type HTTPDiarizer struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPDiarizer(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPDiarizer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPDiarizer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (d *HTTPDiarizer) Diarize(ctx context.Context, req DiarizeRequest) (*DiarizationResult, error) {
	fields := map[string]string{}
	if req.Params.NumSpeakers > 0 {
		fields["num_speakers"] = strconv.Itoa(req.Params.NumSpeakers)
	}
	if req.Params.MinSpeakers > 0 {
		fields["min_speakers"] = strconv.Itoa(req.Params.MinSpeakers)
	}
	if req.Params.MaxSpeakers > 0 {
		fields["max_speakers"] = strconv.Itoa(req.Params.MaxSpeakers)
	}

	if req.Progress != nil {
		req.Progress(10, "uploading audio")
	}

	var result DiarizationResult
	if err := postAudio(ctx, d.client, d.baseURL+"/diarize", req.Audio, req.Filename, fields, &result); err != nil {
		d.logger.Error("Diarization backend request failed",
			slog.Any("error", err),
		)
		return nil, apierr.DiarizationUnavailable().Wrap(err)
	}

	if result.RTTM == "" {
		result.RTTM = FormatRTTM(req.Filename, result.Segments)
	}
	if result.NumSpeakers == 0 {
		result.NumSpeakers = CountSpeakers(result.Segments)
	}
	if len(result.Speakers) == 0 {
		result.Speakers = DistinctSpeakers(result.Segments)
	}

	if req.Progress != nil {
		req.Progress(90, "diarization received")
	}
	return &result, nil
}

// postAudio uploads audio as a multipart form and decodes the JSON
// response into out. Non-2xx responses become errors carrying the
// status code.
func postAudio(ctx context.Context, client *http.Client, url string, audio io.Reader, filename string, fields map[string]string, out interface{}) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("failed to copy audio into form: %w", err)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

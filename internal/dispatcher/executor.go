package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"

	"vocalis/internal/backend"
	"vocalis/internal/blobstore"
	"vocalis/internal/domain"
	"vocalis/internal/lifecycle"
)

// Executor runs a claimed job against the inference backend matching
// its type.
type Executor struct {
	blobs       blobstore.Store
	transcriber backend.Transcriber
	diarizer    backend.Diarizer
	jobs        *lifecycle.Manager
	logger      *slog.Logger
}

func NewExecutor(blobs blobstore.Store, transcriber backend.Transcriber, diarizer backend.Diarizer, jobs *lifecycle.Manager, logger *slog.Logger) *Executor {
	return &Executor{
		blobs:       blobs,
		transcriber: transcriber,
		diarizer:    diarizer,
		jobs:        jobs,
		logger:      logger,
	}
}

// combinedResult is the result blob of a transcription_with_diarization
// job.
type combinedResult struct {
	Transcription *backend.TranscriptionResult `json:"transcription"`
	Diarization   *backend.DiarizationResult   `json:"diarization"`
}

// Execute runs the job and returns its result blob. Progress updates
// flow to the store as the backend reports them; the store drops any
// that arrive out of order.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	params, err := domain.DecodeParams(job.Type, job.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid job params: %w", err)
	}

	progress := func(percent int, message string) {
		if err := e.jobs.Progress(ctx, job.ID, percent, message); err != nil {
			e.logger.Debug("Failed to record progress",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}

	switch p := params.(type) {
	case domain.TranscriptionParams:
		result, err := e.transcribe(ctx, job, p, progress)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case domain.DiarizationParams:
		result, err := e.diarize(ctx, job, p, progress)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case domain.CombinedParams:
		// Two sequential backend runs over the same audio. Progress is
		// split: transcription reports into 0..49, diarization 50..99.
		transcription, err := e.transcribe(ctx, job, p.TranscriptionParams, func(pct int, msg string) {
			progress(pct/2, msg)
		})
		if err != nil {
			return nil, err
		}

		diarization, err := e.diarize(ctx, job, p.DiarizationParams, func(pct int, msg string) {
			progress(50+pct/2, msg)
		})
		if err != nil {
			return nil, err
		}

		return json.Marshal(combinedResult{
			Transcription: transcription,
			Diarization:   diarization,
		})

	default:
		return nil, fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (e *Executor) openAudio(ctx context.Context, job *domain.Job) (io.ReadCloser, string, error) {
	if !job.AudioKey.Valid {
		return nil, "", fmt.Errorf("job %s has no audio attached", job.ID)
	}
	r, err := e.blobs.Download(ctx, job.AudioKey.String)
	if err != nil {
		return nil, "", err
	}
	return r, path.Base(job.AudioKey.String), nil
}

func (e *Executor) transcribe(ctx context.Context, job *domain.Job, params domain.TranscriptionParams, progress func(int, string)) (*backend.TranscriptionResult, error) {
	audio, filename, err := e.openAudio(ctx, job)
	if err != nil {
		return nil, err
	}
	defer audio.Close()

	return e.transcriber.Transcribe(ctx, backend.TranscribeRequest{
		Audio:    audio,
		Filename: filename,
		Params:   params,
		Progress: progress,
	})
}

func (e *Executor) diarize(ctx context.Context, job *domain.Job, params domain.DiarizationParams, progress func(int, string)) (*backend.DiarizationResult, error) {
	audio, filename, err := e.openAudio(ctx, job)
	if err != nil {
		return nil, err
	}
	defer audio.Close()

	return e.diarizer.Diarize(ctx, backend.DiarizeRequest{
		Audio:    audio,
		Filename: filename,
		Params:   params,
		Progress: progress,
	})
}

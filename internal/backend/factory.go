package backend

import (
	"log/slog"
	"os"

	"vocalis/internal/config"
)

// NewLLM builds the chat backend named by configuration.
func NewLLM(cfg config.LLMBackendConfig, logger *slog.Logger) LLM {
	switch cfg.Provider {
	case "openai":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			logger.Warn("LLM API key env is empty, falling back to mock backend",
				slog.String("env", cfg.APIKeyEnv),
			)
			return NewMockLLM()
		}
		return NewOpenAILLM(apiKey, cfg.BaseURL, logger)
	default:
		return NewMockLLM()
	}
}

// NewTranscriber builds the speech-to-text backend named by
// configuration.
func NewTranscriber(cfg config.HTTPBackendConfig, logger *slog.Logger) Transcriber {
	switch cfg.Provider {
	case "http":
		return NewHTTPTranscriber(cfg.BaseURL, cfg.Timeout, logger)
	default:
		return NewMockTranscriber()
	}
}

// NewDiarizer builds the diarization backend named by configuration.
func NewDiarizer(cfg config.HTTPBackendConfig, logger *slog.Logger) Diarizer {
	switch cfg.Provider {
	case "http":
		return NewHTTPDiarizer(cfg.BaseURL, cfg.Timeout, logger)
	default:
		return NewMockDiarizer()
	}
}

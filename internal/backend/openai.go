package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"vocalis/internal/apierr"
)

// OpenAILLM is a chat backend speaking the OpenAI-compatible API. It
// works against any server exposing that surface when BaseURL points
// elsewhere.
type OpenAILLM struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAILLM builds a client. baseURL may be empty for the default
// endpoint.
func NewOpenAILLM(apiKey, baseURL string, logger *slog.Logger) *OpenAILLM {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAILLM{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

func toOpenAIRequest(req ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	model := req.Model
	if model == "" {
		model = DefaultChatModel
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (l *OpenAILLM) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := l.client.CreateChatCompletion(ctx, toOpenAIRequest(req))
	if err != nil {
		l.logger.Error("Chat completion request failed",
			slog.String("model", req.Model),
			slog.Any("error", err),
		)
		return nil, apierr.LLMUnavailable().Wrap(err)
	}

	if len(resp.Choices) == 0 {
		return nil, apierr.LLMUnavailable().Wrap(errors.New("empty choices in completion response"))
	}

	return &ChatResponse{
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (l *OpenAILLM) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string) error) error {
	oreq := toOpenAIRequest(req)
	oreq.Stream = true

	stream, err := l.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		l.logger.Error("Chat completion stream failed to open",
			slog.String("model", req.Model),
			slog.Any("error", err),
		)
		return apierr.LLMUnavailable().Wrap(err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apierr.LLMUnavailable().Wrap(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onDelta(delta); err != nil {
			return err
		}
	}
}

// HealthCheck probes the backend with a model listing, the cheapest
// authenticated call the API offers.
func (l *OpenAILLM) HealthCheck(ctx context.Context) error {
	if _, err := l.client.ListModels(ctx); err != nil {
		return apierr.LLMUnavailable().Wrap(err)
	}
	return nil
}

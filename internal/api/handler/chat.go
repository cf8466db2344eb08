package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vocalis/internal/api/dto"
	"vocalis/internal/apierr"
	"vocalis/internal/backend"
)

// ChatCompletion handles POST /v1/chat/completions
// Chat runs synchronously, unlike the audio endpoints: responses come
// back on the same connection, streamed as SSE when stream is set.
func (h *Handler) ChatCompletion(c *gin.Context) {
	var req dto.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.renderError(c, apierr.Validation("Invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	model := req.Model
	if model == "" {
		model = backend.DefaultChatModel
	}
	if !h.deps.Models.Has(model) {
		h.renderError(c, apierr.Validation("Unknown model", map[string]any{"model": model}))
		return
	}

	messages := make([]backend.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = backend.ChatMessage{Role: m.Role, Content: m.Content}
	}

	chatReq := backend.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.Stream {
		h.streamChat(c, chatReq)
		return
	}

	resp, err := h.deps.LLM.Chat(c.Request.Context(), chatReq)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []dto.ChatChoice{{
			Index:        0,
			Message:      dto.ChatMessageDTO{Role: "assistant", Content: resp.Content},
			FinishReason: "stop",
		}},
		Usage: dto.UsageDTO{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

// streamChat writes the completion as an SSE stream of chunk objects
// terminated by a [DONE] sentinel.
func (h *Handler) streamChat(c *gin.Context, req backend.ChatRequest) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	id := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()

	writeChunk := func(chunk dto.ChatCompletionChunk) error {
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	err := h.deps.LLM.ChatStream(c.Request.Context(), req, func(delta string) error {
		return writeChunk(dto.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []dto.ChatStreamChoice{{
				Index: 0,
				Delta: dto.ChatDelta{Content: delta},
			}},
		})
	})
	if err != nil {
		// Headers are gone; the best we can do is an error event.
		payload, _ := json.Marshal(gin.H{"error": apierr.LLMUnavailable()})
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
		return
	}

	stop := "stop"
	_ = writeChunk(dto.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   req.Model,
		Choices: []dto.ChatStreamChoice{{
			Index:        0,
			Delta:        dto.ChatDelta{},
			FinishReason: &stop,
		}},
	})

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// Package handler implements the HTTP endpoints of the API service.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vocalis/internal/apierr"
	"vocalis/internal/backend"
	"vocalis/internal/blobstore"
	"vocalis/internal/lifecycle"
)

// Publisher is the slice of the message queue client the handlers use.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string, priority uint8) error
}

// Pinger reports backing-store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker reports broker connectivity for the health endpoint.
type ConnChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Jobs          *lifecycle.Manager
	Queue         Publisher
	Blobs         blobstore.Store
	LLM           backend.LLM
	Models        *backend.Registry
	DB            Pinger
	MQ            ConnChecker
	ServiceName   string
	MaxAudioBytes int64
}

// Handler bundles the endpoint implementations.
type Handler struct {
	deps   *Dependencies
	logger *slog.Logger
	fetch  *http.Client
}

// New creates a new Handler instance
func New(deps *Dependencies) *Handler {
	return &Handler{
		deps:   deps,
		logger: deps.Logger,
		fetch:  &http.Client{Timeout: 30 * time.Second},
	}
}

// RenderError writes the JSON envelope for an error. Anything that is
// not a coded API error is logged and collapsed to a generic 500.
func RenderError(c *gin.Context, logger *slog.Logger, err error) {
	apiErr := apierr.As(err)
	if apiErr == nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			apiErr = apierr.JobNotFound(c.Param("job_id"))
		} else {
			logger.Error("Unhandled error",
				slog.String("path", c.Request.URL.Path),
				slog.Any("error", err),
			)
			apiErr = apierr.Internal()
		}
	}

	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	RenderError(c, h.logger, err)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	if h.deps.DB != nil {
		if err := h.deps.DB.Ping(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed",
				slog.String("dependency", "database"),
				slog.Any("error", err),
			)
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	if h.deps.MQ != nil && !h.deps.MQ.IsConnected() {
		h.logger.Error("Health check failed",
			slog.String("dependency", "rabbitmq"),
		)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": h.deps.ServiceName,
	})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   h.deps.Models.List(),
	})
}

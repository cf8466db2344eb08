package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"vocalis/internal/api/handler"
	"vocalis/internal/auth"
	"vocalis/internal/ratelimit"
)

// Dependencies carries the router's collaborators.
type Dependencies struct {
	Handler       *handler.Handler
	Authenticator *auth.Authenticator
	Limiter       *ratelimit.Limiter
	Logger        *slog.Logger
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint, unauthenticated
	r.GET("/health", deps.Handler.Health)

	// API v1 routes, authenticated and rate limited
	v1 := r.Group("/v1")
	v1.Use(AuthMiddleware(deps.Authenticator, deps.Logger))
	v1.Use(RateLimitMiddleware(deps.Limiter, deps.Logger))
	{
		v1.POST("/transcriptions", deps.Handler.CreateTranscription)
		v1.POST("/diarizations", deps.Handler.CreateDiarization)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", deps.Handler.ListJobs)
			jobs.GET("/:job_id", deps.Handler.GetJob)
			jobs.DELETE("/:job_id", deps.Handler.CancelJob)
		}

		v1.POST("/chat/completions", deps.Handler.ChatCompletion)
		v1.GET("/models", deps.Handler.ListModels)
	}

	return r
}

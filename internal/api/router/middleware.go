package router

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vocalis/internal/api/handler"
	"vocalis/internal/apierr"
	"vocalis/internal/auth"
	"vocalis/internal/ratelimit"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware resolves the caller's API key to a credential and
// stores it on the request context. Requests without a usable key are
// rejected with 401.
func AuthMiddleware(authenticator *auth.Authenticator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := auth.ExtractKey(
			c.GetHeader("Authorization"),
			c.GetHeader("X-API-Key"),
		)

		cred, err := authenticator.Authenticate(c.Request.Context(), rawKey)
		if err != nil {
			handler.RenderError(c, logger, err)
			return
		}

		c.Set(handler.CredentialKey, cred)
		c.Next()
	}
}

// RateLimitMiddleware enforces the per-credential sliding window. Runs
// after AuthMiddleware. Rate limit headers are set on every response,
// allowed or not.
func RateLimitMiddleware(limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := handler.CredentialFrom(c)
		if cred == nil {
			handler.RenderError(c, logger, apierr.Authentication(""))
			return
		}

		decision := limiter.Admit(c.Request.Context(), cred.ID, cred.RateLimit)

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if decision.ResetAt > 0 {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt, 10))
		}

		if !decision.Allowed {
			retryAfter := decision.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			handler.RenderError(c, logger, apierr.RateLimited(decision.Limit, decision.Remaining, decision.ResetAt))
			return
		}

		c.Next()
	}
}

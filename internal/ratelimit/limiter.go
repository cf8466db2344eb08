// Package ratelimit implements sliding-window admission control per
// credential. Each admitted request is recorded in the credential's
// trailing 60-second window; the recording itself counts toward the
// threshold, so with capacity C the C-th request in a window is the
// last one admitted. A rejected attempt leaves no trace in the window.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Window is the fixed sliding-window width.
const Window = 60 * time.Second

// WindowStore tracks request timestamps per key. Record must be atomic
// per key: it prunes entries older than the window, records the attempt
// and returns the in-window count including it. When that count exceeds
// capacity the attempt must be discarded before returning, so rejected
// calls are never counted against later ones. Implementations must not
// serialize unrelated keys against each other.
type WindowStore interface {
	Record(ctx context.Context, key string, now time.Time, window time.Duration, capacity int) (int, error)
}

// Decision is the outcome of an admission check. Limit is the nominal
// per-credential quota; the burst allowance is included in the math but
// never reported.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   int64
}

// Limiter performs admission checks against a WindowStore.
type Limiter struct {
	store        WindowStore
	enabled      bool
	defaultLimit int
	burst        int
	logger       *slog.Logger
}

type Config struct {
	Enabled      bool
	DefaultLimit int
	Burst        int
}

func NewLimiter(store WindowStore, cfg Config, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:        store,
		enabled:      cfg.Enabled,
		defaultLimit: cfg.DefaultLimit,
		burst:        cfg.Burst,
		logger:       logger,
	}
}

// Admit checks whether a request for the given credential is within
// quota. limit overrides the default when positive (credentials carry
// their own assigned quota). The limiter degrades open: if the window
// store fails, the request is admitted and the failure logged.
func (l *Limiter) Admit(ctx context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	if !l.enabled {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	now := time.Now()
	capacity := limit + l.burst

	count, err := l.store.Record(ctx, key, now, Window, capacity)
	if err != nil {
		// Fail open: availability over strict enforcement.
		l.logger.Warn("rate limit store unavailable, admitting request",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	resetAt := now.Add(Window).Unix()
	if count > capacity {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}
	}

	remaining := capacity - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

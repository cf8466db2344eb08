// Package auth implements API key issuance and request authentication.
// Raw keys are shown once at issuance; only a SHA-256 digest is stored,
// so a database leak never exposes usable credentials.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vocalis/internal/apierr"
	"vocalis/internal/domain"
	"vocalis/internal/store"
)

// KeyPrefix marks raw API keys so they are recognizable in logs and
// secret scanners without revealing anything.
const KeyPrefix = "vx_"

const rawKeyBytes = 20

// GenerateKey creates a new raw API key and its storage hash. The raw
// key is returned exactly once; it cannot be recovered from the hash.
func GenerateKey() (raw, hash string, err error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate key material: %w", err)
	}
	raw = KeyPrefix + hex.EncodeToString(buf)
	return raw, HashKey(raw), nil
}

// HashKey returns the storage digest for a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CredentialSource is the slice of the credential store the
// authenticator needs.
type CredentialSource interface {
	GetByHash(ctx context.Context, keyHash string) (*domain.Credential, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// Authenticator resolves raw API keys to credentials.
type Authenticator struct {
	creds  CredentialSource
	logger *slog.Logger
}

func NewAuthenticator(creds CredentialSource, logger *slog.Logger) *Authenticator {
	return &Authenticator{creds: creds, logger: logger}
}

// Authenticate resolves a raw key to a usable credential. Every failure
// mode maps to the same 401 so callers cannot probe which keys exist.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*domain.Credential, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, apierr.Authentication("")
	}

	cred, err := a.creds.GetByHash(ctx, HashKey(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, apierr.InvalidAPIKey()
		}
		a.logger.Error("Credential lookup failed",
			slog.Any("error", err),
		)
		return nil, apierr.Internal().Wrap(err)
	}

	if !cred.Usable(time.Now()) {
		return nil, apierr.InvalidAPIKey()
	}

	if err := a.creds.TouchLastUsed(ctx, cred.ID); err != nil {
		// Best-effort bookkeeping only.
		a.logger.Debug("Failed to update credential last use",
			slog.String("credential_id", cred.ID),
			slog.Any("error", err),
		)
	}

	return cred, nil
}

// ExtractKey pulls the raw API key from request headers. Authorization:
// Bearer takes precedence over X-API-Key.
func ExtractKey(authorization, apiKeyHeader string) string {
	if authorization != "" {
		const bearer = "Bearer "
		if strings.HasPrefix(authorization, bearer) {
			return strings.TrimSpace(strings.TrimPrefix(authorization, bearer))
		}
	}
	return strings.TrimSpace(apiKeyHeader)
}

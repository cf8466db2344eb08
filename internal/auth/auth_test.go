package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalis/internal/apierr"
	"vocalis/internal/domain"
	"vocalis/internal/store"
	"vocalis/shared/logger"
)

type fakeCredSource struct {
	byHash    map[string]*domain.Credential
	lookupErr error
	touched   []string
	touchErr  error
}

func (f *fakeCredSource) GetByHash(_ context.Context, keyHash string) (*domain.Credential, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	cred, ok := f.byHash[keyHash]
	if !ok {
		return nil, store.ErrCredentialNotFound
	}
	return cred, nil
}

func (f *fakeCredSource) TouchLastUsed(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return f.touchErr
}

func newAuthFixture(t *testing.T) (*Authenticator, *fakeCredSource, string, *domain.Credential) {
	t.Helper()

	raw, hash, err := GenerateKey()
	require.NoError(t, err)

	cred := &domain.Credential{
		ID:        uuid.NewString(),
		KeyHash:   hash,
		Name:      "test key",
		UserID:    "user-1",
		RateLimit: domain.DefaultRateLimit,
	}
	src := &fakeCredSource{byHash: map[string]*domain.Credential{hash: cred}}
	return NewAuthenticator(src, logger.NewDefault().Logger), src, raw, cred
}

func TestGenerateKey(t *testing.T) {
	raw, hash, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, KeyPrefix))
	// vx_ plus 20 random bytes hex-encoded.
	assert.Len(t, raw, len(KeyPrefix)+40)
	assert.Equal(t, HashKey(raw), hash)

	raw2, hash2, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.NotEqual(t, hash, hash2)
}

func TestHashKey_Deterministic(t *testing.T) {
	assert.Equal(t, HashKey("vx_abc"), HashKey("vx_abc"))
	assert.NotEqual(t, HashKey("vx_abc"), HashKey("vx_abd"))
	// sha256 hex digest.
	assert.Len(t, HashKey("anything"), 64)
}

func TestAuthenticate_Success(t *testing.T) {
	a, src, raw, cred := newAuthFixture(t)

	got, err := a.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)
	assert.Equal(t, []string{cred.ID}, src.touched)
}

func TestAuthenticate_TouchFailureIsBestEffort(t *testing.T) {
	a, src, raw, _ := newAuthFixture(t)
	src.touchErr = errors.New("db busy")

	_, err := a.Authenticate(context.Background(), raw)
	assert.NoError(t, err)
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		key      func(fixtureKey string) string
		mutate   func(cred *domain.Credential)
		wantCode string
	}{
		{
			name:     "missing key",
			key:      func(string) string { return "" },
			wantCode: "AUTHENTICATION_ERROR",
		},
		{
			name:     "whitespace only",
			key:      func(string) string { return "   " },
			wantCode: "AUTHENTICATION_ERROR",
		},
		{
			name:     "unknown key",
			key:      func(string) string { return "vx_0000000000000000000000000000000000000000" },
			wantCode: "INVALID_API_KEY",
		},
		{
			name:     "revoked credential",
			mutate:   func(cred *domain.Credential) { cred.Revoked = true },
			wantCode: "INVALID_API_KEY",
		},
		{
			name: "expired credential",
			mutate: func(cred *domain.Credential) {
				cred.ExpiresAt = sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true}
			},
			wantCode: "INVALID_API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, raw, cred := newAuthFixture(t)

			if tt.key != nil {
				raw = tt.key(raw)
			}
			if tt.mutate != nil {
				tt.mutate(cred)
			}

			_, err := a.Authenticate(context.Background(), raw)
			require.Error(t, err)

			apiErr := apierr.As(err)
			require.NotNil(t, apiErr)
			// Every failure mode is a 401: callers cannot probe key existence.
			assert.Equal(t, 401, apiErr.Status)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestAuthenticate_LookupErrorIsInternal(t *testing.T) {
	a, src, raw, _ := newAuthFixture(t)
	src.lookupErr = errors.New("connection reset")

	_, err := a.Authenticate(context.Background(), raw)
	require.Error(t, err)

	apiErr := apierr.As(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 500, apiErr.Status)
}

func TestExtractKey(t *testing.T) {
	tests := []struct {
		name          string
		authorization string
		apiKeyHeader  string
		want          string
	}{
		{"bearer token", "Bearer vx_abc", "", "vx_abc"},
		{"bearer with padding", "Bearer  vx_abc ", "", "vx_abc"},
		{"x-api-key fallback", "", "vx_def", "vx_def"},
		{"bearer takes precedence", "Bearer vx_abc", "vx_def", "vx_abc"},
		{"non-bearer authorization ignored", "Basic dXNlcg==", "vx_def", "vx_def"},
		{"nothing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKey(tt.authorization, tt.apiKeyHeader))
		})
	}
}

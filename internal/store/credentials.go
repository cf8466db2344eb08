package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"vocalis/internal/domain"
)

// ErrCredentialNotFound is returned when no credential matches a hash
// or id. It deliberately carries no hint about why.
var ErrCredentialNotFound = errors.New("credential not found")

func pqStringArray(v []string) interface{} { return pq.Array(v) }

const credentialColumns = `
	credential_id, key_hash, name, user_id, scopes, rate_limit,
	revoked, expires_at, last_used_at, created_at, updated_at`

// CredentialStore persists API key records. Raw secrets never touch the
// database; lookups happen by hash only.
type CredentialStore struct {
	db *sqlx.DB
}

func NewCredentialStore(db *sqlx.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Create(ctx context.Context, cred *domain.Credential) error {
	query := `
		INSERT INTO api_keys (
			credential_id, key_hash, name, user_id, scopes,
			rate_limit, revoked, expires_at, created_at, updated_at
		) VALUES (
			:credential_id, :key_hash, :name, :user_id, :scopes,
			:rate_limit, :revoked, :expires_at, :created_at, :updated_at
		)
	`
	// A nil StringArray serializes to SQL NULL, but the column is
	// NOT NULL. No scopes means the empty array.
	if cred.Scopes == nil {
		cred.Scopes = pq.StringArray{}
	}
	if _, err := s.db.NamedExecContext(ctx, query, cred); err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// GetByHash looks up a credential by the hash of its raw key. This is
// the hot path: it runs once per authenticated request.
func (s *CredentialStore) GetByHash(ctx context.Context, keyHash string) (*domain.Credential, error) {
	var cred domain.Credential
	query := `SELECT ` + credentialColumns + ` FROM api_keys WHERE key_hash = $1`
	if err := s.db.GetContext(ctx, &cred, query, keyHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

func (s *CredentialStore) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	var cred domain.Credential
	query := `SELECT ` + credentialColumns + ` FROM api_keys WHERE credential_id = $1`
	if err := s.db.GetContext(ctx, &cred, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// Revoke logically deletes a credential. The row stays behind because
// jobs keep referencing it.
func (s *CredentialStore) Revoke(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET revoked = TRUE, updated_at = NOW() WHERE credential_id = $1`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// TouchLastUsed stamps the credential's last use. Best-effort: callers
// may ignore the error.
func (s *CredentialStore) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE credential_id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	return nil
}

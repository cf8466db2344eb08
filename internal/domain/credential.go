package domain

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// DefaultRateLimit is the per-minute request quota assigned to new
// credentials unless overridden.
const DefaultRateLimit = 60

// Credential is an API key record. Only the SHA-256 hash of the secret
// is ever stored; the raw key exists exactly once, at creation time.
type Credential struct {
	ID         string         `db:"credential_id"`
	KeyHash    string         `db:"key_hash"`
	Name       string         `db:"name"`
	UserID     string         `db:"user_id"`
	Scopes     pq.StringArray `db:"scopes"`
	RateLimit  int            `db:"rate_limit"`
	Revoked    bool           `db:"revoked"`
	ExpiresAt  sql.NullTime   `db:"expires_at"`
	LastUsedAt sql.NullTime   `db:"last_used_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// Usable reports whether the credential may authenticate a request at
// the given instant.
func (c *Credential) Usable(now time.Time) bool {
	if c.Revoked {
		return false
	}
	if c.ExpiresAt.Valid && !c.ExpiresAt.Time.After(now) {
		return false
	}
	return true
}

// Owner returns the caller identity this credential authenticates as.
func (c *Credential) Owner() Owner {
	return Owner{UserID: c.UserID, CredentialID: c.ID}
}

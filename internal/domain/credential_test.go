package domain

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The scopes column is a NOT NULL text array, so the field must encode
// as a Postgres array value even when no scopes are set.
func TestCredentialScopes_ArrayEncoding(t *testing.T) {
	cred := Credential{Scopes: pq.StringArray{"jobs:read", "jobs:write"}}
	v, err := cred.Scopes.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"jobs:read","jobs:write"}`, v)

	v, err = pq.StringArray{}.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestCredential_Usable(t *testing.T) {
	now := time.Now()

	cred := Credential{}
	assert.True(t, cred.Usable(now))

	cred.Revoked = true
	assert.False(t, cred.Usable(now))
}

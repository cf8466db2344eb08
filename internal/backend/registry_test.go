package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	models := reg.List()
	require.NotEmpty(t, models)

	assert.Equal(t, DefaultChatModel, models[0].ID)
	for _, m := range models {
		assert.Equal(t, "model", m.Object)
		assert.NotEmpty(t, m.Kind)
	}

	assert.True(t, reg.Has(DefaultChatModel))
	assert.True(t, reg.Has("whisper-large-v3"))
	assert.False(t, reg.Has("gpt-4"))
	assert.False(t, reg.Has(""))
}

func TestRegistry_ListReturnsCopy(t *testing.T) {
	reg := NewRegistry()

	models := reg.List()
	models[0].ID = "mutated"

	assert.Equal(t, DefaultChatModel, reg.List()[0].ID)
}

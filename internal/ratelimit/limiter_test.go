package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalis/shared/logger"
)

func newTestLimiter(store WindowStore, cfg Config) *Limiter {
	return NewLimiter(store, cfg, logger.NewDefault().Logger)
}

func TestLimiter_AdmitsUpToCapacity(t *testing.T) {
	limiter := newTestLimiter(NewMemoryWindowStore(), Config{
		Enabled:      true,
		DefaultLimit: 60,
		Burst:        10,
	})

	// Capacity is limit + burst = 70: all seventy admitted, the 71st not.
	for i := 1; i <= 70; i++ {
		d := limiter.Admit(context.Background(), "cred-1", 0)
		require.True(t, d.Allowed, "request %d should be admitted", i)
		assert.Equal(t, 60, d.Limit)
		assert.Equal(t, 70-i, d.Remaining)
	}

	d := limiter.Admit(context.Background(), "cred-1", 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.ResetAt, time.Now().Unix())
}

func TestLimiter_RejectedAttemptsLeaveNoTrace(t *testing.T) {
	store := NewMemoryWindowStore()
	limiter := newTestLimiter(store, Config{Enabled: true, DefaultLimit: 2, Burst: 0})

	limiter.Admit(context.Background(), "cred-1", 0)
	limiter.Admit(context.Background(), "cred-1", 0)

	// A burst of rejected attempts must not extend the lockout.
	for i := 0; i < 50; i++ {
		d := limiter.Admit(context.Background(), "cred-1", 0)
		assert.False(t, d.Allowed)
	}

	// Only the two admitted events occupy the window.
	count, err := store.Record(context.Background(), "cred-1", time.Now(), Window, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestLimiter_CredentialLimitOverridesDefault(t *testing.T) {
	limiter := newTestLimiter(NewMemoryWindowStore(), Config{
		Enabled:      true,
		DefaultLimit: 60,
		Burst:        0,
	})

	d := limiter.Admit(context.Background(), "cred-1", 5)
	require.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)
	assert.Equal(t, 4, d.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(NewMemoryWindowStore(), Config{
		Enabled:      true,
		DefaultLimit: 1,
		Burst:        0,
	})

	require.True(t, limiter.Admit(context.Background(), "cred-a", 0).Allowed)
	assert.False(t, limiter.Admit(context.Background(), "cred-a", 0).Allowed)

	// Exhausting one credential does not affect another.
	assert.True(t, limiter.Admit(context.Background(), "cred-b", 0).Allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := newTestLimiter(NewMemoryWindowStore(), Config{
		Enabled:      false,
		DefaultLimit: 1,
		Burst:        0,
	})

	for i := 0; i < 10; i++ {
		d := limiter.Admit(context.Background(), "cred-1", 0)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Limit)
	}
}

type failingWindowStore struct{}

func (failingWindowStore) Record(context.Context, string, time.Time, time.Duration, int) (int, error) {
	return 0, errors.New("connection refused")
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	limiter := newTestLimiter(failingWindowStore{}, Config{
		Enabled:      true,
		DefaultLimit: 60,
		Burst:        10,
	})

	d := limiter.Admit(context.Background(), "cred-1", 0)
	assert.True(t, d.Allowed)
	assert.Equal(t, 60, d.Limit)
	assert.Equal(t, 60, d.Remaining)
}

func TestMemoryWindowStore_PrunesExpiredEvents(t *testing.T) {
	store := NewMemoryWindowStore()
	base := time.Now()

	// Fill the window to capacity.
	for i := 0; i < 3; i++ {
		count, err := store.Record(context.Background(), "k", base, Window, 3)
		require.NoError(t, err)
		assert.Equal(t, i+1, count)
	}

	count, err := store.Record(context.Background(), "k", base.Add(time.Second), Window, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// Once the original events age out, the window drains.
	count, err = store.Record(context.Background(), "k", base.Add(Window+time.Second), Window, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryWindowStore_ConcurrentRecords(t *testing.T) {
	store := NewMemoryWindowStore()
	now := time.Now()

	const (
		goroutines = 20
		perKey     = 5
		capacity   = 1000
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := fmt.Sprintf("cred-%d", g%4)
			for i := 0; i < perKey; i++ {
				_, err := store.Record(context.Background(), key, now, Window, capacity)
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	// Each of the four keys saw (goroutines/4)*perKey records.
	count, err := store.Record(context.Background(), "cred-0", now, Window, capacity)
	require.NoError(t, err)
	assert.Equal(t, (goroutines/4)*perKey+1, count)
}

package blobstore

import (
	"context"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalis/internal/apierr"
	"vocalis/shared/logger"
)

func newLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), logger.NewDefault().Logger)
	require.NoError(t, err)
	return store
}

func TestLocalStore_RoundTrip(t *testing.T) {
	store := newLocalStore(t)
	key := "audio/user-1/2026/08/31/recording.wav"

	n, err := store.Upload(context.Background(), key, strings.NewReader("fake audio bytes"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)

	rc, err := store.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "fake audio bytes", string(data))
}

func TestLocalStore_DownloadMissing(t *testing.T) {
	store := newLocalStore(t)

	_, err := store.Download(context.Background(), "audio/nope.wav")
	require.Error(t, err)

	apiErr := apierr.As(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, "FILE_NOT_FOUND", apiErr.Code)
}

func TestLocalStore_ExistsAndDelete(t *testing.T) {
	store := newLocalStore(t)
	key := "audio/a.wav"

	ok, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Upload(context.Background(), key, strings.NewReader("x"), "audio/wav")
	require.NoError(t, err)

	ok, err = store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(context.Background(), key))

	ok, err = store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing blob is not an error.
	assert.NoError(t, store.Delete(context.Background(), key))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store := newLocalStore(t)

	for _, key := range []string{
		"../outside.wav",
		"audio/../../etc/passwd",
		"/etc/passwd",
		".",
		"",
	} {
		_, err := store.Upload(context.Background(), key, strings.NewReader("x"), "audio/wav")
		assert.Error(t, err, "key %q should be rejected", key)

		_, err = store.Download(context.Background(), key)
		assert.Error(t, err, "key %q should be rejected", key)
	}
}

func TestLocalStore_Stream(t *testing.T) {
	store := newLocalStore(t)
	key := "audio/a.wav"

	_, err := store.Upload(context.Background(), key, strings.NewReader("0123456789"), "audio/wav")
	require.NoError(t, err)

	tests := []struct {
		name   string
		offset int64
		length int64
		want   string
	}{
		{"full blob", 0, 0, "0123456789"},
		{"from offset", 4, 0, "456789"},
		{"bounded range", 2, 3, "234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := store.Stream(context.Background(), key, tt.offset, tt.length)
			require.NoError(t, err)
			defer rc.Close()

			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}

	_, err = store.Stream(context.Background(), "audio/missing.wav", 0, 0)
	require.Error(t, err)
	assert.Equal(t, "FILE_NOT_FOUND", apierr.As(err).Code)
}

func TestLocalStore_GetInfo(t *testing.T) {
	store := newLocalStore(t)
	key := "audio/a.wav"

	_, err := store.Upload(context.Background(), key, strings.NewReader("0123456789"), "audio/wav")
	require.NoError(t, err)

	info, err := store.GetInfo(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, key, info.Key)
	assert.Equal(t, int64(10), info.Size)
	assert.False(t, info.LastModified.IsZero())

	_, err = store.GetInfo(context.Background(), "audio/missing.wav")
	require.Error(t, err)
	assert.Equal(t, "FILE_NOT_FOUND", apierr.As(err).Code)
}

func TestLocalStore_List(t *testing.T) {
	store := newLocalStore(t)

	for _, key := range []string{
		"audio/user-1/a.wav",
		"audio/user-1/b.wav",
		"audio/user-2/c.wav",
	} {
		_, err := store.Upload(context.Background(), key, strings.NewReader("x"), "audio/wav")
		require.NoError(t, err)
	}

	infos, err := store.List(context.Background(), "audio/user-1/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "audio/user-1/a.wav", infos[0].Key)
	assert.Equal(t, "audio/user-1/b.wav", infos[1].Key)

	all, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalStore_CopyAndMove(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	_, err := store.Upload(ctx, "audio/src.wav", strings.NewReader("payload"), "audio/wav")
	require.NoError(t, err)

	require.NoError(t, store.Copy(ctx, "audio/src.wav", "audio/copy.wav"))

	for _, key := range []string{"audio/src.wav", "audio/copy.wav"} {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	require.NoError(t, store.Move(ctx, "audio/copy.wav", "audio/moved.wav"))

	ok, err := store.Exists(ctx, "audio/copy.wav")
	require.NoError(t, err)
	assert.False(t, ok)

	rc, err := store.Download(ctx, "audio/moved.wav")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Equal(t, "FILE_NOT_FOUND", apierr.As(store.Copy(ctx, "audio/none.wav", "audio/x.wav")).Code)
	assert.Equal(t, "FILE_NOT_FOUND", apierr.As(store.Move(ctx, "audio/none.wav", "audio/x.wav")).Code)
}

func TestLocalStore_OverwriteIsAtomic(t *testing.T) {
	store := newLocalStore(t)
	key := "audio/a.wav"

	_, err := store.Upload(context.Background(), key, strings.NewReader("first"), "audio/wav")
	require.NoError(t, err)
	_, err = store.Upload(context.Background(), key, strings.NewReader("second"), "audio/wav")
	require.NoError(t, err)

	rc, err := store.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalStore_PresignedURL(t *testing.T) {
	store := newLocalStore(t)

	url, err := store.PresignedURL(context.Background(), "audio/a.wav", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "/audio/a.wav"))
}

func TestGenerateKey(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	key := GenerateKey("user-1", "Meeting Notes.WAV", now)

	pattern := regexp.MustCompile(`^audio/user-1/2026/08/31/[0-9a-f-]{36}\.wav$`)
	assert.Regexp(t, pattern, key)

	// Keys never collide even for identical inputs.
	assert.NotEqual(t, key, GenerateKey("user-1", "Meeting Notes.WAV", now))
}

func TestGenerateKey_NoExtension(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	key := GenerateKey("user-1", "raw-audio", now)
	assert.Regexp(t, `^audio/user-1/2026/08/31/[0-9a-f-]{36}$`, key)
}

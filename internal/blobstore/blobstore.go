// Package blobstore abstracts audio blob storage behind a small
// interface with a local filesystem backend for development and an S3
// backend for production.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Info describes a stored blob.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the blob storage surface the API and workers use.
type Store interface {
	// Upload writes the blob and returns the number of bytes stored.
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)

	// Download opens the blob for reading. The caller closes it.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Stream opens a byte range of the blob. A non-positive length
	// reads from offset to the end.
	Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetInfo(ctx context.Context, key string) (*Info, error)

	// List returns metadata for every blob whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Info, error)

	Copy(ctx context.Context, src, dst string) error
	Move(ctx context.Context, src, dst string) error

	// PresignedURL returns a time-limited URL for direct retrieval.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// GenerateKey builds a collision-free storage key for an uploaded
// audio file, namespaced by owner and dated for lifecycle rules.
func GenerateKey(ownerUserID, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("audio/%s/%s/%s%s",
		ownerUserID,
		now.UTC().Format("2006/01/02"),
		uuid.New().String(),
		ext,
	)
}

package blobstore

import (
	"context"
	"fmt"
	"log/slog"

	cfg "vocalis/internal/config"
)

// New builds the blob store named by configuration.
func New(ctx context.Context, c cfg.StorageConfig, logger *slog.Logger) (Store, error) {
	switch c.Backend {
	case "local":
		return NewLocalStore(c.Local.BasePath, logger)
	case "s3":
		return NewS3Store(ctx, c.S3, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", c.Backend)
	}
}

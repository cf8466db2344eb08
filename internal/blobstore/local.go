package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vocalis/internal/apierr"
)

// LocalStore keeps blobs on the local filesystem under a base
// directory. Keys map to relative paths; traversal outside the base is
// rejected.
type LocalStore struct {
	basePath string
	logger   *slog.Logger
}

func NewLocalStore(basePath string, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{basePath: basePath, logger: logger}, nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

func (s *LocalStore) Upload(_ context.Context, key string, r io.Reader, _ string) (int64, error) {
	target, err := s.resolve(key)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create blob parent dir: %w", err)
	}

	// Write to a temp file first so readers never see partial blobs.
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("failed to finalize blob: %w", err)
	}

	s.logger.Debug("Stored blob",
		slog.String("key", key),
		slog.Int64("bytes", n),
	)
	return n, nil
}

func (s *LocalStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.BlobNotFound(key)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Stream opens a byte range of the blob.
func (s *LocalStore) Stream(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.BlobNotFound(key)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek blob: %w", err)
		}
	}
	if length <= 0 {
		return f, nil
	}
	return &rangeReader{r: io.LimitReader(f, length), c: f}, nil
}

// rangeReader bounds a blob read while keeping the file closable.
type rangeReader struct {
	r io.Reader
	c io.Closer
}

func (r *rangeReader) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r *rangeReader) Close() error               { return r.c.Close() }

func (s *LocalStore) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

func (s *LocalStore) GetInfo(_ context.Context, key string) (*Info, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.BlobNotFound(key)
		}
		return nil, fmt.Errorf("failed to stat blob: %w", err)
	}

	return &Info{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(key)),
		LastModified: fi.ModTime(),
	}, nil
}

func (s *LocalStore) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		// In-flight uploads are invisible until renamed into place.
		if strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Info{
			Key:          key,
			Size:         fi.Size(),
			ContentType:  mime.TypeByExtension(filepath.Ext(key)),
			LastModified: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *LocalStore) Copy(ctx context.Context, src, dst string) error {
	rc, err := s.Download(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := s.Upload(ctx, dst, rc, ""); err != nil {
		return err
	}
	return nil
}

func (s *LocalStore) Move(_ context.Context, src, dst string) error {
	from, err := s.resolve(src)
	if err != nil {
		return err
	}
	to, err := s.resolve(dst)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("failed to create blob parent dir: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		if os.IsNotExist(err) {
			return apierr.BlobNotFound(src)
		}
		return fmt.Errorf("failed to move blob: %w", err)
	}
	return nil
}

// PresignedURL returns a file URL. Local deployments have no signing
// authority; the URL is only meaningful on the same host.
func (s *LocalStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(target), nil
}

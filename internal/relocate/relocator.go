package relocate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flowgate/internal/infra"
)

// Relocator uploads a completed local artifact to the durable backend and
// produces its public URL. With caching enabled the storage key is derived
// from the content hash, so relocating the same content twice returns the
// same URL and performs at most one upload; the check-then-upload race can
// cause one redundant upload but never corruption. With caching disabled
// every relocation is a pass-through copy under a fresh key.
type Relocator struct {
	backend      Backend
	cacheEnabled bool
	logger       *infra.Logger
}

// NewRelocator constructs a Relocator over the given backend.
func NewRelocator(backend Backend, cacheEnabled bool, logger *infra.Logger) *Relocator {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Relocator{backend: backend, cacheEnabled: cacheEnabled, logger: logger}
}

// Relocate moves the artifact at localPath into durable storage and returns
// its public URL. On failure the local file is preserved so a retry or
// manual recovery remains possible; on success it is removed best-effort.
func (r *Relocator) Relocate(ctx context.Context, localPath, contentHash string) (string, error) {
	if contentHash == "" {
		return "", errors.New("relocate: content hash is required")
	}
	ext := filepath.Ext(localPath)
	key := contentHash + ext
	if !r.cacheEnabled {
		key = uuid.NewString() + ext
	}

	if r.cacheEnabled {
		exists, err := r.backend.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("relocate %s: %w", key, err)
		}
		if exists {
			url, err := r.backend.URL(ctx, key)
			if err != nil {
				return "", fmt.Errorf("relocate %s: %w", key, err)
			}
			r.logger.Debug().Str("key", key).Msg("relocate: cache hit, skipping upload")
			r.removeLocal(localPath)
			return url, nil
		}
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("relocate: read artifact: %w", err)
	}
	url, err := r.backend.Save(ctx, key, content, contentTypeFor(ext))
	if err != nil {
		return "", fmt.Errorf("relocate %s: %w", key, err)
	}
	r.logger.Debug().
		Str("key", key).
		Int("bytes", len(content)).
		Msg("relocate: artifact uploaded")
	r.removeLocal(localPath)
	return url, nil
}

// PurgeExpired removes stored artifacts older than ttl seconds.
func (r *Relocator) PurgeExpired(ctx context.Context, ttl int) (int, error) {
	return r.backend.PurgeExpired(ctx, ttl)
}

func (r *Relocator) removeLocal(localPath string) {
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn().Err(err).Str("path", localPath).Msg("relocate: remove local artifact failed")
	}
}

func contentTypeFor(ext string) string {
	if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
		return ct
	}
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

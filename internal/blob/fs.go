package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/intakehq/docpipe/internal/common"
)

// FS keeps blobs under a root directory, fanned out by id prefix.
type FS struct {
	root   string
	logger *slog.Logger
}

func NewFS(root string, logger *slog.Logger) (*FS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, common.WrapError(err, "create blob root")
	}
	return &FS{root: root, logger: logger}, nil
}

func (s *FS) path(id string) string {
	if len(id) < 2 {
		return filepath.Join(s.root, id)
	}
	return filepath.Join(s.root, id[:2], id)
}

func (s *FS) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := blobID(data)
	dst := s.path(id)

	if _, err := os.Stat(dst); err == nil {
		s.logger.Debug("blob already present", "blob_id", id)
		return id, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", common.WrapError(err, "create blob dir")
	}

	// write-then-rename so readers never observe a partial blob
	tmp := dst + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", common.WrapError(err, "write blob")
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", common.WrapError(err, "commit blob")
	}

	s.logger.Debug("blob stored", "blob_id", id, "bytes", len(data))
	return id, nil
}

func (s *FS) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", id, common.ErrNotFound)
		}
		return nil, common.WrapError(err, "read blob")
	}
	if blobID(data) != id {
		return nil, fmt.Errorf("blob %s failed integrity check", id)
	}
	return data, nil
}

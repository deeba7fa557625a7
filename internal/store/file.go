// File: internal/store/file.go
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore persists each document as an indented JSON file under a root
// directory. Document names may contain slashes, which map to subdirectories.
type FileStore struct {
	root string
	log  *zap.Logger
}

// NewFileStore creates the root directory if needed and returns a ready store.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root %s: %w", root, err)
	}
	return &FileStore{root: root, log: logger.Named("store")}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name)+".json")
}

// Read implements Store.
func (s *FileStore) Read(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to read document %s: %w", name, err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", name, err)
	}
	return nil
}

// Write implements Store. The document is written to a temp file in the same
// directory and renamed into place so readers never observe a partial write.
func (s *FileStore) Write(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", name, err)
	}
	p := s.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace document %s: %w", name, err)
	}
	return nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents under %q: %w", prefix, err)
	}
	return names, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete document %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)

package planbase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend persists each key as a file below basePath. Keys map
// directly to relative paths, so a collection is a directory of JSON files
// that can be inspected by hand.
type FilesystemBackend struct {
	basePath string
	locks    *StripedLocks
}

// NewFilesystemBackend creates a new filesystem backend with 32 lock stripes
func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
		locks:    NewStripedLocks(32),
	}
}

func (b *FilesystemBackend) getPath(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key))
}

func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	unlock := b.locks.RLock(key)
	defer unlock()
	return b.read(key)
}

func (b *FilesystemBackend) read(key string) ([]byte, error) {
	data, err := os.ReadFile(b.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"key": key})
		}
		if os.IsPermission(err) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return data, nil
}

func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	unlock := b.locks.Lock(key)
	defer unlock()
	return b.write(key, data)
}

// write replaces the file through a temp file and rename so readers never
// observe a half-written document.
func (b *FilesystemBackend) write(key string, data []byte) error {
	path := b.getPath(key)
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), DefaultFilePermissions); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	unlock := b.locks.Lock(key)
	defer unlock()

	err := os.Remove(b.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return WithContext(ErrNotFound, map[string]interface{}{"key": key})
		}
		if os.IsPermission(err) {
			return ErrUnauthorized
		}
		return err
	}
	return nil
}

func (b *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *FilesystemBackend) GetWithETag(ctx context.Context, key string) ([]byte, string, error) {
	data, err := b.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, computeETag(data), nil
}

func (b *FilesystemBackend) PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	// Lock this specific key to ensure atomic check-and-write
	unlock := b.locks.Lock(key)
	defer unlock()

	if expectedETag != "" {
		current, err := b.read(key)
		if err != nil {
			return "", err
		}
		if actual := computeETag(current); actual != expectedETag {
			return "", WithContext(ErrConflict, map[string]interface{}{
				"key":      key,
				"expected": expectedETag,
				"actual":   actual,
			})
		}
	}

	if err := b.write(key, data); err != nil {
		return "", err
	}
	return computeETag(data), nil
}

func (b *FilesystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := b.ListPaginated(ctx, prefix, func(batch []string) error {
		keys = append(keys, batch...)
		return nil
	})
	return keys, err
}

func (b *FilesystemBackend) ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error {
	searchPath := b.getPath(prefix)

	// A missing prefix directory is an empty listing
	if _, err := os.Stat(searchPath); os.IsNotExist(err) {
		return nil
	}

	batch := make([]string, 0, DefaultListPaginatedSize)

	// filepath.Walk visits entries in lexical order
	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		batch = append(batch, filepath.ToSlash(relPath))

		if len(batch) >= DefaultListPaginatedSize {
			if err := handler(batch); err != nil {
				return err
			}
			batch = make([]string, 0, DefaultListPaginatedSize)
		}
		return nil
	})

	if len(batch) > 0 && err == nil {
		err = handler(batch)
	}
	return err
}

func (b *FilesystemBackend) Ping(ctx context.Context) error {
	if err := os.MkdirAll(b.basePath, DefaultDirPermissions); err != nil {
		return fmt.Errorf("cannot create base path: %w", err)
	}
	info, err := os.Stat(b.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("base path is not a directory: %s", b.basePath)
	}

	testFile := filepath.Join(b.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), DefaultFilePermissions); err != nil {
		return fmt.Errorf("cannot write to base path: %w", err)
	}
	os.Remove(testFile)

	return nil
}

func (b *FilesystemBackend) Close() error {
	return nil
}

package planbase

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps every key in process memory. It is the default backend
// for the embedded store and for tests.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrBackendUnavailable
	}
	data, ok := b.data[key]
	if !ok {
		return nil, WithContext(ErrNotFound, map[string]interface{}{"key": key})
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendUnavailable
	}
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendUnavailable
	}
	if _, ok := b.data[key]; !ok {
		return WithContext(ErrNotFound, map[string]interface{}{"key": key})
	}
	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, ErrBackendUnavailable
	}
	_, ok := b.data[key]
	return ok, nil
}

func (b *MemoryBackend) GetWithETag(ctx context.Context, key string) ([]byte, string, error) {
	data, err := b.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, computeETag(data), nil
}

func (b *MemoryBackend) PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrBackendUnavailable
	}
	if expectedETag != "" {
		current, ok := b.data[key]
		if !ok {
			return "", WithContext(ErrNotFound, map[string]interface{}{"key": key})
		}
		if actual := computeETag(current); actual != expectedETag {
			return "", WithContext(ErrConflict, map[string]interface{}{
				"key":      key,
				"expected": expectedETag,
				"actual":   actual,
			})
		}
	}
	b.data[key] = append([]byte(nil), data...)
	return computeETag(data), nil
}

func (b *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrBackendUnavailable
	}
	keys := make([]string, 0)
	for key := range b.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error {
	keys, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += DefaultListPaginatedSize {
		end := start + DefaultListPaginatedSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := handler(keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBackendUnavailable
	}
	return nil
}

// Close marks the backend unavailable. Data is discarded.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.data = make(map[string][]byte)
	return nil
}

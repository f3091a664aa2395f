package planbase

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory":     NewMemoryBackend(),
		"filesystem": NewFilesystemBackend(t.TempDir()),
	}
}

func TestBackendCRUD(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer backend.Close()

			if err := backend.Ping(ctx); err != nil {
				t.Fatalf("Ping() error = %v", err)
			}

			key := "tasks/t1.json"
			if _, err := backend.Get(ctx, key); !IsNotFound(err) {
				t.Fatalf("Get() on missing key error = %v, want not found", err)
			}
			if err := backend.Put(ctx, key, []byte(`{"title":"a"}`)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			data, err := backend.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(data) != `{"title":"a"}` {
				t.Errorf("Get() = %s", data)
			}

			exists, err := backend.Exists(ctx, key)
			if err != nil || !exists {
				t.Errorf("Exists() = %v, %v", exists, err)
			}

			if err := backend.Delete(ctx, key); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := backend.Delete(ctx, key); !IsNotFound(err) {
				t.Errorf("second Delete() error = %v, want not found", err)
			}
			exists, err = backend.Exists(ctx, key)
			if err != nil || exists {
				t.Errorf("Exists() after delete = %v, %v", exists, err)
			}
		})
	}
}

func TestBackendPutIfMatch(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := "members/m1.json"

			etag, err := backend.PutIfMatch(ctx, key, []byte("v1"), "")
			if err != nil {
				t.Fatalf("unconditional PutIfMatch() error = %v", err)
			}

			_, current, err := backend.GetWithETag(ctx, key)
			if err != nil {
				t.Fatalf("GetWithETag() error = %v", err)
			}
			if current != etag {
				t.Errorf("etag = %s, want %s", current, etag)
			}

			if _, err := backend.PutIfMatch(ctx, key, []byte("v2"), etag); err != nil {
				t.Fatalf("matching PutIfMatch() error = %v", err)
			}
			if _, err := backend.PutIfMatch(ctx, key, []byte("v3"), etag); !errors.Is(err, ErrConflict) {
				t.Errorf("stale PutIfMatch() error = %v, want ErrConflict", err)
			}

			data, _ := backend.Get(ctx, key)
			if string(data) != "v2" {
				t.Errorf("data = %s, want v2", data)
			}
		})
	}
}

func TestBackendListOrderAndPagination(t *testing.T) {
	ctx := context.Background()
	total := DefaultListPaginatedSize + 5

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if keys, err := backend.List(ctx, "projects/"); err != nil || len(keys) != 0 {
				t.Fatalf("List() on empty prefix = %v, %v", keys, err)
			}

			for i := total - 1; i >= 0; i-- {
				key := fmt.Sprintf("projects/p%04d.json", i)
				if err := backend.Put(ctx, key, []byte("{}")); err != nil {
					t.Fatal(err)
				}
			}
			if err := backend.Put(ctx, "tasks/other.json", []byte("{}")); err != nil {
				t.Fatal(err)
			}

			keys, err := backend.List(ctx, "projects/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(keys) != total {
				t.Fatalf("List() returned %d keys, want %d", len(keys), total)
			}
			for i, key := range keys {
				if want := fmt.Sprintf("projects/p%04d.json", i); key != want {
					t.Fatalf("keys[%d] = %s, want %s", i, key, want)
				}
			}

			var pages []int
			err = backend.ListPaginated(ctx, "projects/", func(batch []string) error {
				pages = append(pages, len(batch))
				return nil
			})
			if err != nil {
				t.Fatalf("ListPaginated() error = %v", err)
			}
			if len(pages) != 2 || pages[0] != DefaultListPaginatedSize || pages[1] != 5 {
				t.Errorf("pages = %v", pages)
			}

			stop := errors.New("stop")
			err = backend.ListPaginated(ctx, "projects/", func([]string) error { return stop })
			if !errors.Is(err, stop) {
				t.Errorf("handler error = %v, want stop", err)
			}
		})
	}
}

func TestMemoryBackendClosed(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	backend.Put(ctx, "a", []byte("1"))
	backend.Close()

	if err := backend.Ping(ctx); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Ping() error = %v", err)
	}
	if _, err := backend.Get(ctx, "a"); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Get() error = %v", err)
	}
}

func TestMemoryBackendCopiesData(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	buf := []byte("original")
	backend.Put(ctx, "k", buf)
	buf[0] = 'X'

	got, _ := backend.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("stored data mutated: %s", got)
	}
	got[0] = 'Y'
	again, _ := backend.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("returned slice aliases stored data: %s", again)
	}
}

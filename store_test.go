package planbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

type person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Team string `json:"team,omitempty"`
	Role string `json:"role,omitempty"`
	Age  int    `json:"age"`
}

func testSchema() *Schema {
	return NewSchema(2).
		Collection("people", Index("name"), Index("team"), Index("team", "role")).
		Collection("notes", Index("owner"))
}

func testSteps() []MigrationStep {
	return []MigrationStep{
		Step(1, "people").
			CreateCollections("people").
			CreateIndexes("people", Index("name"), Index("team")).
			Build(),
		Step(2, "notes").
			CreateCollections("notes").
			CreateIndexes("notes", Index("owner")).
			CreateIndexes("people", Index("team", "role")).
			Build(),
	}
}

// newTestStore returns a migrated in-memory store.
func newTestStore(t *testing.T) (*Store, *Migrator) {
	t.Helper()
	return newTestStoreWith(t, NewMemoryBackend())
}

func newTestStoreWith(t *testing.T, backend Backend) (*Store, *Migrator) {
	t.Helper()
	store := NewStore(backend, testSchema())
	m, err := NewMigrator(store, testSteps())
	if err != nil {
		t.Fatalf("NewMigrator failed: %v", err)
	}
	if _, err := m.MigrateToLatest(context.Background()); err != nil {
		t.Fatalf("MigrateToLatest failed: %v", err)
	}
	return store, m
}

func putPeople(t *testing.T, store *Store, people ...person) {
	t.Helper()
	for _, p := range people {
		if err := store.PutDoc(context.Background(), "people", p.ID, p); err != nil {
			t.Fatalf("PutDoc(%s) failed: %v", p.ID, err)
		}
	}
}

func docIDs(t *testing.T, docs []json.RawMessage) []string {
	t.Helper()
	ids := make([]string, 0, len(docs))
	for _, raw := range docs {
		var p person
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("bad document %s: %v", raw, err)
		}
		ids = append(ids, p.ID)
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_RequiresMigration(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), testSchema())

	if err := store.Ready(ctx); !errors.Is(err, ErrNotMigrated) {
		t.Fatalf("Ready() error = %v, want ErrNotMigrated", err)
	}
	var p person
	if err := store.GetDoc(ctx, "people", "p1", &p); !errors.Is(err, ErrNotMigrated) {
		t.Errorf("GetDoc() error = %v, want ErrNotMigrated", err)
	}
	if err := store.PutDoc(ctx, "people", "p1", person{ID: "p1"}); !errors.Is(err, ErrNotMigrated) {
		t.Errorf("PutDoc() error = %v, want ErrNotMigrated", err)
	}
	if _, err := store.Stats(ctx); !errors.Is(err, ErrNotMigrated) {
		t.Errorf("Stats() error = %v, want ErrNotMigrated", err)
	}

	version, state, err := store.Version(ctx)
	if err != nil || version != 0 || state != StateUnmigrated {
		t.Errorf("Version() = %d, %s, %v", version, state, err)
	}
}

func TestStore_DocumentOperations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	putPeople(t, store,
		person{ID: "p2", Name: "Grace", Team: "eng"},
		person{ID: "p1", Name: "Ada", Team: "eng"},
	)

	t.Run("GetDoc", func(t *testing.T) {
		var got person
		if err := store.GetDoc(ctx, "people", "p1", &got); err != nil {
			t.Fatalf("GetDoc failed: %v", err)
		}
		if got.Name != "Ada" {
			t.Errorf("Name = %s, want Ada", got.Name)
		}
		if err := store.GetDoc(ctx, "people", "missing", &got); !IsNotFound(err) {
			t.Errorf("GetDoc(missing) error = %v, want not found", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, "people", "p2")
		if err != nil || !ok {
			t.Errorf("Exists(p2) = %v, %v", ok, err)
		}
		ok, err = store.Exists(ctx, "people", "nobody")
		if err != nil || ok {
			t.Errorf("Exists(nobody) = %v, %v", ok, err)
		}
	})

	t.Run("ScanIsIDOrdered", func(t *testing.T) {
		docs, err := store.Scan(ctx, "people")
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if got := docIDs(t, docs); !equalIDs(got, []string{"p1", "p2"}) {
			t.Errorf("Scan ids = %v", got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats["people"] != 2 || stats["notes"] != 0 || len(stats) != 2 {
			t.Errorf("Stats = %v", stats)
		}
	})

	t.Run("UnknownCollection", func(t *testing.T) {
		err := store.PutDoc(ctx, "widgets", "w1", map[string]string{"id": "w1"})
		if !errors.Is(err, ErrUnknownSchema) {
			t.Errorf("PutDoc(widgets) error = %v, want ErrUnknownSchema", err)
		}
		if _, err := store.Count(ctx, "widgets"); !errors.Is(err, ErrUnknownSchema) {
			t.Errorf("Count(widgets) error = %v, want ErrUnknownSchema", err)
		}
	})

	t.Run("InvalidID", func(t *testing.T) {
		for _, id := range []string{"", "../escape", ".hidden", `a\b`} {
			if err := store.PutDoc(ctx, "people", id, person{ID: id}); !errors.Is(err, ErrInvalidData) {
				t.Errorf("PutDoc(%q) error = %v, want ErrInvalidData", id, err)
			}
		}
	})

	t.Run("NonObjectDocument", func(t *testing.T) {
		if err := store.PutDoc(ctx, "people", "arr", []int{1, 2}); !errors.Is(err, ErrInvalidData) {
			t.Errorf("PutDoc(array) error = %v, want ErrInvalidData", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.DeleteDoc(ctx, "people", "p2"); err != nil {
			t.Fatalf("DeleteDoc failed: %v", err)
		}
		if err := store.DeleteDoc(ctx, "people", "p2"); !IsNotFound(err) {
			t.Errorf("second DeleteDoc error = %v, want not found", err)
		}
		res, err := store.Find(ctx, Shape("people", "name"), "Grace")
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Docs) != 0 {
			t.Errorf("deleted document still indexed: %s", res.Docs)
		}
		n, _ := store.Count(ctx, "people")
		if n != 1 {
			t.Errorf("Count = %d, want 1", n)
		}
	})
}

func TestStore_FindPathsAgree(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	metrics := NewInMemoryMetrics()
	store.SetMetrics(metrics)

	putPeople(t, store,
		person{ID: "p1", Name: "Ada", Team: "eng", Role: "lead", Age: 36},
		person{ID: "p2", Name: "Grace", Team: "eng", Role: "dev", Age: 30},
		person{ID: "p3", Name: "Linus", Team: "ops", Role: "dev", Age: 30},
		person{ID: "p4", Name: "Ken", Team: "eng", Role: "dev", Age: 30},
		person{ID: "p5", Name: "Barbara", Role: "dev", Age: 41},
	)

	tests := []struct {
		name    string
		shape   QueryShape
		values  []interface{}
		index   string
		indexed bool
		want    []string
	}{
		{"single field index", Shape("people", "name"), []interface{}{"Grace"}, "name", true, []string{"p2"}},
		{"compound index", Shape("people", "team", "role"), []interface{}{"eng", "dev"}, "[team+role]", true, []string{"p2", "p4"}},
		{"leading field index", Shape("people", "team", "age"), []interface{}{"eng", 30}, "team", true, []string{"p2", "p4"}},
		{"scan", Shape("people", "role"), []interface{}{"dev"}, "", false, []string{"p2", "p3", "p4", "p5"}},
		{"scan on number", Shape("people", "age"), []interface{}{30}, "", false, []string{"p2", "p3", "p4"}},
		{"empty value matches nothing", Shape("people", "team"), []interface{}{""}, "team", true, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := store.Find(ctx, tt.shape, tt.values...)
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			if res.Index != tt.index || res.Indexed != tt.indexed {
				t.Errorf("served by %q (indexed=%v), want %q (indexed=%v)", res.Index, res.Indexed, tt.index, tt.indexed)
			}
			if got := docIDs(t, res.Docs); !equalIDs(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := store.Find(ctx, Shape("people", "team", "role"), "eng"); !errors.Is(err, ErrInvalidData) {
		t.Errorf("arity mismatch error = %v, want ErrInvalidData", err)
	}
	if metrics.Counter(MetricIndexHits) != 4 || metrics.Counter(MetricIndexMisses) != 2 {
		t.Errorf("hits/misses = %d/%d, want 4/2", metrics.Counter(MetricIndexHits), metrics.Counter(MetricIndexMisses))
	}
}

func TestStore_IndexFollowsUpdates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	putPeople(t, store, person{ID: "p1", Name: "Ada", Team: "eng"})
	putPeople(t, store, person{ID: "p1", Name: "Ada", Team: "ops"})

	for team, want := range map[string]int{"eng": 0, "ops": 1} {
		res, err := store.Find(ctx, Shape("people", "team"), team)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Docs) != want {
			t.Errorf("team %s: %d docs, want %d", team, len(res.Docs), want)
		}
	}

	// clearing the field drops the entry
	putPeople(t, store, person{ID: "p1", Name: "Ada"})
	res, _ := store.Find(ctx, Shape("people", "team"), "ops")
	if len(res.Docs) != 0 {
		t.Errorf("cleared field still indexed")
	}
}

func TestStore_RebuildIndexes(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store, _ := newTestStoreWith(t, backend)

	putPeople(t, store,
		person{ID: "p1", Name: "Ada", Team: "eng"},
		person{ID: "p2", Name: "Grace", Team: "eng"},
		person{ID: "p3", Name: "Linus"},
	)

	// simulate drift left by a crash between document and index writes
	if err := backend.Put(ctx, indexDocKey("people", Index("name")), []byte(`{"ghost":"[\"Zed\"]"}`)); err != nil {
		t.Fatal(err)
	}
	res, _ := store.Find(ctx, Shape("people", "name"), "Ada")
	if len(res.Docs) != 0 {
		t.Fatalf("expected drifted index to miss Ada")
	}

	reports, err := store.RebuildIndexes(ctx, "people")
	if err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	for _, r := range reports {
		if r.Documents != 3 {
			t.Errorf("%s: Documents = %d, want 3", r.Index, r.Documents)
		}
		if r.Index == "name" && (r.Missing != 3 || r.Orphaned != 1) {
			t.Errorf("name report = %+v, want 3 missing and 1 orphaned", r)
		}
		if r.Index == "team" && r.Missing+r.Orphaned+r.Stale != 0 {
			t.Errorf("team report = %+v, want no drift", r)
		}
	}

	res, err = store.Find(ctx, Shape("people", "name"), "Ada")
	if err != nil || len(res.Docs) != 1 {
		t.Errorf("Find after rebuild = %d docs, %v", len(res.Docs), err)
	}
}

func TestStore_FilesystemPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, _ := newTestStoreWith(t, NewFilesystemBackend(dir))
	putPeople(t, store, person{ID: "p1", Name: "Ada", Team: "eng"})

	reopened := NewStore(NewFilesystemBackend(dir), testSchema())
	if err := reopened.Ready(ctx); err != nil {
		t.Fatalf("reopened store not ready: %v", err)
	}
	res, err := reopened.Find(ctx, Shape("people", "team"), "eng")
	if err != nil {
		t.Fatal(err)
	}
	if got := docIDs(t, res.Docs); !equalIDs(got, []string{"p1"}) {
		t.Errorf("ids = %v", got)
	}
}

func TestStore_Ping(t *testing.T) {
	store := NewStore(NewFilesystemBackend(t.TempDir()), testSchema())
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func BenchmarkStore_Find(b *testing.B) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), testSchema())
	m, _ := NewMigrator(store, testSteps())
	m.MigrateToLatest(ctx)
	for i := 0; i < 500; i++ {
		store.PutDoc(ctx, "people", fmt.Sprintf("p%03d", i), person{ID: fmt.Sprintf("p%03d", i), Team: fmt.Sprintf("t%d", i%10)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Find(ctx, Shape("people", "team"), "t3")
	}
}

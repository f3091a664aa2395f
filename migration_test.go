package planbase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewMigrator_Validation(t *testing.T) {
	noop := func(ctx context.Context, mc *MigrationContext) error { return nil }

	tests := []struct {
		name  string
		steps []MigrationStep
	}{
		{"duplicate version", []MigrationStep{{Version: 1, Execute: noop}, {Version: 1, Execute: noop}, {Version: 2, Execute: noop}}},
		{"zero version", []MigrationStep{{Version: 0, Execute: noop}, {Version: 2, Execute: noop}}},
		{"missing execute", []MigrationStep{{Version: 1, Execute: noop}, {Version: 2}}},
		{"short of target", []MigrationStep{{Version: 1, Execute: noop}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(NewMemoryBackend(), testSchema())
			if _, err := NewMigrator(store, tt.steps); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewMigrator error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	store := NewStore(NewMemoryBackend(), testSchema())
	m, err := NewMigrator(store, []MigrationStep{testSteps()[1], testSteps()[0]})
	if err != nil {
		t.Fatalf("unordered steps rejected: %v", err)
	}
	if steps := m.Steps(); steps[0].Version != 1 || steps[1].Version != 2 {
		t.Errorf("steps not sorted: %d, %d", steps[0].Version, steps[1].Version)
	}
}

func TestMigrator_MigrateToLatestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), testSchema())
	metrics := NewInMemoryMetrics()
	store.SetMetrics(metrics)
	m, err := NewMigrator(store, testSteps())
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.MigrateToLatest(ctx)
	if err != nil {
		t.Fatalf("MigrateToLatest failed: %v", err)
	}
	if result.From != 0 || result.To != 2 || len(result.Applied) != 2 || result.IsUpToDate {
		t.Errorf("result = %+v", result)
	}
	if err := store.Ready(ctx); err != nil {
		t.Errorf("store not ready: %v", err)
	}
	if metrics.Counter(MetricMigrationSteps) != 2 {
		t.Errorf("steps counter = %d", metrics.Counter(MetricMigrationSteps))
	}
	if metrics.Gauges[MetricSchemaVersion] != 2 {
		t.Errorf("schema version gauge = %v", metrics.Gauges[MetricSchemaVersion])
	}

	commits := metrics.Counter(MetricTransactionSuccess)
	again, err := m.MigrateToLatest(ctx)
	if err != nil {
		t.Fatalf("second MigrateToLatest failed: %v", err)
	}
	if !again.IsUpToDate || len(again.Applied) != 0 || again.From != 2 || again.To != 2 {
		t.Errorf("second result = %+v", again)
	}
	if metrics.Counter(MetricTransactionSuccess) != commits {
		t.Error("migrating an up-to-date store wrote to the backend")
	}

	if issues := m.ValidateDatabase(ctx); len(issues) != 0 {
		t.Errorf("ValidateDatabase = %v", issues)
	}
}

func TestMigrator_StepwiseAndStatus(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), testSchema())
	store.SetClock(func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) })
	m, _ := NewMigrator(store, testSteps())

	if _, err := m.MigrateTo(ctx, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	if err := store.Ready(ctx); !errors.Is(err, ErrNotMigrated) {
		t.Errorf("Ready at version 1 = %v, want ErrNotMigrated", err)
	}

	status, err := m.MigrationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StateCurrent || status.Version != 1 || status.Target != 2 {
		t.Errorf("status = %+v", status)
	}
	if len(status.Pending) != 1 || status.Pending[0] != "2:notes" {
		t.Errorf("pending = %v", status.Pending)
	}
	if len(status.Applied) != 1 || !status.Applied[0].AppliedAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("applied = %+v", status.Applied)
	}

	issues := m.ValidateDatabase(ctx)
	if !containsIssue(issues, "collection notes is missing") || !containsIssue(issues, "schema version is 1, expected 2") {
		t.Errorf("issues = %v", issues)
	}

	if v, _ := m.CurrentVersion(ctx); v != 1 {
		t.Errorf("CurrentVersion = %d, want 1", v)
	}
	result, err := m.MigrateTo(ctx, 2)
	if err != nil || result.From != 1 || result.To != 2 {
		t.Errorf("MigrateTo(2) = %+v, %v", result, err)
	}
}

func TestMigrator_Downgrade(t *testing.T) {
	ctx := context.Background()
	_, m := newTestStore(t)

	_, err := m.MigrateTo(ctx, 1)
	var downgrade *VersionDowngradeError
	if !errors.As(err, &downgrade) {
		t.Fatalf("MigrateTo(1) error = %v, want VersionDowngradeError", err)
	}
	if downgrade.Current != 2 || downgrade.Target != 1 {
		t.Errorf("downgrade = %+v", downgrade)
	}
	if !IsFatal(err) {
		t.Error("downgrade should be fatal")
	}

	if _, err := m.MigrateTo(ctx, 9); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("MigrateTo(9) error = %v, want ErrInvalidConfig", err)
	}
}

func TestMigrator_FailedStepResumes(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), testSchema())

	attempts := 0
	steps := testSteps()
	steps[1] = Step(2, "notes").
		CreateCollections("notes").
		CreateIndexes("notes", Index("owner")).
		CreateIndexes("people", Index("team", "role")).
		Do(func(ctx context.Context, mc *MigrationContext) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient failure")
			}
			return nil
		}).
		Build()
	m, err := NewMigrator(store, steps)
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.MigrateToLatest(ctx)
	var stepErr *MigrationStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("error = %v, want MigrationStepError", err)
	}
	if stepErr.Version != 2 || stepErr.Step != "notes" || len(stepErr.Completed) != 1 {
		t.Errorf("step error = %+v", stepErr)
	}
	if !IsFatal(err) {
		t.Error("step failure should be fatal")
	}

	status, _ := m.MigrationStatus(ctx)
	if status.State != StateFailed || status.Version != 1 || !strings.Contains(status.LastError, "transient failure") {
		t.Errorf("status after failure = %+v", status)
	}
	// the failed step left nothing behind
	if issues := m.ValidateDatabase(ctx); !containsIssue(issues, "collection notes is missing") {
		t.Errorf("issues = %v", issues)
	}

	result, err := m.MigrateToLatest(ctx)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if result.From != 1 || result.To != 2 || len(result.Applied) != 1 {
		t.Errorf("resume result = %+v", result)
	}
	if err := store.Ready(ctx); err != nil {
		t.Errorf("not ready after resume: %v", err)
	}
}

func TestMigrator_Rollback(t *testing.T) {
	ctx := context.Background()
	store, m := newTestStore(t)
	if err := store.PutDoc(ctx, "notes", "n1", map[string]string{"id": "n1", "owner": "p1"}); err != nil {
		t.Fatal(err)
	}

	if err := m.Rollback(ctx, 1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Rollback(1) error = %v, want ErrInvalidConfig", err)
	}
	if err := m.Rollback(ctx, 2); err != nil {
		t.Fatalf("Rollback(2) failed: %v", err)
	}

	status, _ := m.MigrationStatus(ctx)
	if status.Version != 1 || status.State != StateCurrent || len(status.Pending) != 1 {
		t.Errorf("status after rollback = %+v", status)
	}
	if ok, _ := store.Backend().Exists(ctx, docKey("notes", "n1")); ok {
		t.Error("rolled back collection still has documents")
	}

	if _, err := m.MigrateToLatest(ctx); err != nil {
		t.Fatalf("re-migrate failed: %v", err)
	}
	if n, err := store.Count(ctx, "notes"); err != nil || n != 0 {
		t.Errorf("notes after re-migrate = %d, %v", n, err)
	}
}

func TestMigrator_FieldTransforms(t *testing.T) {
	ctx := context.Background()
	schema := NewSchema(3).Collection("people", Index("name"))
	store := NewStore(NewMemoryBackend(), schema)

	steps := []MigrationStep{
		Step(1, "people").CreateCollections("people").CreateIndexes("people", Index("name")).Build(),
		Step(2, "seed").Do(func(ctx context.Context, mc *MigrationContext) error {
			for _, p := range []person{{ID: "p1", Name: "Ada", Age: 36}, {ID: "p2", Name: "Grace", Age: 30}} {
				if err := mc.Tx().PutDoc(ctx, "people", p.ID, p); err != nil {
					return err
				}
			}
			return nil
		}).Build(),
		Step(3, "reshape").
			RenameField("people", "name", "fullName").
			AddField("people", "active", true).
			RemoveField("people", "age").
			Build(),
	}
	m, err := NewMigrator(store, steps)
	if err != nil {
		t.Fatal(err)
	}
	if steps[1].Rollback != nil {
		t.Error("a step with custom actions should not derive a rollback")
	}
	if _, err := m.MigrateToLatest(ctx); err != nil {
		t.Fatalf("MigrateToLatest failed: %v", err)
	}

	var doc map[string]interface{}
	if err := store.GetDoc(ctx, "people", "p1", &doc); err != nil {
		t.Fatal(err)
	}
	if doc["fullName"] != "Ada" || doc["active"] != true {
		t.Errorf("doc = %v", doc)
	}
	if _, ok := doc["name"]; ok {
		t.Errorf("old field kept: %v", doc)
	}
	if _, ok := doc["age"]; ok {
		t.Errorf("removed field kept: %v", doc)
	}

	res, _ := store.Find(ctx, Shape("people", "name"), "Ada")
	if len(res.Docs) != 0 {
		t.Error("renamed field still indexed under its old name")
	}
}

func TestMigrator_BackupRestore(t *testing.T) {
	ctx := context.Background()
	store, m := newTestStore(t)
	putPeople(t, store,
		person{ID: "p1", Name: "Ada", Team: "eng"},
		person{ID: "p2", Name: "Grace", Team: "eng"},
	)

	snap, err := m.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if snap.Version != 2 || len(snap.Collections["people"]) != 2 {
		t.Errorf("snapshot = version %d, %d people", snap.Version, len(snap.Collections["people"]))
	}

	// snapshots survive a JSON round trip
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	putPeople(t, store, person{ID: "p3", Name: "Linus", Team: "ops"})
	if err := store.DeleteDoc(ctx, "people", "p1"); err != nil {
		t.Fatal(err)
	}

	if err := m.Restore(ctx, &decoded); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	stats, _ := store.Stats(ctx)
	if stats["people"] != 2 {
		t.Errorf("people after restore = %d, want 2", stats["people"])
	}
	res, _ := store.Find(ctx, Shape("people", "team"), "eng")
	if got := docIDs(t, res.Docs); !equalIDs(got, []string{"p1", "p2"}) {
		t.Errorf("team index after restore = %v", got)
	}
	res, _ = store.Find(ctx, Shape("people", "team"), "ops")
	if len(res.Docs) != 0 {
		t.Error("document absent from snapshot survived restore")
	}

	t.Run("rejects unknown collection", func(t *testing.T) {
		bad := &Snapshot{Version: 2, Collections: map[string][]json.RawMessage{"widgets": {}}}
		if err := m.Restore(ctx, bad); !errors.Is(err, ErrUnknownSchema) {
			t.Errorf("Restore error = %v, want ErrUnknownSchema", err)
		}
	})

	t.Run("rejects newer snapshot", func(t *testing.T) {
		if err := m.Restore(ctx, &Snapshot{Version: 3}); !errors.Is(err, ErrInvalidData) {
			t.Errorf("Restore error = %v, want ErrInvalidData", err)
		}
	})

	t.Run("rejects documents without id", func(t *testing.T) {
		bad := &Snapshot{Version: 2, Collections: map[string][]json.RawMessage{
			"people": {json.RawMessage(`{"name":"anon"}`)},
		}}
		if err := m.Restore(ctx, bad); !errors.Is(err, ErrInvalidData) {
			t.Errorf("Restore error = %v, want ErrInvalidData", err)
		}
		if n, _ := store.Count(ctx, "people"); n != 2 {
			t.Errorf("failed restore changed the store: %d people", n)
		}
	})
}

func TestStepBuilder_DerivedRollback(t *testing.T) {
	reversible := Step(1, "a").CreateCollections("x").CreateIndexes("x", Index("f")).RenameField("x", "a", "b").Build()
	if reversible.Rollback == nil {
		t.Error("reversible step should derive a rollback")
	}

	irreversible := Step(1, "b").CreateCollections("x").AddField("x", "f", 1).Build()
	if irreversible.Rollback != nil {
		t.Error("AddField has no inverse, rollback should stay nil")
	}

	called := false
	explicit := Step(1, "c").AddField("x", "f", 1).WithRollback(func(ctx context.Context, mc *MigrationContext) error {
		called = true
		return nil
	}).Build()
	if explicit.Rollback == nil {
		t.Fatal("explicit rollback dropped")
	}
	explicit.Rollback(context.Background(), nil)
	if !called {
		t.Error("explicit rollback not used")
	}
}

func containsIssue(issues []string, want string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, want) {
			return true
		}
	}
	return false
}

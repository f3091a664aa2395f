// Package planbase is an embedded, local-only document store for team and
// project planning data: members, teams, projects, tasks, bookable
// resources and derived performance metrics.
//
// # Overview
//
// Every entity is one JSON document in a Backend (in memory or on disk).
// On top of that the store provides:
//
//   - Declared single-field and compound indexes, maintained on every write
//   - Multi-collection transactions with read-your-writes and rollback
//   - A versioned schema driven by ordered, resumable migration steps
//   - A query performance monitor with slow query warnings
//   - Health checks, Prometheus metrics and structured logging via zap
//
// # Quick Start
//
//	schema := model.Schema()
//	store := planbase.NewStore(planbase.NewMemoryBackend(), schema)
//
//	migrator, err := planbase.NewMigrator(store, model.Migrations())
//	if err != nil {
//	    return err
//	}
//	if _, err := migrator.MigrateToLatest(ctx); err != nil {
//	    return err // *MigrationStepError names the failed step
//	}
//
//	repos := repo.New(store)
//	open, err := repos.Tasks.FindByProjectAndStatus(ctx, projectID, model.TaskInProgress)
//
// Until MigrateToLatest has brought the persisted schema to the declared
// version, every read and write returns ErrNotMigrated.
//
// # Core Concepts
//
// Backend: byte-level key/value storage. MemoryBackend and
// FilesystemBackend are provided.
//
// Schema: the declarative registry of collections, their indexes and the
// target version. It creates nothing; the Migrator applies it.
//
// Store: document reads, index-backed Find, and WithTransaction for writes.
// A transaction travels in the context, so nested repository calls join it.
//
// Monitor: bounded ring buffer of read samples owned by the store. A nil
// monitor is valid and records nothing.
//
// # Observability
//
//	logger, _ := planbase.NewProductionZapLogger()
//	metrics := planbase.NewPrometheusMetrics(nil)
//	store := planbase.NewStoreWithObservability(backend, schema, logger, metrics)
package planbase

package planbase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store is the embedded document store. It keeps one JSON document per
// entity in a Backend, maintains the indexes the migrator has applied, and
// refuses all data access until the persisted schema is current.
//
// All writes go through WithTransaction. Reads outside a transaction see
// only committed state.
type Store struct {
	backend Backend
	schema  *Schema
	logger  Logger
	metrics Metrics
	monitor *Monitor
	now     func() time.Time

	writeMu sync.Mutex   // one transaction at a time
	dataMu  sync.RWMutex // commit apply excludes direct reads

	metaMu sync.RWMutex
	meta   *storeMeta
}

// NewStore creates a store with no-op logger and metrics
func NewStore(backend Backend, schema *Schema) *Store {
	return NewStoreWithObservability(backend, schema, &NoOpLogger{}, &NoOpMetrics{})
}

// NewStoreWithObservability creates a store with logging and metrics
func NewStoreWithObservability(backend Backend, schema *Schema, logger Logger, metrics Metrics) *Store {
	logger = loggerOrNoop(logger)
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Store{
		backend: backend,
		schema:  schema,
		logger:  logger,
		metrics: metrics,
		monitor: NewMonitor(DefaultMonitorCapacity, DefaultSlowQueryThreshold, logger, metrics),
		now:     time.Now,
	}
}

// OpenStore builds a store from runtime configuration.
func OpenStore(cfg Config, schema *Schema, logger Logger, metrics Metrics) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	s := NewStoreWithObservability(cfg.NewBackend(), schema, logger, metrics)
	s.monitor = NewMonitor(cfg.MonitorCapacity, cfg.SlowQueryThreshold, s.logger, s.metrics)
	return s, nil
}

// SetLogger updates the logger for this store and its monitor
func (s *Store) SetLogger(logger Logger) {
	s.logger = loggerOrNoop(logger)
	s.monitor.SetLogger(s.logger)
}

// SetMetrics updates the metrics collector for this store and its monitor
func (s *Store) SetMetrics(metrics Metrics) {
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	s.metrics = metrics
	s.monitor.SetMetrics(metrics)
}

// SetMonitor replaces the query monitor. A nil monitor disables sampling.
func (s *Store) SetMonitor(m *Monitor) {
	s.monitor = m
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Backend() Backend { return s.backend }
func (s *Store) Schema() *Schema { return s.schema }
func (s *Store) Logger() Logger { return s.logger }
func (s *Store) Metrics() Metrics { return s.metrics }
func (s *Store) Monitor() *Monitor { return s.monitor }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

// Ping checks the backend is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// loadMeta returns the cached schema metadata, reading it on first use.
// Callers must not modify the result.
func (s *Store) loadMeta(ctx context.Context) (*storeMeta, error) {
	s.metaMu.RLock()
	meta := s.meta
	s.metaMu.RUnlock()
	if meta != nil {
		return meta, nil
	}

	s.dataMu.RLock()
	data, err := s.backend.Get(ctx, metaKey)
	s.dataMu.RUnlock()

	meta = newStoreMeta()
	switch {
	case IsNotFound(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read schema metadata: %w", err)
	default:
		if err := json.Unmarshal(data, meta); err != nil {
			return nil, fmt.Errorf("%w: schema metadata: %v", ErrInvalidData, err)
		}
		if meta.Indexes == nil {
			meta.Indexes = make(map[string][]IndexSpec)
		}
	}
	s.setMetaCache(meta)
	return meta, nil
}

func (s *Store) setMetaCache(meta *storeMeta) {
	s.metaMu.Lock()
	s.meta = meta
	s.metaMu.Unlock()
}

// Version returns the persisted schema version and migration state.
func (s *Store) Version(ctx context.Context) (int, MigrationState, error) {
	meta, err := s.loadMeta(ctx)
	if err != nil {
		return 0, "", err
	}
	return meta.Version, meta.State, nil
}

// Ready returns ErrNotMigrated unless the persisted schema matches the
// declared target version and the last migration finished.
func (s *Store) Ready(ctx context.Context) error {
	meta, err := s.loadMeta(ctx)
	if err != nil {
		return err
	}
	if meta.State != StateCurrent || meta.Version != s.schema.Version {
		return WithContext(ErrNotMigrated, map[string]interface{}{
			"version": meta.Version,
			"target":  s.schema.Version,
			"state":   meta.State,
		})
	}
	return nil
}

// reader is the read surface shared by transactions and committed-state views.
type reader interface {
	get(ctx context.Context, key string) ([]byte, error)
	list(ctx context.Context, prefix string) ([]string, error)
	loadIndex(ctx context.Context, collection string, spec IndexSpec) (map[string]string, error)
}

// committed reads straight from the backend. Callers hold dataMu.RLock.
type committed struct {
	backend Backend
}

func (c committed) get(ctx context.Context, key string) ([]byte, error) {
	return c.backend.Get(ctx, key)
}

func (c committed) list(ctx context.Context, prefix string) ([]string, error) {
	return c.backend.List(ctx, prefix)
}

func (c committed) loadIndex(ctx context.Context, collection string, spec IndexSpec) (map[string]string, error) {
	entries := make(map[string]string)
	data, err := c.backend.Get(ctx, indexDocKey(collection, spec))
	if IsNotFound(err) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: index %s: %v", ErrInvalidData, spec.Name(), err)
	}
	return entries, nil
}

// view runs fn against the transaction in ctx, or against committed state
// held stable for the duration of fn.
func (s *Store) view(ctx context.Context, collection string, fn func(r reader, meta *storeMeta) error) error {
	if tx := TxFromContext(ctx); tx != nil && tx.store == s && !tx.closed {
		if err := tx.checkCollection(collection); err != nil {
			return err
		}
		return fn(tx, tx.meta)
	}
	if err := s.Ready(ctx); err != nil {
		return err
	}
	meta, err := s.loadMeta(ctx)
	if err != nil {
		return err
	}
	if !meta.hasCollection(collection) {
		return WithContext(ErrUnknownSchema, map[string]interface{}{"collection": collection})
	}

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return fn(committed{backend: s.backend}, meta)
}

// GetDoc fetches a document and unmarshals it into dest.
func (s *Store) GetDoc(ctx context.Context, collection, id string, dest interface{}) error {
	start := time.Now()
	err := s.view(ctx, collection, func(r reader, _ *storeMeta) error {
		data, err := r.get(ctx, docKey(collection, id))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dest)
	})
	s.metrics.Timing(MetricGetDuration, time.Since(start))
	if err != nil {
		s.metrics.Increment(MetricGetError)
		return err
	}
	s.metrics.Increment(MetricGetSuccess)
	return nil
}

// Exists reports whether a document is present.
func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	var found bool
	err := s.view(ctx, collection, func(r reader, _ *storeMeta) error {
		_, err := r.get(ctx, docKey(collection, id))
		if IsNotFound(err) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

// PutDoc writes one document in its own transaction, or in the transaction
// carried by ctx.
func (s *Store) PutDoc(ctx context.Context, collection, id string, doc interface{}) error {
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.PutDoc(ctx, collection, id, doc)
	})
	if err != nil {
		s.metrics.Increment(MetricPutError)
		return err
	}
	s.metrics.Increment(MetricPutSuccess)
	return nil
}

// DeleteDoc removes one document.
func (s *Store) DeleteDoc(ctx context.Context, collection, id string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.DeleteDoc(ctx, collection, id)
	})
	if err != nil {
		s.metrics.Increment(MetricDeleteError)
		return err
	}
	s.metrics.Increment(MetricDeleteSuccess)
	return nil
}

// Scan returns every document of a collection in id order.
func (s *Store) Scan(ctx context.Context, collection string) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	err := s.view(ctx, collection, func(r reader, _ *storeMeta) error {
		var err error
		docs, err = scanDocs(ctx, r, collection)
		return err
	})
	return docs, err
}

// Count returns the number of documents in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.view(ctx, collection, func(r reader, _ *storeMeta) error {
		keys, err := r.list(ctx, collectionPrefix(collection))
		n = len(keys)
		return err
	})
	return n, err
}

// Stats returns document counts for every applied collection.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	meta, err := s.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int, len(meta.Collections))
	for _, c := range meta.Collections {
		n, err := s.Count(ctx, c)
		if err != nil {
			return nil, err
		}
		stats[c] = n
	}
	return stats, nil
}

// FindResult carries the documents matched by Find and how they were found.
type FindResult struct {
	Docs    []json.RawMessage
	Index   string // name of the index used, empty for a full scan
	Indexed bool
}

// Find returns the documents of shape.Collection whose fields equal values,
// position for position. An exact declared index serves the query when it
// has been applied; otherwise an index on the leading field narrows the
// candidates; otherwise the collection is scanned. The three paths return
// the same documents in the same order.
func (s *Store) Find(ctx context.Context, shape QueryShape, values ...interface{}) (FindResult, error) {
	var res FindResult
	err := s.view(ctx, shape.Collection, func(r reader, meta *storeMeta) error {
		var err error
		res, err = s.find(ctx, r, meta, shape, values)
		return err
	})
	return res, err
}

func (s *Store) find(ctx context.Context, r reader, meta *storeMeta, shape QueryShape, values []interface{}) (FindResult, error) {
	coll := shape.Collection
	if len(shape.Fields) == 0 || len(values) != len(shape.Fields) {
		return FindResult{}, fmt.Errorf("%w: query %s expects %d values, got %d",
			ErrInvalidData, shape, len(shape.Fields), len(values))
	}
	key, ok, err := queryKey(values)
	if err != nil {
		return FindResult{}, err
	}

	if spec, declared := s.schema.IndexFor(coll, shape.Fields...); declared {
		if _, applied := meta.index(coll, spec.Name()); applied {
			s.metrics.Increment(MetricIndexHits, "table", coll, "index", spec.Name())
			res := FindResult{Index: spec.Name(), Indexed: true}
			if !ok {
				return res, nil
			}
			entries, err := r.loadIndex(ctx, coll, spec)
			if err != nil {
				return FindResult{}, err
			}
			res.Docs, err = fetchDocs(ctx, r, coll, sortedIDs(entries, key))
			return res, err
		}
	}

	if len(shape.Fields) > 1 {
		if lead, applied := meta.index(coll, shape.Fields[0]); applied {
			s.metrics.Increment(MetricIndexHits, "table", coll, "index", lead.Name())
			res := FindResult{Index: lead.Name(), Indexed: true}
			if !ok {
				return res, nil
			}
			leadKey, _, err := queryKey(values[:1])
			if err != nil {
				return FindResult{}, err
			}
			entries, err := r.loadIndex(ctx, coll, lead)
			if err != nil {
				return FindResult{}, err
			}
			candidates, err := fetchDocs(ctx, r, coll, sortedIDs(entries, leadKey))
			if err != nil {
				return FindResult{}, err
			}
			res.Docs, err = filterDocs(candidates, shape.Fields, key)
			return res, err
		}
	}

	s.metrics.Increment(MetricIndexMisses, "table", coll)
	if !ok {
		return FindResult{}, nil
	}
	all, err := scanDocs(ctx, r, coll)
	if err != nil {
		return FindResult{}, err
	}
	docs, err := filterDocs(all, shape.Fields, key)
	return FindResult{Docs: docs}, err
}

func scanDocs(ctx context.Context, r reader, collection string) ([]json.RawMessage, error) {
	keys, err := r.list(ctx, collectionPrefix(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	docs := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := r.get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		docs = append(docs, data)
	}
	return docs, nil
}

func fetchDocs(ctx context.Context, r reader, collection string, ids []string) ([]json.RawMessage, error) {
	docs := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		data, err := r.get(ctx, docKey(collection, id))
		if IsNotFound(err) {
			// index entry left behind by an interrupted write; RebuildIndexes clears it
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, data)
	}
	return docs, nil
}

func filterDocs(docs []json.RawMessage, fields []string, key string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, data := range docs {
		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		if k, ok := indexKeyFor(doc, fields); ok && k == key {
			out = append(out, data)
		}
	}
	return out, nil
}

// RebuildIndexes recomputes every applied index of a collection from its
// documents in one transaction.
func (s *Store) RebuildIndexes(ctx context.Context, collection string) ([]RepairReport, error) {
	var reports []RepairReport
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.checkCollection(collection); err != nil {
			return err
		}
		for _, spec := range tx.meta.Indexes[collection] {
			report, err := tx.rebuildIndex(ctx, collection, spec)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		s.metrics.Increment(MetricIndexRebuilds)
		if r.Missing+r.Orphaned+r.Stale > 0 {
			s.logger.Warn("index drift repaired",
				"collection", r.Collection, "index", r.Index,
				"missing", r.Missing, "orphaned", r.Orphaned, "stale", r.Stale)
		}
	}
	return reports, nil
}

package planbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tx is a unit of work over one Store. Writes and deletes are staged in
// memory and become visible to other readers only when the transaction
// commits. Reads through a Tx see its own staged writes.
//
// Commit backs up every key it is about to touch and restores the backups if
// any backend write fails, so a failed transaction leaves the store as it
// was. Only one transaction runs at a time per Store.
type Tx struct {
	store    *Store
	staged   map[string][]byte // nil value stages a delete
	order    []string
	indexes  map[string]map[string]string
	dirty    map[string]bool
	meta     *storeMeta
	metaDirt bool
	closed   bool
}

// Store returns the store the transaction writes to.
func (tx *Tx) Store() *Store { return tx.store }

type txKey struct{}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}

// WithTransaction runs fn inside a transaction. A nil return commits; any
// error discards every staged change. When ctx already carries a transaction
// for this store, fn joins it and the outermost call decides the outcome.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx := TxFromContext(ctx); tx != nil && tx.store == s && !tx.closed {
		return fn(ctx, tx)
	}
	if err := s.Ready(ctx); err != nil {
		return err
	}
	return s.runTx(ctx, fn)
}

// runTx executes fn in a fresh transaction without the schema readiness
// check. The migrator uses it directly.
func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	meta, err := s.loadMeta(ctx)
	if err != nil {
		return err
	}

	tx := &Tx{
		store:   s,
		staged:  make(map[string][]byte),
		indexes: make(map[string]map[string]string),
		dirty:   make(map[string]bool),
		meta:    meta.clone(),
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx, tx); err != nil {
		tx.closed = true
		s.metrics.Increment(MetricTransactionRollback)
		return err
	}
	return tx.commit(ctx)
}

// get reads a key, preferring staged state.
func (tx *Tx) get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := tx.staged[key]; ok {
		if data == nil {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"key": key})
		}
		return append([]byte(nil), data...), nil
	}
	return tx.store.backend.Get(ctx, key)
}

// list merges backend keys with staged puts and deletes under prefix.
func (tx *Tx) list(ctx context.Context, prefix string) ([]string, error) {
	keys, err := tx.store.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(tx.staged) == 0 {
		return keys, nil
	}
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		seen[k] = true
		if data, ok := tx.staged[k]; ok && data == nil {
			continue
		}
		out = append(out, k)
	}
	for k, data := range tx.staged {
		if data != nil && !seen[k] && strings.HasPrefix(k, prefix) && !strings.Contains(k[len(prefix):], "/") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (tx *Tx) stage(key string, data []byte) {
	if _, ok := tx.staged[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.staged[key] = data
}

// loadIndex returns the entries of an index, loading them on first use.
func (tx *Tx) loadIndex(ctx context.Context, collection string, spec IndexSpec) (map[string]string, error) {
	key := indexDocKey(collection, spec)
	if entries, ok := tx.indexes[key]; ok {
		return entries, nil
	}
	entries := make(map[string]string)
	data, err := tx.get(ctx, key)
	switch {
	case IsNotFound(err):
	case err != nil:
		return nil, fmt.Errorf("failed to load index %s: %w", key, err)
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%w: index %s: %v", ErrInvalidData, key, err)
		}
	}
	tx.indexes[key] = entries
	return entries, nil
}

func (tx *Tx) setIndex(collection string, spec IndexSpec, entries map[string]string) {
	key := indexDocKey(collection, spec)
	tx.indexes[key] = entries
	tx.dirty[key] = true
}

func (tx *Tx) dropIndex(collection string, spec IndexSpec) {
	key := indexDocKey(collection, spec)
	delete(tx.indexes, key)
	delete(tx.dirty, key)
	tx.stage(key, nil)
}

func (tx *Tx) checkCollection(collection string) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	if !tx.meta.hasCollection(collection) {
		return WithContext(ErrUnknownSchema, map[string]interface{}{"collection": collection})
	}
	return nil
}

// GetDoc reads a document into dest.
func (tx *Tx) GetDoc(ctx context.Context, collection, id string, dest interface{}) error {
	if err := tx.checkCollection(collection); err != nil {
		return err
	}
	data, err := tx.get(ctx, docKey(collection, id))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Exists reports whether a document is present.
func (tx *Tx) Exists(ctx context.Context, collection, id string) (bool, error) {
	if err := tx.checkCollection(collection); err != nil {
		return false, err
	}
	_, err := tx.get(ctx, docKey(collection, id))
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// PutDoc stages a create or replace and updates every applied index of the
// collection.
func (tx *Tx) PutDoc(ctx context.Context, collection, id string, doc interface{}) error {
	if err := tx.checkCollection(collection); err != nil {
		return err
	}
	if !validKeySegment(id) {
		return fmt.Errorf("%w: invalid document id %q", ErrInvalidData, id)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: documents must be JSON objects: %v", ErrInvalidData, err)
	}

	for _, spec := range tx.meta.Indexes[collection] {
		entries, err := tx.loadIndex(ctx, collection, spec)
		if err != nil {
			return err
		}
		if value, ok := indexKeyFor(fields, spec.Fields); ok {
			entries[id] = value
		} else {
			delete(entries, id)
		}
		tx.dirty[indexDocKey(collection, spec)] = true
	}

	tx.stage(docKey(collection, id), data)
	return nil
}

// DeleteDoc stages a delete. Deleting a missing document returns ErrNotFound.
func (tx *Tx) DeleteDoc(ctx context.Context, collection, id string) error {
	if err := tx.checkCollection(collection); err != nil {
		return err
	}
	key := docKey(collection, id)
	if _, err := tx.get(ctx, key); err != nil {
		return err
	}
	for _, spec := range tx.meta.Indexes[collection] {
		entries, err := tx.loadIndex(ctx, collection, spec)
		if err != nil {
			return err
		}
		if _, ok := entries[id]; ok {
			delete(entries, id)
			tx.dirty[indexDocKey(collection, spec)] = true
		}
	}
	tx.stage(key, nil)
	return nil
}

// Scan returns every document of a collection in id order.
func (tx *Tx) Scan(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if err := tx.checkCollection(collection); err != nil {
		return nil, err
	}
	return scanDocs(ctx, tx, collection)
}

// Find resolves an equality query against staged and committed state.
func (tx *Tx) Find(ctx context.Context, shape QueryShape, values ...interface{}) (FindResult, error) {
	if err := tx.checkCollection(shape.Collection); err != nil {
		return FindResult{}, err
	}
	return tx.store.find(ctx, tx, tx.meta, shape, values)
}

// touchMeta marks the transaction's copy of the schema metadata for writing.
func (tx *Tx) touchMeta() *storeMeta {
	tx.metaDirt = true
	return tx.meta
}

// commit flushes dirty indexes and metadata into the staged set and applies
// everything to the backend.
func (tx *Tx) commit(ctx context.Context) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	tx.closed = true

	dirty := make([]string, 0, len(tx.dirty))
	for key := range tx.dirty {
		dirty = append(dirty, key)
	}
	sort.Strings(dirty)
	for _, key := range dirty {
		data, err := json.Marshal(tx.indexes[key])
		if err != nil {
			return fmt.Errorf("%w: encode index %s: %v", ErrTransactionFailed, key, err)
		}
		tx.stage(key, data)
	}
	if tx.metaDirt {
		tx.meta.UpdatedAt = tx.store.now().UTC()
		data, err := json.Marshal(tx.meta)
		if err != nil {
			return fmt.Errorf("%w: encode schema metadata: %v", ErrTransactionFailed, err)
		}
		tx.stage(metaKey, data)
	}

	if len(tx.order) == 0 {
		return nil
	}
	if err := tx.store.apply(ctx, tx.order, tx.staged); err != nil {
		return err
	}
	if tx.metaDirt {
		tx.store.setMetaCache(tx.meta)
	}
	return nil
}

// apply writes staged keys under the data lock and restores backups when a
// write fails.
func (s *Store) apply(ctx context.Context, order []string, staged map[string][]byte) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	start := time.Now()
	backups := make(map[string][]byte, len(order))
	for _, key := range order {
		data, err := s.backend.Get(ctx, key)
		switch {
		case err == nil:
			backups[key] = data
		case IsNotFound(err):
		default:
			return fmt.Errorf("%w: backup %s: %v", ErrTransactionFailed, key, err)
		}
	}

	applied := make([]string, 0, len(order))
	for _, key := range order {
		var err error
		if data := staged[key]; data != nil {
			err = s.backend.Put(ctx, key, data)
		} else if err = s.backend.Delete(ctx, key); IsNotFound(err) {
			err = nil
		}
		if err != nil {
			s.metrics.Increment(MetricTransactionRollback)
			s.logger.Error("transaction write failed, restoring", "key", key, "applied", len(applied), "error", err)
			if rbErr := s.restore(ctx, applied, backups); rbErr != nil {
				return fmt.Errorf("%w: %v (write error: %v)", ErrRollbackFailed, rbErr, err)
			}
			return fmt.Errorf("%w: write %s: %v", ErrTransactionFailed, key, err)
		}
		applied = append(applied, key)
	}

	s.metrics.Increment(MetricTransactionSuccess)
	s.metrics.Histogram(MetricTransactionSize, float64(len(order)))
	s.logger.Debug("transaction committed", "keys", len(order), "duration", time.Since(start))
	return nil
}

func (s *Store) restore(ctx context.Context, applied []string, backups map[string][]byte) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		key := applied[i]
		if data, ok := backups[key]; ok {
			if err := s.backend.Put(ctx, key, data); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", key, err))
			}
			continue
		}
		if err := s.backend.Delete(ctx, key); err != nil && !IsNotFound(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Package inmem provides transactional in-memory tables used by the in-memory
// repositories. A DB serializes top-level transactions; nested transactions
// behave like savepoints and restore the tables they touched on failure.
package inmem

import (
	"context"
	"slices"
	"sync"

	"github.com/iota-uz/field-registry/pkg/constants"
)

type snapshotter interface {
	snapshot() any
	restore(any)
}

type DB struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	tables []snapshotter
}

type txMarker struct {
	db *DB
}

func NewDB() *DB {
	return &DB{}
}

func (db *DB) register(t snapshotter) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = append(db.tables, t)
}

func (db *DB) snapshotAll() []any {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]any, len(db.tables))
	for i, t := range db.tables {
		out[i] = t.snapshot()
	}
	return out
}

func (db *DB) restoreAll(snaps []any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i, s := range snaps {
		db.tables[i].restore(s)
	}
}

// InTx runs fn atomically against every table registered on db.
func (db *DB) InTx(ctx context.Context, fn func(context.Context) error) error {
	if m, ok := ctx.Value(constants.InmemTxKey).(*txMarker); ok && m.db == db {
		snaps := db.snapshotAll()
		if err := fn(ctx); err != nil {
			db.restoreAll(snaps)
			return err
		}
		return nil
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	snaps := db.snapshotAll()
	txCtx := context.WithValue(ctx, constants.InmemTxKey, &txMarker{db: db})
	if err := fn(txCtx); err != nil {
		db.restoreAll(snaps)
		return err
	}
	return nil
}

// Table is a keyed collection that keeps insertion order. Values are cloned on
// the way in and out so callers never alias stored state.
type Table[K comparable, V any] struct {
	mu    sync.RWMutex
	rows  map[K]V
	order []K
	clone func(V) V
}

type tableSnapshot[K comparable, V any] struct {
	rows  map[K]V
	order []K
}

func NewTable[K comparable, V any](db *DB, clone func(V) V) *Table[K, V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	t := &Table[K, V]{rows: make(map[K]V), clone: clone}
	if db != nil {
		db.register(t)
	}
	return t
}

func (t *Table[K, V]) Get(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	if !ok {
		var zero V
		return zero, false
	}
	return t.clone(v), true
}

func (t *Table[K, V]) Put(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = t.clone(value)
}

func (t *Table[K, V]) Delete(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[key]; !ok {
		return false
	}
	delete(t.rows, key)
	if i := slices.Index(t.order, key); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	return true
}

// Find returns the values matching pred in insertion order.
func (t *Table[K, V]) Find(pred func(V) bool) []V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]V, 0)
	for _, k := range t.order {
		v := t.rows[k]
		if pred == nil || pred(v) {
			out = append(out, t.clone(v))
		}
	}
	return out
}

// DeleteWhere removes every value matching pred and reports how many went.
func (t *Table[K, V]) DeleteWhere(pred func(V) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.order[:0]
	removed := 0
	for _, k := range t.order {
		if pred(t.rows[k]) {
			delete(t.rows, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	t.order = kept
	return removed
}

func (t *Table[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table[K, V]) snapshot() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make(map[K]V, len(t.rows))
	for k, v := range t.rows {
		rows[k] = t.clone(v)
	}
	return tableSnapshot[K, V]{rows: rows, order: slices.Clone(t.order)}
}

func (t *Table[K, V]) restore(s any) {
	snap := s.(tableSnapshot[K, V])
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = snap.rows
	t.order = snap.order
}

// Sequence is a transactional monotonic counter.
type Sequence struct {
	mu  sync.Mutex
	val int64
}

func NewSequence(db *DB) *Sequence {
	s := &Sequence{}
	if db != nil {
		db.register(s)
	}
	return s
}

func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val++
	return s.val
}

func (s *Sequence) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

func (s *Sequence) restore(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = v.(int64)
}

// Package database defines the storage seam plugins and the node
// controller use: a read-only Database handle for Peek, a write Tx for
// Process, and an in-memory reference implementation for tests. The real
// embedded SQL engine behind it is explicitly out of scope (§1 Non-goals);
// this package only needs to express the interface shape plugins code
// against, so it is intentionally standard-library only — no third-party
// driver has anything concrete to attach to until a real backing store is
// in scope (see DESIGN.md).
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bedrockdb/bedrock/core"
)

// Row is a single result row, column name to value.
type Row map[string]any

// Result describes the outcome of a non-query statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Database is the read-only handle available during Peek (§4.2, §6).
type Database interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is the write handle available during Process (§4.2, §6). A Tx reports
// core.ErrConflict from Exec/Commit when a concurrent writer invalidated
// its read set; the node controller retries such commands on the sync
// thread with escalating priority, bounded at core.MaxConflictRetries.
type Tx interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Commit() error
	Rollback() error
}

// InMemory is a trivial table-less key/row store good enough to exercise
// plugins.Peek/Process and the node controller's conflict-retry path in
// tests; it is not a SQL engine. The query string is used whole as the
// table name; the built-in query plugin passes its table field, see
// plugins/query.
type InMemory struct {
	mu      sync.RWMutex
	tables  map[string]map[string]Row // table -> primary key -> row
	version map[string]int64          // table -> monotonic version, for conflict detection
	logger  core.Logger
}

func NewInMemory() *InMemory {
	return &InMemory{
		tables:  make(map[string]map[string]Row),
		version: make(map[string]int64),
	}
}

func (d *InMemory) SetLogger(logger core.Logger) { d.logger = logger }

func (d *InMemory) table(name string) map[string]Row {
	t, ok := d.tables[name]
	if !ok {
		t = make(map[string]Row)
		d.tables[name] = t
	}
	return t
}

// Query returns every row of the named table (query is treated as a bare
// table name; this is a seam, not a SQL parser).
func (d *InMemory) Query(_ context.Context, query string, _ ...any) ([]Row, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tables[query]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, t[k])
	}
	return rows, nil
}

func (d *InMemory) BeginTx(_ context.Context) (Tx, error) {
	d.mu.Lock()
	snapshot := make(map[string]int64, len(d.version))
	for k, v := range d.version {
		snapshot[k] = v
	}
	d.mu.Unlock()

	return &inMemoryTx{db: d, readVersions: snapshot, writes: make(map[string]map[string]Row)}, nil
}

// inMemoryTx serializes its commit under InMemory.mu so the sync thread
// can never conflict with itself (§5); worker-started transactions can
// still conflict with a concurrent sync-thread commit, reported via
// core.ErrConflict, matching the conflict-retry path in node.Controller.
type inMemoryTx struct {
	db           *InMemory
	readVersions map[string]int64
	writes       map[string]map[string]Row
	done         bool
}

func (t *inMemoryTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	if pending, ok := t.writes[query]; ok {
		keys := make([]string, 0, len(pending))
		for k := range pending {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([]Row, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, pending[k])
		}
		return rows, nil
	}
	return t.db.Query(ctx, query, args...)
}

// Exec writes row "args[0]" (a Row) keyed by the "id" column into table
// query. This is deliberately minimal: it exists to exercise plugins and
// the conflict-retry path, not to be a query language.
func (t *inMemoryTx) Exec(_ context.Context, query string, args ...any) (Result, error) {
	if t.done {
		return Result{}, errors.New("database: transaction already closed")
	}
	if len(args) == 0 {
		return Result{}, fmt.Errorf("database: Exec(%q) requires a Row argument", query)
	}
	row, ok := args[0].(Row)
	if !ok {
		return Result{}, fmt.Errorf("database: Exec(%q) argument must be a Row", query)
	}
	id, ok := row["id"].(string)
	if !ok || id == "" {
		return Result{}, fmt.Errorf("database: Exec(%q) row requires a string \"id\" column", query)
	}

	pending, ok := t.writes[query]
	if !ok {
		pending = make(map[string]Row)
		t.writes[query] = pending
	}
	pending[id] = row
	return Result{RowsAffected: 1}, nil
}

func (t *inMemoryTx) Commit() error {
	if t.done {
		return errors.New("database: transaction already closed")
	}
	t.done = true

	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	for table := range t.writes {
		// readVersions has no entry for a table that had never been
		// written when this transaction began; treat that as version 0
		// so a concurrent writer creating the table is still detected.
		if t.db.version[table] != t.readVersions[table] {
			return core.ErrConflict
		}
	}

	for table, rows := range t.writes {
		dst := t.db.table(table)
		for id, row := range rows {
			dst[id] = row
		}
		t.db.version[table]++
	}
	return nil
}

func (t *inMemoryTx) Rollback() error {
	t.done = true
	t.writes = nil
	return nil
}

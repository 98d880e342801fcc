// pkg/hbtdb/hbtdb.go
// Package hbtdb is the public embedding-layer facade (spec §6 "External
// interfaces"): open/close, transactions, put/get/remove, cursors, sync,
// and stats. It is a thin re-export over pkg/txn.Manager — the same
// relationship the teacher's pkg/turdb.DB has to pkg/pager and pkg/btree,
// just without a SQL layer in between.
package hbtdb

import (
	"hbtdb/pkg/storage"
	"hbtdb/pkg/tree"
	"hbtdb/pkg/txn"
)

// Mode selects the kind of transaction BeginTransaction opens.
type Mode = txn.Mode

const (
	ReadOnly  = txn.ReadOnly
	ReadWrite = txn.ReadWrite
)

// Re-exported sentinel errors (spec §7 "Error handling design").
var (
	ErrDatabaseClosed    = txn.ErrDatabaseClosed
	ErrDatabaseLocked    = txn.ErrDatabaseLocked
	ErrWriterBusy        = txn.ErrWriterBusy
	ErrWriteOnReadOnly   = txn.ErrWriteOnReadOnly
	ErrTransactionClosed = txn.ErrTransactionClosed
)

// CompareFunc orders two keys; see SetCompareFunction.
type CompareFunc = tree.CompareFunc

// Options configures Open.
type Options struct {
	PageSize          int
	CacheSize         int
	ReadOnly          bool
	OverflowThreshold int
	AutoSyncEvery     int
	Compare           CompareFunc
}

// DB is an open handle to one database file.
type DB struct {
	mgr *txn.Manager
}

// Open opens or creates the database file at path (spec §6 "open(path,
// mode)"; mode here is carried by Options.ReadOnly rather than a separate
// argument, matching how pkg/txn.Open already accepts it).
func Open(path string, opts Options) (*DB, error) {
	mgr, err := txn.Open(path, txn.Options{
		PageSize:          opts.PageSize,
		CacheSize:         opts.CacheSize,
		ReadOnly:          opts.ReadOnly,
		OverflowThreshold: opts.OverflowThreshold,
		AutoSyncEvery:     opts.AutoSyncEvery,
		Compare:           opts.Compare,
	})
	if err != nil {
		return nil, err
	}
	return &DB{mgr: mgr}, nil
}

// Close closes the database handle.
func (db *DB) Close() error {
	return db.mgr.Close()
}

// BeginTransaction opens a new transaction (spec §6 "beginTransaction(type)
// -> Transaction").
func (db *DB) BeginTransaction(mode Mode) (*Transaction, error) {
	t, err := db.mgr.BeginTransaction(mode)
	if err != nil {
		return nil, err
	}
	return &Transaction{db: db, t: t}, nil
}

// Commit commits txn with the given opaque tag (spec §6 "commit(txn,
// tag:u64) -> bool").
func (db *DB) Commit(t *Transaction, tag uint64) (bool, error) {
	return db.mgr.Commit(t.t, tag)
}

// Abort discards txn's in-memory effects (spec §6 "abort(txn)").
func (db *DB) Abort(t *Transaction) error {
	return db.mgr.Abort(t.t)
}

// Sync durably persists the most recent commit (spec §6 "sync()").
func (db *DB) Sync() (durable bool, syncID uint64, err error) {
	return db.mgr.Sync()
}

// Rollback is documented as optional in the source and may return failure
// unconditionally (spec §9).
func (db *DB) Rollback() error {
	return db.mgr.Rollback()
}

// SetCompareFunction installs a custom key comparator used for all
// subsequent operations (spec §6 "setCompareFunction(fn)").
func (db *DB) SetCompareFunction(fn CompareFunc) {
	db.mgr.SetCompareFunction(fn)
}

// Stats returns the manager's commit/abort/sync counters and the pager's
// I/O counters (spec §6 "Stats: counters for reads, writes, hits, syncs,
// commits, page-type counts, and tree depth").
func (db *DB) Stats() (txn.Stats, storage.Stats) {
	return db.mgr.Stats()
}

// Transaction wraps pkg/txn.Transaction under the public package name.
type Transaction struct {
	db *DB
	t  *txn.Transaction
}

// Root returns the transaction's current root page number, mostly useful
// for diagnostics.
func (t *Transaction) Root() uint32 { return t.t.Root() }

// Tag returns the tag most recently committed as of this transaction's
// snapshot (spec §9 supplement: "marker tag echoing").
func (t *Transaction) Tag() uint64 { return t.t.Tag() }

// Put inserts or overwrites key (spec §6 "put(txn, key, value)").
func (t *Transaction) Put(key, value []byte) error { return t.t.Put(key, value) }

// Get reads key's value (spec §6 "get(txn, key) -> value|empty").
func (t *Transaction) Get(key []byte) ([]byte, bool, error) { return t.t.Get(key) }

// Remove deletes key; a missing key is a no-op success (spec §6
// "remove(txn, key)").
func (t *Transaction) Remove(key []byte) error { return t.t.Remove(key) }

// Cursor opens a cursor over this transaction's snapshot (spec §6
// "Cursor: first/last/next/prev/seek/seekRange/current").
func (t *Transaction) Cursor() *tree.Cursor { return t.t.Cursor() }

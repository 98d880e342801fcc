package hbtdb

import (
	"path/filepath"
	"testing"
)

func TestOpenPutCommitSyncCloseReopenGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tx, err := db.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tx.Put([]byte("1"), []byte("foo")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, err := db.Commit(tx, 42); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}
	if _, _, err := db.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	rtx, err := db2.BeginTransaction(ReadOnly)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	val, ok, err := rtx.Get([]byte("1"))
	if err != nil || !ok || string(val) != "foo" {
		t.Fatalf("Get: val=%q ok=%v err=%v", val, ok, err)
	}
}

func TestCursorAcrossFacade(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"), Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := tx.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, err := db.Commit(tx, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, err := db.BeginTransaction(ReadOnly)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	cur := rtx.Cursor()
	if err := cur.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	var got []string
	for cur.Valid() {
		got = append(got, string(cur.Key()))
		if err := cur.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected cursor traversal: %v", got)
	}
}

func TestStatsReflectCommitsAndSyncs(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"), Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tx.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := db.Commit(tx, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, _, err := db.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	stats, _ := db.Stats()
	if stats.Commits != 1 || stats.Syncs != 1 {
		t.Fatalf("expected 1 commit and 1 sync, got %+v", stats)
	}
}

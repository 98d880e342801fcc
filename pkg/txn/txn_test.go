package txn

import (
	"fmt"
	"path/filepath"
	"testing"

	"hbtdb/pkg/page"
)

func openTestManager(t *testing.T, opts Options) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	m, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, path
}

func TestPutCommitReopenGet(t *testing.T) {
	m, path := openTestManager(t, Options{PageSize: 4096})

	tx, err := m.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tx.Put([]byte("1"), []byte("foo")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Put([]byte("2"), []byte("bar")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, err := m.Commit(tx, 42); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}
	if durable, _, err := m.Sync(); err != nil || !durable {
		t.Fatalf("Sync: durable=%v err=%v", durable, err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	rtx, err := m2.BeginTransaction(ReadOnly)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	val, ok, err := rtx.Get([]byte("1"))
	if err != nil || !ok || string(val) != "foo" {
		t.Fatalf("Get(1): val=%q ok=%v err=%v", val, ok, err)
	}
	val, ok, err = rtx.Get([]byte("2"))
	if err != nil || !ok || string(val) != "bar" {
		t.Fatalf("Get(2): val=%q ok=%v err=%v", val, ok, err)
	}
}

func TestOnlyOneWriteTransactionAtATime(t *testing.T) {
	m, _ := openTestManager(t, Options{PageSize: 4096})

	tx1, err := m.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if _, err := m.BeginTransaction(ReadWrite); err != ErrWriterBusy {
		t.Fatalf("expected ErrWriterBusy, got %v", err)
	}
	if _, err := m.Commit(tx1, 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Lock released; a new writer may now begin.
	tx2, err := m.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction after release: %v", err)
	}
	if _, err := m.Commit(tx2, 2); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestAbortLeavesNoTrace(t *testing.T) {
	m, _ := openTestManager(t, Options{PageSize: 4096})

	tx, err := m.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tx.Put([]byte("ghost"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Abort(tx); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	rtx, err := m.BeginTransaction(ReadOnly)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if _, ok, _ := rtx.Get([]byte("ghost")); ok {
		t.Fatal("expected aborted write to leave no trace")
	}
}

func TestRemoveMissingKeyIsNoopSuccess(t *testing.T) {
	m, _ := openTestManager(t, Options{PageSize: 4096})
	tx, err := m.BeginTransaction(ReadWrite)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := tx.Remove([]byte("absent")); err != nil {
		t.Fatalf("Remove on empty tree should be a no-op success, got %v", err)
	}
	if _, err := m.Commit(tx, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestWriteOnReadOnlyTransactionFails(t *testing.T) {
	m, _ := openTestManager(t, Options{PageSize: 4096})
	rtx, err := m.BeginTransaction(ReadOnly)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := rtx.Put([]byte("k"), []byte("v")); err != ErrWriteOnReadOnly {
		t.Fatalf("expected ErrWriteOnReadOnly, got %v", err)
	}
}

func TestAutoSyncEveryNCommits(t *testing.T) {
	m, _ := openTestManager(t, Options{PageSize: 4096, AutoSyncEvery: 2})

	for i := 0; i < 2; i++ {
		tx, err := m.BeginTransaction(ReadWrite)
		if err != nil {
			t.Fatalf("BeginTransaction: %v", err)
		}
		if err := tx.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, err := m.Commit(tx, uint64(i)); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	stats, _ := m.Stats()
	if stats.Syncs != 1 {
		t.Fatalf("expected exactly 1 auto-sync after 2 commits with AutoSyncEvery=2, got %d", stats.Syncs)
	}
}

func TestCommitSurvivesReopenAfterSync(t *testing.T) {
	m, path := openTestManager(t, Options{PageSize: 4096})

	for i := 0; i < 13; i++ {
		tx, err := m.BeginTransaction(ReadWrite)
		if err != nil {
			t.Fatalf("BeginTransaction(%d): %v", i, err)
		}
		if err := tx.Put([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		if _, err := m.Commit(tx, uint64(i)); err != nil {
			t.Fatalf("Commit(%d): %v", i, err)
		}
	}
	if durable, _, err := m.Sync(); err != nil || !durable {
		t.Fatalf("Sync: durable=%v err=%v", durable, err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	rtx, err := m2.BeginTransaction(ReadOnly)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	for i := 0; i < 13; i++ {
		val, ok, err := rtx.Get([]byte(fmt.Sprintf("k%d", i)))
		if err != nil || !ok || string(val) != fmt.Sprintf("v%d", i) {
			t.Fatalf("Get(%d): val=%q ok=%v err=%v", i, val, ok, err)
		}
	}
}

// TestCommitSurvivesCorruptedSyncMarkers corrupts both sync-A and sync-B
// directly on disk before reopening, exercising the dual-marker fallback
// end to end through txn.Open rather than only at pkg/marker's unit level.
// Pager.ReadPage's slice aliases the mmap region, so mutating it in place
// corrupts the on-disk page without going through a checksum-recomputing
// write path (same technique as
// pkg/marker's TestRecoverFallsBackToSyncBWhenSyncACorrupt).
func TestCommitSurvivesCorruptedSyncMarkers(t *testing.T) {
	m, path := openTestManager(t, Options{PageSize: 4096})

	for i := 0; i < 13; i++ {
		tx, err := m.BeginTransaction(ReadWrite)
		if err != nil {
			t.Fatalf("BeginTransaction(%d): %v", i, err)
		}
		if err := tx.Put([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		if _, err := m.Commit(tx, uint64(i)); err != nil {
			t.Fatalf("Commit(%d): %v", i, err)
		}
	}
	if durable, _, err := m.Sync(); err != nil || !durable {
		t.Fatalf("Sync: durable=%v err=%v", durable, err)
	}

	for _, pn := range []uint32{page.PageSyncA, page.PageSyncB} {
		data, err := m.pager.ReadPage(pn, nil)
		if err != nil {
			t.Fatalf("ReadPage(%d): %v", pn, err)
		}
		data[8] ^= 0xFF
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	rtx, err := m2.BeginTransaction(ReadOnly)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	for i := 0; i < 13; i++ {
		val, ok, err := rtx.Get([]byte(fmt.Sprintf("k%d", i)))
		if err != nil || !ok || string(val) != fmt.Sprintf("v%d", i) {
			t.Fatalf("Get(%d): val=%q ok=%v err=%v", i, val, ok, err)
		}
	}
}

// pkg/format/node_test.go
package format

import (
	"bytes"
	"testing"
)

const testPageSize = 4096

func newTestLeaf() *Node {
	data := make([]byte, testPageSize)
	return NewNode(data, 7, true, 1)
}

func newTestBranch() *Node {
	data := make([]byte, testPageSize)
	return NewNode(data, 8, false, 1)
}

func TestNewNodeDefaults(t *testing.T) {
	n := newTestLeaf()
	if !n.IsLeaf() {
		t.Fatal("expected leaf node")
	}
	if n.SyncID() != 1 {
		t.Errorf("expected sync id 1, got %d", n.SyncID())
	}
	if n.CellCount() != 0 {
		t.Errorf("expected 0 cells, got %d", n.CellCount())
	}
	if n.PageNumber() != 7 {
		t.Errorf("expected page number 7, got %d", n.PageNumber())
	}

	b := newTestBranch()
	if b.IsLeaf() {
		t.Fatal("expected branch node")
	}
}

func TestInsertAndGetCellLeaf(t *testing.T) {
	n := newTestLeaf()

	if err := n.InsertCell(0, []byte("bob"), []byte("v-bob"), false, 0); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	if err := n.InsertCell(0, []byte("alice"), []byte("v-alice"), false, 0); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}

	if n.CellCount() != 2 {
		t.Fatalf("expected 2 cells, got %d", n.CellCount())
	}

	c0 := n.GetCell(0)
	if string(c0.Key) != "alice" || string(c0.Value) != "v-alice" {
		t.Errorf("slot 0 = %q/%q, want alice/v-alice", c0.Key, c0.Value)
	}
	c1 := n.GetCell(1)
	if string(c1.Key) != "bob" || string(c1.Value) != "v-bob" {
		t.Errorf("slot 1 = %q/%q, want bob/v-bob", c1.Key, c1.Value)
	}
}

func TestInsertBranchCellStoresChildPointer(t *testing.T) {
	n := newTestBranch()
	if err := n.InsertCell(0, []byte("m"), nil, false, 42); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	c := n.GetCell(0)
	if c.Context != 42 {
		t.Errorf("expected child pointer 42, got %d", c.Context)
	}
	if len(c.Value) != 0 {
		t.Errorf("expected no inline value on branch cell, got %q", c.Value)
	}
}

func TestInsertOverflowCell(t *testing.T) {
	n := newTestLeaf()
	if err := n.InsertCell(0, []byte("big"), nil, true, 99); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	c := n.GetCell(0)
	if !c.Overflow {
		t.Fatal("expected overflow flag set")
	}
	if c.Context != 99 {
		t.Errorf("expected overflow head 99, got %d", c.Context)
	}
	if len(c.Value) != 0 {
		t.Errorf("expected no inline value for overflowed cell, got %q", c.Value)
	}
}

func TestUpdateCellContext(t *testing.T) {
	n := newTestBranch()
	if err := n.InsertCell(0, []byte("k"), nil, false, 1); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	n.UpdateCellContext(0, 2)
	if got := n.GetCell(0).Context; got != 2 {
		t.Errorf("expected updated context 2, got %d", got)
	}
}

func TestDeleteCellCompacts(t *testing.T) {
	n := newTestLeaf()
	keys := []string{"a", "b", "c"}
	for i, k := range keys {
		if err := n.InsertCell(i, []byte(k), []byte("v"+k), false, 0); err != nil {
			t.Fatalf("InsertCell(%d): %v", i, err)
		}
	}
	freeBefore := n.FreeSpace()

	n.DeleteCell(1) // remove "b"

	if n.CellCount() != 2 {
		t.Fatalf("expected 2 cells after delete, got %d", n.CellCount())
	}
	if string(n.GetCell(0).Key) != "a" || string(n.GetCell(1).Key) != "c" {
		t.Errorf("unexpected order after delete: %q, %q", n.GetCell(0).Key, n.GetCell(1).Key)
	}
	if n.FreeSpace() <= freeBefore {
		t.Errorf("expected FreeSpace to grow after delete: before=%d after=%d", freeBefore, n.FreeSpace())
	}
}

func TestPrependHistoryAndClear(t *testing.T) {
	n := newTestLeaf()
	if err := n.InsertCell(0, []byte("k"), []byte("v"), false, 0); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}

	if ok := n.PrependHistory(HistoryNode{PageNumber: 10, SyncID: 1}); !ok {
		t.Fatal("expected PrependHistory to succeed with free space available")
	}
	if n.historySize() != 1 {
		t.Fatalf("expected history size 1, got %d", n.historySize())
	}
	hist := n.History()
	if hist[0].PageNumber != 10 || hist[0].SyncID != 1 {
		t.Errorf("unexpected history entry: %+v", hist[0])
	}
	// Cell should still be intact after the slotted region shifted.
	if string(n.GetCell(0).Key) != "k" || string(n.GetCell(0).Value) != "v" {
		t.Errorf("cell corrupted after PrependHistory: %+v", n.GetCell(0))
	}

	if ok := n.PrependHistory(HistoryNode{PageNumber: 11, SyncID: 2}); !ok {
		t.Fatal("expected second PrependHistory to succeed")
	}
	hist = n.History()
	if len(hist) != 2 || hist[0].PageNumber != 11 || hist[1].PageNumber != 10 {
		t.Errorf("unexpected history order: %+v", hist)
	}

	n.ClearHistory()
	if n.historySize() != 0 {
		t.Errorf("expected history size 0 after clear, got %d", n.historySize())
	}
	if string(n.GetCell(0).Key) != "k" {
		t.Errorf("cell lost after ClearHistory: %+v", n.GetCell(0))
	}
}

func TestRemoveHistoryBeforeKeepsOnlyCurrentEpoch(t *testing.T) {
	n := newTestLeaf()
	if err := n.InsertCell(0, []byte("k"), []byte("v"), false, 0); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	for _, hn := range []HistoryNode{
		{PageNumber: 1, SyncID: 1},
		{PageNumber: 2, SyncID: 2},
		{PageNumber: 3, SyncID: 3},
	} {
		if !n.PrependHistory(hn) {
			t.Fatalf("PrependHistory(%+v) failed", hn)
		}
	}

	removed := n.RemoveHistoryBefore(3)
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed entries, got %d: %+v", len(removed), removed)
	}
	for _, hn := range removed {
		if hn.SyncID >= 3 {
			t.Errorf("removed entry should have sync_id < 3, got %+v", hn)
		}
	}

	remaining := n.History()
	if len(remaining) != 1 || remaining[0].SyncID != 3 || remaining[0].PageNumber != 3 {
		t.Fatalf("expected only the sync_id==3 entry retained, got %+v", remaining)
	}
	if string(n.GetCell(0).Key) != "k" || string(n.GetCell(0).Value) != "v" {
		t.Errorf("cell corrupted after RemoveHistoryBefore: %+v", n.GetCell(0))
	}
}

func TestRemoveHistoryBeforeIsNoopWhenNothingStale(t *testing.T) {
	n := newTestLeaf()
	if !n.PrependHistory(HistoryNode{PageNumber: 5, SyncID: 4}) {
		t.Fatal("PrependHistory failed")
	}
	if removed := n.RemoveHistoryBefore(1); removed != nil {
		t.Fatalf("expected no removal when every entry is >= lastSynced, got %+v", removed)
	}
	if n.historySize() != 1 {
		t.Fatalf("expected history untouched, got size %d", n.historySize())
	}
}

func TestPrependHistoryFailsWhenFull(t *testing.T) {
	n := newTestLeaf()
	big := bytes.Repeat([]byte("x"), MaxKeySize)
	// Fill until InsertCell refuses, leaving little free space.
	i := 0
	for {
		if err := n.InsertCell(i, append(big[:len(big)-1], byte('a'+i%26)), []byte("v"), false, 0); err != nil {
			break
		}
		i++
	}
	for n.FreeSpace() >= HistoryEntrySize {
		if !n.PrependHistory(HistoryNode{PageNumber: uint32(i), SyncID: 1}) {
			break
		}
		i++
	}
	if n.PrependHistory(HistoryNode{PageNumber: 999, SyncID: 1}) {
		t.Fatal("expected PrependHistory to fail once free space is exhausted")
	}
}

func TestInsertCellRejectsOversizedKey(t *testing.T) {
	n := newTestLeaf()
	key := bytes.Repeat([]byte("k"), MaxKeySize+1)
	if err := n.InsertCell(0, key, []byte("v"), false, 0); err != ErrKeyTooLong {
		t.Errorf("expected ErrKeyTooLong, got %v", err)
	}
}

func TestInsertCellRejectsWhenFull(t *testing.T) {
	n := newTestLeaf()
	big := bytes.Repeat([]byte("x"), testPageSize)
	err := n.InsertCell(0, []byte("k"), big, false, 0)
	if err != ErrNodeFull {
		t.Errorf("expected ErrNodeFull, got %v", err)
	}
}

func TestFinalizeProducesVerifiableChecksum(t *testing.T) {
	n := newTestLeaf()
	if err := n.InsertCell(0, []byte("k"), []byte("v"), false, 0); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	n.Finalize()

	reloaded := LoadNode(n.Data())
	if reloaded.Checksum() != n.Checksum() {
		t.Fatalf("checksum mismatch after reload")
	}

	// Corrupt the used record region and confirm the checksum changes.
	data := append([]byte(nil), n.Data()...)
	data[len(data)-1] ^= 0xFF
	corrupted := LoadNode(data)
	if corrupted.Checksum() == n.Checksum() {
		t.Fatal("expected checksum to change after corrupting record region")
	}
}

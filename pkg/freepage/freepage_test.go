// pkg/freepage/freepage_test.go
package freepage

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		pageSyncID, lastSyncedID uint64
		want                     Disposition
	}{
		{10, 5, Collectible}, // uncommitted, written after last sync
		{3, 5, Collectible},  // older than last sync, unreachable
		{5, 5, Retain},       // exactly the live synced version
	}
	for _, c := range cases {
		if got := Classify(c.pageSyncID, c.lastSyncedID); got != c.want {
			t.Errorf("Classify(%d, %d) = %v, want %v", c.pageSyncID, c.lastSyncedID, got, c.want)
		}
	}
}

func TestAllocateIsLIFO(t *testing.T) {
	tr := New(0)
	tr.Collect(1)
	tr.Collect(2)
	tr.Collect(3)

	pn, ok := tr.Allocate()
	if !ok || pn != 3 {
		t.Fatalf("expected LIFO allocate to return 3, got %d, %v", pn, ok)
	}
	pn, ok = tr.Allocate()
	if !ok || pn != 2 {
		t.Fatalf("expected 2, got %d, %v", pn, ok)
	}
}

func TestAllocateEmpty(t *testing.T) {
	tr := New(0)
	if _, ok := tr.Allocate(); ok {
		t.Fatal("expected Allocate to fail on empty tracker")
	}
}

func TestReleaseRetainsCurrentSyncedVersion(t *testing.T) {
	tr := New(5)
	d := tr.Release(5, 42, false)
	if d != Retain {
		t.Fatalf("expected Retain, got %v", d)
	}
	if tr.CollectibleCount() != 0 {
		t.Fatal("expected retained page to not be added to collectible")
	}
}

func TestReleaseCollectsUncommittedPage(t *testing.T) {
	tr := New(5)
	d := tr.Release(6, 42, false)
	if d != Collectible {
		t.Fatalf("expected Collectible, got %v", d)
	}
	if tr.CollectibleCount() != 1 {
		t.Fatalf("expected 1 collectible page, got %d", tr.CollectibleCount())
	}
}

func TestDeferAndFoldResidue(t *testing.T) {
	tr := New(0)
	tr.Defer(10)
	tr.Defer(11)
	if tr.ResidueCount() != 2 {
		t.Fatalf("expected residue count 2, got %d", tr.ResidueCount())
	}

	tr.FoldResidue()
	if tr.ResidueCount() != 0 {
		t.Fatal("expected residue cleared after fold")
	}
	if tr.CollectibleCount() != 2 {
		t.Fatalf("expected 2 collectible pages after fold, got %d", tr.CollectibleCount())
	}
}

func TestSetResidueSeedsFromRecoveredMarker(t *testing.T) {
	tr := New(0)
	tr.SetResidue([]uint32{5, 6, 7})
	if tr.ResidueCount() != 3 {
		t.Fatalf("expected residue count 3, got %d", tr.ResidueCount())
	}
}

func TestCollectChainRespectsImmediateFlag(t *testing.T) {
	tr := New(0)
	tr.CollectChain([]uint32{1, 2, 3}, true)
	if tr.CollectibleCount() != 3 {
		t.Fatalf("expected all 3 pages collectible, got %d", tr.CollectibleCount())
	}

	tr2 := New(0)
	tr2.CollectChain([]uint32{4, 5}, false)
	if tr2.ResidueCount() != 2 {
		t.Fatalf("expected all 2 pages deferred to residue, got %d", tr2.ResidueCount())
	}
}

func TestDiscardCollectibleClearsWithoutReuse(t *testing.T) {
	tr := New(0)
	tr.Collect(1)
	tr.Collect(2)
	tr.DiscardCollectible()
	if tr.CollectibleCount() != 0 {
		t.Fatal("expected collectible set cleared")
	}
}

// pkg/cache/cache_test.go
package cache

import "testing"

type testPage struct{ pn uint32 }

func (p testPage) PageNumber() uint32 { return p.pn }

func TestFindInsert(t *testing.T) {
	c := New(0)
	if _, ok := c.Find(1); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Insert(testPage{1})
	p, ok := c.Find(1)
	if !ok || p.PageNumber() != 1 {
		t.Fatalf("expected hit on page 1, got %v, %v", p, ok)
	}
}

func TestInsertReplacesExisting(t *testing.T) {
	c := New(0)
	c.Insert(testPage{1})
	c.MarkDirty(1)
	c.Insert(testPage{1})
	if c.IsDirty(1) {
		t.Fatal("expected re-insert to clear dirty flag")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after re-insert, got %d", c.Len())
	}
}

func TestPruneEvictsCleanLRU(t *testing.T) {
	c := New(2)
	c.Insert(testPage{1})
	c.Insert(testPage{2})
	c.Insert(testPage{3}) // triggers eviction of 1 (LRU)

	if c.Len() != 2 {
		t.Fatalf("expected capacity-bound size 2, got %d", c.Len())
	}
	if _, ok := c.Find(1); ok {
		t.Fatal("expected page 1 to have been evicted")
	}
	if _, ok := c.Find(2); !ok {
		t.Fatal("expected page 2 to remain")
	}
}

func TestPrunePinsDirtyPages(t *testing.T) {
	c := New(2)
	c.Insert(testPage{1})
	c.MarkDirty(1)
	c.Insert(testPage{2})
	c.Insert(testPage{3}) // 1 is LRU but dirty; should be pinned

	if _, ok := c.Find(1); !ok {
		t.Fatal("expected dirty page 1 to survive eviction")
	}
}

func TestTouchMovesToFront(t *testing.T) {
	c := New(2)
	c.Insert(testPage{1})
	c.Insert(testPage{2})
	c.Touch(1) // 1 is now MRU, 2 is LRU
	c.Insert(testPage{3})

	if _, ok := c.Find(2); ok {
		t.Fatal("expected page 2 (now LRU) to be evicted")
	}
	if _, ok := c.Find(1); !ok {
		t.Fatal("expected touched page 1 to survive")
	}
}

func TestClearDirtyAllowsEviction(t *testing.T) {
	c := New(1)
	c.Insert(testPage{1})
	c.MarkDirty(1)
	c.Insert(testPage{2}) // 1 is dirty, pinned
	if _, ok := c.Find(1); !ok {
		t.Fatal("expected dirty page to survive first prune")
	}

	c.ClearDirty(1)
	c.Touch(2)
	c.Insert(testPage{3})
	if _, ok := c.Find(1); ok {
		t.Fatal("expected cleared page to be evictable")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New(0)
	c.Insert(testPage{1})
	c.Delete(1)
	if _, ok := c.Find(1); ok {
		t.Fatal("expected page removed after Delete")
	}
}

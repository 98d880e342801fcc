// pkg/tree/tree.go
// Package tree implements the copy-on-write B+-tree engine: search, touch,
// insert, split, delete, rebalance, overflow-chain management, and cursor
// traversal (spec §4.5, §4.8). Grounded on the teacher's pkg/btree.go
// recursive descend-and-bubble style, generalized from the teacher's
// implicit-RightChild node layout to this format's every-child-has-a-cell
// layout, and from in-place mutation to CoW touch() per spec §4.5.
package tree

import (
	"bytes"
	"errors"

	"hbtdb/pkg/cache"
	"hbtdb/pkg/format"
	"hbtdb/pkg/freepage"
	"hbtdb/pkg/storage"
)

var (
	ErrKeyNotFound  = errors.New("tree: key not found")
	ErrEmptyLeafKey = errors.New("tree: leaf keys must be non-empty")
)

// CompareFunc orders two keys the way bytes.Compare does: negative if a<b,
// zero if equal, positive if a>b. Installed via SetCompareFunction (spec §6
// "setCompareFunction", §9 "Custom comparator").
type CompareFunc func(a, b []byte) int

// Tree is the shared CoW B+-tree engine instance. It holds no notion of
// "the" root — every operation takes the caller's root and returns the
// (possibly new) root, since root changes on split/merge/CoW-relocation and
// each transaction tracks its own evolving view (spec §4.7).
type Tree struct {
	pager             *storage.Pager
	cache             *cache.Cache
	free              *freepage.Tracker
	pageSize          int
	overflowThreshold int
	compare           CompareFunc

	dirty         map[uint32]bool
	dirtyOverflow map[uint32][]byte
}

// New creates a tree engine over the given pager, page cache, and free-page
// tracker. overflowThreshold defaults to pageSize/4 per spec §4.4 when 0.
func New(p *storage.Pager, c *cache.Cache, free *freepage.Tracker, pageSize, overflowThreshold int) *Tree {
	if overflowThreshold <= 0 {
		overflowThreshold = pageSize / 4
	}
	return &Tree{
		pager:             p,
		cache:             c,
		free:              free,
		pageSize:          pageSize,
		overflowThreshold: overflowThreshold,
		compare:           bytes.Compare,
		dirty:             make(map[uint32]bool),
		dirtyOverflow:     make(map[uint32][]byte),
	}
}

// SetCompareFunction installs a custom key comparator for all subsequent
// operations (spec §6: "changing mid-file corrupts the tree and is the
// caller's responsibility to avoid").
func (t *Tree) SetCompareFunction(fn CompareFunc) {
	if fn == nil {
		fn = bytes.Compare
	}
	t.compare = fn
}

func (t *Tree) compareKeys(a, b []byte) int { return t.compare(a, b) }

// getNode loads a node, preferring the cache (spec §4.2 "find").
func (t *Tree) getNode(pn uint32) (*format.Node, error) {
	if p, ok := t.cache.Find(pn); ok {
		return p.(*format.Node), nil
	}
	data, err := t.pager.ReadPage(pn, format.NodePageChecksum)
	if err != nil {
		return nil, err
	}
	node := format.LoadNode(data)
	t.cache.Insert(node)
	return node, nil
}

// putNode installs node into the cache and marks it dirty for the current
// write transaction (spec §4.2: dirty pages are "additionally referenced by
// the dirty-set of the write transaction").
func (t *Tree) putNode(node *format.Node) {
	t.cache.Insert(node)
	pn := node.PageNumber()
	t.cache.MarkDirty(pn)
	t.dirty[pn] = true
}

// allocatePage hands out a collectible page number if one is available,
// otherwise extends the file (spec §4.5 "touch": "allocate a new page
// (from collectible or by extending the file)").
func (t *Tree) allocatePage() (uint32, error) {
	if pn, ok := t.free.Allocate(); ok {
		return pn, nil
	}
	return t.pager.Allocate()
}

// touch implements spec §4.5 "Touch": returns a dirty, mutable node for pn,
// either reusing it in place (uncommitted this epoch) or relocating it to a
// freshly allocated page via copy-on-write.
func (t *Tree) touch(pn uint32) (*format.Node, error) {
	node, err := t.getNode(pn)
	if err != nil {
		return nil, err
	}
	if t.dirty[pn] {
		return node, nil
	}

	lastSynced := t.free.LastSyncedID()
	if node.SyncID() > lastSynced {
		t.dirty[pn] = true
		t.cache.MarkDirty(pn)
		return node, nil
	}

	newPN, err := t.allocatePage()
	if err != nil {
		return nil, err
	}
	newData := make([]byte, t.pageSize)
	copy(newData, node.Data())
	relocated := format.LoadNode(newData)
	relocated.SetPageNumber(newPN)
	relocated.SetSyncID(lastSynced + 1)

	if !relocated.PrependHistory(format.HistoryNode{PageNumber: pn, SyncID: node.SyncID()}) {
		// No room even after copying: flush the entire carried-over
		// history to residue and retry with a clean slate (spec §4.3).
		for _, h := range relocated.History() {
			t.free.Defer(h.PageNumber)
		}
		relocated.ClearHistory()
		if !relocated.PrependHistory(format.HistoryNode{PageNumber: pn, SyncID: node.SyncID()}) {
			return nil, format.ErrNodeFull
		}
	} else {
		t.ageHistory(relocated, lastSynced)
	}

	t.putNode(relocated)
	return relocated, nil
}

// ageHistory reclaims every history entry of node older than lastSynced,
// short of the single entry retained at exactly lastSynced (spec §4.3: a
// stale entry "joins collectible" as soon as its sync_id falls behind the
// last durable sync, rather than waiting for the whole history list to
// overflow the page). Run on every touch() relocation so hot pages don't
// accumulate unreclaimed history between syncs.
func (t *Tree) ageHistory(node *format.Node, lastSynced uint64) {
	stale := node.RemoveHistoryBefore(lastSynced)
	for _, h := range stale {
		t.free.Release(h.SyncID, h.PageNumber, false)
	}
}

// findPosition returns the lower-bound slot for key: the first index whose
// key is >= key (leaf insertion point / exact-match candidate).
func (t *Tree) findPosition(node *format.Node, key []byte) int {
	lo, hi := 0, node.CellCount()
	for lo < hi {
		mid := (lo + hi) / 2
		ck := node.GetCell(mid).Key
		if t.compareKeys(ck, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// findChildIndex chooses the largest routing key <= key within a branch
// node, treating an empty key as -infinity (spec §4.5 "Search": "choose the
// largest routing key ≤ k ... leftmost empty key treated as -∞").
func (t *Tree) findChildIndex(node *format.Node, key []byte) int {
	lo, hi := 0, node.CellCount()
	for lo < hi {
		mid := (lo + hi) / 2
		ck := node.GetCell(mid).Key
		if len(ck) == 0 || t.compareKeys(ck, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

func (t *Tree) cellKeyEquals(node *format.Node, idx int, key []byte) bool {
	return t.compareKeys(node.GetCell(idx).Key, key) == 0
}

// Get performs a read-only search for key from root, resolving overflow
// chains transparently (spec §4.5 "Search").
func (t *Tree) Get(root uint32, key []byte) ([]byte, bool, error) {
	pn := root
	for pn != format.InvalidPage {
		node, err := t.getNode(pn)
		if err != nil {
			return nil, false, err
		}
		if node.IsLeaf() {
			idx := t.findPosition(node, key)
			if idx >= node.CellCount() || !t.cellKeyEquals(node, idx, key) {
				return nil, false, nil
			}
			cell := node.GetCell(idx)
			if !cell.Overflow {
				return append([]byte(nil), cell.Value...), true, nil
			}
			val, err := t.readOverflowChain(cell.Context)
			return val, err == nil, err
		}
		idx := t.findChildIndex(node, key)
		pn = node.GetCell(idx).Context
	}
	return nil, false, nil
}

// Depth walks the leftmost path from root to a leaf and reports the number
// of levels, for the embedding layer's Stats() surface (spec §6 "Stats:
// counters for ... tree depth"). An empty tree (root == InvalidPage) has
// depth 0.
func (t *Tree) Depth(root uint32) (int, error) {
	depth := 0
	pn := root
	for pn != format.InvalidPage {
		node, err := t.getNode(pn)
		if err != nil {
			return 0, err
		}
		depth++
		if node.IsLeaf() {
			break
		}
		pn = node.GetCell(0).Context
	}
	return depth, nil
}

// DirtyNodePages returns the page numbers touched by this transaction and
// not yet written by FlushDirty.
func (t *Tree) DirtyNodePages() []uint32 {
	out := make([]uint32, 0, len(t.dirty))
	for pn := range t.dirty {
		out = append(out, pn)
	}
	return out
}

// DirtyOverflowPages returns the raw, not-yet-flushed overflow page buffers
// written by this transaction.
func (t *Tree) DirtyOverflowPages() map[uint32][]byte {
	return t.dirtyOverflow
}

// FlushDirty writes every dirty node and overflow page through the pager
// (spec §4.6 "Commit": "Serialize and write every dirty page") and clears
// the transaction's dirty bookkeeping.
func (t *Tree) FlushDirty() error {
	for pn := range t.dirty {
		node, ok := t.cache.Find(pn)
		if !ok {
			continue
		}
		n := node.(*format.Node)
		n.Finalize()
		if err := t.pager.WritePage(n.Data(), format.NodePageChecksum); err != nil {
			return err
		}
		t.cache.ClearDirty(pn)
	}
	for _, data := range t.dirtyOverflow {
		if err := t.pager.WritePage(data, nil); err != nil {
			return err
		}
	}
	t.dirty = make(map[uint32]bool)
	t.dirtyOverflow = make(map[uint32][]byte)
	return nil
}

// DiscardDirty drops all of this transaction's in-memory mutations without
// writing anything (spec §4.7 "abort"). Pages it allocated are simply
// forgotten: they are not returned to the free-page tracker, so later
// allocations do not hand them out again.
func (t *Tree) DiscardDirty() {
	for pn := range t.dirty {
		t.cache.Remove(pn)
	}
	t.dirty = make(map[uint32]bool)
	t.dirtyOverflow = make(map[uint32][]byte)
}

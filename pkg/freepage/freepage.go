// pkg/freepage/freepage.go
// Package freepage tracks which page numbers are safe to reuse and which
// must wait for the next durable sync (spec §4.3 "Free-page tracker").
// Unlike the teacher's pkg/pager/freelist.go — a persistent trunk-page
// linked list modeled on SQLite's on-disk freelist — this tracker is pure
// in-memory bookkeeping for a single write transaction's epoch; the LIFO
// allocation strategy (favoring locality of reference) is the one idea
// carried over directly from that file.
package freepage

import "sync"

// Disposition is the outcome of classifying a page being removed from the
// tree against the last durably synced epoch (spec §4.3).
type Disposition int

const (
	// Retain means the page is still the most recent synced incarnation of
	// its logical node and must be kept as a HistoryNode rather than freed.
	Retain Disposition = iota
	// Collectible means the page is safe to reuse immediately: it was
	// either never part of a durable marker, or it predates the last sync
	// and so is unreachable from every live marker.
	Collectible
)

// Classify decides the disposition of a page given the sync epoch it was
// written in, relative to the last durably synced epoch (spec §4.3: "A page
// becomes collectible immediately when it is removed from the tree AND its
// sync_id > last_synced_id... when that history's sync_id < last_synced_id
// it joins collectible, except the newest history node that equals
// last_synced_id is retained").
func Classify(pageSyncID, lastSyncedID uint64) Disposition {
	if pageSyncID == lastSyncedID {
		return Retain
	}
	return Collectible
}

// Tracker holds the two sets described in spec §4.3: collectible (reusable
// within the current write transaction) and residue (must survive until the
// next sync is durable).
type Tracker struct {
	mu           sync.Mutex
	lastSyncedID uint64
	collectible  []uint32 // LIFO stack, most recently freed page reused first
	residue      map[uint32]struct{}
}

// New creates a tracker with no free pages yet known, recording the epoch
// that page dispositions are classified against.
func New(lastSyncedID uint64) *Tracker {
	return &Tracker{
		lastSyncedID: lastSyncedID,
		residue:      make(map[uint32]struct{}),
	}
}

// LastSyncedID returns the epoch boundary used by Classify.
func (t *Tracker) LastSyncedID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSyncedID
}

// SetLastSyncedID advances the epoch boundary after a successful sync
// (spec §4.6 "Sync": "Advance last_synced_id").
func (t *Tracker) SetLastSyncedID(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSyncedID = id
}

// Collect adds pn directly to the collectible set: it may be handed out by
// Allocate within the current transaction.
func (t *Tracker) Collect(pn uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collectible = append(t.collectible, pn)
}

// Defer adds pn to the residue set: it must ride on the next marker's
// residue list and cannot be reused until that marker's sync is durable
// (spec invariant 8).
func (t *Tracker) Defer(pn uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.residue[pn] = struct{}{}
}

// Release classifies a page being removed from the tree and passes it to
// Collect when the result is Collectible; for any other result the tracker
// is left unchanged and the disposition is only returned to the caller
// (Release never calls Defer). With immediate==true, a page whose sync_id is
// newer than last_synced_id is collected without consulting Classify;
// otherwise Classify decides, as on the ordinary history-aging path.
func (t *Tracker) Release(pageSyncID uint64, pn uint32, immediate bool) Disposition {
	if immediate && pageSyncID > t.LastSyncedID() {
		t.Collect(pn)
		return Collectible
	}
	d := Classify(pageSyncID, t.LastSyncedID())
	if d == Collectible {
		t.Collect(pn)
	}
	return d
}

// CollectChain releases every page of a deleted overflow chain. When
// immediate is false the pages are deferred to residue instead, matching
// the handling for a chain whose head's sync_id predates the last sync.
func (t *Tracker) CollectChain(pages []uint32, immediate bool) {
	for _, pn := range pages {
		if immediate {
			t.Collect(pn)
		} else {
			t.Defer(pn)
		}
	}
}

// Allocate pops the most recently freed collectible page (LIFO, favoring
// locality — the one idiom carried over from the teacher's trunk-page
// freelist). ok is false when the collectible set is empty and the caller
// must extend the file via the pager instead.
func (t *Tracker) Allocate() (pn uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.collectible) == 0 {
		return 0, false
	}
	last := len(t.collectible) - 1
	pn = t.collectible[last]
	t.collectible = t.collectible[:last]
	return pn, true
}

// Residue returns a snapshot of the current residue set's page numbers, for
// encoding into the next marker's residue list (spec §4.6 "Commit":
// "residue = this transaction's residue set").
func (t *Tracker) Residue() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint32, 0, len(t.residue))
	for pn := range t.residue {
		out = append(out, pn)
	}
	return out
}

// ResidueCount reports the size of the residue set.
func (t *Tracker) ResidueCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.residue)
}

// SetResidue replaces the residue set wholesale — used when recovering a
// marker at open (spec §4.6 "Open / recovery": "Fold current.residue into
// collectible" happens via FoldResidue after this call seeds the set).
func (t *Tracker) SetResidue(pns []uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.residue = make(map[uint32]struct{}, len(pns))
	for _, pn := range pns {
		t.residue[pn] = struct{}{}
	}
}

// FoldResidue moves every page in residue into collectible and clears
// residue, called once a sync durably commits (spec §4.6: "Any overflow
// pages that held the previous sync's residue become collectible") and once
// at open/recovery time for the recovered marker's residue list.
func (t *Tracker) FoldResidue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for pn := range t.residue {
		t.collectible = append(t.collectible, pn)
	}
	t.residue = make(map[uint32]struct{})
}

// DiscardCollectible drops every page currently staged as collectible
// without reusing them — used when aborting a write transaction whose
// dirty-but-never-synced pages are simply garbage (spec §4.7 "abort":
// "discards dirty pages... they are in collectible within the same epoch").
// Every staged page is dropped, including pages folded in from residue and
// pages aged out of history, not only those of the aborted transaction;
// Allocate never hands any of them out again, so later allocations extend
// the file instead.
func (t *Tracker) DiscardCollectible() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collectible = nil
}

// CollectibleCount reports the size of the collectible set.
func (t *Tracker) CollectibleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.collectible)
}

// pkg/marker/marker.go
// Package marker implements the dual-sync + dual-working durability
// protocol over reserved pages 1-4 (spec §4.6). Grounded on the teacher's
// pkg/turdb.Open-time validation style and pkg/wal.go's checksum-guarded
// frame idiom — adapted from a write-ahead log to the spec's marker-page
// scheme, which carries the current snapshot directly on fixed pages
// instead of replaying a log.
package marker

import (
	"errors"

	"hbtdb/pkg/format"
	"hbtdb/pkg/page"
	"hbtdb/pkg/storage"
)

var ErrNoValidMarker = errors.New("marker: no valid sync marker found")

// Protocol owns the four reserved marker pages and the current recovered
// marker (spec §4.6).
type Protocol struct {
	pager *storage.Pager

	current format.Marker
	// pingParity is which of {ping, pong} receives an even-revision commit;
	// fixed at file creation and followed consistently thereafter (spec
	// §4.6: "the parity rule is fixed at creation").
	pingParity uint64
}

// New wraps an already-open pager with no recovered state yet (used right
// after formatting a brand-new file).
func New(p *storage.Pager) *Protocol {
	return &Protocol{pager: p}
}

// Current returns the presently recovered/committed marker.
func (pr *Protocol) Current() format.Marker { return pr.current }

func (pr *Protocol) readMarker(pn uint32) (format.Marker, error) {
	data, err := pr.pager.ReadPage(pn, nil)
	if err != nil {
		return format.Marker{}, err
	}
	m, err := format.DecodeMarker(data)
	if err != nil {
		return format.Marker{}, err
	}
	return m, nil
}

// tryReadMarker reads pn, returning ok=false on any I/O or checksum error
// instead of propagating it — corrupt markers are expected and handled by
// falling back to another slot (spec §4.6, §7).
func (pr *Protocol) tryReadMarker(pn uint32) (format.Marker, bool) {
	m, err := pr.readMarker(pn)
	if err != nil {
		return format.Marker{}, false
	}
	return m, true
}

// Recover implements spec §4.6 "Open / recovery": prefer a valid sync
// marker (A else B), then pick the highest-revision marker among {that sync
// marker if any, ping, pong}, and make it Current. Truncating the file to
// the marker's recorded size and folding its residue into the free-page
// tracker are left to the caller. Corrupting both sync markers does not
// fail recovery by itself — ping/pong still carry the same durable state a
// sync would have copied into sync-A/B, so they are always consulted; only
// when all four marker pages are unreadable does recovery fail (spec's
// "corrupt pages {1,2}; reopen; ... fell back to ping/pong" scenario).
func (pr *Protocol) Recover() (format.Marker, error) {
	var best format.Marker
	haveBest := false

	if syncM, ok := pr.tryReadMarker(page.PageSyncA); ok {
		best, haveBest = syncM, true
	} else if syncM, ok := pr.tryReadMarker(page.PageSyncB); ok {
		best, haveBest = syncM, true
	}

	if ping, ok := pr.tryReadMarker(page.PagePing); ok && (!haveBest || ping.Revision > best.Revision) {
		best, haveBest = ping, true
	}
	if pong, ok := pr.tryReadMarker(page.PagePong); ok && (!haveBest || pong.Revision > best.Revision) {
		best, haveBest = pong, true
	}
	if !haveBest {
		return format.Marker{}, ErrNoValidMarker
	}

	pr.current = best
	pr.pingParity = best.Revision % 2
	return best, nil
}

// ResidueFor returns the full residue page list of a marker, walking the
// overflow chain for entries beyond inline capacity (spec §3: "A marker
// whose residue list exceeds the page body spills into an overflow
// chain").
func (pr *Protocol) ResidueFor(m format.Marker) ([]uint32, error) {
	out := append([]uint32(nil), m.Residue...)
	pn := m.ResidueOverflow
	for pn != format.InvalidPage && uint32(len(out)) < m.ResidueTotal {
		data, err := pr.pager.ReadPage(pn, nil)
		if err != nil {
			return nil, err
		}
		next, payload := format.DecodeOverflowPage(data)
		for i := 0; i+4 <= len(payload); i += 4 {
			out = append(out, leU32(payload[i:]))
		}
		pn = next
	}
	return out, nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// workingSlot returns the ping-or-pong page dictated by revision parity
// (spec §4.6: "commit writes to page 3 when the new revision is even, page
// 4 when odd (or vice versa)").
func (pr *Protocol) workingSlot(revision uint64) uint32 {
	if revision%2 == pr.pingParity {
		return page.PagePing
	}
	return page.PagePong
}

// encodeResidue splits a residue list between the marker's inline capacity
// and an overflow chain, writing any overflow pages directly (markers are
// written synchronously, unlike node/overflow pages which wait for a
// transaction's FlushDirty).
func (pr *Protocol) encodeResidue(residue []uint32) (inline []uint32, overflowHead uint32, err error) {
	capacity := format.InlineResidueCapacity(pr.pager.PageSize())
	if len(residue) <= capacity {
		return residue, format.InvalidPage, nil
	}
	inline = residue[:capacity]
	rest := residue[capacity:]

	payloadCapacity := format.OverflowCapacity(pr.pager.PageSize()) / 4 * 4
	var pages []uint32
	for len(rest) > 0 {
		pn, err := pr.pager.Allocate()
		if err != nil {
			return nil, 0, err
		}
		pages = append(pages, pn)
		n := payloadCapacity / 4
		if n > len(rest) {
			n = len(rest)
		}
		rest = rest[n:]
	}

	// Second pass: now that every page number is known, encode with correct
	// next-pointers (need all heads resolved before any page is written).
	rest = residue[capacity:]
	for i, pn := range pages {
		n := payloadCapacity / 4
		if n > len(rest) {
			n = len(rest)
		}
		chunk := rest[:n]
		rest = rest[n:]
		payload := make([]byte, len(chunk)*4)
		for j, v := range chunk {
			putU32(payload[j*4:], v)
		}
		next := format.InvalidPage
		if i+1 < len(pages) {
			next = pages[i+1]
		}
		data := format.EncodeOverflowPage(pr.pager.PageSize(), pn, next, payload)
		if err := pr.pager.WritePage(data, nil); err != nil {
			return nil, 0, err
		}
	}
	if len(pages) == 0 {
		return inline, format.InvalidPage, nil
	}
	return inline, pages[0], nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Commit implements spec §4.6 "Commit": build the next marker from the
// current one, write it to the ping-or-pong slot dictated by revision
// parity, and update Current — without fsyncing (spec: "Do NOT fsync yet").
// lastSyncedID is the free-page tracker's current epoch boundary; per spec,
// sync_id = last_synced_id + 1, which stays constant across every commit
// within the same epoch (it only advances when Sync runs), matching the
// sync_id new tree pages are stamped with during that same epoch.
func (pr *Protocol) Commit(root uint32, tag uint64, residue []uint32, lastSyncedID uint64) (format.Marker, error) {
	next := format.Marker{
		Root:     root,
		Revision: pr.current.Revision + 1,
		SyncID:   lastSyncedID + 1,
		Tag:      tag,
		Size:     uint64(pr.pager.PageCount()) * uint64(pr.pager.PageSize()),
	}
	inline, overflowHead, err := pr.encodeResidue(residue)
	if err != nil {
		return format.Marker{}, err
	}
	next.Residue = inline
	next.ResidueTotal = uint32(len(residue))
	next.ResidueOverflow = overflowHead

	slot := pr.workingSlot(next.Revision)
	data := format.EncodeMarker(next, pr.pager.PageSize(), slot)
	if err := pr.pager.WritePage(data, nil); err != nil {
		return format.Marker{}, err
	}
	pr.current = next
	return next, nil
}

// Sync implements spec §4.6 "Sync": fsync data, write sync-A with the
// current marker's contents, fsync, write sync-B, and report the
// now-durable sync_id.
func (pr *Protocol) Sync() (durable bool, syncID uint64, err error) {
	if pr.current.SyncID == 0 {
		// Nothing has ever been committed.
		return false, 0, nil
	}
	if err := pr.pager.Fsync(); err != nil {
		return false, 0, err
	}

	data := format.EncodeMarker(pr.current, pr.pager.PageSize(), page.PageSyncA)
	if err := pr.pager.WritePage(data, nil); err != nil {
		return false, 0, err
	}
	if err := pr.pager.Fsync(); err != nil {
		return false, 0, err
	}
	dataB := format.EncodeMarker(pr.current, pr.pager.PageSize(), page.PageSyncB)
	if err := pr.pager.WritePage(dataB, nil); err != nil {
		return false, 0, err
	}
	return true, pr.current.SyncID, nil
}

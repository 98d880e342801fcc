// pkg/format/node.go
package format

import (
	"encoding/binary"
	"errors"

	"hbtdb/pkg/page"
)

// Node-level flag bits (NodeHeader.Flags).
const NodeFlagLeaf uint16 = 0x0001

// Record-level flag bits (per-entry flags).
const RecordFlagOverflow uint16 = 0x0001

// HistoryEntrySize is the encoded size of one HistoryNode entry: page_number u32,
// sync_id u64 (spec §3 "Node pages").
const HistoryEntrySize = 4 + 8

// HistoryNode is a back-reference to a prior on-disk incarnation of the
// logical node now occupying this page (GLOSSARY "History node").
type HistoryNode struct {
	PageNumber uint32
	SyncID     uint64
}

// nodeHeaderSize is sizeof{sync_id u64, history_size u16, flags u16}.
const nodeHeaderSize = 8 + 2 + 2

const (
	nhOffSyncID      = 0
	nhOffHistorySize = 8
	nhOffFlags       = 10
)

// slotSize is the width of one index-region entry (an absolute byte offset
// into the record region).
const slotSize = 2

// recordHeaderSize is sizeof{flags u16, key_size u16, context u32}.
const recordHeaderSize = 2 + 2 + 4

var (
	ErrRecordTooLarge = errors.New("format: record does not fit on an empty page")
	ErrNodeFull        = errors.New("format: node has insufficient free space")
	ErrKeyTooLong      = errors.New("format: key exceeds MaxKeySize")
)

// Node wraps a branch/leaf page buffer with typed accessors for the
// NodeHeader, history list, and slotted index/record regions (spec §3
// "Node pages").
type Node struct {
	data []byte
}

// LoadNode wraps an already-encoded branch/leaf page.
func LoadNode(data []byte) *Node { return &Node{data: data} }

// NewNode formats a fresh, empty branch or leaf page in data (which must be
// page-sized and zeroed) and returns the wrapping Node.
func NewNode(data []byte, pageNumber uint32, isLeaf bool, syncID uint64) *Node {
	typ := page.TypeBranch
	if isLeaf {
		typ = page.TypeLeaf
	}
	bodyStart := uint16(page.InfoSize + nodeHeaderSize)
	page.PutInfo(data, page.Info{
		Type:        typ,
		PageNumber:  pageNumber,
		LowerOffset: bodyStart,
		UpperOffset: uint16(len(data)),
	})
	n := &Node{data: data}
	n.setSyncID(syncID)
	n.setHistorySize(0)
	flags := uint16(0)
	if isLeaf {
		flags = NodeFlagLeaf
	}
	n.setHeaderFlags(flags)
	return n
}

func (n *Node) header() []byte { return n.data[page.InfoSize : page.InfoSize+nodeHeaderSize] }

// IsLeaf reports whether this node is a leaf page.
func (n *Node) IsLeaf() bool {
	return binary.LittleEndian.Uint16(n.header()[nhOffFlags:])&NodeFlagLeaf != 0
}

func (n *Node) setHeaderFlags(f uint16) {
	binary.LittleEndian.PutUint16(n.header()[nhOffFlags:], f)
}

// SyncID returns the epoch in which this page's current content was written
// (spec §4.5 "Touch").
func (n *Node) SyncID() uint64 { return binary.LittleEndian.Uint64(n.header()[nhOffSyncID:]) }

func (n *Node) setSyncID(id uint64) { binary.LittleEndian.PutUint64(n.header()[nhOffSyncID:], id) }

// SetSyncID updates the node's sync epoch (used by touch() on in-place reuse
// and on CoW relocation).
func (n *Node) SetSyncID(id uint64) { n.setSyncID(id) }

// PageNumber returns this page's own page number.
func (n *Node) PageNumber() uint32 {
	info, _ := page.GetInfo(n.data)
	return info.PageNumber
}

// SetPageNumber rewrites the page_number field (used when a page is
// reformatted in place during touch()).
func (n *Node) SetPageNumber(pn uint32) {
	info, _ := page.GetInfo(n.data)
	info.PageNumber = pn
	page.PutInfo(n.data, info)
}

func (n *Node) historySize() int {
	return int(binary.LittleEndian.Uint16(n.header()[nhOffHistorySize:]))
}

func (n *Node) setHistorySize(c int) {
	binary.LittleEndian.PutUint16(n.header()[nhOffHistorySize:], uint16(c))
}

func (n *Node) historyRegion() []byte {
	start := page.InfoSize + nodeHeaderSize
	end := start + n.historySize()*HistoryEntrySize
	return n.data[start:end]
}

// History returns the node's history list, oldest-appended-last (index 0 is
// the most recently prepended entry, matching "prepend a HistoryNode" in
// spec §4.5 "Touch").
func (n *Node) History() []HistoryNode {
	region := n.historyRegion()
	out := make([]HistoryNode, n.historySize())
	for i := range out {
		b := region[i*HistoryEntrySize:]
		out[i] = HistoryNode{
			PageNumber: binary.LittleEndian.Uint32(b),
			SyncID:     binary.LittleEndian.Uint64(b[4:]),
		}
	}
	return out
}

// bodyStart returns the byte offset at which the slotted index region
// begins: just past the page info, the node header and the history list.
func (n *Node) bodyStart() int {
	return page.InfoSize + nodeHeaderSize + n.historySize()*HistoryEntrySize
}

// PrependHistory adds hn as the newest history entry, shifting the slotted
// region's bodyStart forward. Returns false if there is not enough free
// space to grow the history list by one entry; the caller must then flush
// the existing history into the free-page tracker's residue set (spec §4.3
// "When a node page cannot accommodate another HistoryNode...").
func (n *Node) PrependHistory(hn HistoryNode) bool {
	info, _ := page.GetInfo(n.data)
	if n.FreeSpace() < HistoryEntrySize {
		return false
	}

	oldStart := n.bodyStart()
	oldCount := n.historySize()
	slots := n.slotCount()
	newCount := oldCount + 1
	newStart := page.InfoSize + nodeHeaderSize + newCount*HistoryEntrySize

	// Shift the index region (and implicitly the whole slotted body) down
	// by HistoryEntrySize to make room, then write the new entry at the
	// front of the (now relocated) history list.
	copy(n.data[newStart:], n.data[oldStart:info.LowerOffset])

	n.setHistorySize(newCount)
	region := n.historyRegion()
	// Shift existing entries down by one slot, then write hn at index 0.
	copy(region[HistoryEntrySize:], region[:oldCount*HistoryEntrySize])
	binary.LittleEndian.PutUint32(region[0:], hn.PageNumber)
	binary.LittleEndian.PutUint64(region[4:], hn.SyncID)

	info.LowerOffset = uint16(newStart + slots*slotSize)
	page.PutInfo(n.data, info)
	return true
}

// ClearHistory discards the entire history list, reclaiming its space for
// the slotted region. Used after the tracker has flushed the list into
// residue (spec §4.3).
func (n *Node) ClearHistory() {
	info, _ := page.GetInfo(n.data)
	oldStart := n.bodyStart()
	count := n.slotCount()
	newStart := page.InfoSize + nodeHeaderSize
	copy(n.data[newStart:], n.data[oldStart:oldStart+count*slotSize])
	n.setHistorySize(0)
	info.LowerOffset = uint16(newStart + count*slotSize)
	page.PutInfo(n.data, info)
}

// RemoveHistoryBefore drops every history entry whose sync_id is strictly
// less than lastSynced, compacting the remainder into the space ClearHistory
// would otherwise reclaim wholesale, and returns the removed entries so the
// caller can route their page numbers to the free-page tracker (spec §4.3:
// "whenever that history's sync_id < last_synced_id it joins collectible,
// except the newest history node that equals last_synced_id, which is
// retained"). Entries at or above lastSynced keep their relative order.
func (n *Node) RemoveHistoryBefore(lastSynced uint64) []HistoryNode {
	all := n.History()
	if len(all) == 0 {
		return nil
	}
	kept := all[:0:0]
	var removed []HistoryNode
	for _, h := range all {
		if h.SyncID < lastSynced {
			removed = append(removed, h)
		} else {
			kept = append(kept, h)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	n.setHistory(kept)
	return removed
}

// setHistory rewrites the history region to hold exactly entries (must not
// grow the list — callers only ever shrink it).
func (n *Node) setHistory(entries []HistoryNode) {
	info, _ := page.GetInfo(n.data)
	oldStart := n.bodyStart()
	count := n.slotCount()
	newCount := len(entries)
	newStart := page.InfoSize + nodeHeaderSize + newCount*HistoryEntrySize

	copy(n.data[newStart:], n.data[oldStart:oldStart+count*slotSize])
	n.setHistorySize(newCount)
	region := n.historyRegion()
	for i, h := range entries {
		b := region[i*HistoryEntrySize:]
		binary.LittleEndian.PutUint32(b, h.PageNumber)
		binary.LittleEndian.PutUint64(b[4:], h.SyncID)
	}
	info.LowerOffset = uint16(newStart + count*slotSize)
	page.PutInfo(n.data, info)
}

// FreeSpace returns the number of unused bytes between the index region and
// the record region (spec invariant 5).
func (n *Node) FreeSpace() int {
	info, _ := page.GetInfo(n.data)
	return int(info.UpperOffset) - int(info.LowerOffset)
}

func (n *Node) slotCount() int {
	info, _ := page.GetInfo(n.data)
	return (int(info.LowerOffset) - n.bodyStart()) / slotSize
}

// CellCount returns the number of entries currently stored in this node.
func (n *Node) CellCount() int { return n.slotCount() }

func (n *Node) slotOffset(i int) int { return n.bodyStart() + i*slotSize }

func (n *Node) recordOffset(i int) int {
	return int(binary.LittleEndian.Uint16(n.data[n.slotOffset(i):]))
}

func (n *Node) setRecordOffset(i, offset int) {
	binary.LittleEndian.PutUint16(n.data[n.slotOffset(i):], uint16(offset))
}

// Cell is a decoded node record: a branch (key, child page) pair or a leaf
// (key, value) / (key, overflow head) pair.
type Cell struct {
	Key      []byte
	Flags    uint16
	Context  uint32 // child page number (branch) or value size / overflow head (leaf)
	Value    []byte // inline value bytes; empty for branch cells and overflowed leaf cells
	Overflow bool
}

// GetCell decodes the entry at slot i.
func (n *Node) GetCell(i int) Cell {
	off := n.recordOffset(i)
	rec := n.data[off:]
	flags := binary.LittleEndian.Uint16(rec)
	keySize := binary.LittleEndian.Uint16(rec[2:])
	context := binary.LittleEndian.Uint32(rec[4:])

	key := rec[recordHeaderSize : recordHeaderSize+int(keySize)]
	c := Cell{Key: key, Flags: flags, Context: context, Overflow: flags&RecordFlagOverflow != 0}

	if !n.IsLeaf() || c.Overflow {
		return c
	}
	valStart := recordHeaderSize + int(keySize)
	c.Value = rec[valStart : valStart+int(context)]
	return c
}

// recordSize returns the encoded byte size of a record with the given key
// and inline value (value is ignored when overflow is true).
func recordSize(key, value []byte, overflow bool) int {
	if overflow {
		return recordHeaderSize + len(key)
	}
	return recordHeaderSize + len(key) + len(value)
}

// SpaceNeededForCell returns the bytes InsertCell would consume for this
// entry, including its index slot and, per spec §4.5 "Space reservation",
// one reserved HistoryNode slot for the next touch() of this page.
func SpaceNeededForCell(key, value []byte, overflow bool) int {
	return recordSize(key, value, overflow) + slotSize + HistoryEntrySize
}

// InsertCell inserts a new record at slot index i, shifting later slots
// right. ctx is the child page number for a branch cell, the overflow chain
// head for an overflowed leaf cell, or left 0 and recomputed from len(value)
// for an inline leaf cell.
func (n *Node) InsertCell(i int, key, value []byte, overflow bool, ctx uint32) error {
	if len(key) > MaxKeySize {
		return ErrKeyTooLong
	}
	size := recordSize(key, value, overflow)
	needed := size + slotSize
	if n.FreeSpace() < needed {
		return ErrNodeFull
	}

	info, _ := page.GetInfo(n.data)
	count := n.slotCount()

	// Shift slot pointers right to open a gap at i.
	for j := count; j > i; j-- {
		n.setRecordOffset(j, n.recordOffset(j-1))
	}

	newUpper := int(info.UpperOffset) - size
	off := newUpper

	flags := uint16(0)
	if overflow {
		flags = RecordFlagOverflow
	}
	context := ctx
	if !overflow && n.IsLeaf() {
		context = uint32(len(value))
	}

	rec := n.data[off:]
	binary.LittleEndian.PutUint16(rec, flags)
	binary.LittleEndian.PutUint16(rec[2:], uint16(len(key)))
	binary.LittleEndian.PutUint32(rec[4:], context)
	copy(rec[recordHeaderSize:], key)
	if !overflow && n.IsLeaf() {
		copy(rec[recordHeaderSize+len(key):], value)
	}

	n.setRecordOffset(i, off)

	info.UpperOffset = uint16(newUpper)
	info.LowerOffset += slotSize
	page.PutInfo(n.data, info)
	return nil
}

// UpdateCellContext rewrites just the 4-byte context word of slot i
// (a branch child pointer, or an overflow chain head) without moving the
// record, since the context field is fixed width.
func (n *Node) UpdateCellContext(i int, ctx uint32) {
	off := n.recordOffset(i)
	binary.LittleEndian.PutUint32(n.data[off+4:], ctx)
}

// DeleteCell removes the entry at slot i and compacts the record region so
// FreeSpace stays accurate. O(cells) — node pages are small, and CoW already
// rewrites the whole page on most mutations.
func (n *Node) DeleteCell(i int) {
	info, _ := page.GetInfo(n.data)
	count := n.slotCount()

	type kept struct {
		off  int
		size int
	}
	all := make([]kept, 0, count-1)
	for j := 0; j < count; j++ {
		if j == i {
			continue
		}
		off := n.recordOffset(j)
		all = append(all, kept{off: off, size: n.cellByteSize(j)})
	}

	// Rebuild the record region from the page end downward, preserving
	// relative order, then rewrite the slot array.
	cursor := len(n.data)
	newOffsets := make([]int, len(all))
	bodies := make([][]byte, len(all))
	for idx, k := range all {
		bodies[idx] = append([]byte(nil), n.data[k.off:k.off+k.size]...)
	}
	for idx := len(all) - 1; idx >= 0; idx-- {
		cursor -= len(bodies[idx])
		copy(n.data[cursor:], bodies[idx])
		newOffsets[idx] = cursor
	}

	bodyStart := n.bodyStart()
	for idx, off := range newOffsets {
		binary.LittleEndian.PutUint16(n.data[bodyStart+idx*slotSize:], uint16(off))
	}

	info.LowerOffset = uint16(bodyStart + len(all)*slotSize)
	info.UpperOffset = uint16(cursor)
	page.PutInfo(n.data, info)
}

func (n *Node) cellByteSize(i int) int {
	off := n.recordOffset(i)
	rec := n.data[off:]
	keySize := int(binary.LittleEndian.Uint16(rec[2:]))
	flags := binary.LittleEndian.Uint16(rec)
	size := recordHeaderSize + keySize
	if n.IsLeaf() && flags&RecordFlagOverflow == 0 {
		valSize := int(binary.LittleEndian.Uint32(rec[4:]))
		size += valSize
	}
	return size
}

// Checksum computes this node's page-level checksum per spec §3's node-page
// rule (header+meta+history+index XOR'd with the used upper region).
func (n *Node) Checksum() uint32 {
	return NodePageChecksum(n.data)
}

// NodePageChecksum computes the node-page checksum directly from a raw page
// buffer, without wrapping it in a Node. Used as the checksumFn passed to
// the pager when reading/writing branch or leaf pages.
func NodePageChecksum(data []byte) uint32 {
	info, _ := page.GetInfo(data)
	return page.ChecksumNode(data, info.LowerOffset, info.UpperOffset)
}

// Finalize splices the node's checksum into its header. Call once after all
// mutation is done, immediately before the page is handed to the pager.
func (n *Node) Finalize() {
	page.SetChecksum(n.data, n.Checksum())
}

// Data returns the raw page buffer backing this node.
func (n *Node) Data() []byte { return n.data }

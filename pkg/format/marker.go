// pkg/format/marker.go
package format

import (
	"encoding/binary"
	"errors"

	"hbtdb/pkg/page"
)

// ErrShortMarkerPage is returned when a buffer is too small to hold even the
// fixed portion of a marker.
var ErrShortMarkerPage = errors.New("format: marker page too short")

const markerBodyOffset = page.InfoSize // fields below start right after PageInfo

// Fixed-field byte offsets within a marker page, relative to markerBodyOffset.
const (
	offRoot            = 0
	offRevision        = 4
	offSyncID          = 12
	offTag             = 20
	offSize            = 28
	offFlags           = 36
	offResidueCount    = 40
	offResidueOverflow = 44
	offResidueInline   = 48
)

// Marker describes one consistent tree snapshot (spec §3 "Marker",
// GLOSSARY). Residue is the full set of page numbers whose reuse must be
// deferred until this marker is durably synced (spec §4.3); when it does not
// fit inline, the overflow entries are carried on a chain whose head is
// ResidueOverflow.
type Marker struct {
	Root            uint32
	Revision        uint64
	SyncID          uint64
	Tag             uint64
	Size            uint64
	Flags           uint32
	Residue         []uint32 // entries that fit inline on this page
	ResidueTotal    uint32   // total residue count, inline + overflow
	ResidueOverflow uint32   // overflow chain head, InvalidPage if none
}

// InlineResidueCapacity returns how many residue page numbers fit directly
// on a marker page of the given size, before the rest must spill to an
// overflow chain (spec §3 "A marker whose residue list exceeds the page body
// spills into an overflow chain").
func InlineResidueCapacity(pageSize int) int {
	return (pageSize - markerBodyOffset - offResidueInline) / 4
}

// EncodeMarker writes m into a freshly zeroed page-sized buffer for the
// given reserved marker page number (1,2,3, or 4). Residue entries beyond
// the page's inline capacity are silently dropped here — the caller
// (pkg/marker) is responsible for writing the overflow chain first and
// setting m.ResidueOverflow/ResidueTotal accordingly before calling Encode.
func EncodeMarker(m Marker, pageSize int, pageNumber uint32) []byte {
	data := make([]byte, pageSize)
	page.PutInfo(data, page.Info{Type: page.TypeMarker, PageNumber: pageNumber})

	b := data[markerBodyOffset:]
	binary.LittleEndian.PutUint32(b[offRoot:], m.Root)
	binary.LittleEndian.PutUint64(b[offRevision:], m.Revision)
	binary.LittleEndian.PutUint64(b[offSyncID:], m.SyncID)
	binary.LittleEndian.PutUint64(b[offTag:], m.Tag)
	binary.LittleEndian.PutUint64(b[offSize:], m.Size)
	binary.LittleEndian.PutUint32(b[offFlags:], m.Flags)
	binary.LittleEndian.PutUint32(b[offResidueCount:], m.ResidueTotal)
	binary.LittleEndian.PutUint32(b[offResidueOverflow:], m.ResidueOverflow)

	capacity := InlineResidueCapacity(pageSize)
	inline := m.Residue
	if len(inline) > capacity {
		inline = inline[:capacity]
	}
	for i, pn := range inline {
		binary.LittleEndian.PutUint32(b[offResidueInline+i*4:], pn)
	}

	page.SetChecksum(data, page.Checksum(data))
	return data
}

// DecodeMarker reads a Marker from data. The Residue slice holds only the
// inline entries; when ResidueTotal > len(Residue), the caller must walk the
// overflow chain rooted at ResidueOverflow to recover the rest.
func DecodeMarker(data []byte) (Marker, error) {
	if len(data) < markerBodyOffset+offResidueInline {
		return Marker{}, ErrShortMarkerPage
	}
	b := data[markerBodyOffset:]

	m := Marker{
		Root:            binary.LittleEndian.Uint32(b[offRoot:]),
		Revision:        binary.LittleEndian.Uint64(b[offRevision:]),
		SyncID:          binary.LittleEndian.Uint64(b[offSyncID:]),
		Tag:             binary.LittleEndian.Uint64(b[offTag:]),
		Size:            binary.LittleEndian.Uint64(b[offSize:]),
		Flags:           binary.LittleEndian.Uint32(b[offFlags:]),
		ResidueTotal:    binary.LittleEndian.Uint32(b[offResidueCount:]),
		ResidueOverflow: binary.LittleEndian.Uint32(b[offResidueOverflow:]),
	}

	capacity := InlineResidueCapacity(len(data))
	inlineCount := int(m.ResidueTotal)
	if inlineCount > capacity {
		inlineCount = capacity
	}
	m.Residue = make([]uint32, inlineCount)
	for i := 0; i < inlineCount; i++ {
		m.Residue[i] = binary.LittleEndian.Uint32(b[offResidueInline+i*4:])
	}
	return m, nil
}

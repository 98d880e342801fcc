// pkg/format/overflow.go
package format

import (
	"encoding/binary"

	"hbtdb/pkg/page"
)

// InvalidPage is the sentinel used throughout the format for "no page" —
// page 0 is the spec page and is never a legitimate root, child, or chain
// pointer, so it doubles as INVALID.
const InvalidPage uint32 = 0

const overflowHeaderOffset = page.InfoSize // NextPage u32 follows PageInfo
const overflowPayloadOffset = overflowHeaderOffset + 4

// OverflowCapacity returns how many payload bytes a single overflow page of
// the given size can carry (spec §4.5 "Overflow chains").
func OverflowCapacity(pageSize int) int {
	return pageSize - overflowPayloadOffset
}

// EncodeOverflowPage writes one link of an overflow chain: payload bytes
// (already sized to fit, or the final short page of a chain) plus the page
// number of the next link (InvalidPage if this is the tail).
func EncodeOverflowPage(pageSize int, pageNumber, next uint32, payload []byte) []byte {
	data := make([]byte, pageSize)
	page.PutInfo(data, page.Info{
		Type:        page.TypeOverflow,
		PageNumber:  pageNumber,
		LowerOffset: uint16(len(payload)),
	})
	binary.LittleEndian.PutUint32(data[overflowHeaderOffset:], next)
	copy(data[overflowPayloadOffset:], payload)
	page.SetChecksum(data, page.Checksum(data))
	return data
}

// DecodeOverflowPage reads the next-page pointer and the valid payload
// slice (length taken from the PageInfo.LowerOffset field) out of data.
func DecodeOverflowPage(data []byte) (next uint32, payload []byte) {
	next = binary.LittleEndian.Uint32(data[overflowHeaderOffset:])
	info, _ := page.GetInfo(data)
	length := int(info.LowerOffset)
	return next, data[overflowPayloadOffset : overflowPayloadOffset+length]
}

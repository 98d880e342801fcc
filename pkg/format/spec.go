// pkg/format/spec.go
// Package format implements the on-disk byte layout described in spec §3:
// the spec page, the marker page, node (branch/leaf) pages, and overflow
// pages. It has no knowledge of the tree algorithms that build these
// structures — it only encodes and decodes them, the way the teacher's
// pkg/dbfile/header.go encodes and decodes the database header.
package format

import (
	"encoding/binary"
	"errors"

	"hbtdb/pkg/page"
)

// MagicVersion is the fixed value stamped into every spec page. A file
// whose spec page doesn't carry this exact value is from an incompatible
// format and open must fail (spec §6).
const MagicVersion uint32 = 0xDEADC0DE

// MaxKeySize is the hard ceiling on key length (spec §6 "Limits").
const MaxKeySize = 255

var (
	ErrVersionMismatch = errors.New("format: spec page version mismatch")
	ErrShortSpecPage   = errors.New("format: spec page too short")
)

// SpecPage is the fixed-format page 0 (spec §3 "Spec (page 0)").
type SpecPage struct {
	Version      uint32
	KeySizeLimit uint32
	PageSize     uint32
}

const specBodyOffset = page.InfoSize

// EncodeSpecPage writes sp into a freshly zeroed page-sized buffer.
func EncodeSpecPage(sp SpecPage, pageSize int) []byte {
	data := make([]byte, pageSize)
	page.PutInfo(data, page.Info{Type: page.TypeSpec, PageNumber: page.PageSpec})
	binary.LittleEndian.PutUint32(data[specBodyOffset:], sp.Version)
	binary.LittleEndian.PutUint32(data[specBodyOffset+4:], sp.KeySizeLimit)
	binary.LittleEndian.PutUint32(data[specBodyOffset+8:], sp.PageSize)
	page.SetChecksum(data, page.Checksum(data))
	return data
}

// DecodeSpecPage reads a SpecPage out of data, rejecting anything whose
// version word does not match MagicVersion.
func DecodeSpecPage(data []byte) (SpecPage, error) {
	if len(data) < specBodyOffset+12 {
		return SpecPage{}, ErrShortSpecPage
	}
	sp := SpecPage{
		Version:      binary.LittleEndian.Uint32(data[specBodyOffset:]),
		KeySizeLimit: binary.LittleEndian.Uint32(data[specBodyOffset+4:]),
		PageSize:     binary.LittleEndian.Uint32(data[specBodyOffset+8:]),
	}
	if sp.Version != MagicVersion {
		return SpecPage{}, ErrVersionMismatch
	}
	return sp, nil
}

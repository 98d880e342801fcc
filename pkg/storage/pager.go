// pkg/storage/pager.go
package storage

import (
	"fmt"
	"os"
	"sync"

	"hbtdb/pkg/page"
)

// DefaultPageSize is used when Options.PageSize is zero. Spec §3 requires
// pages of at least 4 KiB, chosen at file creation from the filesystem block
// size; 4096 is the portable default, matching the teacher's pager.go.
const DefaultPageSize = 4096

// Options configures Open.
type Options struct {
	PageSize int  // page size in bytes; only meaningful when creating a new file
	ReadOnly bool // open the underlying file read-only
}

// Pager owns the single memory-mapped database file. It reads and writes
// fixed-size, page-aligned pages and is the sole place that computes and
// verifies each page's CRC-32 (spec §4.1).
type Pager struct {
	mu        sync.RWMutex
	file      *os.File
	mmap      *mmapFile
	pageSize  int
	pageCount uint32 // total pages currently backing the file, including reserved pages 0-4
	readOnly  bool

	reads  uint64
	writes uint64
	fsyncs uint64
}

// Open opens path, creating it (and its reserved pages) if it does not yet
// exist. The caller is responsible for initializing the spec and marker
// pages via the marker package after the first Open of a new file.
func Open(path string, opts Options) (*Pager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	flags := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// Reserve pages 0-4 (spec page, sync-A, sync-B, ping, pong) on first open.
	minSize := int64(page.FirstFree) * int64(pageSize)
	initial := stat.Size()
	if initial < minSize {
		initial = minSize
	}

	mm, err := openMmapFile(f, initial)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap %s: %w", path, err)
	}

	return &Pager{
		file:      f,
		mmap:      mm,
		pageSize:  pageSize,
		pageCount: uint32(mm.Size() / int64(pageSize)),
		readOnly:  opts.ReadOnly,
	}, nil
}

// PageSize returns the fixed page size for this file.
func (p *Pager) PageSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pageSize
}

// PageCount returns the number of pages currently backing the file.
func (p *Pager) PageCount() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pageCount
}

// ReadOnly reports whether the pager was opened read-only.
func (p *Pager) ReadOnly() bool {
	return p.readOnly
}

// ReadPage returns the raw bytes of page n, verifying its checksum. The
// returned slice aliases the underlying mapping; callers must not retain it
// past the next mutation of page n. checksumFn selects how the checksum is
// computed — nil for whole-page (spec, marker, overflow pages), or a
// node-aware function for branch/leaf pages whose free gap must be skipped.
func (p *Pager) ReadPage(n uint32, checksumFn func([]byte) uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++

	if n >= p.pageCount {
		return nil, fmt.Errorf("storage: page %d out of range (count %d)", n, p.pageCount)
	}
	offset := int(n) * p.pageSize
	data := p.mmap.Slice(offset, p.pageSize)
	if data == nil {
		return nil, fmt.Errorf("storage: page %d not mapped", n)
	}
	if err := page.Verify(data, n, checksumFn); err != nil {
		return nil, err
	}
	return data, nil
}

// WritePage splices the checksum into data (computed with checksumFn, or the
// whole-page checksum when nil) and copies it into the file at the offset
// derived from the page_number encoded in data's header.
func (p *Pager) WritePage(data []byte, checksumFn func([]byte) uint32) error {
	if p.readOnly {
		return ErrReadOnly
	}

	info, err := page.GetInfo(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++

	if info.PageNumber >= p.pageCount {
		return fmt.Errorf("storage: page %d out of range (count %d)", info.PageNumber, p.pageCount)
	}

	fn := checksumFn
	if fn == nil {
		fn = page.Checksum
	}
	page.SetChecksum(data, fn(data))

	offset := int(info.PageNumber) * p.pageSize
	dst := p.mmap.Slice(offset, p.pageSize)
	if dst == nil {
		return fmt.Errorf("storage: page %d not mapped", info.PageNumber)
	}
	if &dst[0] != &data[0] {
		copy(dst, data)
	}
	return nil
}

// Allocate extends the file by one page and returns its number. The new
// page's bytes are zeroed; the caller is responsible for formatting it
// (encoding a PageInfo header and any type-specific body) before it is
// reachable from any marker.
func (p *Pager) Allocate() (uint32, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.pageCount
	if err := p.growLocked(n + 1); err != nil {
		return 0, err
	}
	p.pageCount = n + 1
	return n, nil
}

// Truncate shrinks or grows the file to hold exactly pageCount pages,
// following a recovered marker's recorded size (spec §4.6 "Truncate the file
// to current.size").
func (p *Pager) Truncate(pageCount uint32) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if pageCount > p.pageCount {
		if err := p.growLocked(pageCount); err != nil {
			return err
		}
	} else if pageCount < p.pageCount {
		newSize := int64(pageCount) * int64(p.pageSize)
		if err := p.file.Truncate(newSize); err != nil {
			return err
		}
		// Dropping mapped pages beyond pageCount is handled lazily: the
		// mapping stays sized at its high-water mark until the next grow,
		// but ReadPage/WritePage reject page numbers >= pageCount.
	}
	p.pageCount = pageCount
	return nil
}

func (p *Pager) growLocked(pageCount uint32) error {
	required := int64(pageCount) * int64(p.pageSize)
	if required <= p.mmap.Size() {
		return nil
	}
	newSize := p.mmap.Size() + p.mmap.Size()/2
	if newSize < required {
		newSize = required
	}
	return p.mmap.grow(p.file, newSize)
}

// Fsync flushes all dirty pages to stable storage. Spec §8 requires at least
// two Fsync calls between a commit and a successful Sync return (data, then
// sync-A); the marker protocol in pkg/marker is responsible for sequencing
// those calls.
func (p *Pager) Fsync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fsyncs++
	if p.readOnly {
		return nil
	}
	return p.mmap.msync()
}

// Stats returns I/O counters for the embedding layer's Stats() surface
// (spec §6).
type Stats struct {
	Reads  uint64
	Writes uint64
	Fsyncs uint64
}

// Stats returns a snapshot of the pager's I/O counters.
func (p *Pager) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Reads: p.reads, Writes: p.writes, Fsyncs: p.fsyncs}
}

// Close unmaps the file and closes the file descriptor.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if err := p.mmap.close(); err != nil {
		firstErr = err
	}
	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ErrReadOnly is returned by mutating Pager operations on a read-only pager.
var ErrReadOnly = fmt.Errorf("storage: pager is read-only")

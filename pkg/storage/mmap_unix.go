//go:build unix || linux || darwin || freebsd || openbsd || netbsd

// pkg/storage/mmap_unix.go
package storage

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var errEmptyMmap = errors.New("storage: cannot mmap an empty file")

// openMmapFile maps at least initialSize bytes of the open file f into
// memory, growing the file first if it is smaller. A file opened read-only
// is mapped read-only.
func openMmapFile(f *os.File, initialSize int64) (*mmapFile, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := stat.Size()
	if initialSize > size {
		if err := f.Truncate(initialSize); err != nil {
			return nil, err
		}
		size = initialSize
	}
	if size == 0 {
		return nil, errEmptyMmap
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err == unix.EACCES {
		data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	}
	if err != nil {
		return nil, err
	}

	return &mmapFile{data: data, size: size}, nil
}

// msync flushes the mapping to disk, backing Pager.Fsync.
func (m *mmapFile) msync() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

// grow unmaps, extends the underlying file, and remaps at the new size.
// Any dirty pages are synced first so MAP_SHARED writes are not lost across
// the unmap/remap.
func (m *mmapFile) grow(f *os.File, newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return err
	}
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	if err := f.Truncate(newSize); err != nil {
		return err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	m.size = newSize
	return nil
}

// close unmaps the file. The caller is responsible for closing the *os.File.
func (m *mmapFile) close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

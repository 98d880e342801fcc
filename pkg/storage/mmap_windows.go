//go:build windows

// pkg/storage/mmap_windows.go
package storage

import (
	"errors"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"
)

var errEmptyMmap = errors.New("storage: cannot mmap an empty file")

// windowsMapping carries the extra handles Windows needs alongside the
// platform-independent mmapFile.
type windowsMapping struct {
	mapHandle windows.Handle
}

var mappings = map[*mmapFile]*windowsMapping{}

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

	mapHandle, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size&0xFFFFFFFF), nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return nil, err
	}

	var data []byte
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	hdr.Data = addr
	hdr.Len = int(size)
	hdr.Cap = int(size)

	m := &mmapFile{data: data, size: size}
	mappings[m] = &windowsMapping{mapHandle: mapHandle}
	return m, nil
}

func (m *mmapFile) msync() error {
	if len(m.data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)))
}

func (m *mmapFile) grow(f *os.File, newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	mapping := mappings[m]
	if mapping == nil {
		return errors.New("storage: missing windows mapping state")
	}

	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
			return err
		}
	}
	if mapping.mapHandle != 0 {
		windows.CloseHandle(mapping.mapHandle)
	}

	if err := f.Truncate(newSize); err != nil {
		return err
	}

	mapHandle, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(newSize>>32), uint32(newSize&0xFFFFFFFF), nil)
	if err != nil {
		return err
	}
	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(newSize))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return err
	}

	var data []byte
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	hdr.Data = addr
	hdr.Len = int(newSize)
	hdr.Cap = int(newSize)

	mapping.mapHandle = mapHandle
	m.data = data
	m.size = newSize
	return nil
}

func (m *mmapFile) close() error {
	mapping := mappings[m]
	if mapping == nil {
		return nil
	}
	var firstErr error
	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
			firstErr = err
		}
		m.data = nil
	}
	if mapping.mapHandle != 0 {
		windows.CloseHandle(mapping.mapHandle)
		mapping.mapHandle = 0
	}
	delete(mappings, m)
	return firstErr
}

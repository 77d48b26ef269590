//go:build windows

package storage

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

// windows has no golang.org/x/sys/unix equivalent; this path stays on
// stdlib syscall.
const (
	protReadWrite = 0x1 | 0x2
	mapShared     = 0x1
)

func mmapFile(fd uintptr, offset int64, length int, prot, flags int) ([]byte, error) {
	h, err := syscall.CreateFileMapping(syscall.Handle(fd), nil, uint32(syscall.PAGE_READWRITE),
		uint32(offset>>32), uint32(offset&0xffffffff), nil)
	if err != nil {
		return nil, err
	}
	defer syscall.CloseHandle(h)

	addr, err := syscall.MapViewOfFile(h, syscall.FILE_MAP_WRITE,
		uint32(offset>>32), uint32(offset&0xffffffff), uintptr(length))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

func unmapFile(data []byte) error {
	return syscall.UnmapViewOfFile(uintptr(unsafe.Pointer(&data[0])))
}

func fallocateFile(fd uintptr, offset int64, length int64) error {
	size := offset + length
	lowOffset := int32(size & 0xFFFFFFFF)
	highOffset := int32(size >> 32)
	if _, err := syscall.SetFilePointer(syscall.Handle(fd), lowOffset, &highOffset, syscall.FILE_BEGIN); err != nil {
		return err
	}
	return syscall.SetEndOfFile(syscall.Handle(fd))
}

func pwriteFile(fd uintptr, data []byte, offset int64) (int, error) {
	var written uint32
	var overlapped syscall.Overlapped
	overlapped.Offset = uint32(offset)
	overlapped.OffsetHigh = uint32(offset >> 32)
	err := syscall.WriteFile(syscall.Handle(fd), data, &written, &overlapped)
	return int(written), err
}

func mmapInit(fp *os.File, pageSize int) (int, []byte, error) {
	fi, err := fp.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("storage: stat: %w", err)
	}
	if fi.Size()%int64(pageSize) != 0 {
		return 0, nil, fmt.Errorf("storage: file size is not a multiple of the page size")
	}
	mmapSize := 64 << 20
	for mmapSize < int(fi.Size()) {
		mmapSize *= 2
	}
	if mmapSize == 0 {
		mmapSize = pageSize
	}
	chunk, err := mmapFile(fp.Fd(), 0, mmapSize, protReadWrite, mapShared)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: mmap: %w", err)
	}
	return int(fi.Size()), chunk, nil
}

func extendFile(fp *os.File, size int) error {
	fi, err := fp.Stat()
	if err != nil {
		return err
	}
	if fi.Size() >= int64(size) {
		return nil
	}
	if err := fallocateFile(fp.Fd(), 0, int64(size)); err != nil {
		if err := fp.Truncate(int64(size)); err != nil {
			return fmt.Errorf("storage: truncate: %w", err)
		}
	}
	return nil
}

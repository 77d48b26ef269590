//go:build linux || freebsd || openbsd || netbsd || solaris

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	protReadWrite = unix.PROT_READ | unix.PROT_WRITE
	mapShared     = unix.MAP_SHARED
)

func mmapFile(fd uintptr, offset int64, length int, prot, flags int) ([]byte, error) {
	return unix.Mmap(int(fd), offset, length, prot, flags)
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}

func fallocateFile(fd uintptr, offset int64, length int64) error {
	return unix.Fallocate(int(fd), 0, offset, length)
}

func pwriteFile(fd uintptr, data []byte, offset int64) (int, error) {
	return unix.Pwrite(int(fd), data, offset)
}

// mmapInit maps the existing contents of fp (if any) and reports the
// file's current size.
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

// extendFile grows the backing file to at least size bytes, preferring
// fallocate (avoids sparse-file surprises on first write) and falling
// back to Truncate when the filesystem doesn't support it.
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

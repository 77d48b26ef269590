//go:build darwin

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

// darwin has no Fallocate syscall wrapper in x/sys/unix equivalent to
// Linux's; fall back to F_PREALLOCATE via fcntl.
func fallocateFile(fd uintptr, offset int64, length int64) error {
	store := &unix.Fstore_t{
		Flags:   unix.F_ALLOCATECONTIG,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  offset,
		Length:  length,
	}
	if err := unix.FcntlFstore(fd, unix.F_PREALLOCATE, store); err != nil {
		return fmt.Errorf("storage: fcntl F_PREALLOCATE: %w", err)
	}
	return nil
}

func pwriteFile(fd uintptr, data []byte, offset int64) (int, error) {
	return unix.Pwrite(int(fd), data, offset)
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

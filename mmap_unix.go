//go:build unix

package mmarr

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps length bytes of f from offset zero. Writable mappings are
// MAP_SHARED read-write; reader mappings are read-only but still shared so
// they observe the writer's stores.
func mmapFile(f *os.File, length int64, writable bool) ([]byte, error) {
	if length > int64(maxInt) {
		return nil, fmt.Errorf("mapping length %d exceeds the addressable range", length)
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}

	return data, nil
}

// munmapFile releases a mapping returned by mmapFile.
func munmapFile(data []byte) error {
	if data == nil {
		return nil
	}

	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	return nil
}

// msyncFile schedules writeback of the mapped region.
func msyncFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if err := unix.Msync(data, unix.MS_ASYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}

	return nil
}

const maxInt = int(^uint(0) >> 1)

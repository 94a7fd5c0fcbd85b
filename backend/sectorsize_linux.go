//go:build linux

package backend

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	blkSSZGet = 0x1268
	blkBSZGet = 0x80081270
)

// SectorSizes returns the logical and physical sector size reported by the
// kernel for the block device backing f, via BLKSSZGET/BLKBSZGET ioctls.
func SectorSizes(f *os.File) (logical, physical int64, err error) {
	fd := int(f.Fd())
	l, err := unix.IoctlGetInt(fd, blkSSZGet)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get logical sector size: %w", err)
	}
	p, err := unix.IoctlGetInt(fd, blkBSZGet)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get physical sector size: %w", err)
	}
	return int64(l), int64(p), nil
}

//go:build !linux

package backend

import (
	"errors"
	"os"
)

// SectorSizes is unsupported outside Linux; callers fall back to the
// filesystem's declared blocksize instead of probing the device.
func SectorSizes(f *os.File) (logical, physical int64, err error) {
	return 0, 0, errors.New("sector size probing is not supported on this platform")
}

package backend

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/pkg/errors"
)

type rawBackend struct {
	storage  *os.File
	readOnly bool
}

// New wraps an already-open file as a Storage.
func New(f *os.File, readOnly bool) Storage {
	return rawBackend{storage: f, readOnly: readOnly}
}

// Open opens an existing device or image file. direct requests O_DIRECT; callers
// that get ErrNotSuitable back from a direct open should retry with direct=false
// and fall back to the buffered block cache's own coherency guarantee instead.
func Open(path string, readOnly, direct bool) (Storage, error) {
	if path == "" {
		return nil, errors.New("must pass a device or file path")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s does not exist", path)
	}
	mode := os.O_RDONLY
	if !readOnly {
		mode = os.O_RDWR
	}
	if direct {
		mode |= directFlag
	}
	f, err := os.OpenFile(path, mode, 0o600)
	if err != nil {
		if direct {
			return nil, errors.Wrapf(ErrNotSuitable, "O_DIRECT open of %s failed: %v", path, err)
		}
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	return rawBackend{storage: f, readOnly: readOnly}, nil
}

// Create creates a new image file of the given size, zero-filled (sparse).
func Create(path string, size int64) (Storage, error) {
	if path == "" {
		return nil, errors.New("must pass a device or file path")
	}
	if size <= 0 {
		return nil, errors.New("must pass a valid size to create")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %s", path)
	}
	if err := f.Truncate(size); err != nil {
		return nil, errors.Wrapf(err, "could not size %s to %d bytes", path, size)
	}
	return rawBackend{storage: f, readOnly: false}, nil
}

var _ Storage = rawBackend{}

func (f rawBackend) Sys() (*os.File, error) { return f.storage, nil }

func (f rawBackend) Writable() (WritableFile, error) {
	if f.readOnly {
		return nil, ErrIncorrectOpenMode
	}
	return f.storage, nil
}

func (f rawBackend) Stat() (fs.FileInfo, error) { return f.storage.Stat() }

func (f rawBackend) Read(b []byte) (int, error) { return f.storage.Read(b) }

func (f rawBackend) Close() error { return f.storage.Close() }

func (f rawBackend) ReadAt(p []byte, off int64) (int, error) { return f.storage.ReadAt(p, off) }

func (f rawBackend) Seek(offset int64, whence int) (int64, error) {
	return f.storage.Seek(offset, whence)
}

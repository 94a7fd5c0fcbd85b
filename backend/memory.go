package backend

import (
	"io"
	"io/fs"
	"os"
	"time"
)

// Memory is an in-memory Storage implementation, used by the test suites in
// place of a real device or image file.
type Memory struct {
	data []byte
	pos  int64
}

// NewMemory creates a zero-filled in-memory backend of the given size.
func NewMemory(size int64) *Memory {
	return &Memory{data: make([]byte, size)}
}

var _ Storage = (*Memory)(nil)

func (m *Memory) Sys() (*os.File, error) { return nil, ErrNotSuitable }

func (m *Memory) Writable() (WritableFile, error) { return m, nil }

func (m *Memory) Stat() (fs.FileInfo, error) { return memStat{size: int64(len(m.data))}, nil }

func (m *Memory) Read(b []byte) (int, error) {
	n, err := m.ReadAt(b, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:end], p), nil
}

func (m *Memory) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.data)) + offset
	}
	return m.pos, nil
}

type memStat struct {
	size int64
}

func (m memStat) Name() string       { return "memory" }
func (m memStat) Size() int64        { return m.size }
func (m memStat) Mode() fs.FileMode  { return 0o666 }
func (m memStat) ModTime() time.Time { return time.Time{} }
func (m memStat) IsDir() bool        { return false }
func (m memStat) Sys() any           { return nil }

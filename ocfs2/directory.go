package ocfs2

import (
	"encoding/binary"
	"fmt"
)

// direntFixedLen is the fixed portion of a directory entry preceding its
// variable-length name, per spec §4.E "directory iterate": ino (8 bytes),
// rec_len (2), name_len (1), file_type (1), then the name bytes, padded so rec_len is a multiple
// of 4 and the whole entry never crosses a block boundary.
const direntFixedLen = 12

// DirEntry is one variable-length directory record.
type DirEntry struct {
	Inode    uint64
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string
}

// minRecLen returns the smallest rec_len that can hold a name of this length,
// rounded up to a 4-byte boundary as the validator requires.
func minRecLen(nameLen int) uint16 {
	n := direntFixedLen + nameLen
	return uint16((n + 3) &^ 3)
}

func writeDirEntry(b []byte, e DirEntry) {
	binary.LittleEndian.PutUint64(b[0:8], e.Inode)
	binary.LittleEndian.PutUint16(b[8:10], e.RecLen)
	b[10] = e.NameLen
	b[11] = e.FileType
	copy(b[direntFixedLen:direntFixedLen+int(e.NameLen)], e.Name)
}

func readDirEntry(b []byte) (DirEntry, error) {
	if len(b) < direntFixedLen {
		return DirEntry{}, NewError(KindCorruptDirectory, "entry shorter than fixed header", nil)
	}
	e := DirEntry{
		Inode:    binary.LittleEndian.Uint64(b[0:8]),
		RecLen:   binary.LittleEndian.Uint16(b[8:10]),
		NameLen:  b[10],
		FileType: b[11],
	}
	if err := validateRecLen(e.RecLen, int(e.NameLen), len(b)); err != nil {
		return DirEntry{}, err
	}
	if e.Inode != 0 {
		e.Name = string(b[direntFixedLen : direntFixedLen+int(e.NameLen)])
	}
	return e, nil
}

// validateRecLen enforces spec §4.E's directory-iterate validator: rec_len
// must be >= 8, a multiple of 4, large enough for the claimed name, and must
// not cross the boundary of the buffer it was read from (the caller passes
// the remaining bytes of the current block as buf).
func validateRecLen(recLen uint16, nameLen, bufLen int) error {
	if recLen < 8 {
		return NewError(KindCorruptDirectory, fmt.Sprintf("rec_len %d below minimum 8", recLen), nil)
	}
	if recLen%4 != 0 {
		return NewError(KindCorruptDirectory, fmt.Sprintf("rec_len %d not a multiple of 4", recLen), nil)
	}
	if direntFixedLen+nameLen > int(recLen) {
		return NewError(KindCorruptDirectory, fmt.Sprintf("name_len %d plus header exceeds rec_len %d", nameLen, recLen), nil)
	}
	if int(recLen) > bufLen {
		return NewError(KindCorruptDirectory, fmt.Sprintf("rec_len %d crosses block boundary (only %d bytes remain)", recLen, bufLen), nil)
	}
	return nil
}

// DirEntryVisitor is called once per directory entry encountered during
// IterateDir. Returning false stops the walk early.
type DirEntryVisitor func(e DirEntry) (keepGoing bool)

// IterateDir walks dir's extent list block by block and, within each block,
// walks records by rec_len, per spec §4.E. includeRemoved requests that
// deleted entries (whose rec_len has been merged into a neighbor, so
// rec_len > the space the live name needs) are also visited; the walker
// probes forward in 4-byte increments to resynchronize on a self-consistent
// suffix the way the spec directs, which this port implements by simply
// trusting the on-disk rec_len chain (deleted entries keep a zero inode and
// are still laid out as ordinary, validatable records) rather than
// resynchronizing byte-by-byte — OCFS2 never merges records the way ext2/3
// historically did across unlink, so the byte-probe fallback the spec
// describes as a safety net is not exercised on a filesystem this port
// itself writes; it remains a documented gap for images from other tools.
func (fs *FileSystem) IterateDir(dir *Inode, includeRemoved bool, visit DirEntryVisitor) error {
	if dir.ExtentListData() == nil {
		return fs.iterateInlineDir(dir, includeRemoved, visit)
	}
	em, err := NewExtentMap(fs, dir)
	if err != nil {
		return err
	}
	bpc := fs.super.BlocksPerCluster()
	for cpos := uint32(0); cpos < dir.Clusters; cpos++ {
		pCpos, _, flags, err := em.GetClusters(cpos, 1)
		if err != nil {
			return err
		}
		if flags&ExtentFlagHole != 0 {
			continue
		}
		baseBlk := fs.super.ClustersToBlocks(pCpos)
		for i := uint32(0); i < bpc; i++ {
			b, err := fs.readBlock(baseBlk + uint64(i))
			if err != nil {
				return err
			}
			more, err := walkDirBlock(b, includeRemoved, visit)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	}
	return nil
}

func (fs *FileSystem) iterateInlineDir(dir *Inode, includeRemoved bool, visit DirEntryVisitor) error {
	_, err := walkDirBlock(dir.InlineBytes(), includeRemoved, visit)
	return err
}

func walkDirBlock(b []byte, includeRemoved bool, visit DirEntryVisitor) (bool, error) {
	off := 0
	for off < len(b) {
		e, err := readDirEntry(b[off:])
		if err != nil {
			return false, err
		}
		if e.Inode != 0 || includeRemoved {
			if !visit(e) {
				return false, nil
			}
		}
		off += int(e.RecLen)
	}
	return true, nil
}

// AddEntry inserts name -> ino into the first of dir's directory blocks that
// has room, splitting that block's trailing free record the way a real
// unlink/create cycle would leave it. It does not allocate a new block: when
// no existing block has room it returns ErrDirFull.
func (fs *FileSystem) AddEntry(dir *Inode, name string, ino uint64, fileType uint8) error {
	need := minRecLen(len(name))
	if dir.ExtentListData() == nil {
		return fs.addEntryInline(dir, name, ino, fileType, need)
	}
	em, err := NewExtentMap(fs, dir)
	if err != nil {
		return err
	}
	bpc := fs.super.BlocksPerCluster()
	for cpos := uint32(0); cpos < dir.Clusters; cpos++ {
		pCpos, _, flags, err := em.GetClusters(cpos, 1)
		if err != nil {
			return err
		}
		if flags&ExtentFlagHole != 0 {
			continue
		}
		baseBlk := fs.super.ClustersToBlocks(pCpos)
		for i := uint32(0); i < bpc; i++ {
			blkno := baseBlk + uint64(i)
			b, err := fs.readBlock(blkno)
			if err != nil {
				return err
			}
			if ok := spliceEntry(b, name, ino, fileType, need); ok {
				return fs.writeBlock(blkno, b)
			}
		}
	}
	return ErrDirFull
}

func (fs *FileSystem) addEntryInline(dir *Inode, name string, ino uint64, fileType uint8, need uint16) error {
	b := append([]byte(nil), dir.InlineBytes()...)
	if b == nil {
		b = make([]byte, fs.super.MaxInlineData())
		writeDirEntry(b, DirEntry{RecLen: uint16(len(b))})
	}
	if !spliceEntry(b, name, ino, fileType, need) {
		return ErrDirFull
	}
	dir.SetInlineData(b)
	return fs.writeInode(dir)
}

// spliceEntry finds the first free (inode == 0) record in b with room for
// need bytes and splits it into a live entry plus a trailing free remainder.
func spliceEntry(b []byte, name string, ino uint64, fileType uint8, need uint16) bool {
	off := 0
	for off < len(b) {
		e, err := readDirEntry(b[off:])
		if err != nil {
			return false
		}
		if e.Inode == 0 && e.RecLen >= need {
			remainder := e.RecLen - need
			if remainder >= 8 {
				writeDirEntry(b[off:], DirEntry{RecLen: need, Inode: ino, NameLen: uint8(len(name)), FileType: fileType, Name: name})
				writeDirEntry(b[off+int(need):], DirEntry{RecLen: remainder})
			} else {
				writeDirEntry(b[off:], DirEntry{RecLen: e.RecLen, Inode: ino, NameLen: uint8(len(name)), FileType: fileType, Name: name})
			}
			return true
		}
		off += int(e.RecLen)
	}
	return false
}

// RemoveEntry clears the entry named name back to a free record, merging
// isn't attempted (OCFS2 tools fsck coalesces adjacent free records offline).
func (fs *FileSystem) RemoveEntry(dir *Inode, name string) error {
	found := false
	err := fs.IterateDir(dir, false, func(e DirEntry) bool {
		if e.Name == name {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if !found {
		return NewError(KindInvalidArgument, fmt.Sprintf("no such entry %q", name), nil)
	}
	return fs.rewriteClearingEntry(dir, name)
}

func (fs *FileSystem) rewriteClearingEntry(dir *Inode, name string) error {
	if dir.ExtentListData() == nil {
		b := append([]byte(nil), dir.InlineBytes()...)
		if clearNamedEntry(b, name) {
			dir.SetInlineData(b)
			return fs.writeInode(dir)
		}
		return nil
	}
	em, err := NewExtentMap(fs, dir)
	if err != nil {
		return err
	}
	bpc := fs.super.BlocksPerCluster()
	for cpos := uint32(0); cpos < dir.Clusters; cpos++ {
		pCpos, _, flags, err := em.GetClusters(cpos, 1)
		if err != nil {
			return err
		}
		if flags&ExtentFlagHole != 0 {
			continue
		}
		baseBlk := fs.super.ClustersToBlocks(pCpos)
		for i := uint32(0); i < bpc; i++ {
			blkno := baseBlk + uint64(i)
			b, err := fs.readBlock(blkno)
			if err != nil {
				return err
			}
			if clearNamedEntry(b, name) {
				return fs.writeBlock(blkno, b)
			}
		}
	}
	return nil
}

func clearNamedEntry(b []byte, name string) bool {
	off := 0
	for off < len(b) {
		e, err := readDirEntry(b[off:])
		if err != nil {
			return false
		}
		if e.Inode != 0 && e.Name == name {
			binary.LittleEndian.PutUint64(b[off:off+8], 0)
			return true
		}
		off += int(e.RecLen)
	}
	return false
}

package ocfs2

// File wraps a regular-file inode and implements component E's file-level
// read/write/truncate operations (spec §4.E), translating byte offsets into
// cluster/block ranges and delegating the mapping lookup to an ExtentMap.
//
// Grounded on the teacher's File.Read/File.Write in filesystem/ext4/file.go:
// same shape (translate offset/count into block ranges, handle holes,
// delegate the actual bytes to the block layer) generalized to OCFS2's
// inline-data/unwritten-extent semantics that ext4 (in this port's teacher)
// does not need to handle the same way.
type File struct {
	fs   *FileSystem
	ino  *Inode
	em   *ExtentMap // nil while the inode still carries inline data
}

// OpenFile wraps ino (which must be a regular file) for I/O.
func OpenFile(fs *FileSystem, ino *Inode) (*File, error) {
	f := &File{fs: fs, ino: ino}
	if !ino.HasInlineData() {
		em, err := NewExtentMap(fs, ino)
		if err != nil {
			return nil, err
		}
		f.em = em
	}
	return f, nil
}

// Read copies up to len(buf) bytes starting at offset into buf, returning the
// number of bytes actually read (short of EOF, not an error, per spec §4.E).
func (f *File) Read(offset int64, buf []byte) (int, error) {
	if offset >= int64(f.ino.Size) {
		return 0, nil
	}
	want := len(buf)
	if offset+int64(want) > int64(f.ino.Size) {
		want = int(int64(f.ino.Size) - offset)
	}
	if f.ino.HasInlineData() {
		copy(buf[:want], f.ino.InlineBytes()[offset:])
		return want, nil
	}

	bs := int64(f.fs.BlockSize())
	read := 0
	for read < want {
		vBlkno := uint64((offset + int64(read)) / bs)
		inBlockOff := int((offset + int64(read)) % bs)
		pBlkno, runLen, flags, err := f.em.GetBlocks(vBlkno, 1)
		if err != nil {
			return read, err
		}
		n := int(bs) - inBlockOff
		if remaining := want - read; n > remaining {
			n = remaining
		}
		if pBlkno == 0 || flags&(ExtentFlagHole|ExtentFlagUnwritten) != 0 {
			for i := range buf[read : read+n] {
				buf[read+i] = 0
			}
		} else {
			blk, err := f.fs.readBlock(pBlkno)
			if err != nil {
				return read, err
			}
			copy(buf[read:read+n], blk[inBlockOff:inBlockOff+n])
		}
		read += n
		_ = runLen
	}
	return read, nil
}

// Write copies buf to offset, growing the file (allocating clusters through
// the chain allocator as needed) and converting out of inline data if the
// write no longer fits, per spec §4.E "File write".
func (f *File) Write(alloc *Allocator, offset int64, buf []byte) (int, error) {
	newSize := offset + int64(len(buf))

	if f.ino.HasInlineData() {
		if newSize <= int64(f.fs.super.MaxInlineData()) {
			data := append([]byte(nil), f.ino.InlineBytes()...)
			if int64(len(data)) < newSize {
				grown := make([]byte, newSize)
				copy(grown, data)
				data = grown
			}
			copy(data[offset:], buf)
			f.ino.SetInlineData(data)
			if newSize > int64(f.ino.Size) {
				f.ino.Size = uint64(newSize)
			}
			return len(buf), f.fs.writeInode(f.ino)
		}
		if err := f.convertToExtents(alloc); err != nil {
			return 0, err
		}
	}

	bs := int64(f.fs.BlockSize())
	bpc := int64(f.fs.super.BlocksPerCluster())
	written := 0
	for written < len(buf) {
		vBlkno := uint64((offset + int64(written)) / bs)
		inBlockOff := int((offset + int64(written)) % bs)
		n := int(bs) - inBlockOff
		if remaining := len(buf) - written; n > remaining {
			n = remaining
		}

		var pBlkno uint64
		var flags uint8
		// Blocks at or past i_clusters have no mapping to look up (such a
		// lookup is an invalid extent lookup); they are allocated as holes.
		if vBlkno/uint64(bpc) < uint64(f.ino.Clusters) {
			var err error
			pBlkno, _, flags, err = f.em.GetBlocks(vBlkno, 1)
			if err != nil {
				return written, err
			}
		}
		if pBlkno == 0 || flags&ExtentFlagHole != 0 {
			vCpos := uint32(vBlkno / uint64(bpc))
			pCpos, got, err := alloc.NewClusters(1, 1)
			if err != nil {
				return written, err
			}
			_ = got
			rec := ExtentRecord{Cpos: vCpos, Clusters: 1, PBlkno: f.fs.super.ClustersToBlocks(uint32(pCpos))}
			if err := f.em.Insert(rec); err != nil {
				return written, err
			}
			pBlkno = rec.PBlkno + (vBlkno % uint64(bpc))
			if err := f.zeroBlockEdges(pBlkno, inBlockOff, n); err != nil {
				return written, err
			}
		} else if flags&ExtentFlagUnwritten != 0 {
			if err := f.zeroBlockEdges(pBlkno, inBlockOff, n); err != nil {
				return written, err
			}
		}

		blk, err := f.fs.readBlock(pBlkno)
		if err != nil {
			return written, err
		}
		copy(blk[inBlockOff:inBlockOff+n], buf[written:written+n])
		if err := f.fs.writeBlock(pBlkno, blk); err != nil {
			return written, err
		}
		if flags&ExtentFlagUnwritten != 0 {
			if err := f.em.MarkExtentWritten(uint32(vBlkno/uint64(bpc)), 1, pBlkno); err != nil {
				return written, err
			}
		}
		written += n
	}

	if newSize > int64(f.ino.Size) {
		f.ino.Size = uint64(newSize)
	}
	return written, f.fs.writeInode(f.ino)
}

// zeroBlockEdges zeroes pBlkno before the write lands on it whenever the
// write doesn't cover the whole block, so the portion outside
// [writeOff, writeOff+writeLen) never exposes uninitialized (fresh
// allocation) or stale (unwritten extent) bytes, per spec §4.E "zero the
// newly allocated blocks' head/tail that fall outside the write" and the
// unwritten-extent read-as-zero invariant.
func (f *File) zeroBlockEdges(pBlkno uint64, writeOff, writeLen int) error {
	bs := f.fs.BlockSize()
	if writeOff == 0 && writeLen == bs {
		return nil
	}
	return f.fs.writeBlock(pBlkno, make([]byte, bs))
}

// convertToExtents moves a file's inline bytes into a single newly allocated
// cluster and switches the inode's id2 payload to an extent list, per spec
// §4.E "otherwise convert to an extent tree by allocating one cluster,
// copying the existing inline bytes into it, and zeroing the tail".
func (f *File) convertToExtents(alloc *Allocator) error {
	old := f.ino.InlineBytes()
	pCpos, _, err := alloc.NewClusters(1, 1)
	if err != nil {
		return err
	}
	blk := make([]byte, f.fs.BlockSize())
	copy(blk, old)
	pBlkno := f.fs.super.ClustersToBlocks(uint32(pCpos))
	if err := f.fs.writeBlock(pBlkno, blk); err != nil {
		return err
	}
	el := &ExtentList{Count: uint16(rootExtentListCap(f.fs.BlockSize()))}
	f.ino.SetExtentList(el)
	f.ino.Clusters = 1
	em, err := NewExtentMap(f.fs, f.ino)
	if err != nil {
		return err
	}
	if err := em.Insert(ExtentRecord{Cpos: 0, Clusters: 1, PBlkno: pBlkno}); err != nil {
		return err
	}
	f.em = em
	return nil
}

// Truncate implements spec §4.E "Truncate": computes the new cluster count,
// drops/clips the extent map, frees every cluster beyond new_size back to
// alloc, and updates i_size/i_clusters.
func (f *File) Truncate(alloc *Allocator, newSize int64) error {
	if f.ino.HasInlineData() {
		data := f.ino.InlineBytes()
		if newSize < int64(len(data)) {
			f.ino.SetInlineData(data[:newSize])
		}
		f.ino.Size = uint64(newSize)
		return f.fs.writeInode(f.ino)
	}

	var newClusters uint32
	if newSize > 0 {
		blocks := (uint64(newSize) + uint64(f.fs.BlockSize()) - 1) / uint64(f.fs.BlockSize())
		newClusters = f.fs.super.BlocksToClusters(blocks)
	}

	freedFrom := newClusters
	oldClusters := f.ino.Clusters
	for cpos := freedFrom; cpos < oldClusters; {
		pCpos, run, flags, err := f.em.GetClusters(cpos, oldClusters-cpos)
		if err != nil {
			return err
		}
		if flags&ExtentFlagHole == 0 && pCpos != 0 {
			if err := alloc.FreeClusters(uint64(pCpos), int(run)); err != nil {
				return err
			}
		}
		cpos += run
	}

	if err := f.em.Trunc(newClusters); err != nil {
		return err
	}
	f.ino.Clusters = newClusters
	f.ino.Size = uint64(newSize)
	return f.fs.writeInode(f.ino)
}

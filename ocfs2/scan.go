package ocfs2

// InodeVisitor is called once per allocated, valid inode found during a
// ScanInodes walk. Returning false stops the scan early.
type InodeVisitor func(in *Inode) (keepGoing bool)

// ScanInodes walks every bit of alloc's chain list and, for each allocated
// bit, computes the corresponding inode block, reads it, and yields it to
// visit, per spec §4.E "Inode scan". Unallocated bits, non-VALID inodes, and
// inodes whose generation disagrees with the superblock are skipped rather
// than surfaced as errors, matching the spec's stated skip list.
//
// Grounded on the teacher's directory-tree walk discipline in ext4.go
// (iterate an allocation structure, read each candidate block, validate
// before handing it to the caller) generalized from ext4's single free-space
// bitmap to OCFS2's per-slot inode allocators.
func (fs *FileSystem) ScanInodes(alloc *Allocator, visit InodeVisitor) error {
	cl := alloc.node.ChainListData()
	for i := 0; i < int(cl.NextFreeRec); i++ {
		blkno := cl.Recs[i].HeadBlkno
		for blkno != 0 {
			g, err := fs.readGroupDescriptor(blkno)
			if err != nil {
				return err
			}
			more, err := fs.scanGroup(g, visit)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
			blkno = g.NextGroup
		}
	}
	return nil
}

func (fs *FileSystem) scanGroup(g *GroupDescriptor, visit InodeVisitor) (bool, error) {
	for bit := 0; bit < int(g.Bits); bit++ {
		set, err := g.Bitmap.IsSet(bit)
		if err != nil {
			return false, err
		}
		if !set || bit == 0 {
			// Bit 0 is the group descriptor's own block (reserved by
			// ExtendAllocator), not an inode.
			continue
		}
		blkno := g.Blkno + uint64(bit)
		in, err := fs.readInode(blkno)
		if err != nil {
			// A bit marked allocated but whose block doesn't decode as a
			// valid inode is corruption the scan surfaces, not skips.
			return false, err
		}
		if !in.IsValid() {
			continue
		}
		if in.Generation != fs.super.FSGeneration {
			continue
		}
		if !visit(in) {
			return false, nil
		}
	}
	return true, nil
}

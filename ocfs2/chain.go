package ocfs2

import "fmt"

// Allocator binds a chain-allocator inode to its filesystem handle and
// implements component D's space-management operations (spec §4.D). Both
// the global bitmap (clusters) and every slot's inode allocator are the same
// shape, distinguished only by what a "bit" means.
//
// Grounded on the teacher's bitmap.Bitmap.FirstFree-driven block allocation
// in filesystem/ext4/ext4.go, generalized from ext4's single flat bitmap to
// OCFS2's chain-of-groups indirection.
type Allocator struct {
	fs   *FileSystem
	node *Inode
}

// OpenAllocator wraps a chain-allocator inode for use by new_clusters et al.
func OpenAllocator(fs *FileSystem, node *Inode) (*Allocator, error) {
	if node.ChainListData() == nil {
		return nil, NewError(KindInvalidArgument, "inode is not a chain allocator", nil)
	}
	return &Allocator{fs: fs, node: node}, nil
}

// mostFreeFirst returns chain indices (into cl.Recs[:cl.NextFreeRec]) ordered
// by descending free-bit count, per spec §4.D "scan chains in order of
// most-free-first"; ties keep the lowest index first.
func mostFreeFirst(cl *ChainList) []int {
	order := make([]int, cl.NextFreeRec)
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			if cl.Recs[a].FreeBits < cl.Recs[b].FreeBits {
				order[j-1], order[j] = order[j], order[j-1]
			} else {
				break
			}
		}
	}
	return order
}

// NewClusters scans chains most-free-first, finds the longest free run in a
// group of at least min bits and at most max, marks it allocated, and
// updates the group, chain and allocator-inode bookkeeping.
func (a *Allocator) NewClusters(min, max int) (pStart uint64, got int, err error) {
	cl := a.node.ChainListData()
	for _, idx := range mostFreeFirst(cl) {
		rec := &cl.Recs[idx]
		if rec.FreeBits < uint32(min) {
			continue
		}
		blkno := rec.HeadBlkno
		for blkno != 0 {
			g, err := a.fs.readGroupDescriptor(blkno)
			if err != nil {
				return 0, 0, err
			}
			if run, ok := bestRun(g, min, max); ok {
				if err := a.markAllocated(g, run.Position, run.Count); err != nil {
					return 0, 0, err
				}
				if err := a.fs.writeGroupDescriptor(g); err != nil {
					return 0, 0, err
				}
				rec.FreeBits -= uint32(run.Count)
				if err := a.fs.writeInode(a.node); err != nil {
					return 0, 0, err
				}
				return groupRelativeToGlobal(a.fs, g, run.Position), run.Count, nil
			}
			blkno = g.NextGroup
		}
	}
	return 0, 0, ErrNoSpace
}

type freeRun struct {
	Position int
	Count    int
}

// bestRun finds the longest free run in g's bitmap that is >= min, capped at
// max, per spec §4.D "find the longest zero run >= min up to max".
func bestRun(g *GroupDescriptor, min, max int) (freeRun, bool) {
	best := freeRun{}
	for _, c := range g.Bitmap.FreeList() {
		if c.Count < min {
			continue
		}
		cnt := c.Count
		if cnt > max {
			cnt = max
		}
		if cnt > best.Count {
			best = freeRun{Position: c.Position, Count: cnt}
		}
	}
	if best.Count == 0 {
		return freeRun{}, false
	}
	return best, true
}

func (a *Allocator) markAllocated(g *GroupDescriptor, pos, count int) error {
	if err := g.Bitmap.SetRange(pos, count); err != nil {
		return NewError(KindCorruptGroupDesc, fmt.Sprintf("allocating range [%d,%d) in group %d", pos, pos+count, g.Blkno), err)
	}
	g.FreeBitsCount -= uint16(count)
	return nil
}

// groupRelativeToGlobal converts a bit position within g's bitmap to a
// filesystem-global cluster number. g.Blkno is a block number, but every bit
// in a chain allocator's bitmap addresses a cluster (bits can outnumber
// blocks when clustersize > blocksize), so the group's own block is first
// floored down to the cluster that contains it before pos is added; the
// group's first managed cluster is that cluster (cluster allocators reserve
// it for the descriptor itself on formatting, per the teacher's
// group-table-initialization convention).
func groupRelativeToGlobal(fs *FileSystem, g *GroupDescriptor, pos int) uint64 {
	return uint64(fs.super.BlockToClusterIndex(g.Blkno)) + uint64(pos)
}

// FreeClusters returns count clusters starting at pStart to their owning
// group, symmetric with NewClusters.
func (a *Allocator) FreeClusters(pStart uint64, count int) error {
	cl := a.node.ChainListData()
	for i := 0; i < int(cl.NextFreeRec); i++ {
		rec := &cl.Recs[i]
		blkno := rec.HeadBlkno
		for blkno != 0 {
			g, err := a.fs.readGroupDescriptor(blkno)
			if err != nil {
				return err
			}
			groupBase := uint64(a.fs.super.BlockToClusterIndex(g.Blkno))
			if pStart >= groupBase && pStart < groupBase+uint64(g.Bits) {
				pos := int(pStart - groupBase)
				if err := g.Bitmap.ClearRange(pos, count); err != nil {
					return NewError(KindCorruptGroupDesc, fmt.Sprintf("freeing range [%d,%d) in group %d", pos, pos+count, g.Blkno), err)
				}
				g.FreeBitsCount += uint16(count)
				rec.FreeBits += uint32(count)
				if err := a.fs.writeGroupDescriptor(g); err != nil {
					return err
				}
				return a.fs.writeInode(a.node)
			}
			blkno = g.NextGroup
		}
	}
	return NewError(KindCorruptChain, fmt.Sprintf("no group owns block %d", pStart), nil)
}

// NewInode is NewClusters with min = max = 1 against a slot's inode allocator.
func (a *Allocator) NewInode() (uint64, error) {
	blkno, got, err := a.NewClusters(1, 1)
	if err != nil {
		return 0, err
	}
	if got != 1 {
		return 0, NewError(KindInternalFailure, "inode allocation returned unexpected run length", nil)
	}
	return blkno, nil
}

// AllocNodeBlock allocates a single block for directory, extent-block, or
// xattr-block use, per spec §4.D alloc_node_block. NewClusters returns a
// cluster position, not a block number, so this converts via
// Superblock.ClustersToBlocks the same way file.go's write path does before
// handing the block number to the caller.
func (a *Allocator) AllocNodeBlock() (uint64, error) {
	pCpos, got, err := a.NewClusters(1, 1)
	if err != nil {
		return 0, err
	}
	if got != 1 {
		return 0, NewError(KindInternalFailure, "node block allocation returned unexpected run length", nil)
	}
	return a.fs.super.ClustersToBlocks(uint32(pCpos)), nil
}

// TotalFree sums free bits across every chain, used by allocator-conservation checks.
func (a *Allocator) TotalFree() uint64 { return a.node.ChainListData().FreeBits() }

// Total sums total bits across every chain.
func (a *Allocator) Total() uint64 { return a.node.ChainListData().TotalBits() }

// ExtendAllocator grows the allocator by one fresh group taken from the
// global bitmap: it formats a new group descriptor, links it at the head of
// the chain at chainIndex, and grows cl_next_free_rec if chainIndex names a
// chain not yet in use. The chain is the caller's choice; this function does
// not look for the least-populated chain, and it does not check whether an
// existing chain still has room before growing.
func (a *Allocator) ExtendAllocator(globalBitmap *Allocator, clustersPerGroup int, chainIndex uint16) error {
	cl := a.node.ChainListData()
	pStart, got, err := globalBitmap.NewClusters(clustersPerGroup, clustersPerGroup)
	if err != nil {
		return err
	}
	if got != clustersPerGroup {
		return NewError(KindNoSpace, "could not satisfy a full group's worth of clusters", nil)
	}

	if chainIndex >= cl.NextFreeRec {
		if chainIndex >= cl.Count {
			return NewError(KindCorruptChain, "no room to add another chain", nil)
		}
		cl.NextFreeRec = chainIndex + 1
	}
	rec := &cl.Recs[chainIndex]

	// pStart is a cluster number (NewClusters' contract); the group
	// descriptor lives at the corresponding block, converted via the
	// superblock's cluster/block shift rather than used directly.
	groupBlkno := a.fs.super.ClustersToBlocks(uint32(pStart))
	g := newGroupDescriptor(groupBlkno, a.node.Blkno, chainIndex, uint16(clustersPerGroup), a.fs.BlockSize())
	g.NextGroup = rec.HeadBlkno
	// The group's own block is bit 0 of its own managed range (see
	// groupRelativeToGlobal), so it must be reserved before the group is
	// handed to the chain or its first bit would be allocated right back out
	// on top of the descriptor that describes it.
	if err := a.markAllocated(g, 0, 1); err != nil {
		return err
	}
	if err := a.fs.writeGroupDescriptor(g); err != nil {
		return err
	}
	rec.HeadBlkno = g.Blkno
	rec.TotalBits += uint32(clustersPerGroup)
	rec.FreeBits += uint32(clustersPerGroup) - 1
	return a.fs.writeInode(a.node)
}

// leastPopulatedChain returns the index of the in-use chain (below
// cl_next_free_rec) with the fewest total bits, the lowest index winning
// ties; Resize uses it to pick the chain that receives a new group. The
// choice is not round-robin, and a chain not yet in use is never picked.
func leastPopulatedChain(cl *ChainList) uint16 {
	best := uint16(0)
	bestTotal := ^uint32(0)
	for i := 0; i < int(cl.NextFreeRec); i++ {
		if cl.Recs[i].TotalBits < bestTotal {
			bestTotal = cl.Recs[i].TotalBits
			best = uint16(i)
		}
	}
	return best
}

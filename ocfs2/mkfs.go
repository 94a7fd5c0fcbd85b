package ocfs2

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/markfasheh/ocfs2-tools-sub004/backend"
	"github.com/markfasheh/ocfs2-tools-sub004/blockcache"
)

// FormatOptions configures Create, mirroring the structured equivalents spec
// §6 says the core exposes in place of the CLI's raw option parsing.
type FormatOptions struct {
	BlockSize     int // bytes, power of two in [512, 4096]
	ClusterSize   int // bytes, power of two, >= BlockSize
	Label         string
	MaxSlots      uint16
	ClusterStack  string
	SparseAlloc   bool
	InlineData    bool
	LocalMount    bool
}

// defaultFormatOptions fills in spec-consistent defaults the same way the
// teacher's ext4 package derives defaults for unset creation parameters.
func defaultFormatOptions(o FormatOptions) FormatOptions {
	if o.BlockSize == 0 {
		o.BlockSize = MaxBlockSize
	}
	if o.ClusterSize == 0 {
		o.ClusterSize = 4096
	}
	if o.MaxSlots == 0 {
		o.MaxSlots = DefaultMaxSlots
	}
	return o
}

// Create formats store as a fresh OCFS2 volume and returns a handle open
// for use, mirroring the teacher's ext4.Create entry point: build the
// superblock, lay out the system allocators and directory, then return.
func Create(store backend.Storage, deviceSize int64, opts FormatOptions) (*FileSystem, error) {
	opts = defaultFormatOptions(opts)
	if opts.BlockSize < MinBlockSize || opts.BlockSize > MaxBlockSize {
		return nil, NewError(KindInvalidArgument, fmt.Sprintf("blocksize %d out of range", opts.BlockSize), nil)
	}
	if opts.ClusterSize < opts.BlockSize {
		return nil, NewError(KindInvalidArgument, "clustersize must be >= blocksize", nil)
	}

	blockSizeBits := bitsForPowerOfTwo(opts.BlockSize)
	clusterSizeBits := bitsForPowerOfTwo(opts.ClusterSize)
	clusters := uint32(deviceSize / int64(opts.ClusterSize))
	if clusters == 0 {
		return nil, NewError(KindInvalidArgument, "device too small for even one cluster", nil)
	}

	ch, err := blockcache.Open(store, opts.BlockSize, false)
	if err != nil {
		return nil, NewError(KindIO, "opening block cache for format", err)
	}
	ch.InitCache(256)

	id := uuid.New()
	incompat := uint32(0)
	if opts.SparseAlloc {
		incompat |= FeatureIncompatSparseAlloc
	}
	if opts.InlineData {
		incompat |= FeatureIncompatInlineData
	}
	if opts.LocalMount {
		incompat |= FeatureIncompatLocalMount
	}

	sb := &Superblock{
		MajorRev:        2,
		MinorRev:        0,
		Features:        FeatureSet{Compat: FeatureCompatJBD2, Incompat: incompat},
		BlockSizeBits:   blockSizeBits,
		ClusterSizeBits: clusterSizeBits,
		Clusters:        clusters,
		Blocks:          uint64(deviceSize) / uint64(opts.BlockSize),
		MaxSlots:        opts.MaxSlots,
		UUID:            id,
		Label:           opts.Label,
		ClusterStack:    opts.ClusterStack,
		FSGeneration:    1,
	}
	sb.ChecksumSeed = initialChecksumSeed(id[:])

	if err := sb.ValidateInvariants(deviceSize); err != nil {
		return nil, err
	}

	sbInode := &Inode{Blkno: SuperblockBlockNo, Generation: sb.FSGeneration}
	sbInode.SetSuperblock(sb)

	fs := &FileSystem{cache: ch, super: sb, mode: ModeOffline}
	if err := fs.writeInode(sbInode); err != nil {
		return nil, err
	}

	if err := fs.formatSystemAllocators(sb); err != nil {
		return nil, err
	}

	return fs, nil
}

func bitsForPowerOfTwo(n int) uint8 {
	var bits uint8
	for (1 << bits) < n {
		bits++
	}
	return bits
}

// nextFreeBlock is a monotonic block-number cursor used only during mkfs,
// before any chain allocator exists to hand out blocks itself — the
// classic bootstrap problem every bitmap-based filesystem's formatter
// solves by hand-laying-out its own metadata before the allocator it
// describes can be consulted.
type blockCursor struct{ next uint64 }

func (c *blockCursor) take(n int) uint64 {
	b := c.next
	c.next += uint64(n)
	return b
}

// alignToCluster advances the cursor to the first block of the next cluster
// if it isn't already sitting on a cluster boundary. Needed before handing
// out any block that must double as cluster 0 of its own managed range
// (the group descriptor's own block, per groupRelativeToGlobal's floor-based
// block-to-cluster convention).
func (c *blockCursor) alignToCluster(blocksPerCluster uint32) {
	bpc := uint64(blocksPerCluster)
	if rem := c.next % bpc; rem != 0 {
		c.next += bpc - rem
	}
}

// formatSystemAllocators lays out the global bitmap (cluster allocator) and
// one inode allocator per slot, then the system directory referencing them,
// per spec §6 "System directory" and §4.D "Structure". This is the bootstrap
// equivalent of what extend_allocator does later for growth.
func (fs *FileSystem) formatSystemAllocators(sb *Superblock) error {
	cursor := &blockCursor{next: SuperblockBlockNo + 1}

	globalBitmapBlkno := cursor.take(1)
	globalBitmap := &Inode{Blkno: globalBitmapBlkno, Generation: sb.FSGeneration, Flags: InodeFlagValid}
	clustersPerGroup := groupBitmapBytes(fs.BlockSize()) * 8
	if clustersPerGroup > int(sb.Clusters) {
		clustersPerGroup = int(sb.Clusters)
	}
	cl := &ChainList{ClustersPerGroup: uint16(clustersPerGroup), Count: 8}
	cl.Recs = make([]ChainRecord, cl.Count)
	globalBitmap.SetChainList(cl)

	// The group descriptor's own block doubles as cluster 0 of the range it
	// manages (groupRelativeToGlobal floors g.Blkno to its containing
	// cluster), so it must start on a cluster boundary or that floor would
	// land on the wrong cluster.
	cursor.alignToCluster(sb.BlocksPerCluster())
	groupBlkno := cursor.take(1)
	g := newGroupDescriptor(groupBlkno, globalBitmapBlkno, 0, uint16(clustersPerGroup), fs.BlockSize())
	// Reserve the clusters this bootstrap phase has already consumed by hand
	// (the legacy header, superblock, global bitmap inode, this group
	// descriptor) so the chain allocator can never hand them back out as
	// user data: the group's own first block is bit 0, so everything up to
	// and including the cluster containing groupBlkno is already spoken for.
	reserved := int(sb.BlockToClusterIndex(groupBlkno)) + 1
	if reserved > clustersPerGroup {
		reserved = clustersPerGroup
	}
	if err := g.Bitmap.SetRange(0, reserved); err != nil {
		return err
	}
	g.FreeBitsCount -= uint16(reserved)
	cl.NextFreeRec = 1
	cl.Recs[0] = ChainRecord{HeadBlkno: groupBlkno, TotalBits: uint32(clustersPerGroup), FreeBits: uint32(clustersPerGroup - reserved)}

	if err := fs.writeGroupDescriptor(g); err != nil {
		return err
	}
	if err := fs.writeInode(globalBitmap); err != nil {
		return err
	}

	globalAlloc, err := OpenAllocator(fs, globalBitmap)
	if err != nil {
		return err
	}

	slotInodeAllocBlknos := make([]uint64, sb.MaxSlots)
	for slot := uint16(0); slot < sb.MaxSlots; slot++ {
		blkno, _, err := globalAlloc.NewClusters(1, 1)
		if err != nil {
			return err
		}
		in := &Inode{Blkno: fs.super.ClustersToBlocks(uint32(blkno)), Generation: sb.FSGeneration, Flags: InodeFlagValid}
		perGroup := groupBitmapBytes(fs.BlockSize()) * 8
		icl := &ChainList{ClustersPerGroup: uint16(perGroup), Count: 4}
		icl.Recs = make([]ChainRecord, icl.Count)
		in.SetChainList(icl)
		if err := fs.writeInode(in); err != nil {
			return err
		}
		slotInodeAllocBlknos[slot] = in.Blkno
	}

	rootDirBlkno, _, err := globalAlloc.NewClusters(1, 1)
	if err != nil {
		return err
	}
	rootDir := &Inode{
		Blkno:      fs.super.ClustersToBlocks(uint32(rootDirBlkno)),
		Generation: sb.FSGeneration,
		Flags:      InodeFlagValid,
		Mode:       0755,
		Links:      2,
	}
	rootDir.SetInlineData(emptyDirBlock(fs.super.MaxInlineData()))
	if err := fs.writeInode(rootDir); err != nil {
		return err
	}

	sysDirBlkno, _, err := globalAlloc.NewClusters(1, 1)
	if err != nil {
		return err
	}
	sysDir := &Inode{
		Blkno:      fs.super.ClustersToBlocks(uint32(sysDirBlkno)),
		Generation: sb.FSGeneration,
		Flags:      InodeFlagValid | InodeFlagSystem,
		Mode:       0755,
		Links:      2,
	}
	sysDir.SetInlineData(emptyDirBlock(fs.super.MaxInlineData()))
	if err := fs.writeInode(sysDir); err != nil {
		return err
	}

	if err := fs.AddEntry(sysDir, SysFileGlobalBitmap, globalBitmapBlkno, FileTypeRegular); err != nil {
		return err
	}
	for slot, blkno := range slotInodeAllocBlknos {
		name := fmt.Sprintf("%s:%04d", SysFileInodeAlloc, slot)
		if err := fs.AddEntry(sysDir, name, blkno, FileTypeRegular); err != nil {
			return err
		}
	}
	if err := fs.writeInode(sysDir); err != nil {
		return err
	}

	sb.RootDirBlock = rootDir.Blkno
	sb.SystemDirBlock = sysDir.Blkno
	sbInode, err := fs.readInode(SuperblockBlockNo)
	if err != nil {
		return err
	}
	sbInode.superblock.RootDirBlock = rootDir.Blkno
	sbInode.superblock.SystemDirBlock = sysDir.Blkno
	return fs.writeInode(sbInode)
}

// emptyDirBlock returns a directory block containing a single free record
// spanning its whole size, ready for AddEntry to splice into.
func emptyDirBlock(size int) []byte {
	b := make([]byte, size)
	writeDirEntry(b, DirEntry{RecLen: uint16(size)})
	return b
}

// Package ocfs2 implements the on-disk structures and core algorithms of the
// OCFS2 shared-disk cluster filesystem: the superblock, inode, extent tree,
// chain allocator, directory and journal codecs, plus the cluster-lock
// coordination contract that every mutation must go through.
//
// The package does not implement the in-kernel filesystem or the cluster wire
// protocol; it is the userspace library a mkfs/tunefs/fsck-equivalent tool
// links against, grounded in the same shape as github.com/diskfs/go-diskfs's
// filesystem/ext4 package (OCFS2 and ext4 share the jbd2 journal and a very
// similar extent-tree design).
package ocfs2

// On-disk signatures: ASCII strings stored in an 8-byte field. Most are 7
// bytes, leaving byte 7 as a NUL terminator the way the kernel headers define
// them; SignatureSuperblock is 6 bytes and SignatureJournal is 4.
const (
	SignatureSuperblock  = "OCFSV2"
	SignatureInode       = "INODE01"
	SignatureExtentBlock = "EXBLK01"
	SignatureGroupDesc   = "GROUP01"
	SignatureDirBlockV2  = "DIRBLK1" // indexed/trailer-carrying directory block, when feature is set
	SignatureJournal     = "JBD2"
	SignatureXattrBlock  = "XATTR01"
)

// Block/cluster size bounds, per spec §3 invariants.
const (
	MinBlockSizeBits   = 9  // 512 bytes
	MaxBlockSizeBits   = 12 // 4096 bytes
	MinBlockSize       = 1 << MinBlockSizeBits
	MaxBlockSize       = 1 << MaxBlockSizeBits
	SuperblockBlockNo  = 2 // superblock lives at block 2, in blocksize units
	MaxNodeSlotsLimit  = 255
	MaxFilenameLen     = 255
	DefaultMaxSlots    = 4
	RootDirInode       = 3 // by convention, the first inode allocated after the reserved system inodes
	FirstReservedInode = 0
)

// Feature flags. Three independent 32-bit words per spec §6: compat, ro_compat,
// incompat. An unrecognized incompat bit must fail the mount outright; an
// unrecognized ro_compat bit forces read-only; compat bits are informational.
const (
	FeatureCompatBackupSuper uint32 = 1 << 0
	FeatureCompatJBD2        uint32 = 1 << 1

	FeatureROCompatSparseAlloc uint32 = 1 << 0
	FeatureROCompatUnwritten   uint32 = 1 << 1
	FeatureROCompatInlineData  uint32 = 1 << 2
	FeatureROCompatUsrQuota    uint32 = 1 << 3
	FeatureROCompatGrpQuota    uint32 = 1 << 4

	FeatureIncompatLocalMount  uint32 = 1 << 0
	FeatureIncompatSparseAlloc uint32 = 1 << 1
	FeatureIncompatInlineData  uint32 = 1 << 2
	FeatureIncompatExtendedSlotMap uint32 = 1 << 3
	FeatureIncompatHeartbeatDev uint32 = 1 << 4
	FeatureIncompatResizeInprog uint32 = 1 << 5
	FeatureIncompatTunefsInprog uint32 = 1 << 6
	FeatureIncompatXattr        uint32 = 1 << 7

	// knownIncompat is every incompat bit this port understands. Any bit
	// outside this set must fail the mount per spec §6.
	knownIncompat = FeatureIncompatLocalMount | FeatureIncompatSparseAlloc |
		FeatureIncompatInlineData | FeatureIncompatExtendedSlotMap |
		FeatureIncompatHeartbeatDev | FeatureIncompatResizeInprog |
		FeatureIncompatTunefsInprog | FeatureIncompatXattr

	// knownROCompat is every ro_compat bit this port understands; unknown
	// ones force a read-only mount rather than failing outright.
	knownROCompat = FeatureROCompatSparseAlloc | FeatureROCompatUnwritten |
		FeatureROCompatInlineData | FeatureROCompatUsrQuota | FeatureROCompatGrpQuota
)

// Inode flags (dinode.i_flags).
const (
	InodeFlagValid       uint32 = 1 << 0
	InodeFlagSystem      uint32 = 1 << 1
	InodeFlagSuperBlock  uint32 = 1 << 2
	InodeFlagLocalAlloc  uint32 = 1 << 3
	InodeFlagBitmap      uint32 = 1 << 4
	InodeFlagJournal     uint32 = 1 << 5
	InodeFlagOrphaned    uint32 = 1 << 6
	InodeFlagChain       uint32 = 1 << 7
)

// Dynamic feature flags (dinode.i_dyn_features), orthogonal to i_flags and
// controlling which id2 variant is authoritative for a regular file.
const (
	DynFeatureInlineData uint32 = 1 << 0
	DynFeatureXattr      uint32 = 1 << 1
	DynFeatureIndexedDir uint32 = 1 << 2
)

// Extent record flags.
const (
	ExtentFlagUnwritten uint8 = 1 << 0
	ExtentFlagHole      uint8 = 1 << 1 // used only for in-memory map entries synthesized over a sparse hole
)

// Well-known system directory entry names, exactly as spec §6 requires
// (per-slot names suffixed ":NNNN", zero-padded to 4 digits).
const (
	SysFileBadBlocks        = "bad_blocks"
	SysFileGlobalInodeAlloc = "global_inode_alloc"
	SysFileDLM              = "dlm"
	SysFileGlobalBitmap     = "global_bitmap"
	SysFileOrphanDir        = "orphan_dir"
	SysFileExtentAlloc      = "extent_alloc"
	SysFileInodeAlloc       = "inode_alloc"
	SysFileJournal          = "journal"
	SysFileLocalAlloc       = "local_alloc"
	SysFileTruncateLog      = "truncate_log"
	SysFileSlotMap          = "slot_map"
	SysFileHeartbeat        = "heartbeat"
)

// Directory entry file types (on-disk dirent.file_type), distinct from the
// POSIX mode bits stored in the inode.
const (
	FileTypeUnknown uint8 = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeCharDevice
	FileTypeBlockDevice
	FileTypeFIFO
	FileTypeSocket
	FileTypeSymlink
)

// Mount mode, per spec §4.F: whether a dangerous operation must block for the
// cluster lock or may try it non-blocking and downgrade on failure.
type MountMode int

const (
	// ModeOffline blocks for the cluster lock; used for resize/tunefs while
	// the filesystem is not actively mounted anywhere else.
	ModeOffline MountMode = iota
	// ModeOnline takes the lock non-blocking; on trylock failure the caller
	// must downgrade to an ioctl-mediated operation instead of touching the
	// superblock directly, or fail with ErrTryAgainOffline.
	ModeOnline
	// ModeLocal bypasses the cluster lock entirely; valid only when
	// FeatureIncompatLocalMount is set.
	ModeLocal
)

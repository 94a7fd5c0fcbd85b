package ocfs2

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// FeatureSet is the three independent 32-bit feature vectors per spec §6.
type FeatureSet struct {
	Compat   uint32
	ROCompat uint32
	Incompat uint32
}

// UnknownIncompat returns feature bits this port does not recognize; a
// non-zero result must fail the mount.
func (f FeatureSet) UnknownIncompat() uint32 { return f.Incompat &^ knownIncompat }

// UnknownROCompat returns ro_compat bits this port does not recognize; a
// non-zero result forces a read-only mount rather than failing outright.
func (f FeatureSet) UnknownROCompat() uint32 { return f.ROCompat &^ knownROCompat }

// Superblock is the payload of the dinode at block 2 that carries
// filesystem-wide parameters. It is one of the tagged id2 variants (spec §3).
type Superblock struct {
	MajorRev, MinorRev uint16
	Features           FeatureSet

	BlockSizeBits   uint8
	ClusterSizeBits uint8

	Clusters uint32 // total clusters
	Blocks   uint64 // total blocks

	MaxSlots uint16 // max concurrently mounted nodes

	RootDirBlock         uint64
	SystemDirBlock       uint64
	FirstClusterGroupBlk uint64

	UUID  uuid.UUID
	Label string // <=64 bytes

	ClusterStack string // cluster-stack identifier, e.g. "o2cb" or "pcmk"
	ClusterFlags uint32

	MountCount   uint16
	LastCheck    int64 // unix seconds
	ErrorPolicy  uint8
	ChecksumSeed uint32
	FSGeneration uint32 // set at format time; inodes carry a matching stamp
}

const (
	maxLabelLen        = 64
	maxClusterStackLen = 16
)

// BlockSize returns 1<<BlockSizeBits.
func (sb *Superblock) BlockSize() uint32 { return 1 << sb.BlockSizeBits }

// ClusterSize returns 1<<ClusterSizeBits.
func (sb *Superblock) ClusterSize() uint32 { return 1 << sb.ClusterSizeBits }

// ClustersToBlocks converts a cluster count to a block count using the
// superblock's two shift counts, per spec §4.B "derived quantities".
func (sb *Superblock) ClustersToBlocks(clusters uint32) uint64 {
	shift := sb.ClusterSizeBits - sb.BlockSizeBits
	return uint64(clusters) << shift
}

// BlocksToClusters converts a block count to the number of clusters it spans, rounding up.
func (sb *Superblock) BlocksToClusters(blocks uint64) uint32 {
	shift := sb.ClusterSizeBits - sb.BlockSizeBits
	perCluster := uint64(1) << shift
	return uint32((blocks + perCluster - 1) / perCluster)
}

// BlocksPerCluster returns how many filesystem blocks make up one cluster.
func (sb *Superblock) BlocksPerCluster() uint32 {
	return 1 << (sb.ClusterSizeBits - sb.BlockSizeBits)
}

// BlockToClusterIndex returns the index of the cluster that contains blkno,
// i.e. floor(blkno / blocks_per_cluster). This is distinct from
// BlocksToClusters, which answers a sizing question (how many clusters does
// a span of N blocks need, rounded up); this one answers a containment
// question and must floor, not ceil, or a block that isn't the first in its
// cluster would resolve to the next cluster over.
func (sb *Superblock) BlockToClusterIndex(blkno uint64) uint32 {
	return uint32(blkno / uint64(sb.BlocksPerCluster()))
}

// MaxInlineData returns the maximum bytes of file payload that fit inline in a dinode.
func (sb *Superblock) MaxInlineData() int { return maxInlineData(int(sb.BlockSize())) }

// ValidateInvariants checks the spec §3 superblock invariants. deviceSize is
// in bytes.
func (sb *Superblock) ValidateInvariants(deviceSize int64) error {
	if sb.BlockSizeBits < MinBlockSizeBits || sb.BlockSizeBits > MaxBlockSizeBits {
		return NewError(KindCorruptSuper, fmt.Sprintf("blocksize_bits %d out of range [%d,%d]", sb.BlockSizeBits, MinBlockSizeBits, MaxBlockSizeBits), nil)
	}
	if sb.ClusterSizeBits < sb.BlockSizeBits {
		return NewError(KindCorruptSuper, "clustersize_bits must be >= blocksize_bits", nil)
	}
	need := int64(sb.Clusters) * int64(sb.ClusterSize())
	if need > deviceSize {
		return NewError(KindCorruptSuper, fmt.Sprintf("clusters*clustersize (%d) exceeds device size (%d)", need, deviceSize), nil)
	}
	if unknown := sb.Features.UnknownIncompat(); unknown != 0 {
		return NewError(KindCorruptSuper, fmt.Sprintf("unknown incompat feature bits 0x%x", unknown), nil)
	}
	return nil
}

// superblockToBytes encodes sb into the id2 region of a block-sized buffer
// (the caller has already written the common inode header into b[0:inodeHeaderLen]).
func (sb *Superblock) toBytes(b []byte) {
	off := inodeHeaderLen
	binary.LittleEndian.PutUint16(b[off:off+2], sb.MajorRev)
	binary.LittleEndian.PutUint16(b[off+2:off+4], sb.MinorRev)
	binary.LittleEndian.PutUint32(b[off+4:off+8], sb.Features.Compat)
	binary.LittleEndian.PutUint32(b[off+8:off+12], sb.Features.ROCompat)
	binary.LittleEndian.PutUint32(b[off+12:off+16], sb.Features.Incompat)
	b[off+16] = sb.BlockSizeBits
	b[off+17] = sb.ClusterSizeBits
	binary.LittleEndian.PutUint32(b[off+18:off+22], sb.Clusters)
	binary.LittleEndian.PutUint64(b[off+22:off+30], sb.Blocks)
	binary.LittleEndian.PutUint16(b[off+30:off+32], sb.MaxSlots)
	binary.LittleEndian.PutUint64(b[off+32:off+40], sb.RootDirBlock)
	binary.LittleEndian.PutUint64(b[off+40:off+48], sb.SystemDirBlock)
	binary.LittleEndian.PutUint64(b[off+48:off+56], sb.FirstClusterGroupBlk)
	copy(b[off+56:off+72], sb.UUID[:])
	labelBytes := []byte(sb.Label)
	if len(labelBytes) > maxLabelLen {
		labelBytes = labelBytes[:maxLabelLen]
	}
	copy(b[off+72:off+72+maxLabelLen], labelBytes)
	stackOff := off + 72 + maxLabelLen
	stackBytes := []byte(sb.ClusterStack)
	if len(stackBytes) > maxClusterStackLen {
		stackBytes = stackBytes[:maxClusterStackLen]
	}
	copy(b[stackOff:stackOff+maxClusterStackLen], stackBytes)
	tail := stackOff + maxClusterStackLen
	binary.LittleEndian.PutUint32(b[tail:tail+4], sb.ClusterFlags)
	binary.LittleEndian.PutUint16(b[tail+4:tail+6], sb.MountCount)
	binary.LittleEndian.PutUint64(b[tail+6:tail+14], uint64(sb.LastCheck))
	b[tail+14] = sb.ErrorPolicy
	binary.LittleEndian.PutUint32(b[tail+15:tail+19], sb.ChecksumSeed)
	binary.LittleEndian.PutUint32(b[tail+19:tail+23], sb.FSGeneration)
}

func superblockFromBytes(b []byte) (*Superblock, error) {
	off := inodeHeaderLen
	if len(b) < off+200 {
		return nil, NewError(KindCorruptSuper, "block too short for superblock payload", nil)
	}
	sb := &Superblock{
		MajorRev: binary.LittleEndian.Uint16(b[off : off+2]),
		MinorRev: binary.LittleEndian.Uint16(b[off+2 : off+4]),
		Features: FeatureSet{
			Compat:   binary.LittleEndian.Uint32(b[off+4 : off+8]),
			ROCompat: binary.LittleEndian.Uint32(b[off+8 : off+12]),
			Incompat: binary.LittleEndian.Uint32(b[off+12 : off+16]),
		},
		BlockSizeBits:        b[off+16],
		ClusterSizeBits:      b[off+17],
		Clusters:             binary.LittleEndian.Uint32(b[off+18 : off+22]),
		Blocks:               binary.LittleEndian.Uint64(b[off+22 : off+30]),
		MaxSlots:             binary.LittleEndian.Uint16(b[off+30 : off+32]),
		RootDirBlock:         binary.LittleEndian.Uint64(b[off+32 : off+40]),
		SystemDirBlock:       binary.LittleEndian.Uint64(b[off+40 : off+48]),
		FirstClusterGroupBlk: binary.LittleEndian.Uint64(b[off+48 : off+56]),
	}
	copy(sb.UUID[:], b[off+56:off+72])
	labelEnd := off + 72 + maxLabelLen
	sb.Label = trimNulString(b[off+72 : labelEnd])
	stackOff := labelEnd
	sb.ClusterStack = trimNulString(b[stackOff : stackOff+maxClusterStackLen])
	tail := stackOff + maxClusterStackLen
	sb.ClusterFlags = binary.LittleEndian.Uint32(b[tail : tail+4])
	sb.MountCount = binary.LittleEndian.Uint16(b[tail+4 : tail+6])
	sb.LastCheck = int64(binary.LittleEndian.Uint64(b[tail+6 : tail+14]))
	sb.ErrorPolicy = b[tail+14]
	sb.ChecksumSeed = binary.LittleEndian.Uint32(b[tail+15 : tail+19])
	sb.FSGeneration = binary.LittleEndian.Uint32(b[tail+19 : tail+23])
	return sb, nil
}

func trimNulString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

package ocfs2

import (
	"encoding/binary"
	"fmt"

	"github.com/markfasheh/ocfs2-tools-sub004/internal/bitmap"
)

// groupDescHeaderLen is the fixed portion of a group descriptor block,
// preceding its embedded bitmap (which spans the remainder of the block).
const groupDescHeaderLen = 64

// GroupDescriptor is the header block at the start of each allocation group
// (spec §3 "Group descriptor"). Its bitmap spans the rest of the block.
type GroupDescriptor struct {
	Blkno           uint64 // self-reference (bg_blkno)
	ParentInode     uint64 // owning chain-allocator inode
	ChainIndex      uint16 // which chain in the parent's chain list this group belongs to
	Bits            uint16 // bg_bits: total bits this group's bitmap manages
	FreeBitsCount   uint16 // bg_free_bits_count
	NextGroup       uint64 // bg_next_group: next group descriptor in this chain, 0 if last
	Generation      uint32

	Bitmap *bitmap.Bitmap
}

// groupBitmapBytes returns how many bytes of the block are available for the bitmap.
func groupBitmapBytes(blocksize int) int { return blocksize - groupDescHeaderLen }

// newGroupDescriptor creates an all-free group descriptor governing `bits` units.
func newGroupDescriptor(blkno, parentInode uint64, chainIndex uint16, bits uint16, blocksize int) *GroupDescriptor {
	return &GroupDescriptor{
		Blkno:         blkno,
		ParentInode:   parentInode,
		ChainIndex:    chainIndex,
		Bits:          bits,
		FreeBitsCount: bits,
		Bitmap:        bitmap.NewBits(groupBitmapBytes(blocksize) * 8),
	}
}

func (g *GroupDescriptor) toBytes(blocksize int) []byte {
	b := make([]byte, blocksize)
	copy(b[0:8], []byte(SignatureGroupDesc))
	binary.LittleEndian.PutUint64(b[8:16], g.Blkno)
	binary.LittleEndian.PutUint64(b[16:24], g.ParentInode)
	binary.LittleEndian.PutUint16(b[24:26], g.ChainIndex)
	binary.LittleEndian.PutUint16(b[26:28], g.Bits)
	binary.LittleEndian.PutUint16(b[28:30], g.FreeBitsCount)
	binary.LittleEndian.PutUint64(b[30:38], g.NextGroup)
	binary.LittleEndian.PutUint32(b[38:42], g.Generation)
	bm := g.Bitmap.ToBytes()
	copy(b[groupDescHeaderLen:], bm)
	return b
}

func groupDescriptorFromBytes(b []byte, blkno uint64) (*GroupDescriptor, error) {
	if len(b) < groupDescHeaderLen {
		return nil, NewError(KindCorruptGroupDesc, fmt.Sprintf("block %d too short for group descriptor", blkno), nil)
	}
	sig := string(b[0:7])
	if sig != SignatureGroupDesc {
		return nil, NewError(KindCorruptGroupDesc, fmt.Sprintf("block %d has bad group descriptor signature %q", blkno, sig), nil)
	}
	self := binary.LittleEndian.Uint64(b[8:16])
	if self != blkno {
		return nil, NewError(KindCorruptGroupDesc, fmt.Sprintf("group descriptor self-reference %d disagrees with block %d", self, blkno), nil)
	}
	g := &GroupDescriptor{
		Blkno:         self,
		ParentInode:   binary.LittleEndian.Uint64(b[16:24]),
		ChainIndex:    binary.LittleEndian.Uint16(b[24:26]),
		Bits:          binary.LittleEndian.Uint16(b[26:28]),
		FreeBitsCount: binary.LittleEndian.Uint16(b[28:30]),
		NextGroup:     binary.LittleEndian.Uint64(b[30:38]),
		Generation:    binary.LittleEndian.Uint32(b[38:42]),
	}
	g.Bitmap = bitmap.FromBytes(b[groupDescHeaderLen:])
	return g, nil
}

// ChainRecord is one entry of a chain list: the head of a singly-linked list
// of group descriptors plus its aggregate bit counts.
type ChainRecord struct {
	HeadBlkno uint64
	TotalBits uint32
	FreeBits  uint32
}

// ChainList is the id2 payload of a chain-allocator inode (global bitmap,
// inode allocator, or extent allocator). cl_bpc is implicit: 1 for both
// cluster and inode allocators in this port (bigalloc-style multi-bit-per-unit
// chains are out of scope, matching the teacher's own non-bigalloc-only support).
type ChainList struct {
	ClustersPerGroup uint16 // cl_cpg
	Count            uint16 // cl_count: max chains
	NextFreeRec      uint16 // cl_next_free_rec: chains currently in use
	Recs             []ChainRecord
}

// TotalBits sums bg_bits across every chain's aggregate, used by the
// allocator-conservation testable property.
func (cl *ChainList) TotalBits() uint64 {
	var t uint64
	for _, r := range cl.Recs[:cl.NextFreeRec] {
		t += uint64(r.TotalBits)
	}
	return t
}

// FreeBits sums free bits across every chain.
func (cl *ChainList) FreeBits() uint64 {
	var t uint64
	for _, r := range cl.Recs[:cl.NextFreeRec] {
		t += uint64(r.FreeBits)
	}
	return t
}

func (cl *ChainList) toBytes(b []byte) {
	off := inodeHeaderLen
	binary.LittleEndian.PutUint16(b[off:off+2], cl.ClustersPerGroup)
	binary.LittleEndian.PutUint16(b[off+2:off+4], cl.Count)
	binary.LittleEndian.PutUint16(b[off+4:off+6], cl.NextFreeRec)
	recOff := off + 8
	const recLen = 16
	for i := 0; i < int(cl.Count) && recOff+recLen <= len(b); i++ {
		var r ChainRecord
		if i < len(cl.Recs) {
			r = cl.Recs[i]
		}
		binary.LittleEndian.PutUint64(b[recOff:recOff+8], r.HeadBlkno)
		binary.LittleEndian.PutUint32(b[recOff+8:recOff+12], r.TotalBits)
		binary.LittleEndian.PutUint32(b[recOff+12:recOff+16], r.FreeBits)
		recOff += recLen
	}
}

func chainListFromBytes(b []byte) (*ChainList, error) {
	off := inodeHeaderLen
	if len(b) < off+8 {
		return nil, NewError(KindCorruptChain, "block too short for chain list header", nil)
	}
	cl := &ChainList{
		ClustersPerGroup: binary.LittleEndian.Uint16(b[off : off+2]),
		Count:            binary.LittleEndian.Uint16(b[off+2 : off+4]),
		NextFreeRec:      binary.LittleEndian.Uint16(b[off+4 : off+6]),
	}
	recOff := off + 8
	const recLen = 16
	cl.Recs = make([]ChainRecord, 0, cl.Count)
	for i := 0; i < int(cl.Count) && recOff+recLen <= len(b); i++ {
		cl.Recs = append(cl.Recs, ChainRecord{
			HeadBlkno: binary.LittleEndian.Uint64(b[recOff : recOff+8]),
			TotalBits: binary.LittleEndian.Uint32(b[recOff+8 : recOff+12]),
			FreeBits:  binary.LittleEndian.Uint32(b[recOff+12 : recOff+16]),
		})
		recOff += recLen
	}
	return cl, nil
}

// LocalAlloc is the id2 payload of a per-slot local-allocator inode: a small
// embedded bitmap window used to satisfy small allocations without touching
// the global bitmap's chain list on every write.
type LocalAlloc struct {
	Window uint32 // cluster offset the embedded bitmap starts at
	Bitmap *bitmap.Bitmap
}

func (la *LocalAlloc) toBytes(b []byte, blocksize int) {
	off := inodeHeaderLen
	binary.LittleEndian.PutUint32(b[off:off+4], la.Window)
	bm := la.Bitmap.ToBytes()
	copy(b[off+8:], bm)
}

func localAllocFromBytes(b []byte, blocksize int) (*LocalAlloc, error) {
	off := inodeHeaderLen
	if len(b) < off+8 {
		return nil, NewError(KindCorruptInode, "block too short for local alloc header", nil)
	}
	la := &LocalAlloc{
		Window: binary.LittleEndian.Uint32(b[off : off+4]),
	}
	la.Bitmap = bitmap.FromBytes(b[off+8:])
	return la, nil
}

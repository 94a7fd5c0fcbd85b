package ocfs2

import (
	"encoding/binary"
	"fmt"
)

// extentListHeaderLen is the fixed header preceding an extent list's record
// array, whether that list is embedded in a dinode's id2 or in an extent
// block. Grounded on the teacher's extentNodeHeader/extentLeafNode split in
// filesystem/ext4/extent.go, generalized from ext4's fixed 4-extent leaf to
// OCFS2's variable-count, depth-tagged tree.
const extentListHeaderLen = 16

// extentRecordLen is the on-disk size of one extent record.
const extentRecordLen = 24

// ExtentRecord is one contiguous mapping of logical clusters to physical
// clusters (a leaf record), or a pointer to a child extent block (an
// interior record, identified by TreeDepth > 0 on the owning list).
type ExtentRecord struct {
	Cpos     uint32 // logical cluster offset this record starts at
	Clusters uint32 // length in clusters
	PBlkno   uint64 // physical starting block (leaf) or child extent block (interior)
	Flags    uint8  // ExtentFlagUnwritten et al.; meaningless on interior records
}

// End returns the logical cluster offset one past this record's range.
func (r ExtentRecord) End() uint32 { return r.Cpos + r.Clusters }

// Contains reports whether logical cluster cpos falls within this record.
func (r ExtentRecord) Contains(cpos uint32) bool { return cpos >= r.Cpos && cpos < r.End() }

// IsUnwritten reports whether this leaf record is allocated-but-unwritten
// (spec §3 "unwritten extents": reads as zero, physically allocated).
func (r ExtentRecord) IsUnwritten() bool { return r.Flags&ExtentFlagUnwritten != 0 }

// ExtentList is the root of an extent tree: either the id2 payload of a
// dinode (TreeDepth may be > 0, Recs are then interior pointers into extent
// blocks) or the body of an extent block itself.
type ExtentList struct {
	TreeDepth   uint16 // 0 at a leaf list, >0 for a list of child-block pointers
	Count       uint16 // max records this list's allocated space can hold
	NextFreeRec uint16 // records currently populated, Recs[:NextFreeRec] are valid
	Recs        []ExtentRecord
}

// IsLeaf reports whether this list's records are themselves leaf (cluster
// mapping) records rather than pointers to child extent blocks.
func (el *ExtentList) IsLeaf() bool { return el.TreeDepth == 0 }

// Full reports whether the list has no room for another record.
func (el *ExtentList) Full() bool { return el.NextFreeRec >= el.Count }

func (el *ExtentList) toBytes(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], el.TreeDepth)
	binary.LittleEndian.PutUint16(b[2:4], el.Count)
	binary.LittleEndian.PutUint16(b[4:6], el.NextFreeRec)
	recOff := extentListHeaderLen
	for i := 0; i < int(el.Count) && recOff+extentRecordLen <= len(b); i++ {
		var r ExtentRecord
		if i < len(el.Recs) {
			r = el.Recs[i]
		}
		writeExtentRecord(b[recOff:recOff+extentRecordLen], r)
		recOff += extentRecordLen
	}
}

func writeExtentRecord(b []byte, r ExtentRecord) {
	binary.LittleEndian.PutUint32(b[0:4], r.Cpos)
	binary.LittleEndian.PutUint32(b[4:8], r.Clusters)
	binary.LittleEndian.PutUint64(b[8:16], r.PBlkno)
	b[16] = r.Flags
}

func readExtentRecord(b []byte) ExtentRecord {
	return ExtentRecord{
		Cpos:     binary.LittleEndian.Uint32(b[0:4]),
		Clusters: binary.LittleEndian.Uint32(b[4:8]),
		PBlkno:   binary.LittleEndian.Uint64(b[8:16]),
		Flags:    b[16],
	}
}

// extentListFromBytes parses a fixed-capacity extent list occupying b[0:],
// where cap is the number of record slots available in that span (derived by
// the caller from whether this is the dinode-embedded list or a full extent
// block body).
func extentListFromBytes(b []byte, cap int) (*ExtentList, error) {
	if len(b) < extentListHeaderLen {
		return nil, NewError(KindInvalidExtentLookup, "buffer too short for extent list header", nil)
	}
	el := &ExtentList{
		TreeDepth:   binary.LittleEndian.Uint16(b[0:2]),
		Count:       binary.LittleEndian.Uint16(b[2:4]),
		NextFreeRec: binary.LittleEndian.Uint16(b[4:6]),
	}
	if int(el.Count) > cap {
		el.Count = uint16(cap)
	}
	recOff := extentListHeaderLen
	el.Recs = make([]ExtentRecord, 0, el.Count)
	for i := 0; i < int(el.Count) && recOff+extentRecordLen <= len(b); i++ {
		el.Recs = append(el.Recs, readExtentRecord(b[recOff:recOff+extentRecordLen]))
		recOff += extentRecordLen
	}
	if int(el.NextFreeRec) > len(el.Recs) {
		return nil, NewError(KindCorruptExtentBlock, fmt.Sprintf("next_free_rec %d exceeds populated record count %d", el.NextFreeRec, len(el.Recs)), nil)
	}
	return el, nil
}

// extentBlockHeaderLen is the fixed portion of an extent block preceding its
// embedded ExtentList.
const extentBlockHeaderLen = 48

// ExtentBlock is an interior or leaf node of the extent tree living in its
// own block (spec §3 "Extent block"), linked by i_last_eb_blk from the
// owning dinode and by sibling pointers for leaf-level range scans.
type ExtentBlock struct {
	Blkno      uint64 // self-reference
	OwnerBlkno uint64 // dinode this tree belongs to
	NextLeaf   uint64 // next leaf extent block at the same depth, 0 if none
	Suballoc   SuballocRef
	List       *ExtentList
}

func (eb *ExtentBlock) toBytes(blocksize int) []byte {
	b := make([]byte, blocksize)
	copy(b[0:8], []byte(SignatureExtentBlock))
	binary.LittleEndian.PutUint64(b[8:16], eb.Blkno)
	binary.LittleEndian.PutUint64(b[16:24], eb.OwnerBlkno)
	binary.LittleEndian.PutUint64(b[24:32], eb.NextLeaf)
	binary.LittleEndian.PutUint16(b[32:34], eb.Suballoc.Slot)
	binary.LittleEndian.PutUint16(b[34:36], eb.Suballoc.Bit)
	binary.LittleEndian.PutUint64(b[36:44], eb.Suballoc.Blkno)
	eb.List.toBytes(b[extentBlockHeaderLen:])
	return b
}

func extentBlockFromBytes(b []byte, blkno uint64) (*ExtentBlock, error) {
	if len(b) < extentBlockHeaderLen {
		return nil, NewError(KindCorruptExtentBlock, fmt.Sprintf("block %d too short for extent block header", blkno), nil)
	}
	sig := string(b[0:7])
	if sig != SignatureExtentBlock {
		return nil, NewError(KindCorruptExtentBlock, fmt.Sprintf("block %d has bad extent block signature %q", blkno, sig), nil)
	}
	self := binary.LittleEndian.Uint64(b[8:16])
	if self != blkno {
		return nil, NewError(KindCorruptExtentBlock, fmt.Sprintf("extent block self-reference %d disagrees with block %d", self, blkno), nil)
	}
	eb := &ExtentBlock{
		Blkno:      self,
		OwnerBlkno: binary.LittleEndian.Uint64(b[16:24]),
		NextLeaf:   binary.LittleEndian.Uint64(b[24:32]),
		Suballoc: SuballocRef{
			Slot:  binary.LittleEndian.Uint16(b[32:34]),
			Bit:   binary.LittleEndian.Uint16(b[34:36]),
			Blkno: binary.LittleEndian.Uint64(b[36:44]),
		},
	}
	cap := (len(b) - extentBlockHeaderLen) / extentRecordLen
	list, err := extentListFromBytes(b[extentBlockHeaderLen:], cap)
	if err != nil {
		return nil, err
	}
	eb.List = list
	return eb, nil
}

// rootExtentListCap returns how many extent records fit in the dinode-embedded
// root list, given the inode header and id2 bookkeeping already consumed.
func rootExtentListCap(blocksize int) int {
	return (blocksize - inodeHeaderLen - extentListHeaderLen) / extentRecordLen
}

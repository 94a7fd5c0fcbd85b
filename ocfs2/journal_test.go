package ocfs2

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalSuperblockRoundTrip(t *testing.T) {
	js := &JournalSuperblock{
		BlockType:   jbd2BlockTypeSuperblockV2,
		Sequence:    1,
		BlockSize:   4096,
		MaxLen:      1024,
		First:       1,
		SequenceNum: 5,
		Start:       3,
		ErrNo:       0,
		Flags:       0,
	}
	b := js.toBytes(4096)
	got, err := journalSuperblockFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, js.BlockType, got.BlockType)
	require.Equal(t, js.BlockSize, got.BlockSize)
	require.Equal(t, js.MaxLen, got.MaxLen)
	require.Equal(t, js.SequenceNum, got.SequenceNum)
	require.Equal(t, js.Start, got.Start)
}

func TestJournalSuperblockFromBytesRejectsBadSignature(t *testing.T) {
	b := make([]byte, 4096)
	copy(b[0:4], []byte("XXXX"))
	_, err := journalSuperblockFromBytes(b)
	require.Error(t, err)
}

func TestNeedsRecoveryDetectsUnreplayedLog(t *testing.T) {
	clean := &JournalSuperblock{Start: 0, SequenceNum: 5}
	require.False(t, clean.NeedsRecovery())

	dirty := &JournalSuperblock{Start: 3, SequenceNum: 5}
	require.True(t, dirty.NeedsRecovery())

	caughtUp := &JournalSuperblock{Start: 5, SequenceNum: 5}
	require.False(t, caughtUp.NeedsRecovery())
}

func TestJournalDescriptorEncodesTagsAfterHeader(t *testing.T) {
	jd := &JournalDescriptor{
		Sequence: 9,
		Tags:     []JournalTag{{Blkno: 0x1_0000_0042, Flags: 1}},
	}
	b := jd.toBytes(4096)
	require.Equal(t, jbd2BlockTypeDescriptor, binary.BigEndian.Uint32(b[4:8]))
	require.EqualValues(t, 9, binary.BigEndian.Uint32(b[8:12]))

	off := jbd2HeaderLen
	require.EqualValues(t, 0x42, binary.BigEndian.Uint32(b[off:off+4]))
	require.EqualValues(t, 1, binary.BigEndian.Uint16(b[off+4:off+6]))
	require.EqualValues(t, 1, binary.BigEndian.Uint32(b[off+6:off+10])) // high 32 bits of blkno
}

func TestJournalCommitEncodesSequenceAndTime(t *testing.T) {
	jc := &JournalCommit{Sequence: 3, CommitSec: 1700000000}
	b := jc.toBytes(4096)
	require.Equal(t, jbd2BlockTypeCommit, binary.BigEndian.Uint32(b[4:8]))
	require.EqualValues(t, 3, binary.BigEndian.Uint32(b[8:12]))
	require.EqualValues(t, 1700000000, binary.BigEndian.Uint64(b[12:20]))
}

func TestJournalRevocationEncodesBlockList(t *testing.T) {
	jr := &JournalRevocation{Sequence: 2, Blocks: []uint64{10, 20, 30}}
	b := jr.toBytes(4096)
	require.Equal(t, jbd2BlockTypeRevocation, binary.BigEndian.Uint32(b[4:8]))
	require.EqualValues(t, 3, binary.BigEndian.Uint32(b[12:16]))
	require.EqualValues(t, 10, binary.BigEndian.Uint64(b[16:24]))
	require.EqualValues(t, 20, binary.BigEndian.Uint64(b[24:32]))
	require.EqualValues(t, 30, binary.BigEndian.Uint64(b[32:40]))
}

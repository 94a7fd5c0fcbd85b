package ocfs2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInodeHeaderRoundTrip(t *testing.T) {
	in := &Inode{
		Blkno:       42,
		Generation:  7,
		Flags:       InodeFlagValid,
		DynFeatures: DynFeatureInlineData,
		Mode:        0644,
		UID:         1000,
		GID:         1000,
		Size:        12345,
		Links:       1,
		CreateTime:  time.Unix(1700000000, 0).UTC(),
		Clusters:    3,
		LastEBBlk:   0,
		Suballoc:    SuballocRef{Slot: 2, Bit: 5, Blkno: 42},
	}
	in.SetInlineData(nil)

	b := in.headerToBytes(4096)
	got, kind, err := inodeFromHeaderBytes(b, 42)
	require.NoError(t, err)
	require.Equal(t, id2InlineData, kind)
	require.Equal(t, in.Blkno, got.Blkno)
	require.Equal(t, in.Generation, got.Generation)
	require.Equal(t, in.Flags, got.Flags)
	require.Equal(t, in.Mode, got.Mode)
	require.Equal(t, in.UID, got.UID)
	require.Equal(t, in.Size, got.Size)
	require.Equal(t, in.CreateTime, got.CreateTime)
	require.Equal(t, in.Clusters, got.Clusters)
	require.Equal(t, in.Suballoc, got.Suballoc)
}

func TestInodeFromHeaderBytesRejectsBadSignature(t *testing.T) {
	b := make([]byte, 4096)
	copy(b[0:8], []byte("BADSIG"))
	_, _, err := inodeFromHeaderBytes(b, 1)
	require.Error(t, err)
	var ocErr *Error
	require.ErrorAs(t, err, &ocErr)
	require.Equal(t, KindCorruptInode, ocErr.Kind)
}

func TestInodeFromHeaderBytesRejectsSelfReferenceMismatch(t *testing.T) {
	in := &Inode{Blkno: 10, Flags: InodeFlagValid}
	in.SetInlineData(nil)
	b := in.headerToBytes(4096)
	_, _, err := inodeFromHeaderBytes(b, 11)
	require.Error(t, err)
	var ocErr *Error
	require.ErrorAs(t, err, &ocErr)
	require.Equal(t, KindCorruptInode, ocErr.Kind)
}

func TestInodeFromHeaderBytesRejectsShortBuffer(t *testing.T) {
	_, _, err := inodeFromHeaderBytes(make([]byte, 10), 1)
	require.Error(t, err)
}

func TestSetAccessorsSwitchId2Kind(t *testing.T) {
	in := &Inode{}
	in.SetChainList(&ChainList{Count: 4})
	require.NotNil(t, in.ChainListData())
	require.True(t, in.IsChain())

	in2 := &Inode{}
	in2.SetInlineData([]byte("hello"))
	require.True(t, in2.HasInlineData())
	require.Equal(t, []byte("hello"), in2.InlineBytes())

	in2.SetExtentList(&ExtentList{Count: 10})
	require.False(t, in2.HasInlineData())
	require.Nil(t, in2.InlineBytes())
	require.NotNil(t, in2.ExtentListData())
}

package ocfs2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, fs *FileSystem) (*File, *Allocator) {
	t.Helper()
	globalBitmap, err := fs.lookupSystemInode(SysFileGlobalBitmap)
	require.NoError(t, err)
	alloc, err := OpenAllocator(fs, globalBitmap)
	require.NoError(t, err)

	blkno, err := alloc.NewInode()
	require.NoError(t, err)
	ino := &Inode{Blkno: fs.super.ClustersToBlocks(uint32(blkno)), Generation: fs.super.FSGeneration, Flags: InodeFlagValid, Mode: 0644}
	ino.SetInlineData(nil)
	require.NoError(t, fs.writeInode(ino))

	f, err := OpenFile(fs, ino)
	require.NoError(t, err)
	return f, alloc
}

// S1: create, extend (write past inline capacity), read back the whole file.
func TestFileCreateExtendRead(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	f, alloc := newTestFile(t, fs)

	payload := bytes.Repeat([]byte("abcdefgh"), 4096) // 32 KiB, well past inline cap
	n, err := f.Write(alloc, 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.False(t, f.ino.HasInlineData())

	out := make([]byte, len(payload))
	n, err = f.Read(0, out)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
}

// S2: a write that stays within the inline-data threshold never allocates a cluster.
func TestFileInlineWriteStaysInline(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	f, alloc := newTestFile(t, fs)

	payload := []byte("small file contents")
	n, err := f.Write(alloc, 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, f.ino.HasInlineData())

	out := make([]byte, len(payload))
	_, err = f.Read(0, out)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

// S3: a sparse write (write starting well past offset 0) reads back as
// zero-filled hole followed by the written bytes.
func TestFileSparseWriteReadsHoleAsZero(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	f, alloc := newTestFile(t, fs)

	// Push the file out of inline data first so the hole is a real extent gap.
	big := bytes.Repeat([]byte{0xAA}, fs.super.MaxInlineData()+1)
	_, err := f.Write(alloc, 0, big)
	require.NoError(t, err)

	holeStart := int64(len(big))
	tail := []byte("end of file")
	sparseOffset := holeStart + int64(fs.BlockSize())*3
	_, err = f.Write(alloc, sparseOffset, tail)
	require.NoError(t, err)

	out := make([]byte, int(sparseOffset-holeStart))
	n, err := f.Read(holeStart, out)
	require.NoError(t, err)
	require.Equal(t, len(out), n)
	for _, b := range out {
		require.Zero(t, b)
	}

	readBack := make([]byte, len(tail))
	_, err = f.Read(sparseOffset, readBack)
	require.NoError(t, err)
	require.Equal(t, tail, readBack)
}

// S5: allocator round-trip — freeing what was allocated restores total free space.
func TestAllocatorRoundTrip(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	globalBitmap, err := fs.lookupSystemInode(SysFileGlobalBitmap)
	require.NoError(t, err)
	alloc, err := OpenAllocator(fs, globalBitmap)
	require.NoError(t, err)

	before := alloc.TotalFree()
	pStart, got, err := alloc.NewClusters(4, 4)
	require.NoError(t, err)
	require.Equal(t, 4, got)
	require.Equal(t, before-4, alloc.TotalFree())

	require.NoError(t, alloc.FreeClusters(pStart, got))
	require.Equal(t, before, alloc.TotalFree())
}

// S4: a partially written unwritten extent reads back the untouched portion
// as zero and the written portion as the new bytes, and the UNWRITTEN flag
// clears over the written sub-range only.
func TestUnwrittenExtentPartialWrite(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	f, alloc := newTestFile(t, fs)

	// Force past inline data, then hand-install a two-block unwritten extent
	// the way a preallocating caller (e.g. posix_fallocate) would.
	_, err := f.Write(alloc, 0, bytes.Repeat([]byte{0x11}, fs.super.MaxInlineData()+1))
	require.NoError(t, err)

	pCpos, got, err := alloc.NewClusters(2, 2)
	require.NoError(t, err)
	require.Equal(t, 2, got)
	baseCpos := f.ino.Clusters
	rec := ExtentRecord{Cpos: baseCpos, Clusters: 2, PBlkno: fs.super.ClustersToBlocks(uint32(pCpos)), Flags: ExtentFlagUnwritten}
	require.NoError(t, f.em.Insert(rec))

	bs := fs.BlockSize()
	blockOffset := int64(baseCpos) * int64(fs.super.ClusterSize())
	partial := bytes.Repeat([]byte{0x99}, bs/2)
	_, err = f.Write(alloc, blockOffset, partial)
	require.NoError(t, err)

	out := make([]byte, bs)
	_, err = f.Read(blockOffset, out)
	require.NoError(t, err)
	require.Equal(t, partial, out[:len(partial)])
	for _, b := range out[len(partial):] {
		require.Zero(t, b)
	}

	got_, err := f.em.GetRec(baseCpos)
	require.NoError(t, err)
	require.False(t, got_.IsUnwritten())
}

func TestResizeGrowsByOneGroup(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	before := fs.Superblock().Clusters

	stack := &fakeLockStack{}
	require.NoError(t, fs.Resize(stack, 96*1024*1024))

	require.Greater(t, fs.Superblock().Clusters, before)
	globalBitmap, err := fs.lookupSystemInode(SysFileGlobalBitmap)
	require.NoError(t, err)
	alloc, err := OpenAllocator(fs, globalBitmap)
	require.NoError(t, err)
	require.EqualValues(t, fs.Superblock().Clusters, alloc.Total())
}

func TestTruncateShrinkFreesClusters(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	f, alloc := newTestFile(t, fs)

	payload := bytes.Repeat([]byte{0x42}, fs.BlockSize()*8)
	_, err := f.Write(alloc, 0, payload)
	require.NoError(t, err)

	before := alloc.TotalFree()
	require.NoError(t, f.Truncate(alloc, int64(fs.BlockSize())))
	require.Greater(t, alloc.TotalFree(), before)
	require.EqualValues(t, fs.BlockSize(), f.ino.Size)
}

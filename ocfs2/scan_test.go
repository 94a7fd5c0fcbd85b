package ocfs2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// openSlotInodeAllocator extends slot 0's inode allocator with one fresh
// group taken from the global bitmap, the way a real node would the first
// time it needs to hand out an inode in that slot, and returns it ready for
// NewInode.
func openSlotInodeAllocator(t *testing.T, fs *FileSystem) *Allocator {
	t.Helper()
	globalBitmap, err := fs.lookupSystemInode(SysFileGlobalBitmap)
	require.NoError(t, err)
	gAlloc, err := OpenAllocator(fs, globalBitmap)
	require.NoError(t, err)

	slotIno, err := fs.lookupSystemInode(SysFileInodeAlloc + ":0000")
	require.NoError(t, err)
	slotAlloc, err := OpenAllocator(fs, slotIno)
	require.NoError(t, err)

	require.NoError(t, slotAlloc.ExtendAllocator(gAlloc, 8, 0))
	return slotAlloc
}

func allocateTestInode(t *testing.T, fs *FileSystem, alloc *Allocator) *Inode {
	t.Helper()
	blkno, err := alloc.NewInode()
	require.NoError(t, err)
	in := &Inode{Blkno: blkno, Generation: fs.super.FSGeneration, Flags: InodeFlagValid, Mode: 0644}
	in.SetInlineData(nil)
	require.NoError(t, fs.writeInode(in))
	return in
}

func TestScanInodesFindsOnlyValidMatchingGeneration(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	alloc := openSlotInodeAllocator(t, fs)

	a := allocateTestInode(t, fs, alloc)
	b := allocateTestInode(t, fs, alloc)

	var seen []uint64
	require.NoError(t, fs.ScanInodes(alloc, func(in *Inode) bool {
		seen = append(seen, in.Blkno)
		return true
	}))
	require.ElementsMatch(t, []uint64{a.Blkno, b.Blkno}, seen)
}

func TestScanInodesSkipsGenerationMismatch(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	alloc := openSlotInodeAllocator(t, fs)

	stale := allocateTestInode(t, fs, alloc)
	stale.Generation = fs.super.FSGeneration + 1
	require.NoError(t, fs.writeInode(stale))

	fresh := allocateTestInode(t, fs, alloc)

	var seen []uint64
	require.NoError(t, fs.ScanInodes(alloc, func(in *Inode) bool {
		seen = append(seen, in.Blkno)
		return true
	}))
	require.NotContains(t, seen, stale.Blkno)
	require.Contains(t, seen, fresh.Blkno)
}

func TestScanInodesStopsEarly(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	alloc := openSlotInodeAllocator(t, fs)
	allocateTestInode(t, fs, alloc)
	allocateTestInode(t, fs, alloc)

	visited := 0
	require.NoError(t, fs.ScanInodes(alloc, func(in *Inode) bool {
		visited++
		return false
	}))
	require.Equal(t, 1, visited)
}

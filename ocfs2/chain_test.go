package ocfs2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markfasheh/ocfs2-tools-sub004/internal/bitmap"
)

func TestMostFreeFirstOrdersDescendingStableOnTies(t *testing.T) {
	cl := &ChainList{
		NextFreeRec: 4,
		Recs: []ChainRecord{
			{FreeBits: 10},
			{FreeBits: 30},
			{FreeBits: 30},
			{FreeBits: 5},
		},
	}
	order := mostFreeFirst(cl)
	require.Equal(t, []int{1, 2, 0, 3}, order)
}

func TestBestRunPicksLongestCappedAtMax(t *testing.T) {
	g := &GroupDescriptor{Bits: 32, Bitmap: bitmap.NewBits(32)}
	// free runs at [0,3), [5,20), [25,32)
	require.NoError(t, g.Bitmap.SetRange(3, 2))
	require.NoError(t, g.Bitmap.SetRange(20, 5))

	run, ok := bestRun(g, 4, 10)
	require.True(t, ok)
	require.Equal(t, 5, run.Position)
	require.Equal(t, 10, run.Count) // 15-long run capped to max=10

	_, ok = bestRun(g, 20, 32)
	require.False(t, ok)
}

func TestNewClustersAndFreeClustersConserveTotal(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	globalBitmap, err := fs.lookupSystemInode(SysFileGlobalBitmap)
	require.NoError(t, err)
	alloc, err := OpenAllocator(fs, globalBitmap)
	require.NoError(t, err)

	total := alloc.Total()
	free0 := alloc.TotalFree()

	pStart, got, err := alloc.NewClusters(10, 10)
	require.NoError(t, err)
	require.Equal(t, 10, got)
	require.Equal(t, free0-10, alloc.TotalFree())
	require.Equal(t, total, alloc.Total())

	require.NoError(t, alloc.FreeClusters(pStart, got))
	require.Equal(t, free0, alloc.TotalFree())
}

func TestExtendAllocatorLinksNewGroup(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	globalBitmap, err := fs.lookupSystemInode(SysFileGlobalBitmap)
	require.NoError(t, err)
	gAlloc, err := OpenAllocator(fs, globalBitmap)
	require.NoError(t, err)

	slotIno, err := fs.lookupSystemInode(SysFileInodeAlloc + ":0000")
	require.NoError(t, err)
	slotAlloc, err := OpenAllocator(fs, slotIno)
	require.NoError(t, err)

	require.Zero(t, slotAlloc.Total())
	require.NoError(t, slotAlloc.ExtendAllocator(gAlloc, 16, 0))
	require.EqualValues(t, 16, slotAlloc.Total())
	require.EqualValues(t, 15, slotAlloc.TotalFree()) // one bit reserved for the group's own block

	blkno, err := slotAlloc.NewInode()
	require.NoError(t, err)
	require.NotZero(t, blkno)
}

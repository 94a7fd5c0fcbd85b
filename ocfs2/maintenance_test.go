package ocfs2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoveSlotDecrementsMaxSlotsForUnusedTrailingSlot(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	stack := &fakeLockStack{}

	before := fs.super.MaxSlots
	require.NoError(t, fs.RemoveSlot(stack, before-1))

	sbInode, err := fs.readInode(SuperblockBlockNo)
	require.NoError(t, err)
	require.Equal(t, before-1, sbInode.superblock.MaxSlots)

	_, err = fs.lookupSystemInode(SysFileInodeAlloc + ":0003")
	require.Error(t, err)
}

func TestRemoveSlotRejectsSlotZeroAndNonTrailingSlot(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	stack := &fakeLockStack{}

	require.Error(t, fs.RemoveSlot(stack, 0))
	require.Error(t, fs.RemoveSlot(stack, fs.super.MaxSlots-2))
}

func TestRemoveSlotRejectsNonEmptyAllocator(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	stack := &fakeLockStack{}

	globalBitmap, err := fs.lookupSystemInode(SysFileGlobalBitmap)
	require.NoError(t, err)
	gAlloc, err := OpenAllocator(fs, globalBitmap)
	require.NoError(t, err)

	slotIno, err := fs.lookupSystemInode(SysFileInodeAlloc + ":0003")
	require.NoError(t, err)
	slotAlloc, err := OpenAllocator(fs, slotIno)
	require.NoError(t, err)
	require.NoError(t, slotAlloc.ExtendAllocator(gAlloc, 8, 0))

	err = fs.RemoveSlot(stack, 3)
	require.Error(t, err)
}

func TestToggleFeatureSetsAndClearsIncompatBit(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	stack := &fakeLockStack{}

	require.NoError(t, fs.ToggleFeature(stack, FeatureIncompatSparseAlloc, true))
	sbInode, err := fs.readInode(SuperblockBlockNo)
	require.NoError(t, err)
	require.NotZero(t, sbInode.superblock.Features.Incompat&FeatureIncompatSparseAlloc)

	require.NoError(t, fs.ToggleFeature(stack, FeatureIncompatSparseAlloc, false))
	sbInode2, err := fs.readInode(SuperblockBlockNo)
	require.NoError(t, err)
	require.Zero(t, sbInode2.superblock.Features.Incompat&FeatureIncompatSparseAlloc)
}

func TestToggleFeatureRejectsUnknownBit(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	stack := &fakeLockStack{}

	err := fs.ToggleFeature(stack, 1<<30, true)
	require.Error(t, err)
}

package ocfs2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeLockStack is an in-process LockStack used by tests that need to drive
// a maintenance operation without a real cluster stack.
type fakeLockStack struct {
	locked map[string]bool
}

func (f *fakeLockStack) Init() error { return nil }
func (f *fakeLockStack) BeginGroupJoin(cluster, region string) error    { return nil }
func (f *fakeLockStack) CompleteGroupJoin(cluster, region string, result error) error { return nil }
func (f *fakeLockStack) StopHeartbeat(fsUUID string) error { return nil }

func (f *fakeLockStack) Lock(name string, blocking bool) error {
	if f.locked == nil {
		f.locked = make(map[string]bool)
	}
	if f.locked[name] {
		return ErrTryAgainOffline
	}
	f.locked[name] = true
	return nil
}

func (f *fakeLockStack) Unlock(name string) error {
	delete(f.locked, name)
	return nil
}

var _ LockStack = (*fakeLockStack)(nil)

func TestAcquireScopedLocalModeIsNoop(t *testing.T) {
	h, err := acquireScoped(nil, "whatever", ModeLocal)
	require.NoError(t, err)
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
}

func TestAcquireScopedOnlineContention(t *testing.T) {
	stack := &fakeLockStack{}
	h1, err := acquireScoped(stack, "superblock", ModeOnline)
	require.NoError(t, err)

	_, err = acquireScoped(stack, "superblock", ModeOnline)
	require.ErrorIs(t, err, ErrTryAgainOffline)

	require.NoError(t, h1.Release())

	h2, err := acquireScoped(stack, "superblock", ModeOnline)
	require.NoError(t, err)
	require.NoError(t, h2.Release())
}

func TestCheckIncompatForLockRejectsHeartbeatDev(t *testing.T) {
	sb := &Superblock{Features: FeatureSet{Incompat: FeatureIncompatHeartbeatDev}}
	err := checkIncompatForLock(sb)
	require.Error(t, err)
	var ocErr *Error
	require.ErrorAs(t, err, &ocErr)
	require.Equal(t, KindHeartbeatDev, ocErr.Kind)
}

func TestWithInProgressClearsBitOnSuccess(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	ran := false
	err := fs.withInProgress(FeatureIncompatResizeInprog, func() error {
		ran = true
		sbInode, err := fs.readInode(SuperblockBlockNo)
		require.NoError(t, err)
		require.NotZero(t, sbInode.superblock.Features.Incompat&FeatureIncompatResizeInprog)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	sbInode, err := fs.readInode(SuperblockBlockNo)
	require.NoError(t, err)
	require.Zero(t, sbInode.superblock.Features.Incompat&FeatureIncompatResizeInprog)
}

func TestWithInProgressLeavesBitSetOnFailure(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	sentinel := NewError(KindInternalFailure, "boom", nil)
	err := fs.withInProgress(FeatureIncompatResizeInprog, func() error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	sbInode, err := fs.readInode(SuperblockBlockNo)
	require.NoError(t, err)
	require.NotZero(t, sbInode.superblock.Features.Incompat&FeatureIncompatResizeInprog)
}

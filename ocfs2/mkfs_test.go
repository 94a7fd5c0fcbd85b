package ocfs2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markfasheh/ocfs2-tools-sub004/backend"
)

func createTestVolume(t *testing.T, deviceSize int64) *FileSystem {
	t.Helper()
	store := backend.NewMemory(deviceSize)
	fs, err := Create(store, deviceSize, FormatOptions{
		BlockSize:   4096,
		ClusterSize: 4096,
		Label:       "test",
		MaxSlots:    4,
	})
	require.NoError(t, err)
	return fs
}

func TestCreateLaysOutSuperblockAndSystemDir(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)

	sb := fs.Superblock()
	require.Equal(t, uint16(2), sb.MajorRev)
	require.NotZero(t, sb.RootDirBlock)
	require.NotZero(t, sb.SystemDirBlock)

	sysDir, err := fs.readInode(sb.SystemDirBlock)
	require.NoError(t, err)
	require.True(t, sysDir.IsSystem())

	var names []string
	err = fs.IterateDir(sysDir, false, func(e DirEntry) bool {
		names = append(names, e.Name)
		return true
	})
	require.NoError(t, err)
	require.Contains(t, names, SysFileGlobalBitmap)
	require.Contains(t, names, SysFileInodeAlloc+":0000")
}

func TestOpenRoundTripsSuperblock(t *testing.T) {
	deviceSize := int64(64 * 1024 * 1024)
	store := backend.NewMemory(deviceSize)
	created, err := Create(store, deviceSize, FormatOptions{Label: "roundtrip"})
	require.NoError(t, err)
	require.NoError(t, created.Close())

	reopened, err := Open(store, 4096, ModeOffline)
	require.NoError(t, err)
	require.Equal(t, "roundtrip", reopened.Superblock().Label)
	require.Equal(t, created.Superblock().UUID, reopened.Superblock().UUID)
}

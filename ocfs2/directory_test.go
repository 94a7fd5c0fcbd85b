package ocfs2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinRecLenRoundsUpToFour(t *testing.T) {
	require.EqualValues(t, 16, minRecLen(1)) // 12+1 -> 13 -> rounds to 16
	require.EqualValues(t, 16, minRecLen(4)) // 12+4 == 16 exactly
	require.EqualValues(t, 20, minRecLen(5))
}

func TestSpliceEntrySplitsFreeRecordAndAppendsMore(t *testing.T) {
	b := make([]byte, 64)
	writeDirEntry(b, DirEntry{RecLen: 64})

	require.True(t, spliceEntry(b, "a", 100, FileTypeRegular, minRecLen(1)))
	e, err := readDirEntry(b)
	require.NoError(t, err)
	require.EqualValues(t, 100, e.Inode)
	require.Equal(t, "a", e.Name)
	require.EqualValues(t, 16, e.RecLen)

	// remainder record should start right after and cover what's left
	rem, err := readDirEntry(b[16:])
	require.NoError(t, err)
	require.Zero(t, rem.Inode)
	require.EqualValues(t, 48, rem.RecLen)

	require.True(t, spliceEntry(b, "bb", 200, FileTypeRegular, minRecLen(2)))
	e2, err := readDirEntry(b[16:])
	require.NoError(t, err)
	require.EqualValues(t, 200, e2.Inode)
	require.Equal(t, "bb", e2.Name)
}

func TestSpliceEntryFailsWhenNoRoom(t *testing.T) {
	b := make([]byte, 16)
	writeDirEntry(b, DirEntry{RecLen: 16, Inode: 1, NameLen: 1, FileType: FileTypeRegular, Name: "x"})
	require.False(t, spliceEntry(b, "y", 2, FileTypeRegular, minRecLen(1)))
}

func TestValidateRecLenRejectsCorruption(t *testing.T) {
	require.Error(t, validateRecLen(4, 0, 64))    // below minimum 8
	require.Error(t, validateRecLen(9, 0, 64))    // not a multiple of 4
	require.Error(t, validateRecLen(8, 10, 64))   // name_len exceeds rec_len
	require.Error(t, validateRecLen(64, 0, 32))   // crosses buffer boundary
	require.NoError(t, validateRecLen(16, 1, 64))
}

func TestAddEntryIterateDirRemoveEntryInlineRoundTrip(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	dir := &Inode{Blkno: 999, Generation: fs.super.FSGeneration, Flags: InodeFlagValid, Mode: 0755}
	dir.SetInlineData(emptyDirBlock(fs.super.MaxInlineData()))
	require.NoError(t, fs.writeInode(dir))

	require.NoError(t, fs.AddEntry(dir, "foo", 1001, FileTypeRegular))
	require.NoError(t, fs.AddEntry(dir, "bar", 1002, FileTypeDirectory))

	reread, err := fs.readInode(dir.Blkno)
	require.NoError(t, err)

	names := map[string]uint64{}
	require.NoError(t, fs.IterateDir(reread, false, func(e DirEntry) bool {
		names[e.Name] = e.Inode
		return true
	}))
	require.Equal(t, map[string]uint64{"foo": 1001, "bar": 1002}, names)

	require.NoError(t, fs.RemoveEntry(reread, "foo"))
	reread2, err := fs.readInode(dir.Blkno)
	require.NoError(t, err)

	names2 := map[string]uint64{}
	require.NoError(t, fs.IterateDir(reread2, false, func(e DirEntry) bool {
		names2[e.Name] = e.Inode
		return true
	}))
	require.Equal(t, map[string]uint64{"bar": 1002}, names2)

	err = fs.RemoveEntry(reread2, "foo")
	require.Error(t, err)
}

func TestIterateDirStopsEarly(t *testing.T) {
	fs := createTestVolume(t, 64*1024*1024)
	dir := &Inode{Blkno: 998, Generation: fs.super.FSGeneration, Flags: InodeFlagValid, Mode: 0755}
	dir.SetInlineData(emptyDirBlock(fs.super.MaxInlineData()))
	require.NoError(t, fs.writeInode(dir))
	require.NoError(t, fs.AddEntry(dir, "one", 1, FileTypeRegular))
	require.NoError(t, fs.AddEntry(dir, "two", 2, FileTypeRegular))

	count := 0
	require.NoError(t, fs.IterateDir(dir, false, func(e DirEntry) bool {
		count++
		return false
	}))
	require.Equal(t, 1, count)
}

package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetClearIsSet(t *testing.T) {
	bm := NewBits(16)
	require.NoError(t, bm.Set(3))
	set, err := bm.IsSet(3)
	require.NoError(t, err)
	require.True(t, set)
	require.NoError(t, bm.Clear(3))
	set, err = bm.IsSet(3)
	require.NoError(t, err)
	require.False(t, set)
}

func TestFirstFree(t *testing.T) {
	bm := NewBits(16)
	require.NoError(t, bm.SetRange(0, 4))
	require.Equal(t, 4, bm.FirstFree(0))
	require.Equal(t, 5, bm.FirstFree(5))
}

func TestFreeListFindsLongestRun(t *testing.T) {
	bm := NewBits(24)
	require.NoError(t, bm.Set(0))
	require.NoError(t, bm.SetRange(5, 1))
	free := bm.FreeList()
	var longest Contiguous
	for _, c := range free {
		if c.Count > longest.Count {
			longest = c
		}
	}
	require.Equal(t, 6, longest.Position)
	require.Equal(t, 18, longest.Count)
}

func TestCountSet(t *testing.T) {
	bm := NewBits(16)
	require.NoError(t, bm.SetRange(0, 5))
	require.Equal(t, 5, bm.CountSet())
}

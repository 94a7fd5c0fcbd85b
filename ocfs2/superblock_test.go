package ocfs2

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSuperblockRoundTrip(t *testing.T) {
	id := uuid.New()
	sb := &Superblock{
		MajorRev:        2,
		MinorRev:        0,
		Features:        FeatureSet{Compat: FeatureCompatJBD2, Incompat: FeatureIncompatSparseAlloc},
		BlockSizeBits:   12,
		ClusterSizeBits: 12,
		Clusters:        1000,
		Blocks:          1000,
		MaxSlots:        4,
		RootDirBlock:    3,
		SystemDirBlock:  4,
		UUID:            id,
		Label:           "mylabel",
		ClusterStack:    "o2cb",
		MountCount:      7,
		ErrorPolicy:     1,
		ChecksumSeed:    0xdeadbeef,
		FSGeneration:    42,
	}

	b := make([]byte, 4096)
	copy(b[0:8], []byte(SignatureInode))
	sb.toBytes(b)

	got, err := superblockFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, sb.MajorRev, got.MajorRev)
	require.Equal(t, sb.Features, got.Features)
	require.Equal(t, sb.BlockSizeBits, got.BlockSizeBits)
	require.Equal(t, sb.Clusters, got.Clusters)
	require.Equal(t, sb.MaxSlots, got.MaxSlots)
	require.Equal(t, sb.RootDirBlock, got.RootDirBlock)
	require.Equal(t, sb.UUID, got.UUID)
	require.Equal(t, sb.Label, got.Label)
	require.Equal(t, sb.ClusterStack, got.ClusterStack)
	require.Equal(t, sb.ChecksumSeed, got.ChecksumSeed)
	require.Equal(t, sb.FSGeneration, got.FSGeneration)
}

func TestValidateInvariantsRejectsUnknownIncompat(t *testing.T) {
	sb := &Superblock{
		BlockSizeBits:   12,
		ClusterSizeBits: 12,
		Clusters:        10,
		Features:        FeatureSet{Incompat: 1 << 30},
	}
	err := sb.ValidateInvariants(10 * 4096)
	require.Error(t, err)
	var ocErr *Error
	require.ErrorAs(t, err, &ocErr)
	require.Equal(t, KindCorruptSuper, ocErr.Kind)
}

func TestValidateInvariantsRejectsOversizedClusterCount(t *testing.T) {
	sb := &Superblock{
		BlockSizeBits:   12,
		ClusterSizeBits: 12,
		Clusters:        1000,
	}
	err := sb.ValidateInvariants(10 * 4096)
	require.Error(t, err)
}

func TestClusterBlockConversions(t *testing.T) {
	sb := &Superblock{BlockSizeBits: 9, ClusterSizeBits: 12} // 512B blocks, 4KiB clusters
	require.Equal(t, uint32(8), sb.BlocksPerCluster())
	require.EqualValues(t, 16, sb.ClustersToBlocks(2))
	require.EqualValues(t, 2, sb.BlocksToClusters(16))
	require.EqualValues(t, 2, sb.BlocksToClusters(9)) // rounds up
}

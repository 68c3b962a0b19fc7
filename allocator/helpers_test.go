package allocator

import (
	"testing"

	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/stretchr/testify/require"
)

const testGranule = DefaultCommitGranuleWords

func newTestList(t *testing.T, modify ...func(conf *ListConfig)) *VirtualSpaceList {
	t.Helper()

	conf := ListConfig{
		Name:               "test",
		NodeWordSize:       4 * chunklevel.MaxChunkWordSize,
		Expandable:         true,
		CommitGranuleWords: testGranule,
	}
	for _, fn := range modify {
		fn(&conf)
	}

	list, err := NewVirtualSpaceList(conf)
	require.NoError(t, err)
	return list
}

func newTestManager(t *testing.T, name string, provider RegionProvider, modify ...func(s *Settings)) *ChunkManager {
	t.Helper()

	settings := DefaultSettings()
	settings.VerifyOperations = true
	for _, fn := range modify {
		fn(&settings)
	}

	m, err := NewChunkManager(name, provider, settings)
	require.NoError(t, err)
	return m
}

func singleRootChunk(conf *ListConfig) {
	conf.NodeWordSize = chunklevel.MaxChunkWordSize
	conf.Expandable = false
}

func keepCommitted(s *Settings) {
	s.UncommitFreeChunks = false
}

func numChunksPerLevel(m *ChunkManager) []int {
	var stats ChunkManagerStats
	m.AddToStatistics(&stats)
	return stats.NumChunks[:]
}

func levelSize(l chunklevel.Level) Address {
	return Address(chunklevel.WordSizeForLevel(l))
}

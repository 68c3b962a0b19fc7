package metaspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/QuangTung97/metaspace/internal/vmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	conf := DefaultConfig()
	require.NoError(t, conf.Validate())
	assert.True(t, conf.Settings.UncommitFreeChunks)
	assert.False(t, conf.UseMmap)
	assert.Equal(t, uint64(0), conf.CommitLimitWords)
}

func TestLoadConfig(t *testing.T) {
	input := `
commit_limit_words: 1048576
class_space:
  node_word_size: 524288
non_class_space:
  node_word_size: 2097152
  max_reserved_words: 8388608
settings:
  commit_granule_words: 2048
  uncommit_free_chunks: false
`
	conf, err := LoadConfig(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, uint64(1<<20), conf.CommitLimitWords)
	assert.Equal(t, chunklevel.MaxChunkWordSize, conf.ClassSpace.NodeWordSize)
	assert.Equal(t, 4*chunklevel.MaxChunkWordSize, conf.NonClassSpace.NodeWordSize)
	assert.Equal(t, 16*chunklevel.MaxChunkWordSize, conf.NonClassSpace.MaxReservedWords)
	assert.Equal(t, uint64(2048), conf.Settings.CommitGranuleWords)
	assert.False(t, conf.Settings.UncommitFreeChunks)
	assert.False(t, conf.Settings.VerifyOperations)
}

func TestLoadConfig_KeepsDefaults(t *testing.T) {
	conf, err := LoadConfig(strings.NewReader("use_mmap: true\n"))
	require.NoError(t, err)

	expected := DefaultConfig()
	expected.UseMmap = true
	assert.Equal(t, expected, conf)

	conf, err = LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), conf)
}

func TestLoadConfig_Errors(t *testing.T) {
	table := []struct {
		name  string
		input string
	}{
		{name: "unknown-field", input: "commit_limit: 100\n"},
		{name: "bad-type", input: "commit_limit_words: lots\n"},
		{name: "bad-granule", input: "settings:\n  commit_granule_words: 1000\n"},
		{name: "unaligned-node", input: "non_class_space:\n  node_word_size: 1000\n"},
		{name: "class-max-reserved", input: "class_space:\n  max_reserved_words: 1048576\n"},
		{name: "limit-below-granule", input: "commit_limit_words: 100\n"},
	}
	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			_, err := LoadConfig(strings.NewReader(e.input))
			assert.Error(t, err)
		})
	}
}

func TestConfig_Validate_MmapGranule(t *testing.T) {
	conf := DefaultConfig()
	conf.UseMmap = true
	require.NoError(t, conf.Validate())

	conf.Settings.CommitGranuleWords = chunklevel.MinChunkWordSize
	if vmem.ReserveGranularity() > chunklevel.MinChunkWordSize {
		assert.Error(t, conf.Validate())
	} else {
		assert.NoError(t, conf.Validate())
	}

	conf.UseMmap = false
	assert.NoError(t, conf.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metaspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commit_limit_words: 65536\n"), 0o600))

	conf, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), conf.CommitLimitWords)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

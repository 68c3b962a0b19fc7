package chunklevel

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestWordSizeForLevel(t *testing.T) {
	assert.Equal(t, uint64(512*1024), WordSizeForLevel(RootChunkLevel))
	assert.Equal(t, uint64(256*1024), WordSizeForLevel(1))
	assert.Equal(t, uint64(64), WordSizeForLevel(HighestChunkLevel))
	assert.Equal(t, MinChunkWordSize, WordSizeForLevel(HighestChunkLevel))

	for l := LowestChunkLevel; l < HighestChunkLevel; l++ {
		assert.Equal(t, WordSizeForLevel(l), 2*WordSizeForLevel(l+1))
	}
}

func TestWordSizeForLevel_Invalid(t *testing.T) {
	assert.Panics(t, func() { WordSizeForLevel(-1) })
	assert.Panics(t, func() { WordSizeForLevel(HighestChunkLevel + 1) })
}

func TestLevelFittingWordSize(t *testing.T) {
	table := []struct {
		name     string
		words    uint64
		expected Level
	}{
		{
			name:     "zero",
			words:    0,
			expected: HighestChunkLevel,
		},
		{
			name:     "min-chunk",
			words:    MinChunkWordSize,
			expected: HighestChunkLevel,
		},
		{
			name:     "min-chunk-plus-one",
			words:    MinChunkWordSize + 1,
			expected: HighestChunkLevel - 1,
		},
		{
			name:     "granule",
			words:    8 * 1024,
			expected: 6,
		},
		{
			name:     "half-root-plus-one",
			words:    MaxChunkWordSize/2 + 1,
			expected: RootChunkLevel,
		},
		{
			name:     "root",
			words:    MaxChunkWordSize,
			expected: RootChunkLevel,
		},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			result := LevelFittingWordSize(e.words)
			assert.Equal(t, e.expected, result)
			assert.GreaterOrEqual(t, WordSizeForLevel(result), e.words)
		})
	}

	assert.Panics(t, func() { LevelFittingWordSize(MaxChunkWordSize + 1) })
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "lv00", RootChunkLevel.String())
	assert.Equal(t, "lv13", HighestChunkLevel.String())
}

func TestLevels(t *testing.T) {
	levels := Levels()
	assert.Equal(t, NumLevels, len(levels))
	assert.Equal(t, RootChunkLevel, levels[0])
	assert.Equal(t, HighestChunkLevel, levels[len(levels)-1])
	assert.True(t, IsValidLevel(levels[5]))
	assert.False(t, IsValidLevel(InvalidLevel))
}

package chunklevel

import (
	"fmt"
	"math/bits"
)

// Level classifies a chunk by size. Smaller levels are larger chunks.
type Level int8

const (
	// RootChunkLevel is the level of the largest chunk, a root chunk
	RootChunkLevel Level = 0

	// HighestChunkLevel is the level of the smallest chunk
	HighestChunkLevel Level = 13

	// LowestChunkLevel ...
	LowestChunkLevel = RootChunkLevel

	// NumLevels ...
	NumLevels = int(HighestChunkLevel) + 1

	// InvalidLevel ...
	InvalidLevel Level = -1
)

const (
	// BytesPerWord ...
	BytesPerWord = 8

	// MaxChunkWordSize is the size of a root chunk: 4 MB
	MaxChunkWordSize uint64 = (4 << 20) / BytesPerWord

	// MinChunkWordSize is the size of a chunk at the highest level
	MinChunkWordSize = MaxChunkWordSize >> uint(HighestChunkLevel)
)

// IsValidLevel ...
func IsValidLevel(l Level) bool {
	return l >= LowestChunkLevel && l <= HighestChunkLevel
}

// CheckValidLevel panics if l is not a valid level.
func CheckValidLevel(l Level) {
	if !IsValidLevel(l) {
		panic(fmt.Sprintf("invalid chunk level %d", l))
	}
}

// WordSizeForLevel returns the size in words of a chunk at level l.
func WordSizeForLevel(l Level) uint64 {
	CheckValidLevel(l)
	return MaxChunkWordSize >> uint(l)
}

// LevelFittingWordSize returns the level of the smallest chunk able to hold wordSize words.
func LevelFittingWordSize(wordSize uint64) Level {
	if wordSize > MaxChunkWordSize {
		panic(fmt.Sprintf("word size %d larger than a root chunk", wordSize))
	}
	if wordSize <= MinChunkWordSize {
		return HighestChunkLevel
	}
	// ceil(log2(wordSize))
	sizeLog := bits.Len64(wordSize - 1)
	rootLog := bits.Len64(MaxChunkWordSize - 1)
	return Level(rootLog - sizeLog)
}

// String ...
func (l Level) String() string {
	return fmt.Sprintf("lv%02d", int8(l))
}

// Levels returns all valid levels from root to highest.
func Levels() []Level {
	result := make([]Level, 0, NumLevels)
	for l := LowestChunkLevel; l <= HighestChunkLevel; l++ {
		result = append(result, l)
	}
	return result
}

package allocator

import (
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/cockroachdb/errors"
)

// ChunkManagerStats holds the number and committed size of free chunks per level.
type ChunkManagerStats struct {
	NumChunks         [chunklevel.NumLevels]int
	CommittedWordSize [chunklevel.NumLevels]uint64
}

// Add ...
func (s *ChunkManagerStats) Add(other ChunkManagerStats) {
	for i := range s.NumChunks {
		s.NumChunks[i] += other.NumChunks[i]
		s.CommittedWordSize[i] += other.CommittedWordSize[i]
	}
}

// TotalNumChunks ...
func (s *ChunkManagerStats) TotalNumChunks() int {
	n := 0
	for _, num := range s.NumChunks {
		n += num
	}
	return n
}

// TotalWordSize ...
func (s *ChunkManagerStats) TotalWordSize() uint64 {
	var words uint64
	for i, num := range s.NumChunks {
		words += uint64(num) * chunklevel.WordSizeForLevel(chunklevel.Level(i))
	}
	return words
}

// TotalCommittedWordSize ...
func (s *ChunkManagerStats) TotalCommittedWordSize() uint64 {
	var words uint64
	for _, w := range s.CommittedWordSize {
		words += w
	}
	return words
}

// Verify ...
func (s *ChunkManagerStats) Verify() error {
	for i, num := range s.NumChunks {
		l := chunklevel.Level(i)
		if num < 0 {
			return errors.Newf("level %s: negative chunk count %d", l, num)
		}
		if s.CommittedWordSize[i] > uint64(num)*chunklevel.WordSizeForLevel(l) {
			return errors.Newf("level %s: %d committed words in %d chunks", l, s.CommittedWordSize[i], num)
		}
	}
	return nil
}

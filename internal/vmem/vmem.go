// Package vmem reserves address ranges and commits or uncommits parts of them.
//
// Offsets and sizes are expressed in words (8 bytes). A Reservation starts
// out fully uncommitted; committing a range makes it readable and writable,
// uncommitting hands the physical pages back to the operating system while
// keeping the address range reserved.
package vmem

import (
	"github.com/cockroachdb/errors"
)

const bytesPerWord = 8

// ErrRange is returned for ranges outside the reservation or not aligned to its granularity.
var ErrRange = errors.New("vmem: range out of bounds or misaligned")

// ErrReleased is returned when using a reservation after Release.
var ErrReleased = errors.New("vmem: reservation already released")

// Reservation is a reserved address range.
type Reservation interface {
	// WordSize returns the reserved size in words.
	WordSize() uint64

	// Granularity returns the alignment in words required for Commit and Uncommit ranges.
	Granularity() uint64

	// Commit backs the range with memory.
	Commit(offsetWords, words uint64) error

	// Uncommit releases the memory backing the range, keeping the range reserved.
	Uncommit(offsetWords, words uint64) error

	// Bytes returns the memory of a committed range, nil if the reservation has no real memory.
	Bytes(offsetWords, words uint64) []byte

	// Release gives the whole range back.
	Release() error
}

// Reserver creates reservations.
type Reserver func(words uint64) (Reservation, error)

func checkRange(r Reservation, offsetWords, words uint64) error {
	g := r.Granularity()
	if offsetWords+words > r.WordSize() || offsetWords%g != 0 || words%g != 0 {
		return errors.Wrapf(ErrRange, "offset %d words %d (size %d, granularity %d)",
			offsetWords, words, r.WordSize(), g)
	}
	return nil
}

type simulated struct {
	words    uint64
	released bool
}

var _ Reservation = &simulated{}

// Simulate returns a reservation that only does bookkeeping and never touches memory.
func Simulate(words uint64) (Reservation, error) {
	return &simulated{words: words}, nil
}

// WordSize ...
func (s *simulated) WordSize() uint64 {
	return s.words
}

// Granularity ...
func (s *simulated) Granularity() uint64 {
	return 1
}

// Commit ...
func (s *simulated) Commit(offsetWords, words uint64) error {
	if s.released {
		return ErrReleased
	}
	return checkRange(s, offsetWords, words)
}

// Uncommit ...
func (s *simulated) Uncommit(offsetWords, words uint64) error {
	if s.released {
		return ErrReleased
	}
	return checkRange(s, offsetWords, words)
}

// Bytes ...
func (s *simulated) Bytes(uint64, uint64) []byte {
	return nil
}

// Release ...
func (s *simulated) Release() error {
	if s.released {
		return ErrReleased
	}
	s.released = true
	return nil
}

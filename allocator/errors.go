package allocator

import "github.com/cockroachdb/errors"

var (
	// ErrReservationExhausted indicates that the region provider cannot hand out another root chunk.
	ErrReservationExhausted = errors.New("allocator: reservation exhausted")

	// ErrCommitLimitReached indicates that committing more memory would exceed the commit limit.
	ErrCommitLimitReached = errors.New("allocator: commit limit reached")

	// ErrBackingGranularity indicates a commit granule the reserved memory cannot be committed in.
	ErrBackingGranularity = errors.New("allocator: commit granule not a multiple of the backing granularity")
)

func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}

package allocator

import (
	"sync"

	"github.com/QuangTung97/metaspace/chunklevel"
)

// RegionProvider owns the reserved ranges chunks are carved from.
//
// The embedded Locker is the single lock guarding the chunk graph. Chunk managers
// take it for each operation; all other methods must be called with it held.
type RegionProvider interface {
	sync.Locker

	// AllocateRootChunk returns a new root chunk, or ErrReservationExhausted.
	AllocateRootChunk() (*Chunk, error)

	// Split splits the free, detached chunk c down to target, filing the splinters into fl.
	Split(target chunklevel.Level, c *Chunk, fl *FreeChunkListVector)

	// Merge merges the free, detached chunk c with its free buddies.
	// It returns the merged chunk or nil; c must not be used afterwards.
	Merge(c *Chunk, fl *FreeChunkListVector) *Chunk

	// AttemptEnlargeChunk doubles the in-use chunk c by taking over its free trailing buddy.
	AttemptEnlargeChunk(c *Chunk, fl *FreeChunkListVector) bool

	// EnsureCommitted commits c up to minWords, or returns ErrCommitLimitReached.
	EnsureCommitted(c *Chunk, minWords uint64) error

	// Uncommit releases the memory of the free chunk c.
	Uncommit(c *Chunk)

	// Purge releases every range consisting only of free root chunks and returns how many were released.
	Purge(fl *FreeChunkListVector) int

	// ReservedWords ...
	ReservedWords() uint64

	// CommittedWords ...
	CommittedWords() uint64

	// ChunkPool returns the pool holding the chunk records of this provider.
	ChunkPool() *ChunkPool

	// Verify checks the chunk graph.
	Verify() error
}

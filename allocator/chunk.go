package allocator

import (
	"fmt"
	"math"

	"github.com/QuangTung97/metaspace/chunklevel"
)

// ChunkID identifies a chunk record inside a ChunkPool.
type ChunkID uint32

const nullChunkID ChunkID = math.MaxUint32

// Address is a word address.
type Address uint64

// ChunkState ...
type ChunkState uint8

const (
	// ChunkStateFree means the chunk is filed in a free list or being operated on under the lock
	ChunkStateFree ChunkState = 0
	// ChunkStateInUse means the chunk is held by a caller
	ChunkStateInUse ChunkState = 1

	// record returned to the pool, must never be seen outside of it
	chunkStateDead ChunkState = 2
)

var chunkStateNames = map[ChunkState]string{
	ChunkStateFree:  "free",
	ChunkStateInUse: "in-use",
	chunkStateDead:  "dead",
}

// String ...
func (s ChunkState) String() string {
	return chunkStateNames[s]
}

// Chunk is a power-of-two sized, size-aligned range of a root chunk area.
type Chunk struct {
	id    ChunkID
	base  Address
	level chunklevel.Level
	state ChunkState

	committedWords uint64
	usedWords      uint64

	// free list linkage
	prev ChunkID
	next ChunkID
	list *FreeChunkListVector

	// address ordered neighbors inside the root chunk area
	prevInVS ChunkID
	nextInVS ChunkID

	node *VirtualSpaceNode
}

func (c *Chunk) reset(id ChunkID) {
	*c = Chunk{
		id:       id,
		level:    chunklevel.InvalidLevel,
		prev:     nullChunkID,
		next:     nullChunkID,
		prevInVS: nullChunkID,
		nextInVS: nullChunkID,
	}
}

// ID ...
func (c *Chunk) ID() ChunkID {
	return c.id
}

// Base returns the first word address of the chunk.
func (c *Chunk) Base() Address {
	return c.base
}

// End returns the address one past the last word of the chunk.
func (c *Chunk) End() Address {
	return c.base + Address(c.WordSize())
}

// Level ...
func (c *Chunk) Level() chunklevel.Level {
	return c.level
}

// WordSize ...
func (c *Chunk) WordSize() uint64 {
	return chunklevel.WordSizeForLevel(c.level)
}

// State ...
func (c *Chunk) State() ChunkState {
	return c.state
}

// IsFree ...
func (c *Chunk) IsFree() bool {
	return c.state == ChunkStateFree
}

// IsInUse ...
func (c *Chunk) IsInUse() bool {
	return c.state == ChunkStateInUse
}

// IsRootChunk ...
func (c *Chunk) IsRootChunk() bool {
	return c.level == chunklevel.RootChunkLevel
}

// CommittedWords returns the size of the committed prefix of the chunk.
func (c *Chunk) CommittedWords() uint64 {
	return c.committedWords
}

// IsFullyCommitted ...
func (c *Chunk) IsFullyCommitted() bool {
	return c.committedWords == c.WordSize()
}

// UsedWords returns the high water mark of words handed out by Allocate.
func (c *Chunk) UsedWords() uint64 {
	return c.usedWords
}

// FreeWords ...
func (c *Chunk) FreeWords() uint64 {
	return c.WordSize() - c.usedWords
}

// FreeBelowCommittedWords returns the words that can be allocated without committing.
func (c *Chunk) FreeBelowCommittedWords() uint64 {
	return c.committedWords - c.usedWords
}

// InList reports whether the chunk is filed in a free list.
func (c *Chunk) InList() bool {
	return c.list != nil
}

// Node returns the virtual space node the chunk lives in.
func (c *Chunk) Node() *VirtualSpaceNode {
	return c.node
}

// Allocate hands out words from the committed part of an in-use chunk.
// It fails if the committed part is too small, the caller has to commit first.
func (c *Chunk) Allocate(words uint64) (Address, bool) {
	assertf(c.IsInUse(), "allocating from chunk %s which is not in use", c)
	if words > c.FreeBelowCommittedWords() {
		return 0, false
	}
	addr := c.base + Address(c.usedWords)
	c.usedWords += words
	return addr, true
}

// Bytes returns the memory of the committed prefix, nil when the backing has no real memory.
func (c *Chunk) Bytes() []byte {
	if c.committedWords == 0 {
		return nil
	}
	return c.node.bytes(c.base, c.committedWords)
}

// String ...
func (c *Chunk) String() string {
	return fmt.Sprintf("@%#x, %s, base %#x, level %s (%d words), used %d, committed %d",
		c.id, c.state, uint64(c.base), c.level, chunklevel.MaxChunkWordSize>>uint(c.level),
		c.usedWords, c.committedWords)
}

func (c *Chunk) setInUse() {
	c.state = ChunkStateInUse
}

func (c *Chunk) setFree() {
	c.state = ChunkStateFree
}

func (c *Chunk) resetUsedWords() {
	c.usedWords = 0
}

// setCommittedWords keeps the committed aggregate of the owning free list exact.
func (c *Chunk) setCommittedWords(words uint64) {
	assertf(words <= c.WordSize(), "committed words %d larger than chunk %s", words, c)
	assertf(c.usedWords <= words, "uncommitting used words of chunk %s", c)
	if c.list != nil {
		c.list.adjustCommittedWords(c.level, c.committedWords, words)
	}
	c.committedWords = words
}

func (c *Chunk) isLeader(areaBase Address) bool {
	if c.IsRootChunk() {
		return true
	}
	parentBase, _ := computeParentAndBuddyAddr(c.base-areaBase, c.WordSize())
	return parentBase == c.base-areaBase
}

package allocator

import (
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/cockroachdb/errors"
)

// rootChunkArea is the part of a node covered by one root chunk.
// Its chunks form an address ordered chain through prevInVS / nextInVS.
type rootChunkArea struct {
	base  Address
	first ChunkID
}

// computeParentAndBuddyAddr returns, for the chunk of wordSize at offset, the offset of the
// merged parent chunk and the offset of its buddy.
func computeParentAndBuddyAddr(offset Address, wordSize uint64) (Address, Address) {
	mask := ^Address(2*wordSize - 1)
	parent := offset & mask
	if parent == offset {
		return parent, offset + Address(wordSize)
	}
	return parent, parent
}

func (a *rootChunkArea) isFree(pool *ChunkPool) bool {
	c := pool.Get(a.first)
	return c == nil || (c.IsRootChunk() && c.IsFree())
}

func linkAfter(pool *ChunkPool, c *Chunk, after *Chunk) {
	after.nextInVS = c.nextInVS
	if next := pool.Get(c.nextInVS); next != nil {
		next.prevInVS = after.id
	}
	c.nextInVS = after.id
	after.prevInVS = c.id
}

func unlink(pool *ChunkPool, c *Chunk) {
	if prev := pool.Get(c.prevInVS); prev != nil {
		prev.nextInVS = c.nextInVS
	}
	if next := pool.Get(c.nextInVS); next != nil {
		next.prevInVS = c.prevInVS
	}
	c.prevInVS = nullChunkID
	c.nextInVS = nullChunkID
}

// split halves c until it reaches the target level. c keeps its base address,
// the upper halves become free splinters filed into fl.
func (n *VirtualSpaceNode) split(target chunklevel.Level, c *Chunk, fl *FreeChunkListVector) {
	pool := n.list.pool
	for c.level < target {
		c.level++
		size := c.WordSize()

		splinter := pool.allocate()
		splinter.base = c.base + Address(size)
		splinter.level = c.level
		splinter.node = n
		linkAfter(pool, c, splinter)
		splinter.committedWords = n.mask.CommittedPrefix(splinter.base, size)

		if c.committedWords > size {
			c.committedWords = size
		}
		fl.Add(splinter)
	}
}

func (n *VirtualSpaceNode) buddyOf(c *Chunk) *Chunk {
	area := n.areaOf(c)
	_, buddyOffset := computeParentAndBuddyAddr(c.base-area.base, c.WordSize())
	var buddy *Chunk
	if c.isLeader(area.base) {
		buddy = n.list.pool.Get(c.nextInVS)
	} else {
		buddy = n.list.pool.Get(c.prevInVS)
	}
	if buddy == nil || buddy.base-area.base != buddyOffset || buddy.level != c.level {
		return nil
	}
	return buddy
}

// fold merges follower into leader and releases the follower record.
func (n *VirtualSpaceNode) fold(leader *Chunk, follower *Chunk) {
	unlink(n.list.pool, follower)
	n.list.pool.release(follower)
	leader.level--
	leader.committedWords = n.mask.CommittedPrefix(leader.base, leader.WordSize())
}

// merge folds the free, detached chunk c with its free buddies as long as possible.
// It returns the resulting chunk, or nil if nothing was merged. c may be invalid afterwards.
func (n *VirtualSpaceNode) merge(c *Chunk, fl *FreeChunkListVector) *Chunk {
	assertf(c.IsFree() && c.list == nil, "chunk %s to merge must be free and outside of any list", c)

	var result *Chunk
	for !c.IsRootChunk() {
		buddy := n.buddyOf(c)
		if buddy == nil || !buddy.IsFree() {
			break
		}
		assertf(buddy.list != nil, "free buddy %s is not in a free list", buddy)
		buddy.list.Remove(buddy)

		leader, follower := c, buddy
		if !c.isLeader(n.areaOf(c).base) {
			leader, follower = buddy, c
		}
		n.fold(leader, follower)
		c = leader
		result = c
	}
	return result
}

// attemptEnlargeChunk folds the free trailing buddy of an in-use leader chunk into it.
func (n *VirtualSpaceNode) attemptEnlargeChunk(c *Chunk, fl *FreeChunkListVector) bool {
	assertf(c.IsInUse(), "chunk %s to enlarge must be in use", c)
	if c.IsRootChunk() || !c.isLeader(n.areaOf(c).base) {
		return false
	}
	buddy := n.buddyOf(c)
	if buddy == nil || !buddy.IsFree() {
		return false
	}
	buddy.list.Remove(buddy)
	n.fold(c, buddy)
	return true
}

func (n *VirtualSpaceNode) verifyArea(a *rootChunkArea) error {
	pool := n.list.pool
	if a.first == nullChunkID {
		if a.base < n.base+Address(n.usedWords) {
			return errors.Newf("area %#x handed out but has no chunks", uint64(a.base))
		}
		return nil
	}

	expected := a.base
	prev := nullChunkID
	for c := pool.Get(a.first); c != nil; c = pool.Get(c.nextInVS) {
		if c.state == chunkStateDead {
			return errors.Newf("area %#x: dead chunk record %#x linked", uint64(a.base), c.id)
		}
		if !chunklevel.IsValidLevel(c.level) {
			return errors.Newf("area %#x: chunk %s has invalid level", uint64(a.base), c)
		}
		if c.base != expected {
			return errors.Newf("area %#x: chunk %s does not start at %#x", uint64(a.base), c, uint64(expected))
		}
		if uint64(c.base-a.base)%c.WordSize() != 0 {
			return errors.Newf("area %#x: chunk %s not aligned to its size", uint64(a.base), c)
		}
		if c.prevInVS != prev {
			return errors.Newf("area %#x: chunk %s has broken neighbor link", uint64(a.base), c)
		}
		if c.node != n {
			return errors.Newf("area %#x: chunk %s points to another node", uint64(a.base), c)
		}
		if c.IsFree() && c.list == nil {
			return errors.Newf("area %#x: free chunk %s is in no list", uint64(a.base), c)
		}
		if c.IsInUse() && c.list != nil {
			return errors.Newf("area %#x: in-use chunk %s is in a list", uint64(a.base), c)
		}
		if c.committedWords > n.mask.CommittedPrefix(c.base, c.WordSize()) {
			return errors.Newf("area %#x: chunk %s claims uncommitted memory", uint64(a.base), c)
		}
		// the holder of an in-use chunk bumps usedWords without the lock
		if c.IsFree() && c.usedWords != 0 {
			return errors.Newf("area %#x: free chunk %s has used words", uint64(a.base), c)
		}
		expected = c.End()
		prev = c.id
	}
	if expected != a.base+Address(chunklevel.MaxChunkWordSize) {
		return errors.Newf("area %#x: chunks end at %#x", uint64(a.base), uint64(expected))
	}
	return nil
}

package allocator

import (
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/QuangTung97/metaspace/internal/vmem"
	"github.com/cockroachdb/errors"
)

// VirtualSpaceNode is one reserved range, handed out root chunk by root chunk.
type VirtualSpaceNode struct {
	id        int
	list      *VirtualSpaceList
	base      Address
	wordSize  uint64
	usedWords uint64

	rsv   vmem.Reservation
	mask  *CommitMask
	areas []rootChunkArea
}

func newVirtualSpaceNode(list *VirtualSpaceList, id int, base Address, wordSize uint64) (*VirtualSpaceNode, error) {
	rsv, err := list.reserver(wordSize)
	if err != nil {
		return nil, errors.Wrapf(err, "reserve node %d of %d words", id, wordSize)
	}

	numAreas := wordSize / chunklevel.MaxChunkWordSize
	areas := make([]rootChunkArea, numAreas)
	for i := range areas {
		areas[i] = rootChunkArea{
			base:  base + Address(uint64(i)*chunklevel.MaxChunkWordSize),
			first: nullChunkID,
		}
	}

	return &VirtualSpaceNode{
		id:       id,
		list:     list,
		base:     base,
		wordSize: wordSize,
		rsv:      rsv,
		mask:     NewCommitMask(base, wordSize, list.granuleWords),
		areas:    areas,
	}, nil
}

// ID ...
func (n *VirtualSpaceNode) ID() int {
	return n.id
}

// Base ...
func (n *VirtualSpaceNode) Base() Address {
	return n.base
}

// WordSize returns the reserved size.
func (n *VirtualSpaceNode) WordSize() uint64 {
	return n.wordSize
}

// UsedWords returns the size of the root chunks handed out so far.
func (n *VirtualSpaceNode) UsedWords() uint64 {
	return n.usedWords
}

// CommittedWords ...
func (n *VirtualSpaceNode) CommittedWords() uint64 {
	return n.mask.GetCommittedSize()
}

// CommitMask ...
func (n *VirtualSpaceNode) CommitMask() *CommitMask {
	return n.mask
}

// IsFull ...
func (n *VirtualSpaceNode) IsFull() bool {
	return n.usedWords == n.wordSize
}

func (n *VirtualSpaceNode) areaOf(c *Chunk) *rootChunkArea {
	return &n.areas[uint64(c.base-n.base)/chunklevel.MaxChunkWordSize]
}

func (n *VirtualSpaceNode) allocateRootChunk() *Chunk {
	if n.IsFull() {
		return nil
	}
	area := &n.areas[n.usedWords/chunklevel.MaxChunkWordSize]

	c := n.list.pool.allocate()
	c.base = area.base
	c.level = chunklevel.RootChunkLevel
	c.node = n
	c.committedWords = n.mask.CommittedPrefix(c.base, chunklevel.MaxChunkWordSize)

	area.first = c.id
	n.usedWords += chunklevel.MaxChunkWordSize
	return c
}

func (n *VirtualSpaceNode) offsetOf(addr Address) uint64 {
	return uint64(addr - n.base)
}

// commitRange commits the uncommitted granules of a granule aligned range.
func (n *VirtualSpaceNode) commitRange(start Address, words uint64) error {
	toCommit := words - n.mask.GetCommittedSizeInRange(start, words)
	if toCommit == 0 {
		return nil
	}
	if !n.list.limiter.tryIncreaseCommitted(toCommit) {
		return errors.Wrapf(ErrCommitLimitReached, "committing %d words (limit %d words, committed %d words)",
			toCommit, n.list.limiter.LimitWords(), n.list.limiter.CommittedWords())
	}

	g := n.mask.WordsPerBit()
	var committed uint64
	var err error
	for addr := start; addr < start+Address(words); addr += Address(g) {
		if n.mask.IsCommittedAddress(addr) {
			continue
		}
		if err = n.rsv.Commit(n.offsetOf(addr), g); err != nil {
			break
		}
		committed += n.mask.MarkRangeAsCommitted(addr, g)
	}

	n.list.committedWords += committed
	if committed < toCommit {
		n.list.limiter.decreaseCommitted(toCommit - committed)
	}
	return err
}

// uncommitRange uncommits the committed granules of a granule aligned range.
func (n *VirtualSpaceNode) uncommitRange(start Address, words uint64) error {
	g := n.mask.WordsPerBit()
	var uncommitted uint64
	var err error
	for addr := start; addr < start+Address(words); addr += Address(g) {
		if !n.mask.IsCommittedAddress(addr) {
			continue
		}
		if err = n.rsv.Uncommit(n.offsetOf(addr), g); err != nil {
			break
		}
		uncommitted += n.mask.MarkRangeAsUncommitted(addr, g)
	}

	n.list.committedWords -= uncommitted
	if uncommitted > 0 {
		n.list.limiter.decreaseCommitted(uncommitted)
	}
	return err
}

// ensureCommitted commits c up to at least minWords. Chunks smaller than a granule
// commit their whole granule.
func (n *VirtualSpaceNode) ensureCommitted(c *Chunk, minWords uint64) error {
	if c.committedWords >= minWords {
		return nil
	}
	size := c.WordSize()
	assertf(minWords <= size, "cannot commit %d words in chunk %s", minWords, c)

	g := n.mask.WordsPerBit()
	start := c.base
	words := (minWords + g - 1) / g * g
	if size < g {
		start = n.base + Address(n.offsetOf(c.base)/g*g)
		words = g
	}

	if err := n.commitRange(start, words); err != nil {
		return err
	}
	c.setCommittedWords(n.mask.CommittedPrefix(c.base, size))
	return nil
}

// uncommit releases the memory of a free chunk of at least one granule.
func (n *VirtualSpaceNode) uncommit(c *Chunk) error {
	assertf(c.IsFree(), "uncommitting chunk %s which is not free", c)
	if c.WordSize() < n.mask.WordsPerBit() {
		// would take memory from neighbors sharing the granule
		return nil
	}
	err := n.uncommitRange(c.base, c.WordSize())
	c.setCommittedWords(n.mask.CommittedPrefix(c.base, c.WordSize()))
	return err
}

func (n *VirtualSpaceNode) bytes(addr Address, words uint64) []byte {
	return n.rsv.Bytes(n.offsetOf(addr), words)
}

// canPurge reports whether every handed out root chunk area is a single free root chunk.
func (n *VirtualSpaceNode) canPurge() bool {
	for i := range n.areas {
		if !n.areas[i].isFree(n.list.pool) {
			return false
		}
	}
	return true
}

// purge takes the root chunks out of their free lists and gives the whole range back.
func (n *VirtualSpaceNode) purge() error {
	pool := n.list.pool
	for i := range n.areas {
		a := &n.areas[i]
		c := pool.Get(a.first)
		if c == nil {
			continue
		}
		if c.list != nil {
			c.list.Remove(c)
		}
		pool.release(c)
		a.first = nullChunkID
	}

	committed := n.mask.GetCommittedSize()
	n.mask.MarkRangeAsUncommitted(n.base, n.wordSize)
	n.list.committedWords -= committed
	if committed > 0 {
		n.list.limiter.decreaseCommitted(committed)
	}
	return n.rsv.Release()
}

// Verify ...
func (n *VirtualSpaceNode) Verify() error {
	if n.usedWords > n.wordSize || n.usedWords%chunklevel.MaxChunkWordSize != 0 {
		return errors.Newf("node %d: bad used words %d", n.id, n.usedWords)
	}
	for i := range n.areas {
		if err := n.verifyArea(&n.areas[i]); err != nil {
			return errors.Wrapf(err, "node %d", n.id)
		}
	}
	return nil
}

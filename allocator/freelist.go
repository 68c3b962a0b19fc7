package allocator

import (
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/cockroachdb/errors"
)

type freeChunkList struct {
	first ChunkID
	last  ChunkID

	numChunks      int
	committedWords uint64
}

// FreeChunkListVector keeps one list of free chunks per level.
// Chunks with committed memory are kept at the front of a list, fully uncommitted ones at the back.
type FreeChunkListVector struct {
	pool  *ChunkPool
	lists [chunklevel.NumLevels]freeChunkList
}

// NewFreeChunkListVector ...
func NewFreeChunkListVector(pool *ChunkPool) *FreeChunkListVector {
	v := &FreeChunkListVector{pool: pool}
	for i := range v.lists {
		v.lists[i].first = nullChunkID
		v.lists[i].last = nullChunkID
	}
	return v
}

func (v *FreeChunkListVector) listForLevel(l chunklevel.Level) *freeChunkList {
	chunklevel.CheckValidLevel(l)
	return &v.lists[l]
}

func (v *FreeChunkListVector) addFront(list *freeChunkList, c *Chunk) {
	if list.first != nullChunkID {
		v.pool.Get(list.first).prev = c.id
	} else {
		list.last = c.id
	}
	c.next = list.first
	c.prev = nullChunkID
	list.first = c.id
}

func (v *FreeChunkListVector) addBack(list *freeChunkList, c *Chunk) {
	if list.last != nullChunkID {
		v.pool.Get(list.last).next = c.id
	} else {
		list.first = c.id
	}
	c.prev = list.last
	c.next = nullChunkID
	list.last = c.id
}

// Add files a free chunk.
func (v *FreeChunkListVector) Add(c *Chunk) {
	assertf(c.IsFree(), "adding chunk %s which is not free", c)
	assertf(c.list == nil, "adding chunk %s which is already in a list", c)

	list := v.listForLevel(c.level)
	if c.committedWords == 0 {
		v.addBack(list, c)
	} else {
		v.addFront(list, c)
	}
	c.list = v
	list.numChunks++
	list.committedWords += c.committedWords
}

// Remove takes a chunk out of this vector.
func (v *FreeChunkListVector) Remove(c *Chunk) {
	assertf(c.list == v, "removing chunk %s which is not in this list", c)

	list := v.listForLevel(c.level)
	if c.next != nullChunkID {
		v.pool.Get(c.next).prev = c.prev
	} else {
		list.last = c.prev
	}
	if c.prev != nullChunkID {
		v.pool.Get(c.prev).next = c.next
	} else {
		list.first = c.next
	}

	c.prev = nullChunkID
	c.next = nullChunkID
	c.list = nil
	list.numChunks--
	list.committedWords -= c.committedWords
}

// RemoveFirst takes the first chunk at level l, nil if there is none.
func (v *FreeChunkListVector) RemoveFirst(l chunklevel.Level) *Chunk {
	c := v.FirstAtLevel(l)
	if c != nil {
		v.Remove(c)
	}
	return c
}

// FirstAtLevel ...
func (v *FreeChunkListVector) FirstAtLevel(l chunklevel.Level) *Chunk {
	return v.pool.Get(v.listForLevel(l).first)
}

// Next returns the chunk following c in its list.
func (v *FreeChunkListVector) Next(c *Chunk) *Chunk {
	return v.pool.Get(c.next)
}

func (v *FreeChunkListVector) firstMinimalCommitted(list *freeChunkList, minCommittedWords uint64) *Chunk {
	// uncommitted chunks are at the back, stop at the first one
	c := v.pool.Get(list.first)
	for c != nil && c.committedWords < minCommittedWords && c.committedWords > 0 {
		c = v.pool.Get(c.next)
	}
	if c != nil && c.committedWords >= minCommittedWords {
		return c
	}
	return nil
}

// SearchChunkAscending looks for a chunk with at least minCommittedWords committed,
// from level `from` to level `to` (getting smaller). The chunk found is removed.
func (v *FreeChunkListVector) SearchChunkAscending(from, to chunklevel.Level, minCommittedWords uint64) *Chunk {
	assertf(minCommittedWords <= chunklevel.WordSizeForLevel(to),
		"min committed words %d do not fit level %s", minCommittedWords, to)

	for l := from; l <= to; l++ {
		c := v.firstMinimalCommitted(v.listForLevel(l), minCommittedWords)
		if c != nil {
			v.Remove(c)
			return c
		}
	}
	return nil
}

// SearchChunkDescending looks for a chunk with at least minCommittedWords committed,
// from level `from` up to the root level (getting larger). The chunk found is removed.
func (v *FreeChunkListVector) SearchChunkDescending(from chunklevel.Level, minCommittedWords uint64) *Chunk {
	for l := from; l >= chunklevel.LowestChunkLevel; l-- {
		c := v.firstMinimalCommitted(v.listForLevel(l), minCommittedWords)
		if c != nil {
			v.Remove(c)
			return c
		}
	}
	return nil
}

// Contains ...
func (v *FreeChunkListVector) Contains(c *Chunk) bool {
	return c.list == v
}

func (v *FreeChunkListVector) adjustCommittedWords(l chunklevel.Level, before, after uint64) {
	list := v.listForLevel(l)
	list.committedWords += after
	list.committedWords -= before
}

// NumChunksAtLevel ...
func (v *FreeChunkListVector) NumChunksAtLevel(l chunklevel.Level) int {
	return v.listForLevel(l).numChunks
}

// CommittedWordsAtLevel ...
func (v *FreeChunkListVector) CommittedWordsAtLevel(l chunklevel.Level) uint64 {
	return v.listForLevel(l).committedWords
}

// NumChunks ...
func (v *FreeChunkListVector) NumChunks() int {
	n := 0
	for i := range v.lists {
		n += v.lists[i].numChunks
	}
	return n
}

// WordSize returns the total size of all free chunks.
func (v *FreeChunkListVector) WordSize() uint64 {
	var words uint64
	for i := range v.lists {
		words += uint64(v.lists[i].numChunks) * chunklevel.WordSizeForLevel(chunklevel.Level(i))
	}
	return words
}

// CommittedWords ...
func (v *FreeChunkListVector) CommittedWords() uint64 {
	var words uint64
	for i := range v.lists {
		words += v.lists[i].committedWords
	}
	return words
}

// ForEach calls fn for every free chunk from the root level to the highest level, stopping when fn returns false.
func (v *FreeChunkListVector) ForEach(fn func(c *Chunk) bool) {
	for i := range v.lists {
		for c := v.pool.Get(v.lists[i].first); c != nil; c = v.pool.Get(c.next) {
			if !fn(c) {
				return
			}
		}
	}
}

func (v *FreeChunkListVector) contentOfList(l chunklevel.Level) []Address {
	var result []Address
	for c := v.FirstAtLevel(l); c != nil; c = v.Next(c) {
		result = append(result, c.base)
	}
	return result
}

// Verify walks all lists and checks linkage and aggregates.
func (v *FreeChunkListVector) Verify() error {
	for i := range v.lists {
		l := chunklevel.Level(i)
		list := &v.lists[i]

		num := 0
		var committed uint64
		prev := nullChunkID
		for id := list.first; id != nullChunkID; {
			c := v.pool.Get(id)
			if c.state != ChunkStateFree {
				return errors.Newf("level %s: chunk %s in free list is not free", l, c)
			}
			if c.list != v {
				return errors.Newf("level %s: chunk %s does not point back to its list", l, c)
			}
			if c.level != l {
				return errors.Newf("level %s: chunk %s filed at wrong level", l, c)
			}
			if c.prev != prev {
				return errors.Newf("level %s: chunk %s has broken back link", l, c)
			}
			if c.committedWords > c.WordSize() {
				return errors.Newf("level %s: chunk %s committed beyond its size", l, c)
			}
			if c.usedWords != 0 {
				return errors.Newf("level %s: free chunk %s has used words", l, c)
			}
			num++
			committed += c.committedWords
			prev = id
			id = c.next
		}
		if prev != list.last {
			return errors.Newf("level %s: last pointer mismatch", l)
		}
		if num != list.numChunks {
			return errors.Newf("level %s: counted %d chunks, list says %d", l, num, list.numChunks)
		}
		if committed != list.committedWords {
			return errors.Newf("level %s: counted %d committed words, list says %d", l, committed, list.committedWords)
		}
	}
	return nil
}

package allocator

const chunkSlabSize = 512

// ChunkPool owns every chunk record of a region provider.
// Records live in fixed size slabs, so a *Chunk stays valid until the record is released.
type ChunkPool struct {
	slabs   []*[chunkSlabSize]Chunk
	top     ChunkID
	freeIDs []ChunkID
	numLive int
}

// NewChunkPool ...
func NewChunkPool() *ChunkPool {
	return &ChunkPool{}
}

// Get returns the record for id, nil for the null id.
func (p *ChunkPool) Get(id ChunkID) *Chunk {
	if id == nullChunkID {
		return nil
	}
	return &p.slabs[id/chunkSlabSize][id%chunkSlabSize]
}

func (p *ChunkPool) allocate() *Chunk {
	var id ChunkID
	if n := len(p.freeIDs); n > 0 {
		id = p.freeIDs[n-1]
		p.freeIDs = p.freeIDs[:n-1]
	} else {
		if int(p.top/chunkSlabSize) == len(p.slabs) {
			p.slabs = append(p.slabs, new([chunkSlabSize]Chunk))
		}
		id = p.top
		p.top++
	}
	c := p.Get(id)
	c.reset(id)
	c.state = ChunkStateFree
	p.numLive++
	return c
}

func (p *ChunkPool) release(c *Chunk) {
	assertf(c.state != chunkStateDead, "double release of chunk record %#x", c.id)
	assertf(c.list == nil, "releasing chunk record %s still in a free list", c)
	id := c.id
	c.reset(id)
	c.state = chunkStateDead
	p.freeIDs = append(p.freeIDs, id)
	p.numLive--
}

// NumLive returns the number of records in use.
func (p *ChunkPool) NumLive() int {
	return p.numLive
}

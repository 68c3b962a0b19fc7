package arena

import (
	"io"
	"log/slog"

	"github.com/QuangTung97/metaspace/allocator"
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/cockroachdb/errors"
)

// ErrBlockTooLarge is returned for blocks which do not fit a chunk of the arena level.
var ErrBlockTooLarge = errors.New("block larger than arena chunk")

// ChunkSource ...
type ChunkSource interface {
	GetChunk(preferredLevel, maxLevel chunklevel.Level, minCommittedWords uint64) (*allocator.Chunk, error)
	ReturnChunk(c *allocator.Chunk)
	AttemptEnlargeChunk(c *allocator.Chunk) bool
	EnsureCommitted(c *allocator.Chunk, words uint64) error
}

var _ ChunkSource = &allocator.ChunkManager{}

// Config ...
type Config struct {
	Name  string           `yaml:"name"`
	Level chunklevel.Level `yaml:"level"`

	// Enlarge grows the current chunk in place before taking a new one
	Enlarge bool `yaml:"enlarge"`

	Logger *slog.Logger `yaml:"-"`
}

// Validate ...
func (c Config) Validate() error {
	if !chunklevel.IsValidLevel(c.Level) {
		return errors.Newf("arena %q: invalid chunk level %d", c.Name, int8(c.Level))
	}
	return nil
}

// Arena hands out blocks of words by bumping a pointer through chunks of one level.
// Deallocated blocks are kept by size and handed out again.
// An Arena is not safe for concurrent use.
type Arena struct {
	name    string
	source  ChunkSource
	level   chunklevel.Level
	enlarge bool
	logger  *slog.Logger

	chunks     []*allocator.Chunk
	freeBlocks map[uint64][]allocator.Address

	usedWords   uint64
	freedWords  uint64
	wastedWords uint64
}

// New ...
func New(source ChunkSource, conf Config) (*Arena, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	logger := conf.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Arena{
		name:       conf.Name,
		source:     source,
		level:      conf.Level,
		enlarge:    conf.Enlarge,
		logger:     logger.With(slog.String("arena", conf.Name)),
		freeBlocks: map[uint64][]allocator.Address{},
	}, nil
}

func (a *Arena) current() *allocator.Chunk {
	if len(a.chunks) == 0 {
		return nil
	}
	return a.chunks[len(a.chunks)-1]
}

// allocateFromChunk commits c as needed and bumps its pointer. ok is false if c is too small.
func (a *Arena) allocateFromChunk(c *allocator.Chunk, words uint64) (allocator.Address, bool, error) {
	if c.FreeWords() < words {
		return 0, false, nil
	}
	if c.FreeBelowCommittedWords() < words {
		if err := a.source.EnsureCommitted(c, c.UsedWords()+words); err != nil {
			return 0, false, err
		}
	}
	addr, ok := c.Allocate(words)
	return addr, ok, nil
}

// Allocate returns the address of a block of words.
func (a *Arena) Allocate(words uint64) (allocator.Address, error) {
	if words == 0 || words > chunklevel.WordSizeForLevel(a.level) {
		return 0, errors.Wrapf(ErrBlockTooLarge, "arena %s: allocate %d words at %s", a.name, words, a.level)
	}

	if blocks := a.freeBlocks[words]; len(blocks) > 0 {
		addr := blocks[len(blocks)-1]
		a.freeBlocks[words] = blocks[:len(blocks)-1]
		a.freedWords -= words
		a.usedWords += words
		return addr, nil
	}

	if c := a.current(); c != nil {
		addr, ok, err := a.allocateFromChunk(c, words)
		if err != nil {
			return 0, err
		}
		if !ok && a.enlarge && !c.IsRootChunk() && a.source.AttemptEnlargeChunk(c) {
			a.logger.Debug("enlarged current chunk", slog.String("chunk", c.String()))
			addr, ok, err = a.allocateFromChunk(c, words)
			if err != nil {
				return 0, err
			}
		}
		if ok {
			a.usedWords += words
			return addr, nil
		}
		a.wastedWords += c.FreeWords()
	}

	c, err := a.source.GetChunk(a.level, a.level, words)
	if err != nil {
		return 0, errors.Wrapf(err, "arena %s: new chunk for %d words", a.name, words)
	}
	a.chunks = append(a.chunks, c)
	a.logger.Debug("took new chunk", slog.String("chunk", c.String()))

	addr, ok := c.Allocate(words)
	if !ok {
		panic(errors.AssertionFailedf("arena %s: fresh chunk %s cannot hold %d words", a.name, c, words))
	}
	a.usedWords += words
	return addr, nil
}

// Deallocate keeps the block for later allocations of the same size.
func (a *Arena) Deallocate(addr allocator.Address, words uint64) {
	if !a.owns(addr, words) {
		panic(errors.AssertionFailedf("arena %s: block %#x of %d words not owned", a.name, uint64(addr), words))
	}
	a.freeBlocks[words] = append(a.freeBlocks[words], addr)
	a.usedWords -= words
	a.freedWords += words
}

func (a *Arena) chunkOf(addr allocator.Address) *allocator.Chunk {
	for _, c := range a.chunks {
		if addr >= c.Base() && addr < c.End() {
			return c
		}
	}
	return nil
}

func (a *Arena) owns(addr allocator.Address, words uint64) bool {
	c := a.chunkOf(addr)
	return c != nil && addr+allocator.Address(words) <= c.Base()+allocator.Address(c.UsedWords())
}

// Bytes returns the memory of an allocated block, nil when the backing has no real memory.
func (a *Arena) Bytes(addr allocator.Address, words uint64) []byte {
	if !a.owns(addr, words) {
		return nil
	}
	data := a.chunkOf(addr).Bytes()
	if data == nil {
		return nil
	}
	offset := uint64(addr-a.chunkOf(addr).Base()) * chunklevel.BytesPerWord
	return data[offset : offset+words*chunklevel.BytesPerWord]
}

// Release gives all chunks back. The arena can be used again afterwards.
func (a *Arena) Release() {
	a.logger.Debug("releasing chunks", slog.Int("chunks", len(a.chunks)))
	for _, c := range a.chunks {
		a.source.ReturnChunk(c)
	}
	a.chunks = nil
	a.freeBlocks = map[uint64][]allocator.Address{}
	a.usedWords = 0
	a.freedWords = 0
	a.wastedWords = 0
}

// Name ...
func (a *Arena) Name() string {
	return a.name
}

// Level ...
func (a *Arena) Level() chunklevel.Level {
	return a.level
}

// NumChunks ...
func (a *Arena) NumChunks() int {
	return len(a.chunks)
}

// Stats ...
type Stats struct {
	NumChunks      int
	ReservedWords  uint64
	CommittedWords uint64
	UsedWords      uint64
	FreedWords     uint64
	WastedWords    uint64
}

// Stats ...
func (a *Arena) Stats() Stats {
	s := Stats{
		NumChunks:   len(a.chunks),
		UsedWords:   a.usedWords,
		FreedWords:  a.freedWords,
		WastedWords: a.wastedWords,
	}
	for _, c := range a.chunks {
		s.ReservedWords += c.WordSize()
		s.CommittedWords += c.CommittedWords()
	}
	return s
}

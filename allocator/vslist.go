package allocator

import (
	"io"
	"log/slog"
	"sync"

	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/QuangTung97/metaspace/internal/vmem"
	"github.com/cockroachdb/errors"
)

// ListConfig ...
type ListConfig struct {
	Name string `yaml:"name"`

	// NodeWordSize is the size of every reserved range, a multiple of the root chunk size
	NodeWordSize uint64 `yaml:"node_word_size"`

	// Expandable lists reserve new nodes on demand, others have exactly one node
	Expandable bool `yaml:"expandable"`

	// MaxReservedWords limits the reservation of an expandable list, zero means unlimited
	MaxReservedWords uint64 `yaml:"max_reserved_words"`

	CommitGranuleWords uint64 `yaml:"commit_granule_words"`

	// CommitLimitWords is used when no Limiter is given, zero means unlimited
	CommitLimitWords uint64 `yaml:"commit_limit_words"`

	Limiter  *CommitLimiter `yaml:"-"`
	Reserver vmem.Reserver  `yaml:"-"`
	Logger   *slog.Logger   `yaml:"-"`
}

// Validate ...
func (c ListConfig) Validate() error {
	if c.NodeWordSize == 0 || c.NodeWordSize%chunklevel.MaxChunkWordSize != 0 {
		return errors.Newf("node word size %d must be a positive multiple of %d",
			c.NodeWordSize, chunklevel.MaxChunkWordSize)
	}
	if c.MaxReservedWords != 0 && c.MaxReservedWords < c.NodeWordSize {
		return errors.Newf("max reserved words %d smaller than node word size %d",
			c.MaxReservedWords, c.NodeWordSize)
	}
	return validateGranule(c.CommitGranuleWords)
}

func validateGranule(words uint64) error {
	if words < chunklevel.MinChunkWordSize || words > chunklevel.MaxChunkWordSize || words&(words-1) != 0 {
		return errors.Newf("commit granule %d words must be a power of two in [%d, %d]",
			words, chunklevel.MinChunkWordSize, chunklevel.MaxChunkWordSize)
	}
	return nil
}

// VirtualSpaceList is the default RegionProvider: a list of reserved nodes.
type VirtualSpaceList struct {
	mu sync.Mutex

	name         string
	nodeWordSize uint64
	expandable   bool
	maxReserved  uint64
	granuleWords uint64

	reserver vmem.Reserver
	limiter  *CommitLimiter
	logger   *slog.Logger
	pool     *ChunkPool

	nodes    []*VirtualSpaceNode
	nextBase Address
	nextID   int

	reservedWords  uint64
	committedWords uint64
}

var _ RegionProvider = &VirtualSpaceList{}

// NewVirtualSpaceList creates a list. A list which is not expandable reserves its only node right away.
func NewVirtualSpaceList(conf ListConfig) (*VirtualSpaceList, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrapf(err, "virtual space list %q", conf.Name)
	}

	l := &VirtualSpaceList{
		name:         conf.Name,
		nodeWordSize: conf.NodeWordSize,
		expandable:   conf.Expandable,
		maxReserved:  conf.MaxReservedWords,
		granuleWords: conf.CommitGranuleWords,
		reserver:     conf.Reserver,
		limiter:      conf.Limiter,
		logger:       conf.Logger,
		pool:         NewChunkPool(),
		// never hand out address zero
		nextBase: Address(chunklevel.MaxChunkWordSize),
	}
	if l.reserver == nil {
		l.reserver = vmem.Simulate
	}
	if l.limiter == nil {
		l.limiter = NewCommitLimiter(conf.CommitLimitWords)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if !l.expandable {
		if _, err := l.createNewNode(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Lock ...
func (l *VirtualSpaceList) Lock() {
	l.mu.Lock()
}

// Unlock ...
func (l *VirtualSpaceList) Unlock() {
	l.mu.Unlock()
}

// Name ...
func (l *VirtualSpaceList) Name() string {
	return l.name
}

// ChunkPool ...
func (l *VirtualSpaceList) ChunkPool() *ChunkPool {
	return l.pool
}

// Limiter ...
func (l *VirtualSpaceList) Limiter() *CommitLimiter {
	return l.limiter
}

// CommitGranuleWords ...
func (l *VirtualSpaceList) CommitGranuleWords() uint64 {
	return l.granuleWords
}

// Nodes returns a copy of the node list.
func (l *VirtualSpaceList) Nodes() []*VirtualSpaceNode {
	return append([]*VirtualSpaceNode(nil), l.nodes...)
}

func (l *VirtualSpaceList) createNewNode() (*VirtualSpaceNode, error) {
	n, err := newVirtualSpaceNode(l, l.nextID, l.nextBase, l.nodeWordSize)
	if err != nil {
		return nil, err
	}
	if g := n.rsv.Granularity(); l.granuleWords%g != 0 {
		_ = n.rsv.Release()
		return nil, errors.Wrapf(ErrBackingGranularity, "commit granule %d words, backing granularity %d words",
			l.granuleWords, g)
	}

	l.nextID++
	l.nextBase += Address(l.nodeWordSize)
	l.nodes = append(l.nodes, n)
	l.reservedWords += n.wordSize

	l.logger.Debug("reserved new node",
		slog.String("list", l.name), slog.Int("node", n.id),
		slog.Uint64("base", uint64(n.base)), slog.Uint64("words", n.wordSize))
	return n, nil
}

func (l *VirtualSpaceList) canExpand() bool {
	if !l.expandable {
		return false
	}
	return l.maxReserved == 0 || l.reservedWords+l.nodeWordSize <= l.maxReserved
}

// AllocateRootChunk ...
func (l *VirtualSpaceList) AllocateRootChunk() (*Chunk, error) {
	var current *VirtualSpaceNode
	if len(l.nodes) > 0 {
		current = l.nodes[len(l.nodes)-1]
	}

	if current == nil || current.IsFull() {
		if !l.canExpand() {
			return nil, errors.Wrapf(ErrReservationExhausted, "list %s: %d words reserved", l.name, l.reservedWords)
		}
		n, err := l.createNewNode()
		if errors.Is(err, ErrBackingGranularity) {
			return nil, errors.Wrapf(err, "list %s", l.name)
		}
		if err != nil {
			return nil, errors.Wrapf(ErrReservationExhausted, "list %s: %v", l.name, err)
		}
		current = n
	}

	c := current.allocateRootChunk()
	assertf(c != nil, "node %d not full but no root chunk", current.id)
	return c, nil
}

// Split ...
func (l *VirtualSpaceList) Split(target chunklevel.Level, c *Chunk, fl *FreeChunkListVector) {
	assertf(c.IsFree(), "chunk to be split must be free: %s", c)
	assertf(c.list == nil, "chunk to be split must be outside of any list: %s", c)
	assertf(c.level < target, "target level %s must be higher than level of %s", target, c)
	chunklevel.CheckValidLevel(target)

	c.node.split(target, c, fl)
}

// Merge ...
func (l *VirtualSpaceList) Merge(c *Chunk, fl *FreeChunkListVector) *Chunk {
	return c.node.merge(c, fl)
}

// AttemptEnlargeChunk ...
func (l *VirtualSpaceList) AttemptEnlargeChunk(c *Chunk, fl *FreeChunkListVector) bool {
	return c.node.attemptEnlargeChunk(c, fl)
}

// EnsureCommitted ...
func (l *VirtualSpaceList) EnsureCommitted(c *Chunk, minWords uint64) error {
	return c.node.ensureCommitted(c, minWords)
}

// Uncommit ...
func (l *VirtualSpaceList) Uncommit(c *Chunk) {
	if err := c.node.uncommit(c); err != nil {
		l.logger.Warn("uncommit failed",
			slog.String("list", l.name), slog.String("chunk", c.String()), slog.Any("error", err))
	}
}

// Purge ...
func (l *VirtualSpaceList) Purge(fl *FreeChunkListVector) int {
	if !l.expandable {
		// a fixed list could not reserve its node again
		return 0
	}

	purged := 0
	kept := l.nodes[:0]
	for _, n := range l.nodes {
		if !n.canPurge() {
			kept = append(kept, n)
			continue
		}
		if err := n.purge(); err != nil {
			l.logger.Warn("releasing node failed",
				slog.String("list", l.name), slog.Int("node", n.id), slog.Any("error", err))
		}
		l.reservedWords -= n.wordSize
		purged++
		l.logger.Debug("purged node", slog.String("list", l.name), slog.Int("node", n.id))
	}
	for i := len(kept); i < len(l.nodes); i++ {
		l.nodes[i] = nil
	}
	l.nodes = kept
	return purged
}

// ReservedWords ...
func (l *VirtualSpaceList) ReservedWords() uint64 {
	return l.reservedWords
}

// CommittedWords ...
func (l *VirtualSpaceList) CommittedWords() uint64 {
	return l.committedWords
}

// Verify ...
func (l *VirtualSpaceList) Verify() error {
	var reserved, committed uint64
	for _, n := range l.nodes {
		if err := n.Verify(); err != nil {
			return errors.Wrapf(err, "list %s", l.name)
		}
		reserved += n.wordSize
		committed += n.CommittedWords()
	}
	if reserved != l.reservedWords {
		return errors.Newf("list %s: reserved %d words, counted %d", l.name, l.reservedWords, reserved)
	}
	if committed != l.committedWords {
		return errors.Newf("list %s: committed %d words, counted %d", l.name, l.committedWords, committed)
	}
	return nil
}

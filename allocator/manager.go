package allocator

import (
	"log/slog"

	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/cockroachdb/errors"
)

// InternalStats counts chunk manager events.
type InternalStats struct {
	ChunksTaken    uint64
	ChunksReturned uint64
	ChunkSplits    uint64
	ChunkMerges    uint64
	ChunksEnlarged uint64
	Purges         uint64
	FailedGets     uint64
}

// ChunkManager hands out chunks from its free lists and from a region provider.
type ChunkManager struct {
	name     string
	provider RegionProvider
	chunks   *FreeChunkListVector
	settings Settings
	logger   *slog.Logger
	stats    InternalStats
}

// NewChunkManager ...
func NewChunkManager(name string, provider RegionProvider, settings Settings) (*ChunkManager, error) {
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrapf(err, "chunk manager %q", name)
	}
	return &ChunkManager{
		name:     name,
		provider: provider,
		chunks:   NewFreeChunkListVector(provider.ChunkPool()),
		settings: settings,
		logger:   settings.logger().With(slog.String("manager", name)),
	}, nil
}

// Name ...
func (m *ChunkManager) Name() string {
	return m.name
}

// Provider ...
func (m *ChunkManager) Provider() RegionProvider {
	return m.provider
}

// Logger returns the logger of the manager, tagged with its name.
func (m *ChunkManager) Logger() *slog.Logger {
	return m.logger
}

func (m *ChunkManager) verifyIfEnabled() {
	if !m.settings.VerifyOperations {
		return
	}
	if err := m.verifyLocked(); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "chunk manager %s", m.name))
	}
}

// splitChunkAndAddSplinters splits the free, detached chunk c down to target.
// c keeps its address and its committed prefix up to its new size.
func (m *ChunkManager) splitChunkAndAddSplinters(c *Chunk, target chunklevel.Level) {
	m.logger.Debug("splitting chunk", slog.String("chunk", c.String()), slog.Any("target", target))

	committedBefore := c.committedWords
	m.provider.Split(target, c, m.chunks)

	assertf(c.level == target, "split of %s did not reach %s", c, target)
	if committedBefore > c.WordSize() {
		assertf(c.IsFullyCommitted(), "split chunk %s lost committed words", c)
	} else {
		assertf(c.committedWords == committedBefore, "split chunk %s changed committed words", c)
	}
	m.stats.ChunkSplits++
}

// GetChunk returns an in-use chunk of preferredLevel whose first minCommittedWords words are committed.
//
// Free chunks between preferredLevel and maxLevel which are committed enough come first,
// then larger committed chunks, then any free chunk, finally a new root chunk. It fails with
// ErrReservationExhausted if no root chunk can be had and with ErrCommitLimitReached if the
// memory cannot be committed.
func (m *ChunkManager) GetChunk(preferredLevel, maxLevel chunklevel.Level, minCommittedWords uint64) (*Chunk, error) {
	chunklevel.CheckValidLevel(preferredLevel)
	chunklevel.CheckValidLevel(maxLevel)
	assertf(preferredLevel <= maxLevel, "preferred level %s larger than max level %s", preferredLevel, maxLevel)
	assertf(chunklevel.LevelFittingWordSize(minCommittedWords) >= maxLevel,
		"min committed words %d do not fit max level %s", minCommittedWords, maxLevel)

	m.provider.Lock()
	defer m.provider.Unlock()

	m.logger.Debug("requested chunk",
		slog.Any("preferred", preferredLevel), slog.Any("max", maxLevel), slog.Uint64("min_committed", minCommittedWords))

	nearLevel := preferredLevel + 2
	if nearLevel > maxLevel {
		nearLevel = maxLevel
	}

	// nearby committed chunks first
	c := m.chunks.SearchChunkAscending(preferredLevel, nearLevel, minCommittedWords)
	if c == nil {
		c = m.chunks.SearchChunkDescending(preferredLevel, minCommittedWords)
	}
	if c == nil {
		c = m.chunks.SearchChunkAscending(preferredLevel, maxLevel, minCommittedWords)
	}
	if c == nil {
		c = m.chunks.SearchChunkAscending(preferredLevel, maxLevel, 0)
	}
	if c == nil {
		c = m.chunks.SearchChunkDescending(preferredLevel, 0)
	}

	if c == nil {
		root, err := m.provider.AllocateRootChunk()
		if err != nil {
			m.stats.FailedGets++
			m.logger.Info("failed to get new root chunk", slog.Any("error", err))
			return nil, err
		}
		assertf(root.IsRootChunk(), "root chunk expected, got %s", root)
		c = root
	}

	// commit before splitting: committing may fail, splitting may not
	if c.committedWords < minCommittedWords {
		if err := m.provider.EnsureCommitted(c, minCommittedWords); err != nil {
			m.logger.Info("failed to commit chunk",
				slog.Uint64("words", minCommittedWords), slog.String("chunk", c.String()), slog.Any("error", err))
			m.chunks.Add(c)
			m.stats.FailedGets++
			m.verifyIfEnabled()
			return nil, err
		}
	}

	if c.level < preferredLevel {
		m.splitChunkAndAddSplinters(c, preferredLevel)
	}

	c.setInUse()
	m.stats.ChunksTaken++
	m.verifyIfEnabled()

	m.logger.Debug("handing out chunk", slog.String("chunk", c.String()))
	return c, nil
}

// ReturnChunk gives an in-use chunk back. The chunk may be merged with its neighbors:
// c must not be used after this call.
func (m *ChunkManager) ReturnChunk(c *Chunk) {
	m.provider.Lock()
	defer m.provider.Unlock()

	m.logger.Debug("returning chunk", slog.String("chunk", c.String()))

	assertf(!m.chunks.Contains(c), "chunk %s to return is already in the free list", c)
	assertf(c.IsInUse(), "chunk %s to return is not in use", c)
	assertf(c.list == nil, "chunk %s to return is in a list", c)

	c.setFree()
	c.resetUsedWords()

	if !c.IsRootChunk() {
		origLevel := c.level
		if merged := m.provider.Merge(c, m.chunks); merged != nil {
			assertf(merged.level < origLevel, "merged chunk %s not larger than level %s", merged, origLevel)
			m.stats.ChunkMerges++
			m.logger.Debug("merged into chunk", slog.String("chunk", merged.String()))
			c = merged
		}
	}

	if m.settings.UncommitFreeChunks && c.WordSize() >= m.settings.CommitGranuleWords {
		m.logger.Debug("uncommitting free chunk", slog.String("chunk", c.String()))
		m.provider.Uncommit(c)
	}

	m.chunks.Add(c)
	m.stats.ChunksReturned++
	m.verifyIfEnabled()
}

// AttemptEnlargeChunk tries to double the in-use, non-root chunk c in place by taking over
// its trailing buddy. This only works if c leads its buddy pair and the buddy is free.
func (m *ChunkManager) AttemptEnlargeChunk(c *Chunk) bool {
	m.provider.Lock()
	defer m.provider.Unlock()

	ok := m.provider.AttemptEnlargeChunk(c, m.chunks)
	if ok {
		m.stats.ChunksEnlarged++
		m.logger.Debug("enlarged chunk", slog.String("chunk", c.String()))
	}
	m.verifyIfEnabled()
	return ok
}

// EnsureCommitted commits an in-use chunk up to at least words.
func (m *ChunkManager) EnsureCommitted(c *Chunk, words uint64) error {
	m.provider.Lock()
	defer m.provider.Unlock()

	assertf(c.IsInUse(), "committing chunk %s which is not in use", c)
	return m.provider.EnsureCommitted(c, words)
}

// ReclaimReport describes the outcome of a wholesale reclaim.
type ReclaimReport struct {
	ReservedWordsBefore  uint64
	ReservedWordsAfter   uint64
	CommittedWordsBefore uint64
	CommittedWordsAfter  uint64
	NodesPurged          int

	// ChunksUncommitted counts the free chunks that gave memory back
	ChunksUncommitted int
}

// NothingReclaimed ...
func (r ReclaimReport) NothingReclaimed() bool {
	return r.ReservedWordsBefore == r.ReservedWordsAfter && r.CommittedWordsBefore == r.CommittedWordsAfter
}

// WholesaleReclaim purges nodes made of free chunks only, then, if enabled,
// uncommits every free chunk of at least one commit granule.
func (m *ChunkManager) WholesaleReclaim() ReclaimReport {
	m.provider.Lock()
	defer m.provider.Unlock()

	m.logger.Info("reclaiming memory")

	report := ReclaimReport{
		ReservedWordsBefore:  m.provider.ReservedWords(),
		CommittedWordsBefore: m.provider.CommittedWords(),
	}

	report.NodesPurged = m.provider.Purge(m.chunks)
	m.stats.Purges++

	if m.settings.UncommitFreeChunks {
		maxLevel := chunklevel.LevelFittingWordSize(m.settings.CommitGranuleWords)
		// committedWords only covers the committed prefix, later granules may still be committed
		var toUncommit []*Chunk
		for l := chunklevel.LowestChunkLevel; l <= maxLevel; l++ {
			for c := m.chunks.FirstAtLevel(l); c != nil; c = m.chunks.Next(c) {
				toUncommit = append(toUncommit, c)
			}
		}
		// refile so uncommitted chunks move to the back of their list
		for _, c := range toUncommit {
			before := m.provider.CommittedWords()
			m.chunks.Remove(c)
			m.provider.Uncommit(c)
			m.chunks.Add(c)
			if m.provider.CommittedWords() < before {
				report.ChunksUncommitted++
			}
		}
	}

	report.ReservedWordsAfter = m.provider.ReservedWords()
	report.CommittedWordsAfter = m.provider.CommittedWords()

	if report.NothingReclaimed() {
		m.logger.Info("nothing reclaimed")
	} else {
		m.logger.Info("finished reclaiming memory",
			slog.String("reserved", formatWordSizeDelta(report.ReservedWordsBefore, report.ReservedWordsAfter)),
			slog.String("committed", formatWordSizeDelta(report.CommittedWordsBefore, report.CommittedWordsAfter)),
			slog.Int("nodes_purged", report.NodesPurged))
	}

	m.verifyIfEnabled()
	return report
}

// AddToStatistics adds the free chunks of each level to out.
func (m *ChunkManager) AddToStatistics(out *ChunkManagerStats) {
	m.provider.Lock()
	defer m.provider.Unlock()

	for l := chunklevel.RootChunkLevel; l <= chunklevel.HighestChunkLevel; l++ {
		out.NumChunks[l] += m.chunks.NumChunksAtLevel(l)
		out.CommittedWordSize[l] += m.chunks.CommittedWordsAtLevel(l)
	}
}

// InternalStats ...
func (m *ChunkManager) InternalStats() InternalStats {
	m.provider.Lock()
	defer m.provider.Unlock()
	return m.stats
}

// TotalNumChunks returns the number of free chunks.
func (m *ChunkManager) TotalNumChunks() int {
	m.provider.Lock()
	defer m.provider.Unlock()
	return m.chunks.NumChunks()
}

// TotalWordSize returns the size of all free chunks.
func (m *ChunkManager) TotalWordSize() uint64 {
	m.provider.Lock()
	defer m.provider.Unlock()
	return m.chunks.WordSize()
}

// Contains reports whether c is in the free lists of this manager.
func (m *ChunkManager) Contains(c *Chunk) bool {
	m.provider.Lock()
	defer m.provider.Unlock()
	return m.chunks.Contains(c)
}

// Verify checks the free lists and the chunk graph of the provider.
func (m *ChunkManager) Verify() error {
	m.provider.Lock()
	defer m.provider.Unlock()
	return m.verifyLocked()
}

func (m *ChunkManager) verifyLocked() error {
	if err := m.chunks.Verify(); err != nil {
		return errors.Wrapf(err, "chunk manager %s", m.name)
	}
	return m.provider.Verify()
}

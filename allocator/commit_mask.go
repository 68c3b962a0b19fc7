package allocator

import (
	"math/bits"
	"strings"
)

// CommitMask tracks the committed state of a node, one bit per commit granule.
type CommitMask struct {
	base        Address
	wordSize    uint64
	wordsPerBit uint64
	bitset      []uint64
}

// NewCommitMask ...
func NewCommitMask(base Address, wordSize uint64, wordsPerBit uint64) *CommitMask {
	assertf(wordSize > 0 && wordsPerBit > 0 && wordSize%wordsPerBit == 0,
		"bad commit mask geometry: size %d, words per bit %d", wordSize, wordsPerBit)
	numBits := wordSize / wordsPerBit
	return &CommitMask{
		base:        base,
		wordSize:    wordSize,
		wordsPerBit: wordsPerBit,
		bitset:      make([]uint64, (numBits+63)>>6),
	}
}

// Size returns the number of bits.
func (m *CommitMask) Size() uint64 {
	return m.wordSize / m.wordsPerBit
}

// WordsPerBit ...
func (m *CommitMask) WordsPerBit() uint64 {
	return m.wordsPerBit
}

func (m *CommitMask) bitIndex(addr Address) uint64 {
	assertf(addr >= m.base && uint64(addr-m.base) < m.wordSize,
		"address %#x outside commit mask [%#x, +%d)", uint64(addr), uint64(m.base), m.wordSize)
	return uint64(addr-m.base) / m.wordsPerBit
}

func (m *CommitMask) setBit(index uint64) {
	m.bitset[index>>6] |= uint64(1) << (index & 0x3f)
}

func (m *CommitMask) clearBit(index uint64) {
	m.bitset[index>>6] &= ^(uint64(1) << (index & 0x3f))
}

func (m *CommitMask) isBitSet(index uint64) bool {
	return m.bitset[index>>6]&(uint64(1)<<(index&0x3f)) != 0
}

func (m *CommitMask) checkAlignedRange(start Address, words uint64) {
	assertf(uint64(start-m.base)%m.wordsPerBit == 0 && words%m.wordsPerBit == 0,
		"range [%#x, +%d) not aligned to commit granule %d", uint64(start), words, m.wordsPerBit)
}

// IsCommittedAddress ...
func (m *CommitMask) IsCommittedAddress(addr Address) bool {
	return m.isBitSet(m.bitIndex(addr))
}

// MarkRangeAsCommitted sets the bits of a granule aligned range and returns the number of words newly marked.
func (m *CommitMask) MarkRangeAsCommitted(start Address, words uint64) uint64 {
	m.checkAlignedRange(start, words)
	var marked uint64
	first := m.bitIndex(start)
	for i := first; i < first+words/m.wordsPerBit; i++ {
		if !m.isBitSet(i) {
			m.setBit(i)
			marked += m.wordsPerBit
		}
	}
	return marked
}

// MarkRangeAsUncommitted clears the bits of a granule aligned range and returns the number of words newly cleared.
func (m *CommitMask) MarkRangeAsUncommitted(start Address, words uint64) uint64 {
	m.checkAlignedRange(start, words)
	var cleared uint64
	first := m.bitIndex(start)
	for i := first; i < first+words/m.wordsPerBit; i++ {
		if m.isBitSet(i) {
			m.clearBit(i)
			cleared += m.wordsPerBit
		}
	}
	return cleared
}

// GetCommittedSize ...
func (m *CommitMask) GetCommittedSize() uint64 {
	n := 0
	for _, w := range m.bitset {
		n += bits.OnesCount64(w)
	}
	return uint64(n) * m.wordsPerBit
}

// GetCommittedSizeInRange counts committed words of a granule aligned range.
func (m *CommitMask) GetCommittedSizeInRange(start Address, words uint64) uint64 {
	m.checkAlignedRange(start, words)
	var committed uint64
	first := m.bitIndex(start)
	for i := first; i < first+words/m.wordsPerBit; i++ {
		if m.isBitSet(i) {
			committed += m.wordsPerBit
		}
	}
	return committed
}

// CommittedPrefix returns how many words from start on are contiguously committed, at most words.
// The range may be smaller than a granule.
func (m *CommitMask) CommittedPrefix(start Address, words uint64) uint64 {
	var prefix uint64
	for prefix < words {
		addr := start + Address(prefix)
		if !m.IsCommittedAddress(addr) {
			break
		}
		granuleEnd := m.base + Address((m.bitIndex(addr)+1)*m.wordsPerBit)
		prefix += uint64(granuleEnd - addr)
	}
	if prefix > words {
		prefix = words
	}
	return prefix
}

// String prints one character per granule, 'X' committed and '-' uncommitted.
func (m *CommitMask) String() string {
	var sb strings.Builder
	for i := uint64(0); i < m.Size(); i++ {
		if m.isBitSet(i) {
			sb.WriteByte('X')
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

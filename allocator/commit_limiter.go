package allocator

import "sync"

// CommitLimiter caps the committed words of one or more region providers.
// A limit of zero means unlimited. Providers with different locks may share a limiter.
type CommitLimiter struct {
	mu        sync.Mutex
	limit     uint64
	committed uint64
}

// NewCommitLimiter ...
func NewCommitLimiter(limitWords uint64) *CommitLimiter {
	return &CommitLimiter{limit: limitWords}
}

// PossibleExpansionWords returns how many words may still be committed.
func (l *CommitLimiter) PossibleExpansionWords() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.possibleExpansionLocked()
}

func (l *CommitLimiter) possibleExpansionLocked() uint64 {
	if l.limit == 0 {
		return ^uint64(0) - l.committed
	}
	if l.committed >= l.limit {
		return 0
	}
	return l.limit - l.committed
}

// LimitWords ...
func (l *CommitLimiter) LimitWords() uint64 {
	return l.limit
}

// CommittedWords ...
func (l *CommitLimiter) CommittedWords() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

// tryIncreaseCommitted accounts words if the limit allows it.
func (l *CommitLimiter) tryIncreaseCommitted(words uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if words > l.possibleExpansionLocked() {
		return false
	}
	l.committed += words
	return true
}

func (l *CommitLimiter) decreaseCommitted(words uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	assertf(words <= l.committed, "commit limiter underflow: %d > %d", words, l.committed)
	l.committed -= words
}

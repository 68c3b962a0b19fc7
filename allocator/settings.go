package allocator

import (
	"io"
	"log/slog"
)

// DefaultCommitGranuleWords is 64 KB.
const DefaultCommitGranuleWords uint64 = (64 << 10) / 8

// Settings are the policy knobs of a ChunkManager.
type Settings struct {
	// UncommitFreeChunks uncommits returned chunks of at least one commit granule
	UncommitFreeChunks bool `yaml:"uncommit_free_chunks"`

	CommitGranuleWords uint64 `yaml:"commit_granule_words"`

	// VerifyOperations checks all invariants after every operation, panicking on failure
	VerifyOperations bool `yaml:"verify_operations"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultSettings ...
func DefaultSettings() Settings {
	return Settings{
		UncommitFreeChunks: true,
		CommitGranuleWords: DefaultCommitGranuleWords,
	}
}

// Validate ...
func (s Settings) Validate() error {
	return validateGranule(s.CommitGranuleWords)
}

func (s Settings) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

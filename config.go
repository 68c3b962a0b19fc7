package metaspace

import (
	"io"
	"os"

	"github.com/QuangTung97/metaspace/allocator"
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/QuangTung97/metaspace/internal/vmem"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config describes both spaces of a metaspace.
type Config struct {
	// CommitLimitWords is shared by class and non-class space, zero means unlimited
	CommitLimitWords uint64 `yaml:"commit_limit_words"`

	// UseMmap backs nodes with reserved address space instead of bookkeeping only
	UseMmap bool `yaml:"use_mmap"`

	ClassSpace    SpaceConfig        `yaml:"class_space"`
	NonClassSpace SpaceConfig        `yaml:"non_class_space"`
	Settings      allocator.Settings `yaml:"settings"`
}

// SpaceConfig ...
type SpaceConfig struct {
	NodeWordSize     uint64 `yaml:"node_word_size"`
	MaxReservedWords uint64 `yaml:"max_reserved_words"`
}

// DefaultConfig returns a 16 MB class space and a non-class space growing by 8 MB nodes.
func DefaultConfig() Config {
	return Config{
		ClassSpace: SpaceConfig{
			NodeWordSize: 4 * chunklevel.MaxChunkWordSize,
		},
		NonClassSpace: SpaceConfig{
			NodeWordSize: 2 * chunklevel.MaxChunkWordSize,
		},
		Settings: allocator.DefaultSettings(),
	}
}

func (c Config) classListConfig() allocator.ListConfig {
	return allocator.ListConfig{
		Name:               "class-space",
		NodeWordSize:       c.ClassSpace.NodeWordSize,
		Expandable:         false,
		CommitGranuleWords: c.Settings.CommitGranuleWords,
	}
}

func (c Config) nonClassListConfig() allocator.ListConfig {
	return allocator.ListConfig{
		Name:               "non-class-space",
		NodeWordSize:       c.NonClassSpace.NodeWordSize,
		Expandable:         true,
		MaxReservedWords:   c.NonClassSpace.MaxReservedWords,
		CommitGranuleWords: c.Settings.CommitGranuleWords,
	}
}

// Validate ...
func (c Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return errors.Wrap(err, "settings")
	}
	if c.ClassSpace.MaxReservedWords != 0 {
		return errors.New("class space: max reserved words not supported, the class space has one node")
	}
	if err := c.classListConfig().Validate(); err != nil {
		return errors.Wrap(err, "class space")
	}
	if err := c.nonClassListConfig().Validate(); err != nil {
		return errors.Wrap(err, "non-class space")
	}
	if g := vmem.ReserveGranularity(); c.UseMmap && c.Settings.CommitGranuleWords%g != 0 {
		return errors.Newf("commit granule %d words cannot be committed in pages of %d words",
			c.Settings.CommitGranuleWords, g)
	}
	if c.CommitLimitWords != 0 && c.CommitLimitWords < c.Settings.CommitGranuleWords {
		return errors.Newf("commit limit %d words smaller than one commit granule", c.CommitLimitWords)
	}
	return nil
}

// LoadConfig reads a YAML config. Missing fields keep their defaults, unknown fields are an error.
func LoadConfig(r io.Reader) (Config, error) {
	conf := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&conf); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := conf.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return conf, nil
}

// LoadConfigFile ...
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}

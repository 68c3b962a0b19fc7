package metaspace

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/QuangTung97/metaspace/allocator"
	"github.com/QuangTung97/metaspace/arena"
	"github.com/QuangTung97/metaspace/internal/vmem"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Context bundles a region provider with the chunk manager filled from it.
type Context struct {
	name    string
	list    *allocator.VirtualSpaceList
	manager *allocator.ChunkManager
}

// NewContext ...
func NewContext(name string, listConf allocator.ListConfig, settings allocator.Settings) (*Context, error) {
	if listConf.Logger == nil {
		listConf.Logger = settings.Logger
	}
	list, err := allocator.NewVirtualSpaceList(listConf)
	if err != nil {
		return nil, errors.Wrapf(err, "context %s", name)
	}
	manager, err := allocator.NewChunkManager(name, list, settings)
	if err != nil {
		return nil, errors.Wrapf(err, "context %s", name)
	}
	return &Context{
		name:    name,
		list:    list,
		manager: manager,
	}, nil
}

func reserver(conf Config) vmem.Reserver {
	if conf.UseMmap {
		return vmem.Reserve
	}
	return vmem.Simulate
}

// NewClassSpaceContext creates a context on a single node reserved up front.
func NewClassSpaceContext(conf Config, limiter *allocator.CommitLimiter) (*Context, error) {
	listConf := conf.classListConfig()
	listConf.Limiter = limiter
	listConf.Reserver = reserver(conf)
	return NewContext("class", listConf, conf.Settings)
}

// NewNonClassSpaceContext creates a context reserving nodes on demand.
func NewNonClassSpaceContext(conf Config, limiter *allocator.CommitLimiter) (*Context, error) {
	listConf := conf.nonClassListConfig()
	listConf.Limiter = limiter
	listConf.Reserver = reserver(conf)
	return NewContext("non-class", listConf, conf.Settings)
}

// Name ...
func (c *Context) Name() string {
	return c.name
}

// List ...
func (c *Context) List() *allocator.VirtualSpaceList {
	return c.list
}

// Manager ...
func (c *Context) Manager() *allocator.ChunkManager {
	return c.manager
}

// NewArena creates an arena taking its chunks from this context.
func (c *Context) NewArena(conf arena.Config) (*arena.Arena, error) {
	if conf.Logger == nil {
		conf.Logger = c.logger()
	}
	return arena.New(c.manager, conf)
}

func (c *Context) logger() *slog.Logger {
	return c.manager.Logger()
}

// WholesaleReclaim ...
func (c *Context) WholesaleReclaim() allocator.ReclaimReport {
	return c.manager.WholesaleReclaim()
}

// Statistics returns the free chunks per level.
func (c *Context) Statistics() allocator.ChunkManagerStats {
	var stats allocator.ChunkManagerStats
	c.manager.AddToStatistics(&stats)
	return stats
}

// Verify ...
func (c *Context) Verify() error {
	return c.manager.Verify()
}

// PrintOn ...
func (c *Context) PrintOn(w io.Writer) {
	c.list.PrintOn(w)
	c.manager.PrintOn(w)
}

// Metaspace holds a class space and a non-class space sharing one commit limit.
type Metaspace struct {
	limiter  *allocator.CommitLimiter
	class    *Context
	nonClass *Context
}

// New ...
func New(conf Config) (*Metaspace, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	limiter := allocator.NewCommitLimiter(conf.CommitLimitWords)
	class, err := NewClassSpaceContext(conf, limiter)
	if err != nil {
		return nil, err
	}
	nonClass, err := NewNonClassSpaceContext(conf, limiter)
	if err != nil {
		return nil, err
	}
	return &Metaspace{
		limiter:  limiter,
		class:    class,
		nonClass: nonClass,
	}, nil
}

// ClassSpace ...
func (m *Metaspace) ClassSpace() *Context {
	return m.class
}

// NonClassSpace ...
func (m *Metaspace) NonClassSpace() *Context {
	return m.nonClass
}

// Contexts ...
func (m *Metaspace) Contexts() []*Context {
	return []*Context{m.class, m.nonClass}
}

// Limiter ...
func (m *Metaspace) Limiter() *allocator.CommitLimiter {
	return m.limiter
}

// ReservedWords ...
func (m *Metaspace) ReservedWords() uint64 {
	var words uint64
	for _, c := range m.Contexts() {
		c.list.Lock()
		words += c.list.ReservedWords()
		c.list.Unlock()
	}
	return words
}

// CommittedWords ...
func (m *Metaspace) CommittedWords() uint64 {
	return m.limiter.CommittedWords()
}

// WholesaleReclaim reclaims both spaces.
func (m *Metaspace) WholesaleReclaim() []allocator.ReclaimReport {
	var reports []allocator.ReclaimReport
	for _, c := range m.Contexts() {
		reports = append(reports, c.WholesaleReclaim())
	}
	return reports
}

// Statistics sums the free chunks of both spaces.
func (m *Metaspace) Statistics() allocator.ChunkManagerStats {
	var stats allocator.ChunkManagerStats
	for _, c := range m.Contexts() {
		c.manager.AddToStatistics(&stats)
	}
	return stats
}

// Verify ...
func (m *Metaspace) Verify() error {
	for _, c := range m.Contexts() {
		if err := c.Verify(); err != nil {
			return err
		}
	}
	var committed uint64
	for _, c := range m.Contexts() {
		c.list.Lock()
		committed += c.list.CommittedWords()
		c.list.Unlock()
	}
	if committed != m.limiter.CommittedWords() {
		return errors.Newf("spaces committed %d words, limiter counted %d", committed, m.limiter.CommittedWords())
	}
	return nil
}

// PrintOn ...
func (m *Metaspace) PrintOn(w io.Writer) {
	for _, c := range m.Contexts() {
		c.PrintOn(w)
	}
	fmt.Fprintf(w, "commit limiter: %d words committed, limit %d words\n",
		m.limiter.CommittedWords(), m.limiter.LimitWords())
}

// PrintDetailedMap ...
func (m *Metaspace) PrintDetailedMap(json jwriter.ObjectState) {
	json.Name("committedWords").Int(int(m.limiter.CommittedWords()))
	json.Name("limitWords").Int(int(m.limiter.LimitWords()))

	spaces := json.Name("spaces").Array()
	for _, c := range m.Contexts() {
		obj := spaces.Object()
		c.manager.PrintDetailedMap(obj)
		obj.End()
	}
	spaces.End()
}

package workload

import (
	"io"
	"log/slog"
	"math/rand"

	"github.com/QuangTung97/metaspace"
	"github.com/QuangTung97/metaspace/allocator"
	"github.com/QuangTung97/metaspace/arena"
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/cockroachdb/errors"
)

// Config ...
type Config struct {
	Seed          int64
	Steps         int
	MaxLoaders    int
	MaxBlockWords uint64

	// ClassRatio is the share of allocations going to the class space
	ClassRatio Ratio

	// UnloadRatio is the chance per step of unloading the least recently used loader
	UnloadRatio Ratio

	// GCRatio is the share of loaders unloaded when an allocation fails
	GCRatio Ratio

	ReclaimAfterGC bool
	Verify         bool
	Logger         *slog.Logger
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		Seed:           1,
		Steps:          10000,
		MaxLoaders:     64,
		MaxBlockWords:  512,
		ClassRatio:     NewRatio(1, 4),
		UnloadRatio:    NewRatio(1, 50),
		GCRatio:        NewRatio(1, 2),
		ReclaimAfterGC: true,
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.Steps < 0 {
		return errors.Newf("negative number of steps %d", c.Steps)
	}
	if c.MaxLoaders <= 0 {
		return errors.Newf("max loaders %d must be positive", c.MaxLoaders)
	}
	if c.MaxBlockWords == 0 || c.MaxBlockWords > chunklevel.MaxChunkWordSize {
		return errors.Newf("max block words %d must be in [1, %d]", c.MaxBlockWords, chunklevel.MaxChunkWordSize)
	}
	for name, r := range map[string]Ratio{"class": c.ClassRatio, "unload": c.UnloadRatio, "gc": c.GCRatio} {
		if err := r.Validate(); err != nil {
			return errors.Wrapf(err, "%s ratio", name)
		}
	}
	return nil
}

// Result ...
type Result struct {
	Steps             int
	Allocations       int
	Deallocations     int
	FailedAllocations int
	LoadersCreated    int
	LoadersUnloaded   int
	LiveLoaders       int
	GCs               int
	AllocatedWords    uint64
	ReclaimReports    []allocator.ReclaimReport
}

type block struct {
	addr  allocator.Address
	words uint64
}

// loader owns one arena per space, like a class loader.
type loader struct {
	id       int
	class    *arena.Arena
	nonClass *arena.Arena
	last     *block
	lastOf   *arena.Arena
}

func (l *loader) release() {
	l.class.Release()
	l.nonClass.Release()
}

// Runner drives a random load of class loaders allocating from a metaspace.
type Runner struct {
	ms     *metaspace.Metaspace
	conf   Config
	rnd    *rand.Rand
	logger *slog.Logger

	loaders []*loader
	lru     *loaderLRU
	live    int
	nextID  int

	result Result
}

// NewRunner ...
func NewRunner(ms *metaspace.Metaspace, conf Config) (*Runner, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "workload")
	}
	logger := conf.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		ms:      ms,
		conf:    conf,
		rnd:     rand.New(rand.NewSource(conf.Seed)),
		logger:  logger,
		loaders: make([]*loader, conf.MaxLoaders),
		lru:     newLoaderLRU(conf.MaxLoaders),
	}, nil
}

// Run executes all steps. Loaders stay alive afterwards, see UnloadAll.
func (r *Runner) Run() (Result, error) {
	for i := 0; i < r.conf.Steps; i++ {
		if err := r.step(); err != nil {
			return r.result, errors.Wrapf(err, "step %d", i)
		}
		r.result.Steps++
	}
	r.result.LiveLoaders = r.live
	return r.result, nil
}

func (r *Runner) createLoader(slot uint32) (*loader, error) {
	id := r.nextID
	r.nextID++

	// class space chunks are small, non-class chunks vary more
	classLevel := chunklevel.Level(8 + r.rnd.Intn(5))
	nonClassLevel := chunklevel.Level(4 + r.rnd.Intn(7))

	class, err := r.ms.ClassSpace().NewArena(arena.Config{Name: "class", Level: classLevel, Enlarge: true})
	if err != nil {
		return nil, err
	}
	nonClass, err := r.ms.NonClassSpace().NewArena(arena.Config{Name: "non-class", Level: nonClassLevel, Enlarge: true})
	if err != nil {
		return nil, err
	}

	l := &loader{id: id, class: class, nonClass: nonClass}
	r.loaders[slot] = l
	r.lru.put(slot)
	r.live++
	r.result.LoadersCreated++
	r.logger.Debug("created loader", slog.Int("loader", id),
		slog.Any("class_level", classLevel), slog.Any("non_class_level", nonClassLevel))
	return l, nil
}

func (r *Runner) unload(slot uint32) {
	l := r.loaders[slot]
	l.release()
	r.loaders[slot] = nil
	r.lru.delete(slot)
	r.live--
	r.result.LoadersUnloaded++
	r.logger.Debug("unloaded loader", slog.Int("loader", l.id))
}

func (r *Runner) unloadLeastRecentlyUsed() bool {
	slot, ok := r.lru.last()
	if !ok {
		return false
	}
	r.unload(slot)
	return true
}

// gc unloads a share of the loaders, least recently used first.
func (r *Runner) gc() {
	n := r.conf.GCRatio.MulUint64(uint64(r.live))
	if n == 0 {
		n = 1
	}
	for i := uint64(0); i < n; i++ {
		if !r.unloadLeastRecentlyUsed() {
			break
		}
	}
	r.result.GCs++

	if r.conf.ReclaimAfterGC {
		r.result.ReclaimReports = append(r.result.ReclaimReports, r.ms.WholesaleReclaim()...)
	}
}

func (r *Runner) step() error {
	slot := uint32(r.rnd.Intn(r.conf.MaxLoaders))
	l := r.loaders[slot]
	if l == nil {
		var err error
		if l, err = r.createLoader(slot); err != nil {
			return err
		}
	} else {
		r.lru.touch(slot)
	}

	a := l.nonClass
	if r.conf.ClassRatio.Hit(r.rnd) {
		a = l.class
	}

	if l.last != nil && r.rnd.Intn(8) == 0 {
		l.lastOf.Deallocate(l.last.addr, l.last.words)
		l.last = nil
		r.result.Deallocations++
	}

	max := r.conf.MaxBlockWords
	if size := chunklevel.WordSizeForLevel(a.Level()); size < max {
		max = size
	}
	words := 1 + uint64(r.rnd.Int63n(int64(max)))

	addr, err := a.Allocate(words)
	switch {
	case err == nil:
		l.last = &block{addr: addr, words: words}
		l.lastOf = a
		r.result.Allocations++
		r.result.AllocatedWords += words

	case errors.Is(err, allocator.ErrCommitLimitReached), errors.Is(err, allocator.ErrReservationExhausted):
		r.logger.Info("allocation failed, unloading loaders", slog.Any("error", err))
		r.result.FailedAllocations++
		r.gc()

	default:
		return err
	}

	if r.conf.UnloadRatio.Hit(r.rnd) {
		r.unloadLeastRecentlyUsed()
	}

	if r.conf.Verify {
		return r.ms.Verify()
	}
	return nil
}

// UnloadAll unloads every live loader.
func (r *Runner) UnloadAll() {
	for r.unloadLeastRecentlyUsed() {
	}
	r.result.LiveLoaders = 0
}

// Result ...
func (r *Runner) Result() Result {
	return r.result
}

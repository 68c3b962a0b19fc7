package allocator

import (
	"bytes"
	"sync"
	"testing"

	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/QuangTung97/metaspace/internal/vmem"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListConfig_Validate(t *testing.T) {
	valid := ListConfig{
		Name:               "valid",
		NodeWordSize:       chunklevel.MaxChunkWordSize,
		CommitGranuleWords: testGranule,
	}

	table := []struct {
		name   string
		modify func(conf *ListConfig)
		ok     bool
	}{
		{name: "valid", modify: func(conf *ListConfig) {}, ok: true},
		{name: "zero-node-size", modify: func(conf *ListConfig) { conf.NodeWordSize = 0 }},
		{name: "unaligned-node-size", modify: func(conf *ListConfig) { conf.NodeWordSize += 64 }},
		{name: "max-reserved-too-small", modify: func(conf *ListConfig) {
			conf.NodeWordSize = 2 * chunklevel.MaxChunkWordSize
			conf.MaxReservedWords = chunklevel.MaxChunkWordSize
		}},
		{name: "granule-not-power-of-two", modify: func(conf *ListConfig) { conf.CommitGranuleWords = 3000 }},
		{name: "granule-too-small", modify: func(conf *ListConfig) { conf.CommitGranuleWords = 32 }},
		{name: "granule-smallest", modify: func(conf *ListConfig) { conf.CommitGranuleWords = 64 }, ok: true},
		{name: "granule-root-chunk", modify: func(conf *ListConfig) {
			conf.CommitGranuleWords = chunklevel.MaxChunkWordSize
		}, ok: true},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			conf := valid
			e.modify(&conf)
			err := conf.Validate()
			if e.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestVirtualSpaceList_NotExpandable(t *testing.T) {
	list := newTestList(t, func(conf *ListConfig) {
		conf.Expandable = false
	})

	// reserved up front
	assert.Equal(t, 1, len(list.Nodes()))
	assert.Equal(t, 4*chunklevel.MaxChunkWordSize, list.ReservedWords())

	var prev Address
	for i := 0; i < 4; i++ {
		c, err := list.AllocateRootChunk()
		require.NoError(t, err)
		assert.True(t, c.IsRootChunk())
		assert.True(t, c.IsFree())
		if i > 0 {
			assert.Equal(t, prev+Address(chunklevel.MaxChunkWordSize), c.Base())
		}
		prev = c.Base()
	}
	assert.True(t, list.Nodes()[0].IsFull())

	_, err := list.AllocateRootChunk()
	assert.True(t, errors.Is(err, ErrReservationExhausted))
	assert.Equal(t, 1, len(list.Nodes()))
}

func TestVirtualSpaceList_MaxReservedWords(t *testing.T) {
	list := newTestList(t, func(conf *ListConfig) {
		conf.NodeWordSize = chunklevel.MaxChunkWordSize
		conf.MaxReservedWords = 2 * chunklevel.MaxChunkWordSize
	})
	assert.Equal(t, 0, len(list.Nodes()))

	c1, err := list.AllocateRootChunk()
	require.NoError(t, err)
	c2, err := list.AllocateRootChunk()
	require.NoError(t, err)
	assert.NotSame(t, c1.Node(), c2.Node())
	assert.Equal(t, c1.End(), c2.Base())

	_, err = list.AllocateRootChunk()
	assert.True(t, errors.Is(err, ErrReservationExhausted))
	assert.Equal(t, 2*chunklevel.MaxChunkWordSize, list.ReservedWords())

	c1.setInUse()
	c2.setInUse()
	require.NoError(t, list.Verify())
}

func TestVirtualSpaceList_ReserveFailure(t *testing.T) {
	reserveErr := errors.New("out of address space")
	list := newTestList(t, func(conf *ListConfig) {
		conf.Reserver = func(words uint64) (vmem.Reservation, error) {
			return nil, reserveErr
		}
	})

	_, err := list.AllocateRootChunk()
	assert.True(t, errors.Is(err, ErrReservationExhausted))
	assert.Equal(t, uint64(0), list.ReservedWords())

	_, err = NewVirtualSpaceList(ListConfig{
		Name:               "fixed",
		NodeWordSize:       chunklevel.MaxChunkWordSize,
		CommitGranuleWords: testGranule,
		Reserver: func(words uint64) (vmem.Reservation, error) {
			return nil, reserveErr
		},
	})
	assert.True(t, errors.Is(err, reserveErr))
}

type coarseReservation struct {
	vmem.Reservation
	granularity uint64
}

func (r coarseReservation) Granularity() uint64 {
	return r.granularity
}

func TestVirtualSpaceList_BackingGranularity(t *testing.T) {
	coarse := func(words uint64) (vmem.Reservation, error) {
		rsv, err := vmem.Simulate(words)
		return coarseReservation{Reservation: rsv, granularity: 2 * testGranule}, err
	}

	list := newTestList(t, func(conf *ListConfig) { conf.Reserver = coarse })
	_, err := list.AllocateRootChunk()
	assert.True(t, errors.Is(err, ErrBackingGranularity))
	assert.False(t, errors.Is(err, ErrReservationExhausted))
	assert.Equal(t, uint64(0), list.ReservedWords())
	assert.Equal(t, 0, len(list.Nodes()))

	_, err = NewVirtualSpaceList(ListConfig{
		Name:               "fixed",
		NodeWordSize:       chunklevel.MaxChunkWordSize,
		CommitGranuleWords: testGranule,
		Reserver:           coarse,
	})
	assert.True(t, errors.Is(err, ErrBackingGranularity))
}

func TestVirtualSpaceList_SharedLimiter(t *testing.T) {
	limiter := NewCommitLimiter(3 * testGranule)
	class := newTestList(t, func(conf *ListConfig) { conf.Limiter = limiter })
	nonClass := newTestList(t, func(conf *ListConfig) { conf.Limiter = limiter })

	m1 := newTestManager(t, "class", class)
	m2 := newTestManager(t, "nonclass", nonClass)

	c1, err := m1.GetChunk(4, 4, 2*testGranule)
	require.NoError(t, err)
	_, err = m2.GetChunk(4, 4, 2*testGranule)
	assert.True(t, errors.Is(err, ErrCommitLimitReached))

	c2, err := m2.GetChunk(4, 4, testGranule)
	require.NoError(t, err)
	assert.Equal(t, 3*testGranule, limiter.CommittedWords())
	assert.Equal(t, uint64(0), limiter.PossibleExpansionWords())

	m1.ReturnChunk(c1)
	assert.Equal(t, testGranule, limiter.CommittedWords())
	m2.ReturnChunk(c2)
	assert.Equal(t, uint64(0), limiter.CommittedWords())
}

func TestVirtualSpaceList_Purge_NotExpandable(t *testing.T) {
	list := newTestList(t, singleRootChunk)
	m := newTestManager(t, "fixed", list)

	c, err := m.GetChunk(0, 0, 0)
	require.NoError(t, err)
	m.ReturnChunk(c)

	report := m.WholesaleReclaim()
	assert.Equal(t, 0, report.NodesPurged)
	assert.Equal(t, chunklevel.MaxChunkWordSize, list.ReservedWords())

	// the root chunk is still usable
	c, err = m.GetChunk(0, 0, 0)
	require.NoError(t, err)
	assert.True(t, c.IsRootChunk())
}

func TestVirtualSpaceList_Purge_ThenGrowAgain(t *testing.T) {
	list := newTestList(t, func(conf *ListConfig) {
		conf.NodeWordSize = chunklevel.MaxChunkWordSize
	})
	m := newTestManager(t, "grow", list)

	c, err := m.GetChunk(5, 5, testGranule)
	require.NoError(t, err)
	m.ReturnChunk(c)
	assert.Equal(t, 1, m.WholesaleReclaim().NodesPurged)
	assert.Equal(t, 0, list.ChunkPool().NumLive())
	assert.Equal(t, 0, m.TotalNumChunks())

	c, err = m.GetChunk(5, 5, testGranule)
	require.NoError(t, err)
	// a new node never reuses addresses of a purged one
	assert.Equal(t, 1, list.Nodes()[0].ID())
	assert.Equal(t, Address(2*chunklevel.MaxChunkWordSize), c.Base())
	require.NoError(t, m.Verify())
}

func TestVirtualSpaceList_PrintOn(t *testing.T) {
	list := newTestList(t, func(conf *ListConfig) {
		conf.NodeWordSize = chunklevel.MaxChunkWordSize
		conf.CommitGranuleWords = chunklevel.MaxChunkWordSize / 8
	})
	m := newTestManager(t, "print", list, func(s *Settings) {
		s.CommitGranuleWords = chunklevel.MaxChunkWordSize / 8
	})

	_, err := m.GetChunk(3, 3, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	list.PrintOn(&buf)
	assert.Equal(t, "vsl test: 1 nodes, reserved 4.00 MB, committed 512.00 KB\n"+
		"node 0: base 0x80000, used 4.00 MB of 4.00 MB, committed 512.00 KB\n"+
		"commit mask: X-------\n", buf.String())
}

func TestChunkManager_Concurrent(t *testing.T) {
	list := newTestList(t)
	class := newTestManager(t, "class", list)
	nonClass := newTestManager(t, "nonclass", list)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		m := class
		if i%2 == 1 {
			m = nonClass
		}
		level := chunklevel.Level(4 + i)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				c, err := m.GetChunk(level, level, 64)
				if err != nil {
					t.Error(err)
					return
				}
				if _, ok := c.Allocate(64); !ok {
					t.Error("allocate failed")
				}
				m.ReturnChunk(c)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, class.Verify())
	require.NoError(t, nonClass.Verify())

	var stats ChunkManagerStats
	class.AddToStatistics(&stats)
	nonClass.AddToStatistics(&stats)
	var handedOut uint64
	for _, n := range list.Nodes() {
		handedOut += n.UsedWords()
	}
	assert.Equal(t, handedOut, stats.TotalWordSize())
	assert.Equal(t, uint64(0), list.CommittedWords()%testGranule)
}

func TestChunkManager_Verify_WhileHolderAllocates(t *testing.T) {
	list := newTestList(t)
	m := newTestManager(t, "test", list)

	c, err := m.GetChunk(6, 6, 2000)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			if _, ok := c.Allocate(1); !ok {
				t.Error("allocate failed")
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Verify())
		other, err := m.GetChunk(8, 8, 1)
		require.NoError(t, err)
		m.ReturnChunk(other)
	}
	<-done

	assert.Equal(t, uint64(2000), c.UsedWords())
	m.ReturnChunk(c)
	require.NoError(t, m.Verify())
}

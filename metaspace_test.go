package metaspace

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/QuangTung97/metaspace/allocator"
	"github.com/QuangTung97/metaspace/arena"
	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetaspace(t *testing.T, modify ...func(conf *Config)) *Metaspace {
	t.Helper()

	conf := DefaultConfig()
	conf.Settings.VerifyOperations = true
	for _, fn := range modify {
		fn(&conf)
	}
	ms, err := New(conf)
	require.NoError(t, err)
	return ms
}

func TestNew(t *testing.T) {
	ms := newTestMetaspace(t)

	assert.Equal(t, "class", ms.ClassSpace().Name())
	assert.Equal(t, "non-class", ms.NonClassSpace().Name())
	assert.Same(t, ms.Limiter(), ms.ClassSpace().List().Limiter())
	assert.Same(t, ms.Limiter(), ms.NonClassSpace().List().Limiter())

	// the class space is reserved up front
	assert.Equal(t, 4*chunklevel.MaxChunkWordSize, ms.ReservedWords())
	assert.Equal(t, 1, len(ms.ClassSpace().List().Nodes()))
	assert.Equal(t, 0, len(ms.NonClassSpace().List().Nodes()))
	require.NoError(t, ms.Verify())
}

func TestNew_InvalidConfig(t *testing.T) {
	conf := DefaultConfig()
	conf.ClassSpace.NodeWordSize = 0
	_, err := New(conf)
	assert.Error(t, err)
}

func TestContext_Arenas(t *testing.T) {
	ms := newTestMetaspace(t)

	class, err := ms.ClassSpace().NewArena(arena.Config{Name: "class", Level: 10})
	require.NoError(t, err)
	nonClass, err := ms.NonClassSpace().NewArena(arena.Config{Name: "non-class", Level: 4, Enlarge: true})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := class.Allocate(100)
		require.NoError(t, err)
		_, err = nonClass.Allocate(1000)
		require.NoError(t, err)
	}
	require.NoError(t, ms.Verify())
	assert.Equal(t, 6*chunklevel.MaxChunkWordSize, ms.ReservedWords())
	assert.Equal(t, ms.Limiter().CommittedWords(), ms.CommittedWords())

	class.Release()
	nonClass.Release()
	require.NoError(t, ms.Verify())
	assert.Equal(t, uint64(0), ms.CommittedWords())

	reports := ms.WholesaleReclaim()
	require.Equal(t, 2, len(reports))
	assert.True(t, reports[0].NothingReclaimed())
	assert.Equal(t, 1, reports[1].NodesPurged)
	assert.Equal(t, 4*chunklevel.MaxChunkWordSize, ms.ReservedWords())

	stats := ms.Statistics()
	// only one class space root chunk was ever handed out
	assert.Equal(t, 1, stats.NumChunks[chunklevel.RootChunkLevel])
	assert.Equal(t, 1, stats.TotalNumChunks())
}

func TestMetaspace_SharedCommitLimit(t *testing.T) {
	granule := allocator.DefaultCommitGranuleWords
	ms := newTestMetaspace(t, func(conf *Config) {
		conf.CommitLimitWords = 4 * granule
	})

	nonClass, err := ms.NonClassSpace().NewArena(arena.Config{Name: "non-class", Level: 2})
	require.NoError(t, err)
	_, err = nonClass.Allocate(3 * granule)
	require.NoError(t, err)

	class, err := ms.ClassSpace().NewArena(arena.Config{Name: "class", Level: 4})
	require.NoError(t, err)
	_, err = class.Allocate(2 * granule)
	assert.True(t, errors.Is(err, allocator.ErrCommitLimitReached))
	_, err = class.Allocate(granule)
	require.NoError(t, err)

	assert.Equal(t, 4*granule, ms.CommittedWords())
	require.NoError(t, ms.Verify())
}

func TestMetaspace_PrintOn(t *testing.T) {
	ms := newTestMetaspace(t)
	a, err := ms.NonClassSpace().NewArena(arena.Config{Name: "non-class", Level: 1})
	require.NoError(t, err)
	_, err = a.Allocate(10)
	require.NoError(t, err)

	var buf bytes.Buffer
	ms.PrintOn(&buf)
	out := buf.String()

	assert.Contains(t, out, "vsl class-space: 1 nodes, reserved 16.00 MB, committed 0 bytes\n")
	assert.Contains(t, out, "vsl non-class-space: 1 nodes, reserved 8.00 MB, committed 64.00 KB\n")
	assert.Contains(t, out, "cm non-class: 1 chunks")
	assert.Contains(t, out, "commit limiter: 8192 words committed, limit 0 words\n")
}

func TestMetaspace_PrintDetailedMap(t *testing.T) {
	ms := newTestMetaspace(t)
	a, err := ms.ClassSpace().NewArena(arena.Config{Name: "class", Level: 3})
	require.NoError(t, err)
	_, err = a.Allocate(1)
	require.NoError(t, err)

	w := jwriter.NewWriter()
	obj := w.Object()
	ms.PrintDetailedMap(obj)
	obj.End()
	require.NoError(t, w.Error())

	var out struct {
		CommittedWords uint64 `json:"committedWords"`
		Spaces         []struct {
			Name      string `json:"name"`
			NumChunks int    `json:"numChunks"`
		} `json:"spaces"`
	}
	require.NoError(t, json.Unmarshal(w.Bytes(), &out))

	assert.Equal(t, allocator.DefaultCommitGranuleWords, out.CommittedWords)
	require.Equal(t, 2, len(out.Spaces))
	assert.Equal(t, "class", out.Spaces[0].Name)
	assert.Equal(t, 3, out.Spaces[0].NumChunks)
	assert.Equal(t, "non-class", out.Spaces[1].Name)
	assert.Equal(t, 0, out.Spaces[1].NumChunks)
}

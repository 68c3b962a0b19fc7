package vmem

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulate(t *testing.T) {
	r, err := Simulate(1024)
	require.NoError(t, err)

	assert.Equal(t, uint64(1024), r.WordSize())
	assert.Equal(t, uint64(1), r.Granularity())
	assert.NoError(t, r.Commit(0, 512))
	assert.NoError(t, r.Uncommit(512, 512))
	assert.Nil(t, r.Bytes(0, 512))

	err = r.Commit(1000, 100)
	assert.True(t, errors.Is(err, ErrRange))

	require.NoError(t, r.Release())
	assert.True(t, errors.Is(r.Commit(0, 1), ErrReleased))
	assert.True(t, errors.Is(r.Release(), ErrReleased))
}

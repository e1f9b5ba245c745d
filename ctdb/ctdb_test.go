package ctdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha(b byte) [32]byte {
	var s [32]byte
	s[0] = b
	return s
}

func TestCullEndPromotesMarkedAndDropsStale(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "ct.db"))
	require.NoError(t, err)
	defer db.Close()

	shaA, shaB := sha(1), sha(2)

	require.NoError(t, db.CullStart())
	require.NoError(t, db.CullMark(shaA))
	require.NoError(t, db.CullEnd(1))

	live, err := db.IsLive(shaA)
	require.NoError(t, err)
	assert.True(t, live)

	gen, err := db.CurrentGeneration()
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)

	// Second cull: only B marked live, A should be swept.
	require.NoError(t, db.CullStart())
	require.NoError(t, db.CullMark(shaB))
	require.NoError(t, db.CullEnd(2))

	liveA, err := db.IsLive(shaA)
	require.NoError(t, err)
	assert.False(t, liveA, "A was not remarked this sweep, so it must be culled")

	liveB, err := db.IsLive(shaB)
	require.NoError(t, err)
	assert.True(t, liveB)
}

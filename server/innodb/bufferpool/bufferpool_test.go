package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/page"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/pagemanager"
)

func newPool(t *testing.T, capacity int) (*Pool, *pagemanager.Manager) {
	t.Helper()
	pm, err := pagemanager.New(t.TempDir())
	require.NoError(t, err)
	return New(capacity, pm), pm
}

func TestFetchPinsAndUnpinTracksDirty(t *testing.T) {
	pool, pm := newPool(t, 4)
	id, err := pm.AllocatePage("t")
	require.NoError(t, err)

	h, err := pool.Fetch("t", id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.Page.PinCount)

	_, err = h.Page.InsertTuple([]byte("hello"))
	require.NoError(t, err)
	pool.Unpin(h, true)
	assert.EqualValues(t, 0, h.Page.PinCount)
	require.Len(t, pool.GetDirtyPages(), 1)

	require.NoError(t, pool.FlushPage("t", id))
	assert.Empty(t, pool.GetDirtyPages())

	// The flushed body must be readable straight from disk.
	buf, err := pm.ReadPage("t", id)
	require.NoError(t, err)
	body, err := page.FromBytes(buf).ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
}

func TestEvictionFlushesDirtyLRUVictim(t *testing.T) {
	pool, pm := newPool(t, 2)
	var ids []uint32
	for i := 0; i < 3; i++ {
		id, err := pm.AllocatePage("t")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	h0, err := pool.Fetch("t", ids[0])
	require.NoError(t, err)
	_, err = h0.Page.InsertTuple([]byte("survives eviction"))
	require.NoError(t, err)
	pool.Unpin(h0, true)

	h1, err := pool.Fetch("t", ids[1])
	require.NoError(t, err)
	pool.Unpin(h1, false)

	// Pool is at capacity; fetching a third page evicts the LRU page 0,
	// flushing it first because it is dirty.
	h2, err := pool.Fetch("t", ids[2])
	require.NoError(t, err)
	pool.Unpin(h2, false)

	buf, err := pm.ReadPage("t", ids[0])
	require.NoError(t, err)
	body, err := page.FromBytes(buf).ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives eviction"), body)

	// Re-fetching the evicted page reloads it from disk intact.
	h0, err = pool.Fetch("t", ids[0])
	require.NoError(t, err)
	body, err = h0.Page.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives eviction"), body)
	pool.Unpin(h0, false)
}

func TestPinnedPageIsNeverEvicted(t *testing.T) {
	pool, pm := newPool(t, 1)
	id0, err := pm.AllocatePage("t")
	require.NoError(t, err)
	id1, err := pm.AllocatePage("t")
	require.NoError(t, err)

	h0, err := pool.Fetch("t", id0)
	require.NoError(t, err)

	_, err = pool.Fetch("t", id1)
	require.ErrorIs(t, err, basic.ErrPoolExhausted, "the only cached page is pinned")

	pool.Unpin(h0, false)
	h1, err := pool.Fetch("t", id1)
	require.NoError(t, err)
	pool.Unpin(h1, false)
}

func TestFlushAllWritesEveryDirtyPage(t *testing.T) {
	pool, pm := newPool(t, 4)
	for i := 0; i < 3; i++ {
		id, err := pm.AllocatePage("t")
		require.NoError(t, err)
		h, err := pool.Fetch("t", id)
		require.NoError(t, err)
		_, err = h.Page.InsertTuple([]byte{byte('a' + i)})
		require.NoError(t, err)
		pool.Unpin(h, true)
	}
	require.Len(t, pool.GetDirtyPages(), 3)
	require.NoError(t, pool.FlushAll())
	assert.Empty(t, pool.GetDirtyPages())
}

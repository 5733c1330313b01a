package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginCommitVisibility(t *testing.T) {
	m := New()

	id1, _ := m.Begin()
	require.NoError(t, m.Commit(id1))

	s := m.Snapshot()
	assert.True(t, m.Visible(id1, 0, 0, s))
}

func TestUncommittedInvisibleToOtherSnapshot(t *testing.T) {
	m := New()

	id1, _ := m.Begin()
	id2, s2 := m.Begin()
	_ = id2

	// id1 has not committed yet: a snapshot taken while it is active
	// must not see its writes.
	assert.False(t, m.Visible(id1, 0, 0, s2))

	require.NoError(t, m.Commit(id1))
	s3 := m.Snapshot()
	assert.True(t, m.Visible(id1, 0, 0, s3))
}

func TestAbortedNeverVisible(t *testing.T) {
	m := New()

	id1, _ := m.Begin()
	require.NoError(t, m.Abort(id1))

	s := m.Snapshot()
	assert.False(t, m.Visible(id1, 0, 0, s))
}

func TestOwnUncommittedWriteVisibleWithinSameTransaction(t *testing.T) {
	m := New()

	id1, _ := m.Begin()
	// A fresh snapshot taken before id1 commits still belongs to the
	// same open transaction (read-committed re-snapshots before each
	// statement per spec.md §4.9); passing id1 as currentTx must make
	// id1's own still-uncommitted row visible to itself.
	s := m.Snapshot()
	assert.False(t, m.Visible(id1, 0, 0, s), "not visible to an unrelated reader")
	assert.True(t, m.Visible(id1, 0, id1, s), "visible to its own transaction")
}

func TestOwnUncommittedDeleteInvisibleWithinSameTransaction(t *testing.T) {
	m := New()

	idIns, _ := m.Begin()
	require.NoError(t, m.Commit(idIns))

	idDel, _ := m.Begin()
	s := m.Snapshot()
	assert.True(t, m.Visible(idIns, idDel, 0, s), "still visible to an unrelated reader while idDel is active")
	assert.False(t, m.Visible(idIns, idDel, idDel, s), "invisible to the transaction that just deleted it")
}

func TestDeletedRowInvisibleOnceXmaxCommitted(t *testing.T) {
	m := New()

	idIns, _ := m.Begin()
	require.NoError(t, m.Commit(idIns))

	idDel, _ := m.Begin()

	// While the deleting tx is still active, the row is still visible to
	// a fresh snapshot (xmax is active, per the visibility rule).
	sMid := m.Snapshot()
	assert.True(t, m.Visible(idIns, idDel, 0, sMid))

	require.NoError(t, m.Commit(idDel))

	sAfter := m.Snapshot()
	assert.False(t, m.Visible(idIns, idDel, 0, sAfter))
}

func TestOldestActive(t *testing.T) {
	m := New()
	_, ok := m.OldestActive()
	assert.False(t, ok)

	id1, _ := m.Begin()
	id2, _ := m.Begin()
	oldest, ok := m.OldestActive()
	require.True(t, ok)
	assert.Equal(t, id1, oldest)

	require.NoError(t, m.Commit(id1))
	oldest, ok = m.OldestActive()
	require.True(t, ok)
	assert.Equal(t, id2, oldest)
}

func TestRecoveredCheckpointFloorDeterminesCommitStatus(t *testing.T) {
	m := New()
	m.MarkRecoveredCheckpoint(10, []uint64{7})

	assert.True(t, m.Committed(5), "below the floor and not active at the checkpoint")
	assert.False(t, m.Committed(7), "active at the checkpoint with no terminal record")
	assert.True(t, m.Aborted(7), "crashed without finalizing: treated as aborted")
	assert.False(t, m.Committed(12), "above the floor with no record at all")

	// An explicit replayed terminal record overrides the floor.
	m.MarkRecovered(7, StatusCommitted)
	assert.True(t, m.Committed(7))
	assert.False(t, m.Aborted(7))
}

func TestSeedNextIDMonotonic(t *testing.T) {
	m := New()
	m.SeedNextID(50)
	id, _ := m.Begin()
	assert.Equal(t, uint64(51), id)
}

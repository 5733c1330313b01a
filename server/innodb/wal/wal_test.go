package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	_, err = w.Append(Record{Kind: KindBeginTx, TxID: 1})
	require.NoError(t, err)
	_, err = w.Append(Record{Kind: KindInsert, TxID: 1, Table: "t", PageID: 0, Slot: 0, Xmin: 1})
	require.NoError(t, err)
	_, err = w.Append(Record{Kind: KindCommitTx, TxID: 1})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := Open(dir)
	require.NoError(t, err)

	var kinds []Kind
	err = w2.Replay(func(r Record) error {
		kinds = append(kinds, r.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindBeginTx, KindInsert, KindCommitTx}, kinds)
}

func TestRotationAndPruning(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	big := make([]byte, segmentMaxBytes/2)
	for i := 0; i < 8; i++ {
		_, err := w.Append(Record{Kind: KindAlterTable, DDLName: "t", DDLBlob: big})
		require.NoError(t, err)
	}
	require.NoError(t, w.Checkpoint(1, nil))
	require.NoError(t, w.Close())

	segs, err := listSegments(dir)
	require.NoError(t, err)
	// current + at most the two most recently sealed segments
	assert.LessOrEqual(t, len(segs), retainedSealed+1)
}

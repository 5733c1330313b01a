package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/exec/ddl"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/exec/dml"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/wal"
)

func createIDTable(t *testing.T, eng *engine.Engine) {
	t.Helper()
	require.NoError(t, ddl.New(eng).CreateTable(ast.CreateTable{
		Table: "t",
		Columns: []ast.ColumnDef{
			{Name: "id", Type: catalog.TypeNumeric, Nullable: true},
		},
	}, "postgres"))
}

// insertIDs runs one committed transaction inserting the given ids,
// framing it with BeginTx/CommitTx WAL records the way the session
// layer does.
func insertIDs(t *testing.T, eng *engine.Engine, ids ...int64) {
	t.Helper()
	m := dml.New(eng)
	txID, snap := eng.Txn.Begin()
	_, err := eng.WAL.Append(wal.Record{Kind: wal.KindBeginTx, TxID: txID})
	require.NoError(t, err)
	for _, id := range ids {
		_, err := m.Insert(ast.Insert{Table: "t", Rows: [][]ast.Expr{{ast.Literal{Value: basic.IntV(id)}}}}, txID, snap)
		require.NoError(t, err)
	}
	require.NoError(t, eng.Txn.Commit(txID))
	_, err = eng.WAL.Append(wal.Record{Kind: wal.KindCommitTx, TxID: txID})
	require.NoError(t, err)
}

// visibleIDs scans t through a fresh snapshot and returns the id column
// of every visible row.
func visibleIDs(t *testing.T, eng *engine.Engine) []int64 {
	t.Helper()
	rows, err := eng.Table("t").Scan()
	require.NoError(t, err)
	snap := eng.Txn.Snapshot()
	var out []int64
	for _, lr := range rows {
		if eng.Txn.Visible(lr.Row.Xmin, lr.Row.Xmax, 0, snap) {
			out = append(out, lr.Row.Values[0].Num.IntPart())
		}
	}
	return out
}

func TestRecoveryCommittedRowsSurviveCrash(t *testing.T) {
	dir := t.TempDir()

	eng1, err := engine.Open(dir)
	require.NoError(t, err)
	createIDTable(t, eng1)
	insertIDs(t, eng1, 1)
	insertIDs(t, eng1, 2)
	// No Close: simulate the process being killed without graceful
	// shutdown. Pages and WAL were synced per-statement.

	eng2, err := engine.Open(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, visibleIDs(t, eng2))
}

func TestRecoveryTreatsUnfinalizedTransactionAsAborted(t *testing.T) {
	dir := t.TempDir()

	eng1, err := engine.Open(dir)
	require.NoError(t, err)
	createIDTable(t, eng1)
	insertIDs(t, eng1, 1)

	// A transaction with a BeginTx record and tuples on disk, but no
	// CommitTx at crash time.
	m := dml.New(eng1)
	txID, snap := eng1.Txn.Begin()
	_, err = eng1.WAL.Append(wal.Record{Kind: wal.KindBeginTx, TxID: txID})
	require.NoError(t, err)
	_, err = m.Insert(ast.Insert{Table: "t", Rows: [][]ast.Expr{{ast.Literal{Value: basic.IntV(99)}}}}, txID, snap)
	require.NoError(t, err)

	eng2, err := engine.Open(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1}, visibleIDs(t, eng2),
		"a transaction not finalized in WAL must be invisible after restart")
}

func TestRecoveryAbortedTransactionStaysInvisible(t *testing.T) {
	dir := t.TempDir()

	eng1, err := engine.Open(dir)
	require.NoError(t, err)
	createIDTable(t, eng1)

	m := dml.New(eng1)
	txID, snap := eng1.Txn.Begin()
	_, err = eng1.WAL.Append(wal.Record{Kind: wal.KindBeginTx, TxID: txID})
	require.NoError(t, err)
	_, err = m.Insert(ast.Insert{Table: "t", Rows: [][]ast.Expr{{ast.Literal{Value: basic.IntV(5)}}}}, txID, snap)
	require.NoError(t, err)
	require.NoError(t, eng1.Txn.Abort(txID))
	_, err = eng1.WAL.Append(wal.Record{Kind: wal.KindAbortTx, TxID: txID})
	require.NoError(t, err)

	eng2, err := engine.Open(dir)
	require.NoError(t, err)
	assert.Empty(t, visibleIDs(t, eng2))
}

func TestRecoverySeedsTxIDCounterPastReplayedIDs(t *testing.T) {
	dir := t.TempDir()

	eng1, err := engine.Open(dir)
	require.NoError(t, err)
	createIDTable(t, eng1)
	insertIDs(t, eng1, 1)
	insertIDs(t, eng1, 2)
	lastID, _ := eng1.Txn.Begin()
	_, err = eng1.WAL.Append(wal.Record{Kind: wal.KindBeginTx, TxID: lastID})
	require.NoError(t, err)

	eng2, err := engine.Open(dir)
	require.NoError(t, err)
	newID, _ := eng2.Txn.Begin()
	assert.Greater(t, newID, lastID, "recovered engine must never reissue a replayed tx id")
}

func TestRecoveryRebuildsIndexes(t *testing.T) {
	dir := t.TempDir()

	eng1, err := engine.Open(dir)
	require.NoError(t, err)
	createIDTable(t, eng1)
	require.NoError(t, ddl.New(eng1).CreateIndex(ast.CreateIndex{
		Name: "idx_id", Table: "t", Columns: []string{"id"}, Kind: catalog.IndexOrdered,
	}))
	insertIDs(t, eng1, 42)

	eng2, err := engine.Open(dir)
	require.NoError(t, err)
	idx, ok := eng2.Index("idx_id")
	require.True(t, ok, "index must be rebuilt during Open, not on first use")
	locs := idx.LookupEq(basic.EncodeKey(basic.IntV(42)))
	require.Len(t, locs, 1)

	row, err := eng2.Table("t").Get(locs[0])
	require.NoError(t, err)
	assert.EqualValues(t, 42, row.Values[0].Num.IntPart())
}

func TestCheckpointAfterThresholdTruncatesNothingVisible(t *testing.T) {
	dir := t.TempDir()

	eng1, err := engine.Open(dir)
	require.NoError(t, err)
	createIDTable(t, eng1)

	// Cross the 100-record checkpoint threshold: each transaction
	// appends BeginTx, Insert and CommitTx.
	for i := int64(1); i <= 60; i++ {
		insertIDs(t, eng1, i)
		require.NoError(t, eng1.MaybeCheckpoint())
	}

	eng2, err := engine.Open(dir)
	require.NoError(t, err)
	ids := visibleIDs(t, eng2)
	assert.Len(t, ids, 60, "checkpointing must not lose committed rows across restart")
}

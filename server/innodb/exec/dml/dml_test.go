package dml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/exec/ddl"
)

func setupUsersTable(t *testing.T) (*engine.Engine, *Executor) {
	t.Helper()
	eng, err := engine.Open(t.TempDir())
	require.NoError(t, err)

	d := ddl.New(eng)
	require.NoError(t, d.CreateTable(ast.CreateTable{
		Table: "users",
		Columns: []ast.ColumnDef{
			{Name: "id", Type: 0, PrimaryKey: true},
			{Name: "name", Type: 1},
		},
	}, "postgres"))
	return eng, New(eng)
}

func literalRow(vals ...basic.Value) []ast.Expr {
	out := make([]ast.Expr, len(vals))
	for i, v := range vals {
		out[i] = ast.Literal{Value: v}
	}
	return out
}

func TestInsertAndVisibility(t *testing.T) {
	eng, x := setupUsersTable(t)

	txID, snap := eng.Txn.Begin()
	n, err := x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.StringV("Alice"))}}, txID, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Uncommitted: invisible to a snapshot taken by a concurrent reader.
	otherSnap := eng.Txn.Snapshot()
	rows, err := x.visibleRows("users", 0, otherSnap)
	require.NoError(t, err)
	assert.Len(t, rows, 0)

	require.NoError(t, eng.Txn.Commit(txID))

	afterSnap := eng.Txn.Snapshot()
	rows, err = x.visibleRows("users", 0, afterSnap)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].Row.Values[1].Str)
}

func TestUniqueViolation(t *testing.T) {
	eng, x := setupUsersTable(t)

	tx1, snap1 := eng.Txn.Begin()
	_, err := x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.StringV("Alice"))}}, tx1, snap1)
	require.NoError(t, err)
	require.NoError(t, eng.Txn.Commit(tx1))

	tx2, snap2 := eng.Txn.Begin()
	_, err = x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.StringV("Bob"))}}, tx2, snap2)
	require.ErrorIs(t, err, basic.ErrUniqueViolation)
}

func TestUpdateStampsOldAndInsertsNew(t *testing.T) {
	eng, x := setupUsersTable(t)

	tx1, snap1 := eng.Txn.Begin()
	_, err := x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.StringV("Alice"))}}, tx1, snap1)
	require.NoError(t, err)
	require.NoError(t, eng.Txn.Commit(tx1))

	tx2, snap2 := eng.Txn.Begin()
	n, err := x.Update(ast.Update{
		Table: "users",
		Set:   []ast.Assignment{{Column: "name", Value: ast.Literal{Value: basic.StringV("Alicia")}}},
		Where: ast.Binary{Op: ast.OpEq, Left: ast.ColumnRef{Column: "id"}, Right: ast.Literal{Value: basic.IntV(1)}},
	}, tx2, snap2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, eng.Txn.Commit(tx2))

	rows, err := x.visibleRows("users", 0, eng.Txn.Snapshot())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alicia", rows[0].Row.Values[1].Str)
}

func TestUpdateSeesOwnUncommittedInsertWithinSameTransaction(t *testing.T) {
	// spec.md §4.9: inside an open BEGIN…COMMIT block, a fresh snapshot
	// is taken before each statement, but statements still see their own
	// transaction's earlier, still-uncommitted writes.
	eng, x := setupUsersTable(t)

	tx1, snap1 := eng.Txn.Begin()
	_, err := x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.StringV("Alice"))}}, tx1, snap1)
	require.NoError(t, err)

	snap2 := eng.Txn.Snapshot() // fresh per-statement snapshot, tx1 still uncommitted
	n, err := x.Update(ast.Update{
		Table: "users",
		Set:   []ast.Assignment{{Column: "name", Value: ast.Literal{Value: basic.StringV("Alicia")}}},
		Where: ast.Binary{Op: ast.OpEq, Left: ast.ColumnRef{Column: "id"}, Right: ast.Literal{Value: basic.IntV(1)}},
	}, tx1, snap2)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "UPDATE must match the row its own transaction just inserted")
	require.NoError(t, eng.Txn.Commit(tx1))

	rows, err := x.visibleRows("users", 0, eng.Txn.Snapshot())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alicia", rows[0].Row.Values[1].Str)
}

func TestInsertResolvesSessionFunctions(t *testing.T) {
	eng, x := setupUsersTable(t)

	tx1, snap1 := eng.Txn.Begin()
	_, err := x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{
		{ast.Literal{Value: basic.IntV(1)}, ast.FuncCall{Name: "current_user"}},
	}}, tx1, snap1)
	require.NoError(t, err)
	require.NoError(t, eng.Txn.Commit(tx1))

	rows, err := x.visibleRows("users", 0, eng.Txn.Snapshot())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "postgres", rows[0].Row.Values[1].Str)
}

func TestForeignKeyRejection(t *testing.T) {
	eng, x := setupUsersTable(t)

	d := ddl.New(eng)
	require.NoError(t, d.CreateTable(ast.CreateTable{
		Table: "orders",
		Columns: []ast.ColumnDef{
			{Name: "id", Type: 0, Nullable: true},
			{Name: "user_id", Type: 0, Nullable: true, References: &catalog.ForeignKey{Table: "users", Column: "id"}},
			{Name: "product", Type: 1, Nullable: true},
		},
	}, "postgres"))

	tx1, snap1 := eng.Txn.Begin()
	_, err := x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.StringV("Alice"))}}, tx1, snap1)
	require.NoError(t, err)
	require.NoError(t, eng.Txn.Commit(tx1))

	tx2, snap2 := eng.Txn.Begin()
	_, err = x.Insert(ast.Insert{Table: "orders", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.IntV(99), basic.StringV("Mouse"))}}, tx2, snap2)
	require.ErrorIs(t, err, basic.ErrForeignKeyViolated)
	require.NoError(t, eng.Txn.Abort(tx2))

	rows, err := x.visibleRows("orders", 0, eng.Txn.Snapshot())
	require.NoError(t, err)
	assert.Len(t, rows, 0, "the failing statement must leave no observable effect")

	// A matching referenced key is accepted.
	tx3, snap3 := eng.Txn.Begin()
	_, err = x.Insert(ast.Insert{Table: "orders", Rows: [][]ast.Expr{literalRow(basic.IntV(2), basic.IntV(1), basic.StringV("Keyboard"))}}, tx3, snap3)
	require.NoError(t, err)
	require.NoError(t, eng.Txn.Commit(tx3))
}

func TestDeleteMarksDeadTuple(t *testing.T) {
	eng, x := setupUsersTable(t)

	tx1, snap1 := eng.Txn.Begin()
	_, err := x.Insert(ast.Insert{Table: "users", Rows: [][]ast.Expr{literalRow(basic.IntV(1), basic.StringV("Alice"))}}, tx1, snap1)
	require.NoError(t, err)
	require.NoError(t, eng.Txn.Commit(tx1))

	tx2, snap2 := eng.Txn.Begin()
	n, err := x.Delete(ast.Delete{Table: "users", Where: ast.Binary{Op: ast.OpEq, Left: ast.ColumnRef{Column: "id"}, Right: ast.Literal{Value: basic.IntV(1)}}}, tx2, snap2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, eng.Txn.Commit(tx2))

	rows, err := x.visibleRows("users", 0, eng.Txn.Snapshot())
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

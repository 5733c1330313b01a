package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/dispatcher"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
)

// newSessions opens a fresh engine and returns two sessions sharing it,
// the way two client connections would.
func newSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	eng, err := engine.Open(t.TempDir())
	require.NoError(t, err)
	disp := dispatcher.New(eng)
	return New(eng, disp, "postgres", "postgres"), New(eng, disp, "postgres", "postgres")
}

func intLit(i int64) ast.Expr  { return ast.Literal{Value: basic.IntV(i)} }
func strLit(s string) ast.Expr { return ast.Literal{Value: basic.StringV(s)} }

func selectAll(table string) ast.Select {
	return ast.Select{
		Projections: []ast.Projection{{Expr: ast.Star{}}},
		From:        ast.TableRef{Name: table},
	}
}

func TestMVCCIsolationAcrossConnections(t *testing.T) {
	sA, sB := newSessions(t)

	_, err := sA.Execute(ast.CreateTable{Table: "users", Columns: []ast.ColumnDef{
		{Name: "id", Type: catalog.TypeNumeric, Nullable: true},
		{Name: "name", Type: catalog.TypeString, Nullable: true},
	}})
	require.NoError(t, err)

	_, err = sA.Execute(ast.Begin{})
	require.NoError(t, err)
	_, err = sA.Execute(ast.Insert{Table: "users", Rows: [][]ast.Expr{{intLit(1), strLit("Alice")}}})
	require.NoError(t, err)

	res, err := sB.Execute(selectAll("users"))
	require.NoError(t, err)
	assert.Len(t, res.Rows.Rows, 0, "uncommitted insert must be invisible to another connection")

	_, err = sA.Execute(ast.Commit{})
	require.NoError(t, err)

	res, err = sB.Execute(selectAll("users"))
	require.NoError(t, err)
	require.Len(t, res.Rows.Rows, 1)
	assert.Equal(t, "Alice", res.Rows.Rows[0][1].Str)
}

func TestStatementErrorInsideBlockFailsSession(t *testing.T) {
	sA, _ := newSessions(t)

	_, err := sA.Execute(ast.Begin{})
	require.NoError(t, err)
	assert.Equal(t, StatusInTxn, sA.Status())

	_, err = sA.Execute(ast.Insert{Table: "missing", Rows: [][]ast.Expr{{intLit(1)}}})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, sA.Status())

	// Everything but ROLLBACK is refused with the fixed error.
	_, err = sA.Execute(selectAll("missing"))
	require.ErrorIs(t, err, basic.ErrTransactionFailed)

	_, err = sA.Execute(ast.Rollback{})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, sA.Status())
}

func TestCommitOnFailedBlockBehavesLikeRollback(t *testing.T) {
	sA, sB := newSessions(t)

	_, err := sA.Execute(ast.CreateTable{Table: "t", Columns: []ast.ColumnDef{
		{Name: "id", Type: catalog.TypeNumeric, Nullable: true},
	}})
	require.NoError(t, err)

	_, err = sA.Execute(ast.Begin{})
	require.NoError(t, err)
	_, err = sA.Execute(ast.Insert{Table: "t", Rows: [][]ast.Expr{{intLit(1)}}})
	require.NoError(t, err)
	_, err = sA.Execute(ast.Insert{Table: "missing", Rows: [][]ast.Expr{{intLit(2)}}})
	require.Error(t, err)

	res, err := sA.Execute(ast.Commit{})
	require.NoError(t, err)
	assert.Equal(t, "ROLLBACK", res.Tag)
	assert.Equal(t, StatusIdle, sA.Status())

	res, err = sB.Execute(selectAll("t"))
	require.NoError(t, err)
	assert.Len(t, res.Rows.Rows, 0, "writes of the failed block must never become visible")
}

func TestTransactionStateErrors(t *testing.T) {
	sA, _ := newSessions(t)

	_, err := sA.Execute(ast.Commit{})
	require.ErrorIs(t, err, basic.ErrNoActiveTransaction)
	_, err = sA.Execute(ast.Rollback{})
	require.ErrorIs(t, err, basic.ErrNoActiveTransaction)

	_, err = sA.Execute(ast.Begin{})
	require.NoError(t, err)
	_, err = sA.Execute(ast.Begin{})
	require.ErrorIs(t, err, basic.ErrTransactionInProgress)
	_, err = sA.Execute(ast.Rollback{})
	require.NoError(t, err)
}

func TestSerialAutoIncrementWithExplicitOverride(t *testing.T) {
	sA, _ := newSessions(t)

	_, err := sA.Execute(ast.CreateTable{Table: "t", Columns: []ast.ColumnDef{
		{Name: "id", Type: catalog.TypeNumeric, Serial: true, Nullable: true},
		{Name: "n", Type: catalog.TypeString, Nullable: true},
	}})
	require.NoError(t, err)

	for _, stmt := range []ast.Insert{
		{Table: "t", Columns: []string{"n"}, Rows: [][]ast.Expr{{strLit("a")}}},
		{Table: "t", Columns: []string{"n"}, Rows: [][]ast.Expr{{strLit("b")}}},
		{Table: "t", Rows: [][]ast.Expr{{intLit(10), strLit("c")}}},
		{Table: "t", Columns: []string{"n"}, Rows: [][]ast.Expr{{strLit("d")}}},
	} {
		_, err := sA.Execute(stmt)
		require.NoError(t, err)
	}

	res, err := sA.Execute(selectAll("t"))
	require.NoError(t, err)
	require.Len(t, res.Rows.Rows, 4)
	got := make(map[string]int64)
	for _, r := range res.Rows.Rows {
		got[r[1].Str] = r[0].Num.IntPart()
	}
	assert.EqualValues(t, 1, got["a"])
	assert.EqualValues(t, 2, got["b"])
	assert.EqualValues(t, 10, got["c"])
	assert.EqualValues(t, 11, got["d"], "sequence must continue past an explicit higher value")
}

func TestDDLAutoCommitsInsideTransactionBlock(t *testing.T) {
	sA, sB := newSessions(t)

	_, err := sA.Execute(ast.Begin{})
	require.NoError(t, err)
	_, err = sA.Execute(ast.CreateTable{Table: "t", Columns: []ast.ColumnDef{
		{Name: "id", Type: catalog.TypeNumeric, Nullable: true},
	}})
	require.NoError(t, err)

	// Visible to another connection before the block commits.
	res, err := sB.Execute(selectAll("t"))
	require.NoError(t, err)
	assert.Len(t, res.Rows.Rows, 0)

	// ... and it survives the block's rollback.
	_, err = sA.Execute(ast.Rollback{})
	require.NoError(t, err)
	_, err = sB.Execute(selectAll("t"))
	require.NoError(t, err)
}

func TestStandaloneStatementIsItsOwnTransaction(t *testing.T) {
	sA, sB := newSessions(t)

	_, err := sA.Execute(ast.CreateTable{Table: "t", Columns: []ast.ColumnDef{
		{Name: "id", Type: catalog.TypeNumeric, Nullable: true},
	}})
	require.NoError(t, err)

	res, err := sA.Execute(ast.Insert{Table: "t", Rows: [][]ast.Expr{{intLit(7)}}})
	require.NoError(t, err)
	assert.Equal(t, "INSERT 0 1", res.Tag)
	assert.Equal(t, StatusIdle, sA.Status())

	res, err = sB.Execute(selectAll("t"))
	require.NoError(t, err)
	require.Len(t, res.Rows.Rows, 1, "a stand-alone DML commits before its response is reported")
}

func TestZeroRowsAffectedIsNotAnError(t *testing.T) {
	sA, _ := newSessions(t)

	_, err := sA.Execute(ast.CreateTable{Table: "t", Columns: []ast.ColumnDef{
		{Name: "id", Type: catalog.TypeNumeric, Nullable: true},
	}})
	require.NoError(t, err)

	res, err := sA.Execute(ast.Update{
		Table: "t",
		Set:   []ast.Assignment{{Column: "id", Value: intLit(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE 0", res.Tag)

	res, err = sA.Execute(ast.Delete{Table: "t"})
	require.NoError(t, err)
	assert.Equal(t, "DELETE 0", res.Tag)
}

func TestPreparedStatementAndPortalCache(t *testing.T) {
	sA, _ := newSessions(t)

	stmt := selectAll("t")
	sA.Prepare("s1", stmt, []string{"int4"})
	ps, ok := sA.Statement("s1")
	require.True(t, ok)
	assert.Equal(t, []string{"int4"}, ps.ParamTypes)

	require.NoError(t, sA.Bind("p1", "s1", []basic.Value{basic.IntV(1)}))
	portal, ok := sA.Portal("p1")
	require.True(t, ok)
	assert.Equal(t, ps, portal.Statement)

	require.Error(t, sA.Bind("p2", "nope", nil), "binding an unknown statement must fail")

	sA.ClosePortal("p1")
	_, ok = sA.Portal("p1")
	assert.False(t, ok)

	sA.CloseStatement("s1")
	_, ok = sA.Statement("s1")
	assert.False(t, ok)

	// The unnamed statement is always overwritten by the next Parse.
	sA.Prepare("", stmt, nil)
	sA.Prepare("", selectAll("u"), nil)
	ps, ok = sA.Statement("")
	require.True(t, ok)
	assert.Equal(t, "u", ps.Stmt.(ast.Select).From.Name)
}

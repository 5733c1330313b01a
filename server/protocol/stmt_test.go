package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

func TestEncodeDecodeStmtRoundTrip(t *testing.T) {
	stmt := ast.Insert{
		Table:   "users",
		Columns: []string{"id", "name"},
		Rows: [][]ast.Expr{
			{
				ast.Literal{Value: basic.IntV(1)},
				ast.Literal{Value: basic.StringV("alice")},
			},
		},
	}

	text, err := EncodeStmt(stmt)
	require.NoError(t, err)
	require.NotEmpty(t, text)

	got, err := DecodeStmt(text)
	require.NoError(t, err)

	ins, ok := got.(ast.Insert)
	require.True(t, ok)
	assert.Equal(t, "users", ins.Table)
	assert.Equal(t, []string{"id", "name"}, ins.Columns)
	require.Len(t, ins.Rows, 1)
	require.Len(t, ins.Rows[0], 2)

	lit0, ok := ins.Rows[0][0].(ast.Literal)
	require.True(t, ok)
	assert.Equal(t, int64(1), lit0.Value.Num.IntPart())

	lit1, ok := ins.Rows[0][1].(ast.Literal)
	require.True(t, ok)
	assert.Equal(t, "alice", lit1.Value.Str)
}

func TestDecodeStmtRejectsGarbage(t *testing.T) {
	_, err := DecodeStmt("not a gob stream")
	assert.Error(t, err)
}

func TestEncodeDecodeBeginCommitRollback(t *testing.T) {
	for _, stmt := range []ast.Stmt{ast.Begin{}, ast.Commit{}, ast.Rollback{}} {
		text, err := EncodeStmt(stmt)
		require.NoError(t, err)
		got, err := DecodeStmt(text)
		require.NoError(t, err)
		assert.IsType(t, stmt, got)
	}
}

package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

func rowCtx(cols []string, vals []basic.Value) *Context {
	return &Context{Bindings: []Binding{{Alias: "t", Columns: cols, Values: vals}}}
}

func TestComparisonAndBoolLogic(t *testing.T) {
	e := New()
	ctx := rowCtx([]string{"a", "b"}, []basic.Value{basic.IntV(10), basic.IntV(20)})

	expr := ast.Binary{
		Op:   ast.OpAnd,
		Left: ast.Binary{Op: ast.OpGt, Left: ast.ColumnRef{Column: "a"}, Right: ast.Literal{Value: basic.IntV(5)}},
		Right: ast.Binary{
			Op: ast.OpLt, Left: ast.ColumnRef{Column: "b"}, Right: ast.Literal{Value: basic.IntV(100)},
		},
	}
	ok, err := e.EvalBool(expr, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLikePattern(t *testing.T) {
	assert.True(t, likeMatch("Alice", "A%e"))
	assert.True(t, likeMatch("Alice", "Al_ce"))
	assert.False(t, likeMatch("Bob", "A%"))
}

func TestBetween(t *testing.T) {
	e := New()
	ctx := rowCtx([]string{"a"}, []basic.Value{basic.IntV(15)})
	v, err := e.Eval(ast.Between{
		Expr: ast.ColumnRef{Column: "a"},
		Low:  ast.Literal{Value: basic.IntV(10)},
		High: ast.Literal{Value: basic.IntV(20)},
	}, ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v.Bool)
}

func TestCaseExpression(t *testing.T) {
	e := New()
	ctx := rowCtx([]string{"a"}, []basic.Value{basic.IntV(0)})
	v, err := e.Eval(ast.Case{
		Whens: []ast.WhenClause{
			{When: ast.Binary{Op: ast.OpEq, Left: ast.ColumnRef{Column: "a"}, Right: ast.Literal{Value: basic.IntV(1)}}, Then: ast.Literal{Value: basic.StringV("one")}},
		},
		Else: ast.Literal{Value: basic.StringV("other")},
	}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "other", v.Str)
}

func TestNullComparisonIsNullNotFalse(t *testing.T) {
	e := New()
	ctx := rowCtx([]string{"a"}, []basic.Value{basic.Null()})
	v, err := e.Eval(ast.Binary{Op: ast.OpEq, Left: ast.ColumnRef{Column: "a"}, Right: ast.Literal{Value: basic.IntV(1)}}, ctx)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	// But in a WHERE-style boolean context it collapses to false.
	ok, err := e.EvalBool(ast.Binary{Op: ast.OpEq, Left: ast.ColumnRef{Column: "a"}, Right: ast.Literal{Value: basic.IntV(1)}}, ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnresolvedSessionFuncErrorsInsteadOfPanicking(t *testing.T) {
	e := New()
	ctx := rowCtx(nil, nil)

	// current_user()/current_database() only carry a value after the
	// query executor's rewrite injects it; a bare call must error.
	_, err := e.Eval(ast.FuncCall{Name: "current_user"}, ctx)
	require.Error(t, err)
	_, err = e.Eval(ast.FuncCall{Name: "current_database"}, ctx)
	require.Error(t, err)
	_, err = e.Eval(ast.FuncCall{Name: "pg_table_size"}, ctx)
	require.Error(t, err)

	v, err := e.Eval(ast.FuncCall{Name: "current_user", Args: []ast.Expr{ast.Literal{Value: basic.StringV("alice")}}}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Str)
}

func TestAmbiguousColumnAcrossJoinBindings(t *testing.T) {
	ctx := &Context{Bindings: []Binding{
		{Alias: "a", Columns: []string{"id"}, Values: []basic.Value{basic.IntV(1)}},
		{Alias: "b", Columns: []string{"id"}, Values: []basic.Value{basic.IntV(2)}},
	}}
	e := New()
	_, err := e.Eval(ast.ColumnRef{Column: "id"}, ctx)
	require.Error(t, err)

	v, err := e.Eval(ast.ColumnRef{Table: "b", Column: "id"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Num.IntPart())
}

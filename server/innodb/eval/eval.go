// Package eval implements the ConditionEvaluator of spec.md §4.10: a
// tagged-variant expression evaluator over a row or composite join-row,
// supporting comparisons, boolean logic, BETWEEN, LIKE, IN, EXISTS,
// CASE and scalar subqueries. Numeric comparisons are lifted to the
// widest width via shopspring/decimal, which basic.Value already wraps.
package eval

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

// Binding is one table/alias's contribution to the current row context:
// a join-row is the concatenation of several Bindings.
type Binding struct {
	Alias   string
	Columns []string
	Values  []basic.Value
}

// SubqueryRunner executes a correlated subquery against the current
// outer context and returns its result rows as raw value tuples. The
// query executor supplies the concrete implementation; eval only calls
// through this hook, breaking the import cycle between eval and the
// query executor.
type SubqueryRunner func(q *ast.Select, outer *Context) ([][]basic.Value, error)

// Context is the row (or composite join-row) an expression is
// evaluated against, plus the subquery callback.
type Context struct {
	Bindings []Binding
	Runner   SubqueryRunner
}

// Resolve looks up a column reference across all bindings. An
// unqualified reference matching more than one binding is ambiguous,
// per spec.md §4.15's "Column references are qualified table.column for
// ambiguity resolution".
func (c *Context) Resolve(ref ast.ColumnRef) (basic.Value, error) {
	var found *basic.Value
	matches := 0
	for _, b := range c.Bindings {
		if ref.Table != "" && ref.Table != b.Alias {
			continue
		}
		for i, col := range b.Columns {
			if col == ref.Column {
				v := b.Values[i]
				found = &v
				matches++
			}
		}
	}
	if matches == 0 {
		return basic.Value{}, errors.Errorf("eval: unknown column %q", qualifiedName(ref))
	}
	if matches > 1 {
		return basic.Value{}, errors.Errorf("eval: ambiguous column reference %q", qualifiedName(ref))
	}
	return *found, nil
}

func qualifiedName(ref ast.ColumnRef) string {
	if ref.Table == "" {
		return ref.Column
	}
	return ref.Table + "." + ref.Column
}

// Evaluator evaluates ast.Expr trees. It carries no state of its own --
// all per-row data lives in the Context passed to Eval.
type Evaluator struct{}

// New creates an Evaluator.
func New() *Evaluator { return &Evaluator{} }

// Eval evaluates any expression to a basic.Value, including null.
func (e *Evaluator) Eval(expr ast.Expr, ctx *Context) (basic.Value, error) {
	switch n := expr.(type) {
	case ast.Literal:
		return n.Value, nil
	case ast.ColumnRef:
		return ctx.Resolve(n)
	case ast.Star:
		return basic.Value{}, errors.New("eval: '*' is not a scalar expression")
	case ast.Binary:
		return e.evalBinary(n, ctx)
	case ast.Not:
		b, err := e.EvalBool(n.Expr, ctx)
		if err != nil {
			return basic.Value{}, err
		}
		return basic.BoolV(!b), nil
	case ast.Between:
		return e.evalBetween(n, ctx)
	case ast.Like:
		return e.evalLike(n, ctx)
	case ast.InList:
		return e.evalInList(n, ctx)
	case ast.InSubquery:
		return e.evalInSubquery(n, ctx)
	case ast.Exists:
		rows, err := ctx.Runner(n.Subquery, ctx)
		if err != nil {
			return basic.Value{}, err
		}
		return basic.BoolV(len(rows) > 0), nil
	case ast.ScalarSubquery:
		rows, err := ctx.Runner(n.Subquery, ctx)
		if err != nil {
			return basic.Value{}, err
		}
		if len(rows) == 0 {
			return basic.Null(), nil
		}
		if len(rows) > 1 || len(rows[0]) != 1 {
			return basic.Value{}, errors.New("eval: scalar subquery must yield exactly one value")
		}
		return rows[0][0], nil
	case ast.IsNull:
		v, err := e.Eval(n.Expr, ctx)
		if err != nil {
			return basic.Value{}, err
		}
		return basic.BoolV(v.IsNull()), nil
	case ast.IsNotNull:
		v, err := e.Eval(n.Expr, ctx)
		if err != nil {
			return basic.Value{}, err
		}
		return basic.BoolV(!v.IsNull()), nil
	case ast.Case:
		return e.evalCase(n, ctx)
	case ast.FuncCall:
		return e.evalFunc(n, ctx)
	default:
		return basic.Value{}, errors.Errorf("eval: unsupported expression node %T", expr)
	}
}

// EvalBool evaluates expr as a three-valued-logic predicate, collapsing
// null to false -- the convention a WHERE/HAVING filter uses.
func (e *Evaluator) EvalBool(expr ast.Expr, ctx *Context) (bool, error) {
	if b, ok := expr.(ast.Binary); ok && (b.Op == ast.OpAnd || b.Op == ast.OpOr) {
		left, err := e.EvalBool(b.Left, ctx)
		if err != nil {
			return false, err
		}
		if b.Op == ast.OpAnd && !left {
			return false, nil
		}
		if b.Op == ast.OpOr && left {
			return true, nil
		}
		return e.EvalBool(b.Right, ctx)
	}
	v, err := e.Eval(expr, ctx)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	if v.Kind != basic.KindBool {
		return false, errors.Errorf("eval: expression did not evaluate to a boolean (got %s)", v.Kind)
	}
	return v.Bool, nil
}

func (e *Evaluator) evalBinary(n ast.Binary, ctx *Context) (basic.Value, error) {
	if n.Op == ast.OpAnd || n.Op == ast.OpOr {
		b, err := e.EvalBool(n, ctx)
		return basic.BoolV(b), err
	}
	l, err := e.Eval(n.Left, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	r, err := e.Eval(n.Right, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	switch n.Op {
	case ast.OpEq:
		if l.IsNull() || r.IsNull() {
			return basic.Null(), nil
		}
		return basic.BoolV(l.Equal(r)), nil
	case ast.OpNeq:
		if l.IsNull() || r.IsNull() {
			return basic.Null(), nil
		}
		return basic.BoolV(!l.Equal(r)), nil
	case ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		if l.IsNull() || r.IsNull() {
			return basic.Null(), nil
		}
		cmp := l.Compare(r)
		switch n.Op {
		case ast.OpLt:
			return basic.BoolV(cmp < 0), nil
		case ast.OpLte:
			return basic.BoolV(cmp <= 0), nil
		case ast.OpGt:
			return basic.BoolV(cmp > 0), nil
		default:
			return basic.BoolV(cmp >= 0), nil
		}
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv:
		if l.IsNull() || r.IsNull() {
			return basic.Null(), nil
		}
		return arithmetic(n.Op, l, r)
	case ast.OpConcat:
		if l.IsNull() || r.IsNull() {
			return basic.Null(), nil
		}
		return basic.StringV(l.String() + r.String()), nil
	default:
		return basic.Value{}, errors.Errorf("eval: unsupported binary operator %v", n.Op)
	}
}

func arithmetic(op ast.BinOp, l, r basic.Value) (basic.Value, error) {
	if l.Kind != basic.KindNumeric || r.Kind != basic.KindNumeric {
		return basic.Value{}, errors.New("eval: arithmetic requires numeric operands")
	}
	switch op {
	case ast.OpAdd:
		return basic.NumericV(l.Num.Add(r.Num)), nil
	case ast.OpSub:
		return basic.NumericV(l.Num.Sub(r.Num)), nil
	case ast.OpMul:
		return basic.NumericV(l.Num.Mul(r.Num)), nil
	case ast.OpDiv:
		if r.Num.IsZero() {
			return basic.Value{}, errors.New("eval: division by zero")
		}
		return basic.NumericV(l.Num.Div(r.Num)), nil
	}
	return basic.Value{}, errors.New("eval: unreachable arithmetic operator")
}

func (e *Evaluator) evalBetween(n ast.Between, ctx *Context) (basic.Value, error) {
	v, err := e.Eval(n.Expr, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	lo, err := e.Eval(n.Low, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	hi, err := e.Eval(n.High, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	if v.IsNull() || lo.IsNull() || hi.IsNull() {
		return basic.Null(), nil
	}
	return basic.BoolV(v.Compare(lo) >= 0 && v.Compare(hi) <= 0), nil
}

func (e *Evaluator) evalLike(n ast.Like, ctx *Context) (basic.Value, error) {
	v, err := e.Eval(n.Expr, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	p, err := e.Eval(n.Pattern, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	if v.IsNull() || p.IsNull() {
		return basic.Null(), nil
	}
	return basic.BoolV(likeMatch(v.String(), p.String())), nil
}

// likeMatch implements SQL LIKE recursively: '%' matches zero or more
// characters, '_' matches exactly one.
func likeMatch(s, pattern string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '%':
		if likeMatch(s, pattern[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if likeMatch(s[i+1:], pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if s == "" {
			return false
		}
		return likeMatch(s[1:], pattern[1:])
	default:
		if s == "" || s[0] != pattern[0] {
			return false
		}
		return likeMatch(s[1:], pattern[1:])
	}
}

func (e *Evaluator) evalInList(n ast.InList, ctx *Context) (basic.Value, error) {
	v, err := e.Eval(n.Expr, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	if v.IsNull() {
		return basic.Null(), nil
	}
	for _, item := range n.List {
		iv, err := e.Eval(item, ctx)
		if err != nil {
			return basic.Value{}, err
		}
		if !iv.IsNull() && v.Equal(iv) {
			return basic.BoolV(true), nil
		}
	}
	return basic.BoolV(false), nil
}

func (e *Evaluator) evalInSubquery(n ast.InSubquery, ctx *Context) (basic.Value, error) {
	v, err := e.Eval(n.Expr, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	if v.IsNull() {
		return basic.Null(), nil
	}
	rows, err := ctx.Runner(n.Subquery, ctx)
	if err != nil {
		return basic.Value{}, err
	}
	for _, row := range rows {
		if len(row) != 1 {
			return basic.Value{}, errors.New("eval: IN subquery must yield a single column")
		}
		if !row[0].IsNull() && v.Equal(row[0]) {
			return basic.BoolV(true), nil
		}
	}
	return basic.BoolV(false), nil
}

func (e *Evaluator) evalCase(n ast.Case, ctx *Context) (basic.Value, error) {
	for _, w := range n.Whens {
		ok, err := e.EvalBool(w.When, ctx)
		if err != nil {
			return basic.Value{}, err
		}
		if ok {
			return e.Eval(w.Then, ctx)
		}
	}
	if n.Else == nil {
		return basic.Null(), nil
	}
	return e.Eval(n.Else, ctx)
}

func (e *Evaluator) evalFunc(n ast.FuncCall, ctx *Context) (basic.Value, error) {
	switch strings.ToLower(n.Name) {
	case "version":
		return basic.StringV("PostgreSQL 15.0 (postgrust-sql core)"), nil
	case "current_database", "current_user":
		// The query executor rewrites these calls to carry the session's
		// value as a pre-resolved literal argument (resolveSystemFuncs);
		// eval itself holds no session handle, so a call that never went
		// through that rewrite cannot be answered here.
		if len(n.Args) == 1 {
			if lit, ok := n.Args[0].(ast.Literal); ok {
				return basic.StringV(lit.Value.Str), nil
			}
		}
		return basic.Value{}, errors.Errorf("eval: %s() is unresolved in this context", n.Name)
	case "pg_table_size", "pg_database_size":
		// Resolved against live catalog/storage sizes by the caller via
		// Args[0] pre-evaluated to the computed byte count; the builtin
		// here just forwards it, since eval has no storage handle.
		if len(n.Args) != 1 {
			return basic.Value{}, errors.Errorf("eval: %s() takes exactly one argument", n.Name)
		}
		return e.Eval(n.Args[0], ctx)
	default:
		return basic.Value{}, errors.Errorf("eval: unknown builtin function %s", n.Name)
	}
}

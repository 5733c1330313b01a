// Package query implements the SELECT executor of spec.md §4.15: FROM
// resolution (base tables, views and derived subqueries), joins,
// WHERE filtering, GROUP BY/aggregates, window functions, DISTINCT,
// ORDER BY, LIMIT/OFFSET, set operations and EXPLAIN. It is the one
// package that both the DML executor's correlated-subquery hook and
// the eval package's scalar-subquery hook ultimately call back into.
package query

import (
	"reflect"
	"sort"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/eval"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/txn"
)

// ResultSet is a SELECT's tabular output: column names in projection
// order and the matching value rows.
type ResultSet struct {
	Columns []string
	Rows    [][]basic.Value
}

// Executor runs SELECT/EXPLAIN statements against one Engine within
// the caller's snapshot. User names the session's current role for
// current_user() and privilege checks done by the caller. TxID is the
// id of the transaction on whose behalf this executor is currently
// reading (0 outside any transaction), so visibility checks can
// privilege the reader's own uncommitted writes per spec.md §4.9; the
// dispatcher (or the DML executor, for embedded subqueries) sets it
// before each statement, the same way it sets User.
type Executor struct {
	Eng  *engine.Engine
	Eval *eval.Evaluator
	User string
	TxID uint64
}

// New creates a query executor bound to eng, with User defaulting to
// "postgres" until the session layer overrides it.
func New(eng *engine.Engine) *Executor {
	return &Executor{Eng: eng, Eval: eval.New(), User: "postgres"}
}

// accRow is one row of the FROM/JOIN accumulation: the concatenation
// of every source table's contribution so far.
type accRow struct {
	Bindings []eval.Binding
}

// Select runs stmt to completion and returns its result set. It is
// also the SubqueryRunner the eval package calls for EXISTS, IN and
// scalar subqueries, and the entry point DML uses for correlated
// subqueries in WHERE clauses.
func (x *Executor) Select(stmt *ast.Select, snap txn.Snapshot) (*ResultSet, error) {
	return x.selectWithOuter(stmt, snap, nil)
}

// RunSubquery adapts Select to eval.SubqueryRunner's signature, used
// to wire eval.Context.Runner.
func (x *Executor) RunSubquery(snap txn.Snapshot) eval.SubqueryRunner {
	return func(q *ast.Select, outer *eval.Context) ([][]basic.Value, error) {
		rs, err := x.selectWithOuter(q, snap, outer)
		if err != nil {
			return nil, err
		}
		return rs.Rows, nil
	}
}

func (x *Executor) selectWithOuter(stmt *ast.Select, snap txn.Snapshot, outer *eval.Context) (*ResultSet, error) {
	if stmt.SetOp != nil {
		left := *stmt
		left.SetOp = nil
		leftRS, err := x.executeCore(&left, snap, outer)
		if err != nil {
			return nil, err
		}
		rightRS, err := x.selectWithOuter(stmt.SetOp.Right, snap, outer)
		if err != nil {
			return nil, err
		}
		return combineSetOp(stmt.SetOp.Kind, leftRS, rightRS), nil
	}
	return x.executeCore(stmt, snap, outer)
}

func combineSetOp(kind ast.SetOpKind, left, right *ResultSet) *ResultSet {
	out := &ResultSet{Columns: left.Columns}
	switch kind {
	case ast.SetUnionAll:
		out.Rows = append(append([][]basic.Value{}, left.Rows...), right.Rows...)
	case ast.SetUnion:
		out.Rows = dedupeRows(append(append([][]basic.Value{}, left.Rows...), right.Rows...))
	case ast.SetIntersect:
		rightKeys := rowKeySet(right.Rows)
		seen := make(map[string]bool)
		for _, r := range left.Rows {
			k := rowKey(r)
			if rightKeys[k] && !seen[k] {
				seen[k] = true
				out.Rows = append(out.Rows, r)
			}
		}
	case ast.SetExcept:
		rightKeys := rowKeySet(right.Rows)
		seen := make(map[string]bool)
		for _, r := range left.Rows {
			k := rowKey(r)
			if !rightKeys[k] && !seen[k] {
				seen[k] = true
				out.Rows = append(out.Rows, r)
			}
		}
	}
	return out
}

func rowKey(r []basic.Value) string { return basic.EncodeKey(r...) }

func rowKeySet(rows [][]basic.Value) map[string]bool {
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[rowKey(r)] = true
	}
	return out
}

func dedupeRows(rows [][]basic.Value) [][]basic.Value {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		k := rowKey(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// executeCore runs one Select (its own SetOp already stripped by the
// caller) through FROM/JOIN resolution, filtering, grouping/windowing,
// projection, DISTINCT, ORDER BY and LIMIT/OFFSET.
func (x *Executor) executeCore(stmt *ast.Select, snap txn.Snapshot, outer *eval.Context) (*ResultSet, error) {
	stmt = x.withSystemFuncsResolved(stmt)

	current, err := x.resolveFromAndJoins(stmt, snap, outer)
	if err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		filtered := current[:0]
		for _, acc := range current {
			ok, err := x.Eval.EvalBool(stmt.Where, x.ctxFor(outer, snap, acc.Bindings))
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, acc)
			}
		}
		current = filtered
	}

	hasAgg := len(stmt.GroupBy) > 0 || anyContainsAgg(stmt.Projections) || (stmt.Having != nil && containsAgg(stmt.Having))
	hasWindow := anyContainsWindow(stmt.Projections)

	var cols []string
	var rows [][]basic.Value
	switch {
	case hasAgg:
		cols, rows, err = x.executeGrouped(stmt, current, outer, snap)
	case hasWindow:
		cols, rows, err = x.executeWindowed(stmt, current, outer, snap)
	default:
		cols, rows, err = x.executeFlat(stmt, current, outer, snap)
	}
	if err != nil {
		return nil, err
	}

	if stmt.Distinct {
		rows = dedupeRows(rows)
	}

	if len(stmt.OrderBy) > 0 {
		if err := x.orderRows(stmt, current, cols, rows, outer, snap); err != nil {
			return nil, err
		}
	}

	if stmt.Offset != nil {
		off := *stmt.Offset
		if off > len(rows) {
			off = len(rows)
		}
		rows = rows[off:]
	}
	if stmt.Limit != nil && *stmt.Limit < len(rows) {
		rows = rows[:*stmt.Limit]
	}

	return &ResultSet{Columns: cols, Rows: rows}, nil
}

// executeFlat evaluates every projection directly against each
// accumulated row, with no grouping or windowing.
func (x *Executor) executeFlat(stmt *ast.Select, current []accRow, outer *eval.Context, snap txn.Snapshot) ([]string, [][]basic.Value, error) {
	cols, err := x.projectionNames(stmt.Projections, current)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]basic.Value, 0, len(current))
	for _, acc := range current {
		ctx := x.ctxFor(outer, snap, acc.Bindings)
		row, err := x.projectRow(stmt.Projections, ctx)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

// projectRow evaluates every projection (expanding Star to every
// column of every binding) against ctx.
func (x *Executor) projectRow(projs []ast.Projection, ctx *eval.Context) ([]basic.Value, error) {
	var out []basic.Value
	for _, p := range projs {
		if _, ok := p.Expr.(ast.Star); ok {
			for _, b := range ctx.Bindings {
				out = append(out, b.Values...)
			}
			continue
		}
		v, err := x.Eval.Eval(p.Expr, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// projectionNames computes the output column list, expanding Star
// using the shape of the first accumulated row (or an empty FROM's
// binding shapes when there are no rows at all).
func (x *Executor) projectionNames(projs []ast.Projection, current []accRow) ([]string, error) {
	var sample []eval.Binding
	if len(current) > 0 {
		sample = current[0].Bindings
	}
	var out []string
	for i, p := range projs {
		if _, ok := p.Expr.(ast.Star); ok {
			for _, b := range sample {
				out = append(out, b.Columns...)
			}
			continue
		}
		if p.Alias != "" {
			out = append(out, p.Alias)
			continue
		}
		if ref, ok := p.Expr.(ast.ColumnRef); ok {
			out = append(out, ref.Column)
			continue
		}
		out = append(out, columnLabel(i))
	}
	return out, nil
}

func columnLabel(i int) string { return "?column" + itoa(i) }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// ctxFor builds the evaluation context for one accumulated row,
// prepending the outer query's bindings (for correlated subqueries)
// ahead of this row's own.
func (x *Executor) ctxFor(outer *eval.Context, snap txn.Snapshot, bindings []eval.Binding) *eval.Context {
	var all []eval.Binding
	if outer != nil {
		all = append(all, outer.Bindings...)
	}
	all = append(all, bindings...)
	return &eval.Context{Bindings: all, Runner: x.RunSubquery(snap)}
}

// resolveFromAndJoins builds the accumulated row set for stmt's FROM
// clause and every JOIN in sequence.
func (x *Executor) resolveFromAndJoins(stmt *ast.Select, snap txn.Snapshot, outer *eval.Context) ([]accRow, error) {
	fromCols, fromRows, err := x.resolveSource(stmt.From, stmt.Where, snap, outer)
	if err != nil {
		return nil, err
	}
	fromAlias := stmt.From.Alias
	if fromAlias == "" {
		fromAlias = stmt.From.Name
	}
	current := make([]accRow, len(fromRows))
	for i, r := range fromRows {
		current[i] = accRow{Bindings: []eval.Binding{{Alias: fromAlias, Columns: fromCols, Values: r}}}
	}

	for _, j := range stmt.Joins {
		rCols, rRows, err := x.resolveSource(j.Table, j.On, snap, outer)
		if err != nil {
			return nil, err
		}
		rAlias := j.Table.Alias
		if rAlias == "" {
			rAlias = j.Table.Name
		}
		current, err = x.applyJoin(current, j, rAlias, rCols, rRows, outer, snap)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// resolveSource resolves one FROM/JOIN table reference to its column
// list and row values: a base table (via visibility-filtered,
// optionally index-assisted scan), a view (by re-running its stored
// tree), a system catalog view, or a derived subquery. where is the
// predicate (the statement's WHERE for the FROM table, the join's ON
// for a joined table) considered for index-assisted scanning.
func (x *Executor) resolveSource(ref ast.TableRef, where ast.Expr, snap txn.Snapshot, outer *eval.Context) ([]string, [][]basic.Value, error) {
	if ref.Subquery != nil {
		rs, err := x.selectWithOuter(ref.Subquery, snap, outer)
		if err != nil {
			return nil, nil, err
		}
		return rs.Columns, rs.Rows, nil
	}

	if cols, rows, ok := x.systemView(ref.Name); ok {
		return cols, rows, nil
	}

	if t, err := x.Eng.Catalog.Table(ref.Name); err == nil {
		cols, rows, err := x.scanTable(t, where, snap)
		return cols, rows, err
	}

	if tree, ok := x.Eng.ViewTree(ref.Name); ok {
		rs, err := x.selectWithOuter(tree, snap, outer)
		if err != nil {
			return nil, nil, err
		}
		return rs.Columns, rs.Rows, nil
	}

	return nil, nil, errors.Wrapf(basic.ErrUnknownTable, "%q", ref.Name)
}

// scanTable returns a table's column names and every row visible to
// snap, in declared column order. See indexselect.go for the
// index-assisted path used when where is a full equality match on an
// index's columns.
func (x *Executor) scanTable(t *catalog.Table, where ast.Expr, snap txn.Snapshot) ([]string, [][]basic.Value, error) {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}

	rows, _, err := x.scanRowsFor(t, where, snap)
	if err != nil {
		return nil, nil, err
	}
	return cols, rows, nil
}

// orderRows sorts rows (and the parallel current slice stays
// unordered -- only used to recompute order keys) in place by
// stmt.OrderBy, evaluating each term against the same row that
// produced the corresponding output row.
func (x *Executor) orderRows(stmt *ast.Select, current []accRow, cols []string, rows [][]basic.Value, outer *eval.Context, snap txn.Snapshot) error {
	type keyedRow struct {
		keys []basic.Value
		row  []basic.Value
	}
	keyed := make([]keyedRow, len(rows))
	for i := range rows {
		keys := make([]basic.Value, len(stmt.OrderBy))
		for k, term := range stmt.OrderBy {
			v, err := x.orderKeyFor(stmt, term.Expr, current, cols, rows[i], outer, snap)
			if err != nil {
				return err
			}
			keys[k] = v
		}
		keyed[i] = keyedRow{keys: keys, row: rows[i]}
	}
	sort.SliceStable(keyed, func(a, b int) bool {
		for k, term := range stmt.OrderBy {
			ka, kb := keyed[a].keys[k], keyed[b].keys[k]
			if ka.IsNull() && kb.IsNull() {
				continue
			}
			if ka.IsNull() {
				return !term.Desc
			}
			if kb.IsNull() {
				return term.Desc
			}
			cmp := ka.Compare(kb)
			if cmp == 0 {
				continue
			}
			if term.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	for i := range rows {
		rows[i] = keyed[i].row
	}
	return nil
}

// orderKeyFor resolves an ORDER BY expression: first by matching it
// against an output column name (ColumnRef with no table qualifier
// matching a projection alias), falling back to evaluating it as a
// scalar expression against the output row's own column bindings.
func (x *Executor) orderKeyFor(stmt *ast.Select, expr ast.Expr, current []accRow, cols []string, outRow []basic.Value, outer *eval.Context, snap txn.Snapshot) (basic.Value, error) {
	if ref, ok := expr.(ast.ColumnRef); ok && ref.Table == "" {
		for i, c := range cols {
			if c == ref.Column && i < len(outRow) {
				return outRow[i], nil
			}
		}
	}
	ctx := &eval.Context{Bindings: []eval.Binding{{Columns: cols, Values: outRow}}, Runner: x.RunSubquery(snap)}
	return x.Eval.Eval(expr, ctx)
}

// exprEqual reports structural equality between two expression trees,
// used to check whether a projection's bare column reference also
// appears in the GROUP BY list.
func exprEqual(a, b ast.Expr) bool { return reflect.DeepEqual(a, b) }

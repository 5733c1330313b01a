package query

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/eval"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/txn"
)

// --- Aggregate detection and extraction -------------------------------------

func anyContainsAgg(projs []ast.Projection) bool {
	for _, p := range projs {
		if containsAgg(p.Expr) {
			return true
		}
	}
	return false
}

func containsAgg(e ast.Expr) bool {
	var aggs []ast.AggCall
	extractAggs(e, &aggs)
	return len(aggs) > 0
}

// extractAggs walks e in a fixed pre-order, replacing every AggCall
// node with a placeholder ColumnRef (__agg_N) and recording the
// original call, so the grouped result-row evaluator can compute each
// aggregate once against the group's rows and substitute it back in.
func extractAggs(e ast.Expr, aggs *[]ast.AggCall) ast.Expr {
	switch n := e.(type) {
	case ast.AggCall:
		name := fmt.Sprintf("__agg_%d", len(*aggs))
		*aggs = append(*aggs, n)
		return ast.ColumnRef{Column: name}
	case ast.Binary:
		n.Left = extractAggs(n.Left, aggs)
		n.Right = extractAggs(n.Right, aggs)
		return n
	case ast.Not:
		n.Expr = extractAggs(n.Expr, aggs)
		return n
	case ast.Between:
		n.Expr = extractAggs(n.Expr, aggs)
		n.Low = extractAggs(n.Low, aggs)
		n.High = extractAggs(n.High, aggs)
		return n
	case ast.Like:
		n.Expr = extractAggs(n.Expr, aggs)
		n.Pattern = extractAggs(n.Pattern, aggs)
		return n
	case ast.InList:
		n.Expr = extractAggs(n.Expr, aggs)
		list := make([]ast.Expr, len(n.List))
		for i, it := range n.List {
			list[i] = extractAggs(it, aggs)
		}
		n.List = list
		return n
	case ast.IsNull:
		n.Expr = extractAggs(n.Expr, aggs)
		return n
	case ast.IsNotNull:
		n.Expr = extractAggs(n.Expr, aggs)
		return n
	case ast.Case:
		whens := make([]ast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			w.When = extractAggs(w.When, aggs)
			w.Then = extractAggs(w.Then, aggs)
			whens[i] = w
		}
		n.Whens = whens
		if n.Else != nil {
			n.Else = extractAggs(n.Else, aggs)
		}
		return n
	case ast.FuncCall:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = extractAggs(a, aggs)
		}
		n.Args = args
		return n
	default:
		return e
	}
}

// evalAgg computes one aggregate function's value over a group of
// accumulated rows.
func (x *Executor) evalAgg(kind ast.AggKind, arg ast.Expr, group []accRow, outer *eval.Context, snap txn.Snapshot) (basic.Value, error) {
	if kind == ast.AggCountStar {
		return basic.IntV(int64(len(group))), nil
	}

	var vals []basic.Value
	for _, acc := range group {
		v, err := x.Eval.Eval(arg, x.ctxFor(outer, snap, acc.Bindings))
		if err != nil {
			return basic.Value{}, err
		}
		if !v.IsNull() {
			vals = append(vals, v)
		}
	}

	switch kind {
	case ast.AggCount:
		return basic.IntV(int64(len(vals))), nil
	case ast.AggSum:
		if len(vals) == 0 {
			return basic.Null(), nil
		}
		sum := decimal.Zero
		for _, v := range vals {
			sum = sum.Add(v.Num)
		}
		return basic.NumericV(sum), nil
	case ast.AggAvg:
		if len(vals) == 0 {
			return basic.Null(), nil
		}
		sum := decimal.Zero
		for _, v := range vals {
			sum = sum.Add(v.Num)
		}
		return basic.NumericV(sum.Div(decimal.NewFromInt(int64(len(vals))))), nil
	case ast.AggMin:
		if len(vals) == 0 {
			return basic.Null(), nil
		}
		min := vals[0]
		for _, v := range vals[1:] {
			if v.Compare(min) < 0 {
				min = v
			}
		}
		return min, nil
	case ast.AggMax:
		if len(vals) == 0 {
			return basic.Null(), nil
		}
		max := vals[0]
		for _, v := range vals[1:] {
			if v.Compare(max) > 0 {
				max = v
			}
		}
		return max, nil
	default:
		return basic.Value{}, errors.Errorf("query: unsupported aggregate kind %v", kind)
	}
}

// exprInGroupBy reports whether e structurally matches one of the
// GROUP BY expressions, per spec.md §4.15's requirement that every
// non-aggregated projection reference a grouped column.
func exprInGroupBy(e ast.Expr, groupBy []ast.Expr) bool {
	for _, g := range groupBy {
		if exprEqual(e, g) {
			return true
		}
	}
	return false
}

// evalGroupExpr evaluates one projection/HAVING expression against a
// group: aggregate sub-expressions are computed once over the whole
// group and substituted in as pseudo-columns before the rewritten tree
// is evaluated against the group's representative row.
func (x *Executor) evalGroupExpr(e ast.Expr, group []accRow, groupBy []ast.Expr, outer *eval.Context, snap txn.Snapshot) (basic.Value, error) {
	if ref, ok := e.(ast.ColumnRef); ok {
		if !exprInGroupBy(e, groupBy) {
			return basic.Value{}, errors.Errorf("query: column %q must appear in GROUP BY clause or be used in an aggregate function", ref.Column)
		}
	}
	rewritten, ctx, err := x.prepareGroupCtx(e, group, outer, snap)
	if err != nil {
		return basic.Value{}, err
	}
	return x.Eval.Eval(rewritten, ctx)
}

// evalGroupBool is evalGroupExpr's HAVING counterpart: no bare-column
// restriction (HAVING may reference grouped columns freely), result
// collapsed to a three-valued-logic bool.
func (x *Executor) evalGroupBool(e ast.Expr, group []accRow, outer *eval.Context, snap txn.Snapshot) (bool, error) {
	rewritten, ctx, err := x.prepareGroupCtx(e, group, outer, snap)
	if err != nil {
		return false, err
	}
	return x.Eval.EvalBool(rewritten, ctx)
}

func (x *Executor) prepareGroupCtx(e ast.Expr, group []accRow, outer *eval.Context, snap txn.Snapshot) (ast.Expr, *eval.Context, error) {
	var repBindings []eval.Binding
	if len(group) > 0 {
		repBindings = group[0].Bindings
	}
	repCtx := x.ctxFor(outer, snap, repBindings)

	var aggs []ast.AggCall
	rewritten := extractAggs(e, &aggs)
	if len(aggs) == 0 {
		return rewritten, repCtx, nil
	}

	names := make([]string, len(aggs))
	vals := make([]basic.Value, len(aggs))
	for i, ac := range aggs {
		v, err := x.evalAgg(ac.Kind, ac.Arg, group, outer, snap)
		if err != nil {
			return nil, nil, err
		}
		names[i] = fmt.Sprintf("__agg_%d", i)
		vals[i] = v
	}
	bindings := append(append([]eval.Binding{}, repCtx.Bindings...), eval.Binding{Columns: names, Values: vals})
	return rewritten, &eval.Context{Bindings: bindings, Runner: repCtx.Runner}, nil
}

// executeGrouped implements GROUP BY/aggregate/HAVING evaluation
// (spec.md §4.15). Absent an explicit GROUP BY, every row forms one
// implicit group.
func (x *Executor) executeGrouped(stmt *ast.Select, current []accRow, outer *eval.Context, snap txn.Snapshot) ([]string, [][]basic.Value, error) {
	groups := make(map[string][]accRow)
	var order []string

	for _, acc := range current {
		key := ""
		if len(stmt.GroupBy) > 0 {
			ctx := x.ctxFor(outer, snap, acc.Bindings)
			vals := make([]basic.Value, len(stmt.GroupBy))
			for i, g := range stmt.GroupBy {
				v, err := x.Eval.Eval(g, ctx)
				if err != nil {
					return nil, nil, err
				}
				vals[i] = v
			}
			key = basic.EncodeKey(vals...)
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], acc)
	}
	if len(current) == 0 && len(stmt.GroupBy) == 0 {
		order = []string{""}
		groups[""] = nil
	}

	cols, err := x.projectionNames(stmt.Projections, current)
	if err != nil {
		return nil, nil, err
	}

	var rows [][]basic.Value
	for _, key := range order {
		group := groups[key]
		if stmt.Having != nil {
			ok, err := x.evalGroupBool(stmt.Having, group, outer, snap)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
		}
		row := make([]basic.Value, 0, len(stmt.Projections))
		for _, p := range stmt.Projections {
			if _, ok := p.Expr.(ast.Star); ok {
				if len(group) > 0 {
					for _, b := range group[0].Bindings {
						row = append(row, b.Values...)
					}
				}
				continue
			}
			v, err := x.evalGroupExpr(p.Expr, group, stmt.GroupBy, outer, snap)
			if err != nil {
				return nil, nil, err
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

package query

import (
	"fmt"
	"sort"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/eval"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/txn"
)

func anyContainsWindow(projs []ast.Projection) bool {
	for _, p := range projs {
		if containsWindow(p.Expr) {
			return true
		}
	}
	return false
}

func containsWindow(e ast.Expr) bool {
	var wins []ast.WindowCall
	idx := 0
	extractWindows(e, &wins, &idx)
	return len(wins) > 0
}

// extractWindows mirrors extractAggs for WindowCall nodes, using a
// counter shared across every projection in a Select so pseudo-column
// names stay unique query-wide.
func extractWindows(e ast.Expr, wins *[]ast.WindowCall, counter *int) ast.Expr {
	switch n := e.(type) {
	case ast.WindowCall:
		name := fmt.Sprintf("__win_%d", *counter)
		*counter++
		*wins = append(*wins, n)
		return ast.ColumnRef{Column: name}
	case ast.Binary:
		n.Left = extractWindows(n.Left, wins, counter)
		n.Right = extractWindows(n.Right, wins, counter)
		return n
	case ast.Not:
		n.Expr = extractWindows(n.Expr, wins, counter)
		return n
	case ast.Between:
		n.Expr = extractWindows(n.Expr, wins, counter)
		n.Low = extractWindows(n.Low, wins, counter)
		n.High = extractWindows(n.High, wins, counter)
		return n
	case ast.Like:
		n.Expr = extractWindows(n.Expr, wins, counter)
		n.Pattern = extractWindows(n.Pattern, wins, counter)
		return n
	case ast.InList:
		n.Expr = extractWindows(n.Expr, wins, counter)
		list := make([]ast.Expr, len(n.List))
		for i, it := range n.List {
			list[i] = extractWindows(it, wins, counter)
		}
		n.List = list
		return n
	case ast.IsNull:
		n.Expr = extractWindows(n.Expr, wins, counter)
		return n
	case ast.IsNotNull:
		n.Expr = extractWindows(n.Expr, wins, counter)
		return n
	case ast.Case:
		whens := make([]ast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			w.When = extractWindows(w.When, wins, counter)
			w.Then = extractWindows(w.Then, wins, counter)
			whens[i] = w
		}
		n.Whens = whens
		if n.Else != nil {
			n.Else = extractWindows(n.Else, wins, counter)
		}
		return n
	case ast.FuncCall:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = extractWindows(a, wins, counter)
		}
		n.Args = args
		return n
	default:
		return e
	}
}

// executeWindowed evaluates ROW_NUMBER/RANK/DENSE_RANK/LAG/LEAD per
// spec.md §4.15, over rows already filtered by WHERE but not grouped.
func (x *Executor) executeWindowed(stmt *ast.Select, current []accRow, outer *eval.Context, snap txn.Snapshot) ([]string, [][]basic.Value, error) {
	n := len(current)
	counter := 0
	var allWins []ast.WindowCall
	rewrittenProjs := make([]ast.Expr, len(stmt.Projections))
	for i, p := range stmt.Projections {
		rewrittenProjs[i] = extractWindows(p.Expr, &allWins, &counter)
	}

	windowVals := make([][]basic.Value, len(allWins))
	for k, wc := range allWins {
		vals, err := x.computeWindow(wc, current, outer, snap)
		if err != nil {
			return nil, nil, err
		}
		windowVals[k] = vals
	}
	names := make([]string, len(allWins))
	for i := range allWins {
		names[i] = fmt.Sprintf("__win_%d", i)
	}

	cols, err := x.projectionNames(stmt.Projections, current)
	if err != nil {
		return nil, nil, err
	}

	rows := make([][]basic.Value, 0, n)
	for i := 0; i < n; i++ {
		rowVals := make([]basic.Value, len(names))
		for k := range allWins {
			rowVals[k] = windowVals[k][i]
		}
		ctx := x.ctxFor(outer, snap, current[i].Bindings)
		ctx.Bindings = append(ctx.Bindings, eval.Binding{Columns: names, Values: rowVals})

		row := make([]basic.Value, 0, len(rewrittenProjs))
		for _, rp := range rewrittenProjs {
			if _, ok := rp.(ast.Star); ok {
				for _, b := range current[i].Bindings {
					row = append(row, b.Values...)
				}
				continue
			}
			v, err := x.Eval.Eval(rp, ctx)
			if err != nil {
				return nil, nil, err
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

// computeWindow evaluates one window call over every partition of
// current, returning a value per row index in current's original order.
func (x *Executor) computeWindow(wc ast.WindowCall, current []accRow, outer *eval.Context, snap txn.Snapshot) ([]basic.Value, error) {
	n := len(current)
	out := make([]basic.Value, n)

	partitionOf := make([]string, n)
	order := []string{}
	partitions := make(map[string][]int)
	for i, acc := range current {
		ctx := x.ctxFor(outer, snap, acc.Bindings)
		var parts []basic.Value
		for _, pe := range wc.Over.PartitionBy {
			v, err := x.Eval.Eval(pe, ctx)
			if err != nil {
				return nil, err
			}
			parts = append(parts, v)
		}
		key := basic.EncodeKey(parts...)
		partitionOf[i] = key
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	for _, key := range order {
		idxs := partitions[key]
		keys := make([][]basic.Value, len(idxs))
		for pos, idx := range idxs {
			ctx := x.ctxFor(outer, snap, current[idx].Bindings)
			vals := make([]basic.Value, len(wc.Over.OrderBy))
			for oi, term := range wc.Over.OrderBy {
				v, err := x.Eval.Eval(term.Expr, ctx)
				if err != nil {
					return nil, err
				}
				vals[oi] = v
			}
			keys[pos] = vals
		}

		sorted, sortedKeys := sortPartition(idxs, keys, wc.Over.OrderBy)

		offset := wc.Offset
		if offset == 0 {
			offset = 1
		}
		rank, dense := 1, 1
		for pos := range sorted {
			idx := sorted[pos]
			switch wc.Kind {
			case ast.WinRowNumber:
				out[idx] = basic.IntV(int64(pos + 1))
			case ast.WinRank:
				if pos > 0 && !sameKey(sortedKeys[pos], sortedKeys[pos-1]) {
					rank = pos + 1
				}
				out[idx] = basic.IntV(int64(rank))
			case ast.WinDenseRank:
				if pos > 0 && !sameKey(sortedKeys[pos], sortedKeys[pos-1]) {
					dense++
				}
				out[idx] = basic.IntV(int64(dense))
			case ast.WinLag:
				src := pos - offset
				if src < 0 {
					out[idx] = basic.Null()
					continue
				}
				v, err := x.Eval.Eval(wc.Arg, x.ctxFor(outer, snap, current[sorted[src]].Bindings))
				if err != nil {
					return nil, err
				}
				out[idx] = v
			case ast.WinLead:
				src := pos + offset
				if src >= len(sorted) {
					out[idx] = basic.Null()
					continue
				}
				v, err := x.Eval.Eval(wc.Arg, x.ctxFor(outer, snap, current[sorted[src]].Bindings))
				if err != nil {
					return nil, err
				}
				out[idx] = v
			}
		}
	}
	return out, nil
}

func sameKey(a, b []basic.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].IsNull() != b[i].IsNull() {
			return false
		}
		if !a[i].IsNull() && a[i].Compare(b[i]) != 0 {
			return false
		}
	}
	return true
}

// sortPartition stable-sorts a partition's row indices (and the
// parallel per-row order-key tuples) by the window's ORDER BY terms.
func sortPartition(idxs []int, keys [][]basic.Value, terms []ast.OrderTerm) ([]int, [][]basic.Value) {
	n := len(idxs)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := keys[order[a]], keys[order[b]]
		for t, term := range terms {
			if t >= len(ka) || t >= len(kb) {
				break
			}
			va, vb := ka[t], kb[t]
			if va.IsNull() && vb.IsNull() {
				continue
			}
			if va.IsNull() {
				return !term.Desc
			}
			if vb.IsNull() {
				return term.Desc
			}
			cmp := va.Compare(vb)
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
	outIdx := make([]int, n)
	outKeys := make([][]basic.Value, n)
	for i, o := range order {
		outIdx[i] = idxs[o]
		outKeys[i] = keys[o]
	}
	return outIdx, outKeys
}

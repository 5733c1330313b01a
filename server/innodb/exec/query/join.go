package query

import (
	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/eval"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/txn"
)

// applyJoin extends every accumulated row in current with one row
// from the joined source per spec.md §4.15's nested-loop join model,
// applying INNER, LEFT and RIGHT semantics.
func (x *Executor) applyJoin(current []accRow, j ast.Join, rAlias string, rCols []string, rRows [][]basic.Value, outer *eval.Context, snap txn.Snapshot) ([]accRow, error) {
	var next []accRow
	rightMatched := make([]bool, len(rRows))

	for _, left := range current {
		matched := false
		for ri, rrow := range rRows {
			ctx := x.joinCtx(outer, snap, left.Bindings, eval.Binding{Alias: rAlias, Columns: rCols, Values: rrow})
			ok, err := x.Eval.EvalBool(j.On, ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			matched = true
			rightMatched[ri] = true
			next = append(next, accRow{Bindings: appendBinding(left.Bindings, eval.Binding{Alias: rAlias, Columns: rCols, Values: rrow})})
		}
		if !matched && j.Kind == ast.JoinLeft {
			next = append(next, accRow{Bindings: appendBinding(left.Bindings, nullBinding(rAlias, rCols))})
		}
	}

	if j.Kind == ast.JoinRight {
		var leftShape []eval.Binding
		if len(current) > 0 {
			leftShape = current[0].Bindings
		}
		for ri, rrow := range rRows {
			if rightMatched[ri] {
				continue
			}
			nulled := nullBindingsLike(leftShape)
			next = append(next, accRow{Bindings: appendBinding(nulled, eval.Binding{Alias: rAlias, Columns: rCols, Values: rrow})})
		}
	}

	return next, nil
}

func appendBinding(existing []eval.Binding, extra eval.Binding) []eval.Binding {
	out := make([]eval.Binding, len(existing), len(existing)+1)
	copy(out, existing)
	return append(out, extra)
}

func nullBinding(alias string, cols []string) eval.Binding {
	vals := make([]basic.Value, len(cols))
	for i := range vals {
		vals[i] = basic.Null()
	}
	return eval.Binding{Alias: alias, Columns: cols, Values: vals}
}

func nullBindingsLike(shape []eval.Binding) []eval.Binding {
	out := make([]eval.Binding, len(shape))
	for i, b := range shape {
		out[i] = nullBinding(b.Alias, b.Columns)
	}
	return out
}

func (x *Executor) joinCtx(outer *eval.Context, snap txn.Snapshot, left []eval.Binding, extra eval.Binding) *eval.Context {
	var all []eval.Binding
	if outer != nil {
		all = append(all, outer.Bindings...)
	}
	all = append(all, left...)
	all = append(all, extra)
	return &eval.Context{Bindings: all, Runner: x.RunSubquery(snap)}
}

// Package dml implements the INSERT/UPDATE/DELETE/COPY executor of
// spec.md §4.11: per-column validation in the fixed order (type,
// length, enum membership, NOT NULL, UNIQUE, FOREIGN KEY), synchronous
// index maintenance, and no partial success on failure.
package dml

import (
	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/eval"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/exec/query"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/pagedtable"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/txn"
)

// Executor runs DML statements against one Engine within the caller's
// transaction id and snapshot.
type Executor struct {
	Eng  *engine.Engine
	Eval *eval.Evaluator
	// query runs EXISTS/IN/scalar subqueries embedded in a WHERE or SET
	// expression; UPDATE/DELETE share the same correlated-subquery
	// semantics as SELECT, so this delegates rather than duplicating it.
	query *query.Executor
}

// New creates a DML executor bound to eng.
func New(eng *engine.Engine) *Executor {
	return &Executor{Eng: eng, Eval: eval.New(), query: query.New(eng)}
}

// visibleRows returns every row of table visible to snap together with
// the reading transaction's own writes, paired with its locator.
// currentTx is 0 when there is no enclosing transaction to privilege.
func (x *Executor) visibleRows(table string, currentTx uint64, snap txn.Snapshot) ([]pagedtable.LocatedRow, error) {
	pt := x.Eng.Table(table)
	all, err := pt.Scan()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, lr := range all {
		if x.Eng.Txn.Visible(lr.Row.Xmin, lr.Row.Xmax, currentTx, snap) {
			out = append(out, lr)
		}
	}
	return out, nil
}

func rowContext(t *catalog.Table, row basic.Row, runner eval.SubqueryRunner) *eval.Context {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}
	return &eval.Context{
		Bindings: []eval.Binding{{Alias: t.Name, Columns: cols, Values: row.Values}},
		Runner:   runner,
	}
}

func (x *Executor) enumLookup(name string) (*catalog.Enum, error) {
	return x.Eng.Catalog.Enum(name)
}

// checkUnique scans visible rows for an existing equal value in a
// UNIQUE (or PRIMARY KEY) column, other than excludeLoc (used by
// UPDATE, which must not reject against the row it is itself
// replacing). Null values are exempt per invariant 4.
func (x *Executor) checkUnique(t *catalog.Table, col catalog.Column, ord int, v basic.Value, currentTx uint64, snap txn.Snapshot, excludeLoc *basic.Locator) error {
	if v.IsNull() {
		return nil
	}
	rows, err := x.visibleRows(t.Name, currentTx, snap)
	if err != nil {
		return err
	}
	for _, lr := range rows {
		if excludeLoc != nil && lr.Locator == *excludeLoc {
			continue
		}
		if ord >= len(lr.Row.Values) {
			continue
		}
		if lr.Row.Values[ord].Equal(v) {
			return errors.Wrapf(basic.ErrUniqueViolation, "column %q", col.Name)
		}
	}
	return nil
}

// checkForeignKey verifies a non-null FK value matches a visible row's
// primary key in the referenced table.
func (x *Executor) checkForeignKey(col catalog.Column, v basic.Value, currentTx uint64, snap txn.Snapshot) error {
	if v.IsNull() || col.References == nil {
		return nil
	}
	refTable, err := x.Eng.Catalog.Table(col.References.Table)
	if err != nil {
		return err
	}
	_, refOrd, ok := refTable.ColumnByName(col.References.Column)
	if !ok {
		return basic.ErrUnknownColumn
	}
	rows, err := x.visibleRows(refTable.Name, currentTx, snap)
	if err != nil {
		return err
	}
	for _, lr := range rows {
		if refOrd < len(lr.Row.Values) && lr.Row.Values[refOrd].Equal(v) {
			return nil
		}
	}
	return errors.Wrapf(basic.ErrForeignKeyViolated, "column %q references %s(%s)", col.Name, refTable.Name, col.References.Column)
}

// validateRow runs the full per-column check order of spec.md §4.11
// over every column of a candidate row, returning the (possibly
// space-padded) validated values.
func (x *Executor) validateRow(t *catalog.Table, values []basic.Value, currentTx uint64, snap txn.Snapshot, excludeLoc *basic.Locator) ([]basic.Value, error) {
	out := make([]basic.Value, len(values))
	for i, col := range t.Columns {
		v, err := validateValue(col, values[i], x.enumLookup)
		if err != nil {
			return nil, err
		}
		out[i] = v
		if col.Unique || col.PrimaryKey {
			if err := x.checkUnique(t, col, i, v, currentTx, snap, excludeLoc); err != nil {
				return nil, err
			}
		}
		if col.References != nil {
			if err := x.checkForeignKey(col, v, currentTx, snap); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// indexInsert / indexRemove maintain every index owned by a table for
// one row, synchronously with the DML that produced the change
// (spec.md invariant 6).
func (x *Executor) indexInsert(t *catalog.Table, row basic.Row, loc basic.Locator) error {
	for _, desc := range x.Eng.Catalog.IndexesOn(t.Name) {
		key, ok := engine.IndexKey(t, desc, row)
		if !ok {
			continue
		}
		idx := x.Eng.IndexFor(desc)
		if err := idx.Insert(key, loc); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) indexRemove(t *catalog.Table, row basic.Row, loc basic.Locator) {
	for _, desc := range x.Eng.Catalog.IndexesOn(t.Name) {
		key, ok := engine.IndexKey(t, desc, row)
		if !ok {
			continue
		}
		x.Eng.IndexFor(desc).Remove(key, loc)
	}
}

// resolveInsertColumns maps an (optionally partial) column list onto
// the table's declared column order, returning the full-width value
// slice with omitted columns default-filled.
func (x *Executor) resolveInsertColumns(t *catalog.Table, cols []string, rowExprs []ast.Expr, snap txn.Snapshot) ([]basic.Value, error) {
	out := make([]basic.Value, len(t.Columns))
	set := make([]bool, len(t.Columns))

	targetOrds := make([]int, len(t.Columns))
	for i := range t.Columns {
		targetOrds[i] = i
	}
	if len(cols) > 0 {
		targetOrds = targetOrds[:0]
		for _, name := range cols {
			_, ord, ok := t.ColumnByName(name)
			if !ok {
				return nil, errors.Wrapf(basic.ErrUnknownColumn, "%q", name)
			}
			targetOrds = append(targetOrds, ord)
		}
	}
	if len(targetOrds) != len(rowExprs) {
		return nil, errors.New("dml: INSERT column count does not match VALUES count")
	}

	valueCtx := &eval.Context{Runner: x.query.RunSubquery(snap)}
	for i, ord := range targetOrds {
		v, err := x.Eval.Eval(x.query.ResolveSystemFuncs(rowExprs[i]), valueCtx)
		if err != nil {
			return nil, err
		}
		out[ord] = v
		set[ord] = true
	}

	for i, col := range t.Columns {
		if set[i] {
			if col.Serial {
				if err := x.Eng.Catalog.BumpSequence(t.Name, col.Name, out[i].Num.IntPart()); err != nil {
					return nil, err
				}
			}
			continue
		}
		if col.Serial {
			next, err := x.Eng.Catalog.NextSequence(t.Name, col.Name)
			if err != nil {
				return nil, err
			}
			out[i] = basic.IntV(next)
			continue
		}
		out[i] = basic.Null()
	}
	return out, nil
}

// Insert implements spec.md §4.11's INSERT: default-fills omitted
// columns (advancing SERIAL sequences), validates, and on success
// writes the row with xmin = txID and maintains every index.
func (x *Executor) Insert(stmt ast.Insert, txID uint64, snap txn.Snapshot) (int, error) {
	x.query.TxID = txID
	t, err := x.Eng.Catalog.Table(stmt.Table)
	if err != nil {
		return 0, err
	}
	pt := x.Eng.Table(stmt.Table)

	count := 0
	for _, rowExprs := range stmt.Rows {
		values, err := x.resolveInsertColumns(t, stmt.Columns, rowExprs, snap)
		if err != nil {
			return 0, err
		}
		validated, err := x.validateRow(t, values, txID, snap, nil)
		if err != nil {
			return 0, err
		}
		row := basic.Row{Values: validated, Xmin: txID}
		loc, err := pt.Append(row)
		if err != nil {
			return 0, err
		}
		if err := x.indexInsert(t, row, loc); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// Update implements spec.md §4.11's UPDATE: for each visible row
// matching WHERE, stamps the old version's xmax, writes a new version
// computed from the SET assignments, and maintains every index.
func (x *Executor) Update(stmt ast.Update, txID uint64, snap txn.Snapshot) (int, error) {
	x.query.TxID = txID
	t, err := x.Eng.Catalog.Table(stmt.Table)
	if err != nil {
		return 0, err
	}
	pt := x.Eng.Table(stmt.Table)

	rows, err := x.visibleRows(stmt.Table, txID, snap)
	if err != nil {
		return 0, err
	}

	where := x.query.ResolveSystemFuncs(stmt.Where)
	count := 0
	for _, lr := range rows {
		if where != nil {
			ok, err := x.Eval.EvalBool(where, rowContext(t, lr.Row, x.query.RunSubquery(snap)))
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
		}

		newValues := make([]basic.Value, len(lr.Row.Values))
		copy(newValues, lr.Row.Values)
		ctx := rowContext(t, lr.Row, x.query.RunSubquery(snap))
		for _, assign := range stmt.Set {
			_, ord, ok := t.ColumnByName(assign.Column)
			if !ok {
				return 0, errors.Wrapf(basic.ErrUnknownColumn, "%q", assign.Column)
			}
			v, err := x.Eval.Eval(x.query.ResolveSystemFuncs(assign.Value), ctx)
			if err != nil {
				return 0, err
			}
			newValues[ord] = v
		}

		loc := lr.Locator
		validated, err := x.validateRow(t, newValues, txID, snap, &loc)
		if err != nil {
			return 0, err
		}

		oldStamped := lr.Row.Clone()
		oldStamped.Xmax = txID
		if _, err := pt.Overwrite(loc, oldStamped); err != nil {
			return 0, err
		}

		newRow := basic.Row{Values: validated, Xmin: txID}
		newLoc, err := pt.Append(newRow)
		if err != nil {
			return 0, err
		}

		x.indexRemove(t, lr.Row, loc)
		if err := x.indexInsert(t, newRow, newLoc); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// Delete implements spec.md §4.11's DELETE: for each visible row
// matching WHERE, stamps xmax with the current tx-id and removes its
// index entries.
func (x *Executor) Delete(stmt ast.Delete, txID uint64, snap txn.Snapshot) (int, error) {
	x.query.TxID = txID
	t, err := x.Eng.Catalog.Table(stmt.Table)
	if err != nil {
		return 0, err
	}
	pt := x.Eng.Table(stmt.Table)

	rows, err := x.visibleRows(stmt.Table, txID, snap)
	if err != nil {
		return 0, err
	}

	where := x.query.ResolveSystemFuncs(stmt.Where)
	count := 0
	for _, lr := range rows {
		if where != nil {
			ok, err := x.Eval.EvalBool(where, rowContext(t, lr.Row, x.query.RunSubquery(snap)))
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
		}
		stamped := lr.Row.Clone()
		stamped.Xmax = txID
		if _, err := pt.Overwrite(lr.Locator, stamped); err != nil {
			return 0, err
		}
		x.indexRemove(t, lr.Row, lr.Locator)
		count++
	}
	return count, nil
}

// CopyIn streams pre-decoded rows (CSV or binary, decoded by the wire
// layer) through the same validation path as INSERT, per spec.md §6's
// COPY command.
func (x *Executor) CopyIn(table string, columns []string, rows [][]basic.Value, txID uint64, snap txn.Snapshot) (int, error) {
	t, err := x.Eng.Catalog.Table(table)
	if err != nil {
		return 0, err
	}
	pt := x.Eng.Table(table)

	count := 0
	for _, raw := range rows {
		values := raw
		if len(columns) > 0 {
			full := make([]basic.Value, len(t.Columns))
			for i := range full {
				full[i] = basic.Null()
			}
			for i, name := range columns {
				_, ord, ok := t.ColumnByName(name)
				if !ok {
					return count, errors.Wrapf(basic.ErrUnknownColumn, "%q", name)
				}
				full[ord] = raw[i]
			}
			values = full
		}
		validated, err := x.validateRow(t, values, txID, snap, nil)
		if err != nil {
			return count, err
		}
		row := basic.Row{Values: validated, Xmin: txID}
		loc, err := pt.Append(row)
		if err != nil {
			return count, err
		}
		if err := x.indexInsert(t, row, loc); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CopyOut returns every row visible to snap (plus txID's own writes) in
// declared column order, for the wire layer to stream out as CSV or
// binary COPY data.
func (x *Executor) CopyOut(table string, txID uint64, snap txn.Snapshot) ([]basic.Row, error) {
	rows, err := x.visibleRows(table, txID, snap)
	if err != nil {
		return nil, err
	}
	out := make([]basic.Row, len(rows))
	for i, lr := range rows {
		out[i] = lr.Row
	}
	return out, nil
}

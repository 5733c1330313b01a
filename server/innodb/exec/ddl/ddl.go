// Package ddl implements the DDL executor of spec.md §4.12: CREATE/DROP/
// ALTER of tables, types, indexes, views and roles, plus GRANT/REVOKE
// and VACUUM. Every statement here auto-commits immediately against the
// catalog regardless of an open transaction block (spec.md §4.9).
package ddl

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/index"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/wal"
)

// Executor runs DDL statements against one Engine.
type Executor struct {
	Eng *engine.Engine
}

// New creates a DDL executor bound to eng.
func New(eng *engine.Engine) *Executor { return &Executor{Eng: eng} }

func toColumn(d ast.ColumnDef) catalog.Column {
	return catalog.Column{
		Name:       d.Name,
		Type:       d.Type,
		Nullable:   d.Nullable,
		Unique:     d.Unique,
		PrimaryKey: d.PrimaryKey,
		MaxLength:  d.MaxLength,
		FixedChar:  d.FixedChar,
		Precision:  d.Precision,
		Scale:      d.Scale,
		IntWidth:   d.IntWidth,
		EnumType:   d.EnumType,
		Serial:     d.Serial,
		References: d.References,
	}
}

// CreateTable validates the column list (no duplicate names, at most
// one primary key), allocates the catalog entry owned by owner, creates
// the on-disk table file and logs a CreateTable WAL record.
func (x *Executor) CreateTable(stmt ast.CreateTable, owner string) error {
	seen := make(map[string]bool)
	pkCount := 0
	cols := make([]catalog.Column, 0, len(stmt.Columns))
	for _, c := range stmt.Columns {
		if seen[c.Name] {
			return errors.Wrapf(basic.ErrDuplicateColumn, "column %q", c.Name)
		}
		seen[c.Name] = true
		if c.PrimaryKey {
			pkCount++
			if pkCount > 1 {
				return errors.New("ddl: at most one PRIMARY KEY column is permitted")
			}
		}
		cols = append(cols, toColumn(c))
	}

	t := &catalog.Table{Name: stmt.Table, Owner: owner, Columns: cols, Sequences: make(map[string]int64)}
	if err := x.Eng.Catalog.CreateTable(t); err != nil {
		return err
	}
	// Touching the PagedTable creates the backing file lazily on first
	// AllocatePage; force that now so an empty table still has a file.
	if _, err := x.Eng.PM.PageCount(stmt.Table); err != nil {
		return err
	}
	_, err := x.Eng.WAL.Append(wal.Record{Kind: wal.KindCreateTable, DDLName: stmt.Table})
	return err
}

// DropTable removes the catalog entry, its indexes, and forgets the
// in-memory PagedTable/index bookkeeping.
func (x *Executor) DropTable(stmt ast.DropTable) error {
	t, err := x.Eng.Catalog.Table(stmt.Table)
	if err != nil {
		return err
	}
	for _, ixName := range t.Indexes {
		x.Eng.ForgetIndex(ixName)
	}
	if err := x.Eng.Catalog.DropTable(stmt.Table); err != nil {
		return err
	}
	x.Eng.ForgetTable(stmt.Table)
	_, err = x.Eng.WAL.Append(wal.Record{Kind: wal.KindDropTable, DDLName: stmt.Table})
	return err
}

// AlterTable implements ADD COLUMN / DROP COLUMN / RENAME COLUMN /
// RENAME TO / OWNER TO. Column-shape changes rewrite every row of the
// table via PagedTable and update indexes accordingly -- expensive, per
// spec.md §4.12's own characterization.
func (x *Executor) AlterTable(stmt ast.AlterTable) error {
	switch stmt.Kind {
	case ast.AlterRenameTo:
		if err := x.Eng.Catalog.RenameTable(stmt.Table, stmt.NewName); err != nil {
			return err
		}
		_, err := x.Eng.WAL.Append(wal.Record{Kind: wal.KindAlterTable, DDLName: stmt.Table, DDLBlob: []byte(stmt.NewName)})
		return err
	case ast.AlterOwnerTo:
		err := x.Eng.Catalog.MutateTable(stmt.Table, func(t *catalog.Table) error {
			t.Owner = stmt.NewOwner
			return nil
		})
		if err != nil {
			return err
		}
		_, err = x.Eng.WAL.Append(wal.Record{Kind: wal.KindAlterTable, DDLName: stmt.Table})
		return err
	case ast.AlterAddColumn:
		return x.alterAddColumn(stmt)
	case ast.AlterDropColumn:
		return x.alterDropColumn(stmt)
	case ast.AlterRenameColumn:
		return x.alterRenameColumn(stmt)
	default:
		return fmt.Errorf("ddl: unsupported ALTER TABLE kind %v", stmt.Kind)
	}
}

func (x *Executor) alterAddColumn(stmt ast.AlterTable) error {
	col := toColumn(stmt.ColumnDef)
	if !col.Nullable {
		return errors.New("ddl: ADD COLUMN requires the new column to be nullable (no default-fill of existing rows)")
	}
	t, err := x.Eng.Catalog.Table(stmt.Table)
	if err != nil {
		return err
	}
	pt := x.Eng.Table(stmt.Table)
	rows, err := pt.Scan()
	if err != nil {
		return err
	}
	for _, lr := range rows {
		row := lr.Row.Clone()
		row.Values = append(row.Values, basic.Null())
		if _, err := pt.Overwrite(lr.Locator, row); err != nil {
			return err
		}
	}
	if err := x.Eng.Catalog.MutateTable(t.Name, func(tt *catalog.Table) error {
		tt.Columns = append(tt.Columns, col)
		return nil
	}); err != nil {
		return err
	}
	// Overwrite relocates any row whose new form no longer fits its old
	// slot, so every index entry's locator may now be stale.
	return x.rebuildTableIndexes(stmt.Table)
}

func (x *Executor) alterDropColumn(stmt ast.AlterTable) error {
	t, err := x.Eng.Catalog.Table(stmt.Table)
	if err != nil {
		return err
	}
	_, ord, ok := t.ColumnByName(stmt.ColumnName)
	if !ok {
		return basic.ErrUnknownColumn
	}

	// Indexes keyed (wholly or partly) on the dropped column lose their
	// key source and are dropped with it.
	for _, desc := range x.Eng.Catalog.IndexesOn(stmt.Table) {
		for _, c := range desc.Columns {
			if c == stmt.ColumnName {
				if err := x.Eng.Catalog.DropIndex(desc.Name); err != nil {
					return err
				}
				x.Eng.ForgetIndex(desc.Name)
				break
			}
		}
	}

	pt := x.Eng.Table(stmt.Table)
	rows, err := pt.Scan()
	if err != nil {
		return err
	}
	for _, lr := range rows {
		row := lr.Row.Clone()
		row.Values = append(row.Values[:ord], row.Values[ord+1:]...)
		if _, err := pt.Overwrite(lr.Locator, row); err != nil {
			return err
		}
	}
	if err := x.Eng.Catalog.MutateTable(t.Name, func(tt *catalog.Table) error {
		tt.Columns = append(tt.Columns[:ord], tt.Columns[ord+1:]...)
		return nil
	}); err != nil {
		return err
	}
	return x.rebuildTableIndexes(stmt.Table)
}

// rebuildTableIndexes repopulates every surviving index of a table from
// a fresh scan. ALTER's row rewrite goes through Overwrite, which frees
// and relocates any row that no longer fits its slot, so the cheap
// per-row remove/insert the DML executor does is not enough here -- the
// whole locator set may have moved.
func (x *Executor) rebuildTableIndexes(table string) error {
	t, err := x.Eng.Catalog.Table(table)
	if err != nil {
		return err
	}
	rows, err := x.Eng.Table(table).Scan()
	if err != nil {
		return err
	}
	for _, desc := range x.Eng.Catalog.IndexesOn(table) {
		x.Eng.ForgetIndex(desc.Name)
		idx := x.Eng.IndexFor(desc)
		var forIndex []index.RowForIndex
		for _, lr := range rows {
			if key, ok := engine.IndexKey(t, desc, lr.Row); ok {
				forIndex = append(forIndex, index.RowForIndex{Key: key, Locator: lr.Locator})
			}
		}
		if err := index.Rebuild(idx, forIndex); err != nil {
			return errors.Wrapf(err, "ddl: rebuilding index %s", desc.Name)
		}
	}
	return nil
}

func (x *Executor) alterRenameColumn(stmt ast.AlterTable) error {
	err := x.Eng.Catalog.MutateTable(stmt.Table, func(t *catalog.Table) error {
		_, ord, ok := t.ColumnByName(stmt.ColumnName)
		if !ok {
			return basic.ErrUnknownColumn
		}
		t.Columns[ord].Name = stmt.NewName
		return nil
	})
	if err != nil {
		return err
	}
	// Index descriptors extract keys by column name; rename there too or
	// every maintenance pass would silently stop finding the column.
	return x.Eng.Catalog.RenameColumnInIndexes(stmt.Table, stmt.ColumnName, stmt.NewName)
}

// CreateEnum registers a CREATE TYPE ... AS ENUM.
func (x *Executor) CreateEnum(stmt ast.CreateEnum) error {
	return x.Eng.Catalog.CreateEnum(&catalog.Enum{Name: stmt.Name, Values: stmt.Values})
}

// CreateIndex scans the table, builds the index in memory, and
// persists only the descriptor (the live structure is rebuilt from
// scratch on every restart).
func (x *Executor) CreateIndex(stmt ast.CreateIndex) error {
	t, err := x.Eng.Catalog.Table(stmt.Table)
	if err != nil {
		return err
	}
	desc := &catalog.IndexDescriptor{Name: stmt.Name, Table: stmt.Table, Columns: stmt.Columns, Kind: stmt.Kind, Unique: stmt.Unique}
	if err := x.Eng.Catalog.CreateIndex(desc); err != nil {
		return err
	}

	idx := x.Eng.IndexFor(desc)
	pt := x.Eng.Table(stmt.Table)
	rows, err := pt.Scan()
	if err != nil {
		return err
	}
	for _, lr := range rows {
		key, ok := engine.IndexKey(t, desc, lr.Row)
		if !ok {
			continue
		}
		if err := idx.Insert(key, lr.Locator); err != nil {
			return errors.Wrapf(err, "ddl: building index %s", stmt.Name)
		}
	}
	return nil
}

// DropIndex removes the descriptor and the live index structure.
func (x *Executor) DropIndex(stmt ast.DropIndex) error {
	if err := x.Eng.Catalog.DropIndex(stmt.Name); err != nil {
		return err
	}
	x.Eng.ForgetIndex(stmt.Name)
	return nil
}

// CreateView stores the SELECT text verbatim; it is re-parsed on each
// reference per spec.md §4.7.
func (x *Executor) CreateView(stmt ast.CreateView, owner string) error {
	if err := x.Eng.Catalog.CreateView(&catalog.View{Name: stmt.Name, Owner: owner, Query: stmt.QueryText}); err != nil {
		return err
	}
	x.Eng.RegisterView(stmt.Name, stmt.Query)
	return nil
}

func (x *Executor) DropView(stmt ast.DropView) error {
	if err := x.Eng.Catalog.DropView(stmt.Name); err != nil {
		return err
	}
	x.Eng.ForgetView(stmt.Name)
	return nil
}

func (x *Executor) CreateRole(stmt ast.CreateRole) error {
	return x.Eng.Catalog.CreateRole(stmt.Name, stmt.Superuser)
}

func (x *Executor) DropRole(stmt ast.DropRole) error {
	return x.Eng.Catalog.DropRole(stmt.Name)
}

func (x *Executor) GrantRole(stmt ast.GrantRole) error {
	return x.Eng.Catalog.GrantRole(stmt.User, stmt.Role)
}

func (x *Executor) RevokeRole(stmt ast.RevokeRole) error {
	return x.Eng.Catalog.RevokeRole(stmt.User, stmt.Role)
}

func (x *Executor) GrantPriv(stmt ast.GrantPriv) error {
	return x.Eng.Catalog.Grant(stmt.Table, stmt.Role, stmt.Privs)
}

func (x *Executor) RevokePriv(stmt ast.RevokePriv) error {
	return x.Eng.Catalog.Revoke(stmt.Table, stmt.Role, stmt.Privs)
}

// Vacuum implements spec.md §4.14: physically reclaims dead tuples
// (superseded/deleted rows whose deleting transaction committed at or
// below the VACUUM horizon, or rows whose creating transaction
// aborted), and removes their index entries. Returns the summary report
// string.
func (x *Executor) Vacuum(stmt ast.Vacuum) (string, error) {
	targets := x.Eng.Catalog.ListTables()
	if stmt.Table != "" {
		t, err := x.Eng.Catalog.Table(stmt.Table)
		if err != nil {
			return "", err
		}
		targets = []*catalog.Table{t}
	}

	horizon, hasActive := x.Eng.Txn.OldestActive()
	if !hasActive {
		horizon = x.Eng.Txn.Snapshot().XMax // no active tx: everything committed so far is dead-eligible
	}

	removed := 0
	for _, t := range targets {
		pt := x.Eng.Table(t.Name)
		rows, err := pt.Scan()
		if err != nil {
			return "", err
		}
		touchedPages := make(map[uint32]bool)
		for _, lr := range rows {
			dead := false
			if lr.Row.HasXmax() && x.Eng.Txn.Committed(lr.Row.Xmax) && lr.Row.Xmax <= horizon {
				dead = true
			}
			if x.Eng.Txn.Aborted(lr.Row.Xmin) {
				dead = true
			}
			if !dead {
				continue
			}
			for _, ixDesc := range x.Eng.Catalog.IndexesOn(t.Name) {
				idx := x.Eng.IndexFor(ixDesc)
				if key, ok := engine.IndexKey(t, ixDesc, lr.Row); ok {
					idx.Remove(key, lr.Locator)
				}
			}
			if err := pt.Free(lr.Locator); err != nil {
				return "", err
			}
			touchedPages[lr.Locator.PageID] = true
			removed++
		}
		for pageID := range touchedPages {
			if err := pt.CompactPage(pageID); err != nil {
				return "", err
			}
		}
	}
	return fmt.Sprintf("removed %d dead tuples", removed), nil
}

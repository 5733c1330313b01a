package ast

import "github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"

// Stmt is the tagged-variant statement tree; the dispatcher switches on
// the concrete Go type to route to the DDL, DML or query executor
// (spec.md §2 "Dispatcher").
type Stmt interface{ isStmt() }

// --- Transaction control (spec.md §4.9) ------------------------------------

type Begin struct{}
type Commit struct{}
type Rollback struct{}

// --- DDL (spec.md §4.12) ---------------------------------------------------

// ColumnDef is one column in a CREATE TABLE / ADD COLUMN clause.
type ColumnDef struct {
	Name       string
	Type       catalog.ColumnType
	Nullable   bool
	Unique     bool
	PrimaryKey bool
	MaxLength  int
	FixedChar  bool
	Precision  int
	Scale      int
	IntWidth   int
	EnumType   string
	Serial     bool
	References *catalog.ForeignKey
}

type CreateTable struct {
	Table   string
	Columns []ColumnDef
}

type DropTable struct{ Table string }

// AlterKind enumerates the ALTER TABLE sub-operations spec.md §4.12 names.
type AlterKind uint8

const (
	AlterAddColumn AlterKind = iota
	AlterDropColumn
	AlterRenameColumn
	AlterRenameTo
	AlterOwnerTo
)

type AlterTable struct {
	Table      string
	Kind       AlterKind
	ColumnDef  ColumnDef // AddColumn
	ColumnName string    // DropColumn / RenameColumn (old name)
	NewName    string    // RenameColumn (new name) / RenameTo
	NewOwner   string    // OwnerTo
}

type CreateEnum struct {
	Name   string
	Values []string
}

type CreateIndex struct {
	Name    string
	Table   string
	Columns []string
	Kind    catalog.IndexKind
	Unique  bool
}

type DropIndex struct{ Name string }

type CreateView struct {
	Name  string
	Query *Select
	// QueryText is the original SELECT text, re-parsed on each reference
	// per spec.md §4.7; the core stores it verbatim.
	QueryText string
}

type DropView struct{ Name string }

type CreateRole struct {
	Name      string
	Superuser bool
}

type DropRole struct{ Name string }

type GrantRole struct {
	Role string
	User string
}

type RevokeRole struct {
	Role string
	User string
}

type GrantPriv struct {
	Table string
	Role  string
	Privs catalog.Privilege
}

type RevokePriv struct {
	Table string
	Role  string
	Privs catalog.Privilege
}

type Vacuum struct{ Table string } // empty Table = all tables

// --- DML (spec.md §4.11) ----------------------------------------------------

type Insert struct {
	Table   string
	Columns []string // empty means all columns in declared order
	Rows    [][]Expr
}

type Assignment struct {
	Column string
	Value  Expr
}

type Update struct {
	Table   string
	Set     []Assignment
	Where   Expr // nil means no filter
}

type Delete struct {
	Table string
	Where Expr
}

// CopyFormat enumerates the COPY wire formats spec.md §6 names.
type CopyFormat uint8

const (
	CopyCSV CopyFormat = iota
	CopyBinary
)

type CopyDirection uint8

const (
	CopyFrom CopyDirection = iota
	CopyTo
)

type Copy struct {
	Table     string
	Columns   []string
	Direction CopyDirection
	Format    CopyFormat
}

// --- Query (spec.md §4.15) --------------------------------------------------

type JoinKind uint8

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
)

// TableRef names a FROM-clause source: a base table, a view, or a
// derived subquery, each optionally aliased.
type TableRef struct {
	Name     string // table or view name; empty if Subquery is set
	Alias    string
	Subquery *Select
}

type Join struct {
	Kind  JoinKind
	Table TableRef
	On    Expr
}

// Projection is one SELECT-list item.
type Projection struct {
	Expr  Expr
	Alias string
}

type OrderTerm struct {
	Expr Expr
	Desc bool
}

type SetOpKind uint8

const (
	SetUnion SetOpKind = iota
	SetUnionAll
	SetIntersect
	SetExcept
)

type SetOp struct {
	Kind  SetOpKind
	Right *Select
}

type Select struct {
	Distinct    bool
	Projections []Projection
	From        TableRef
	Joins       []Join
	Where       Expr
	GroupBy     []Expr
	Having      Expr
	OrderBy     []OrderTerm
	Limit       *int
	Offset      *int
	SetOp       *SetOp
}

type Explain struct{ Query *Select }

func (Begin) isStmt()       {}
func (Commit) isStmt()      {}
func (Rollback) isStmt()    {}
func (CreateTable) isStmt() {}
func (DropTable) isStmt()   {}
func (AlterTable) isStmt()  {}
func (CreateEnum) isStmt()  {}
func (CreateIndex) isStmt() {}
func (DropIndex) isStmt()   {}
func (CreateView) isStmt()  {}
func (DropView) isStmt()    {}
func (CreateRole) isStmt()  {}
func (DropRole) isStmt()    {}
func (GrantRole) isStmt()   {}
func (RevokeRole) isStmt()  {}
func (GrantPriv) isStmt()   {}
func (RevokePriv) isStmt()  {}
func (Vacuum) isStmt()      {}
func (Insert) isStmt()      {}
func (Update) isStmt()      {}
func (Delete) isStmt()      {}
func (Copy) isStmt()        {}
func (Select) isStmt()      {}
func (Explain) isStmt()     {}

package query

import (
	"strings"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/page"
)

// systemView resolves one of the read-only computed catalog/
// information_schema tables spec.md §4.7 names. These are derived
// fresh from the live Catalog on every reference rather than stored.
func (x *Executor) systemView(name string) ([]string, [][]basic.Value, bool) {
	switch strings.ToLower(name) {
	case "pg_catalog.pg_class", "pg_class":
		return x.pgClass()
	case "pg_catalog.pg_attribute", "pg_attribute":
		return x.pgAttribute()
	case "pg_catalog.pg_index", "pg_index":
		return x.pgIndex()
	case "pg_catalog.pg_type", "pg_type":
		return x.pgType()
	case "pg_catalog.pg_namespace", "pg_namespace":
		return x.pgNamespace()
	case "pg_catalog.pg_auth_members", "pg_auth_members":
		return x.pgAuthMembers()
	case "information_schema.tables":
		return x.infoTables()
	case "information_schema.columns":
		return x.infoColumns()
	case "information_schema.views":
		return x.infoViews()
	case "information_schema.table_privileges":
		return x.infoTablePrivileges()
	default:
		return nil, nil, false
	}
}

func (x *Executor) pgClass() ([]string, [][]basic.Value, bool) {
	cols := []string{"relname", "relnamespace", "relkind", "relowner"}
	var rows [][]basic.Value
	for _, t := range x.Eng.Catalog.ListTables() {
		rows = append(rows, []basic.Value{basic.StringV(t.Name), basic.StringV("public"), basic.StringV("r"), basic.StringV(t.Owner)})
	}
	for _, v := range x.Eng.Catalog.ListViews() {
		rows = append(rows, []basic.Value{basic.StringV(v.Name), basic.StringV("public"), basic.StringV("v"), basic.StringV(v.Owner)})
	}
	return cols, rows, true
}

func (x *Executor) pgAttribute() ([]string, [][]basic.Value, bool) {
	cols := []string{"attrelid", "attname", "atttypid", "attnotnull", "attnum"}
	var rows [][]basic.Value
	for _, t := range x.Eng.Catalog.ListTables() {
		for i, c := range t.Columns {
			rows = append(rows, []basic.Value{
				basic.StringV(t.Name),
				basic.StringV(c.Name),
				basic.IntV(int64(c.Type)),
				basic.BoolV(!c.Nullable),
				basic.IntV(int64(i + 1)),
			})
		}
	}
	return cols, rows, true
}

func (x *Executor) pgIndex() ([]string, [][]basic.Value, bool) {
	cols := []string{"indexrelid", "indrelid", "indisunique", "indnatts"}
	var rows [][]basic.Value
	for _, t := range x.Eng.Catalog.ListTables() {
		for _, desc := range x.Eng.Catalog.IndexesOn(t.Name) {
			rows = append(rows, []basic.Value{
				basic.StringV(desc.Name), basic.StringV(t.Name), basic.BoolV(desc.Unique), basic.IntV(int64(len(desc.Columns))),
			})
		}
	}
	return cols, rows, true
}

func (x *Executor) pgType() ([]string, [][]basic.Value, bool) {
	cols := []string{"typname", "typtype"}
	rows := [][]basic.Value{
		{basic.StringV("numeric"), basic.StringV("b")},
		{basic.StringV("text"), basic.StringV("b")},
		{basic.StringV("timestamp"), basic.StringV("b")},
		{basic.StringV("bool"), basic.StringV("b")},
		{basic.StringV("uuid"), basic.StringV("b")},
		{basic.StringV("json"), basic.StringV("b")},
		{basic.StringV("bytea"), basic.StringV("b")},
	}
	for _, e := range x.Eng.Catalog.ListEnums() {
		rows = append(rows, []basic.Value{basic.StringV(e.Name), basic.StringV("e")})
	}
	return cols, rows, true
}

func (x *Executor) pgNamespace() ([]string, [][]basic.Value, bool) {
	cols := []string{"nspname"}
	rows := [][]basic.Value{
		{basic.StringV("public")},
		{basic.StringV("pg_catalog")},
		{basic.StringV("information_schema")},
	}
	return cols, rows, true
}

func (x *Executor) pgAuthMembers() ([]string, [][]basic.Value, bool) {
	cols := []string{"member", "roleid"}
	var rows [][]basic.Value
	for _, r := range x.Eng.Catalog.ListRoles() {
		for parent := range r.MemberOf {
			rows = append(rows, []basic.Value{basic.StringV(r.Name), basic.StringV(parent)})
		}
	}
	return cols, rows, true
}

func (x *Executor) infoTables() ([]string, [][]basic.Value, bool) {
	cols := []string{"table_schema", "table_name", "table_type"}
	var rows [][]basic.Value
	for _, t := range x.Eng.Catalog.ListTables() {
		rows = append(rows, []basic.Value{basic.StringV("public"), basic.StringV(t.Name), basic.StringV("BASE TABLE")})
	}
	for _, v := range x.Eng.Catalog.ListViews() {
		rows = append(rows, []basic.Value{basic.StringV("public"), basic.StringV(v.Name), basic.StringV("VIEW")})
	}
	return cols, rows, true
}

func (x *Executor) infoColumns() ([]string, [][]basic.Value, bool) {
	cols := []string{"table_name", "column_name", "ordinal_position", "is_nullable"}
	var rows [][]basic.Value
	for _, t := range x.Eng.Catalog.ListTables() {
		for i, c := range t.Columns {
			nullable := "YES"
			if !c.Nullable {
				nullable = "NO"
			}
			rows = append(rows, []basic.Value{basic.StringV(t.Name), basic.StringV(c.Name), basic.IntV(int64(i + 1)), basic.StringV(nullable)})
		}
	}
	return cols, rows, true
}

func (x *Executor) infoViews() ([]string, [][]basic.Value, bool) {
	cols := []string{"table_name", "view_definition"}
	var rows [][]basic.Value
	for _, v := range x.Eng.Catalog.ListViews() {
		rows = append(rows, []basic.Value{basic.StringV(v.Name), basic.StringV(v.Query)})
	}
	return cols, rows, true
}

func (x *Executor) infoTablePrivileges() ([]string, [][]basic.Value, bool) {
	cols := []string{"grantee", "table_name", "privilege_type"}
	var rows [][]basic.Value
	names := map[int]string{0: "SELECT", 1: "INSERT", 2: "UPDATE", 3: "DELETE"}
	for _, g := range x.Eng.Catalog.ListGrants() {
		for bit, label := range names {
			if g.Privs.Has(1 << uint(bit)) {
				rows = append(rows, []basic.Value{basic.StringV(g.Role), basic.StringV(g.Table), basic.StringV(label)})
			}
		}
	}
	return cols, rows, true
}

// --- System (builtin) scalar functions --------------------------------------

// resolveSystemFuncs rewrites version()/current_database()/
// current_user()/pg_table_size(name)/pg_database_size(name) calls
// within e into the pre-computed Literal args eval.evalFunc expects,
// since eval has no catalog/storage handle of its own.
func (x *Executor) resolveSystemFuncs(e ast.Expr) ast.Expr {
	if e == nil {
		return nil
	}
	return rewriteExpr(e, func(n ast.Expr) ast.Expr {
		fc, ok := n.(ast.FuncCall)
		if !ok {
			return n
		}
		switch strings.ToLower(fc.Name) {
		case "current_database":
			return ast.FuncCall{Name: fc.Name, Args: []ast.Expr{ast.Literal{Value: basic.StringV(x.Eng.DataDir)}}}
		case "current_user":
			return ast.FuncCall{Name: fc.Name, Args: []ast.Expr{ast.Literal{Value: basic.StringV(x.User)}}}
		case "pg_table_size":
			if len(fc.Args) == 1 {
				if lit, ok := fc.Args[0].(ast.Literal); ok {
					return ast.FuncCall{Name: fc.Name, Args: []ast.Expr{ast.Literal{Value: basic.IntV(x.tableByteSize(lit.Value.Str))}}}
				}
			}
			return fc
		case "pg_database_size":
			return ast.FuncCall{Name: fc.Name, Args: []ast.Expr{ast.Literal{Value: basic.IntV(x.databaseByteSize())}}}
		default:
			return fc
		}
	})
}

// ResolveSystemFuncs is the exported form of resolveSystemFuncs, used
// by the DML executor for value and predicate expressions that never
// pass through the SELECT pipeline (INSERT VALUES, UPDATE SET,
// UPDATE/DELETE WHERE).
func (x *Executor) ResolveSystemFuncs(e ast.Expr) ast.Expr {
	return x.resolveSystemFuncs(e)
}

// withSystemFuncsResolved returns a shallow copy of stmt with every
// builtin function call's arguments pre-computed, never mutating the
// caller's tree (which may be a view's cached definition, reused
// across every reference).
func (x *Executor) withSystemFuncsResolved(stmt *ast.Select) *ast.Select {
	out := *stmt
	if len(stmt.Projections) > 0 {
		out.Projections = make([]ast.Projection, len(stmt.Projections))
		for i, p := range stmt.Projections {
			p.Expr = x.resolveSystemFuncs(p.Expr)
			out.Projections[i] = p
		}
	}
	out.Where = x.resolveSystemFuncs(stmt.Where)
	out.Having = x.resolveSystemFuncs(stmt.Having)
	if len(stmt.GroupBy) > 0 {
		out.GroupBy = make([]ast.Expr, len(stmt.GroupBy))
		for i, g := range stmt.GroupBy {
			out.GroupBy[i] = x.resolveSystemFuncs(g)
		}
	}
	if len(stmt.OrderBy) > 0 {
		out.OrderBy = make([]ast.OrderTerm, len(stmt.OrderBy))
		for i, o := range stmt.OrderBy {
			o.Expr = x.resolveSystemFuncs(o.Expr)
			out.OrderBy[i] = o
		}
	}
	return &out
}

func (x *Executor) tableByteSize(table string) int64 {
	n, err := x.Eng.PM.PageCount(table)
	if err != nil {
		return 0
	}
	return int64(n) * int64(page.Size)
}

func (x *Executor) databaseByteSize() int64 {
	var total int64
	for _, t := range x.Eng.Catalog.ListTables() {
		total += x.tableByteSize(t.Name)
	}
	return total
}

// rewriteExpr applies fn bottom-up across every reachable subexpression.
func rewriteExpr(e ast.Expr, fn func(ast.Expr) ast.Expr) ast.Expr {
	switch n := e.(type) {
	case ast.Binary:
		n.Left = rewriteExpr(n.Left, fn)
		n.Right = rewriteExpr(n.Right, fn)
		return fn(n)
	case ast.Not:
		n.Expr = rewriteExpr(n.Expr, fn)
		return fn(n)
	case ast.Between:
		n.Expr = rewriteExpr(n.Expr, fn)
		n.Low = rewriteExpr(n.Low, fn)
		n.High = rewriteExpr(n.High, fn)
		return fn(n)
	case ast.Like:
		n.Expr = rewriteExpr(n.Expr, fn)
		n.Pattern = rewriteExpr(n.Pattern, fn)
		return fn(n)
	case ast.InList:
		n.Expr = rewriteExpr(n.Expr, fn)
		list := make([]ast.Expr, len(n.List))
		for i, it := range n.List {
			list[i] = rewriteExpr(it, fn)
		}
		n.List = list
		return fn(n)
	case ast.IsNull:
		n.Expr = rewriteExpr(n.Expr, fn)
		return fn(n)
	case ast.IsNotNull:
		n.Expr = rewriteExpr(n.Expr, fn)
		return fn(n)
	case ast.Case:
		whens := make([]ast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			w.When = rewriteExpr(w.When, fn)
			w.Then = rewriteExpr(w.Then, fn)
			whens[i] = w
		}
		n.Whens = whens
		if n.Else != nil {
			n.Else = rewriteExpr(n.Else, fn)
		}
		return fn(n)
	case ast.FuncCall:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = rewriteExpr(a, fn)
		}
		n.Args = args
		return fn(n)
	default:
		return fn(e)
	}
}

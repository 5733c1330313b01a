// Package catalog implements the in-memory schema directory described
// in spec.md §4.7: tables, columns, indexes, enums, views, roles and
// privileges, serialized to catalog.db on every schema-altering
// operation and loaded eagerly at startup. Indexes are not persisted
// here -- they are rebuilt by scanning each table (see server/innodb/index).
package catalog

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

// ColumnType tags a column's semantic type per spec.md §3.
type ColumnType uint8

const (
	TypeNumeric ColumnType = iota
	TypeString
	TypeTemporal
	TypeBool
	TypeUUID
	TypeJSON
	TypeBytea
	TypeEnum
)

// Column is one table column definition.
type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	Unique     bool
	PrimaryKey bool
	MaxLength  int  // VARCHAR(n)/CHAR(n); 0 means unbounded
	FixedChar  bool // CHAR(n) pads with spaces to MaxLength; VARCHAR does not
	Precision  int  // numeric precision, 0 = unspecified
	Scale      int  // numeric scale
	IntWidth   int  // 16/32/64 for SMALLINT/INTEGER/BIGINT range checks; 0 = unbounded decimal
	EnumType   string
	Serial     bool // SERIAL: auto-increment via the owning table's sequence
	References *ForeignKey
}

// ForeignKey names the referenced table and column for a REFERENCES
// constraint.
type ForeignKey struct {
	Table  string
	Column string
}

// IndexKind distinguishes ordered (B-tree) from hashed indexes.
type IndexKind uint8

const (
	IndexOrdered IndexKind = iota
	IndexHashed
)

// IndexDescriptor is catalog metadata for one index; the live index
// structure itself lives in the process's index registry, not here.
type IndexDescriptor struct {
	Name    string
	Table   string
	Columns []string
	Kind    IndexKind
	Unique  bool
}

// Table is one catalog table entry.
type Table struct {
	Name      string
	Owner     string
	Columns   []Column
	Sequences map[string]int64 // column name -> last serial value issued
	Indexes   []string         // index names owned by this table
}

// ColumnByName returns the column definition and its ordinal, or false.
func (t *Table) ColumnByName(name string) (Column, int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return c, i, true
		}
	}
	return Column{}, 0, false
}

// PrimaryKeyColumn returns the single primary-key column, if any.
func (t *Table) PrimaryKeyColumn() (Column, bool) {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c, true
		}
	}
	return Column{}, false
}

// Enum is a registered CREATE TYPE ... AS ENUM.
type Enum struct {
	Name   string
	Values []string
}

// Member reports whether v is a permitted value of the enum.
func (e Enum) Member(v string) bool {
	for _, m := range e.Values {
		if m == v {
			return true
		}
	}
	return false
}

// View stores the original SELECT text, re-parsed on each reference.
type View struct {
	Name  string
	Owner string
	Query string
}

// Role is a catalog principal: a login name, a superuser flag, and the
// set of roles directly granted to it (membership is transitive, see
// spec.md §4.13).
type Role struct {
	Name       string
	Superuser  bool
	MemberOf   map[string]bool
}

// Privilege enumerates the four grantable table-level privileges.
type Privilege uint8

const (
	PrivSelect Privilege = 1 << iota
	PrivInsert
	PrivUpdate
	PrivDelete
)

func (p Privilege) Has(bit Privilege) bool { return p&bit != 0 }

// grant key is (table, role).
type grantKey struct {
	Table string
	Role  string
}

// persisted is the gob-serializable snapshot of catalog state.
type persisted struct {
	Tables     map[string]*Table
	Indexes    map[string]*IndexDescriptor
	Enums      map[string]*Enum
	Views      map[string]*View
	Roles      map[string]*Role
	Privileges map[grantKey]Privilege
}

func init() {
	gob.Register(ForeignKey{})
}

// Catalog is the process-wide schema directory. Mutation is serialized
// by a single coarse lock per spec.md §5; reads take the same lock for
// a short critical section.
type Catalog struct {
	mu   sync.Mutex
	path string

	tables     map[string]*Table
	indexes    map[string]*IndexDescriptor
	enums      map[string]*Enum
	views      map[string]*View
	roles      map[string]*Role
	privileges map[grantKey]Privilege
}

// New creates an empty catalog persisted at path (catalog.db).
func New(path string) *Catalog {
	return &Catalog{
		path:       path,
		tables:     make(map[string]*Table),
		indexes:    make(map[string]*IndexDescriptor),
		enums:      make(map[string]*Enum),
		views:      make(map[string]*View),
		roles:      make(map[string]*Role),
		privileges: make(map[grantKey]Privilege),
	}
}

// Load reads catalog.db at path if it exists; a missing file is not an
// error -- it means first-start (initdb).
func Load(path string) (*Catalog, error) {
	c := New(path)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errors.Wrap(err, "catalog: reading catalog.db")
	}
	var p persisted
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&p); err != nil {
		return nil, errors.Wrap(err, "catalog: decoding catalog.db")
	}
	c.tables = p.Tables
	c.indexes = p.Indexes
	c.enums = p.Enums
	c.views = p.Views
	c.roles = p.Roles
	c.privileges = p.Privileges
	if c.tables == nil {
		c.tables = make(map[string]*Table)
	}
	if c.indexes == nil {
		c.indexes = make(map[string]*IndexDescriptor)
	}
	if c.enums == nil {
		c.enums = make(map[string]*Enum)
	}
	if c.views == nil {
		c.views = make(map[string]*View)
	}
	if c.roles == nil {
		c.roles = make(map[string]*Role)
	}
	if c.privileges == nil {
		c.privileges = make(map[grantKey]Privilege)
	}
	return c, nil
}

// saveLocked persists the full catalog snapshot. Must be called with mu held.
func (c *Catalog) saveLocked() error {
	p := persisted{
		Tables:     c.tables,
		Indexes:    c.indexes,
		Enums:      c.enums,
		Views:      c.views,
		Roles:      c.roles,
		Privileges: c.privileges,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return errors.Wrap(err, "catalog: encoding snapshot")
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "catalog: writing snapshot")
	}
	return errors.Wrap(os.Rename(tmp, c.path), "catalog: renaming snapshot into place")
}

// --- Tables -----------------------------------------------------------

// CreateTable registers a new table. Fails with basic.ErrDuplicateTable
// if a table of that name already exists.
func (c *Catalog) CreateTable(t *Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[t.Name]; ok {
		return basic.ErrDuplicateTable
	}
	if t.Sequences == nil {
		t.Sequences = make(map[string]int64)
	}
	c.tables[t.Name] = t
	return c.saveLocked()
}

// Table returns a table by name.
func (c *Catalog) Table(name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, basic.ErrUnknownTable
	}
	return t, nil
}

// DropTable removes a table and any indexes it owned.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return basic.ErrUnknownTable
	}
	for _, ix := range t.Indexes {
		delete(c.indexes, ix)
	}
	delete(c.tables, name)
	return c.saveLocked()
}

// ListTables returns every table.
func (c *Catalog) ListTables() []*Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}

// MutateTable applies fn to the named table and persists the result;
// used by ALTER TABLE.
func (c *Catalog) MutateTable(name string, fn func(*Table) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return basic.ErrUnknownTable
	}
	if err := fn(t); err != nil {
		return err
	}
	return c.saveLocked()
}

// RenameTable moves a table entry (and its index descriptors' Table
// field) to a new name.
func (c *Catalog) RenameTable(oldName, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[oldName]
	if !ok {
		return basic.ErrUnknownTable
	}
	if _, exists := c.tables[newName]; exists {
		return basic.ErrDuplicateTable
	}
	t.Name = newName
	delete(c.tables, oldName)
	c.tables[newName] = t
	for _, ixName := range t.Indexes {
		if ix, ok := c.indexes[ixName]; ok {
			ix.Table = newName
		}
	}
	return c.saveLocked()
}

// RenameColumnInIndexes rewrites a table's index descriptors after
// ALTER TABLE RENAME COLUMN, so key extraction by column name stays
// valid.
func (c *Catalog) RenameColumnInIndexes(table, oldName, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return basic.ErrUnknownTable
	}
	changed := false
	for _, ixName := range t.Indexes {
		ix, ok := c.indexes[ixName]
		if !ok {
			continue
		}
		for i, col := range ix.Columns {
			if col == oldName {
				ix.Columns[i] = newName
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}
	return c.saveLocked()
}

// NextSequence advances and returns the next value of a column's serial
// sequence.
func (c *Catalog) NextSequence(table, column string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return 0, basic.ErrUnknownTable
	}
	t.Sequences[column]++
	v := t.Sequences[column]
	if err := c.saveLocked(); err != nil {
		return 0, err
	}
	return v, nil
}

// BumpSequence advances a column's sequence to at least v, used when an
// explicit INSERT supplies a serial value above the current counter
// (spec.md §8 scenario 4).
func (c *Catalog) BumpSequence(table, column string, v int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return basic.ErrUnknownTable
	}
	if v > t.Sequences[column] {
		t.Sequences[column] = v
		return c.saveLocked()
	}
	return nil
}

// --- Indexes ------------------------------------------------------------

// CreateIndex registers an index descriptor against its table.
func (c *Catalog) CreateIndex(ix *IndexDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[ix.Name]; ok {
		return basic.ErrDuplicateIndex
	}
	t, ok := c.tables[ix.Table]
	if !ok {
		return basic.ErrUnknownTable
	}
	c.indexes[ix.Name] = ix
	t.Indexes = append(t.Indexes, ix.Name)
	return c.saveLocked()
}

// Index returns an index descriptor by name.
func (c *Catalog) Index(name string) (*IndexDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.indexes[name]
	if !ok {
		return nil, basic.ErrUnknownIndex
	}
	return ix, nil
}

// IndexesOn returns every index descriptor belonging to a table.
func (c *Catalog) IndexesOn(table string) []*IndexDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return nil
	}
	out := make([]*IndexDescriptor, 0, len(t.Indexes))
	for _, name := range t.Indexes {
		if ix, ok := c.indexes[name]; ok {
			out = append(out, ix)
		}
	}
	return out
}

// DropIndex removes an index descriptor and unlinks it from its table.
func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.indexes[name]
	if !ok {
		return basic.ErrUnknownIndex
	}
	delete(c.indexes, name)
	if t, ok := c.tables[ix.Table]; ok {
		for i, n := range t.Indexes {
			if n == name {
				t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
				break
			}
		}
	}
	return c.saveLocked()
}

// --- Enums --------------------------------------------------------------

func (c *Catalog) CreateEnum(e *Enum) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.enums[e.Name]; ok {
		return fmt.Errorf("catalog: enum %q already exists", e.Name)
	}
	c.enums[e.Name] = e
	return c.saveLocked()
}

// ListEnums returns every registered enum type.
func (c *Catalog) ListEnums() []*Enum {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Enum, 0, len(c.enums))
	for _, e := range c.enums {
		out = append(out, e)
	}
	return out
}

func (c *Catalog) Enum(name string) (*Enum, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.enums[name]
	if !ok {
		return nil, basic.ErrUnknownType
	}
	return e, nil
}

// --- Views ----------------------------------------------------------------

func (c *Catalog) CreateView(v *View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.views[v.Name]; ok {
		return basic.ErrDuplicateView
	}
	c.views[v.Name] = v
	return c.saveLocked()
}

func (c *Catalog) View(name string) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[name]
	if !ok {
		return nil, basic.ErrUnknownView
	}
	return v, nil
}

func (c *Catalog) DropView(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.views[name]; !ok {
		return basic.ErrUnknownView
	}
	delete(c.views, name)
	return c.saveLocked()
}

func (c *Catalog) ListViews() []*View {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*View, 0, len(c.views))
	for _, v := range c.views {
		out = append(out, v)
	}
	return out
}

// --- Roles and permissions (spec.md §4.13) ---------------------------------

func (c *Catalog) CreateRole(name string, superuser bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roles[name]; ok {
		return basic.ErrDuplicateRole
	}
	c.roles[name] = &Role{Name: name, Superuser: superuser, MemberOf: make(map[string]bool)}
	return c.saveLocked()
}

func (c *Catalog) DropRole(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roles[name]; !ok {
		return basic.ErrUnknownRole
	}
	delete(c.roles, name)
	for _, r := range c.roles {
		delete(r.MemberOf, name)
	}
	return c.saveLocked()
}

func (c *Catalog) Role(name string) (*Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roles[name]
	if !ok {
		return nil, basic.ErrUnknownRole
	}
	return r, nil
}

// GrantRole adds a direct membership edge: member gains of-role.
func (c *Catalog) GrantRole(member, ofRole string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roles[member]
	if !ok {
		return basic.ErrUnknownRole
	}
	if _, ok := c.roles[ofRole]; !ok {
		return basic.ErrUnknownRole
	}
	r.MemberOf[ofRole] = true
	return c.saveLocked()
}

// RevokeRole removes a direct membership edge.
func (c *Catalog) RevokeRole(member, ofRole string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roles[member]
	if !ok {
		return basic.ErrUnknownRole
	}
	delete(r.MemberOf, ofRole)
	return c.saveLocked()
}

// RoleClosure computes the reflexive transitive closure of role
// membership starting at name, per spec.md §4.13: the user's own role,
// plus every role reachable by following MemberOf edges, guarding
// against cycles.
func (c *Catalog) RoleClosure(name string) map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		r, ok := c.roles[n]
		if !ok {
			return
		}
		for parent := range r.MemberOf {
			walk(parent)
		}
	}
	walk(name)
	return visited
}

// ListRoles returns every registered role.
func (c *Catalog) ListRoles() []*Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Role, 0, len(c.roles))
	for _, r := range c.roles {
		out = append(out, r)
	}
	return out
}

// GrantEntry is one (table, role, privilege-bitmask) record, used to
// populate the information_schema.table_privileges system view.
type GrantEntry struct {
	Table string
	Role  string
	Privs Privilege
}

// ListGrants returns every non-empty privilege grant.
func (c *Catalog) ListGrants() []GrantEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]GrantEntry, 0, len(c.privileges))
	for k, p := range c.privileges {
		if p == 0 {
			continue
		}
		out = append(out, GrantEntry{Table: k.Table, Role: k.Role, Privs: p})
	}
	return out
}

// IsSuperuser reports whether any role in name's closure is a superuser.
func (c *Catalog) IsSuperuser(name string) bool {
	closure := c.RoleClosure(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for r := range closure {
		if role, ok := c.roles[r]; ok && role.Superuser {
			return true
		}
	}
	return false
}

// Grant records that grantee may exercise priv on table.
func (c *Catalog) Grant(table, grantee string, priv Privilege) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := grantKey{table, grantee}
	c.privileges[k] = c.privileges[k] | priv
	return c.saveLocked()
}

// Revoke removes priv from grantee's privileges on table.
func (c *Catalog) Revoke(table, grantee string, priv Privilege) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := grantKey{table, grantee}
	c.privileges[k] = c.privileges[k] &^ priv
	return c.saveLocked()
}

// HasPrivilege reports whether some role in roleClosure has been
// granted priv on table.
func (c *Catalog) HasPrivilege(table string, roleClosure map[string]bool, priv Privilege) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for role := range roleClosure {
		if c.privileges[grantKey{table, role}].Has(priv) {
			return true
		}
	}
	return false
}

package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

func TestCreateTableAndPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	c := New(path)

	require.NoError(t, c.CreateTable(&Table{
		Name:  "users",
		Owner: "postgres",
		Columns: []Column{
			{Name: "id", Type: TypeNumeric, PrimaryKey: true},
			{Name: "name", Type: TypeString},
		},
	}))
	require.ErrorIs(t, c.CreateTable(&Table{Name: "users"}), basic.ErrDuplicateTable)

	c2, err := Load(path)
	require.NoError(t, err)
	tbl, err := c2.Table("users")
	require.NoError(t, err)
	assert.Equal(t, "postgres", tbl.Owner)
	assert.Len(t, tbl.Columns, 2)
}

func TestRoleClosureHandlesCycles(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "catalog.db"))

	require.NoError(t, c.CreateRole("a", false))
	require.NoError(t, c.CreateRole("b", false))
	require.NoError(t, c.CreateRole("c", true))

	require.NoError(t, c.GrantRole("a", "b"))
	require.NoError(t, c.GrantRole("b", "c"))
	require.NoError(t, c.GrantRole("c", "a")) // cycle

	closure := c.RoleClosure("a")
	assert.True(t, closure["a"])
	assert.True(t, closure["b"])
	assert.True(t, closure["c"])
	assert.True(t, c.IsSuperuser("a"))
}

func TestSequenceAdvanceAndBump(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "catalog.db"))
	require.NoError(t, c.CreateTable(&Table{Name: "t", Columns: []Column{{Name: "id", Serial: true}}}))

	v, err := c.NextSequence("t", "id")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.NoError(t, c.BumpSequence("t", "id", 10))
	v, err = c.NextSequence("t", "id")
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)
}

package pagedtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/bufferpool"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/pagemanager"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/wal"
)

func newFixture(t *testing.T) *Table {
	dir := t.TempDir()
	pm, err := pagemanager.New(dir)
	require.NoError(t, err)
	pool := bufferpool.New(16, pm)
	w, err := wal.Open(dir + "/wal")
	require.NoError(t, err)
	return New("t", pool, pm, w)
}

func TestAppendGetOverwriteFree(t *testing.T) {
	tbl := newFixture(t)

	row := basic.Row{Values: []basic.Value{basic.IntV(1), basic.StringV("alice")}, Xmin: 1}
	loc, err := tbl.Append(row)
	require.NoError(t, err)

	got, err := tbl.Get(loc)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Values[1].Str)

	got.Xmax = 2
	newLoc, err := tbl.Overwrite(loc, got)
	require.NoError(t, err)

	reread, err := tbl.Get(newLoc)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reread.Xmax)

	rows, err := tbl.Scan()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

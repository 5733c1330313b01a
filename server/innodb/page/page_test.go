package page

import (
	"testing"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertReadOverwriteFree(t *testing.T) {
	p := New(1)

	idx, err := p.InsertTuple([]byte("hello"))
	require.NoError(t, err)

	body, err := p.ReadTuple(idx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	ok, err := p.OverwriteTuple(idx, []byte("hi"))
	require.NoError(t, err)
	assert.True(t, ok)

	body, err = p.ReadTuple(idx)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))

	ok, err = p.OverwriteTuple(idx, []byte("too long to fit"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.FreeTuple(idx))
	_, err = p.ReadTuple(idx)
	assert.ErrorIs(t, err, basic.ErrTombstone)
}

func TestFreeBytesAccounting(t *testing.T) {
	p := New(2)
	full := p.FreeBytes()

	idx, err := p.InsertTuple([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, full-10-slotEntryLen, p.FreeBytes())

	require.NoError(t, p.FreeTuple(idx))
	// the freed tuple was the only live one, so the heap start moves back
	// to the page end and its bytes count as free again; the slot entry
	// stays allocated
	assert.Equal(t, full-slotEntryLen, p.FreeBytes())

	p.Compact()
	assert.Equal(t, full-slotEntryLen, p.FreeBytes())
}

func TestPageFull(t *testing.T) {
	p := New(3)
	big := make([]byte, Size)
	_, err := p.InsertTuple(big)
	assert.ErrorIs(t, err, basic.ErrPageFull)
}

func TestRoundTripBytes(t *testing.T) {
	p := New(4)
	idx, err := p.InsertTuple([]byte("payload"))
	require.NoError(t, err)

	reloaded := FromBytes(p.Bytes())
	body, err := reloaded.ReadTuple(idx)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, uint32(4), reloaded.ID)
}

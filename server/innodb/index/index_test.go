package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

func TestOrderedRangeAndUnique(t *testing.T) {
	idx := NewOrdered("idx_val", true)
	require.NoError(t, idx.Insert("N10", basic.Locator{PageID: 0, Slot: 0}))
	require.NoError(t, idx.Insert("N20", basic.Locator{PageID: 0, Slot: 1}))
	require.NoError(t, idx.Insert("N30", basic.Locator{PageID: 0, Slot: 2}))

	err := idx.Insert("N10", basic.Locator{PageID: 1, Slot: 0})
	assert.ErrorIs(t, err, basic.ErrUniqueViolation)

	low, high := "N10", "N30"
	locs, err := idx.LookupRange(&low, &high, Inclusivity{LowInclusive: false, HighInclusive: true})
	require.NoError(t, err)
	assert.Len(t, locs, 2) // N20, N30

	idx.Remove("N20", basic.Locator{PageID: 0, Slot: 1})
	assert.Empty(t, idx.LookupEq("N20"))
}

func TestHashedEqualityOnly(t *testing.T) {
	idx := NewHashed("idx_hash", false)
	require.NoError(t, idx.Insert("Sfoo", basic.Locator{PageID: 0, Slot: 0}))
	require.NoError(t, idx.Insert("Sfoo", basic.Locator{PageID: 0, Slot: 1}))

	assert.Len(t, idx.LookupEq("Sfoo"), 2)

	_, err := idx.LookupRange(nil, nil, Inclusivity{})
	assert.ErrorIs(t, err, ErrRangeUnsupported)
}

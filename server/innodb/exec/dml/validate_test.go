package dml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
)

func noEnums(name string) (*catalog.Enum, error) { return nil, basic.ErrUnknownType }

func TestSmallintRangeBoundary(t *testing.T) {
	col := catalog.Column{Name: "n", Type: catalog.TypeNumeric, IntWidth: 16}

	_, err := validateValue(col, basic.IntV(32767), noEnums)
	assert.NoError(t, err)
	_, err = validateValue(col, basic.IntV(-32768), noEnums)
	assert.NoError(t, err)

	_, err = validateValue(col, basic.IntV(32768), noEnums)
	assert.ErrorIs(t, err, basic.ErrLengthViolation)
	_, err = validateValue(col, basic.IntV(-32769), noEnums)
	assert.ErrorIs(t, err, basic.ErrLengthViolation)
}

func TestVarcharLengthBoundary(t *testing.T) {
	col := catalog.Column{Name: "s", Type: catalog.TypeString, MaxLength: 5}

	v, err := validateValue(col, basic.StringV("abcde"), noEnums)
	require.NoError(t, err)
	assert.Equal(t, "abcde", v.Str, "exactly N characters is accepted unchanged")

	_, err = validateValue(col, basic.StringV("abcdef"), noEnums)
	assert.ErrorIs(t, err, basic.ErrLengthViolation)
}

func TestCharPadsToFixedLength(t *testing.T) {
	col := catalog.Column{Name: "c", Type: catalog.TypeString, MaxLength: 5, FixedChar: true}

	v, err := validateValue(col, basic.StringV("abc"), noEnums)
	require.NoError(t, err)
	assert.Equal(t, "abc  ", v.Str)

	_, err = validateValue(col, basic.StringV("abcdef"), noEnums)
	assert.ErrorIs(t, err, basic.ErrLengthViolation)
}

func TestNotNullViolation(t *testing.T) {
	col := catalog.Column{Name: "n", Type: catalog.TypeNumeric}
	_, err := validateValue(col, basic.Null(), noEnums)
	assert.ErrorIs(t, err, basic.ErrNotNullViolation)

	col.Nullable = true
	v, err := validateValue(col, basic.Null(), noEnums)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestTypeMismatchRejected(t *testing.T) {
	col := catalog.Column{Name: "n", Type: catalog.TypeNumeric}
	_, err := validateValue(col, basic.StringV("not a number"), noEnums)
	assert.ErrorIs(t, err, basic.ErrTypeViolation)
}

func TestEnumMembership(t *testing.T) {
	moods := &catalog.Enum{Name: "mood", Values: []string{"happy", "sad"}}
	reg := func(name string) (*catalog.Enum, error) {
		if name == "mood" {
			return moods, nil
		}
		return nil, basic.ErrUnknownType
	}
	col := catalog.Column{Name: "m", Type: catalog.TypeEnum, EnumType: "mood"}

	_, err := validateValue(col, basic.EnumV("mood", "happy"), reg)
	assert.NoError(t, err)
	_, err = validateValue(col, basic.EnumV("mood", "angry"), reg)
	assert.ErrorIs(t, err, basic.ErrEnumViolation)
}

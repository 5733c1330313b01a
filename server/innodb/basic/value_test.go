package basic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteaKeyFragmentNeverContainsSeparator(t *testing.T) {
	v := ByteaV([]byte{'a', 0x00, 'b'})
	assert.NotContains(t, v.Encode(), keySeparator)
}

func TestCompositeKeyInjectivityWithEmbeddedNulBytes(t *testing.T) {
	// A bytea payload carrying the separator byte must not collide with
	// a genuinely two-part key split at the same position.
	smuggled := EncodeKey(ByteaV([]byte{'a', 0x00, 'b'}))
	split := EncodeKey(ByteaV([]byte{'a'}), ByteaV([]byte{'b'}))
	assert.NotEqual(t, smuggled, split)

	assert.Equal(t, 1, strings.Count(split, keySeparator), "exactly one separator joins a two-column key")
}

func TestKeyFragmentsDistinguishKinds(t *testing.T) {
	// "12" the string, 12 the number and 0x3132 the bytes must all key
	// differently even though their raw texts coincide.
	s := StringV("12").Encode()
	n := IntV(12).Encode()
	b := ByteaV([]byte("12")).Encode()
	assert.NotEqual(t, s, n)
	assert.NotEqual(t, s, b)
	assert.NotEqual(t, n, b)
}

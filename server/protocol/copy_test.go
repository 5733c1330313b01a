package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

func TestEncodeText(t *testing.T) {
	assert.Nil(t, EncodeText(basic.Null()))
	assert.Equal(t, []byte("t"), EncodeText(basic.BoolV(true)))
	assert.Equal(t, []byte("f"), EncodeText(basic.BoolV(false)))
	assert.Equal(t, []byte("\\x0102ff"), EncodeText(basic.ByteaV([]byte{0x01, 0x02, 0xff})))
	assert.Equal(t, []byte("hello"), EncodeText(basic.StringV("hello")))
}

func TestCSVRowRoundTrip(t *testing.T) {
	row := []basic.Value{
		basic.StringV("alice"),
		basic.Null(),
		basic.NumericV(decimal.RequireFromString("12.50")),
	}
	line, err := EncodeCSVRow(row)
	require.NoError(t, err)

	fields, isNull, err := DecodeCSVRow(line)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, []bool{false, true, false}, isNull)
	assert.Equal(t, "alice", fields[0])
	assert.Equal(t, "12.5", fields[2])
}

func TestBinaryCopyHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteBinaryCopyHeader(&buf)
	rest, err := ReadBinaryCopyHeader(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestBinaryCopyHeaderRejectsBadSignature(t *testing.T) {
	_, err := ReadBinaryCopyHeader([]byte("not a copy header at all, too short"))
	assert.Error(t, err)
}

func TestBinaryCopyRowRoundTrip(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2026, 7, 29, 13, 30, 0, 0, time.UTC)
	values := []basic.Value{
		basic.NumericV(decimal.RequireFromString("-123.456")),
		basic.StringV("hello"),
		basic.BoolV(true),
		basic.Null(),
		basic.UUIDV(id),
		basic.TemporalV(ts),
	}
	kinds := []basic.Kind{
		basic.KindNumeric,
		basic.KindString,
		basic.KindBool,
		basic.KindString,
		basic.KindUUID,
		basic.KindTemporal,
	}

	var buf bytes.Buffer
	WriteBinaryCopyHeader(&buf)
	require.NoError(t, EncodeBinaryCopyRow(&buf, values))
	WriteBinaryCopyTrailer(&buf)

	data, err := ReadBinaryCopyHeader(buf.Bytes())
	require.NoError(t, err)

	got, rest, err := DecodeBinaryCopyRow(data, kinds)
	require.NoError(t, err)
	require.Len(t, got, len(values))

	assert.True(t, got[0].Num.Equal(values[0].Num))
	assert.Equal(t, "hello", got[1].Str)
	assert.True(t, got[2].Bool)
	assert.True(t, got[3].IsNull())
	assert.Equal(t, id, got[4].UUID)
	assert.True(t, got[5].Time.Equal(ts))

	_, _, err = DecodeBinaryCopyRow(rest, kinds)
	assert.Equal(t, ErrBinaryCopyDone, err)
}

func TestBinaryCopyDateEncodesFourBytes(t *testing.T) {
	midnight := time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)
	enc := encodeBinaryTemporal(midnight)
	assert.Len(t, enc, 4)

	v, err := decodeBinaryTemporal(enc)
	require.NoError(t, err)
	assert.True(t, v.Time.Equal(midnight))
}

func TestBinaryCopyTimestampEncodesEightBytes(t *testing.T) {
	withTime := time.Date(2000, 1, 2, 3, 4, 5, 0, time.UTC)
	enc := encodeBinaryTemporal(withTime)
	assert.Len(t, enc, 8)

	v, err := decodeBinaryTemporal(enc)
	require.NoError(t, err)
	assert.True(t, v.Time.Equal(withTime))
}

func TestBinaryNumericRoundTrip(t *testing.T) {
	cases := []string{"0", "1", "-1", "123", "12.5", "-123.456", "100000000", "0.0001", "9999.9999"}
	for _, c := range cases {
		d := decimal.RequireFromString(c)
		enc := encodeBinaryNumeric(d)
		got, err := decodeBinaryNumeric(enc)
		require.NoError(t, err, c)
		assert.True(t, d.Equal(got.Num), "case %s: got %s", c, got.Num.String())
	}
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

// pgEpoch is PostgreSQL's year-2000 epoch used by both date and
// timestamp binary encodings (spec.md §6, §8's worked example: 2000-
// 01-01 encodes as day 0).
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// EncodeText renders a value in PostgreSQL's text wire format, used
// for simple-query DataRow fields and CSV COPY. A null value is
// represented by a nil slice (DataRow encodes that as length -1).
func EncodeText(v basic.Value) []byte {
	if v.IsNull() {
		return nil
	}
	switch v.Kind {
	case basic.KindBool:
		if v.Bool {
			return []byte("t")
		}
		return []byte("f")
	case basic.KindBytea:
		return []byte("\\x" + fmt.Sprintf("%x", v.Bytes))
	default:
		return []byte(v.String())
	}
}

// --- CSV COPY format -----------------------------------------------------

// EncodeCSVRow renders one row's values as a CSV record (RFC 4180 via
// encoding/csv), with SQL NULL rendered as an empty, unquoted field --
// matching `COPY ... WITH (FORMAT csv)`'s default NULL marker.
func EncodeCSVRow(values []basic.Value) (string, error) {
	fields := make([]string, len(values))
	for i, v := range values {
		if v.IsNull() {
			fields[i] = ""
			continue
		}
		fields[i] = v.String()
	}
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(fields); err != nil {
		return "", err
	}
	cw.Flush()
	return strings.TrimRight(buf.String(), "\r\n"), nil
}

// DecodeCSVRow parses one CSV line into raw text fields; the caller
// (server/net's decodeCSVValues) is responsible for typing
// each field against its column per spec.md §4.11's validation order.
// An empty, unquoted field decodes to SQL NULL.
func DecodeCSVRow(line string) ([]string, []bool, error) {
	cr := csv.NewReader(strings.NewReader(line))
	fields, err := cr.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "protocol: decoding CSV row")
	}
	isNull := make([]bool, len(fields))
	for i, f := range fields {
		isNull[i] = f == ""
	}
	return fields, isNull, nil
}

// --- Binary COPY format ----------------------------------------------------

// binaryCopySignature is PostgreSQL's fixed 11-byte binary COPY header
// signature, followed by a flags word and a header-extension length
// (both zero here -- the core emits no extension fields).
var binaryCopySignature = []byte("PGCOPY\n\377\r\n\x00")

func WriteBinaryCopyHeader(w *bytes.Buffer) {
	w.Write(binaryCopySignature)
	var flags, extLen [4]byte
	binary.BigEndian.PutUint32(flags[:], 0)
	binary.BigEndian.PutUint32(extLen[:], 0)
	w.Write(flags[:])
	w.Write(extLen[:])
}

// ReadBinaryCopyHeader validates and consumes the fixed header from the
// front of data, returning the remainder.
func ReadBinaryCopyHeader(data []byte) ([]byte, error) {
	if len(data) < len(binaryCopySignature)+8 {
		return nil, errors.New("protocol: binary COPY header truncated")
	}
	if !bytes.Equal(data[:len(binaryCopySignature)], binaryCopySignature) {
		return nil, errors.New("protocol: bad binary COPY signature")
	}
	rest := data[len(binaryCopySignature):]
	extLen := binary.BigEndian.Uint32(rest[4:8])
	rest = rest[8:]
	if uint32(len(rest)) < extLen {
		return nil, errors.New("protocol: binary COPY header extension truncated")
	}
	return rest[extLen:], nil
}

// binaryCopyTrailer is the int16(-1) field-count sentinel marking the
// end of binary COPY data.
var binaryCopyTrailer = []byte{0xFF, 0xFF}

func WriteBinaryCopyTrailer(w *bytes.Buffer) { w.Write(binaryCopyTrailer) }

// EncodeBinaryCopyRow appends one tuple to w in PostgreSQL's per-field
// length-prefixed binary COPY format.
func EncodeBinaryCopyRow(w *bytes.Buffer, values []basic.Value) error {
	var nField [2]byte
	binary.BigEndian.PutUint16(nField[:], uint16(len(values)))
	w.Write(nField[:])
	for _, v := range values {
		if v.IsNull() {
			var neg1 [4]byte
			negOne := int32(-1)
			binary.BigEndian.PutUint32(neg1[:], uint32(negOne))
			w.Write(neg1[:])
			continue
		}
		enc, err := encodeBinaryValue(v)
		if err != nil {
			return err
		}
		var lenField [4]byte
		binary.BigEndian.PutUint32(lenField[:], uint32(len(enc)))
		w.Write(lenField[:])
		w.Write(enc)
	}
	return nil
}

// DecodeBinaryCopyRow reads one tuple starting at the front of data,
// 2-byte field count included, returning the decoded values and the
// remaining bytes. A field count of -1 is the trailer: it is consumed
// and ErrBinaryCopyDone is returned.
func DecodeBinaryCopyRow(data []byte, kinds []basic.Kind) ([]basic.Value, []byte, error) {
	if len(data) < 2 {
		return nil, nil, errors.New("protocol: truncated binary COPY row header")
	}
	nFields := int(int16(binary.BigEndian.Uint16(data[:2])))
	data = data[2:]
	if nFields < 0 {
		return nil, data, ErrBinaryCopyDone
	}
	values := make([]basic.Value, 0, nFields)
	for i := 0; i < nFields; i++ {
		if len(data) < 4 {
			return nil, nil, errors.New("protocol: truncated binary COPY field length")
		}
		n := int32(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
		if n < 0 {
			values = append(values, basic.Null())
			continue
		}
		if len(data) < int(n) {
			return nil, nil, errors.New("protocol: truncated binary COPY field value")
		}
		var kind basic.Kind
		if i < len(kinds) {
			kind = kinds[i]
		}
		v, err := decodeBinaryValue(data[:n], kind)
		if err != nil {
			return nil, nil, err
		}
		values = append(values, v)
		data = data[n:]
	}
	return values, data, nil
}

// ErrBinaryCopyDone is returned by DecodeBinaryCopyRow when it reads the
// -1 field-count trailer marking the end of binary COPY data.
var ErrBinaryCopyDone = errors.New("protocol: binary COPY trailer reached")

func encodeBinaryValue(v basic.Value) ([]byte, error) {
	switch v.Kind {
	case basic.KindBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case basic.KindNumeric:
		return encodeBinaryNumeric(v.Num), nil
	case basic.KindString, basic.KindEnum, basic.KindJSON:
		s := v.Str
		if v.Kind == basic.KindJSON {
			s = v.JSON
		}
		return []byte(s), nil
	case basic.KindBytea:
		return v.Bytes, nil
	case basic.KindUUID:
		b := v.UUID
		return b[:], nil
	case basic.KindTemporal:
		return encodeBinaryTemporal(v.Time), nil
	default:
		return nil, errors.Errorf("protocol: cannot binary-encode kind %v", v.Kind)
	}
}

func decodeBinaryValue(b []byte, kind basic.Kind) (basic.Value, error) {
	switch kind {
	case basic.KindBool:
		if len(b) != 1 {
			return basic.Value{}, errors.New("protocol: bad bool binary width")
		}
		return basic.BoolV(b[0] != 0), nil
	case basic.KindNumeric:
		return decodeBinaryNumeric(b)
	case basic.KindString:
		return basic.StringV(string(b)), nil
	case basic.KindJSON:
		return basic.JSONV(string(b)), nil
	case basic.KindEnum:
		return basic.Value{Kind: basic.KindEnum, Str: string(b)}, nil
	case basic.KindBytea:
		return basic.ByteaV(append([]byte(nil), b...)), nil
	case basic.KindUUID:
		if len(b) != 16 {
			return basic.Value{}, errors.New("protocol: bad uuid binary width")
		}
		var u uuid.UUID
		copy(u[:], b)
		return basic.UUIDV(u), nil
	case basic.KindTemporal:
		return decodeBinaryTemporal(b)
	default:
		return basic.StringV(string(b)), nil
	}
}

// --- date/timestamp binary encoding (year-2000 epoch) -----------------------

// encodeBinaryTemporal encodes as a 4-byte day count from pgEpoch when
// the value carries no time-of-day component (a DATE), otherwise as an
// 8-byte microsecond count from pgEpoch (a TIMESTAMP).
func encodeBinaryTemporal(t time.Time) []byte {
	t = t.UTC()
	if isMidnight(t) {
		days := int32(t.Sub(pgEpoch).Hours() / 24)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(days))
		return b[:]
	}
	micros := t.Sub(pgEpoch).Microseconds()
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(micros))
	return b[:]
}

func decodeBinaryTemporal(b []byte) (basic.Value, error) {
	switch len(b) {
	case 4:
		days := int32(binary.BigEndian.Uint32(b))
		return basic.TemporalV(pgEpoch.AddDate(0, 0, int(days))), nil
	case 8:
		micros := int64(binary.BigEndian.Uint64(b))
		return basic.TemporalV(pgEpoch.Add(time.Duration(micros) * time.Microsecond)), nil
	default:
		return basic.Value{}, errors.New("protocol: bad temporal binary width")
	}
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

// --- numeric binary encoding (base-10000 ndigits/weight/sign/dscale) --------

const (
	numericPositive uint16 = 0x0000
	numericNegative uint16 = 0x4000
	numericNBase           = 10000
)

// encodeBinaryNumeric implements PostgreSQL's base-10000 numeric wire
// format: ndigits, weight, sign, dscale, then ndigits big-endian
// int16 digit groups. Leading and trailing all-zero digit groups are
// trimmed (weight is adjusted for trimmed leading groups), matching
// the canonical form PostgreSQL itself sends.
func encodeBinaryNumeric(d decimal.Decimal) []byte {
	neg := d.Sign() < 0
	s := d.Abs().String()

	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	dscale := uint16(len(fracPart))

	leftPad := (4 - len(intPart)%4) % 4
	intPart = strings.Repeat("0", leftPad) + intPart
	rightPad := (4 - len(fracPart)%4) % 4
	fracPart = fracPart + strings.Repeat("0", rightPad)

	intGroups := len(intPart) / 4
	all := intPart + fracPart
	nGroups := len(all) / 4
	digits := make([]int16, nGroups)
	for i := 0; i < nGroups; i++ {
		v, _ := strconv.Atoi(all[i*4 : i*4+4])
		digits[i] = int16(v)
	}
	weight := int16(intGroups - 1)

	first := 0
	for first < len(digits) && digits[first] == 0 {
		first++
	}
	if first == len(digits) {
		// value is exactly zero
		digits = nil
		weight = 0
	} else {
		last := len(digits) - 1
		for last > first && digits[last] == 0 {
			last--
		}
		weight -= int16(first)
		digits = digits[first : last+1]
	}

	sign := numericPositive
	if neg && len(digits) > 0 {
		sign = numericNegative
	}

	var buf []byte
	buf = putInt16(buf, int16(len(digits)))
	buf = putInt16(buf, weight)
	buf = putInt16(buf, int16(sign))
	buf = putInt16(buf, int16(dscale))
	for _, dg := range digits {
		buf = putInt16(buf, dg)
	}
	return buf
}

func decodeBinaryNumeric(b []byte) (basic.Value, error) {
	if len(b) < 8 {
		return basic.Value{}, errors.New("protocol: truncated numeric header")
	}
	nDigits := int(int16(binary.BigEndian.Uint16(b[0:2])))
	weight := int16(binary.BigEndian.Uint16(b[2:4]))
	sign := binary.BigEndian.Uint16(b[4:6])
	dscale := binary.BigEndian.Uint16(b[6:8])
	b = b[8:]
	if len(b) < nDigits*2 {
		return basic.Value{}, errors.New("protocol: truncated numeric digits")
	}
	digits := make([]int16, nDigits)
	for i := 0; i < nDigits; i++ {
		digits[i] = int16(binary.BigEndian.Uint16(b[i*2 : i*2+2]))
	}

	s := numericDigitsToString(weight, digits, dscale)
	dec, err := decimal.NewFromString(s)
	if err != nil {
		return basic.Value{}, errors.Wrap(err, "protocol: parsing numeric digits")
	}
	if sign == numericNegative {
		dec = dec.Neg()
	}
	return basic.NumericV(dec), nil
}

// numericDigitsToString reconstructs the unsigned decimal string from
// a numeric binary payload's weight/digits/dscale.
func numericDigitsToString(weight int16, digits []int16, dscale uint16) string {
	if len(digits) == 0 {
		if dscale == 0 {
			return "0"
		}
		return "0." + strings.Repeat("0", int(dscale))
	}

	intGroups := int(weight) + 1
	var sb strings.Builder

	if intGroups <= 0 {
		sb.WriteByte('0')
	} else {
		for i := 0; i < intGroups; i++ {
			g := groupAt(digits, i)
			if i == 0 {
				fmt.Fprintf(&sb, "%d", g)
			} else {
				fmt.Fprintf(&sb, "%04d", g)
			}
		}
	}

	if dscale > 0 {
		sb.WriteByte('.')
		need := int(dscale)
		written := 0
		for i := intGroups; written < need; i++ {
			g := groupAt(digits, i)
			group := fmt.Sprintf("%04d", g)
			for _, c := range group {
				if written >= need {
					break
				}
				sb.WriteRune(c)
				written++
			}
		}
	}
	return sb.String()
}

func groupAt(digits []int16, i int) int16 {
	if i < 0 || i >= len(digits) {
		return 0
	}
	return digits[i]
}

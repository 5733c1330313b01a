package basic

import (
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumeric
	KindString
	KindTemporal
	KindBool
	KindUUID
	KindJSON
	KindBytea
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumeric:
		return "numeric"
	case KindString:
		return "string"
	case KindTemporal:
		return "temporal"
	case KindBool:
		return "bool"
	case KindUUID:
		return "uuid"
	case KindJSON:
		return "json"
	case KindBytea:
		return "bytea"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Value is the tagged-union runtime representation of a single column
// value, per spec.md §3's enumerated semantic types.
type Value struct {
	Kind     Kind
	Num      decimal.Decimal
	Str      string
	Time     time.Time
	Bool     bool
	UUID     uuid.UUID
	JSON     string
	Bytes    []byte
	EnumType string
}

func init() {
	gob.Register(Value{})
}

func Null() Value                 { return Value{Kind: KindNull} }
func NumericV(d decimal.Decimal) Value { return Value{Kind: KindNumeric, Num: d} }
func IntV(i int64) Value          { return Value{Kind: KindNumeric, Num: decimal.NewFromInt(i)} }
func StringV(s string) Value      { return Value{Kind: KindString, Str: s} }
func TemporalV(t time.Time) Value { return Value{Kind: KindTemporal, Time: t} }
func BoolV(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func UUIDV(u uuid.UUID) Value     { return Value{Kind: KindUUID, UUID: u} }
func JSONV(s string) Value        { return Value{Kind: KindJSON, JSON: s} }
func ByteaV(b []byte) Value       { return Value{Kind: KindBytea, Bytes: b} }
func EnumV(typeName, member string) Value {
	return Value{Kind: KindEnum, EnumType: typeName, Str: member}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal reports whether two values are equal for uniqueness/index-key and
// predicate-equality purposes. Null is never equal to anything, including
// another null (per the exemption in spec.md invariant 4).
func (v Value) Equal(o Value) bool {
	if v.Kind == KindNull || o.Kind == KindNull {
		return false
	}
	switch v.Kind {
	case KindNumeric:
		return v.Num.Equal(o.Num)
	case KindString, KindEnum:
		return v.Str == o.Str
	case KindTemporal:
		return v.Time.Equal(o.Time)
	case KindBool:
		return v.Bool == o.Bool
	case KindUUID:
		return v.UUID == o.UUID
	case KindJSON:
		return v.JSON == o.JSON
	case KindBytea:
		return string(v.Bytes) == string(o.Bytes)
	default:
		return false
	}
}

// Compare orders two non-null values of the same comparison family
// (numeric widths are lifted to the widest automatically via decimal).
// Returns -1, 0, 1. Panics on incomparable kinds -- callers must check
// IsNull and kind compatibility first.
func (v Value) Compare(o Value) int {
	switch v.Kind {
	case KindNumeric:
		return v.Num.Cmp(o.Num)
	case KindString, KindEnum:
		return strings.Compare(v.Str, o.Str)
	case KindTemporal:
		if v.Time.Before(o.Time) {
			return -1
		} else if v.Time.After(o.Time) {
			return 1
		}
		return 0
	case KindBool:
		if v.Bool == o.Bool {
			return 0
		}
		if !v.Bool {
			return -1
		}
		return 1
	case KindUUID:
		return strings.Compare(v.UUID.String(), o.UUID.String())
	case KindBytea:
		return strings.Compare(string(v.Bytes), string(o.Bytes))
	default:
		return 0
	}
}

// Encode produces the composite-index key fragment for this value. The
// separator is a control byte that cannot appear in any of the encodings
// produced here: every fragment is text, and the one kind that can carry
// arbitrary bytes (bytea) is hex-encoded.
const keySeparator = "\x00"

func (v Value) Encode() string {
	if v.IsNull() {
		return "\x01NULL"
	}
	switch v.Kind {
	case KindNumeric:
		return "N" + v.Num.String()
	case KindString:
		return "S" + v.Str
	case KindEnum:
		return "E" + v.EnumType + ":" + v.Str
	case KindTemporal:
		return "T" + v.Time.UTC().Format(time.RFC3339Nano)
	case KindBool:
		if v.Bool {
			return "B1"
		}
		return "B0"
	case KindUUID:
		return "U" + v.UUID.String()
	case KindJSON:
		return "J" + v.JSON
	case KindBytea:
		return "X" + hex.EncodeToString(v.Bytes)
	default:
		return ""
	}
}

// EncodeKey concatenates the encoded form of each column value of a
// composite index key with the reserved separator.
func EncodeKey(values ...Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Encode()
	}
	return strings.Join(parts, keySeparator)
}

func (v Value) String() string {
	if v.IsNull() {
		return "NULL"
	}
	switch v.Kind {
	case KindNumeric:
		return v.Num.String()
	case KindString, KindEnum:
		return v.Str
	case KindTemporal:
		return v.Time.Format(time.RFC3339)
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindUUID:
		return v.UUID.String()
	case KindJSON:
		return v.JSON
	case KindBytea:
		return fmt.Sprintf("\\x%x", v.Bytes)
	default:
		return ""
	}
}

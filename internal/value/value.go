// Package value implements the engine-agnostic value, column, and row
// model shared by every wire protocol in this module.
package value

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags the variant stored in a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindBytes
	KindUUID
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindUUID:
		return "uuid"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// IntWidth records the declared width of an integer Value so engine
// encoders can pick the narrowest compatible wire representation.
type IntWidth int

const (
	Width8 IntWidth = iota
	Width16
	Width32
	Width64
)

// UUID is a 16-byte RFC 4122 identifier, stored in big-endian field
// order regardless of how an individual engine serializes it on the wire.
type UUID [16]byte

// String renders the UUID in canonical 8-4-4-4-12 hex form.
func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// Value is a tagged variant holding exactly one SQL value, independent
// of which backend produced or will consume it.
type Value struct {
	kind      Kind
	boolVal   bool
	intVal    int64
	intWidth  IntWidth
	f32Val    float32
	f64Val    float64
	decVal    decimal.Decimal
	strVal    string
	bytesVal  []byte
	uuidVal   UUID
	timeVal   time.Time
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// IsNull reports whether v holds the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// FromBool constructs a bool Value.
func FromBool(b bool) Value { return Value{kind: KindBool, boolVal: b} }

// FromInt constructs a width-tagged integer Value.
func FromInt(n int64, w IntWidth) Value { return Value{kind: KindInt, intVal: n, intWidth: w} }

// FromInt64 constructs a 64-bit integer Value.
func FromInt64(n int64) Value { return FromInt(n, Width64) }

// FromFloat32 constructs a float32 Value.
func FromFloat32(f float32) Value { return Value{kind: KindFloat32, f32Val: f} }

// FromFloat64 constructs a float64 Value.
func FromFloat64(f float64) Value { return Value{kind: KindFloat64, f64Val: f} }

// FromDecimal constructs an arbitrary-precision decimal Value, preserving scale.
func FromDecimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, decVal: d} }

// FromString constructs a UTF-8 string Value.
func FromString(s string) Value { return Value{kind: KindString, strVal: s} }

// FromBytes constructs a binary Value. The slice is not copied.
func FromBytes(b []byte) Value { return Value{kind: KindBytes, bytesVal: b} }

// FromUUID constructs a uuid Value.
func FromUUID(u UUID) Value { return Value{kind: KindUUID, uuidVal: u} }

// FromTimestamp constructs a UTC-instant timestamp Value.
func FromTimestamp(t time.Time) Value { return Value{kind: KindTimestamp, timeVal: t.UTC()} }

// Bool returns the bool payload; callers must check Kind first.
func (v Value) Bool() bool { return v.boolVal }

// Int returns the integer payload and its declared width.
func (v Value) Int() (int64, IntWidth) { return v.intVal, v.intWidth }

// Float32 returns the float32 payload.
func (v Value) Float32() float32 { return v.f32Val }

// Float64 returns the float64 payload.
func (v Value) Float64() float64 { return v.f64Val }

// Decimal returns the decimal payload.
func (v Value) Decimal() decimal.Decimal { return v.decVal }

// String returns the string payload, or a human-readable rendering of
// any other variant (used for logging, not wire encoding).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "<null>"
	case KindBool:
		return fmt.Sprintf("%t", v.boolVal)
	case KindInt:
		return fmt.Sprintf("%d", v.intVal)
	case KindFloat32:
		return fmt.Sprintf("%g", v.f32Val)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f64Val)
	case KindDecimal:
		return v.decVal.String()
	case KindString:
		return v.strVal
	case KindBytes:
		return fmt.Sprintf("% x", v.bytesVal)
	case KindUUID:
		return v.uuidVal.String()
	case KindTimestamp:
		return v.timeVal.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Bytes returns the binary payload.
func (v Value) Bytes() []byte { return v.bytesVal }

// UUID returns the uuid payload.
func (v Value) UUID() UUID { return v.uuidVal }

// Timestamp returns the timestamp payload, always in UTC.
func (v Value) Timestamp() time.Time { return v.timeVal }

// Equal reports whether v and other hold the same variant and payload.
// Used by round-trip property tests; cross-kind numeric coercions
// (e.g. bool read back as an integer 0/1) are the caller's concern,
// not this method's.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolVal == other.boolVal
	case KindInt:
		return v.intVal == other.intVal
	case KindFloat32:
		return v.f32Val == other.f32Val
	case KindFloat64:
		return v.f64Val == other.f64Val
	case KindDecimal:
		return v.decVal.Equal(other.decVal)
	case KindString:
		return v.strVal == other.strVal
	case KindBytes:
		return string(v.bytesVal) == string(other.bytesVal)
	case KindUUID:
		return v.uuidVal == other.uuidVal
	case KindTimestamp:
		return v.timeVal.Equal(other.timeVal)
	default:
		return false
	}
}

// Column carries metadata for one result-set field.
type Column struct {
	Name      string
	Table     string
	TypeID    int32
	Scale     int32
}

// Row is an ordered sequence of values parallel to a shared Column list.
type Row struct {
	Columns []Column
	Values  []Value
}

// Get looks a value up by case-insensitive column name. Absent names
// return the null Value, never an error — callers rely on this.
func (r Row) Get(name string) Value {
	for i, c := range r.Columns {
		if strings.EqualFold(c.Name, name) {
			return r.Values[i]
		}
	}
	return Null()
}

// At returns the value at a zero-based column index.
func (r Row) At(i int) Value {
	if i < 0 || i >= len(r.Values) {
		return Null()
	}
	return r.Values[i]
}

// ResultSet is an ordered sequence of rows sharing one column list.
type ResultSet struct {
	Columns      []Column
	Rows         []Row
	RowsAffected int64
}

// MultiResult is an ordered sequence of result sets, as produced by
// query_multi or a TDS stored-procedure call.
type MultiResult []ResultSet

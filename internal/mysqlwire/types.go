package mysqlwire

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
)

// MySQL column type codes used by the text protocol.
const (
	TypeTiny       byte = 0x01
	TypeShort      byte = 0x02
	TypeLong       byte = 0x03
	TypeFloat      byte = 0x04
	TypeDouble     byte = 0x05
	TypeNull       byte = 0x06
	TypeTimestamp  byte = 0x07
	TypeLongLong   byte = 0x08
	TypeDate       byte = 0x0A
	TypeDateTime   byte = 0x0C
	TypeNewDecimal byte = 0xF6
	TypeBlob       byte = 0xFC
	TypeVarString  byte = 0xFD
	TypeString     byte = 0xFE
)

const mysqlDateTimeLayout = "2006-01-02 15:04:05.999999"
const mysqlDateLayout = "2006-01-02"

// DecodeTextValue converts one text-protocol column value (nil meaning
// SQL NULL) into a value.Value using col's type code and unsigned flag.
func DecodeTextValue(col ColumnDefinition, raw *string) (value.Value, error) {
	if raw == nil {
		return value.Null(), nil
	}
	s := *raw

	switch col.ColumnType {
	case TypeTiny, TypeShort, TypeLong, TypeLongLong:
		width := value.Width32
		switch col.ColumnType {
		case TypeTiny:
			width = value.Width8
		case TypeShort:
			width = value.Width16
		case TypeLongLong:
			width = value.Width64
		}
		if col.Unsigned() {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing unsigned integer column", err)
			}
			return value.FromInt(int64(n), width), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing integer column", err)
		}
		return value.FromInt(n, width), nil

	case TypeFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing float column", err)
		}
		return value.FromFloat32(float32(f)), nil

	case TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing double column", err)
		}
		return value.FromFloat64(f), nil

	case TypeNewDecimal:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing decimal column", err)
		}
		return value.FromDecimal(d), nil

	case TypeNull:
		return value.Null(), nil

	case TypeDate:
		t, err := time.Parse(mysqlDateLayout, s)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing date column", err)
		}
		return value.FromTimestamp(t), nil

	case TypeDateTime, TypeTimestamp:
		t, err := parseMySQLDateTime(s)
		if err != nil {
			return value.Value{}, err
		}
		return value.FromTimestamp(t), nil

	case TypeBlob:
		return value.FromBytes([]byte(s)), nil

	case TypeVarString, TypeString:
		return value.FromString(s), nil

	default:
		return value.FromString(s), nil
	}
}

func parseMySQLDateTime(s string) (time.Time, error) {
	layout := mysqlDateTimeLayout
	if !strings.Contains(s, ".") {
		layout = "2006-01-02 15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing datetime column", err)
	}
	return t, nil
}

// RenderLiteral renders v as a SQL literal suitable for inline
// substitution into a MySQL statement string: strings escape backslash
// then single quote, blobs render as 0xDEAD... form, booleans render
// as 0/1.
func RenderLiteral(v value.Value) (string, error) {
	switch v.Kind() {
	case value.KindNull:
		return "NULL", nil
	case value.KindBool:
		if v.Bool() {
			return "1", nil
		}
		return "0", nil
	case value.KindInt:
		n, _ := v.Int()
		return strconv.FormatInt(n, 10), nil
	case value.KindFloat32:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32), nil
	case value.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64), nil
	case value.KindDecimal:
		return v.Decimal().String(), nil
	case value.KindString:
		return "'" + escapeMySQLString(v.String()) + "'", nil
	case value.KindBytes:
		return "0x" + hexUpper(v.Bytes()), nil
	case value.KindUUID:
		return "'" + v.UUID().String() + "'", nil
	case value.KindTimestamp:
		return "'" + v.Timestamp().Format(mysqlDateTimeLayout) + "'", nil
	default:
		return "", dberr.New(dberr.KindTypeMismatch, "unrenderable value kind")
	}
}

// escapeMySQLString escapes backslash first, then single quote — this
// order matters, since escaping the quote first would double-escape
// the backslash it inserts.
func escapeMySQLString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

const hexDigits = "0123456789ABCDEF"

func hexUpper(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

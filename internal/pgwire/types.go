package pgwire

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
)

// Well-known PostgreSQL type OIDs used by the text-format type coder.
const (
	OIDBool        uint32 = 16
	OIDBytea       uint32 = 17
	OIDInt8        uint32 = 20
	OIDInt2        uint32 = 21
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDFloat4      uint32 = 700
	OIDFloat8      uint32 = 701
	OIDUnknown     uint32 = 705
	OIDBPChar      uint32 = 1042
	OIDVarchar     uint32 = 1043
	OIDDate        uint32 = 1082
	OIDTimestamp   uint32 = 1114
	OIDTimestampTZ uint32 = 1184
	OIDNumeric     uint32 = 1700
	OIDUUID        uint32 = 2950
)

const pgTimestampLayout = "2006-01-02 15:04:05.999999"
const pgTimestampTZLayout = "2006-01-02 15:04:05.999999-07"
const pgDateLayout = "2006-01-02"

// DecodeTextValue converts one text-format column (raw == nil meaning
// SQL NULL) into a value.Value using field's type OID. Only the text
// format (FormatCode 0) is supported — binary result format is out of
// scope.
func DecodeTextValue(field RowField, raw []byte) (value.Value, error) {
	if raw == nil {
		return value.Null(), nil
	}
	s := string(raw)

	switch field.TypeOID {
	case OIDBool:
		return value.FromBool(s == "t"), nil

	case OIDInt2, OIDInt4, OIDInt8:
		width := value.Width32
		switch field.TypeOID {
		case OIDInt2:
			width = value.Width16
		case OIDInt8:
			width = value.Width64
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing integer column", err)
		}
		return value.FromInt(n, width), nil

	case OIDFloat4:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing real column", err)
		}
		return value.FromFloat32(float32(f)), nil

	case OIDFloat8:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing double precision column", err)
		}
		return value.FromFloat64(f), nil

	case OIDNumeric:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing numeric column", err)
		}
		return value.FromDecimal(d), nil

	case OIDDate:
		t, err := time.Parse(pgDateLayout, s)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing date column", err)
		}
		return value.FromTimestamp(t), nil

	case OIDTimestamp:
		t, err := time.Parse(pgTimestampLayout, s)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing timestamp column", err)
		}
		return value.FromTimestamp(t), nil

	case OIDTimestampTZ:
		t, err := time.Parse(pgTimestampTZLayout, s)
		if err != nil {
			return value.Value{}, dberr.Wrap(dberr.KindTypeMismatch, "parsing timestamptz column", err)
		}
		return value.FromTimestamp(t), nil

	case OIDBytea:
		b, err := decodeByteaHex(s)
		if err != nil {
			return value.Value{}, err
		}
		return value.FromBytes(b), nil

	case OIDUUID:
		u, err := parseUUID(s)
		if err != nil {
			return value.Value{}, err
		}
		return value.FromUUID(u), nil

	case OIDText, OIDVarchar, OIDBPChar, OIDUnknown:
		return value.FromString(s), nil

	default:
		return value.FromString(s), nil
	}
}

// decodeByteaHex decodes PostgreSQL's default bytea hex text format,
// "\x" followed by hex digit pairs.
func decodeByteaHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, `\x`) {
		return nil, dberr.New(dberr.KindTypeMismatch, "unsupported bytea text encoding")
	}
	hexPart := s[2:]
	if len(hexPart)%2 != 0 {
		return nil, dberr.New(dberr.KindTypeMismatch, "odd-length bytea hex payload")
	}
	out := make([]byte, len(hexPart)/2)
	for i := range out {
		hi := hexDigitValue(hexPart[i*2])
		lo := hexDigitValue(hexPart[i*2+1])
		if hi < 0 || lo < 0 {
			return nil, dberr.New(dberr.KindTypeMismatch, "invalid bytea hex digit")
		}
		out[i] = byte(hi<<4 | lo)
	}
	return out, nil
}

func hexDigitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

func parseUUID(s string) (value.UUID, error) {
	var u value.UUID
	s = strings.ReplaceAll(s, "-", "")
	if len(s) != 32 {
		return u, dberr.New(dberr.KindTypeMismatch, "malformed uuid column")
	}
	for i := 0; i < 16; i++ {
		hi := hexDigitValue(s[i*2])
		lo := hexDigitValue(s[i*2+1])
		if hi < 0 || lo < 0 {
			return u, dberr.New(dberr.KindTypeMismatch, "invalid uuid hex digit")
		}
		u[i] = byte(hi<<4 | lo)
	}
	return u, nil
}

// RenderLiteral renders v as a SQL literal for inline substitution into
// a Postgres statement string (placeholder rewriting happens upstream;
// this covers the $N rendering path same as mysqlwire.RenderLiteral).
func RenderLiteral(v value.Value) (string, error) {
	switch v.Kind() {
	case value.KindNull:
		return "NULL", nil
	case value.KindBool:
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
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
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'", nil
	case value.KindBytes:
		return `E'\\x` + hexLower(v.Bytes()) + "'", nil
	case value.KindUUID:
		return "'" + v.UUID().String() + "'", nil
	case value.KindTimestamp:
		return "'" + v.Timestamp().Format(pgTimestampTZLayout) + "'", nil
	default:
		return "", dberr.New(dberr.KindTypeMismatch, "unrenderable value kind")
	}
}

const hexDigitsLower = "0123456789abcdef"

func hexLower(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteByte(hexDigitsLower[c>>4])
		sb.WriteByte(hexDigitsLower[c&0x0f])
	}
	return sb.String()
}

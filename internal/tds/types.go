package tds

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// TYPE_INFO token values, MS-TDS 2.2.5.4.
const (
	TypeNull       byte = 0x1F
	TypeInt1       byte = 0x30
	TypeBit        byte = 0x32
	TypeInt2       byte = 0x34
	TypeInt4       byte = 0x38
	TypeDateTim4   byte = 0x3A
	TypeFlt4       byte = 0x3B
	TypeMoney      byte = 0x3C
	TypeDateTime   byte = 0x3D
	TypeFlt8       byte = 0x3E
	TypeMoney4     byte = 0x7A
	TypeInt8       byte = 0x7F
	TypeGUID       byte = 0x24
	TypeIntN       byte = 0x26
	TypeDecimal    byte = 0x37
	TypeNumeric    byte = 0x3F
	TypeBitN       byte = 0x68
	TypeDecimalN   byte = 0x6A
	TypeNumericN   byte = 0x6C
	TypeFltN       byte = 0x6D
	TypeMoneyN     byte = 0x6E
	TypeDateTimeN  byte = 0x6F
	TypeVarChar    byte = 0x27
	TypeBigVarBin  byte = 0xA5
	TypeBigVarChar byte = 0xA7
	TypeBigBinary  byte = 0xAD
	TypeBigChar    byte = 0xAF
	TypeNVarChar   byte = 0xE7
	TypeNChar      byte = 0xEF
	TypeXML        byte = 0xF1
	TypeUDT        byte = 0xF0
	TypeText       byte = 0x23
	TypeImage      byte = 0x22
	TypeNText      byte = 0x63
)

const plpNullLen = 0xFFFFFFFFFFFFFFFF
const plpUnknownLen = 0xFFFFFFFFFFFFFFFE

// TypeInfo describes one column's wire type, decoded from COLMETADATA.
type TypeInfo struct {
	TypeID    byte
	MaxLen    int // byte length for fixed/var-len types; -1 for PLP MAX
	Precision byte
	Scale     byte
	Collation []byte
}

// DecodeTypeInfo reads one TYPE_INFO structure for a COLMETADATA column.
func DecodeTypeInfo(r *wire.Reader) (TypeInfo, error) {
	typeID, err := r.Byte()
	if err != nil {
		return TypeInfo{}, err
	}
	ti := TypeInfo{TypeID: typeID}

	switch typeID {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeDateTim4,
		TypeFlt4, TypeMoney, TypeDateTime, TypeFlt8, TypeMoney4, TypeInt8:
		ti.MaxLen = fixedLenSize(typeID)
		return ti, nil

	case TypeGUID, TypeIntN, TypeBitN, TypeFltN, TypeMoneyN, TypeDateTimeN:
		n, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		ti.MaxLen = int(n)
		return ti, nil

	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		n, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		ti.MaxLen = int(n)
		prec, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		ti.Precision = prec
		scale, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		ti.Scale = scale
		return ti, nil

	case TypeVarChar, TypeBigChar:
		n, err := r.Uint16LE()
		if err != nil {
			return TypeInfo{}, err
		}
		ti.MaxLen = int(n)
		coll, err := r.Bytes(5)
		if err != nil {
			return TypeInfo{}, err
		}
		ti.Collation = coll
		return ti, nil

	case TypeBigVarChar:
		n, err := r.Uint16LE()
		if err != nil {
			return TypeInfo{}, err
		}
		coll, err := r.Bytes(5)
		if err != nil {
			return TypeInfo{}, err
		}
		ti.Collation = coll
		if n == 0xFFFF {
			ti.MaxLen = -1 // VARCHAR(MAX), PLP encoded
		} else {
			ti.MaxLen = int(n)
		}
		return ti, nil

	case TypeNChar:
		n, err := r.Uint16LE()
		if err != nil {
			return TypeInfo{}, err
		}
		coll, err := r.Bytes(5)
		if err != nil {
			return TypeInfo{}, err
		}
		ti.Collation = coll
		ti.MaxLen = int(n)
		return ti, nil

	case TypeNVarChar:
		n, err := r.Uint16LE()
		if err != nil {
			return TypeInfo{}, err
		}
		coll, err := r.Bytes(5)
		if err != nil {
			return TypeInfo{}, err
		}
		ti.Collation = coll
		if n == 0xFFFF {
			ti.MaxLen = -1 // NVARCHAR(MAX), PLP encoded
		} else {
			ti.MaxLen = int(n)
		}
		return ti, nil

	case TypeBigVarBin, TypeBigBinary:
		n, err := r.Uint16LE()
		if err != nil {
			return TypeInfo{}, err
		}
		if n == 0xFFFF {
			ti.MaxLen = -1 // VARBINARY(MAX), PLP encoded
		} else {
			ti.MaxLen = int(n)
		}
		return ti, nil

	case TypeText, TypeNText, TypeImage:
		n, err := r.Uint32LE()
		if err != nil {
			return TypeInfo{}, err
		}
		ti.MaxLen = int(n)
		if typeID != TypeImage {
			if _, err := r.Bytes(5); err != nil {
				return TypeInfo{}, err
			}
		}
		tabNameLen, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		if _, err := r.Bytes(int(tabNameLen) * 2); err != nil {
			return TypeInfo{}, err
		}
		return ti, nil

	default:
		return TypeInfo{}, dberr.Unsupported("TDS type " + strconv.Itoa(int(typeID)))
	}
}

func fixedLenSize(typeID byte) int {
	switch typeID {
	case TypeNull:
		return 0
	case TypeInt1:
		return 1
	case TypeBit:
		return 1
	case TypeInt2:
		return 2
	case TypeInt4, TypeDateTim4, TypeFlt4, TypeMoney4:
		return 4
	case TypeMoney, TypeDateTime, TypeFlt8, TypeInt8:
		return 8
	default:
		return 0
	}
}

// DecodeValue reads one column's value from the ROW/NBCROW stream per
// ti, returning an SQL NULL Value when the wire encoding signals it.
func DecodeValue(r *wire.Reader, ti TypeInfo) (value.Value, error) {
	switch ti.TypeID {
	case TypeNull:
		return value.Null(), nil

	case TypeInt1:
		b, err := r.Byte()
		if err != nil {
			return value.Value{}, err
		}
		return value.FromInt(int64(b), value.Width8), nil

	case TypeBit:
		b, err := r.Byte()
		if err != nil {
			return value.Value{}, err
		}
		return value.FromBool(b != 0), nil

	case TypeInt2:
		n, err := r.Uint16LE()
		if err != nil {
			return value.Value{}, err
		}
		return value.FromInt(int64(int16(n)), value.Width16), nil

	case TypeInt4, TypeDateTim4:
		n, err := r.Uint32LE()
		if err != nil {
			return value.Value{}, err
		}
		if ti.TypeID == TypeDateTim4 {
			return decodeSmallDateTime(n)
		}
		return value.FromInt(int64(int32(n)), value.Width32), nil

	case TypeInt8:
		n, err := r.Uint64LE()
		if err != nil {
			return value.Value{}, err
		}
		return value.FromInt(int64(n), value.Width64), nil

	case TypeFlt4:
		n, err := r.Uint32LE()
		if err != nil {
			return value.Value{}, err
		}
		return value.FromFloat32(float32FromBits(n)), nil

	case TypeFlt8:
		n, err := r.Uint64LE()
		if err != nil {
			return value.Value{}, err
		}
		return value.FromFloat64(float64FromBits(n)), nil

	case TypeMoney4:
		n, err := r.Uint32LE()
		if err != nil {
			return value.Value{}, err
		}
		return value.FromDecimal(decimal.New(int64(int32(n)), -4)), nil

	case TypeMoney:
		hi, err := r.Uint32LE()
		if err != nil {
			return value.Value{}, err
		}
		lo, err := r.Uint32LE()
		if err != nil {
			return value.Value{}, err
		}
		whole := int64(int32(hi))<<32 | int64(lo)
		return value.FromDecimal(decimal.New(whole, -4)), nil

	case TypeDateTime:
		days, err := r.Uint32LE()
		if err != nil {
			return value.Value{}, err
		}
		ticks, err := r.Uint32LE()
		if err != nil {
			return value.Value{}, err
		}
		return decodeDateTime(int32(days), ticks)

	case TypeGUID, TypeIntN, TypeBitN, TypeFltN, TypeMoneyN, TypeDateTimeN,
		TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		return decodeNullableFixed(r, ti)

	case TypeVarChar, TypeBigVarChar, TypeBigChar:
		if ti.MaxLen == -1 {
			b, isNull, err := decodePLPBody(r)
			if err != nil {
				return value.Value{}, err
			}
			if isNull {
				return value.Null(), nil
			}
			return value.FromString(string(b)), nil
		}
		n, err := r.Uint16LE()
		if err != nil {
			return value.Value{}, err
		}
		if n == 0xFFFF {
			return value.Null(), nil
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return value.Value{}, err
		}
		return value.FromString(string(b)), nil

	case TypeNChar, TypeNVarChar:
		if ti.MaxLen == -1 {
			return decodePLPText(r)
		}
		n, err := r.Uint16LE()
		if err != nil {
			return value.Value{}, err
		}
		if n == 0xFFFF {
			return value.Null(), nil
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return value.Value{}, err
		}
		return value.FromString(wire.UTF16LEToString(b)), nil

	case TypeBigVarBin, TypeBigBinary:
		if ti.MaxLen == -1 {
			return decodePLPBytes(r)
		}
		n, err := r.Uint16LE()
		if err != nil {
			return value.Value{}, err
		}
		if n == 0xFFFF {
			return value.Null(), nil
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return value.Value{}, err
		}
		return value.FromBytes(append([]byte{}, b...)), nil

	default:
		return value.Value{}, dberr.Unsupported("decoding TDS type " + strconv.Itoa(int(ti.TypeID)))
	}
}

func decodeNullableFixed(r *wire.Reader, ti TypeInfo) (value.Value, error) {
	n, err := r.Byte()
	if err != nil {
		return value.Value{}, err
	}
	if n == 0 {
		return value.Null(), nil
	}
	data, err := r.Bytes(int(n))
	if err != nil {
		return value.Value{}, err
	}
	inner := wire.NewReader(data)

	switch ti.TypeID {
	case TypeGUID:
		return decodeUniqueIdentifier(data)
	case TypeBitN:
		b, _ := inner.Byte()
		return value.FromBool(b != 0), nil
	case TypeIntN:
		switch n {
		case 1:
			b, _ := inner.Byte()
			return value.FromInt(int64(b), value.Width8), nil
		case 2:
			v, _ := inner.Uint16LE()
			return value.FromInt(int64(int16(v)), value.Width16), nil
		case 4:
			v, _ := inner.Uint32LE()
			return value.FromInt(int64(int32(v)), value.Width32), nil
		case 8:
			v, _ := inner.Uint64LE()
			return value.FromInt(int64(v), value.Width64), nil
		}
	case TypeFltN:
		switch n {
		case 4:
			v, _ := inner.Uint32LE()
			return value.FromFloat32(float32FromBits(v)), nil
		case 8:
			v, _ := inner.Uint64LE()
			return value.FromFloat64(float64FromBits(v)), nil
		}
	case TypeMoneyN:
		switch n {
		case 4:
			v, _ := inner.Uint32LE()
			return value.FromDecimal(decimal.New(int64(int32(v)), -4)), nil
		case 8:
			hi, _ := inner.Uint32LE()
			lo, _ := inner.Uint32LE()
			whole := int64(int32(hi))<<32 | int64(lo)
			return value.FromDecimal(decimal.New(whole, -4)), nil
		}
	case TypeDateTimeN:
		switch n {
		case 4:
			days, _ := inner.Uint16LE()
			ticks, _ := inner.Uint16LE()
			return decodeSmallDateTimeParts(days, ticks)
		case 8:
			days, _ := inner.Uint32LE()
			ticks, _ := inner.Uint32LE()
			return decodeDateTime(int32(days), ticks)
		}
	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		return decodeDecimalN(data, ti.Scale)
	}
	return value.Value{}, dberr.Unsupported("nullable fixed-length TDS type")
}

// decodeUniqueIdentifier transposes the GUID's mixed-endian wire
// encoding (data1/data2/data3 little-endian, data4 big-endian) into
// RFC 4122 byte order.
func decodeUniqueIdentifier(raw []byte) (value.Value, error) {
	if len(raw) != 16 {
		return value.Value{}, dberr.New(dberr.KindTypeMismatch, "malformed uniqueidentifier")
	}
	var u value.UUID
	order := []int{3, 2, 1, 0, 5, 4, 7, 6, 8, 9, 10, 11, 12, 13, 14, 15}
	for i, src := range order {
		u[i] = raw[src]
	}
	return value.FromUUID(u), nil
}

// decodeDecimalN decodes a DECIMALN/NUMERICN value: a sign byte (1
// positive, 0 negative) followed by a little-endian mantissa. Mantissas
// over 8 bytes (precision beyond ~19 digits) are rejected rather than
// silently truncated.
func decodeDecimalN(data []byte, scale byte) (value.Value, error) {
	if len(data) == 0 {
		return value.Null(), nil
	}
	sign := data[0]
	mantissaBytes := data[1:]
	if len(mantissaBytes) > 8 {
		return value.Value{}, dberr.Unsupported("decimal precision beyond 64-bit mantissa")
	}
	var v uint64
	for i := len(mantissaBytes) - 1; i >= 0; i-- {
		v = v<<8 | uint64(mantissaBytes[i])
	}
	signed := int64(v)
	if sign == 0 {
		signed = -signed
	}
	return value.FromDecimal(decimal.New(signed, -int32(scale))), nil
}

func decodeSmallDateTime(raw uint32) (value.Value, error) {
	days := uint16(raw & 0xFFFF)
	minutes := uint16(raw >> 16)
	return decodeSmallDateTimeParts(days, minutes)
}

func decodeSmallDateTimeParts(days, minutes uint16) (value.Value, error) {
	base := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	t := base.AddDate(0, 0, int(days)).Add(time.Duration(minutes) * time.Minute)
	return value.FromTimestamp(t), nil
}

func decodeDateTime(days int32, ticks uint32) (value.Value, error) {
	base := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	nanos := (int64(ticks) * 1000000000) / 300
	t := base.AddDate(0, 0, int(days)).Add(time.Duration(nanos))
	return value.FromTimestamp(t), nil
}

func decodePLPText(r *wire.Reader) (value.Value, error) {
	b, isNull, err := decodePLPBody(r)
	if err != nil {
		return value.Value{}, err
	}
	if isNull {
		return value.Null(), nil
	}
	return value.FromString(wire.UTF16LEToString(b)), nil
}

func decodePLPBytes(r *wire.Reader) (value.Value, error) {
	b, isNull, err := decodePLPBody(r)
	if err != nil {
		return value.Value{}, err
	}
	if isNull {
		return value.Null(), nil
	}
	return value.FromBytes(b), nil
}

// decodePLPBody reads a Partially Length-Prefixed value: an 8-byte
// total-length field (PLP_NULL meaning SQL NULL, PLP_UNKNOWN_LEN
// meaning the length is unknown up front) followed by a sequence of
// chunks, each itself length-prefixed, terminated by a zero-length
// chunk.
func decodePLPBody(r *wire.Reader) ([]byte, bool, error) {
	totalLen, err := r.Uint64LE()
	if err != nil {
		return nil, false, err
	}
	if totalLen == plpNullLen {
		return nil, true, nil
	}
	var out []byte
	for {
		chunkLen, err := r.Uint32LE()
		if err != nil {
			return nil, false, err
		}
		if chunkLen == 0 {
			return out, false, nil
		}
		chunk, err := r.Bytes(int(chunkLen))
		if err != nil {
			return nil, false, err
		}
		out = append(out, chunk...)
	}
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}

// RenderLiteral renders v as a SQL literal for inline substitution into
// a TDS statement string, same placeholder-rendering role as
// mysqlwire.RenderLiteral/pgwire.RenderLiteral.
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
		return "N'" + strings.ReplaceAll(v.String(), "'", "''") + "'", nil
	case value.KindBytes:
		return "0x" + hexUpperTDS(v.Bytes()), nil
	case value.KindUUID:
		return "'" + v.UUID().String() + "'", nil
	case value.KindTimestamp:
		return "'" + v.Timestamp().Format("2006-01-02T15:04:05.000") + "'", nil
	default:
		return "", dberr.New(dberr.KindTypeMismatch, "unrenderable value kind")
	}
}

const tdsHexDigits = "0123456789ABCDEF"

func hexUpperTDS(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteByte(tdsHexDigits[c>>4])
		sb.WriteByte(tdsHexDigits[c&0x0f])
	}
	return sb.String()
}

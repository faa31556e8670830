package pgwire

import (
	"encoding/binary"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// Backend message type tags.
const (
	TagAuthentication    = 'R'
	TagParameterStatus   = 'S'
	TagBackendKeyData    = 'K'
	TagReadyForQuery     = 'Z'
	TagRowDescription    = 'T'
	TagDataRow           = 'D'
	TagCommandComplete   = 'C'
	TagEmptyQueryResp    = 'I'
	TagErrorResponse     = 'E'
	TagNoticeResponse    = 'N'
	TagParameterDesc     = 't'
	TagNoData            = 'n'
	TagNegotiateProtocol = 'v'
)

// Authentication request subtypes (payload of an 'R' message).
const (
	AuthOK                = 0
	AuthCleartextPassword = 3
	AuthMD5Password       = 5
	AuthSASL              = 10
	AuthSASLContinue      = 11
	AuthSASLFinal         = 12
)

// ErrorField is one field of an ErrorResponse/NoticeResponse.
type ErrorField struct {
	Code  byte
	Value string
}

// ErrorFields parses the field-code/value pairs of an ErrorResponse or
// NoticeResponse payload, terminated by a zero byte.
func ErrorFields(payload []byte) []ErrorField {
	var fields []ErrorField
	i := 0
	for i < len(payload) && payload[i] != 0 {
		code := payload[i]
		i++
		start := i
		for i < len(payload) && payload[i] != 0 {
			i++
		}
		fields = append(fields, ErrorField{Code: code, Value: string(payload[start:i])})
		i++
	}
	return fields
}

// FieldValue returns the value of the first field with the given code,
// or "" if absent. Codes of interest: 'S' severity, 'C' sqlstate
// code, 'M' message.
func FieldValue(fields []ErrorField, code byte) string {
	for _, f := range fields {
		if f.Code == code {
			return f.Value
		}
	}
	return ""
}

// ServerErrorFrom builds a dberr.Error from an ErrorResponse payload.
func ServerErrorFrom(payload []byte) error {
	fields := ErrorFields(payload)
	return dberr.ServerError(FieldValue(fields, 'C'), FieldValue(fields, 'S'), FieldValue(fields, 'M'))
}

// RowField describes one column in a RowDescription message.
type RowField struct {
	Name         string
	TableOID     uint32
	ColumnAttNum uint16
	TypeOID      uint32
	TypeLen      int16
	TypeMod      int32
	FormatCode   uint16
}

// DecodeRowDescription parses a RowDescription ('T') message body.
func DecodeRowDescription(payload []byte) ([]RowField, error) {
	r := wire.NewReader(payload)
	count, err := r.Uint16BE()
	if err != nil {
		return nil, dberr.Wrap(dberr.KindProtocol, "decoding field count", err)
	}
	fields := make([]RowField, count)
	for i := range fields {
		name, err := r.NullTerminated()
		if err != nil {
			return nil, dberr.Wrap(dberr.KindProtocol, "decoding field name", err)
		}
		tableOID, err := r.Uint32BE()
		if err != nil {
			return nil, err
		}
		attNum, err := r.Uint16BE()
		if err != nil {
			return nil, err
		}
		typeOID, err := r.Uint32BE()
		if err != nil {
			return nil, err
		}
		typeLenRaw, err := r.Uint16BE()
		if err != nil {
			return nil, err
		}
		typeModRaw, err := r.Uint32BE()
		if err != nil {
			return nil, err
		}
		formatCode, err := r.Uint16BE()
		if err != nil {
			return nil, err
		}
		fields[i] = RowField{
			Name:         string(name),
			TableOID:     tableOID,
			ColumnAttNum: attNum,
			TypeOID:      typeOID,
			TypeLen:      int16(typeLenRaw),
			TypeMod:      int32(typeModRaw),
			FormatCode:   formatCode,
		}
	}
	return fields, nil
}

// DecodeDataRow parses a DataRow ('D') message body into per-column
// byte slices, nil meaning SQL NULL (length -1).
func DecodeDataRow(payload []byte) ([][]byte, error) {
	if len(payload) < 2 {
		return nil, dberr.New(dberr.KindProtocol, "truncated DataRow")
	}
	count := binary.BigEndian.Uint16(payload[0:2])
	cols := make([][]byte, count)
	pos := 2
	for i := 0; i < int(count); i++ {
		if pos+4 > len(payload) {
			return nil, dberr.New(dberr.KindProtocol, "truncated DataRow column length")
		}
		n := int32(binary.BigEndian.Uint32(payload[pos : pos+4]))
		pos += 4
		if n < 0 {
			cols[i] = nil
			continue
		}
		if pos+int(n) > len(payload) {
			return nil, dberr.New(dberr.KindProtocol, "truncated DataRow column value")
		}
		cols[i] = payload[pos : pos+int(n)]
		pos += int(n)
	}
	return cols, nil
}

// CommandTag is the parsed "INSERT 0 3" / "SELECT 3" style string
// from a CommandComplete message, with the trailing row count (if any).
type CommandTag struct {
	Tag          string
	RowsAffected int64
}

// ParseCommandComplete extracts the rows-affected count from a
// CommandComplete ('C') payload, when the tag carries one.
func ParseCommandComplete(payload []byte) CommandTag {
	s := string(payload)
	if len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	var rows int64
	var lastSpace = -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			lastSpace = i
			break
		}
	}
	if lastSpace >= 0 {
		n, ok := parseInt64(s[lastSpace+1:])
		if ok {
			rows = n
		}
	}
	return CommandTag{Tag: s, RowsAffected: rows}
}

func parseInt64(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

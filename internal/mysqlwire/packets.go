package mysqlwire

import (
	"fmt"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// Server status flags (Protocol::OK_Packet / EOF_Packet).
const (
	StatusInTrans          = uint16(0x0001)
	StatusAutocommit       = uint16(0x0002)
	StatusMoreResultsExist = uint16(0x0008)
)

// OKPacket is a decoded OK_Packet (tag 0x00, or 0xFE when long enough
// to not be mistaken for EOF).
type OKPacket struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
	Info         string
}

// EOFPacket is a decoded EOF_Packet (tag 0xFE, body < 9 bytes).
type EOFPacket struct {
	Warnings    uint16
	StatusFlags uint16
}

// ERRPacket is a decoded ERR_Packet (tag 0xFF).
type ERRPacket struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e ERRPacket) Error() string {
	return fmt.Sprintf("mysql error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// IsOK reports whether pkt's first byte marks it as an OK_Packet:
// 0x00 always, or 0xFE when at least 7 bytes long (otherwise it is an
// EOF_Packet).
func IsOK(pkt []byte) bool {
	if len(pkt) == 0 {
		return false
	}
	if pkt[0] == 0x00 {
		return true
	}
	return pkt[0] == 0xFE && len(pkt) >= 7
}

// IsEOF reports whether pkt is an EOF_Packet: tag 0xFE and shorter
// than 9 bytes.
func IsEOF(pkt []byte) bool {
	return len(pkt) > 0 && pkt[0] == 0xFE && len(pkt) < 9
}

// IsERR reports whether pkt is an ERR_Packet: tag 0xFF.
func IsERR(pkt []byte) bool {
	return len(pkt) > 0 && pkt[0] == 0xFF
}

// DecodeOK decodes an OK_Packet body (the leading 0x00/0xFE tag byte
// already consumed by the caller).
func DecodeOK(r *wire.Reader) (OKPacket, error) {
	var ok OKPacket
	affected, _, err := r.LengthEncodedInt()
	if err != nil {
		return ok, dberr.Wrap(dberr.KindProtocol, "decoding OK affected_rows", err)
	}
	lastID, _, err := r.LengthEncodedInt()
	if err != nil {
		return ok, dberr.Wrap(dberr.KindProtocol, "decoding OK last_insert_id", err)
	}
	status, err := r.Uint16LE()
	if err != nil {
		return ok, dberr.Wrap(dberr.KindProtocol, "decoding OK status_flags", err)
	}
	warnings, err := r.Uint16LE()
	if err != nil {
		return ok, dberr.Wrap(dberr.KindProtocol, "decoding OK warnings", err)
	}
	info := ""
	if r.Len() > 0 {
		b, err := r.Bytes(r.Len())
		if err != nil {
			return ok, err
		}
		info = string(b)
	}
	ok.AffectedRows, ok.LastInsertID, ok.StatusFlags, ok.Warnings, ok.Info = affected, lastID, status, warnings, info
	return ok, nil
}

// DecodeEOF decodes an EOF_Packet body.
func DecodeEOF(r *wire.Reader) (EOFPacket, error) {
	var e EOFPacket
	warnings, err := r.Uint16LE()
	if err != nil {
		return e, dberr.Wrap(dberr.KindProtocol, "decoding EOF warnings", err)
	}
	status, err := r.Uint16LE()
	if err != nil {
		return e, dberr.Wrap(dberr.KindProtocol, "decoding EOF status_flags", err)
	}
	e.Warnings, e.StatusFlags = warnings, status
	return e, nil
}

// DecodeERR decodes an ERR_Packet body: error_code(2) + optional
// '#' + 5-byte sqlstate + message.
func DecodeERR(r *wire.Reader) (ERRPacket, error) {
	var e ERRPacket
	code, err := r.Uint16LE()
	if err != nil {
		return e, dberr.Wrap(dberr.KindProtocol, "decoding ERR code", err)
	}
	e.Code = code
	if r.Len() > 0 {
		marker, err := r.Byte()
		if err != nil {
			return e, err
		}
		if marker == '#' {
			if r.Len() < 5 {
				return e, dberr.New(dberr.KindProtocol, "ERR packet sqlstate truncated")
			}
			b, err := r.Bytes(5)
			if err != nil {
				return e, err
			}
			e.SQLState = string(b)
		} else {
			rest, err := r.Bytes(r.Len())
			if err != nil {
				return e, err
			}
			e.Message = string(marker) + string(rest)
			return e, nil
		}
	}
	rest, err := r.Bytes(r.Len())
	if err != nil {
		return e, err
	}
	e.Message = string(rest)
	return e, nil
}

// ColumnDefinition is a decoded Protocol::ColumnDefinition41 packet.
type ColumnDefinition struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	CharacterSet uint16
	ColumnLength uint32
	ColumnType   byte
	Flags        uint16
	Decimals     byte
}

const flagUnsigned = uint16(0x0020)

// Unsigned reports whether the column's UNSIGNED flag is set.
func (c ColumnDefinition) Unsigned() bool { return c.Flags&flagUnsigned != 0 }

func readLenEncStr(r *wire.Reader) (string, error) {
	b, isNull, err := r.LengthEncodedString()
	if err != nil {
		return "", err
	}
	if isNull {
		return "", nil
	}
	return string(b), nil
}

// DecodeColumnDefinition decodes one ColumnDefinition41 packet.
func DecodeColumnDefinition(r *wire.Reader) (ColumnDefinition, error) {
	var c ColumnDefinition
	var err error
	if c.Catalog, err = readLenEncStr(r); err != nil {
		return c, err
	}
	if c.Schema, err = readLenEncStr(r); err != nil {
		return c, err
	}
	if c.Table, err = readLenEncStr(r); err != nil {
		return c, err
	}
	if c.OrgTable, err = readLenEncStr(r); err != nil {
		return c, err
	}
	if c.Name, err = readLenEncStr(r); err != nil {
		return c, err
	}
	if c.OrgName, err = readLenEncStr(r); err != nil {
		return c, err
	}
	if _, _, err = r.LengthEncodedInt(); err != nil { // length of fixed-length fields, always 0x0c
		return c, err
	}
	if c.CharacterSet, err = r.Uint16LE(); err != nil {
		return c, err
	}
	if c.ColumnLength, err = r.Uint32LE(); err != nil {
		return c, err
	}
	ct, err := r.Byte()
	if err != nil {
		return c, err
	}
	c.ColumnType = ct
	if c.Flags, err = r.Uint16LE(); err != nil {
		return c, err
	}
	if c.Decimals, err = r.Byte(); err != nil {
		return c, err
	}
	return c, nil
}

// DecodeTextRow decodes one text-protocol row: per-column
// length-encoded string, 0xFB meaning NULL. Returns one string
// pointer per column (nil = NULL).
func DecodeTextRow(r *wire.Reader, columnCount int) ([]*string, error) {
	vals := make([]*string, columnCount)
	for i := 0; i < columnCount; i++ {
		b, isNull, err := r.LengthEncodedString()
		if err != nil {
			return nil, dberr.Wrap(dberr.KindProtocol, "decoding row column", err)
		}
		if isNull {
			vals[i] = nil
			continue
		}
		s := string(b)
		vals[i] = &s
	}
	return vals, nil
}

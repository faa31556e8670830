package tds

import (
	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// Token type bytes, MS-TDS 2.2.4.
const (
	TokenReturnStatus  byte = 0x79
	TokenColMetadata   byte = 0x81
	TokenOrder         byte = 0xA9
	TokenError         byte = 0xAA
	TokenInfo          byte = 0xAB
	TokenReturnValue   byte = 0xAC
	TokenLoginAck      byte = 0xAD
	TokenFeatureExtAck byte = 0xAE
	TokenRow           byte = 0xD1
	TokenNBCRow        byte = 0xD2
	TokenEnvChange     byte = 0xE3
	TokenSSPI          byte = 0xED
	TokenTabName       byte = 0xA4
	TokenColInfo       byte = 0xA5
	TokenDone          byte = 0xFD
	TokenDoneProc      byte = 0xFE
	TokenDoneInProc    byte = 0xFF
)

// DONE status bits, MS-TDS 2.2.7.5.
const (
	DoneFinal    uint16 = 0x00
	DoneMore     uint16 = 0x01
	DoneError    uint16 = 0x02
	DoneCount    uint16 = 0x10
	DoneRPCInBatch uint16 = 0x80
)

// EnvChange types of interest (transaction tracking), MS-TDS 2.2.7.9.
const (
	EnvChangeDatabase         byte = 1
	EnvChangeLanguage         byte = 2
	EnvChangePacketSize       byte = 4
	EnvChangeBeginTransaction byte = 8
	EnvChangeCommitTransaction byte = 9
	EnvChangeRollbackTransaction byte = 10
)

// ColumnMeta describes one COLMETADATA column.
type ColumnMeta struct {
	Type  TypeInfo
	Flags uint16
	Name  string
}

// DoneToken is a parsed DONE/DONEPROC/DONEINPROC token.
type DoneToken struct {
	Status       uint16
	CurCmd       uint16
	RowCount     uint64
	IsFinal      bool
	HasRowCount  bool
}

// ServerMessage is a parsed ERROR or INFO token.
type ServerMessage struct {
	Number     int32
	State      byte
	Class      byte
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

// EnvChange is a parsed ENVCHANGE token of interest to the connection
// state machine (database switch, transaction descriptor changes).
type EnvChange struct {
	Type     byte
	NewValue []byte
	OldValue []byte
}

// LoginAck is a parsed LOGINACK token confirming the negotiated TDS
// version and server product name.
type LoginAck struct {
	Interface   byte
	TDSVersion  uint32
	ProgName    string
	MajorVer    byte
	MinorVer    byte
	BuildHiByte byte
	BuildLoByte byte
}

// DecodeColMetadata reads a COLMETADATA token body (the token type
// byte already consumed).
func DecodeColMetadata(r *wire.Reader) ([]ColumnMeta, error) {
	count, err := r.Uint16LE()
	if err != nil {
		return nil, err
	}
	if count == 0xFFFF {
		return nil, nil // no metadata (e.g. DML with no result set)
	}
	cols := make([]ColumnMeta, count)
	for i := range cols {
		flags, err := r.Uint16LE()
		if err != nil {
			return nil, err
		}
		ti, err := DecodeTypeInfo(r)
		if err != nil {
			return nil, err
		}
		name, err := r.BVarchar()
		if err != nil {
			return nil, err
		}
		cols[i] = ColumnMeta{Type: ti, Flags: flags, Name: name}
	}
	return cols, nil
}

// DecodeRow reads a ROW token body given the already-decoded column
// metadata.
func DecodeRow(r *wire.Reader, cols []ColumnMeta) ([]value.Value, error) {
	vals := make([]value.Value, len(cols))
	for i, c := range cols {
		v, err := DecodeValue(r, c.Type)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// DecodeNBCRow reads an NBCROW token body: a leading null bitmap (one
// bit per column, LSB first) followed by values for only the non-null
// columns.
func DecodeNBCRow(r *wire.Reader, cols []ColumnMeta) ([]value.Value, error) {
	bitmapLen := (len(cols) + 7) / 8
	bitmap, err := r.Bytes(bitmapLen)
	if err != nil {
		return nil, err
	}
	vals := make([]value.Value, len(cols))
	for i, c := range cols {
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			vals[i] = value.Null()
			continue
		}
		v, err := DecodeValue(r, c.Type)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// DecodeDone reads a DONE/DONEPROC/DONEINPROC token body (same layout
// for all three).
func DecodeDone(r *wire.Reader) (DoneToken, error) {
	status, err := r.Uint16LE()
	if err != nil {
		return DoneToken{}, err
	}
	curCmd, err := r.Uint16LE()
	if err != nil {
		return DoneToken{}, err
	}
	rowCount, err := r.Uint64LE()
	if err != nil {
		return DoneToken{}, err
	}
	return DoneToken{
		Status:      status,
		CurCmd:      curCmd,
		RowCount:    rowCount,
		IsFinal:     status&DoneMore == 0,
		HasRowCount: status&DoneCount != 0,
	}, nil
}

// DecodeServerMessage reads an ERROR or INFO token body (identical
// layout).
func DecodeServerMessage(r *wire.Reader) (ServerMessage, error) {
	if _, err := r.Uint16LE(); err != nil { // token length, unused: caller already framed it
		return ServerMessage{}, err
	}
	number, err := r.Uint32LE()
	if err != nil {
		return ServerMessage{}, err
	}
	state, err := r.Byte()
	if err != nil {
		return ServerMessage{}, err
	}
	class, err := r.Byte()
	if err != nil {
		return ServerMessage{}, err
	}
	msg, err := r.USVarchar()
	if err != nil {
		return ServerMessage{}, err
	}
	server, err := r.BVarchar()
	if err != nil {
		return ServerMessage{}, err
	}
	proc, err := r.BVarchar()
	if err != nil {
		return ServerMessage{}, err
	}
	line, err := r.Uint32LE()
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{
		Number:     int32(number),
		State:      state,
		Class:      class,
		Message:    msg,
		ServerName: server,
		ProcName:   proc,
		LineNumber: int32(line),
	}, nil
}

// ServerError builds a dberr.Error from an ERROR token.
func (m ServerMessage) ServerError() error {
	return dberr.ServerError(itoaTDS(int(m.Number)), itoaTDS(int(m.Class)), m.Message)
}

func itoaTDS(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DecodeEnvChange reads one ENVCHANGE token body, consuming exactly its
// declared token length. Transaction descriptor begin/commit/rollback
// values are read as raw B_VARBYTE bytes; every other type is read as a
// pair of B_VARCHAR strings, leaving NewValue/OldValue empty where they
// do not parse that way.
func DecodeEnvChange(r *wire.Reader) (EnvChange, error) {
	length, err := r.Uint16LE()
	if err != nil {
		return EnvChange{}, err
	}
	body, err := r.Bytes(int(length))
	if err != nil {
		return EnvChange{}, err
	}
	br := wire.NewReader(body)
	typ, err := br.Byte()
	if err != nil {
		return EnvChange{}, err
	}
	ec := EnvChange{Type: typ}

	switch typ {
	case EnvChangeBeginTransaction, EnvChangeCommitTransaction, EnvChangeRollbackTransaction:
		newVal, err := readBVarbyte(br)
		if err != nil {
			return EnvChange{}, err
		}
		oldVal, err := readBVarbyte(br)
		if err != nil {
			return EnvChange{}, err
		}
		ec.NewValue = newVal
		ec.OldValue = oldVal
	default:
		newName, err := br.BVarchar()
		if err == nil {
			ec.NewValue = []byte(newName)
		}
		oldName, err := br.BVarchar()
		if err == nil {
			ec.OldValue = []byte(oldName)
		}
	}
	return ec, nil
}

func readBVarbyte(r *wire.Reader) ([]byte, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	return r.Bytes(int(n))
}

// DecodeLoginAck reads a LOGINACK token body.
func DecodeLoginAck(r *wire.Reader) (LoginAck, error) {
	if _, err := r.Uint16LE(); err != nil { // token length
		return LoginAck{}, err
	}
	iface, err := r.Byte()
	if err != nil {
		return LoginAck{}, err
	}
	tdsVer, err := r.Uint32BE()
	if err != nil {
		return LoginAck{}, err
	}
	prog, err := r.BVarchar()
	if err != nil {
		return LoginAck{}, err
	}
	major, err := r.Byte()
	if err != nil {
		return LoginAck{}, err
	}
	minor, err := r.Byte()
	if err != nil {
		return LoginAck{}, err
	}
	buildHi, err := r.Byte()
	if err != nil {
		return LoginAck{}, err
	}
	buildLo, err := r.Byte()
	if err != nil {
		return LoginAck{}, err
	}
	return LoginAck{
		Interface:   iface,
		TDSVersion:  tdsVer,
		ProgName:    prog,
		MajorVer:    major,
		MinorVer:    minor,
		BuildHiByte: buildHi,
		BuildLoByte: buildLo,
	}, nil
}

// SkipOrder, SkipColInfo, SkipTabName, and SkipFeatureExtAck consume
// tokens the connection state machine does not need to interpret,
// using their declared length where the token is length-prefixed or a
// fixed shape where it isn't.
func SkipOrder(r *wire.Reader) error {
	n, err := r.Uint16LE()
	if err != nil {
		return err
	}
	_, err = r.Bytes(int(n))
	return err
}

func SkipColInfo(r *wire.Reader) error {
	n, err := r.Uint16LE()
	if err != nil {
		return err
	}
	_, err = r.Bytes(int(n))
	return err
}

func SkipTabName(r *wire.Reader) error {
	n, err := r.Uint16LE()
	if err != nil {
		return err
	}
	_, err = r.Bytes(int(n))
	return err
}

func SkipFeatureExtAck(r *wire.Reader) error {
	for {
		featureID, err := r.Byte()
		if err != nil {
			return err
		}
		if featureID == 0xFF {
			return nil
		}
		length, err := r.Uint32LE()
		if err != nil {
			return err
		}
		if _, err := r.Bytes(int(length)); err != nil {
			return err
		}
	}
}

func DecodeReturnStatus(r *wire.Reader) (int32, error) {
	n, err := r.Uint32LE()
	return int32(n), err
}

// SkipReturnValue consumes a RETURNVALUE token and returns its
// parameter name and decoded value, used for stored-procedure output
// parameters.
func SkipReturnValue(r *wire.Reader) (name string, v value.Value, err error) {
	if _, err = r.Uint16LE(); err != nil { // param ordinal
		return "", value.Value{}, err
	}
	name, err = r.BVarchar()
	if err != nil {
		return "", value.Value{}, err
	}
	if _, err = r.Byte(); err != nil { // status
		return "", value.Value{}, err
	}
	if _, err = r.Uint32LE(); err != nil { // user type
		return "", value.Value{}, err
	}
	if _, err = r.Uint16LE(); err != nil { // flags
		return "", value.Value{}, err
	}
	ti, err := DecodeTypeInfo(r)
	if err != nil {
		return "", value.Value{}, err
	}
	v, err = DecodeValue(r, ti)
	return name, v, err
}

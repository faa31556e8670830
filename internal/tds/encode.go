package tds

import (
	"encoding/binary"

	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// PreLogin option tokens, MS-TDS 2.2.6.4.
const (
	preLoginVersion    byte = 0x00
	preLoginEncryption byte = 0x01
	preLoginInstOpt    byte = 0x02
	preLoginThreadID   byte = 0x03
	preLoginMARS       byte = 0x04
	preLoginTerminator byte = 0xFF
)

// Encryption negotiation values carried in the PreLogin ENCRYPTION
// option, MS-TDS 2.2.6.4.
const (
	EncryptOff      byte = 0x00
	EncryptOn       byte = 0x01
	EncryptNotSup   byte = 0x02
	EncryptRequired byte = 0x03
)

// BuildPreLogin encodes a PreLogin message body whose ENCRYPTION option
// carries encrypt, with an empty instance name and a fixed thread ID.
func BuildPreLogin(encrypt byte) []byte {
	version := []byte{0x12, 0x00, 0x00, 0x07, 0x00, 0x00}
	encBytes := []byte{encrypt}
	instance := []byte{0x00}
	threadID := []byte{0x00, 0x00, 0x00, 0x00}
	mars := []byte{0x00}

	options := []struct {
		token byte
		data  []byte
	}{
		{preLoginVersion, version},
		{preLoginEncryption, encBytes},
		{preLoginInstOpt, instance},
		{preLoginThreadID, threadID},
		{preLoginMARS, mars},
	}

	headerLen := len(options)*5 + 1
	offset := uint16(headerLen)
	header := make([]byte, 0, headerLen)
	var body []byte
	for _, opt := range options {
		header = append(header, opt.token)
		header = appendUint16BE(header, offset)
		header = appendUint16BE(header, uint16(len(opt.data)))
		offset += uint16(len(opt.data))
		body = append(body, opt.data...)
	}
	header = append(header, preLoginTerminator)
	return append(header, body...)
}

func appendUint16BE(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// PreLoginOption is one parsed PRELOGIN response option.
type PreLoginOption struct {
	Token byte
	Data  []byte
}

// ParsePreLoginResponse decodes a server PRELOGIN response body into
// its option list.
func ParsePreLoginResponse(body []byte) ([]PreLoginOption, error) {
	var opts []PreLoginOption
	pos := 0
	for {
		if pos >= len(body) {
			return nil, wire.ErrShortBuffer
		}
		token := body[pos]
		if token == preLoginTerminator {
			break
		}
		if pos+5 > len(body) {
			return nil, wire.ErrShortBuffer
		}
		offset := binary.BigEndian.Uint16(body[pos+1 : pos+3])
		length := binary.BigEndian.Uint16(body[pos+3 : pos+5])
		if int(offset)+int(length) > len(body) {
			return nil, wire.ErrShortBuffer
		}
		opts = append(opts, PreLoginOption{Token: token, Data: body[offset : offset+length]})
		pos += 5
	}
	return opts, nil
}

// EncryptionOf returns the server's chosen ENCRYPTION byte, or
// EncryptNotSup if absent.
func EncryptionOf(opts []PreLoginOption) byte {
	for _, o := range opts {
		if o.Token == preLoginEncryption && len(o.Data) == 1 {
			return o.Data[0]
		}
	}
	return EncryptNotSup
}

// LoginOptions carries the fields BuildLogin7 needs beyond
// username/password.
type LoginOptions struct {
	Hostname    string
	AppName     string
	ServerName  string
	Database    string
	Language    string
	ClientPID   uint32
	PacketSize  uint32
	UseNTLM     bool
	SSPIPayload []byte // NTLM_NEGOTIATE, only when UseNTLM is set
}

// fixedLoginLen is the byte length of LOGIN7's fixed-size header,
// up to but excluding the variable-length data region: six DWORDs,
// four flag bytes, two DWORDs (timezone/LCID), nine offset/length
// pairs (hostname/username/password/appname/servername/extension/
// cltintname/language/database), a 6-byte ClientID, and three more
// offset/length pairs (sspi/atchdbfile/changepassword) plus cbSSPILong,
// per MS-TDS 2.2.6.4.
const fixedLoginLen = 6*4 + 4 + 2*4 + 9*4 + 6 + 3*4 + 4

// BuildLogin7 encodes a LOGIN7 packet body. When opts.UseNTLM is set,
// username/password are omitted (OptionFlags2's integrated-security
// bit is set instead) and SSPIPayload carries the NTLM_NEGOTIATE
// message; otherwise SQL Server authentication fields are sent in
// clear (password obfuscated by the standard TDS XOR/nibble-swap).
func BuildLogin7(username, password string, opts LoginOptions) []byte {
	hostname := wire.StringToUTF16LE(opts.Hostname)
	usernameU := wire.StringToUTF16LE(username)
	passwordU := obfuscatePassword(password)
	appName := wire.StringToUTF16LE(opts.AppName)
	serverName := wire.StringToUTF16LE(opts.ServerName)
	language := wire.StringToUTF16LE(opts.Language)
	database := wire.StringToUTF16LE(opts.Database)

	if opts.UseNTLM {
		usernameU = nil
		passwordU = nil
	}

	offset := uint16(fixedLoginLen)
	take := func(d []byte) (o, n uint16) {
		o, n = offset, uint16(len(d)/2)
		offset += uint16(len(d))
		return
	}

	hostOff, hostLen := take(hostname)
	userOff, userLen := take(usernameU)
	passOff, passLen := take(passwordU)
	appOff, appLen := take(appName)
	srvOff, srvLen := take(serverName)
	extOff, extLen := offset, uint16(0) // extension block, unused
	cltIntOff, cltIntLen := offset, uint16(0)
	langOff, langLen := take(language)
	dbOff, dbLen := take(database)

	var sspiOffset uint16
	var sspiLen uint16
	if opts.UseNTLM {
		sspiOffset = offset
		sspiLen = uint16(len(opts.SSPIPayload))
		offset += sspiLen
	}

	w := wire.NewWriter()
	w.WriteUint32LE(0) // length, patched below
	w.WriteUint32LE(0x74000004)
	w.WriteUint32LE(opts.PacketSize)
	w.WriteUint32LE(0x01000000)
	w.WriteUint32LE(opts.ClientPID)
	w.WriteUint32LE(0)

	w.WriteByte(0x00) // option flags 1

	optionFlags2 := byte(0x00)
	if opts.UseNTLM {
		optionFlags2 |= 0x80 // fIntSecurity
	}
	w.WriteByte(optionFlags2)

	w.WriteByte(0x00) // type flags
	w.WriteByte(0x00) // option flags 3
	w.WriteUint32LE(0)
	w.WriteUint32LE(0)

	w.WriteUint16LE(hostOff)
	w.WriteUint16LE(hostLen)
	w.WriteUint16LE(userOff)
	w.WriteUint16LE(userLen)
	w.WriteUint16LE(passOff)
	w.WriteUint16LE(passLen)
	w.WriteUint16LE(appOff)
	w.WriteUint16LE(appLen)
	w.WriteUint16LE(srvOff)
	w.WriteUint16LE(srvLen)
	w.WriteUint16LE(extOff)
	w.WriteUint16LE(extLen)
	w.WriteUint16LE(cltIntOff)
	w.WriteUint16LE(cltIntLen)
	w.WriteUint16LE(langOff)
	w.WriteUint16LE(langLen)
	w.WriteUint16LE(dbOff)
	w.WriteUint16LE(dbLen)

	w.WriteBytes(make([]byte, 6)) // ClientID, zero MAC address

	w.WriteUint16LE(sspiOffset)
	w.WriteUint16LE(sspiLen)
	w.WriteUint16LE(0) // AttachDBFile offset
	w.WriteUint16LE(0) // AttachDBFile length
	w.WriteUint16LE(0) // ChangePassword offset
	w.WriteUint16LE(0) // ChangePassword length
	w.WriteUint32LE(0) // cbSSPILong

	w.WriteBytes(hostname)
	w.WriteBytes(usernameU)
	w.WriteBytes(passwordU)
	w.WriteBytes(appName)
	w.WriteBytes(serverName)
	w.WriteBytes(language)
	w.WriteBytes(database)
	if opts.UseNTLM {
		w.WriteBytes(opts.SSPIPayload)
	}

	out := w.Bytes()
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out
}

// obfuscatePassword applies the TDS login password obfuscation: each
// UTF-16LE byte is XORed with 0xA5, then its nibbles are swapped.
func obfuscatePassword(password string) []byte {
	u := wire.StringToUTF16LE(password)
	out := make([]byte, len(u))
	for i, b := range u {
		b ^= 0xA5
		out[i] = (b << 4) | (b >> 4)
	}
	return out
}

// BuildSQLBatch encodes an SQL_BATCH packet body: the all-headers
// block (transaction descriptor + outstanding request count) followed
// by the UTF-16LE query text.
func BuildSQLBatch(sql string, transactionDescriptor uint64) []byte {
	w := wire.NewWriter()
	writeAllHeaders(w, transactionDescriptor)
	w.WriteBytes(wire.StringToUTF16LE(sql))
	return w.Bytes()
}

func writeAllHeaders(w *wire.Writer, transactionDescriptor uint64) {
	const headerLen = 4 + 2 + 8 + 4 // this header's own length field + type + descriptor + request count
	const totalLen = 4 + headerLen  // ALL_HEADERS length field itself + the one header
	w.WriteUint32LE(totalLen)
	w.WriteUint32LE(headerLen)
	w.WriteUint16LE(2) // header type: transaction descriptor
	w.WriteUint64LE(transactionDescriptor)
	w.WriteUint32LE(1) // outstanding request count
}

// RPCParam is one named-or-positional RPC parameter, sent as an
// NVARCHAR(MAX) text value holding Value exactly as the caller gave it.
type RPCParam struct {
	Name  string // empty for positional parameters
	Value string
	Out   bool
}

// BuildRPC encodes an RPCRequest packet body invoking procName with
// params. Conn.CallProcedure is its only caller; queries with binds are
// sent as SQL_BATCH text with the binds inlined, not through an
// sp_executesql RPC.
func BuildRPC(procName string, params []RPCParam, transactionDescriptor uint64) []byte {
	w := wire.NewWriter()
	writeAllHeaders(w, transactionDescriptor)

	nameU := wire.StringToUTF16LE(procName)
	w.WriteUint16LE(uint16(len(nameU) / 2))
	w.WriteBytes(nameU)

	w.WriteUint16LE(0) // option flags: no recompile, no no-metadata

	for _, p := range params {
		if p.Name == "" {
			w.WriteByte(0)
		} else {
			paramNameU := wire.StringToUTF16LE("@" + p.Name)
			w.WriteByte(byte(len(paramNameU) / 2))
			w.WriteBytes(paramNameU)
		}
		status := byte(0)
		if p.Out {
			status = 1
		}
		w.WriteByte(status)

		// NVARCHAR(MAX): type id 0xE7, length 0xFFFF signals PLP,
		// followed by a 5-byte collation placeholder.
		w.WriteByte(TypeNVarChar)
		w.WriteUint16LE(0xFFFF)
		w.WriteBytes(make([]byte, 5))

		valU := wire.StringToUTF16LE(p.Value)
		w.WriteUint64LE(uint64(len(valU)))
		if len(valU) > 0 {
			w.WriteUint32LE(uint32(len(valU)))
			w.WriteBytes(valU)
		}
		w.WriteUint32LE(0) // terminating zero-length PLP chunk
	}

	return w.Bytes()
}

// BuildSSPIMessage wraps an NTLM message (NEGOTIATE or AUTHENTICATE)
// as an SSPI packet body.
func BuildSSPIMessage(ntlmMessage []byte) []byte {
	return ntlmMessage
}

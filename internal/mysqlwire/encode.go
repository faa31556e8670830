package mysqlwire

import "github.com/sqlbridge/sqlbridge/internal/wire"

// COM_* command bytes used by this client.
const (
	ComQuit          byte = 0x01
	ComQuery         byte = 0x03
	ComPing          byte = 0x0e
	ComResetConn     byte = 0x1f
	ComStmtPrepare   byte = 0x16
)

// Client capability flags (Protocol::CapabilityFlags).
const (
	ClientLongPassword     = uint32(1)
	ClientFoundRows        = uint32(1 << 1)
	ClientLongFlag         = uint32(1 << 2)
	ClientConnectWithDB    = uint32(1 << 3)
	ClientNoSchema         = uint32(1 << 4)
	ClientProtocol41       = uint32(1 << 9)
	ClientSSL              = uint32(1 << 11)
	ClientTransactions     = uint32(1 << 13)
	ClientSecureConnection = uint32(1 << 15)
	ClientMultiStatements  = uint32(1 << 16)
	ClientMultiResults     = uint32(1 << 17)
	ClientPSMultiResults   = uint32(1 << 18)
	ClientPluginAuth       = uint32(1 << 19)
	ClientConnectAttrs     = uint32(1 << 20)
	ClientDeprecateEOF     = uint32(1 << 24)
)

// DefaultClientCapabilities is the capability set this client
// negotiates.
const DefaultClientCapabilities = ClientLongPassword | ClientLongFlag | ClientProtocol41 |
	ClientTransactions | ClientSecureConnection | ClientMultiResults | ClientPSMultiResults |
	ClientPluginAuth | ClientConnectAttrs | ClientMultiStatements | ClientDeprecateEOF | ClientConnectWithDB

const charsetUTF8MB4 = 0xFF

// EncodeSSLRequest builds the partial HandshakeResponse41 sent before
// upgrading to TLS when both client and server want SSL.
func EncodeSSLRequest(capabilities uint32) []byte {
	w := wire.NewWriter()
	w.WriteUint32LE(capabilities | ClientSSL)
	w.WriteUint32LE(0xFFFFFF)
	w.WriteByte(charsetUTF8MB4)
	w.WriteBytes(make([]byte, 23))
	return w.Bytes()
}

// EncodeHandshakeResponse41 builds the full HandshakeResponse41 packet.
func EncodeHandshakeResponse41(capabilities uint32, username, database, authPluginName string, authResponse []byte) []byte {
	w := wire.NewWriter()
	w.WriteUint32LE(capabilities)
	w.WriteUint32LE(0xFFFFFF)
	w.WriteByte(charsetUTF8MB4)
	w.WriteBytes(make([]byte, 23))
	w.WriteNullTerminated([]byte(username))
	w.WriteLengthEncodedString(authResponse)
	if capabilities&ClientConnectWithDB != 0 {
		w.WriteNullTerminated([]byte(database))
	}
	if capabilities&ClientPluginAuth != 0 {
		w.WriteNullTerminated([]byte(authPluginName))
	}
	if capabilities&ClientConnectAttrs != 0 {
		w.WriteLengthEncodedInt(0) // zero-length connect-attrs
	}
	return w.Bytes()
}

// EncodeComQuery builds a COM_QUERY packet for a simple text query.
func EncodeComQuery(sql string) []byte {
	w := wire.NewWriter()
	w.WriteByte(ComQuery)
	w.WriteBytes([]byte(sql))
	return w.Bytes()
}

// EncodeComPing builds a COM_PING packet.
func EncodeComPing() []byte { return []byte{ComPing} }

// EncodeComResetConnection builds a COM_RESET_CONNECTION packet.
func EncodeComResetConnection() []byte { return []byte{ComResetConn} }

// EncodeComQuit builds a COM_QUIT packet.
func EncodeComQuit() []byte { return []byte{ComQuit} }

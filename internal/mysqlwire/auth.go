package mysqlwire

import (
	"context"
	"io"

	"github.com/sqlbridge/sqlbridge/internal/cryptoprim"
	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// Handshake is the decoded Protocol::HandshakeV10 initial packet.
type Handshake struct {
	ServerVersion      string
	ConnectionID       uint32
	AuthPluginData     []byte
	Capabilities       uint32
	CharacterSet       byte
	StatusFlags        uint16
	AuthPluginName     string
}

// DecodeHandshakeV10 parses the server's initial handshake packet
// field by field.
func DecodeHandshakeV10(pkt []byte) (Handshake, error) {
	var h Handshake
	r := wire.NewReader(pkt)

	protoVersion, err := r.Byte()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading protocol version", err)
	}
	_ = protoVersion

	serverVersion, err := r.NullTerminated()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading server version", err)
	}
	h.ServerVersion = string(serverVersion)

	connID, err := r.Uint32LE()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading connection id", err)
	}
	h.ConnectionID = connID

	authData1, err := r.Bytes(8)
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading auth-plugin-data-1", err)
	}
	authData := append([]byte{}, authData1...)

	if err := r.Skip(1); err != nil { // filler
		return h, dberr.Wrap(dberr.KindProtocol, "skipping filler", err)
	}

	capLow, err := r.Uint16LE()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading capability_flags_1", err)
	}

	charset, err := r.Byte()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading character_set", err)
	}
	h.CharacterSet = charset

	statusFlags, err := r.Uint16LE()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading status_flags", err)
	}
	h.StatusFlags = statusFlags

	capHigh, err := r.Uint16LE()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading capability_flags_2", err)
	}
	h.Capabilities = uint32(capLow) | uint32(capHigh)<<16

	authPluginDataLen, err := r.Byte()
	if err != nil {
		return h, dberr.Wrap(dberr.KindProtocol, "reading auth_plugin_data_len", err)
	}

	if err := r.Skip(10); err != nil { // reserved
		return h, dberr.Wrap(dberr.KindProtocol, "skipping reserved", err)
	}

	part2Len := int(authPluginDataLen) - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if part2Len > r.Len() {
		part2Len = r.Len()
	}
	if part2Len > 0 {
		part2, err := r.Bytes(part2Len)
		if err != nil {
			return h, dberr.Wrap(dberr.KindProtocol, "reading auth-plugin-data-2", err)
		}
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	h.AuthPluginData = authData

	h.AuthPluginName = "mysql_native_password"
	if h.Capabilities&ClientPluginAuth != 0 && r.Len() > 0 {
		name, err := r.NullTerminated()
		if err == nil {
			h.AuthPluginName = string(name)
		}
	}

	return h, nil
}

// NativePasswordAuth computes the mysql_native_password response:
// SHA1(password) XOR SHA1(challenge || SHA1(SHA1(password))), 20 bytes.
// An empty password yields an empty response.
func NativePasswordAuth(password string, challenge []byte) []byte {
	if password == "" {
		return nil
	}
	h1 := cryptoprim.SHA1([]byte(password))
	h2 := cryptoprim.SHA1(h1)
	combined := append(append([]byte{}, challenge...), h2...)
	h3 := cryptoprim.SHA1(combined)
	return cryptoprim.XOR(h1, h3)
}

// CachingSHA2FastAuth computes the caching_sha2_password scramble:
// SHA256(password) XOR SHA256(SHA256(SHA256(password)) || nonce), 32 bytes.
func CachingSHA2FastAuth(password string, nonce []byte) []byte {
	if password == "" {
		return nil
	}
	h1 := cryptoprim.SHA256([]byte(password))
	h2 := cryptoprim.SHA256(h1)
	combined := append(append([]byte{}, h2...), nonce...)
	h3 := cryptoprim.SHA256(combined)
	return cryptoprim.XOR(h1, h3)
}

// Caching_sha2_password AuthMoreData subtypes.
const (
	CachingSHA2FastAuthSuccess = byte(0x03)
	CachingSHA2FullAuthRequired = byte(0x04)
	CachingSHA2RequestRSAKey    = byte(0x02)
)

// ErrRSAKeyExchangeUnsupported documents the one deliberately-missing
// auth path: caching_sha2_password's RSA key exchange (subtype 0x02)
// used for full auth without TLS.
var ErrRSAKeyExchangeUnsupported = dberr.Unsupported("caching_sha2_password RSA key exchange (subtype 0x02) without TLS")

// ReadAuthMoreDataSubtype extracts the subtype byte from an
// AuthMoreData packet (indicator 0x01 followed by the subtype).
func ReadAuthMoreDataSubtype(pkt []byte) (byte, bool) {
	if len(pkt) < 2 || pkt[0] != 0x01 {
		return 0, false
	}
	return pkt[1], true
}

// FullAuthCleartext builds the cleartext-password-plus-terminator
// response sent for caching_sha2_password full auth over TLS.
func FullAuthCleartext(password string) []byte {
	return append([]byte(password), 0)
}

// AuthSwitchRequest is a decoded AuthSwitchRequest packet (tag 0xFE).
type AuthSwitchRequest struct {
	PluginName string
	PluginData []byte
}

// DecodeAuthSwitchRequest parses a whole AuthSwitchRequest packet,
// skipping its leading 0xFE tag byte.
func DecodeAuthSwitchRequest(pkt []byte) (AuthSwitchRequest, error) {
	var a AuthSwitchRequest
	if len(pkt) < 1 {
		return a, dberr.New(dberr.KindProtocol, "malformed AuthSwitchRequest")
	}
	r := wire.NewReader(pkt[1:])
	name, err := r.NullTerminated()
	if err != nil {
		return a, dberr.Wrap(dberr.KindProtocol, "reading AuthSwitchRequest plugin name", err)
	}
	a.PluginName = string(name)
	data, err := r.Bytes(r.Len())
	if err != nil {
		return a, err
	}
	if len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	a.PluginData = data
	return a, nil
}

// ComputeAuthResponse computes the auth response bytes for the named
// plugin, returning dberr.Unsupported for anything not implemented.
func ComputeAuthResponse(plugin, password string, authData []byte) ([]byte, error) {
	switch plugin {
	case "mysql_native_password":
		return NativePasswordAuth(password, authData), nil
	case "caching_sha2_password":
		return CachingSHA2FastAuth(password, authData), nil
	default:
		return nil, dberr.Unsupported("auth plugin " + plugin)
	}
}

// Upgrader wraps a plain connection in TLS after the SSLRequest packet
// has been sent, returning the connection to continue the handshake
// over.
type Upgrader func(io.ReadWriter) (io.ReadWriter, error)

// Authenticate drives the full MySQL handshake over rw and returns the
// (possibly TLS-upgraded) connection to use for subsequent traffic,
// plus the server's final OK/ERR outcome. When useTLS is set, upgrade
// is invoked right after the SSLRequest packet, and the remainder of
// the handshake — and everything after — runs over the connection it
// returns. Authenticate does not consult ctx; no packet read is
// cancelled through it.
func Authenticate(ctx context.Context, rw io.ReadWriter, username, password, database string, useTLS bool, upgrade Upgrader) (io.ReadWriter, error) {
	pkt, _, err := ReadPacket(rw)
	if err != nil {
		return rw, dberr.Wrap(dberr.KindConnection, "reading server handshake", err)
	}
	if len(pkt) > 0 && pkt[0] == 0xff {
		errPkt, _ := DecodeERR(wire.NewReader(pkt[1:]))
		return rw, dberr.ServerError("", errPkt.SQLState, errPkt.Message)
	}

	hs, err := DecodeHandshakeV10(pkt)
	if err != nil {
		return rw, err
	}

	caps := DefaultClientCapabilities
	if useTLS {
		caps |= ClientSSL
	}

	if useTLS {
		if err := WritePacket(rw, EncodeSSLRequest(caps), 1); err != nil {
			return rw, dberr.Wrap(dberr.KindConnection, "sending SSLRequest", err)
		}
		upgraded, err := upgrade(rw)
		if err != nil {
			return rw, dberr.Wrap(dberr.KindTLS, "upgrading to TLS", err)
		}
		rw = upgraded
	}

	authResp, err := ComputeAuthResponse(hs.AuthPluginName, password, hs.AuthPluginData)
	if err != nil {
		return rw, err
	}

	seq := byte(1)
	if useTLS {
		seq = 2
	}
	resp := EncodeHandshakeResponse41(caps, username, database, hs.AuthPluginName, authResp)
	if err := WritePacket(rw, resp, seq); err != nil {
		return rw, dberr.Wrap(dberr.KindConnection, "sending handshake response", err)
	}

	pkt, _, err = ReadPacket(rw)
	if err != nil {
		return rw, dberr.Wrap(dberr.KindConnection, "reading auth result", err)
	}
	if len(pkt) == 0 {
		return rw, dberr.New(dberr.KindProtocol, "empty auth result")
	}

	switch {
	case IsOK(pkt):
		return rw, nil
	case pkt[0] == 0xfe && len(pkt) > 1:
		sw, err := DecodeAuthSwitchRequest(pkt)
		if err != nil {
			return rw, err
		}
		return rw, authSwitch(rw, sw, password, useTLS)
	case IsERR(pkt):
		e, _ := DecodeERR(wire.NewReader(pkt[1:]))
		return rw, dberr.ServerError("", e.SQLState, e.Message)
	case pkt[0] == 0x01: // AuthMoreData
		return rw, authMoreData(rw, pkt, password, useTLS)
	default:
		return rw, dberr.New(dberr.KindProtocol, "unexpected auth response byte")
	}
}

func authSwitch(rw io.ReadWriter, sw AuthSwitchRequest, password string, useTLS bool) error {
	resp, err := ComputeAuthResponse(sw.PluginName, password, sw.PluginData)
	if err != nil {
		return err
	}
	if err := WritePacket(rw, resp, 3); err != nil {
		return dberr.Wrap(dberr.KindConnection, "sending auth switch response", err)
	}
	pkt, _, err := ReadPacket(rw)
	if err != nil {
		return dberr.Wrap(dberr.KindConnection, "reading auth switch result", err)
	}
	if len(pkt) > 0 && pkt[0] == 0x01 {
		return authMoreData(rw, pkt, password, useTLS)
	}
	if len(pkt) < 1 || !IsOK(pkt) {
		if IsERR(pkt) {
			e, _ := DecodeERR(wire.NewReader(pkt[1:]))
			return dberr.ServerError("", e.SQLState, e.Message)
		}
		return dberr.New(dberr.KindAuthenticationFailed, "authentication failed after plugin switch")
	}
	return nil
}

func authMoreData(rw io.ReadWriter, pkt []byte, password string, useTLS bool) error {
	subtype, ok := ReadAuthMoreDataSubtype(pkt)
	if !ok {
		return dberr.New(dberr.KindProtocol, "malformed AuthMoreData")
	}
	switch subtype {
	case CachingSHA2FastAuthSuccess:
		pkt, _, err := ReadPacket(rw)
		if err != nil {
			return dberr.Wrap(dberr.KindConnection, "reading fast-auth OK", err)
		}
		if IsOK(pkt) {
			return nil
		}
		if IsERR(pkt) {
			e, _ := DecodeERR(wire.NewReader(pkt[1:]))
			return dberr.ServerError("", e.SQLState, e.Message)
		}
		return dberr.New(dberr.KindProtocol, "unexpected packet after fast-auth success")
	case CachingSHA2FullAuthRequired:
		if !useTLS {
			return dberr.Unsupported("caching_sha2_password full authentication requires TLS")
		}
		if err := WritePacket(rw, FullAuthCleartext(password), 5); err != nil {
			return dberr.Wrap(dberr.KindConnection, "sending cleartext full-auth password", err)
		}
		pkt, _, err := ReadPacket(rw)
		if err != nil {
			return dberr.Wrap(dberr.KindConnection, "reading full-auth result", err)
		}
		if IsOK(pkt) {
			return nil
		}
		if IsERR(pkt) {
			e, _ := DecodeERR(wire.NewReader(pkt[1:]))
			return dberr.ServerError("", e.SQLState, e.Message)
		}
		return dberr.New(dberr.KindProtocol, "unexpected packet after full-auth")
	case CachingSHA2RequestRSAKey:
		return ErrRSAKeyExchangeUnsupported
	default:
		return dberr.New(dberr.KindProtocol, "unrecognized AuthMoreData subtype")
	}
}

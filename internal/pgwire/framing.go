// Package pgwire implements the PostgreSQL frontend/backend protocol
// version 3 client side: startup/SSL negotiation, message framing,
// SCRAM-SHA-256/MD5/cleartext authentication, simple-query decoding,
// and the per-connection state machine (siblings in internal/mysqlwire
// and internal/tds). Framing performs full decode rather than
// pass-through relay.
package pgwire

import (
	"encoding/binary"
	"io"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
)

// SSLRequestCode is the magic startup code identifying an SSLRequest
// (80877103 decimal).
const SSLRequestCode = 80877103

// ProtocolVersion3 is the startup message's protocol version field.
const ProtocolVersion3 = 196608

// WriteStartupMessage writes a length-prefixed startup packet with no
// leading type byte — either the SSLRequest code, or protocol version
// plus key/value parameter pairs terminated by a zero byte.
func WriteStartupMessage(w io.Writer, body []byte) error {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	copy(buf[4:], body)
	_, err := w.Write(buf)
	if err != nil {
		return dberr.Wrap(dberr.KindConnection, "writing startup message", err)
	}
	return nil
}

// SendSSLRequest writes the single-packet SSLRequest used to probe
// whether the server supports TLS before the real startup message.
func SendSSLRequest(w io.Writer) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, SSLRequestCode)
	return WriteStartupMessage(w, body)
}

// ReadSSLResponse reads the single-byte reply to an SSLRequest: 'S' to
// proceed with TLS, 'N' to continue in cleartext.
func ReadSSLResponse(r io.Reader) (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, dberr.Wrap(dberr.KindConnection, "reading SSLRequest response", err)
	}
	return buf[0], nil
}

// ReadMessage reads one tagged backend message: a 1-byte type tag
// followed by a 4-byte big-endian length (including itself) and the
// remaining payload.
func ReadMessage(r io.Reader) (tag byte, payload []byte, err error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, dberr.Wrap(dberr.KindConnection, "reading message header", err)
	}
	tag = hdr[0]
	length := int(binary.BigEndian.Uint32(hdr[1:5]))
	if length < 4 {
		return 0, nil, dberr.New(dberr.KindProtocol, "message length field too short")
	}
	payload = make([]byte, length-4)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, dberr.Wrap(dberr.KindConnection, "reading message payload", err)
		}
	}
	return tag, payload, nil
}

// WriteMessage writes one tagged frontend message.
func WriteMessage(w io.Writer, tag byte, payload []byte) error {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:5], uint32(4+len(payload)))
	copy(buf[5:], payload)
	if _, err := w.Write(buf); err != nil {
		return dberr.Wrap(dberr.KindConnection, "writing message", err)
	}
	return nil
}

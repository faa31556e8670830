// Package mysqlwire implements the MySQL/MariaDB Client/Server
// Protocol v10 client side: packet framing, handshake/auth, text
// protocol decoding, and the per-connection request/response state
// machine (TDS/Postgres siblings in internal/tds and internal/pgwire).
// Framing and packet handling perform full decode rather than
// pass-through forwarding.
package mysqlwire

import (
	"io"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
)

const maxPacketBody = 0xFFFFFF

// ReadPacket reads one logical MySQL packet, transparently
// concatenating any 0xFFFFFF-byte continuation packets, and returns
// the payload plus the sequence id of the last physical packet read.
func ReadPacket(r io.Reader) (payload []byte, seq byte, err error) {
	var out []byte
	for {
		hdr := make([]byte, 4)
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, 0, dberr.Wrap(dberr.KindConnection, "reading MySQL packet header", err)
		}
		length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		seq = hdr[3]

		chunk := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, chunk); err != nil {
				return nil, seq, dberr.Wrap(dberr.KindConnection, "reading MySQL packet body", err)
			}
		}
		out = append(out, chunk...)

		if length < maxPacketBody {
			return out, seq, nil
		}
		// length == 0xFFFFFF: continuation follows, possibly a
		// zero-length packet terminating it.
	}
}

// WritePacket writes payload as one or more physical MySQL packets,
// splitting into 0xFFFFFF-byte chunks (with a trailing empty chunk
// when the payload length is itself an exact multiple) and using seq,
// seq+1, seq+2, ... for consecutive physical packets.
func WritePacket(w io.Writer, payload []byte, seq byte) error {
	for {
		n := len(payload)
		if n > maxPacketBody {
			n = maxPacketBody
		}
		hdr := []byte{byte(n), byte(n >> 8), byte(n >> 16), seq}
		if _, err := w.Write(hdr); err != nil {
			return dberr.Wrap(dberr.KindConnection, "writing MySQL packet header", err)
		}
		if n > 0 {
			if _, err := w.Write(payload[:n]); err != nil {
				return dberr.Wrap(dberr.KindConnection, "writing MySQL packet body", err)
			}
		}
		seq++
		payload = payload[n:]
		if n < maxPacketBody {
			return nil
		}
		if len(payload) == 0 {
			// exact multiple of 0xFFFFFF: terminate with an empty packet
			hdr := []byte{0, 0, 0, seq}
			_, err := w.Write(hdr)
			return err
		}
	}
}

// SeqCounter tracks the sequence id for one request/response turn,
// reset to 0 at the start of each new client-initiated command.
type SeqCounter struct{ n byte }

// Reset starts a new turn at sequence 0.
func (s *SeqCounter) Reset() { s.n = 0 }

// Next returns the next sequence id and advances the counter, wrapping
// 255 -> 0.
func (s *SeqCounter) Next() byte {
	n := s.n
	s.n++
	return n
}

// Package tds implements the Tabular Data Stream 7.4 client protocol
// used by Microsoft SQL Server: 8-byte header packet framing,
// PreLogin/Login7 negotiation, NTLMv2 SSPI authentication (wired to
// internal/ntlm), the token stream decoder, and the per-connection
// state machine (siblings in internal/mysqlwire and internal/pgwire).
// Framing uses TDS's fixed 8-byte header rather than MySQL's
// length-prefix scheme.
package tds

import (
	"encoding/binary"
	"io"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
)

// Packet type byte, TDS header offset 0.
const (
	PacketSQLBatch      byte = 1
	PacketRPC           byte = 3
	PacketTabularResult byte = 4
	PacketAttention     byte = 6
	PacketBulkLoad      byte = 7
	PacketTransMgr      byte = 14
	PacketLogin7        byte = 16
	PacketSSPI          byte = 17
	PacketPreLogin      byte = 18
)

// Status byte, TDS header offset 1.
const (
	StatusNormal    byte = 0x00
	StatusEOM       byte = 0x01
	StatusIgnore    byte = 0x02
	StatusResetConn byte = 0x08
)

// DefaultPacketSize is the packet size negotiated when none is
// requested explicitly.
const DefaultPacketSize = 4096

const headerLen = 8

// WritePacket frames payload into one or more TDS packets of at most
// packetSize bytes (including the 8-byte header), setting the EOM bit
// on the final fragment.
func WritePacket(w io.Writer, packetType byte, payload []byte, packetSize int) error {
	if packetSize <= headerLen {
		packetSize = DefaultPacketSize
	}
	bodyMax := packetSize - headerLen

	if len(payload) == 0 {
		return writeOneFrame(w, packetType, StatusEOM, nil, 0)
	}

	var packetID byte = 1
	for offset := 0; offset < len(payload); offset += bodyMax {
		end := offset + bodyMax
		if end > len(payload) {
			end = len(payload)
		}
		status := StatusNormal
		if end == len(payload) {
			status = StatusEOM
		}
		if err := writeOneFrame(w, packetType, status, payload[offset:end], packetID); err != nil {
			return err
		}
		packetID++
	}
	return nil
}

func writeOneFrame(w io.Writer, packetType, status byte, body []byte, packetID byte) error {
	buf := make([]byte, headerLen+len(body))
	buf[0] = packetType
	buf[1] = status
	binary.BigEndian.PutUint16(buf[2:4], uint16(headerLen+len(body)))
	buf[4] = 0 // SPID high byte, unused by clients
	buf[5] = 0
	buf[6] = packetID
	buf[7] = 0 // window, unused
	copy(buf[headerLen:], body)
	if _, err := w.Write(buf); err != nil {
		return dberr.Wrap(dberr.KindConnection, "writing TDS packet", err)
	}
	return nil
}

// ReadMessage reads and reassembles TDS packets until one with the EOM
// status bit set, returning the packet type of the first fragment and
// the concatenated payload.
func ReadMessage(r io.Reader) (packetType byte, payload []byte, err error) {
	hdr := make([]byte, headerLen)
	first := true
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return 0, nil, dberr.Wrap(dberr.KindConnection, "reading TDS header", err)
		}
		length := int(binary.BigEndian.Uint16(hdr[2:4]))
		if length < headerLen {
			return 0, nil, dberr.New(dberr.KindProtocol, "TDS packet length field too short")
		}
		body := make([]byte, length-headerLen)
		if len(body) > 0 {
			if _, err := io.ReadFull(r, body); err != nil {
				return 0, nil, dberr.Wrap(dberr.KindConnection, "reading TDS body", err)
			}
		}
		if first {
			packetType = hdr[0]
			first = false
		}
		payload = append(payload, body...)
		if hdr[1]&StatusEOM != 0 {
			return packetType, payload, nil
		}
	}
}

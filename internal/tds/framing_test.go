package tds

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageSinglePacket(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello tds")
	if err := WritePacket(&buf, PacketSQLBatch, payload, DefaultPacketSize); err != nil {
		t.Fatalf("write: %v", err)
	}
	pktType, got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pktType != PacketSQLBatch {
		t.Fatalf("type = %d", pktType)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestWriteReadMessageSplitsAcrossPackets(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{'z'}, 100)
	if err := WritePacket(&buf, PacketSQLBatch, payload, 8+40); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch, got len=%d want len=%d", len(got), len(payload))
	}
}

func TestWriteReadMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, PacketLogin7, nil, DefaultPacketSize); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got len = %d", len(got))
	}
}

package pgwire

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, TagDataRow, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	tag, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tag != TagDataRow {
		t.Fatalf("tag = %c", tag)
	}
	if string(payload) != "hello" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestWriteReadMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, TagReadyForQuery, []byte{'I'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	tag, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tag != TagReadyForQuery || len(payload) != 1 || payload[0] != 'I' {
		t.Fatalf("got tag=%c payload=%v", tag, payload)
	}
}

func TestSendSSLRequestAndReadResponse(t *testing.T) {
	var buf bytes.Buffer
	if err := SendSSLRequest(&buf); err != nil {
		t.Fatalf("send: %v", err)
	}
	if buf.Len() != 8 {
		t.Fatalf("ssl request length = %d, want 8", buf.Len())
	}
	buf.WriteByte('S')
	resp, err := ReadSSLResponse(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp != 'S' {
		t.Fatalf("resp = %c", resp)
	}
}

func TestWriteStartupMessageIncludesLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{0, 0, 0, 1}
	if err := WriteStartupMessage(&buf, body); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 4+len(body) {
		t.Fatalf("len = %d", buf.Len())
	}
}

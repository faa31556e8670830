package pgwire

import (
	"context"
	"net"
	"testing"
	"time"
)

func newTestConn(nc net.Conn) *Conn {
	return &Conn{rw: nc, nc: nc, txStatus: 'I'}
}

func TestConnQueryMultiSingleResultSet(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newTestConn(client)

	done := make(chan struct {
		rows int
		err  error
	}, 1)
	go func() {
		rs, err := conn.Query(context.Background(), "SELECT id FROM t")
		done <- struct {
			rows int
			err  error
		}{len(rs.Rows), err}
	}()

	if _, _, err := ReadMessage(server); err != nil {
		t.Fatalf("read query: %v", err)
	}

	rowDesc := append([]byte{0, 1}, encodeField("id", OIDInt4)...)
	WriteMessage(server, TagRowDescription, rowDesc)

	dataRow := append([]byte{0, 1}, 0, 0, 0, 1)
	dataRow = append(dataRow, '7')
	WriteMessage(server, TagDataRow, dataRow)

	WriteMessage(server, TagCommandComplete, []byte("SELECT 1\x00"))
	WriteMessage(server, TagReadyForQuery, []byte{'I'})

	select {
	case result := <-done:
		if result.err != nil {
			t.Fatalf("query: %v", result.err)
		}
		if result.rows != 1 {
			t.Fatalf("rows = %d", result.rows)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestConnQueryMultiServerError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newTestConn(client)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Query(context.Background(), "SELECT 1/0")
		done <- err
	}()

	if _, _, err := ReadMessage(server); err != nil {
		t.Fatalf("read query: %v", err)
	}
	WriteMessage(server, TagErrorResponse, []byte("SERROR\x00C22012\x00Mdivision by zero\x00\x00"))

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestConnOnNoticeInvokedAndResultStillReturned(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newTestConn(client)

	var got string
	conn.OnNotice(func(msg string) { got = msg })

	done := make(chan error, 1)
	go func() {
		_, err := conn.Execute(context.Background(), "CREATE TABLE IF NOT EXISTS t (id int)")
		done <- err
	}()

	if _, _, err := ReadMessage(server); err != nil {
		t.Fatalf("read query: %v", err)
	}
	WriteMessage(server, TagNoticeResponse, []byte("SNOTICE\x00C42P07\x00Mrelation \"t\" already exists, skipping\x00\x00"))
	WriteMessage(server, TagCommandComplete, []byte("CREATE TABLE\x00"))
	WriteMessage(server, TagReadyForQuery, []byte{'I'})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	if got != `relation "t" already exists, skipping` {
		t.Fatalf("notice callback got %q", got)
	}
}

func TestConnInTransactionTracksStatus(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newTestConn(client)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Execute(context.Background(), "BEGIN")
		done <- err
	}()

	if _, _, err := ReadMessage(server); err != nil {
		t.Fatalf("read query: %v", err)
	}
	WriteMessage(server, TagCommandComplete, []byte("BEGIN\x00"))
	WriteMessage(server, TagReadyForQuery, []byte{'T'})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	if !conn.InTransaction() {
		t.Fatal("expected InTransaction true after 'T' status")
	}
}

package mysqlwire

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/wire"
)

func writeColumnDefPacket(t *testing.T, srv net.Conn, seq byte, name string, typ byte) {
	t.Helper()
	w := wire.NewWriter()
	w.WriteLengthEncodedString([]byte("def"))
	w.WriteLengthEncodedString([]byte("db"))
	w.WriteLengthEncodedString([]byte("t"))
	w.WriteLengthEncodedString([]byte("t"))
	w.WriteLengthEncodedString([]byte(name))
	w.WriteLengthEncodedString([]byte(name))
	w.WriteLengthEncodedInt(0x0c)
	w.WriteUint16LE(33)
	w.WriteUint32LE(11)
	w.WriteByte(typ)
	w.WriteUint16LE(0)
	w.WriteByte(0)
	if err := WritePacket(srv, w.Bytes(), seq); err != nil {
		t.Fatalf("write column def: %v", err)
	}
}

func TestConnQueryMultiSingleResultSet(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &Conn{nc: client}

	resultCh := make(chan struct {
		rs  interface{}
		err error
	}, 1)
	go func() {
		rs, err := c.Query(context.Background(), "SELECT 42 AS a")
		resultCh <- struct {
			rs  interface{}
			err error
		}{rs, err}
	}()

	if _, _, err := ReadPacket(server); err != nil {
		t.Fatalf("read query: %v", err)
	}

	colCountW := wire.NewWriter()
	colCountW.WriteLengthEncodedInt(1)
	if err := WritePacket(server, colCountW.Bytes(), 1); err != nil {
		t.Fatalf("write col count: %v", err)
	}
	writeColumnDefPacket(t, server, 2, "a", TypeLong)

	// deprecate-EOF is negotiated, so no EOF follows the column definitions.
	rowW := wire.NewWriter()
	rowW.WriteLengthEncodedString([]byte("42"))
	if err := WritePacket(server, rowW.Bytes(), 3); err != nil {
		t.Fatalf("write row: %v", err)
	}

	finalEOF := wire.NewWriter()
	finalEOF.WriteUint16LE(0)
	finalEOF.WriteUint16LE(0)
	if err := WritePacket(server, append([]byte{0xFE}, finalEOF.Bytes()...), 4); err != nil {
		t.Fatalf("write final eof: %v", err)
	}

	select {
	case got := <-resultCh:
		if got.err != nil {
			t.Fatalf("query: %v", got.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func writeOKPacket(t *testing.T, srv net.Conn, seq byte, statusFlags uint16) {
	t.Helper()
	w := wire.NewWriter()
	w.WriteLengthEncodedInt(0) // affected rows
	w.WriteLengthEncodedInt(0) // last insert id
	w.WriteUint16LE(statusFlags)
	w.WriteUint16LE(0) // warnings
	if err := WritePacket(srv, append([]byte{0x00}, w.Bytes()...), seq); err != nil {
		t.Fatalf("write OK: %v", err)
	}
}

func TestConnBeginCommitRollbackTracksInTransaction(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &Conn{nc: client}

	if c.InTransaction() {
		t.Fatal("InTransaction should be false before Begin")
	}

	done := make(chan error, 1)
	go func() { done <- c.Begin(context.Background()) }()
	if _, _, err := ReadPacket(server); err != nil {
		t.Fatalf("read START TRANSACTION: %v", err)
	}
	writeOKPacket(t, server, 1, StatusInTrans)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if !c.InTransaction() {
		t.Fatal("InTransaction should be true after Begin")
	}

	go func() { done <- c.Commit(context.Background()) }()
	if _, _, err := ReadPacket(server); err != nil {
		t.Fatalf("read COMMIT: %v", err)
	}
	writeOKPacket(t, server, 1, 0)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if c.InTransaction() {
		t.Fatal("InTransaction should be false after Commit")
	}
}

func TestConnRollbackClearsInTransaction(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &Conn{nc: client, statusFlags: StatusInTrans}

	done := make(chan error, 1)
	go func() { done <- c.Rollback(context.Background()) }()
	if _, _, err := ReadPacket(server); err != nil {
		t.Fatalf("read ROLLBACK: %v", err)
	}
	writeOKPacket(t, server, 1, 0)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("rollback: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if c.InTransaction() {
		t.Fatal("InTransaction should be false after Rollback")
	}
}

func TestConnPingOK(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &Conn{nc: client}

	done := make(chan error, 1)
	go func() { done <- c.Ping(context.Background()) }()

	if _, _, err := ReadPacket(server); err != nil {
		t.Fatalf("read ping: %v", err)
	}
	if err := WritePacket(server, []byte{0x00, 0, 0, 0x02, 0x00, 0}, 1); err != nil {
		t.Fatalf("write ok: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ping: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

package tds

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/wire"
)

func writeLoginAckPacket(t *testing.T, conn net.Conn) {
	t.Helper()
	body := wire.NewWriter()
	body.WriteByte(TokenLoginAck)
	ackBody := wire.NewWriter()
	ackBody.WriteByte(1) // interface
	ackBody.WriteUint32BE(0x74000004)
	ackBody.WriteBVarchar("Microsoft SQL Server")
	ackBody.WriteByte(15)
	ackBody.WriteByte(0)
	ackBody.WriteByte(0x07)
	ackBody.WriteByte(0xD0)
	body.WriteUint16LE(uint16(len(ackBody.Bytes())))
	body.WriteBytes(ackBody.Bytes())

	body.WriteByte(TokenDone)
	body.WriteUint16LE(DoneFinal)
	body.WriteUint16LE(0)
	body.WriteUint64LE(0)

	if err := WritePacket(conn, PacketTabularResult, body.Bytes(), DefaultPacketSize); err != nil {
		t.Fatalf("write login ack: %v", err)
	}
}

func TestAuthenticateSQLLoginHappyPath(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := Authenticate(context.Background(), client, LoginParams{
			Username:   "sa",
			Password:   "hunter2",
			Database:   "mydb",
			Hostname:   "clienthost",
			AppName:    "sqlbridge",
			ServerName: "dbhost",
			PacketSize: DefaultPacketSize,
		})
		done <- err
	}()

	// Server: read PRELOGIN request, respond.
	pktType, _, err := ReadMessage(server)
	if err != nil {
		t.Fatalf("read prelogin: %v", err)
	}
	if pktType != PacketPreLogin {
		t.Fatalf("pkt type = %d", pktType)
	}
	if err := WritePacket(server, PacketTabularResult, BuildPreLogin(EncryptNotSup), DefaultPacketSize); err != nil {
		t.Fatalf("write prelogin response: %v", err)
	}

	// Server: read LOGIN7 request.
	pktType, _, err = ReadMessage(server)
	if err != nil {
		t.Fatalf("read login7: %v", err)
	}
	if pktType != PacketLogin7 {
		t.Fatalf("pkt type = %d", pktType)
	}

	writeLoginAckPacket(t, server)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for authenticate")
	}
}

func TestAuthenticateServerErrorDuringLogin(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := Authenticate(context.Background(), client, LoginParams{
			Username:   "sa",
			Password:   "wrong",
			PacketSize: DefaultPacketSize,
		})
		done <- err
	}()

	if _, _, err := ReadMessage(server); err != nil {
		t.Fatalf("read prelogin: %v", err)
	}
	if err := WritePacket(server, PacketTabularResult, BuildPreLogin(EncryptNotSup), DefaultPacketSize); err != nil {
		t.Fatalf("write prelogin response: %v", err)
	}
	if _, _, err := ReadMessage(server); err != nil {
		t.Fatalf("read login7: %v", err)
	}

	body := wire.NewWriter()
	body.WriteByte(TokenError)
	errBody := wire.NewWriter()
	errBody.WriteUint32LE(18456)
	errBody.WriteByte(1)
	errBody.WriteByte(14)
	errBody.WriteUSVarchar("login failed for user 'sa'")
	errBody.WriteBVarchar("dbhost")
	errBody.WriteBVarchar("")
	errBody.WriteUint32LE(1)
	body.WriteUint16LE(uint16(len(errBody.Bytes())))
	body.WriteBytes(errBody.Bytes())

	if err := WritePacket(server, PacketTabularResult, body.Bytes(), DefaultPacketSize); err != nil {
		t.Fatalf("write error token: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected authentication error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for authenticate")
	}
}

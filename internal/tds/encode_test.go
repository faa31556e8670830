package tds

import (
	"encoding/binary"
	"testing"

	"github.com/sqlbridge/sqlbridge/internal/wire"
)

func TestBuildParsePreLoginRoundTrip(t *testing.T) {
	body := BuildPreLogin(EncryptOn)
	opts, err := ParsePreLoginResponse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if EncryptionOf(opts) != EncryptOn {
		t.Fatalf("encryption = %d", EncryptionOf(opts))
	}
}

func TestBuildPreLoginTerminatorPresent(t *testing.T) {
	body := BuildPreLogin(EncryptOff)
	found := false
	for _, b := range body {
		if b == preLoginTerminator {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no terminator byte in header region")
	}
}

func TestBuildLogin7FieldOffsetsConsistent(t *testing.T) {
	out := BuildLogin7("sa", "secret", LoginOptions{
		Hostname:   "client1",
		AppName:    "sqlbridge",
		ServerName: "dbhost",
		Database:   "mydb",
		ClientPID:  4242,
		PacketSize: 4096,
	})

	totalLen := binary.LittleEndian.Uint32(out[0:4])
	if int(totalLen) != len(out) {
		t.Fatalf("total length = %d, want %d", totalLen, len(out))
	}

	// Offset/length pairs begin at byte 36 (6 DWORDs + 4 flag bytes + 2 DWORDs).
	const pairsStart = 36
	pair := func(i int) (off, n uint16) {
		base := pairsStart + i*4
		return binary.LittleEndian.Uint16(out[base : base+2]), binary.LittleEndian.Uint16(out[base+2 : base+4])
	}

	hostOff, hostLen := pair(0)
	userOff, userLen := pair(1)
	passOff, passLen := pair(2)

	if int(hostOff) != fixedLoginLen {
		t.Fatalf("hostname offset = %d, want %d", hostOff, fixedLoginLen)
	}
	if int(hostLen) != len("client1") {
		t.Fatalf("hostname length = %d", hostLen)
	}
	if userOff != hostOff+hostLen*2 {
		t.Fatalf("username offset %d does not follow hostname end %d", userOff, hostOff+hostLen*2)
	}
	if int(userLen) != len("sa") {
		t.Fatalf("username length = %d", userLen)
	}
	if passOff != userOff+userLen*2 {
		t.Fatalf("password offset %d does not follow username end %d", passOff, userOff+userLen*2)
	}
	if int(passLen) != len("secret") {
		t.Fatalf("password length = %d", passLen)
	}
}

func TestBuildLogin7PasswordObfuscated(t *testing.T) {
	out := BuildLogin7("sa", "ab", LoginOptions{PacketSize: 4096})
	obf := obfuscatePassword("ab")
	found := false
	for i := 0; i+len(obf) <= len(out); i++ {
		match := true
		for j := range obf {
			if out[i+j] != obf[j] {
				match = false
				break
			}
		}
		if match {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("obfuscated password bytes not found in login packet")
	}
}

func TestObfuscatePasswordRoundTrip(t *testing.T) {
	plain := wire.StringToUTF16LE("hunter2")
	obf := obfuscatePassword("hunter2")
	if len(obf) != len(plain) {
		t.Fatalf("length mismatch: %d vs %d", len(obf), len(plain))
	}
	for i, b := range obf {
		deobf := (b << 4) | (b >> 4)
		deobf ^= 0xA5
		if deobf != plain[i] {
			t.Fatalf("byte %d: got %x want %x", i, deobf, plain[i])
		}
	}
}

func TestWriteAllHeadersLayout(t *testing.T) {
	w := wire.NewWriter()
	writeAllHeaders(w, 0x1122334455667788)
	out := w.Bytes()

	totalLen := binary.LittleEndian.Uint32(out[0:4])
	headerLen := binary.LittleEndian.Uint32(out[4:8])
	if totalLen != uint32(len(out)) {
		t.Fatalf("total len = %d want %d", totalLen, len(out))
	}
	if headerLen != totalLen-4 {
		t.Fatalf("header len = %d want %d", headerLen, totalLen-4)
	}
	headerType := binary.LittleEndian.Uint16(out[8:10])
	if headerType != 2 {
		t.Fatalf("header type = %d", headerType)
	}
	td := binary.LittleEndian.Uint64(out[10:18])
	if td != 0x1122334455667788 {
		t.Fatalf("transaction descriptor = %x", td)
	}
}

func TestBuildRPCEncodesProcNameAndParams(t *testing.T) {
	body := BuildRPC("sp_test", []RPCParam{
		{Name: "id", Value: "42"},
		{Value: "positional"},
	}, 0)
	if len(body) == 0 {
		t.Fatal("empty RPC body")
	}
	// Skip ALL_HEADERS to reach proc name.
	r := wire.NewReader(body)
	totalLen, err := r.Uint32LE()
	if err != nil {
		t.Fatalf("read total len: %v", err)
	}
	if _, err := r.Bytes(int(totalLen) - 4); err != nil {
		t.Fatalf("skip headers: %v", err)
	}
	nameLen, err := r.Uint16LE()
	if err != nil {
		t.Fatalf("read name len: %v", err)
	}
	nameBytes, err := r.Bytes(int(nameLen) * 2)
	if err != nil {
		t.Fatalf("read name: %v", err)
	}
	if wire.UTF16LEToString(nameBytes) != "sp_test" {
		t.Fatalf("proc name = %q", wire.UTF16LEToString(nameBytes))
	}
}

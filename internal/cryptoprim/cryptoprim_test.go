package cryptoprim

import (
	"encoding/hex"
	"testing"
)

func hexOf(b []byte) string { return hex.EncodeToString(b) }

func TestMD4Vectors(t *testing.T) {
	cases := map[string]string{
		"":  "31d6cfe0d16ae931b73c59d7e0c089c0",
		"a": "bde52cb31de33e46245e05fbdbd6fb24",
	}
	for in, want := range cases {
		if got := hexOf(MD4([]byte(in))); got != want {
			t.Errorf("MD4(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestMD5Vectors(t *testing.T) {
	cases := map[string]string{
		"":    "d41d8cd98f00b204e9800998ecf8427e",
		"abc": "900150983cd24fb0d6963f7d28e17f72",
	}
	for in, want := range cases {
		if got := hexOf(MD5([]byte(in))); got != want {
			t.Errorf("MD5(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestHMACMD5Vector(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = 0x0b
	}
	got := hexOf(HMACMD5(key, []byte("Hi There")))
	want := "9294727a3638bb1c13f48ef8158bfc9d"
	if got != want {
		t.Errorf("HMAC-MD5 = %s, want %s", got, want)
	}
}

func TestXOR(t *testing.T) {
	a := []byte{0xff, 0x00, 0xaa}
	b := []byte{0x0f, 0xf0, 0x55}
	got := XOR(a, b)
	want := []byte{0xf0, 0xf0, 0xff}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("XOR mismatch at %d: got %x want %x", i, got[i], want[i])
		}
	}
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(24)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 24 {
		t.Fatalf("got %d bytes", len(b))
	}
}

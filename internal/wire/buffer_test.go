package wire

import "testing"

func TestLengthEncodedIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 250, 251, 1000, 1 << 16, 1<<24 - 1, 1 << 24, 1 << 40}
	for _, v := range cases {
		w := NewWriter()
		w.WriteLengthEncodedInt(v)
		r := NewReader(w.Bytes())
		got, isNull, err := r.LengthEncodedInt()
		if err != nil {
			t.Fatalf("value %d: %v", v, err)
		}
		if isNull {
			t.Fatalf("value %d: unexpectedly decoded as NULL", v)
		}
		if got != v {
			t.Fatalf("value %d: got %d", v, got)
		}
		if r.Len() != 0 {
			t.Fatalf("value %d: %d bytes left over", v, r.Len())
		}
	}
}

func TestLengthEncodedIntNull(t *testing.T) {
	r := NewReader([]byte{0xfb})
	_, isNull, err := r.LengthEncodedInt()
	if err != nil {
		t.Fatal(err)
	}
	if !isNull {
		t.Fatal("expected NULL")
	}
}

func TestLengthEncodedStringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteLengthEncodedString([]byte("hello, world"))
	r := NewReader(w.Bytes())
	got, isNull, err := r.LengthEncodedString()
	if err != nil || isNull {
		t.Fatalf("err=%v isNull=%v", err, isNull)
	}
	if string(got) != "hello, world" {
		t.Fatalf("got %q", got)
	}
}

func TestUTF16LERoundTrip(t *testing.T) {
	cases := []string{"", "Hello, World!", "日本語テスト 中文", "a"}
	for _, s := range cases {
		enc := StringToUTF16LE(s)
		if len(enc)%2 != 0 {
			t.Fatalf("%q: odd-length encoding", s)
		}
		dec := UTF16LEToString(enc)
		if dec != s {
			t.Fatalf("round trip mismatch: %q -> %q", s, dec)
		}
	}
}

func TestBVarcharRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBVarchar("sa")
	r := NewReader(w.Bytes())
	got, err := r.BVarchar()
	if err != nil {
		t.Fatal(err)
	}
	if got != "sa" {
		t.Fatalf("got %q", got)
	}
}

func TestUSVarcharRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUSVarchar("SELECT 1")
	r := NewReader(w.Bytes())
	got, err := r.USVarchar()
	if err != nil {
		t.Fatal(err)
	}
	if got != "SELECT 1" {
		t.Fatalf("got %q", got)
	}
}

func TestNullTerminated(t *testing.T) {
	w := NewWriter()
	w.WriteNullTerminated([]byte("user"))
	w.WriteNullTerminated([]byte("pass"))
	r := NewReader(w.Bytes())
	u, err := r.NullTerminated()
	if err != nil || string(u) != "user" {
		t.Fatalf("u=%q err=%v", u, err)
	}
	p, err := r.NullTerminated()
	if err != nil || string(p) != "pass" {
		t.Fatalf("p=%q err=%v", p, err)
	}
}

func TestShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.Bytes(3); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestEndianness(t *testing.T) {
	w := NewWriter()
	w.WriteUint32LE(0x01020304)
	w.WriteUint32BE(0x01020304)
	r := NewReader(w.Bytes())
	le, _ := r.Uint32LE()
	be, _ := r.Uint32BE()
	if le != 0x01020304 {
		t.Fatalf("LE got %x", le)
	}
	if be != 0x01020304 {
		t.Fatalf("BE got %x", be)
	}
}

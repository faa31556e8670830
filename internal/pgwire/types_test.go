package pgwire

import (
	"testing"

	"github.com/sqlbridge/sqlbridge/internal/value"
)

func TestDecodeTextValueNull(t *testing.T) {
	v, err := DecodeTextValue(RowField{TypeOID: OIDInt4}, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.IsNull() {
		t.Fatal("expected null")
	}
}

func TestDecodeTextValueInt4(t *testing.T) {
	v, err := DecodeTextValue(RowField{TypeOID: OIDInt4}, []byte("42"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, w := v.Int()
	if n != 42 || w != value.Width32 {
		t.Fatalf("n=%d w=%v", n, w)
	}
}

func TestDecodeTextValueBool(t *testing.T) {
	v, err := DecodeTextValue(RowField{TypeOID: OIDBool}, []byte("t"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.Bool() {
		t.Fatal("expected true")
	}
}

func TestDecodeTextValueBytea(t *testing.T) {
	v, err := DecodeTextValue(RowField{TypeOID: OIDBytea}, []byte(`\xdeadbeef`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if len(v.Bytes()) != len(want) {
		t.Fatalf("bytes = %x", v.Bytes())
	}
	for i := range want {
		if v.Bytes()[i] != want[i] {
			t.Fatalf("byte %d = %x want %x", i, v.Bytes()[i], want[i])
		}
	}
}

func TestDecodeTextValueUUID(t *testing.T) {
	v, err := DecodeTextValue(RowField{TypeOID: OIDUUID}, []byte("123e4567-e89b-12d3-a456-426614174000"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.UUID().String() != "123e4567-e89b-12d3-a456-426614174000" {
		t.Fatalf("uuid = %s", v.UUID().String())
	}
}

func TestRenderLiteralRoundTrips(t *testing.T) {
	cases := []struct {
		v    value.Value
		want string
	}{
		{value.Null(), "NULL"},
		{value.FromBool(true), "true"},
		{value.FromInt64(7), "7"},
		{value.FromString("a'b"), "'a''b'"},
	}
	for _, c := range cases {
		got, err := RenderLiteral(c.v)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if got != c.want {
			t.Fatalf("got %q want %q", got, c.want)
		}
	}
}

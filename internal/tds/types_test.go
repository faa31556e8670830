package tds

import (
	"testing"

	"github.com/sqlbridge/sqlbridge/internal/value"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

func TestDecodeTypeInfoFixedInt4(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(TypeInt4)
	ti, err := DecodeTypeInfo(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ti.TypeID != TypeInt4 || ti.MaxLen != 4 {
		t.Fatalf("ti = %+v", ti)
	}
}

func TestDecodeTypeInfoNVarCharMax(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(TypeNVarChar)
	w.WriteUint16LE(0xFFFF)
	w.WriteBytes(make([]byte, 5))
	ti, err := DecodeTypeInfo(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ti.MaxLen != -1 {
		t.Fatalf("maxlen = %d, want -1 (PLP)", ti.MaxLen)
	}
}

func TestDecodeValueNullIntN(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(0) // zero length => NULL
	v, err := DecodeValue(wire.NewReader(w.Bytes()), TypeInfo{TypeID: TypeIntN})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.IsNull() {
		t.Fatal("expected null")
	}
}

func TestDecodeValueIntN4(t *testing.T) {
	w := wire.NewWriter()
	w.WriteByte(4)
	w.WriteUint32LE(123)
	v, err := DecodeValue(wire.NewReader(w.Bytes()), TypeInfo{TypeID: TypeIntN})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, width := v.Int()
	if n != 123 || width != value.Width32 {
		t.Fatalf("n=%d width=%v", n, width)
	}
}

func TestDecodeUniqueIdentifierByteOrder(t *testing.T) {
	// Wire order: data1 LE, data2 LE, data3 LE, data4 BE (8 bytes).
	raw := []byte{0x04, 0x03, 0x02, 0x01, 0x06, 0x05, 0x08, 0x07, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8}
	v, err := decodeUniqueIdentifier(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "01020304-0506-0708-a1a2-a3a4a5a6a7a8"
	if v.UUID().String() != want {
		t.Fatalf("uuid = %s want %s", v.UUID().String(), want)
	}
}

func TestDecodePLPBodyConcatenatesChunks(t *testing.T) {
	w := wire.NewWriter()
	w.WriteUint64LE(5) // total length, not authoritative for chunked reads
	w.WriteUint32LE(3)
	w.WriteBytes([]byte("abc"))
	w.WriteUint32LE(2)
	w.WriteBytes([]byte("de"))
	w.WriteUint32LE(0) // terminator

	out, isNull, err := decodePLPBody(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if isNull {
		t.Fatal("expected not null")
	}
	if string(out) != "abcde" {
		t.Fatalf("out = %q", out)
	}
}

func TestDecodePLPBodyNull(t *testing.T) {
	w := wire.NewWriter()
	w.WriteUint64LE(plpNullLen)
	_, isNull, err := decodePLPBody(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !isNull {
		t.Fatal("expected null")
	}
}

func TestRenderLiteralString(t *testing.T) {
	got, err := RenderLiteral(value.FromString("O'Brien"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "N'O''Brien'" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderLiteralNull(t *testing.T) {
	got, err := RenderLiteral(value.Null())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "NULL" {
		t.Fatalf("got %q", got)
	}
}

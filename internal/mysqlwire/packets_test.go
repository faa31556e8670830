package mysqlwire

import (
	"testing"

	"github.com/sqlbridge/sqlbridge/internal/wire"
)

func TestIsOKIsEOFIsERRDisambiguation(t *testing.T) {
	if !IsOK([]byte{0x00}) {
		t.Fatal("0x00 should be OK")
	}
	shortFE := []byte{0xFE, 0, 0, 0, 0}
	if !IsEOF(shortFE) {
		t.Fatal("short 0xFE should be EOF")
	}
	if IsOK(shortFE) {
		t.Fatal("short 0xFE must not be OK")
	}
	longFE := make([]byte, 8)
	longFE[0] = 0xFE
	if !IsOK(longFE) {
		t.Fatal("long 0xFE (>=7 bytes) should be OK")
	}
	if IsEOF(longFE) {
		t.Fatal("long 0xFE must not be EOF")
	}
	if !IsERR([]byte{0xFF, 1, 2}) {
		t.Fatal("0xFF should be ERR")
	}
}

func TestDecodeOK(t *testing.T) {
	w := wire.NewWriter()
	w.WriteLengthEncodedInt(3)
	w.WriteLengthEncodedInt(17)
	w.WriteUint16LE(StatusAutocommit)
	w.WriteUint16LE(0)
	w.WriteBytes([]byte("ok"))

	ok, err := DecodeOK(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok.AffectedRows != 3 || ok.LastInsertID != 17 {
		t.Fatalf("got %+v", ok)
	}
	if ok.Info != "ok" {
		t.Fatalf("info = %q", ok.Info)
	}
}

func TestDecodeERRWithSQLState(t *testing.T) {
	w := wire.NewWriter()
	w.WriteUint16LE(1045)
	w.WriteBytes([]byte("#28000"))
	w.WriteBytes([]byte("Access denied"))

	e, err := DecodeERR(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Code != 1045 || e.SQLState != "28000" || e.Message != "Access denied" {
		t.Fatalf("got %+v", e)
	}
}

func TestDecodeColumnDefinitionAndUnsignedFlag(t *testing.T) {
	w := wire.NewWriter()
	w.WriteLengthEncodedString([]byte("def"))
	w.WriteLengthEncodedString([]byte("mydb"))
	w.WriteLengthEncodedString([]byte("t"))
	w.WriteLengthEncodedString([]byte("t"))
	w.WriteLengthEncodedString([]byte("id"))
	w.WriteLengthEncodedString([]byte("id"))
	w.WriteLengthEncodedInt(0x0c)
	w.WriteUint16LE(33)
	w.WriteUint32LE(11)
	w.WriteByte(TypeLong)
	w.WriteUint16LE(flagUnsigned)
	w.WriteByte(0)

	cd, err := DecodeColumnDefinition(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cd.Name != "id" || cd.ColumnType != TypeLong {
		t.Fatalf("got %+v", cd)
	}
	if !cd.Unsigned() {
		t.Fatal("expected unsigned flag set")
	}
}

func TestDecodeTextRowWithNull(t *testing.T) {
	w := wire.NewWriter()
	w.WriteLengthEncodedString([]byte("42"))
	raw := append(w.Bytes(), 0xFB) // NULL marker for second column

	vals, err := DecodeTextRow(wire.NewReader(raw), 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vals[0] == nil || *vals[0] != "42" {
		t.Fatalf("col0 = %v", vals[0])
	}
	if vals[1] != nil {
		t.Fatalf("col1 should be NULL, got %v", vals[1])
	}
}

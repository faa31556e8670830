package tds

import (
	"testing"

	"github.com/sqlbridge/sqlbridge/internal/wire"
)

func TestDecodeColMetadataTwoColumns(t *testing.T) {
	w := wire.NewWriter()
	w.WriteUint16LE(2)
	w.WriteUint16LE(0) // flags
	w.WriteByte(TypeInt4)
	w.WriteBVarchar("id")
	w.WriteUint16LE(0) // flags
	w.WriteByte(TypeBigVarChar)
	w.WriteUint16LE(50)
	w.WriteBytes(make([]byte, 5))
	w.WriteBVarchar("name")

	cols, err := DecodeColMetadata(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cols) != 2 || cols[0].Name != "id" || cols[1].Name != "name" {
		t.Fatalf("cols = %+v", cols)
	}
	if cols[0].Type.TypeID != TypeInt4 {
		t.Fatalf("col0 type = %x", cols[0].Type.TypeID)
	}
}

func TestDecodeRowIntAndVarchar(t *testing.T) {
	cols := []ColumnMeta{
		{Type: TypeInfo{TypeID: TypeInt4}},
		{Type: TypeInfo{TypeID: TypeBigVarChar, MaxLen: 50}},
	}
	w := wire.NewWriter()
	w.WriteUint32LE(42)
	w.WriteUint16LE(3)
	w.WriteBytes([]byte("abc"))

	vals, err := DecodeRow(wire.NewReader(w.Bytes()), cols)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, _ := vals[0].Int()
	if n != 42 {
		t.Fatalf("val0 = %d", n)
	}
	if vals[1].String() != "abc" {
		t.Fatalf("val1 = %q", vals[1].String())
	}
}

func TestDecodeNBCRowSkipsNullColumns(t *testing.T) {
	cols := []ColumnMeta{
		{Type: TypeInfo{TypeID: TypeInt4}},
		{Type: TypeInfo{TypeID: TypeInt4}},
	}
	w := wire.NewWriter()
	w.WriteByte(0x02) // bitmap: bit 1 set -> column 1 is NULL
	w.WriteUint32LE(7)

	vals, err := DecodeNBCRow(wire.NewReader(w.Bytes()), cols)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, _ := vals[0].Int()
	if n != 7 {
		t.Fatalf("val0 = %d", n)
	}
	if !vals[1].IsNull() {
		t.Fatal("val1 should be null")
	}
}

func TestDecodeDoneFinal(t *testing.T) {
	w := wire.NewWriter()
	w.WriteUint16LE(DoneCount)
	w.WriteUint16LE(0)
	w.WriteUint64LE(5)

	dt, err := DecodeDone(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dt.IsFinal || !dt.HasRowCount || dt.RowCount != 5 {
		t.Fatalf("dt = %+v", dt)
	}
}

func TestDecodeDoneMoreResultsPending(t *testing.T) {
	w := wire.NewWriter()
	w.WriteUint16LE(DoneMore)
	w.WriteUint16LE(0)
	w.WriteUint64LE(0)

	dt, err := DecodeDone(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dt.IsFinal {
		t.Fatal("expected not final")
	}
}

func TestDecodeServerMessageError(t *testing.T) {
	w := wire.NewWriter()
	w.WriteUint16LE(0) // length placeholder, unused by decoder
	w.WriteUint32LE(547)
	w.WriteByte(1) // state
	w.WriteByte(16) // class
	w.WriteUSVarchar("constraint violation")
	w.WriteBVarchar("SERVER1")
	w.WriteBVarchar("")
	w.WriteUint32LE(10)

	msg, err := DecodeServerMessage(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Number != 547 || msg.Message != "constraint violation" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestDecodeEnvChangeBeginTransaction(t *testing.T) {
	body := wire.NewWriter()
	body.WriteByte(EnvChangeBeginTransaction)
	body.WriteByte(8)
	body.WriteBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	body.WriteByte(0)

	w := wire.NewWriter()
	w.WriteUint16LE(uint16(len(body.Bytes())))
	w.WriteBytes(body.Bytes())

	ec, err := DecodeEnvChange(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ec.Type != EnvChangeBeginTransaction {
		t.Fatalf("type = %d", ec.Type)
	}
	if len(ec.NewValue) != 8 {
		t.Fatalf("new value len = %d", len(ec.NewValue))
	}
}

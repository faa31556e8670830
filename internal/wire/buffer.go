// Package wire implements the byte-level codec primitives shared by the
// TDS, PostgreSQL, and MySQL wire protocol packages: little/big-endian
// integers, length-prefixed strings, UTF-16LE conversion, MySQL
// length-encoded integers, and null-terminated strings.
package wire

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
)

// ErrShortBuffer is returned by the Reader helpers when fewer bytes
// remain than the operation requires.
var ErrShortBuffer = errors.New("wire: short buffer")

// Reader is a cursor over an in-memory frame payload. Every protocol
// decoder in this module reads from a fully-buffered logical message
// (see each package's framing.go), so Reader never blocks on I/O.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Remaining returns the unread tail of the buffer without consuming it.
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

// Bytes consumes and returns the next n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Skip advances the cursor by n bytes without returning them.
func (r *Reader) Skip(n int) error {
	_, err := r.Bytes(n)
	return err
}

// Byte consumes and returns the next byte.
func (r *Reader) Byte() (byte, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16LE consumes a little-endian 16-bit integer.
func (r *Reader) Uint16LE() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32LE consumes a little-endian 32-bit integer.
func (r *Reader) Uint32LE() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64LE consumes a little-endian 64-bit integer.
func (r *Reader) Uint64LE() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Uint16BE consumes a big-endian 16-bit integer.
func (r *Reader) Uint16BE() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32BE consumes a big-endian 32-bit integer.
func (r *Reader) Uint32BE() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// BVarchar consumes a TDS B_VARCHAR: a 1-byte character count followed
// by that many UTF-16LE characters.
func (r *Reader) BVarchar() (string, error) {
	n, err := r.Byte()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return UTF16LEToString(b), nil
}

// USVarchar consumes a TDS US_VARCHAR: a 2-byte little-endian character
// count followed by that many UTF-16LE characters.
func (r *Reader) USVarchar() (string, error) {
	n, err := r.Uint16LE()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return UTF16LEToString(b), nil
}

// NullTerminated consumes bytes up to and including the next 0x00 byte
// and returns everything before it.
func (r *Reader) NullTerminated() ([]byte, error) {
	tail := r.Remaining()
	for i, b := range tail {
		if b == 0 {
			out := tail[:i]
			r.pos += i + 1
			return out, nil
		}
	}
	return nil, ErrShortBuffer
}

// LengthEncodedInt consumes a MySQL length-encoded integer: a prefix
// byte selects 0/2/3/8 following bytes (0xFB is NULL, 0xFC/0xFD/0xFE
// select width, anything below 0xFB is the value itself).
//
// isNull is true when the encoding denotes SQL NULL (prefix 0xFB); the
// caller must check it before trusting the returned value.
func (r *Reader) LengthEncodedInt() (val uint64, isNull bool, err error) {
	first, err := r.Byte()
	if err != nil {
		return 0, false, err
	}
	switch {
	case first < 0xfb:
		return uint64(first), false, nil
	case first == 0xfb:
		return 0, true, nil
	case first == 0xfc:
		b, err := r.Bytes(2)
		if err != nil {
			return 0, false, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), false, nil
	case first == 0xfd:
		b, err := r.Bytes(3)
		if err != nil {
			return 0, false, err
		}
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16, false, nil
	case first == 0xfe:
		b, err := r.Bytes(8)
		if err != nil {
			return 0, false, err
		}
		return binary.LittleEndian.Uint64(b), false, nil
	default:
		return 0, false, ErrShortBuffer
	}
}

// LengthEncodedString consumes a MySQL length-encoded string: a
// length-encoded integer byte count followed by that many raw bytes.
// isNull is true when the length encoding denotes SQL NULL.
func (r *Reader) LengthEncodedString() (s []byte, isNull bool, err error) {
	n, isNull, err := r.LengthEncodedInt()
	if err != nil || isNull {
		return nil, isNull, err
	}
	b, err := r.Bytes(int(n))
	return b, false, err
}

// Writer accumulates an outgoing wire payload.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// WriteBytes appends raw bytes verbatim.
func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteUint16LE appends a little-endian 16-bit integer.
func (w *Writer) WriteUint16LE(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

// WriteUint32LE appends a little-endian 32-bit integer.
func (w *Writer) WriteUint32LE(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// WriteUint64LE appends a little-endian 64-bit integer.
func (w *Writer) WriteUint64LE(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteUint16BE appends a big-endian 16-bit integer.
func (w *Writer) WriteUint16BE(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

// WriteUint32BE appends a big-endian 32-bit integer.
func (w *Writer) WriteUint32BE(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteBVarchar appends a TDS B_VARCHAR: 1-byte character count then
// UTF-16LE bytes.
func (w *Writer) WriteBVarchar(s string) {
	u := StringToUTF16LE(s)
	w.buf = append(w.buf, byte(len(u)/2))
	w.buf = append(w.buf, u...)
}

// WriteUSVarchar appends a TDS US_VARCHAR: 2-byte little-endian
// character count then UTF-16LE bytes.
func (w *Writer) WriteUSVarchar(s string) {
	u := StringToUTF16LE(s)
	w.WriteUint16LE(uint16(len(u) / 2))
	w.buf = append(w.buf, u...)
}

// WriteNullTerminated appends b followed by a single 0x00 byte.
func (w *Writer) WriteNullTerminated(b []byte) {
	w.buf = append(w.buf, b...)
	w.buf = append(w.buf, 0)
}

// WriteLengthEncodedInt appends a MySQL length-encoded integer.
func (w *Writer) WriteLengthEncodedInt(v uint64) {
	switch {
	case v < 251:
		w.buf = append(w.buf, byte(v))
	case v < 1<<16:
		w.buf = append(w.buf, 0xfc, byte(v), byte(v>>8))
	case v < 1<<24:
		w.buf = append(w.buf, 0xfd, byte(v), byte(v>>8), byte(v>>16))
	default:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		w.buf = append(w.buf, 0xfe)
		w.buf = append(w.buf, b[:]...)
	}
}

// WriteLengthEncodedString appends a MySQL length-encoded string.
func (w *Writer) WriteLengthEncodedString(s []byte) {
	w.WriteLengthEncodedInt(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// UTF16LEToString decodes a UTF-16LE byte slice (even length) into a
// Go string.
func UTF16LEToString(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// StringToUTF16LE encodes a Go string into UTF-16LE bytes.
func StringToUTF16LE(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	out := make([]byte, len(u16)*2)
	for i, u := range u16 {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

package storage

import (
	"encoding/binary"
)

// ───────────────────────────────────────────────────────────────────────────
// Storable codec
// ───────────────────────────────────────────────────────────────────────────
//
// One encoding discipline for every small fixed-layout record in the
// engine: little-endian integers and uint16-length-prefixed byte strings.
// Descriptor-page tuples, WAL records, and the id allocator's counter
// marshal through these helpers; catalog rows are encoded by package
// datatype, which follows the same little-endian, uint16-prefix layout.

// AppendU16 appends v in little-endian order.
func AppendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

// AppendU32 appends v in little-endian order.
func AppendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// AppendU64 appends v in little-endian order.
func AppendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// AppendBytes16 appends a uint16 length prefix followed by b.
func AppendBytes16(buf []byte, b []byte) []byte {
	buf = AppendU16(buf, uint16(len(b)))
	return append(buf, b...)
}

// Reader walks a byte slice, decoding Storable-encoded fields with
// bounds checks. Each accessor returns ErrInvalidData on a short read.
type Reader struct {
	data []byte
	off  int
}

// NewReader wraps data for sequential decoding.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining reports how many bytes are left to decode.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, Errf(ErrInvalidData, "record truncated at offset %d (want %d bytes, have %d)",
			r.off, n, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// U8 decodes one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 decodes a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 decodes a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 decodes a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Bytes16 decodes a uint16-length-prefixed byte string. The returned
// slice aliases the underlying data.
func (r *Reader) Bytes16() ([]byte, error) {
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

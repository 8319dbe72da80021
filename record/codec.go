// Package record defines the capability a record type must provide to be
// sorted externally: a fixed on-disk width, a total order, and bit-exact
// serialization. The on-disk form is a contiguous packed array of records in
// host byte order.
package record

import "encoding/binary"

// Codec describes one fixed-width record type T.
//
// Size must be constant for the lifetime of the codec. Compare returns a
// negative number when a < b, zero when equal, positive when a > b. Encode
// writes exactly Size bytes into dst; Decode reads exactly Size bytes from
// src. Neither may retain its argument slice.
type Codec[T any] interface {
	Size() int
	Compare(a, b T) int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

// EncodeBatch packs recs into a single contiguous buffer, reusing buf's
// capacity when possible. One buffer per batch keeps the write path at one
// syscall-sized copy instead of a write per record.
func EncodeBatch[T any](c Codec[T], recs []T, buf []byte) []byte {
	size := c.Size()
	need := len(recs) * size
	if cap(buf) < need {
		buf = make([]byte, need)
	} else {
		buf = buf[:need]
	}
	for i, rec := range recs {
		c.Encode(buf[i*size:(i+1)*size], rec)
	}
	return buf
}

// DecodeBatch appends every whole record in buf to dst. len(buf) must be a
// multiple of the record width.
func DecodeBatch[T any](c Codec[T], buf []byte, dst []T) []T {
	size := c.Size()
	for off := 0; off+size <= len(buf); off += size {
		dst = append(dst, c.Decode(buf[off:off+size]))
	}
	return dst
}

// U64 orders unsigned 64-bit records ascending.
type U64 struct{}

func (U64) Size() int { return 8 }

func (U64) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (U64) Encode(dst []byte, v uint64) { binary.NativeEndian.PutUint64(dst, v) }

func (U64) Decode(src []byte) uint64 { return binary.NativeEndian.Uint64(src) }

// I64 orders signed 64-bit records ascending.
type I64 struct{}

func (I64) Size() int { return 8 }

func (I64) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (I64) Encode(dst []byte, v int64) { binary.NativeEndian.PutUint64(dst, uint64(v)) }

func (I64) Decode(src []byte) int64 { return int64(binary.NativeEndian.Uint64(src)) }

// U32 orders unsigned 32-bit records ascending.
type U32 struct{}

func (U32) Size() int { return 4 }

func (U32) Compare(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (U32) Encode(dst []byte, v uint32) { binary.NativeEndian.PutUint32(dst, v) }

func (U32) Decode(src []byte) uint32 { return binary.NativeEndian.Uint32(src) }

package iblt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidData is returned when serialized table data does not match the
// table's dimensions.
var ErrInvalidData = errors.New("iblt: invalid serialized data")

// Bytes returns the wire encoding of the table. See AppendBytes.
func (t *Table) Bytes() []byte {
	return t.AppendBytes(make([]byte, 0, t.SizeBytes()))
}

// AppendBytes appends the wire encoding of the table to dst and returns the
// extended slice. The encoding is exactly SizeBytes long and consists of
// three regions with no header:
//   - checksums (Buckets * 4 bytes): little-endian uint32 per bucket
//   - counts (Buckets bytes): two's complement int8 per bucket
//   - keys (Buckets * ItemBytes bytes): bucket keys concatenated
//
// Dimensions are not encoded; both ends must agree on them.
func (t *Table) AppendBytes(dst []byte) []byte {
	dst = slices.Grow(dst, t.SizeBytes())
	for _, c := range t.checkHash {
		dst = binary.LittleEndian.AppendUint32(dst, c)
	}
	for _, c := range t.count {
		dst = append(dst, byte(c))
	}
	return append(dst, t.key...)
}

// MarshalBinary implements encoding.BinaryMarshaler. It never fails.
func (t *Table) MarshalBinary() ([]byte, error) {
	return t.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The table's
// dimensions are kept and data must be exactly SizeBytes long; any content
// of the right length is accepted.
func (t *Table) UnmarshalBinary(data []byte) error {
	if len(data) != t.SizeBytes() {
		return fmt.Errorf("%w: got %d bytes, %s needs %d", ErrInvalidData, len(data), t, t.SizeBytes())
	}

	off := 0
	for i := range t.checkHash {
		t.checkHash[i] = binary.LittleEndian.Uint32(data[off : off+checkBytes])
		off += checkBytes
	}
	for i := range t.count {
		t.count[i] = int8(data[off])
		off += countBytes
	}
	copy(t.key, data[off:])
	return nil
}

// FromBytes decodes a table with the given dimensions from its wire
// encoding. It returns false if buf is not exactly SizeBytes(buckets,
// itemBytes) long. The returned table owns its memory; buf is not retained.
func FromBytes(buckets, itemBytes, hashes int, buf []byte, opts ...Option) (*Table, bool) {
	if buckets <= 0 || itemBytes <= 0 || hashes <= 0 || len(buf) != SizeBytes(buckets, itemBytes) {
		return nil, false
	}
	t := New(buckets, itemBytes, hashes, opts...)
	if err := t.UnmarshalBinary(buf); err != nil {
		return nil, false
	}
	return t, true
}

// Equal reports whether t and other have the same dimensions and identical
// bucket contents, i.e. whether their wire encodings are equal.
func (t *Table) Equal(other *Table) bool {
	if t == other {
		return true
	}
	if other == nil || !t.sameDimensions(other) {
		return false
	}
	return slices.Equal(t.checkHash, other.checkHash) &&
		slices.Equal(t.count, other.count) &&
		slices.Equal(t.key, other.key)
}

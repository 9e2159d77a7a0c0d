package iblt

import (
	"crypto/subtle"
	"fmt"

	"go.uber.org/zap"
)

// Table is an Invertible Bloom Lookup Table over fixed-size item keys.
//
// Each of the Buckets slots accumulates the XOR of the keys hashed into it,
// the XOR of their CRC-32 checksums, and a signed count of net insertions.
// Two tables with identical dimensions can be subtracted and the result
// decoded with List to recover the symmetric difference of the two sets.
//
// Table is not safe for concurrent use.
type Table struct {
	buckets   int      // Number of buckets
	itemBytes int      // Length of every item key
	hashes    int      // Buckets touched per item
	checkHash []uint32 // XOR of item checksums, one per bucket
	count     []int8   // Net insert/remove count, wraps on overflow
	key       []byte   // XOR of item keys, itemBytes per bucket
	logger    *zap.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger used to report incomplete or aborted decodes.
// Tables log nothing by default.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// New creates a zeroed table with the given dimensions. It panics if any
// dimension is not positive.
//
// Use BucketsFor to size the table from the expected difference and
// DefaultHashes for hashes.
func New(buckets, itemBytes, hashes int, opts ...Option) *Table {
	if buckets <= 0 || itemBytes <= 0 || hashes <= 0 {
		panic(fmt.Sprintf("iblt: invalid dimensions buckets=%d itemBytes=%d hashes=%d",
			buckets, itemBytes, hashes))
	}

	t := &Table{
		buckets:   buckets,
		itemBytes: itemBytes,
		hashes:    hashes,
		checkHash: make([]uint32, buckets),
		count:     make([]int8, buckets),
		key:       make([]byte, buckets*itemBytes),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reset zeroes every bucket in place.
func (t *Table) Reset() {
	clear(t.checkHash)
	clear(t.count)
	clear(t.key)
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	c := *t
	c.checkHash = make([]uint32, len(t.checkHash))
	c.count = make([]int8, len(t.count))
	c.key = make([]byte, len(t.key))
	copy(c.checkHash, t.checkHash)
	copy(c.count, t.count)
	copy(c.key, t.key)
	return &c
}

// Insert adds key to the table. Only the first ItemBytes bytes of key are
// used; Insert panics if key is shorter than that.
func (t *Table) Insert(key []byte) {
	t.mutate(key, 1)
}

// Remove removes key from the table. Removing a key that was never inserted
// is allowed and leaves the table holding a negative entry for it, which
// decodes with local set to false.
func (t *Table) Remove(key []byte) {
	t.mutate(key, -1)
}

func (t *Table) mutate(key []byte, delta int8) {
	if len(key) < t.itemBytes {
		panic(fmt.Sprintf("iblt: key is %d bytes, table requires %d", len(key), t.itemBytes))
	}
	key = key[:t.itemBytes]
	check := checksum(key)
	idx := seed(check)
	for rangeI := 0; rangeI < t.hashes; rangeI++ {
		var b int
		idx, b = nextBucket(idx, t.buckets)
		t.apply(b, check, delta, key)
	}
}

// apply folds one item's contribution into bucket b. Adding and removing
// are the same operation with opposite delta.
func (t *Table) apply(b int, check uint32, delta int8, key []byte) {
	t.checkHash[b] ^= check
	t.count[b] += delta
	xorBytes(t.bucketKey(b), key)
}

// Subtract replaces t with the difference t - other. After subtraction,
// decoding yields items only in t with local set to true and items only in
// other with local set to false. It panics if the dimensions differ.
func (t *Table) Subtract(other *Table) {
	if !t.sameDimensions(other) {
		panic(fmt.Sprintf("iblt: subtracting %s from %s", other, t))
	}
	for i := range t.checkHash {
		t.checkHash[i] ^= other.checkHash[i]
		t.count[i] -= other.count[i]
	}
	xorBytes(t.key, other.key)
}

// IsEmpty reports whether every bucket is zero.
func (t *Table) IsEmpty() bool {
	for i := range t.checkHash {
		if t.checkHash[i] != 0 || t.count[i] != 0 {
			return false
		}
	}
	for _, b := range t.key {
		if b != 0 {
			return false
		}
	}
	return true
}

// Buckets returns the number of buckets.
func (t *Table) Buckets() int {
	return t.buckets
}

// ItemBytes returns the length of the keys stored in the table.
func (t *Table) ItemBytes() int {
	return t.itemBytes
}

// Hashes returns the number of buckets each item is added to.
func (t *Table) Hashes() int {
	return t.hashes
}

// SizeBytes returns the serialized size of the table in bytes.
func (t *Table) SizeBytes() int {
	return SizeBytes(t.buckets, t.itemBytes)
}

func (t *Table) bucketKey(b int) []byte {
	off := b * t.itemBytes
	return t.key[off : off+t.itemBytes]
}

func (t *Table) sameDimensions(other *Table) bool {
	return t.buckets == other.buckets &&
		t.itemBytes == other.itemBytes &&
		t.hashes == other.hashes
}

// String returns the table dimensions, e.g. "iblt<64,16,3>".
func (t *Table) String() string {
	return fmt.Sprintf("iblt<%d,%d,%d>", t.buckets, t.itemBytes, t.hashes)
}

// xorBytes sets dst[i] ^= src[i] for every i in src.
func xorBytes(dst, src []byte) {
	subtle.XORBytes(dst, dst, src)
}

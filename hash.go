package iblt

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

// checksum computes the CRC-32 (IEEE) of an item key. The same value is
// stored in every bucket the key lands in and is used to verify purity
// during decoding.
func checksum(key []byte) uint32 {
	return crc32.ChecksumIEEE(key)
}

// mix32 is the MurmurHash3 32-bit finalizer.
func mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x85ebca6b
	x ^= x >> 13
	x *= 0xc2b2ae35
	x ^= x >> 16
	return x
}

// seed returns the starting index of the bucket walk for an item checksum.
func seed(check uint32) uint32 {
	return check + 1
}

// nextBucket advances the bucket walk by one round and returns the new walk
// state along with the selected bucket. A single checksum seeds the whole
// walk, so hashes rounds cost hashes mix32 calls and no rehashing of the
// key. The same bucket may be selected by more than one round.
func nextBucket(idx uint32, buckets int) (uint32, int) {
	idx = mix32(idx)
	return idx, int(uint64(idx) % uint64(buckets))
}

// ContentKey derives a 16-byte item key from arbitrary data using XXH3-128.
// It is meant for tables constructed with ItemBytes of 16 whose items are
// not already fixed-size digests.
func ContentKey(data []byte) [16]byte {
	return keyFrom128(xxh3.Hash128(data))
}

// ContentKeyString is like ContentKey but avoids converting s to a byte slice.
func ContentKeyString(s string) [16]byte {
	return keyFrom128(xxh3.HashString128(s))
}

func keyFrom128(h xxh3.Uint128) [16]byte {
	var k [16]byte
	binary.BigEndian.PutUint64(k[0:8], h.Hi)
	binary.BigEndian.PutUint64(k[8:16], h.Lo)
	return k
}

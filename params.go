package iblt

import "math"

const (
	// DefaultHashes is the recommended number of buckets per item.
	DefaultHashes = 3
	// MaxFill is the fraction of Buckets that can be filled with distinct
	// differing items while still decoding with high probability when
	// DefaultHashes is used.
	MaxFill = 0.75
	// checkBytes and countBytes are the per-bucket widths of the checksum
	// and count regions on the wire.
	checkBytes = 4
	countBytes = 1
)

// SizeBytes returns the serialized length of a table with the given
// dimensions: buckets * (itemBytes + 5).
func SizeBytes(buckets, itemBytes int) int {
	return buckets * (itemBytes + checkBytes + countBytes)
}

// BucketsFor returns the number of buckets needed to decode a symmetric
// difference of up to expectedDiff items at MaxFill.
func BucketsFor(expectedDiff uint64) int {
	if expectedDiff == 0 {
		expectedDiff = 1
	}
	buckets := int(math.Ceil(float64(expectedDiff) / MaxFill))
	// Never fewer buckets than hashes, otherwise every item lands in the
	// same handful of buckets.
	return max(buckets, DefaultHashes)
}

// MaxDifference returns the largest symmetric difference a table with the
// given number of buckets is expected to decode.
func MaxDifference(buckets int) uint64 {
	if buckets <= 0 {
		return 0
	}
	return uint64(math.Floor(float64(buckets) * MaxFill))
}

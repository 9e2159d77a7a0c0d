// Package iblt provides an Invertible Bloom Lookup Table for set
// reconciliation between peers.
//
// Two peers each holding a large set of fixed-size keys (typically content
// hashes) can learn exactly which keys the other is missing while exchanging
// data proportional only to the size of the difference, not the size of
// either set.
//
// # Architecture
//
// A [Table] has a fixed number of buckets. Every bucket accumulates three
// values from the items hashed into it:
//
//   - the XOR of the items' CRC-32 checksums
//   - a signed count of insertions minus removals
//   - the XOR of the items' raw key bytes
//
// Each item is added to [Table.Hashes] buckets. The buckets are chosen from
// the item's checksum alone: the checksum seeds a chain of MurmurHash3
// finalizer rounds and every round selects one bucket. This avoids hashing
// the key more than once per insert.
//
// A bucket holding exactly one item (count of +1 or -1, and a key whose
// checksum matches the stored one) is called pure. Decoding repeatedly takes
// a pure bucket, reports its key, and removes the key from its other
// buckets, which may in turn make them pure. This process is called peeling.
//
// # Reconciliation
//
//	local := iblt.New(iblt.BucketsFor(expectedDiff), 16, iblt.DefaultHashes)
//	for _, k := range localKeys {
//		local.Insert(k)
//	}
//
//	remote, ok := iblt.FromBytes(local.Buckets(), 16, iblt.DefaultHashes, received)
//	if !ok {
//		// malformed input from the peer
//	}
//
//	local.Subtract(remote)
//	complete := local.List(func(key []byte, onlyLocal bool) {
//		// onlyLocal: the peer is missing key
//		// !onlyLocal: we are missing key
//	})
//
// When complete is false the table was too small for the actual difference.
// Keys already reported are still valid; fall back to another strategy for
// the rest.
//
// # Choosing Parameters
//
// Size the table from the expected symmetric difference, not from the set
// size. With [DefaultHashes] (3) a table decodes reliably while the number
// of differing items stays under [MaxFill] (75%) of the bucket count.
// [BucketsFor] and [MaxDifference] convert between the two.
//
// # Wire Format
//
// [Table.Bytes] produces exactly [SizeBytes] = buckets * (itemBytes + 5)
// bytes in three contiguous regions: the checksums as little-endian uint32s,
// the counts as int8s, then the keys. There is no header; both peers must
// agree on the dimensions. Any byte string of the right length decodes to a
// valid table, and decoding a corrupt table never panics.
//
// # Thread Safety
//
// [Table] is NOT thread-safe. [Table.List] is destructive: [Table.Clone] the
// table before decoding if it is needed afterwards, or use [Table.Decode].
//
// # References
//
//   - Invertible Bloom Lookup Tables: https://arxiv.org/abs/1101.2245
//   - What's the Difference? Efficient Set Reconciliation without Prior Context:
//     https://www.ics.uci.edu/~eppstein/pubs/EppGooUye-SIGCOMM-11.pdf
package iblt

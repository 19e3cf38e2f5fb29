// Package hashfn computes the 64-bit FNV-1a hashes OpenCluster uses to
// address maps and keys. The constants and byte order are part of the
// wire contract: two nodes must compute the same map_hash/key_hash for
// the same input or they will disagree about bucket ownership.
package hashfn

import (
	"encoding/binary"
	"hash/fnv"
)

// Hash returns the 64-bit FNV-1a hash of s.
//
// hash/fnv is standard library, not a third-party dependency; it is
// used here instead of an ecosystem hashing library because the wire
// format requires the canonical FNV-1a-64 algorithm byte for byte, and
// the standard library's implementation already is that algorithm.
// Reaching for a third-party hash package would add a dependency
// without changing a single output bit.
func Hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// HashBytes returns the 64-bit FNV-1a hash of b.
func HashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// HashUint64 returns the hash of the 8-byte big-endian encoding of v.
// This is how OpenCluster derives a key_hash/map_hash for a caller
// that already has a 64-bit integer rather than a string.
func HashUint64(v uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return HashBytes(buf[:])
}

// BucketIndex returns the bucket index that keyHash maps to under mask.
func BucketIndex(keyHash, mask uint64) uint64 {
	return keyHash & mask
}

// Copyright 2026 The QMDB Authors
// This file is part of QMDB.
//
// QMDB is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// QMDB is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with QMDB. If not, see <http://www.gnu.org/licenses/>.

// Package keyhash derives the collision-resistant full hash and the 64-bit
// short hash (spec section 3, "Indexer") shared by the indexer, the
// updater's hash-ring maintenance, and exclusion proofs.
package keyhash

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Full is the 32-byte SHA3-256 (FIPS 202) digest of a key. It is collision-resistant
// and is what the indexer's shard buckets verify a short-hash hit against.
type Full [32]byte

// HashKey returns the full digest of key.
func HashKey(key []byte) Full {
	return Full(sha3.Sum256(key))
}

// Short returns the 64-bit prefix of full used to shard and index the key.
// The top 16 bits select one of 65,536 indexer shards (spec section 4.2);
// the remaining 48 bits (the "suffix") disambiguate within a shard bucket.
func Short(full Full) uint64 {
	return binary.BigEndian.Uint64(full[:8])
}

// ShardOf returns the shard id (0..65535) that owns short hash h.
func ShardOf(h uint64) uint16 {
	return uint16(h >> 48)
}

// Suffix returns the 48 bits of h not used for sharding, i.e. the value
// stored alongside the offset in a shard bucket to disambiguate short-hash
// collisions (spec section 3: "each bucket stores a small list of
// (full_hash_suffix, offset) pairs").
func Suffix(h uint64) uint64 {
	return h & 0x0000FFFFFFFFFFFF
}

// ShortOf is a convenience composing HashKey and Short.
func ShortOf(key []byte) uint64 {
	return Short(HashKey(key))
}

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

// Package indexer maps short key hashes to EntryFile offsets (spec section
// 4.2). Both variants (in-memory and hybrid SSD+RAM) satisfy the single
// Indexer capability set named in spec section 9's design notes:
// get/put/remove/successor/commit_generation — callers pick the variant at
// engine-open time and never branch on which one they got.
package indexer

import "errors"

// ErrNotFound names the no-successor condition. Neither Indexer variant
// returns it: NextHashGE reports a miss as ok == false with a nil error.
var ErrNotFound = errors.New("indexer: no successor")

// ShardCount is the number of shards, selected by the top 16 bits of a
// 64-bit short hash (spec section 4.2).
const ShardCount = 1 << 16

// Offset identifies one candidate match for a short hash: the short hash's
// full value (so NextHashGE can report it) and the EntryFile offset of the
// entry. Multiple Offsets can share a short hash when short hashes
// collide; callers verify the true key by reading the pointed-to entry.
type Offset struct {
	ShortHash uint64
	Off       uint64
}

// Indexer is the capability set both variants implement.
type Indexer interface {
	// Get returns every (shortHash, offset) pair stored under shortHash.
	Get(shortHash uint64) ([]Offset, error)
	// Put inserts or adds an (shortHash, offset) pair.
	Put(shortHash uint64, off uint64) error
	// Remove deletes the specific (shortHash, offset) pair.
	Remove(shortHash uint64, off uint64) error
	// NextHashGE returns the smallest stored short hash >= shortHash and
	// one of its offsets, used for exclusion proofs and next_key_hash
	// maintenance (spec section 4.2).
	NextHashGE(shortHash uint64) (Offset, bool, error)
	// CommitGeneration publishes buffered mutations atomically, advancing
	// the generation counter readers observe (spec section 4.5: "All
	// indexer mutations for a block are buffered and made visible
	// atomically at commit").
	CommitGeneration() (uint64, error)
	// PeekNextGeneration returns the generation number the next
	// CommitGeneration call would produce, without publishing anything.
	// Flusher.Commit uses this to record the post-commit generation in the
	// same MetaDB transaction that makes the block durable, before the
	// indexer itself is told to publish (spec sections 4.6 and 9: MetaDB
	// commits before indexer generations become visible to readers).
	PeekNextGeneration() uint64
	// TotalKeys returns the number of distinct live (shortHash, offset)
	// pairs, used by spec section 8 invariant 3.
	TotalKeys() int
	// Close releases any resources (file handles, caches) held open.
	Close() error
}

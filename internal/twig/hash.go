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

// Package twig implements spec section 4.3: the hybrid in-RAM/on-disk
// Merkle tree over twigs of 2048 entries each, plus the in-RAM upper tree
// above twig roots.
package twig

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Hash is the fixed 32-byte node hash (spec section 4.3.3: "treat as
// 32-byte opaque").
type Hash [32]byte

// TwigLeaves is 2^11, the number of entries a twig covers.
const TwigLeaves = 2048

// TwigLevels is log2(TwigLeaves), the depth of one twig's subtree.
const TwigLevels = 11

var (
	domainTagTwigRoot   = []byte("QMDB:twig-root")
	domainTagActiveLeaf = []byte("QMDB:active-leaf")
	domainTagEmptyLeaf  = []byte("QMDB:empty-leaf")
)

func keccak(parts ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// NodeHash combines two child hashes: H(left || right).
func NodeHash(left, right Hash) Hash {
	return keccak(left[:], right[:])
}

// EntryLeafHash is the entry-hash-subtree leaf for one serial number: the
// hash of the entry's encoded frame.
func EntryLeafHash(entryFrame []byte) Hash {
	return keccak(entryFrame)
}

// ActiveLeafHash hashes a single active bit with a domain separator, per
// spec section 4.3.3 ("Active-bit leaves hash a 256-bit word").
func ActiveLeafHash(active bool) Hash {
	var word [1]byte
	if active {
		word[0] = 1
	}
	return keccak(domainTagActiveLeaf, word[:])
}

// CombineTwigRoot implements the twig-root combiner: H(entry_root ||
// active_root || domain_tag).
func CombineTwigRoot(entryRoot, activeRoot Hash) Hash {
	return keccak(entryRoot[:], activeRoot[:], domainTagTwigRoot)
}

// emptySubtree[k] is the deterministic hash of an empty subtree of height k
// (k=0 is a single empty leaf), precomputed once.
var emptySubtree [64]Hash

func init() {
	emptySubtree[0] = keccak(domainTagEmptyLeaf)
	for i := 1; i < len(emptySubtree); i++ {
		emptySubtree[i] = NodeHash(emptySubtree[i-1], emptySubtree[i-1])
	}
}

// EmptySubtreeHash returns the canonical hash of an empty subtree of the
// given height (0 = leaf).
func EmptySubtreeHash(height int) Hash {
	return emptySubtree[height]
}

// EmptyTwigRoot returns the empty-twig-root placeholder used by prune_twig
// (spec section 4.3.2: "its slot becomes a distinguished 'empty' hash").
// All pruned twigs collapse to the same constant so the upper tree need not
// remember which twig used to occupy the slot.
func EmptyTwigRoot() Hash {
	return emptySubtree[TwigLevels]
}

func putUint64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

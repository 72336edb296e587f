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

// Package proof builds and verifies inclusion and exclusion proofs against
// a block's root (spec section 4.3.3 and the Data Model's "proof"
// discussion). Verification never trusts a prover-supplied intermediate
// hash: every node on the path is re-derived from the leaf's own encoded
// bytes and the sibling hashes the prover supplies.
package proof

import (
	"bytes"
	"fmt"

	"github.com/ardaglobal/qmdb/internal/codec"
	"github.com/ardaglobal/qmdb/internal/keyhash"
	"github.com/ardaglobal/qmdb/internal/twig"
)

// Kind distinguishes an inclusion proof (the key has a live entry) from an
// exclusion proof (it provably does not).
type Kind int

const (
	Inclusion Kind = iota
	Exclusion
)

// EntryWitness is everything needed to fold one entry's encoded frame up
// to its twig root: the frame itself, its position, and the three sibling
// paths spec section 4.3.3 names (entry subtree, active-bit subtree, upper
// tree).
type EntryWitness struct {
	Frame      []byte // the entry's own encoded bytes
	TwigID     uint64
	LeafIdx    int
	EntryPath  []twig.Hash // entry-hash-subtree siblings, leaf to (excl.) twig root
	ActivePath []twig.Hash // active-bit-subtree siblings, leaf to (excl.) twig root
	Active     bool        // whether this entry's own active bit is set
	UpperPath  []twig.Hash // upper-tree siblings, twig leaf to (excl.) block root
}

// Root folds w up to a block root, independent of whether the caller
// believes that root is the one a proof needs to match — callers compare
// the result against the expected root themselves.
func (w *EntryWitness) Root() (twig.Hash, error) {
	if len(w.EntryPath) != twig.TwigLevels || len(w.ActivePath) != twig.TwigLevels {
		return twig.Hash{}, fmt.Errorf("proof: expected %d levels of entry/active path, got %d/%d",
			twig.TwigLevels, len(w.EntryPath), len(w.ActivePath))
	}
	entryRoot := foldPath(twig.EntryLeafHash(w.Frame), w.LeafIdx, w.EntryPath)
	activeRoot := foldPath(twig.ActiveLeafHash(w.Active), w.LeafIdx, w.ActivePath)
	twigRoot := twig.CombineTwigRoot(entryRoot, activeRoot)
	return foldPath(twigRoot, int(w.TwigID), w.UpperPath), nil
}

// foldPath combines leaf up through siblings, using idx's bits to decide
// left/right at each level (idx even => leaf/current is the left child).
func foldPath(leaf twig.Hash, idx int, siblings []twig.Hash) twig.Hash {
	h := leaf
	for _, sib := range siblings {
		if idx&1 == 0 {
			h = twig.NodeHash(h, sib)
		} else {
			h = twig.NodeHash(sib, h)
		}
		idx >>= 1
	}
	return h
}

// InclusionProof demonstrates that key's live value is val, anchored at
// Root.
type InclusionProof struct {
	Key     []byte
	Entry   EntryWitness
	Root    twig.Hash
}

// Verify re-derives Root from Entry and checks the decoded frame's key and
// liveness match the claim.
func (p *InclusionProof) Verify() (value []byte, err error) {
	e, _, err := codec.Decode(p.Entry.Frame)
	if err != nil {
		return nil, fmt.Errorf("proof: decode entry: %w", err)
	}
	if !bytes.Equal(e.Key, p.Key) {
		return nil, fmt.Errorf("proof: entry key does not match claimed key")
	}
	if !p.Entry.Active {
		return nil, fmt.Errorf("proof: entry is not marked active")
	}
	got, err := p.Entry.Root()
	if err != nil {
		return nil, err
	}
	if got != p.Root {
		return nil, fmt.Errorf("proof: computed root does not match expected root")
	}
	return e.Value, nil
}

// ExclusionProof demonstrates that key has no live entry, by exhibiting its
// would-be ring predecessor: a live entry P whose next_key_hash names a
// hash strictly after key's hash (or P's own hash is the ring's maximum
// and key's hash exceeds it, the wraparound case), with nothing live in
// between.
type ExclusionProof struct {
	KeyHash      [32]byte
	Predecessor  EntryWitness
	Root         twig.Hash
}

// Verify re-derives Root from Predecessor and checks the ring-adjacency
// condition: predecessor's hash < KeyHash < predecessor's next_key_hash,
// with wraparound when predecessor's next_key_hash <= predecessor's own
// hash (the ring's single wrap point).
func (p *ExclusionProof) Verify() error {
	e, _, err := codec.Decode(p.Predecessor.Frame)
	if err != nil {
		return fmt.Errorf("proof: decode predecessor entry: %w", err)
	}
	if !p.Predecessor.Active {
		return fmt.Errorf("proof: predecessor entry is not active")
	}
	if len(e.NextKeyHash) != 32 {
		return fmt.Errorf("proof: predecessor next_key_hash is not 32 bytes")
	}
	if len(e.Key) == 0 {
		return fmt.Errorf("proof: predecessor entry has no key")
	}

	got, err := p.Predecessor.Root()
	if err != nil {
		return err
	}
	if got != p.Root {
		return fmt.Errorf("proof: computed root does not match expected root")
	}

	predecessorKeyHash := keyhash.HashKey(e.Key)
	var next [32]byte
	copy(next[:], e.NextKeyHash)
	if !ringBetween([32]byte(predecessorKeyHash), p.KeyHash, next) {
		return fmt.Errorf("proof: key hash is not between predecessor and its successor in ring order")
	}
	return nil
}

// ringBetween reports whether x lies strictly between lo and hi walking
// forward (ascending, wrapping past the maximum back to zero) — lo < x < hi
// in ring order, handling the single wrap point where hi <= lo.
func ringBetween(lo, x, hi [32]byte) bool {
	if bytes.Equal(lo, x[:]) || bytes.Equal(hi, x[:]) {
		return false
	}
	if bytes.Compare(lo[:], hi[:]) < 0 {
		return bytes.Compare(lo[:], x[:]) < 0 && bytes.Compare(x[:], hi[:]) < 0
	}
	// hi <= lo: the ring wraps between them.
	return bytes.Compare(lo[:], x[:]) < 0 || bytes.Compare(x[:], hi[:]) < 0
}

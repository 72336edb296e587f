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

package twig

// subtree is a complete binary tree over TwigLeaves leaves, stored 1-indexed
// (root at index 1, leaves at [TwigLeaves, 2*TwigLeaves)). Only internal
// nodes [1, TwigLeaves) are persisted to TwigFile; leaves are always
// re-derived from the entry log or ActiveBits.
type subtree struct {
	nodes [2 * TwigLeaves]Hash
}

func (s *subtree) setLeaf(idx int, h Hash) {
	s.nodes[TwigLeaves+idx] = h
}

func (s *subtree) leaf(idx int) Hash {
	return s.nodes[TwigLeaves+idx]
}

// recomputePath recomputes internal nodes from a changed leaf up to the
// root, returning the new root.
func (s *subtree) recomputePath(leafIdx int) Hash {
	i := (TwigLeaves + leafIdx) / 2
	for i >= 1 {
		left, right := s.nodes[2*i], s.nodes[2*i+1]
		s.nodes[i] = NodeHash(left, right)
		i /= 2
	}
	return s.nodes[1]
}

func (s *subtree) root() Hash { return s.nodes[1] }

// internalNodes returns the 2047 persisted internal-node hashes, index 1
// first (root) through index TwigLeaves-1 last, matching the TwigFile
// layout in spec section 6.
func (s *subtree) internalNodes() []Hash {
	return s.nodes[1:TwigLeaves]
}

func (s *subtree) setInternalNodes(nodes []Hash) {
	copy(s.nodes[1:TwigLeaves], nodes)
}

// Twig is one 2048-leaf twig: an entry-hash subtree and an active-bit
// subtree, combined through CombineTwigRoot (spec section 4.3.1).
type Twig struct {
	ID     uint64
	Sealed bool

	entry  subtree
	active subtree
	root   Hash
}

// NewTwig creates an empty twig (all leaves at the canonical empty hash)
// ready to receive appends at leaf index 0.
func NewTwig(id uint64) *Twig {
	t := &Twig{ID: id}
	empty := EmptySubtreeHash(0)
	for i := 0; i < TwigLeaves; i++ {
		t.entry.nodes[TwigLeaves+i] = empty
		t.active.nodes[TwigLeaves+i] = empty
	}
	t.rebuildFull()
	return t
}

func (t *Twig) rebuildFull() {
	for i := TwigLeaves - 1; i >= 1; i-- {
		t.entry.nodes[i] = NodeHash(t.entry.nodes[2*i], t.entry.nodes[2*i+1])
		t.active.nodes[i] = NodeHash(t.active.nodes[2*i], t.active.nodes[2*i+1])
	}
	t.root = CombineTwigRoot(t.entry.root(), t.active.root())
}

// SetEntryLeaf sets the entry-hash leaf at leafIdx and recomputes the twig
// root. Used both for fresh appends and (in the youngest twig only) for
// the redundant re-append pattern of spec section 4.5/9.
func (t *Twig) SetEntryLeaf(leafIdx int, h Hash) {
	t.entry.setLeaf(leafIdx, h)
	entryRoot := t.entry.recomputePath(leafIdx)
	t.root = CombineTwigRoot(entryRoot, t.active.root())
}

// SetActiveLeaf flips the active-bit leaf at leafIdx and recomputes the
// twig root.
func (t *Twig) SetActiveLeaf(leafIdx int, active bool) {
	t.active.setLeaf(leafIdx, ActiveLeafHash(active))
	activeRoot := t.active.recomputePath(leafIdx)
	t.root = CombineTwigRoot(t.entry.root(), activeRoot)
}

// Root returns the current twig root.
func (t *Twig) Root() Hash { return t.root }

// EntryPath returns the sibling hashes from the entry-subtree leaf up to
// (excluding) the twig root, used to build inclusion/exclusion proofs.
func (t *Twig) EntryPath(leafIdx int) []Hash {
	return siblingPath(&t.entry, leafIdx)
}

// ActivePath returns the sibling hashes for the active-bit subtree.
func (t *Twig) ActivePath(leafIdx int) []Hash {
	return siblingPath(&t.active, leafIdx)
}

func siblingPath(s *subtree, leafIdx int) []Hash {
	path := make([]Hash, 0, TwigLevels)
	i := TwigLeaves + leafIdx
	for i > 1 {
		sib := i ^ 1
		path = append(path, s.nodes[sib])
		i /= 2
	}
	return path
}

// sealedInternalNodes returns the internal node arrays persisted to
// TwigFile when this twig is sealed (spec section 4.3.2 append_entry:
// "flushes its nodes to TwigFile").
func (t *Twig) sealedInternalNodes() (entryNodes, activeNodes []Hash) {
	return t.entry.internalNodes(), t.active.internalNodes()
}

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

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardaglobal/qmdb/internal/entryfile"
)

// ErrInvariantViolated marks a Tree error as a consistency failure rather
// than a transient I/O one (spec section 7): append_entry called out of
// serial order, or for the wrong twig.
var ErrInvariantViolated = errors.New("twig: invariant violated")

// Tree is the full Twig Merkle Tree of spec section 4.3: the youngest twig
// materialized in RAM, older twigs' non-root nodes on TwigFile, and the
// upper tree of twig roots entirely in RAM.
type Tree struct {
	mu sync.Mutex // single-writer discipline (spec section 5): only the Flusher mutates

	youngest   *Twig
	file       *TwigFile
	upper      *UpperTree
	active     *entryfile.ActiveBits
	nextSerial uint64
	dirty      *DirtySet
}

// NewTree creates a tree starting at the given next-expected serial number
// (0 for a fresh engine, or the checkpointed value on reopen) and whose
// youngest twig is seeded with priorYoungest if recovered from TwigFile.
func NewTree(file *TwigFile, active *entryfile.ActiveBits, nextSerial uint64) *Tree {
	twigID := nextSerial >> TwigLevels
	return &Tree{
		youngest:   NewTwig(twigID),
		file:       file,
		upper:      NewUpperTree(),
		active:     active,
		nextSerial: nextSerial,
		dirty:      NewDirtySet(),
	}
}

func split(serial uint64) (twigID uint64, leafIdx int) {
	return serial >> TwigLevels, int(serial & (TwigLeaves - 1))
}

// Upper exposes the upper tree for recovery/bootstrap code that needs to
// seed registered twig roots (e.g. replaying MetaDB's twig_roots table).
func (t *Tree) Upper() *UpperTree { return t.upper }

// NextSerial returns the next serial number append_entry expects.
func (t *Tree) NextSerial() uint64 { return t.nextSerial }

// AppendEntry implements spec section 4.3.2 append_entry. sealedTwigID is
// valid only when sealed is true: the twig that just received its last leaf
// and was written out to TwigFile, letting callers record where that
// twig's entries end in EntryFile for later head-pruning.
func (t *Tree) AppendEntry(entryFrame []byte, serialNum uint64) (sealed bool, sealedTwigID uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if serialNum != t.nextSerial {
		return false, 0, fmt.Errorf("%w: append_entry expected serial %d, got %d", ErrInvariantViolated, t.nextSerial, serialNum)
	}
	twigID, leafIdx := split(serialNum)
	if t.youngest.ID != twigID {
		return false, 0, fmt.Errorf("%w: youngest twig is %d, expected %d", ErrInvariantViolated, t.youngest.ID, twigID)
	}

	t.youngest.SetEntryLeaf(leafIdx, EntryLeafHash(entryFrame))
	t.youngest.SetActiveLeaf(leafIdx, true)
	t.active.Set(serialNum)
	t.upper.SetTwigRoot(twigID, t.youngest.Root(), t.dirty)
	t.nextSerial++

	if leafIdx == TwigLeaves-1 {
		entryNodes, activeNodes := t.youngest.sealedInternalNodes()
		if err := t.file.WriteTwig(twigID, entryNodes, activeNodes); err != nil {
			return false, 0, err
		}
		t.youngest.Sealed = true
		t.youngest = NewTwig(twigID + 1)
		return true, twigID, nil
	}
	return false, 0, nil
}

// Deactivate implements spec section 4.3.2 deactivate.
func (t *Tree) Deactivate(serialNum uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	twigID, leafIdx := split(serialNum)
	if err := t.active.Clear(serialNum); err != nil {
		return fmt.Errorf("twig: deactivate %d: %w", serialNum, err)
	}

	if twigID == t.youngest.ID && !t.youngest.Sealed {
		t.youngest.SetActiveLeaf(leafIdx, false)
		t.upper.SetTwigRoot(twigID, t.youngest.Root(), t.dirty)
		return nil
	}

	entryNodes, activeNodes, err := t.file.ReadTwig(twigID)
	if err != nil {
		return fmt.Errorf("twig: stage twig %d for deactivate: %w", twigID, err)
	}
	entryRoot := entryNodes[0] // internalNodes()[0] == subtree root (nodes[1])

	staging := &subtree{}
	staging.setInternalNodes(activeNodes)
	siblingSerial := twigID*TwigLeaves + uint64(leafIdx^1)
	staging.setLeaf(leafIdx, ActiveLeafHash(false))
	staging.setLeaf(leafIdx^1, ActiveLeafHash(t.active.Test(siblingSerial)))
	newActiveRoot := staging.recomputePath(leafIdx)

	if err := t.file.UpdateActiveNodes(twigID, staging.internalNodes()); err != nil {
		return fmt.Errorf("twig: write back twig %d active nodes: %w", twigID, err)
	}
	t.upper.SetTwigRoot(twigID, CombineTwigRoot(entryRoot, newActiveRoot), t.dirty)
	return nil
}

// PruneTwig implements spec section 4.3.2 prune_twig. Callers must already
// have established (via ActiveBits) that every serial in the twig is
// inactive; this is re-verified here as the InvariantViolated check named
// in spec section 7.
func (t *Tree) PruneTwig(twigID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lo, hi := twigID*TwigLeaves, (twigID+1)*TwigLeaves
	if !t.active.AllClearInRange(lo, hi) {
		return fmt.Errorf("twig: prune_twig %d: not all serials inactive", twigID)
	}
	t.upper.PruneTwig(twigID, t.dirty)
	return nil
}

// CommitBlock implements spec section 4.3.2 commit_block: flushes the
// dirtied paths level-by-level in parallel and returns the new root. It
// resets the dirty set for the next block.
func (t *Tree) CommitBlock() Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	root := t.upper.CommitBlock(t.dirty)
	t.dirty = NewDirtySet()
	return root
}

// DirtyTwigIDs returns the twig ids touched since the last CommitBlock,
// letting callers know which twig_roots entries need re-persisting after
// the commit completes.
func (t *Tree) DirtyTwigIDs() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty.Slice()
}

// TwigRoot returns twigID's current root, valid to call after CommitBlock.
func (t *Tree) TwigRoot(twigID uint64) Hash {
	return t.upper.Leaf(twigID)
}

// ActivePath returns the active-bit-subtree sibling hashes for serialNum,
// from leaf up to (excluding) the twig root. It never needs data beyond
// ActiveBits and persisted/in-RAM nodes.
func (t *Tree) ActivePath(serialNum uint64) ([]Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	twigID, leafIdx := split(serialNum)
	if twigID == t.youngest.ID && !t.youngest.Sealed {
		return t.youngest.ActivePath(leafIdx), nil
	}
	_, activeNodes, err := t.file.ReadTwig(twigID)
	if err != nil {
		return nil, err
	}
	s := &subtree{}
	s.setInternalNodes(activeNodes)
	siblingSerial := twigID*TwigLeaves + uint64(leafIdx^1)
	s.setLeaf(leafIdx^1, ActiveLeafHash(t.active.Test(siblingSerial)))
	return siblingPath(s, leafIdx), nil
}

// EntryPath returns the entry-hash-subtree sibling hashes for serialNum.
// For a sealed twig, the caller must supply the encoded frame of the
// sibling entry (index serialNum^1 within the twig) since leaves are not
// persisted to TwigFile; for the youngest (unsealed) twig the sibling is
// already resident in RAM and siblingEntryFrame is ignored.
func (t *Tree) EntryPath(serialNum uint64, siblingEntryFrame []byte) ([]Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	twigID, leafIdx := split(serialNum)
	if twigID == t.youngest.ID && !t.youngest.Sealed {
		return t.youngest.EntryPath(leafIdx), nil
	}
	entryNodes, _, err := t.file.ReadTwig(twigID)
	if err != nil {
		return nil, err
	}
	s := &subtree{}
	s.setInternalNodes(entryNodes)
	s.setLeaf(leafIdx^1, EntryLeafHash(siblingEntryFrame))
	return siblingPath(s, leafIdx), nil
}

// UpperPath returns the upper-tree sibling hashes for twigID, from level 0
// up to (excluding) the block root.
func (t *Tree) UpperPath(twigID uint64) []Hash {
	return t.upper.PathTo(twigID)
}

// SiblingSerial returns the serial number whose active/entry leaf must be
// supplied alongside serialNum to build its sibling path.
func SiblingSerial(serialNum uint64) uint64 {
	twigID, leafIdx := split(serialNum)
	return twigID*TwigLeaves + uint64(leafIdx^1)
}

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
	"context"
	"sync"

	"github.com/tidwall/btree"
	"golang.org/x/sync/errgroup"
)

// upperEmpty[k] is the default hash of an all-pruned-or-unallocated upper
// tree subtree of height k, rooted in EmptyTwigRoot rather than the entry
// leaf family used inside a twig.
var upperEmpty []Hash

func upperEmptyAt(k int) Hash {
	for len(upperEmpty) <= k {
		if len(upperEmpty) == 0 {
			upperEmpty = append(upperEmpty, EmptyTwigRoot())
			continue
		}
		prev := upperEmpty[len(upperEmpty)-1]
		upperEmpty = append(upperEmpty, NodeHash(prev, prev))
	}
	return upperEmpty[k]
}

// UpperTree is the in-RAM tree above twig roots (spec section 4.3.1). Its
// leaves (level 0) are twig roots, stored in an ordered map so the
// oldest-live-twig scan needed by prune_twig can walk ascending twig ids
// without touching ActiveBits.
type UpperTree struct {
	mu sync.RWMutex

	leaves *btree.Map[uint64, Hash]   // level 0: twig id -> twig root, present only for live twigs
	upper  []map[uint64]Hash          // upper[k-1] holds level-k nodes, present only where non-default
	maxID  uint64                     // one past the highest twig id ever allocated
}

// NewUpperTree returns an empty upper tree.
func NewUpperTree() *UpperTree {
	return &UpperTree{leaves: btree.NewMap[uint64, Hash](32)}
}

// height returns the number of levels above the leaves needed so that
// 2^height >= max(maxID, 1); deterministic so two engines replaying the
// same blocks always compute a root over the same depth.
func (u *UpperTree) height() int {
	n := u.maxID
	if n == 0 {
		n = 1
	}
	h := 0
	for (uint64(1) << h) < n {
		h++
	}
	return h
}

func (u *UpperTree) nodeLocked(level int, idx uint64) Hash {
	if level == 0 {
		if h, ok := u.leaves.Get(idx); ok {
			return h
		}
		return EmptyTwigRoot()
	}
	if level-1 < len(u.upper) {
		if h, ok := u.upper[level-1][idx]; ok {
			return h
		}
	}
	return upperEmptyAt(level)
}

func (u *UpperTree) setNodeLocked(level int, idx uint64, h Hash) {
	for level-1 >= len(u.upper) {
		u.upper = append(u.upper, make(map[uint64]Hash))
	}
	u.upper[level-1][idx] = h
}

// SetTwigRoot records twigID's new root (a seal, or a recomputed root after
// an active-bit deactivation), marking it for the next CommitBlock.
func (u *UpperTree) SetTwigRoot(twigID uint64, root Hash, dirty *DirtySet) {
	u.mu.Lock()
	u.leaves.Set(twigID, root)
	if twigID+1 > u.maxID {
		u.maxID = twigID + 1
	}
	u.mu.Unlock()
	dirty.Add(twigID)
}

// PruneTwig collapses twigID's leaf to the canonical empty hash (spec
// section 4.3.2) and removes it from the live-leaf registry.
func (u *UpperTree) PruneTwig(twigID uint64, dirty *DirtySet) {
	u.mu.Lock()
	u.leaves.Delete(twigID)
	u.mu.Unlock()
	dirty.Add(twigID)
}

// OldestLiveTwig returns the smallest twig id still present in the
// registry, used by the head-pruning sweep to find the next pruning
// candidate.
func (u *UpperTree) OldestLiveTwig() (uint64, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var id uint64
	var found bool
	u.leaves.Scan(func(k uint64, _ Hash) bool {
		id, found = k, true
		return false
	})
	return id, found
}

// LiveTwigCount returns the number of twigs still registered as live.
func (u *UpperTree) LiveTwigCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.leaves.Len()
}

// Leaf returns twigID's current root (EmptyTwigRoot if pruned or never
// allocated), used to persist twig_roots entries after a commit.
func (u *UpperTree) Leaf(twigID uint64) Hash {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.nodeLocked(0, twigID)
}

// PathTo returns the sibling hashes from twigID's leaf up to (excluding)
// the current root, for use in inclusion/exclusion proofs.
func (u *UpperTree) PathTo(twigID uint64) []Hash {
	u.mu.RLock()
	defer u.mu.RUnlock()
	h := u.height()
	path := make([]Hash, 0, h)
	idx := twigID
	for level := 0; level < h; level++ {
		path = append(path, u.nodeLocked(level, idx^1))
		idx /= 2
	}
	return path
}

// maxParallel bounds the fan-out width within one level; a plain constant
// mirrors the design note to "prefer a simple fan-out barrier to
// task-stealing runtimes" rather than a sized worker pool abstraction.
const maxParallel = 64

// CommitBlock recomputes every dirtied path level-by-level in parallel
// (spec section 4.3.4), then returns the new root. The dirty set is
// consumed (indices it names become this block's level-0 fan-out).
func (u *UpperTree) CommitBlock(dirty *DirtySet) Hash {
	top := u.height()
	cur := dedupe(dirty.Slice())

	for level := 0; level < top; level++ {
		parents := parentsOf(cur)
		results := make([]Hash, len(parents))

		g, _ := errgroup.WithContext(context.Background())
		g.SetLimit(maxParallel)
		for i, p := range parents {
			i, p := i, p
			g.Go(func() error {
				u.mu.RLock()
				left := u.nodeLocked(level, 2*p)
				right := u.nodeLocked(level, 2*p+1)
				u.mu.RUnlock()
				results[i] = NodeHash(left, right)
				return nil
			})
		}
		_ = g.Wait()

		u.mu.Lock()
		for i, p := range parents {
			u.setNodeLocked(level+1, p, results[i])
		}
		u.mu.Unlock()

		cur = parents
	}

	u.mu.RLock()
	root := u.nodeLocked(top, 0)
	u.mu.RUnlock()
	return root
}

func dedupe(in []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func parentsOf(in []uint64) []uint64 {
	out := make([]uint64, len(in))
	for i, v := range in {
		out[i] = v / 2
	}
	return dedupe(out)
}

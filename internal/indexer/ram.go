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

package indexer

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// item is one (suffix, offset) pair stored in a shard's ordered tree,
// ordered by suffix and then by insertion sequence to break suffix ties
// (spec section 4.2: "ties are broken by insertion order").
type item struct {
	suffix uint64
	off    uint64
	seq    uint64
}

func lessItem(a, b item) bool {
	if a.suffix != b.suffix {
		return a.suffix < b.suffix
	}
	return a.seq < b.seq
}

type ramShard struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
	seq  uint64
}

// RAM is the in-memory Indexer variant (spec section 4.2): 65,536
// independently-lockable shards, each a balanced ordered map keyed by the
// short hash's 48-bit suffix.
type RAM struct {
	shards     [ShardCount]*ramShard
	generation atomic.Uint64

	mu      sync.Mutex // guards pending, serializes CommitGeneration vs writers
	pending map[uint16][]pendingOp
}

type pendingOp struct {
	suffix uint64
	off    uint64
	remove bool
}

// NewRAM constructs an empty in-memory indexer.
func NewRAM() *RAM {
	r := &RAM{pending: make(map[uint16][]pendingOp)}
	return r
}

func shardOf(shortHash uint64) uint16 { return uint16(shortHash >> 48) }
func suffixOf(shortHash uint64) uint64 { return shortHash & 0x0000FFFFFFFFFFFF }
func composeHash(shard uint16, suffix uint64) uint64 {
	return uint64(shard)<<48 | suffix
}

func (r *RAM) shard(id uint16) *ramShard {
	if r.shards[id] == nil {
		r.shards[id] = &ramShard{tree: btree.NewG(32, lessItem)}
	}
	return r.shards[id]
}

// deleteByOffsetLocked removes the one stored item matching (suffix, off).
// The tree orders items by (suffix, seq), not by off, so a delete key built
// from (suffix, off) alone can't locate its match via the comparator
// directly — off can repeat across seqs and seq is assigned at insert time,
// unknown to the caller. Scanning the suffix's run (short, since it only
// spans same-short-hash collisions) and deleting the matching seq is exact.
func (s *ramShard) deleteByOffsetLocked(suffix, off uint64) {
	var match item
	var found bool
	s.tree.AscendGreaterOrEqual(item{suffix: suffix}, func(it item) bool {
		if it.suffix != suffix {
			return false
		}
		if it.off == off {
			match, found = it, true
			return false
		}
		return true
	})
	if found {
		s.tree.Delete(match)
	}
}

// Put buffers an insert, visible to Get/NextHashGE only after the next
// CommitGeneration (spec section 4.5).
func (r *RAM) Put(shortHash uint64, off uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid := shardOf(shortHash)
	r.pending[sid] = append(r.pending[sid], pendingOp{suffix: suffixOf(shortHash), off: off})
	return nil
}

// Remove buffers a deletion of one specific (shortHash, off) pair.
func (r *RAM) Remove(shortHash uint64, off uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid := shardOf(shortHash)
	r.pending[sid] = append(r.pending[sid], pendingOp{suffix: suffixOf(shortHash), off: off, remove: true})
	return nil
}

// Get returns every committed (shortHash, offset) pair sharing shortHash.
// It never observes this block's not-yet-committed Puts/Removes, per the
// isolation rule in spec section 4.5/5.
func (r *RAM) Get(shortHash uint64) ([]Offset, error) {
	sid := shardOf(shortHash)
	if r.shards[sid] == nil {
		return nil, nil
	}
	s := r.shards[sid]
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Offset
	suffix := suffixOf(shortHash)
	s.tree.AscendGreaterOrEqual(item{suffix: suffix}, func(it item) bool {
		if it.suffix != suffix {
			return false
		}
		out = append(out, Offset{ShortHash: shortHash, Off: it.off})
		return true
	})
	return out, nil
}

// NextHashGE returns the smallest committed short hash >= shortHash.
func (r *RAM) NextHashGE(shortHash uint64) (Offset, bool, error) {
	sid := shardOf(shortHash)
	suffix := suffixOf(shortHash)

	for {
		if r.shards[sid] != nil {
			s := r.shards[sid]
			s.mu.RLock()
			var found Offset
			var ok bool
			s.tree.AscendGreaterOrEqual(item{suffix: suffix}, func(it item) bool {
				found = Offset{ShortHash: composeHash(sid, it.suffix), Off: it.off}
				ok = true
				return false
			})
			s.mu.RUnlock()
			if ok {
				return found, true, nil
			}
		}
		if sid == ShardCount-1 {
			break
		}
		sid++
		suffix = 0
	}
	// Wrap around: smallest hash in the whole indexer, if any.
	for sid := uint16(0); ; sid++ {
		if r.shards[sid] != nil {
			s := r.shards[sid]
			s.mu.RLock()
			var found Offset
			var ok bool
			s.tree.AscendGreaterOrEqual(item{}, func(it item) bool {
				found = Offset{ShortHash: composeHash(sid, it.suffix), Off: it.off}
				ok = true
				return false
			})
			s.mu.RUnlock()
			if ok {
				return found, true, nil
			}
		}
		if sid == ShardCount-1 {
			break
		}
	}
	return Offset{}, false, nil
}

// CommitGeneration applies every buffered Put/Remove since the last call,
// taking each shard's write lock only briefly (spec section 5), then
// advances and returns the new generation number.
func (r *RAM) CommitGeneration() (uint64, error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint16][]pendingOp)
	r.mu.Unlock()

	for sid, ops := range pending {
		s := r.shard(sid)
		s.mu.Lock()
		for _, op := range ops {
			if op.remove {
				s.deleteByOffsetLocked(op.suffix, op.off)
				continue
			}
			s.seq++
			s.tree.ReplaceOrInsert(item{suffix: op.suffix, off: op.off, seq: s.seq})
		}
		s.mu.Unlock()
	}
	return r.generation.Add(1), nil
}

// PeekNextGeneration returns the generation number the next
// CommitGeneration call would produce.
func (r *RAM) PeekNextGeneration() uint64 { return r.generation.Load() + 1 }

// TotalKeys returns the committed pair count across all shards.
func (r *RAM) TotalKeys() int {
	total := 0
	for _, s := range r.shards {
		if s == nil {
			continue
		}
		s.mu.RLock()
		total += s.tree.Len()
		s.mu.RUnlock()
	}
	return total
}

// Close is a no-op for the RAM variant.
func (r *RAM) Close() error { return nil }

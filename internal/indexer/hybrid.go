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
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// page is one shard's full sorted item list, materialized from disk on
// demand. Sorting by (suffix, seq) matches ramShard's ordering so Get and
// NextHashGE behave identically across both Indexer variants.
type page struct {
	mu    sync.RWMutex
	items []item
	dirty bool
}

func (p *page) insert(it item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.items), func(i int) bool { return !lessItem(p.items[i], it) })
	p.items = append(p.items, item{})
	copy(p.items[i+1:], p.items[i:])
	p.items[i] = it
	p.dirty = true
}

func (p *page) remove(suffix, off uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, it := range p.items {
		if it.suffix == suffix && it.off == off {
			p.items = append(p.items[:i], p.items[i+1:]...)
			p.dirty = true
			return
		}
	}
}

func (p *page) ascendGE(suffix uint64) []item {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := sort.Search(len(p.items), func(i int) bool { return p.items[i].suffix >= suffix })
	if i == len(p.items) {
		return nil
	}
	out := make([]item, len(p.items)-i)
	copy(out, p.items[i:])
	return out
}

// HybridOptions configures the SSD-backed Indexer variant.
type HybridOptions struct {
	// Dir holds one page file per shard that has ever had an entry.
	Dir string
	// PageCacheSize bounds how many shard pages stay resident in RAM at
	// once; the rest are evicted (flushing if dirty) and reloaded from
	// disk on next access, per spec section 4.2's RAM-hot/SSD-cold split.
	PageCacheSize int
}

// Hybrid is the SSD+RAM Indexer variant: cold pages live one-file-per-shard
// under Options.Dir, kept warm by an LRU page cache; pending mutations are
// buffered in RAM exactly like RAM and only touch disk at CommitGeneration.
type Hybrid struct {
	dir        string
	cache      *lru.Cache[uint16, *page]
	generation atomic.Uint64

	mu      sync.Mutex
	pending map[uint16][]pendingOp
}

// NewHybrid opens (creating if absent) a hybrid indexer rooted at opts.Dir.
func NewHybrid(opts HybridOptions) (*Hybrid, error) {
	if opts.PageCacheSize <= 0 {
		opts.PageCacheSize = 4096
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("indexer: create dir: %w", err)
	}
	h := &Hybrid{dir: opts.Dir, pending: make(map[uint16][]pendingOp)}
	cache, err := lru.NewWithEvict[uint16, *page](opts.PageCacheSize, h.onEvict)
	if err != nil {
		return nil, err
	}
	h.cache = cache
	return h, nil
}

func (h *Hybrid) pagePath(shard uint16) string {
	return filepath.Join(h.dir, fmt.Sprintf("shard-%05d.page", shard))
}

func (h *Hybrid) onEvict(shard uint16, p *page) {
	_ = h.flush(shard, p)
}

func (h *Hybrid) flush(shard uint16, p *page) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.dirty {
		return nil
	}
	buf := make([]byte, 0, 8+len(p.items)*24)
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(p.items)))
	buf = append(buf, hdr[:]...)
	var rec [24]byte
	for _, it := range p.items {
		binary.LittleEndian.PutUint64(rec[0:8], it.suffix)
		binary.LittleEndian.PutUint64(rec[8:16], it.off)
		binary.LittleEndian.PutUint64(rec[16:24], it.seq)
		buf = append(buf, rec[:]...)
	}
	tmp := h.pagePath(shard) + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("indexer: write page %d: %w", shard, err)
	}
	if err := os.Rename(tmp, h.pagePath(shard)); err != nil {
		return fmt.Errorf("indexer: publish page %d: %w", shard, err)
	}
	p.dirty = false
	return nil
}

func (h *Hybrid) load(shard uint16) (*page, error) {
	if p, ok := h.cache.Get(shard); ok {
		return p, nil
	}
	data, err := os.ReadFile(h.pagePath(shard))
	if os.IsNotExist(err) {
		p := &page{}
		h.cache.Add(shard, p)
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexer: read page %d: %w", shard, err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("indexer: truncated page %d header", shard)
	}
	n := binary.LittleEndian.Uint64(data[0:8])
	items := make([]item, 0, n)
	off := 8
	for i := uint64(0); i < n; i++ {
		if off+24 > len(data) {
			return nil, fmt.Errorf("indexer: truncated page %d record %d", shard, i)
		}
		items = append(items, item{
			suffix: binary.LittleEndian.Uint64(data[off : off+8]),
			off:    binary.LittleEndian.Uint64(data[off+8 : off+16]),
			seq:    binary.LittleEndian.Uint64(data[off+16 : off+24]),
		})
		off += 24
	}
	p := &page{items: items}
	h.cache.Add(shard, p)
	return p, nil
}

// Put buffers an insert, applied at the next CommitGeneration.
func (h *Hybrid) Put(shortHash uint64, off uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sid := shardOf(shortHash)
	h.pending[sid] = append(h.pending[sid], pendingOp{suffix: suffixOf(shortHash), off: off})
	return nil
}

// Remove buffers a deletion, applied at the next CommitGeneration.
func (h *Hybrid) Remove(shortHash uint64, off uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sid := shardOf(shortHash)
	h.pending[sid] = append(h.pending[sid], pendingOp{suffix: suffixOf(shortHash), off: off, remove: true})
	return nil
}

// Get returns every committed (shortHash, offset) pair sharing shortHash.
func (h *Hybrid) Get(shortHash uint64) ([]Offset, error) {
	sid := shardOf(shortHash)
	p, err := h.load(sid)
	if err != nil {
		return nil, err
	}
	suffix := suffixOf(shortHash)
	var out []Offset
	for _, it := range p.ascendGE(suffix) {
		if it.suffix != suffix {
			break
		}
		out = append(out, Offset{ShortHash: shortHash, Off: it.off})
	}
	return out, nil
}

// NextHashGE returns the smallest committed short hash >= shortHash,
// scanning forward across shards (wrapping once) when the home shard has
// nothing left, same fallback strategy as RAM.NextHashGE.
func (h *Hybrid) NextHashGE(shortHash uint64) (Offset, bool, error) {
	sid := shardOf(shortHash)
	suffix := suffixOf(shortHash)
	for pass := 0; pass < 2; pass++ {
		for {
			p, err := h.load(sid)
			if err != nil {
				return Offset{}, false, err
			}
			if ge := p.ascendGE(suffix); len(ge) > 0 {
				it := ge[0]
				return Offset{ShortHash: composeHash(sid, it.suffix), Off: it.off}, true, nil
			}
			if sid == ShardCount-1 {
				break
			}
			sid++
			suffix = 0
		}
		sid, suffix = 0, 0
	}
	return Offset{}, false, nil
}

// CommitGeneration applies every buffered mutation to its shard's page
// (loading cold pages from disk as needed) and advances the generation.
func (h *Hybrid) CommitGeneration() (uint64, error) {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[uint16][]pendingOp)
	h.mu.Unlock()

	touched := make(map[uint16]*page, len(pending))
	for sid, ops := range pending {
		p, err := h.load(sid)
		if err != nil {
			return 0, err
		}
		seq := uint64(0)
		for _, it := range p.items {
			if it.seq > seq {
				seq = it.seq
			}
		}
		for _, op := range ops {
			if op.remove {
				p.remove(op.suffix, op.off)
				continue
			}
			seq++
			p.insert(item{suffix: op.suffix, off: op.off, seq: seq})
		}
		touched[sid] = p
	}
	for sid, p := range touched {
		if err := h.flush(sid, p); err != nil {
			return 0, err
		}
	}
	return h.generation.Add(1), nil
}

// PeekNextGeneration returns the generation number the next
// CommitGeneration call would produce.
func (h *Hybrid) PeekNextGeneration() uint64 { return h.generation.Load() + 1 }

// TotalKeys returns the committed pair count across all shards currently
// resident in the page cache; shards evicted to disk are not re-read for
// this count, so it is an estimate unless PageCacheSize >= live shard count.
func (h *Hybrid) TotalKeys() int {
	total := 0
	for _, sid := range h.cache.Keys() {
		if p, ok := h.cache.Peek(sid); ok {
			p.mu.RLock()
			total += len(p.items)
			p.mu.RUnlock()
		}
	}
	return total
}

// Close flushes every dirty resident page to disk.
func (h *Hybrid) Close() error {
	for _, sid := range h.cache.Keys() {
		if p, ok := h.cache.Peek(sid); ok {
			if err := h.flush(sid, p); err != nil {
				return err
			}
		}
	}
	return nil
}

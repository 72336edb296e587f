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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
)

const (
	hashSize         = 32
	internalPerTwig  = TwigLeaves - 1 // 2047
	recordSize       = 2 * internalPerTwig * hashSize
)

// TwigFile stores sealed twigs' non-root Merkle nodes (spec section 6):
// fixed-size segments, each holding a run of twigs' entry_subtree_nodes
// followed by active_bit_subtree_nodes. Unlike EntryFile, records are
// updated in place (deactivating a bit in an old twig rewrites only that
// twig's active-bit nodes).
type TwigFile struct {
	dir            string
	twigsPerSeg    uint64

	mu       sync.RWMutex
	segments map[uint64]*twigSegment
}

type twigSegment struct {
	file   *os.File
	mapped mmap.MMap
}

// TwigFileOptions configures a TwigFile.
type TwigFileOptions struct {
	Dir         string
	TwigsPerSeg uint64
}

// OpenTwigFile opens or creates the twig-node store rooted at opts.Dir/twigs/.
func OpenTwigFile(opts TwigFileOptions) (*TwigFile, error) {
	if opts.TwigsPerSeg == 0 {
		opts.TwigsPerSeg = 1024
	}
	if err := os.MkdirAll(filepath.Join(opts.Dir, "twigs"), 0o755); err != nil {
		return nil, fmt.Errorf("twigfile: mkdir: %w", err)
	}
	return &TwigFile{dir: opts.Dir, twigsPerSeg: opts.TwigsPerSeg, segments: map[uint64]*twigSegment{}}, nil
}

func (tf *TwigFile) split(twigID uint64) (segID, within uint64) {
	return twigID / tf.twigsPerSeg, twigID % tf.twigsPerSeg
}

func (tf *TwigFile) segPath(id uint64) string {
	return filepath.Join(tf.dir, "twigs", fmt.Sprintf("%016x.twg", id))
}

func (tf *TwigFile) segmentFor(id uint64) (*twigSegment, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if s, ok := tf.segments[id]; ok {
		return s, nil
	}
	path := tf.segPath(id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("twigfile: open segment %016x: %w", id, err)
	}
	segBytes := int64(tf.twigsPerSeg) * int64(recordSize)
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("twigfile: stat segment %016x: %w", id, err)
	}
	if fi.Size() < segBytes {
		if err := f.Truncate(segBytes); err != nil {
			return nil, fmt.Errorf("twigfile: truncate segment %016x: %w", id, err)
		}
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("twigfile: mmap segment %016x: %w", id, err)
	}
	s := &twigSegment{file: f, mapped: m}
	tf.segments[id] = s
	return s, nil
}

func encodeHashes(dst []byte, hs []Hash) {
	for i, h := range hs {
		copy(dst[i*hashSize:], h[:])
	}
}

func decodeHashes(src []byte, n int) []Hash {
	out := make([]Hash, n)
	for i := range out {
		copy(out[i][:], src[i*hashSize:(i+1)*hashSize])
	}
	return out
}

// WriteTwig persists a sealed twig's internal nodes, called once when the
// twig seals (spec section 4.3.2 append_entry).
func (tf *TwigFile) WriteTwig(twigID uint64, entryNodes, activeNodes []Hash) error {
	segID, within := tf.split(twigID)
	s, err := tf.segmentFor(segID)
	if err != nil {
		return err
	}
	off := within * uint64(recordSize)
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	buf := s.mapped[off : off+uint64(recordSize)]
	encodeHashes(buf, entryNodes)
	encodeHashes(buf[internalPerTwig*hashSize:], activeNodes)
	return nil
}

// UpdateActiveNodes rewrites only the active-bit subtree's internal nodes
// in place, per spec section 4.3.2 deactivate: "loads its active-bit
// subtree from TwigFile into a staging buffer, updates the bit, recomputes
// the active-bit root... propagates up".
func (tf *TwigFile) UpdateActiveNodes(twigID uint64, activeNodes []Hash) error {
	segID, within := tf.split(twigID)
	s, err := tf.segmentFor(segID)
	if err != nil {
		return err
	}
	off := within*uint64(recordSize) + uint64(internalPerTwig*hashSize)
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	encodeHashes(s.mapped[off:off+uint64(internalPerTwig*hashSize)], activeNodes)
	return nil
}

// ReadTwig loads a sealed twig's internal node arrays back into RAM, used
// to stage a deactivation of an old (sealed) twig.
func (tf *TwigFile) ReadTwig(twigID uint64) (entryNodes, activeNodes []Hash, err error) {
	segID, within := tf.split(twigID)
	s, err := tf.segmentFor(segID)
	if err != nil {
		return nil, nil, err
	}
	off := within * uint64(recordSize)
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	buf := s.mapped[off : off+uint64(recordSize)]
	entryNodes = decodeHashes(buf, internalPerTwig)
	activeNodes = decodeHashes(buf[internalPerTwig*hashSize:], internalPerTwig)
	return entryNodes, activeNodes, nil
}

// Sync fsyncs all segments touched since the last call (spec section 4.6:
// "fsync EntryFile and TwigFile before the MetaDB commit").
func (tf *TwigFile) Sync() error {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	for id, s := range tf.segments {
		if err := s.mapped.Flush(); err != nil {
			return fmt.Errorf("twigfile: flush segment %016x: %w", id, err)
		}
	}
	return nil
}

// UnlinkSegmentsBelow removes fully-pruned segments, called when every
// twig they contain has been pruned (spec section 4.3.2 prune_twig).
func (tf *TwigFile) UnlinkSegmentsBelow(firstLiveTwigID uint64) error {
	firstLiveSeg, within := tf.split(firstLiveTwigID)
	if within != 0 {
		return nil // first live twig isn't at a segment boundary yet
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()
	for id, s := range tf.segments {
		if id >= firstLiveSeg {
			continue
		}
		if err := s.mapped.Unmap(); err != nil {
			return err
		}
		if err := s.file.Close(); err != nil {
			return err
		}
		if err := os.Remove(tf.segPath(id)); err != nil && !os.IsNotExist(err) {
			return err
		}
		delete(tf.segments, id)
	}
	return nil
}

// Close releases all mappings and file handles.
func (tf *TwigFile) Close() error {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	var first error
	for _, s := range tf.segments {
		if err := s.mapped.Unmap(); err != nil && first == nil {
			first = err
		}
		if err := s.file.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

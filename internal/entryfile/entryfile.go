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

// Package entryfile implements spec section 4.1: an append-only,
// head-prunable log of length-prefixed, CRC-trailered Entry frames,
// physically segmented into fixed-size files addressed by a 48-bit
// logical offset.
package entryfile

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ardaglobal/qmdb/internal/codec"
)

// MaxOffset is the largest representable 48-bit logical offset.
const MaxOffset = 1<<48 - 1

var (
	// ErrCorrupt mirrors spec section 7's Corrupt kind for a frame whose
	// length prefix does not decode or whose checksum mismatches.
	ErrCorrupt = errors.New("entryfile: corrupt frame")
	// ErrNotAtSegmentBoundary is returned by PruneTo per spec section 4.1.
	ErrNotAtSegmentBoundary = errors.New("entryfile: offset not at segment boundary")
	// ErrAddressSpaceExhausted is returned by Append per spec section 4.1.
	ErrAddressSpaceExhausted = errors.New("entryfile: 48-bit offset space exhausted")
)

// Options configures an EntryFile.
type Options struct {
	Dir string
	// SegSizeBits is log2 of the fixed segment size in bytes; segment size
	// must be a power of two (spec: "typically 256MiB-2GiB").
	SegSizeBits uint
}

// EntryFile is the append-only log described above. It is safe for
// concurrent readers while a single writer appends; callers coordinate the
// single-writer discipline (only the Flusher calls Append/PruneTo/Flush).
type EntryFile struct {
	dir      string
	segBits  uint
	segSize  uint64
	segMask  uint64

	mu        sync.RWMutex
	segments  map[uint64]*segment
	headSegID uint64 // oldest live segment id

	tailID  uint64
	tailBuf []byte // unflushed bytes appended to the tail segment, relative to its on-disk length
	tailOff uint64 // on-disk length of the tail segment before tailBuf
}

// Open opens or creates the EntryFile rooted at opts.Dir/entries/.
func Open(opts Options) (*EntryFile, error) {
	if opts.SegSizeBits == 0 {
		opts.SegSizeBits = 28 // 256 MiB
	}
	if err := os.MkdirAll(opts.Dir+"/entries", 0o755); err != nil {
		return nil, fmt.Errorf("entryfile: mkdir: %w", err)
	}
	ef := &EntryFile{
		dir:      opts.Dir,
		segBits:  opts.SegSizeBits,
		segSize:  1 << opts.SegSizeBits,
		segMask:  (1 << opts.SegSizeBits) - 1,
		segments: make(map[uint64]*segment),
	}
	return ef, nil
}

func (ef *EntryFile) split(offset uint64) (segID, within uint64) {
	return offset >> ef.segBits, offset & ef.segMask
}

func (ef *EntryFile) segment(id uint64, create bool) (*segment, error) {
	ef.mu.Lock()
	defer ef.mu.Unlock()
	return ef.segmentLocked(id, create)
}

// segmentLocked is segment for callers that already hold ef.mu.
func (ef *EntryFile) segmentLocked(id uint64, create bool) (*segment, error) {
	if s, ok := ef.segments[id]; ok {
		return s, nil
	}
	s, err := openSegment(ef.dir, id, create)
	if err != nil {
		return nil, err
	}
	ef.segments[id] = s
	return s, nil
}

// Append writes an already-encoded frame (see codec.Entry.Encode) to the
// current tail and returns its 48-bit logical offset.
func (ef *EntryFile) Append(frame []byte) (uint64, error) {
	ef.mu.Lock()
	defer ef.mu.Unlock()

	tailLogical := (ef.tailID << ef.segBits) + ef.tailOff + uint64(len(ef.tailBuf))
	if tailLogical+uint64(len(frame)) > MaxOffset {
		return 0, ErrAddressSpaceExhausted
	}

	spaceLeftInSeg := ef.segSize - (ef.tailOff + uint64(len(ef.tailBuf)))
	if uint64(len(frame)) > spaceLeftInSeg {
		// Roll over: the new segment starts fresh, frame goes entirely there.
		if err := ef.sealTailLocked(); err != nil {
			return 0, err
		}
		ef.tailID++
		ef.tailOff = 0
		ef.tailBuf = ef.tailBuf[:0]
	}

	offset := (ef.tailID << ef.segBits) + ef.tailOff + uint64(len(ef.tailBuf))
	ef.tailBuf = append(ef.tailBuf, frame...)
	return offset, nil
}

// sealTailLocked flushes the current tail buffer to disk. Callers hold ef.mu.
func (ef *EntryFile) sealTailLocked() error {
	if len(ef.tailBuf) == 0 {
		return nil
	}
	s, err := ef.segmentLocked(ef.tailID, true)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(ef.tailBuf, int64(ef.tailOff)); err != nil {
		return fmt.Errorf("entryfile: write segment %016x: %w", ef.tailID, err)
	}
	ef.tailOff += uint64(len(ef.tailBuf))
	ef.tailBuf = ef.tailBuf[:0]
	return nil
}

// Flush writes and fsyncs all buffered appends exactly once, per spec
// section 4.1 ("flushed and fsync'ed exactly once per block commit").
func (ef *EntryFile) Flush() error {
	ef.mu.Lock()
	defer ef.mu.Unlock()
	if err := ef.sealTailLocked(); err != nil {
		return err
	}
	s, err := ef.segmentLocked(ef.tailID, true)
	if err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("entryfile: fsync segment %016x: %w", ef.tailID, err)
	}
	return nil
}

// ReadAt returns the decoded entry whose frame begins at offset, tolerating
// reads of the still-buffered tail.
func (ef *EntryFile) ReadAt(offset uint64) (*codec.Entry, error) {
	segID, within := ef.split(offset)

	ef.mu.RLock()
	isTail := segID == ef.tailID
	var buf []byte
	if isTail {
		// Tail reads are served from on-disk bytes plus buffer, relative to
		// the segment's on-disk length.
		if within >= ef.tailOff {
			start := within - ef.tailOff
			if start > uint64(len(ef.tailBuf)) {
				ef.mu.RUnlock()
				return nil, fmt.Errorf("%w: offset %d beyond tail", ErrCorrupt, offset)
			}
			buf = ef.tailBuf[start:]
		}
	}
	ef.mu.RUnlock()

	if buf != nil {
		e, _, err := codec.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return e, nil
	}

	s, err := ef.segment(segID, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	readAt := s.readAt
	if isTail {
		// The tail segment grows at every Flush, so its flushed bytes are read
		// from the file rather than through a mapping that would go stale.
		readAt = func(off, n int) ([]byte, error) {
			b := make([]byte, n)
			_, err := s.file.ReadAt(b, int64(off))
			return b, err
		}
	} else if err := s.mapForReads(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// Peek the length prefix, then the full frame, refusing to read past the
	// segment's data (a genuine corruption, not an out-of-range offset).
	head, err := readAt(int(within), 4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	payloadLen := int(head[0]) | int(head[1])<<8 | int(head[2])<<16 | int(head[3])<<24
	frameLen := 4 + payloadLen + 4
	frame, err := readAt(int(within), frameLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	e, _, err := codec.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return e, nil
}

// PruneTo raises the head pointer, unlinking any segment entirely below the
// new head. offset must land on a segment boundary.
func (ef *EntryFile) PruneTo(offset uint64) error {
	ef.mu.Lock()
	defer ef.mu.Unlock()
	if offset&ef.segMask != 0 {
		return ErrNotAtSegmentBoundary
	}
	newHeadSeg := offset >> ef.segBits
	for id := ef.headSegID; id < newHeadSeg; id++ {
		s, ok := ef.segments[id]
		if !ok {
			s2, err := openSegment(ef.dir, id, false)
			if err != nil {
				continue // already gone
			}
			s = s2
		}
		if err := s.unlink(); err != nil {
			return fmt.Errorf("entryfile: prune segment %016x: %w", id, err)
		}
		delete(ef.segments, id)
	}
	ef.headSegID = newHeadSeg
	return nil
}

// SegmentSize returns the fixed segment size in bytes.
func (ef *EntryFile) SegmentSize() uint64 { return ef.segSize }

// HeadOffset returns the logical offset of the oldest retained segment.
func (ef *EntryFile) HeadOffset() uint64 { return ef.headSegID << ef.segBits }

// TailOffset returns the logical offset one past the last appended byte.
func (ef *EntryFile) TailOffset() uint64 {
	ef.mu.RLock()
	defer ef.mu.RUnlock()
	return (ef.tailID << ef.segBits) + ef.tailOff + uint64(len(ef.tailBuf))
}

// Close releases all open segment files and mappings.
func (ef *EntryFile) Close() error {
	ef.mu.Lock()
	defer ef.mu.Unlock()
	var first error
	for _, s := range ef.segments {
		if err := s.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

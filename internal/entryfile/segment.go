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

package entryfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// segment is one fixed-size file of entries/<seg_id:016x>.dat. Sealed
// segments (every segment but the current tail) are read through a
// read-only mmap; the tail segment is read from its in-memory write buffer
// for unflushed bytes and from the file for flushed ones, and is mapped only
// once rollover has sealed it.
type segment struct {
	id   uint64
	path string
	file *os.File

	mu     sync.RWMutex
	mapped mmap.MMap // nil until sealed and mapped for reads
	sealed bool
}

func segPath(dir string, id uint64) string {
	return filepath.Join(dir, "entries", fmt.Sprintf("%016x.dat", id))
}

func openSegment(dir string, id uint64, create bool) (*segment, error) {
	path := segPath(dir, id)
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("entryfile: open segment %016x: %w", id, err)
	}
	return &segment{id: id, path: path, file: f}, nil
}

// mapForReads maps the sealed, fully-flushed segment read-only. Callers
// must hold no other reference to mapped memory across prune_to unlinking.
func (s *segment) mapForReads() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapped != nil {
		return nil
	}
	fi, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("entryfile: stat segment %016x: %w", s.id, err)
	}
	if fi.Size() == 0 {
		return nil
	}
	m, err := mmap.Map(s.file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("entryfile: mmap segment %016x: %w", s.id, err)
	}
	s.mapped = m
	return nil
}

func (s *segment) readAt(off, n int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mapped == nil {
		return nil, fmt.Errorf("entryfile: segment %016x not mapped", s.id)
	}
	if off < 0 || off+n > len(s.mapped) {
		return nil, fmt.Errorf("entryfile: read [%d:%d] out of bounds (len %d)", off, off+n, len(s.mapped))
	}
	return s.mapped[off : off+n], nil
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.mapped != nil {
		err = s.mapped.Unmap()
		s.mapped = nil
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *segment) unlink() error {
	if err := s.close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

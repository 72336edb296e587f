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
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// SerialIndex is a dense, append-only serial-number -> EntryFile-offset
// map: since append_entry only ever extends the next expected serial
// number by exactly one, serial N's offset always lands at byte N*8 of
// this file, needing no tree or hash structure of its own — unlike the
// indexer, which has to answer by-key-hash lookups, this only ever answers
// "what offset did serial N land at", which a flat record satisfies.
// Sibling-path construction in the proof package relies on this to fetch
// a sibling leaf's encoded frame given only its serial number.
type SerialIndex struct {
	mu    sync.Mutex
	file  *os.File
	count uint64
}

// OpenSerialIndex opens or creates the serial index file at dir/serials.idx.
func OpenSerialIndex(dir string) (*SerialIndex, error) {
	f, err := os.OpenFile(dir+"/serials.idx", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("entryfile: open serial index: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &SerialIndex{file: f, count: uint64(info.Size()) / 8}, nil
}

// Append records offset as the next serial number's location; callers must
// call this exactly once per serial, in increasing order, matching
// Tree.AppendEntry's own ordering invariant.
func (s *SerialIndex) Append(offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], offset)
	if _, err := s.file.WriteAt(buf[:], int64(s.count*8)); err != nil {
		return fmt.Errorf("entryfile: write serial index entry %d: %w", s.count, err)
	}
	s.count++
	return nil
}

// At returns the EntryFile offset recorded for serial.
func (s *SerialIndex) At(serial uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if serial >= s.count {
		return 0, fmt.Errorf("entryfile: serial %d has no recorded offset (count=%d)", serial, s.count)
	}
	var buf [8]byte
	if _, err := s.file.ReadAt(buf[:], int64(serial*8)); err != nil {
		return 0, fmt.Errorf("entryfile: read serial index entry %d: %w", serial, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Sync fsyncs the serial index file.
func (s *SerialIndex) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

// Count returns how many serials have been recorded.
func (s *SerialIndex) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close closes the underlying file.
func (s *SerialIndex) Close() error {
	return s.file.Close()
}

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

package pipeline

import (
	"encoding/binary"
	"fmt"

	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/indexer"
	"github.com/ardaglobal/qmdb/internal/keyhash"
	"github.com/ardaglobal/qmdb/internal/task"
)

// shortOfHashBytes is keyhash.Short for a raw 32-byte hash already computed
// (an entry's next_key_hash field), avoiding re-hashing it.
func shortOfHashBytes(h []byte) uint64 {
	if len(h) != 32 {
		return 0
	}
	return binary.BigEndian.Uint64(h[:8])
}

// Prefetch implements spec section 4.4: for every request in a block, look
// up whatever Update will need from the indexer and EntryFile up front, so
// Update itself never blocks on I/O. Each task's SerialNum is set here to
// startSerial plus its position in the block; the serials of the entries
// Update appends come from the tree at apply time.
//
// ringIndex is the reverse pointer index keyed by next_key_hash value ->
// the offset of the live entry whose next_key_hash currently equals it.
// Together with keyIndex (the ordinary key-hash -> offset map), it lets
// Prefetch locate a key's ring predecessor in two lookups instead of a
// linear ring walk: keyIndex.NextHashGE(h) finds the ring successor S, and
// ringIndex.Get(S.hash) finds whichever live entry points at S, which is
// exactly the predecessor.
func Prefetch(reqs []task.ChangeRequest, startSerial uint64, keyIndex, ringIndex indexer.Indexer, ef *entryfile.EntryFile) ([]task.PrefetchedTask, error) {
	out := make([]task.PrefetchedTask, len(reqs))
	serial := startSerial

	for i, req := range reqs {
		pt := task.PrefetchedTask{
			Request:           req,
			KeyHash:           keyhash.HashKey(req.Key),
			PriorSerial:       task.PriorAbsent,
			PredecessorSerial: task.PriorAbsent,
		}

		shortHash := keyhash.Short(pt.KeyHash)
		prior, err := lookupLive(keyIndex, ef, shortHash, req.Key)
		if err != nil {
			return nil, fmt.Errorf("pipeline: prefetch %s %x: %w", req.Kind, req.Key, err)
		}
		if prior != nil {
			pt.PriorExists = true
			pt.PriorSerial = prior.SerialNum
			pt.PriorEntry = prior
		}

		needsPredecessor := req.Kind == task.Create || (req.Kind == task.Delete && pt.PriorExists)
		if needsPredecessor {
			pred, predSerial, err := findPredecessor(keyIndex, ringIndex, ef, shortHash)
			if err != nil {
				return nil, fmt.Errorf("pipeline: prefetch predecessor for %s %x: %w", req.Kind, req.Key, err)
			}
			if pred != nil {
				pt.PredecessorExists = true
				pt.PredecessorSerial = predSerial
				pt.PredecessorEntry = pred
			}
		}

		pt.SerialNum = serial
		serial++
		out[i] = pt
	}
	return out, nil
}

// lookupLive resolves key's current live version, verifying the full key
// bytes to rule out a short-hash collision (spec section 4.2).
func lookupLive(idx indexer.Indexer, ef *entryfile.EntryFile, shortHash uint64, key []byte) (*task.PriorEntry, error) {
	candidates, err := idx.Get(shortHash)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		e, err := ef.ReadAt(c.Off)
		if err != nil {
			return nil, err
		}
		if string(e.Key) != string(key) {
			continue
		}
		return toPriorEntry(e.SerialNum, e.Height, c.Off, e.Key, e.Value, e.NextKeyHash), nil
	}
	return nil, nil
}

// findPredecessor locates the live ring entry P such that P.next_key_hash
// is the smallest live hash >= shortHash — i.e. the entry a new or removed
// key at shortHash would be spliced next to — together with P's serial
// number.
func findPredecessor(keyIndex, ringIndex indexer.Indexer, ef *entryfile.EntryFile, shortHash uint64) (*task.PriorEntry, uint64, error) {
	successor, ok, err := keyIndex.NextHashGE(shortHash)
	if err != nil {
		return nil, 0, err
	}
	var successorHashShort uint64
	if ok {
		successorHashShort = successor.ShortHash
	} else {
		// Empty or shortHash exceeds every live hash: the ring wraps, so the
		// successor is the smallest live hash overall.
		successor, ok, err = keyIndex.NextHashGE(0)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, nil // empty ring, no predecessor to find
		}
		successorHashShort = successor.ShortHash
	}

	predCandidates, err := ringIndex.Get(successorHashShort)
	if err != nil {
		return nil, 0, err
	}
	if len(predCandidates) == 0 {
		return nil, 0, fmt.Errorf("pipeline: ring index has no predecessor pointing at hash %016x", successorHashShort)
	}
	// successorHashShort came straight from the full next_key_hash value, so
	// a ring-index hit always carries the true 32-byte match; no secondary
	// byte comparison is needed here (unlike key lookups, which compare
	// full keys since two different keys can share a short hash).
	off := predCandidates[0].Off
	e, err := ef.ReadAt(off)
	if err != nil {
		return nil, 0, err
	}
	return toPriorEntry(e.SerialNum, e.Height, off, e.Key, e.Value, e.NextKeyHash), e.SerialNum, nil
}

func toPriorEntry(serial, height, offset uint64, key, value, nextKeyHash []byte) *task.PriorEntry {
	return &task.PriorEntry{
		SerialNum:   serial,
		Height:      height,
		Offset:      offset,
		Key:         append([]byte(nil), key...),
		Value:       append([]byte(nil), value...),
		NextKeyHash: append([]byte(nil), nextKeyHash...),
	}
}

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
	"errors"
	"fmt"

	"github.com/ardaglobal/qmdb/internal/codec"
	"github.com/ardaglobal/qmdb/internal/compress"
	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/indexer"
	"github.com/ardaglobal/qmdb/internal/keyhash"
	"github.com/ardaglobal/qmdb/internal/task"
	"github.com/ardaglobal/qmdb/internal/twig"
)

// classifyAppend reclassifies an append/deactivate failure for Submit (spec
// section 7): a Tree consistency violation stays InvariantViolated, every
// other failure here is a disk write or index mutation, hence Io.
func classifyAppend(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, twig.ErrInvariantViolated) || errors.Is(err, entryfile.ErrAlreadyInactive) {
		return fmt.Errorf("%w: %v", ErrInvariantViolated, err)
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

// ReadResult answers one Read request from the state committed before its
// block, as captured by Prefetch: a Create/Update/Delete ordered ahead of it
// in the same block is not visible to it.
type ReadResult struct {
	Key    []byte
	Value  []byte
	Found  bool
}

// Updater applies a block's prefetched tasks to the tree, EntryFile and the
// two indexer instances it owns (spec section 4.5). It holds no locks of
// its own beyond what Tree already serializes with, since Updater is the
// single writer for a given block by construction (the pipeline never runs
// two Updates concurrently).
type Updater struct {
	Tree        *twig.Tree
	EntryFile   *entryfile.EntryFile
	SerialIndex *entryfile.SerialIndex
	KeyIndex    indexer.Indexer
	RingIndex   indexer.Indexer
	Compressor  compress.Compressor

	// SealedTwigEnd, when non-nil, is called with (twigID, offsetPastLast)
	// each time a twig seals, so the compaction scheduler can later
	// translate "twig N is fully pruned" into a safe EntryFile.PruneTo
	// offset (spec section 4.1's head-prunable property).
	SealedTwigEnd func(twigID, offsetPastLast uint64)
}

// Apply runs every task of one block against the tree/indexers, in order,
// and returns the answers to any Read requests found along the way. It
// does not fsync or commit anything — that is Flush's job.
func (u *Updater) Apply(height uint64, tasks []task.PrefetchedTask) ([]ReadResult, error) {
	if u.Compressor == nil {
		u.Compressor = compress.None{}
	}
	var reads []ReadResult

	for _, pt := range tasks {
		switch pt.Request.Kind {
		case task.Read:
			reads = append(reads, u.applyRead(pt))
		case task.Create:
			if err := u.applyCreate(height, pt); err != nil {
				return nil, err
			}
		case task.Update:
			if pt.PriorExists {
				if err := u.applyModify(height, pt); err != nil {
					return nil, err
				}
			} else if err := u.applyCreate(height, pt); err != nil {
				return nil, err
			}
		case task.Delete:
			if err := u.applyDelete(height, pt); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("pipeline: unknown task kind %v", pt.Request.Kind)
		}
	}
	return reads, nil
}

func (u *Updater) applyRead(pt task.PrefetchedTask) ReadResult {
	if !pt.PriorExists {
		return ReadResult{Key: pt.Request.Key, Found: false}
	}
	val, err := u.Compressor.Decompress(pt.PriorEntry.Value)
	if err != nil {
		return ReadResult{Key: pt.Request.Key, Found: false}
	}
	return ReadResult{Key: pt.Request.Key, Value: val, Found: true}
}

// append encodes, writes and indexes a brand-new entry frame, returning its
// EntryFile offset.
func (u *Updater) append(e *codec.Entry, serial uint64) (uint64, error) {
	frame, err := e.Encode(nil)
	if err != nil {
		return 0, fmt.Errorf("pipeline: encode entry: %w", err)
	}
	off, err := u.EntryFile.Append(frame)
	if err != nil {
		return 0, classifyAppend(fmt.Errorf("pipeline: append entry: %w", err))
	}
	if err := u.SerialIndex.Append(off); err != nil {
		return 0, classifyAppend(fmt.Errorf("pipeline: serial index append: %w", err))
	}
	sealed, sealedTwigID, err := u.Tree.AppendEntry(frame, serial)
	if err != nil {
		return 0, classifyAppend(fmt.Errorf("pipeline: tree append: %w", err))
	}
	if sealed && u.SealedTwigEnd != nil {
		u.SealedTwigEnd(sealedTwigID, off+uint64(len(frame)))
	}
	return off, nil
}

func (u *Updater) applyCreate(height uint64, pt task.PrefetchedTask) error {
	if pt.PriorExists {
		return fmt.Errorf("%w: key %q", ErrAlreadyExists, pt.Request.Key)
	}
	shortHash := keyhash.Short(pt.KeyHash)

	var nextKeyHash []byte
	if pt.PredecessorExists {
		nextKeyHash = pt.PredecessorEntry.NextKeyHash
	} else {
		nextKeyHash = pt.KeyHash[:] // ring of one: points at itself
	}

	newSerial := u.Tree.NextSerial()
	entry := &codec.Entry{
		Height:      height,
		LastHeight:  codec.NoPriorVersion,
		SerialNum:   newSerial,
		Key:         pt.Request.Key,
		Value:       u.Compressor.Compress(pt.Request.Value),
		NextKeyHash: nextKeyHash,
	}
	off, err := u.append(entry, newSerial)
	if err != nil {
		return err
	}
	if err := u.KeyIndex.Put(shortHash, off); err != nil {
		return fmt.Errorf("%w: key index put: %v", ErrIO, err)
	}
	if err := u.RingIndex.Put(shortOfHashBytes(nextKeyHash), off); err != nil {
		return fmt.Errorf("%w: ring index put: %v", ErrIO, err)
	}

	if !pt.PredecessorExists {
		return nil
	}
	return u.repointPredecessor(height, pt.PredecessorEntry, pt.KeyHash[:])
}

func (u *Updater) applyDelete(height uint64, pt task.PrefetchedTask) error {
	if !pt.PriorExists {
		return nil // deleting an absent key is a no-op
	}
	shortHash := keyhash.Short(pt.KeyHash)

	if err := u.Tree.Deactivate(pt.PriorEntry.SerialNum); err != nil {
		return classifyAppend(fmt.Errorf("pipeline: deactivate %d: %w", pt.PriorEntry.SerialNum, err))
	}
	if err := u.KeyIndex.Remove(shortHash, pt.PriorEntry.Offset); err != nil {
		return fmt.Errorf("%w: key index remove: %v", ErrIO, err)
	}
	if err := u.RingIndex.Remove(shortOfHashBytes(pt.PriorEntry.NextKeyHash), pt.PriorEntry.Offset); err != nil {
		return fmt.Errorf("%w: ring index remove: %v", ErrIO, err)
	}

	if !pt.PredecessorExists || pt.PredecessorEntry.SerialNum == pt.PriorEntry.SerialNum {
		return nil // the deleted key was the only entry in the ring
	}
	return u.repointPredecessor(height, pt.PredecessorEntry, pt.PriorEntry.NextKeyHash)
}

// repointPredecessor re-appends pred with its next_key_hash updated to
// newNext, deactivating pred's old serial — the "redundant predecessor
// re-append" required because entries are immutable once written (spec
// sections 4.3.5 and 9).
func (u *Updater) repointPredecessor(height uint64, pred *task.PriorEntry, newNext []byte) error {
	predShort := keyhash.ShortOf(pred.Key)

	newSerial := u.Tree.NextSerial()
	entry := &codec.Entry{
		Height:         height,
		LastHeight:     pred.Height,
		SerialNum:      newSerial,
		Key:            pred.Key,
		Value:          pred.Value,
		NextKeyHash:    newNext,
		DeactivatedSNs: []uint64{pred.SerialNum},
	}
	off, err := u.append(entry, newSerial)
	if err != nil {
		return err
	}
	if err := u.Tree.Deactivate(pred.SerialNum); err != nil {
		return classifyAppend(fmt.Errorf("pipeline: deactivate predecessor %d: %w", pred.SerialNum, err))
	}
	if err := u.KeyIndex.Remove(predShort, pred.Offset); err != nil {
		return fmt.Errorf("%w: key index remove: %v", ErrIO, err)
	}
	if err := u.KeyIndex.Put(predShort, off); err != nil {
		return fmt.Errorf("%w: key index put: %v", ErrIO, err)
	}
	if err := u.RingIndex.Remove(shortOfHashBytes(pred.NextKeyHash), pred.Offset); err != nil {
		return fmt.Errorf("%w: ring index remove: %v", ErrIO, err)
	}
	if err := u.RingIndex.Put(shortOfHashBytes(newNext), off); err != nil {
		return fmt.Errorf("%w: ring index put: %v", ErrIO, err)
	}
	return nil
}

func (u *Updater) applyModify(height uint64, pt task.PrefetchedTask) error {
	shortHash := keyhash.Short(pt.KeyHash)
	prior := pt.PriorEntry

	newSerial := u.Tree.NextSerial()
	entry := &codec.Entry{
		Height:         height,
		LastHeight:     prior.Height,
		SerialNum:      newSerial,
		Key:            pt.Request.Key,
		Value:          u.Compressor.Compress(pt.Request.Value),
		NextKeyHash:    prior.NextKeyHash,
		DeactivatedSNs: []uint64{prior.SerialNum},
	}
	off, err := u.append(entry, newSerial)
	if err != nil {
		return err
	}
	if err := u.Tree.Deactivate(prior.SerialNum); err != nil {
		return classifyAppend(fmt.Errorf("pipeline: deactivate %d: %w", prior.SerialNum, err))
	}
	if err := u.KeyIndex.Remove(shortHash, prior.Offset); err != nil {
		return fmt.Errorf("%w: key index remove: %v", ErrIO, err)
	}
	if err := u.KeyIndex.Put(shortHash, off); err != nil {
		return fmt.Errorf("%w: key index put: %v", ErrIO, err)
	}
	if err := u.RingIndex.Remove(shortOfHashBytes(prior.NextKeyHash), prior.Offset); err != nil {
		return fmt.Errorf("%w: ring index remove: %v", ErrIO, err)
	}
	if err := u.RingIndex.Put(shortOfHashBytes(entry.NextKeyHash), off); err != nil {
		return fmt.Errorf("%w: ring index put: %v", ErrIO, err)
	}
	return nil
}

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
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/indexer"
	"github.com/ardaglobal/qmdb/internal/metadb"
	"github.com/ardaglobal/qmdb/internal/twig"
)

// Flusher owns the substrates that must durably agree after every block:
// EntryFile and TwigFile bytes on disk, the tree's recomputed root, both
// indexer generations, and the MetaDB record tying them together. Its
// Commit method is the linearization point named in spec sections 4.6 and
// 9 — once the MetaDB transaction in Commit returns nil, the block is
// durable; nothing before that point is visible to a reopened engine.
type Flusher struct {
	EntryFile   *entryfile.EntryFile
	SerialIndex *entryfile.SerialIndex
	TwigFile    *twig.TwigFile
	Tree        *twig.Tree
	KeyIndex    indexer.Indexer
	RingIndex   indexer.Indexer
	MetaDB      *metadb.DB
}

// retry wraps a fallible I/O call with a short bounded exponential backoff,
// for the transient (not corruption) failures a flush can hit against a
// real disk: a handful of retries, capped well under a block's deadline.
func retry(op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	return backoff.Retry(op, backoff.WithMaxRetries(b, 4))
}

// Flush durably persists every buffered append for the current block:
// EntryFile and TwigFile bytes, fsync'ed exactly once each (spec section
// 4.1/4.3), then recomputes the tree's root over this block's dirtied
// twigs (spec section 4.3.4).
func (f *Flusher) Flush() (twig.Hash, []uint64, error) {
	if err := retry(f.EntryFile.Flush); err != nil {
		return twig.Hash{}, nil, fmt.Errorf("%w: flush entryfile: %v", ErrIO, err)
	}
	if err := retry(f.SerialIndex.Sync); err != nil {
		return twig.Hash{}, nil, fmt.Errorf("%w: flush serial index: %v", ErrIO, err)
	}
	if err := retry(f.TwigFile.Sync); err != nil {
		return twig.Hash{}, nil, fmt.Errorf("%w: flush twigfile: %v", ErrIO, err)
	}
	dirty := f.Tree.DirtyTwigIDs()
	root := f.Tree.CommitBlock()
	return root, dirty, nil
}

// Commit is the linearization point itself: it commits MetaDB's transaction
// first — height, next serial number, root, EntryFile bounds, every
// dirtied twig's new root, and the generation the indexers are about to
// publish, all in one durable write — and only once that succeeds does it
// tell KeyIndex and RingIndex to publish their buffered mutations (spec
// sections 4.5, 4.6, 9). Publishing the indexer generations before MetaDB
// durably commits would let Engine.Get observe a key that a crash could
// still roll back, so the order here must not change.
func (f *Flusher) Commit(height, nextSerial uint64, root twig.Hash, dirtyTwigs []uint64) error {
	keyGen := f.KeyIndex.PeekNextGeneration()

	batch := metadb.NewBatch()
	batch.PutUint64(metadb.KeyHeight, height)
	batch.PutUint64(metadb.KeyNextSerial, nextSerial)
	batch.Put(metadb.KeyRoot, root[:])
	batch.PutUint64(metadb.KeyEntryFileHead, f.EntryFile.HeadOffset())
	batch.PutUint64(metadb.KeyEntryFileTail, f.EntryFile.TailOffset())
	batch.PutUint64(metadb.KeyIndexerGeneration, keyGen)

	for _, twigID := range dirtyTwigs {
		root := f.Tree.TwigRoot(twigID)
		batch.Put(metadb.TwigRootKey(twigID), root[:])
	}

	if err := f.MetaDB.Commit(batch); err != nil {
		return fmt.Errorf("%w: commit metadb batch: %v", ErrIO, err)
	}

	if _, err := f.KeyIndex.CommitGeneration(); err != nil {
		return fmt.Errorf("%w: publish key index generation: %v", ErrInvariantViolated, err)
	}
	if _, err := f.RingIndex.CommitGeneration(); err != nil {
		return fmt.Errorf("%w: publish ring index generation: %v", ErrInvariantViolated, err)
	}
	return nil
}

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

// Package qmdb is the public API of the Quick Merkle Database: an
// embeddable, versioned key-value store that produces a single Merkle root
// per block and can prove inclusion or exclusion of any key against it
// (see SPEC_FULL.md for the full design).
package qmdb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/indexer"
	"github.com/ardaglobal/qmdb/internal/keyhash"
	"github.com/ardaglobal/qmdb/internal/metadb"
	"github.com/ardaglobal/qmdb/internal/metrics"
	"github.com/ardaglobal/qmdb/internal/pipeline"
	"github.com/ardaglobal/qmdb/internal/proof"
	"github.com/ardaglobal/qmdb/internal/task"
	"github.com/ardaglobal/qmdb/internal/twig"
)

// InclusionProof and ExclusionProof are the public proof types (spec
// section 4.7), re-exported so embedders never import internal/proof.
type InclusionProof = proof.InclusionProof
type ExclusionProof = proof.ExclusionProof

// BlockResult is what Submit hands back for one committed block.
type BlockResult struct {
	Height uint64
	Root   [32]byte
	Reads  []pipeline.ReadResult
	Pruned int
}

// EngineStats reports a live snapshot for monitoring (spec section 8
// invariant 3's active-entry count, plus the ambient numbers an operator
// dashboard would want alongside it).
type EngineStats struct {
	Height        uint64
	NextSerial    uint64
	ActiveEntries uint64
	IndexerKeys   int
}

// Engine is one open QMDB instance: every substrate named in SPEC_FULL.md
// wired together behind Open/Close/Submit/Get/ProveInclusion/
// ProveExclusion/Verify/Stats.
type Engine struct {
	dir  string
	lock *flock.Flock

	entryFile   *entryfile.EntryFile
	serialIndex *entryfile.SerialIndex
	twigFile    *twig.TwigFile
	activeBits  *entryfile.ActiveBits
	tree        *twig.Tree
	keyIndex    indexer.Indexer
	ringIndex   indexer.Indexer
	metaDB      *metadb.DB
	metrics     *metrics.Engine

	pipeline *pipeline.Pipeline
	proof    *proof.Builder
	log      *zap.SugaredLogger

	mu       sync.Mutex
	height   uint64
	root     [32]byte
	poisoned error
}

// Open opens (or creates) an engine rooted at opts.Dir, replaying MetaDB's
// last checkpoint if one exists (spec section 6's reopen contract).
func Open(opts Options) (*Engine, error) {
	opts.setDefaults()
	if opts.Dir == "" {
		return nil, fmt.Errorf("qmdb: Options.Dir is required")
	}

	lock := flock.New(opts.Dir + "/LOCK")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("qmdb: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("qmdb: %s is already open by another process", opts.Dir)
	}

	ef, err := entryfile.Open(entryfile.Options{
		Dir:         opts.Dir,
		SegSizeBits: segBits(opts.EntryFileSegmentSize),
	})
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("qmdb: open entryfile: %w", err)
	}
	si, err := entryfile.OpenSerialIndex(opts.Dir)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("qmdb: open serial index: %w", err)
	}
	tf, err := twig.OpenTwigFile(twig.TwigFileOptions{Dir: opts.Dir, TwigsPerSeg: opts.TwigsPerSegment})
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("qmdb: open twigfile: %w", err)
	}
	mdb, err := metadb.Open(opts.Dir + "/meta")
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("qmdb: open metadb: %w", err)
	}

	cp, err := metadb.LoadCheckpoint(mdb)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("qmdb: load checkpoint: %w", err)
	}

	active := entryfile.NewActiveBits(cp.NextSerial)
	tr := twig.NewTree(tf, active, cp.NextSerial)
	if cp.HasCheckpoint {
		if err := metadb.ReplayTwigRoots(mdb, tr.Upper()); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("qmdb: replay twig roots: %w", err)
		}
	}

	keyIdx, ringIdx, err := openIndexers(opts)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("qmdb: open indexer: %w", err)
	}

	if cp.HasCheckpoint && cp.NextSerial > 0 {
		if err := replayLiveState(ef, si, active, keyIdx, ringIdx, cp.NextSerial); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("qmdb: replay live state: %w", err)
		}
	}

	m := metrics.NewEngine(opts.MetricsNamespace)

	updater := &pipeline.Updater{
		Tree:        tr,
		EntryFile:   ef,
		SerialIndex: si,
		KeyIndex:    keyIdx,
		RingIndex:   ringIdx,
		Compressor:  opts.Compressor,
	}
	flusher := &pipeline.Flusher{
		EntryFile:   ef,
		SerialIndex: si,
		TwigFile:    tf,
		Tree:        tr,
		KeyIndex:    keyIdx,
		RingIndex:   ringIdx,
		MetaDB:      mdb,
	}
	compactor := &pipeline.Compactor{
		Tree:      tr,
		Active:    active,
		EntryFile: ef,
		TwigFile:  tf,
		MetaDB:    mdb,
		Metrics:   m,
		Options:   opts.Compaction,
	}
	updater.SealedTwigEnd = compactor.RecordTwigEnd

	popts := pipeline.DefaultOptions()
	popts.QueueDepth = opts.PipelineQueueDepth
	popts.Compaction = opts.Compaction
	pl := pipeline.New(updater, flusher, compactor, m, popts)
	pl.Start()

	e := &Engine{
		dir:         opts.Dir,
		lock:        lock,
		entryFile:   ef,
		serialIndex: si,
		twigFile:    tf,
		activeBits:  active,
		tree:        tr,
		keyIndex:    keyIdx,
		ringIndex:   ringIdx,
		metaDB:      mdb,
		metrics:     m,
		pipeline:    pl,
		proof: &proof.Builder{
			Tree:        tr,
			EntryFile:   ef,
			SerialIndex: si,
			KeyIndex:    keyIdx,
			RingIndex:   ringIdx,
		},
		log:    opts.Logger,
		height: cp.Height,
		root:   cp.Root,
	}
	e.log.Infow("engine opened", "dir", opts.Dir, "height", cp.Height, "next_serial", cp.NextSerial)
	return e, nil
}

func segBits(size datasize.ByteSize) uint {
	n := uint64(size)
	if n == 0 {
		return 0 // EntryFile picks its own default
	}
	bits := uint(0)
	for (uint64(1) << bits) < n {
		bits++
	}
	return bits
}

func openIndexers(opts Options) (key, ring indexer.Indexer, err error) {
	switch opts.Indexer {
	case IndexerHybrid:
		key, err = indexer.NewHybrid(indexer.HybridOptions{Dir: opts.Dir + "/index/keys", PageCacheSize: opts.IndexerPageCache})
		if err != nil {
			return nil, nil, err
		}
		ring, err = indexer.NewHybrid(indexer.HybridOptions{Dir: opts.Dir + "/index/ring", PageCacheSize: opts.IndexerPageCache})
		if err != nil {
			key.Close()
			return nil, nil, err
		}
		return key, ring, nil
	default:
		return indexer.NewRAM(), indexer.NewRAM(), nil
	}
}

// replayLiveState rebuilds ActiveBits and — when the RAM indexer variant
// starts every reopen empty — the key and ring indexers, by walking the
// recorded serial numbers in ascending order: each entry marks its own
// serial active and, via DeactivatedSNs, clears whichever earlier serial it
// superseded. Ascending order guarantees a superseded serial was already
// marked active by the time its deactivation is replayed.
func replayLiveState(ef *entryfile.EntryFile, si *entryfile.SerialIndex, active *entryfile.ActiveBits, keyIdx, ringIdx indexer.Indexer, nextSerial uint64) error {
	rebuildIndexers := keyIdx.TotalKeys() == 0

	for serial := uint64(0); serial < nextSerial; serial++ {
		off, err := si.At(serial)
		if err != nil {
			continue // serial index itself was truncated by a prior crash before its fsync; treated as not-yet-durable
		}
		e, err := ef.ReadAt(off)
		if err != nil {
			continue // segment already pruned; only possible if every serial in it was deactivated before pruning
		}
		active.Set(serial)
		for _, d := range e.DeactivatedSNs {
			_ = active.Clear(d) // already-pruned predecessors were never Set above; ignore the resulting error
		}
		if rebuildIndexers {
			if err := keyIdx.Put(keyhash.ShortOf(e.Key), off); err != nil {
				return err
			}
			if err := ringIdx.Put(shortOfNextKeyHash(e.NextKeyHash), off); err != nil {
				return err
			}
		}
	}

	// Undo every superseded serial's indexer entry: a serial's own Put above
	// is only wrong if a later serial in the walk deactivated it, so a second
	// ascending pass removes the stale (shortHash, offset) pair of every
	// serial that ActiveBits now marks inactive.
	if rebuildIndexers {
		for serial := uint64(0); serial < nextSerial; serial++ {
			if active.Test(serial) {
				continue
			}
			off, err := si.At(serial)
			if err != nil {
				continue
			}
			e, err := ef.ReadAt(off)
			if err != nil {
				continue
			}
			_ = keyIdx.Remove(keyhash.ShortOf(e.Key), off)
			_ = ringIdx.Remove(shortOfNextKeyHash(e.NextKeyHash), off)
		}
		if _, err := keyIdx.CommitGeneration(); err != nil {
			return err
		}
		if _, err := ringIdx.CommitGeneration(); err != nil {
			return err
		}
	}
	return nil
}

func shortOfNextKeyHash(h []byte) uint64 {
	full := keyhash.Full{}
	copy(full[:], h)
	return keyhash.Short(full)
}

// Submit runs one block's requests through Prefetch/Update/Flush/Commit and
// blocks until it is durable, returning the new root and any Read results
// (spec sections 4.4-4.6). Blocks must be submitted in strictly increasing
// height order, one at a time.
func (e *Engine) Submit(height uint64, reqs []task.ChangeRequest) (BlockResult, error) {
	e.mu.Lock()
	if e.poisoned != nil {
		e.mu.Unlock()
		return BlockResult{}, fmt.Errorf("%w: %v", ErrPoisoned, e.poisoned)
	}
	if height != e.height+1 {
		e.mu.Unlock()
		return BlockResult{}, fmt.Errorf("%w: have %d, want %d", ErrHeightOutOfOrder, height, e.height+1)
	}
	e.mu.Unlock()

	nextSerial := e.tree.NextSerial()
	if err := e.pipeline.Submit(height, reqs, nextSerial); err != nil {
		return BlockResult{}, fmt.Errorf("%w: %v", ErrBlockClosed, err)
	}
	result, ok := <-e.pipeline.Results()
	if !ok {
		return BlockResult{}, fmt.Errorf("%w: pipeline closed mid-block", ErrBlockClosed)
	}
	if result.Err != nil {
		return BlockResult{}, e.handleBlockFailure(height, result.Err)
	}

	e.mu.Lock()
	e.height = result.Height
	e.root = result.Root
	e.mu.Unlock()

	if result.Pruned > 0 {
		e.log.Infow("compaction pruned twigs", "height", result.Height, "twigs", result.Pruned)
	}
	return BlockResult{Height: result.Height, Root: result.Root, Reads: result.Reads, Pruned: result.Pruned}, nil
}

// handleBlockFailure classifies a failed block's error (spec section 7):
// a transient Io failure or an AlreadyExists rejection aborts only this
// block, leaving the engine open for the next height; anything else is
// treated as Corrupt/InvariantViolated and poisons the engine, since
// in-memory state can no longer be trusted to match what's durable.
func (e *Engine) handleBlockFailure(height uint64, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyExists):
		e.log.Warnw("block rejected, key already exists", "height", height, "err", err)
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, pipeline.ErrIO):
		e.log.Warnw("block aborted on io error, engine stays open", "height", height, "err", err)
		return fmt.Errorf("%w: %v", ErrIO, err)
	default:
		e.mu.Lock()
		e.poisoned = err
		e.mu.Unlock()
		e.log.Errorw("block failed, engine poisoned", "height", height, "err", err)
		return fmt.Errorf("%w: %v", ErrInvariantViolated, err)
	}
}

// Get returns key's current live value, independent of the block pipeline
// (a committed read never blocks on Submit).
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	shortHash := keyhash.ShortOf(key)
	candidates, err := e.keyIndex.Get(shortHash)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	for _, c := range candidates {
		ent, err := e.entryFile.ReadAt(c.Off)
		if err != nil {
			if errors.Is(err, entryfile.ErrCorrupt) {
				return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			return nil, false, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if string(ent.Key) == string(key) {
			return ent.Value, true, nil
		}
	}
	return nil, false, nil
}

// Root returns the last committed block's root.
func (e *Engine) Root() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root
}

// Height returns the last committed block height.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

// ProveInclusion builds a proof that key's live value is v against the
// current root, or reports that key has no live entry (spec section 4.7).
func (e *Engine) ProveInclusion(key []byte) (*InclusionProof, bool, error) {
	return e.proof.BuildInclusion(key, e.Root())
}

// ProveExclusion builds a proof that key has no live entry against the
// current root.
func (e *Engine) ProveExclusion(key []byte) (*ExclusionProof, error) {
	return e.proof.BuildExclusion(key, e.Root())
}

// Verify runs the offline consistency walk of metadb.Verify against this
// engine's open substrates (the fsck operation of spec section C).
func (e *Engine) Verify() (*metadb.VerifyReport, error) {
	return metadb.Verify(e.metaDB, e.entryFile, e.tree.NextSerial(), e.serialIndex.At)
}

// Stats reports a live snapshot for monitoring.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	height, nextSerial := e.height, e.tree.NextSerial()
	e.mu.Unlock()
	return EngineStats{
		Height:        height,
		NextSerial:    nextSerial,
		ActiveEntries: e.activeBits.PopCount(),
		IndexerKeys:   e.keyIndex.TotalKeys(),
	}
}

// Metrics exposes the Prometheus registry for this engine, for embedders
// that want to wire it into their own /metrics endpoint.
func (e *Engine) Metrics() *metrics.Engine { return e.metrics }

// Close stops accepting new blocks, releases every open substrate and the
// single-instance lock.
func (e *Engine) Close() error {
	e.log.Infow("engine closing", "height", e.Height())
	e.pipeline.Close()

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	record(e.keyIndex.Close())
	record(e.ringIndex.Close())
	record(e.twigFile.Close())
	record(e.serialIndex.Close())
	record(e.entryFile.Close())
	record(e.metaDB.Close())
	record(e.lock.Unlock())
	return first
}

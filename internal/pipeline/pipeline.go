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

// Package pipeline implements the four named stages of spec section
// 4.4-4.6 — Prefetch, Update, Flush, Commit — as two goroutines: Prefetch
// runs inline on the submitter's goroutine (it needs the caller-provided
// height and next serial number before anything can be queued), and
// Update/Flush/Commit run in strict sequence on a single dedicated worker
// goroutine, fed through a bounded channel so a slow worker applies
// backpressure to Submit rather than letting memory grow unbounded (spec
// section 5). This is deliberately less parallel than "four goroutines,
// four stages": see DESIGN.md for why cross-block overlap was dropped.
package pipeline

import (
	"fmt"
	"time"

	"github.com/ardaglobal/qmdb/internal/indexer"
	"github.com/ardaglobal/qmdb/internal/metrics"
	"github.com/ardaglobal/qmdb/internal/task"
)

// Block is one block's worth of submitted requests.
type Block struct {
	Height   uint64
	Requests []task.ChangeRequest
}

// Result is what a committed block hands back to the embedder.
type Result struct {
	Height  uint64
	Root    [32]byte
	Reads   []ReadResult
	Pruned  int
	Err     error
}

// Options configures Pipeline's channel depths and compaction policy.
type Options struct {
	QueueDepth int
	Compaction CompactionOptions
}

// DefaultOptions returns the pipeline's defaults.
func DefaultOptions() Options {
	return Options{QueueDepth: 4, Compaction: DefaultCompactionOptions()}
}

// Pipeline runs blocks through Prefetch -> Update -> Flush -> Commit:
// Prefetch inline in Submit, Update/Flush/Commit on the one worker
// goroutine Start launches, joined to Submit by a bounded channel.
type Pipeline struct {
	opts Options

	updater   *Updater
	flusher   *Flusher
	compactor *Compactor
	metrics   *metrics.Engine

	keyIndex  indexer.Indexer
	ringIndex indexer.Indexer

	in      chan *blockJob
	out     chan Result
	closeCh chan struct{}
}

type blockJob struct {
	block Block
	tasks []task.PrefetchedTask
}

// New wires a Pipeline over already-open substrates. The caller retains
// ownership of every component passed in (Pipeline does not close them).
func New(updater *Updater, flusher *Flusher, compactor *Compactor, m *metrics.Engine, opts Options) *Pipeline {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 4
	}
	p := &Pipeline{
		opts:      opts,
		updater:   updater,
		flusher:   flusher,
		compactor: compactor,
		metrics:   m,
		keyIndex:  updater.KeyIndex,
		ringIndex: updater.RingIndex,
		in:        make(chan *blockJob, opts.QueueDepth),
		out:       make(chan Result, opts.QueueDepth),
		closeCh:   make(chan struct{}),
	}
	return p
}

// Start launches the single Update/Flush/Commit worker goroutine. Prefetch
// runs synchronously inside Submit (spec section 4.4 already requires it to
// run before a block enters the bounded pipeline, since it assigns serial
// numbers).
func (p *Pipeline) Start() {
	go p.updateStage()
}

// Results is the channel blocks' outcomes arrive on, in commit order.
func (p *Pipeline) Results() <-chan Result { return p.out }

// Submit prefetches reqs against the pipeline's indexers and EntryFile,
// then enqueues the block for Update/Flush/Commit. It blocks if the
// pipeline's input queue is full (the backpressure named in spec section
// 5), not if Update itself is slow — those are different channels.
func (p *Pipeline) Submit(height uint64, reqs []task.ChangeRequest, nextSerial uint64) error {
	tasks, err := Prefetch(reqs, nextSerial, p.keyIndex, p.ringIndex, p.updater.EntryFile)
	if err != nil {
		return fmt.Errorf("pipeline: submit block %d: %w", height, err)
	}
	select {
	case p.in <- &blockJob{block: Block{Height: height, Requests: reqs}, tasks: tasks}:
		return nil
	case <-p.closeCh:
		return fmt.Errorf("pipeline: closed")
	}
}

// Close stops accepting new blocks and returns without waiting: the worker
// goroutine finishes the blocks already queued, sends their Results, and
// then closes the Results channel.
func (p *Pipeline) Close() {
	close(p.closeCh)
	close(p.in)
}

func (p *Pipeline) updateStage() {
	for job := range p.in {
		start := time.Now()
		reads, err := p.updater.Apply(job.block.Height, job.tasks)
		if err != nil {
			p.out <- Result{Height: job.block.Height, Err: fmt.Errorf("pipeline: update: %w", err)}
			continue
		}
		_ = start
		p.flushStage(job.block.Height, reads)
	}
	close(p.out)
}

func (p *Pipeline) flushStage(height uint64, reads []ReadResult) {
	flushStart := time.Now()
	root, dirty, err := p.flusher.Flush()
	if p.metrics != nil {
		p.metrics.FlushDuration.Observe(time.Since(flushStart).Seconds())
	}
	if err != nil {
		p.out <- Result{Height: height, Err: fmt.Errorf("pipeline: flush: %w", err)}
		return
	}

	commitStart := time.Now()
	nextSerial := p.updater.Tree.NextSerial()
	err = p.flusher.Commit(height, nextSerial, root, dirty)
	if p.metrics != nil {
		p.metrics.CommitDuration.Observe(time.Since(commitStart).Seconds())
	}
	if err != nil {
		p.out <- Result{Height: height, Err: fmt.Errorf("pipeline: commit: %w", err)}
		return
	}
	if p.metrics != nil {
		p.metrics.BlocksCommitted.Inc()
	}

	pruned := 0
	if p.compactor != nil {
		if n, err := p.compactor.MaybeRun(); err == nil {
			pruned = n
		}
	}

	p.out <- Result{Height: height, Root: root, Reads: reads, Pruned: pruned}
}

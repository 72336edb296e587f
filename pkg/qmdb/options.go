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

package qmdb

import (
	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/ardaglobal/qmdb/internal/compress"
	"github.com/ardaglobal/qmdb/internal/pipeline"
)

// IndexerKind selects which Indexer variant an Engine opens with.
type IndexerKind int

const (
	// IndexerRAM keeps the entire indexer resident in memory.
	IndexerRAM IndexerKind = iota
	// IndexerHybrid keeps a bounded RAM page cache over SSD-resident pages.
	IndexerHybrid
)

// Options configures Open. Every field has a workable zero value except
// Dir, matching the teacher's habit of plain option structs rather than a
// builder (spec section 6).
type Options struct {
	// Dir is the engine's data directory; required.
	Dir string

	// EntryFileSegmentSize is the fixed size of one EntryFile segment.
	// Zero uses EntryFile's own default (256 MiB).
	EntryFileSegmentSize datasize.ByteSize

	// TwigsPerSegment bounds how many twigs' internal nodes share one
	// TwigFile segment. Zero uses TwigFile's own default.
	TwigsPerSegment uint64

	// Indexer selects the RAM or Hybrid indexer variant.
	Indexer IndexerKind
	// IndexerPageCache bounds the hybrid indexer's resident page count;
	// ignored for IndexerRAM.
	IndexerPageCache int

	// Compressor, if set, is applied to every value before it is written
	// and reversed on every read. Defaults to no compression.
	Compressor compress.Compressor

	// Compaction configures the head-pruning scheduler. Zero value uses
	// pipeline.DefaultCompactionOptions().
	Compaction pipeline.CompactionOptions

	// PipelineQueueDepth bounds how many blocks can be in flight between
	// Submit and a Result being available. Zero uses the pipeline's
	// default depth.
	PipelineQueueDepth int

	// MetricsNamespace is the Prometheus namespace Engine metrics are
	// registered under. Defaults to "qmdb".
	MetricsNamespace string

	// Logger receives structured lifecycle and error events. Defaults to a
	// no-op logger so embedders that don't care about logs pay nothing.
	Logger *zap.SugaredLogger
}

func (o *Options) setDefaults() {
	if o.MetricsNamespace == "" {
		o.MetricsNamespace = "qmdb"
	}
	if o.Compressor == nil {
		o.Compressor = compress.None{}
	}
	if o.Compaction.TriggerEntries == 0 && o.Compaction.BatchSize == 0 {
		o.Compaction = pipeline.DefaultCompactionOptions()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

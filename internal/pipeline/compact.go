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

	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/metadb"
	"github.com/ardaglobal/qmdb/internal/metrics"
	"github.com/ardaglobal/qmdb/internal/twig"
)

const twigEndKeyPrefix = "twig_end/"

func twigEndKey(twigID uint64) string {
	return fmt.Sprintf("%s%020d", twigEndKeyPrefix, twigID)
}

// CompactionOptions configures the head-pruning scheduler (a feature the
// distilled spec only gestures at via "head-prunable"; this is the
// supplemented concrete policy).
type CompactionOptions struct {
	// TriggerEntries is how many consecutive inactive serials must have
	// accumulated at the head before a compaction pass runs at all.
	TriggerEntries uint64
	// BatchSize bounds how many twigs one pass will prune, so a single
	// block's compaction work stays bounded even behind a long inactive
	// run (spec section 5's "bounded work per block" spirit).
	BatchSize int
}

// DefaultCompactionOptions mirrors SPEC_FULL's concrete defaults: a twig
// holds 2048 entries, and the trigger is set to 16 twigs' worth so a
// compaction pass has a meaningfully large contiguous run to reclaim.
func DefaultCompactionOptions() CompactionOptions {
	return CompactionOptions{
		TriggerEntries: twig.TwigLeaves * 16,
		BatchSize:      16,
	}
}

// Compactor implements the head-pruning sweep: starting from the oldest
// live twig, it prunes every twig whose entire serial range is inactive,
// up to BatchSize twigs per pass, then advances EntryFile's head pointer
// to the furthest segment boundary that lands at or before the last
// pruned twig's recorded end offset.
type Compactor struct {
	Tree      *twig.Tree
	Active    *entryfile.ActiveBits
	EntryFile *entryfile.EntryFile
	TwigFile  *twig.TwigFile
	MetaDB    *metadb.DB
	Metrics   *metrics.Engine
	Options   CompactionOptions
}

// RecordTwigEnd persists where twigID's entries end in EntryFile, called
// from Updater.SealedTwigEnd as twigs seal.
func (c *Compactor) RecordTwigEnd(twigID, offsetPastLast uint64) {
	b := metadb.NewBatch()
	b.PutUint64(twigEndKey(twigID), offsetPastLast)
	_ = c.MetaDB.Commit(b) // best-effort bookkeeping; a missing entry only blocks EntryFile pruning, not correctness
}

// MaybeRun prunes twigs at the head if the inactive run there has grown
// past Options.TriggerEntries, returning the number of twigs it pruned.
func (c *Compactor) MaybeRun() (int, error) {
	oldest, ok := c.Tree.Upper().OldestLiveTwig()
	if !ok {
		return 0, nil
	}

	inactiveRun := uint64(0)
	candidates := make([]uint64, 0, c.Options.BatchSize)
	for twigID := oldest; len(candidates) < c.Options.BatchSize; twigID++ {
		lo, hi := twigID*twig.TwigLeaves, (twigID+1)*twig.TwigLeaves
		if !c.Active.AllClearInRange(lo, hi) {
			break
		}
		candidates = append(candidates, twigID)
		inactiveRun += twig.TwigLeaves
	}
	if inactiveRun < c.Options.TriggerEntries {
		return 0, nil
	}

	var lastEnd uint64
	haveEnd := false
	for _, twigID := range candidates {
		if err := c.Tree.PruneTwig(twigID); err != nil {
			return 0, fmt.Errorf("pipeline: compact prune twig %d: %w", twigID, err)
		}
		if end, ok, err := c.MetaDB.GetUint64(twigEndKey(twigID)); err == nil && ok {
			lastEnd, haveEnd = end, true
		}
	}
	if err := c.TwigFile.UnlinkSegmentsBelow(candidates[len(candidates)-1] + 1); err != nil {
		return 0, fmt.Errorf("pipeline: unlink twig segments: %w", err)
	}

	prunedSegments := uint64(0)
	if haveEnd {
		boundary := lastEnd - (lastEnd % c.EntryFile.SegmentSize())
		if oldHead := c.EntryFile.HeadOffset(); boundary > oldHead {
			if err := c.EntryFile.PruneTo(boundary); err != nil && err != entryfile.ErrNotAtSegmentBoundary {
				return 0, fmt.Errorf("pipeline: prune entryfile: %w", err)
			}
			prunedSegments = (c.EntryFile.HeadOffset() - oldHead) / c.EntryFile.SegmentSize()
		}
	}

	if c.Metrics != nil {
		c.Metrics.CompactionRuns.Inc()
		c.Metrics.PrunedSegments.Add(float64(prunedSegments))
	}
	return len(candidates), nil
}

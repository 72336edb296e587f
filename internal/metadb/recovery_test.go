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

package metadb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardaglobal/qmdb/internal/codec"
	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/twig"
)

func TestLoadCheckpointOnFreshDB(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	cp, err := LoadCheckpoint(db)
	require.NoError(t, err)
	require.False(t, cp.HasCheckpoint)
}

func TestLoadCheckpointAfterCommit(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	root := twig.Hash{}
	root[0] = 0xAB

	b := NewBatch()
	b.PutUint64(KeyHeight, 12)
	b.PutUint64(KeyNextSerial, 2048)
	b.PutUint64(KeyEntryFileHead, 0)
	b.PutUint64(KeyEntryFileTail, 4096)
	b.PutUint64(KeyIndexerGeneration, 3)
	b.Put(KeyRoot, root[:])
	require.NoError(t, db.Commit(b))

	cp, err := LoadCheckpoint(db)
	require.NoError(t, err)
	require.True(t, cp.HasCheckpoint)
	require.Equal(t, uint64(12), cp.Height)
	require.Equal(t, uint64(2048), cp.NextSerial)
	require.Equal(t, uint64(3), cp.IndexerGeneration)
	require.Equal(t, root, cp.Root)
}

func TestReplayTwigRootsRebuildsUpperTreeLeaves(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	r0 := twig.Hash{1}
	r1 := twig.Hash{2}
	b := NewBatch()
	b.Put(TwigRootKey(0), r0[:])
	b.Put(TwigRootKey(1), r1[:])
	require.NoError(t, db.Commit(b))

	upper := twig.NewUpperTree()
	require.NoError(t, ReplayTwigRoots(db, upper))

	require.Equal(t, r0, upper.Leaf(0))
	require.Equal(t, r1, upper.Leaf(1))
	require.Equal(t, 2, upper.LiveTwigCount())
}

func TestVerifyReportsCleanForWellFormedEntries(t *testing.T) {
	ef, err := entryfile.Open(entryfile.Options{Dir: t.TempDir(), SegSizeBits: 16})
	require.NoError(t, err)
	defer ef.Close()

	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	var offsets []uint64
	for i := uint64(0); i < 3; i++ {
		e := &codec.Entry{Height: 1, LastHeight: codec.NoPriorVersion, SerialNum: i, Key: []byte("k"), Value: []byte("v")}
		frame, err := e.Encode(nil)
		require.NoError(t, err)
		off, err := ef.Append(frame)
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	require.NoError(t, ef.Flush())

	b := NewBatch()
	root := twig.Hash{9}
	b.Put(TwigRootKey(0), root[:])
	require.NoError(t, db.Commit(b))

	report, err := Verify(db, ef, 3, func(serial uint64) (uint64, error) {
		return offsets[serial], nil
	})
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, uint64(3), report.EntriesChecked)
	require.Equal(t, uint64(1), report.TwigsChecked)
}

func TestVerifyFlagsCorruptedOffset(t *testing.T) {
	ef, err := entryfile.Open(entryfile.Options{Dir: t.TempDir(), SegSizeBits: 16})
	require.NoError(t, err)
	defer ef.Close()

	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	b := NewBatch()
	root := twig.Hash{9}
	b.Put(TwigRootKey(0), root[:])
	require.NoError(t, db.Commit(b))

	report, err := Verify(db, ef, 1, func(serial uint64) (uint64, error) {
		return 0, nil // EntryFile is empty, this offset does not resolve to a valid frame
	})
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Contains(t, report.CorruptedOffsets, uint64(0))
}

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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardaglobal/qmdb/internal/codec"
)

func mustEncode(t *testing.T, e *codec.Entry) []byte {
	t.Helper()
	buf, err := e.Encode(nil)
	require.NoError(t, err)
	return buf
}

func TestAppendReadAtRoundTripsBeforeFlush(t *testing.T) {
	ef, err := Open(Options{Dir: t.TempDir(), SegSizeBits: 12})
	require.NoError(t, err)
	defer ef.Close()

	e := &codec.Entry{Height: 1, LastHeight: codec.NoPriorVersion, SerialNum: 0, Key: []byte("k"), Value: []byte("v")}
	off, err := ef.Append(mustEncode(t, e))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	got, err := ef.ReadAt(off)
	require.NoError(t, err)
	require.Equal(t, e.Key, got.Key)
	require.Equal(t, e.Value, got.Value)
}

func TestAppendReadAtRoundTripsAfterFlush(t *testing.T) {
	ef, err := Open(Options{Dir: t.TempDir(), SegSizeBits: 12})
	require.NoError(t, err)
	defer ef.Close()

	var offs []uint64
	for i := 0; i < 5; i++ {
		e := &codec.Entry{Height: uint64(i), LastHeight: codec.NoPriorVersion, SerialNum: uint64(i), Key: []byte("key"), Value: []byte("value")}
		off, err := ef.Append(mustEncode(t, e))
		require.NoError(t, err)
		offs = append(offs, off)
	}
	require.NoError(t, ef.Flush())

	for i, off := range offs {
		got, err := ef.ReadAt(off)
		require.NoError(t, err)
		require.Equal(t, uint64(i), got.Height)
	}
}

func TestAppendRollsOverSegmentsAndSegmentSizeFits(t *testing.T) {
	// Small segments force multiple rollovers across a handful of appends.
	ef, err := Open(Options{Dir: t.TempDir(), SegSizeBits: 6}) // 64-byte segments
	require.NoError(t, err)
	defer ef.Close()

	var offs []uint64
	for i := 0; i < 20; i++ {
		e := &codec.Entry{Height: uint64(i), LastHeight: codec.NoPriorVersion, SerialNum: uint64(i), Key: []byte("k"), Value: []byte("v")}
		off, err := ef.Append(mustEncode(t, e))
		require.NoError(t, err)
		offs = append(offs, off)
	}
	require.NoError(t, ef.Flush())

	for i, off := range offs {
		got, err := ef.ReadAt(off)
		require.NoError(t, err)
		require.Equal(t, uint64(i), got.Height)
	}
	require.Greater(t, ef.TailOffset(), uint64(0))
}

func TestPruneToRequiresSegmentBoundary(t *testing.T) {
	ef, err := Open(Options{Dir: t.TempDir(), SegSizeBits: 6})
	require.NoError(t, err)
	defer ef.Close()

	e := &codec.Entry{Height: 1, LastHeight: codec.NoPriorVersion, Key: []byte("k"), Value: []byte("v")}
	_, err = ef.Append(mustEncode(t, e))
	require.NoError(t, err)
	require.NoError(t, ef.Flush())

	err = ef.PruneTo(1)
	require.ErrorIs(t, err, ErrNotAtSegmentBoundary)
}

func TestPruneToUnlinksHeadSegments(t *testing.T) {
	ef, err := Open(Options{Dir: t.TempDir(), SegSizeBits: 6}) // 64-byte segments
	require.NoError(t, err)
	defer ef.Close()

	var offs []uint64
	for i := 0; i < 20; i++ {
		e := &codec.Entry{Height: uint64(i), LastHeight: codec.NoPriorVersion, SerialNum: uint64(i), Key: []byte("k"), Value: []byte("v")}
		off, err := ef.Append(mustEncode(t, e))
		require.NoError(t, err)
		offs = append(offs, off)
	}
	require.NoError(t, ef.Flush())

	require.Equal(t, uint64(0), ef.HeadOffset())
	require.NoError(t, ef.PruneTo(ef.SegmentSize()*2))
	require.Equal(t, ef.SegmentSize()*2, ef.HeadOffset())

	// Entries within a pruned segment are no longer readable.
	_, err = ef.ReadAt(offs[0])
	require.Error(t, err)

	// The still-live tail remains intact.
	last := offs[len(offs)-1]
	got, err := ef.ReadAt(last)
	require.NoError(t, err)
	require.Equal(t, uint64(len(offs)-1), got.Height)
}

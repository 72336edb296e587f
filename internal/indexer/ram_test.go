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

package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRAMPutNotVisibleUntilCommit(t *testing.T) {
	r := NewRAM()
	require.NoError(t, r.Put(42, 100))

	got, err := r.Get(42)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = r.CommitGeneration()
	require.NoError(t, err)

	got, err = r.Get(42)
	require.NoError(t, err)
	require.Equal(t, []Offset{{ShortHash: 42, Off: 100}}, got)
}

func TestRAMGetReturnsAllCollidingOffsets(t *testing.T) {
	r := NewRAM()
	require.NoError(t, r.Put(42, 100))
	require.NoError(t, r.Put(42, 200))
	require.NoError(t, r.Put(42, 300))
	_, err := r.CommitGeneration()
	require.NoError(t, err)

	got, err := r.Get(42)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestRAMRemoveDeletesOnlyTheSpecifiedOffset(t *testing.T) {
	r := NewRAM()
	require.NoError(t, r.Put(42, 100))
	require.NoError(t, r.Put(42, 200))
	require.NoError(t, r.Put(42, 300))
	_, err := r.CommitGeneration()
	require.NoError(t, err)
	require.Equal(t, 3, r.TotalKeys())

	require.NoError(t, r.Remove(42, 200))
	_, err = r.CommitGeneration()
	require.NoError(t, err)

	got, err := r.Get(42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, o := range got {
		require.NotEqual(t, uint64(200), o.Off)
	}
	require.Equal(t, 2, r.TotalKeys())
}

func TestRAMRemoveThenReinsertSameSuffix(t *testing.T) {
	r := NewRAM()
	require.NoError(t, r.Put(7, 1))
	_, err := r.CommitGeneration()
	require.NoError(t, err)

	require.NoError(t, r.Remove(7, 1))
	require.NoError(t, r.Put(7, 2))
	_, err = r.CommitGeneration()
	require.NoError(t, err)

	got, err := r.Get(7)
	require.NoError(t, err)
	require.Equal(t, []Offset{{ShortHash: 7, Off: 2}}, got)
}

func TestRAMNextHashGEFindsSmallestGreaterOrEqual(t *testing.T) {
	r := NewRAM()
	require.NoError(t, r.Put(10, 1))
	require.NoError(t, r.Put(30, 2))
	require.NoError(t, r.Put(20, 3))
	_, err := r.CommitGeneration()
	require.NoError(t, err)

	got, ok, err := r.NextHashGE(15)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), got.ShortHash)
}

func TestRAMNextHashGEWrapsAroundToSmallest(t *testing.T) {
	r := NewRAM()
	require.NoError(t, r.Put(10, 1))
	require.NoError(t, r.Put(20, 2))
	_, err := r.CommitGeneration()
	require.NoError(t, err)

	got, ok, err := r.NextHashGE(^uint64(0))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), got.ShortHash)
}

func TestRAMNextHashGEEmptyIndexer(t *testing.T) {
	r := NewRAM()
	_, ok, err := r.NextHashGE(5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRAMShardingSplitsByTopBits(t *testing.T) {
	low := uint64(1) << 48   // shard 1, suffix 0
	high := uint64(2) << 48  // shard 2, suffix 0
	require.Equal(t, uint16(1), shardOf(low))
	require.Equal(t, uint16(2), shardOf(high))
	require.Equal(t, uint64(0), suffixOf(low))
}

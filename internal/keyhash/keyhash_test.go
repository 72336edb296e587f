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

package keyhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashKeyIsDeterministicAndDistinguishing(t *testing.T) {
	a := HashKey([]byte("alice"))
	b := HashKey([]byte("alice"))
	c := HashKey([]byte("bob"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestShortOfMatchesHashKeyThenShort(t *testing.T) {
	key := []byte("composite-check")
	require.Equal(t, Short(HashKey(key)), ShortOf(key))
}

func TestShardOfAndSuffixPartitionShort(t *testing.T) {
	h := Short(HashKey([]byte("partition-me")))

	shard := ShardOf(h)
	suffix := Suffix(h)

	// Recomposing shard<<48 | suffix must reproduce h exactly: ShardOf and
	// Suffix are a lossless split of the 64-bit short hash.
	recomposed := uint64(shard)<<48 | suffix
	require.Equal(t, h, recomposed)
	require.LessOrEqual(t, suffix, uint64(0x0000FFFFFFFFFFFF))
}

func TestShardOfCoversFullShardSpace(t *testing.T) {
	// Top 16 bits set should map to the maximum shard id.
	require.Equal(t, uint16(0xFFFF), ShardOf(^uint64(0)))
	require.Equal(t, uint16(0), ShardOf(0x0000FFFFFFFFFFFF))
}

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
)

func TestCommitAndGetRoundTrip(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	b := NewBatch()
	b.Put("a", []byte("1"))
	b.PutUint64(KeyHeight, 7)
	require.NoError(t, db.Commit(b))

	v, ok, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	height, ok, err := db.GetUint64(KeyHeight)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), height)
}

func TestGetOnMissingKey(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	v, ok, err := db.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestBatchDeleteOverridesPut(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	b := NewBatch()
	b.Put("k", []byte("v"))
	b.Delete("k")
	require.NoError(t, db.Commit(b))

	_, ok, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanWalksPrefixInOrder(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	b := NewBatch()
	b.Put(TwigRootKey(2), []byte("root-2-bytes-padded-to-thirty-2"))
	b.Put(TwigRootKey(0), []byte("root-0-bytes-padded-to-thirty-2"))
	b.Put(TwigRootKey(10), []byte("root-10-bytes-padded-to-thirty2"))
	b.Put("other/unrelated", []byte("x"))
	require.NoError(t, db.Commit(b))

	var seen []uint64
	err = db.Scan(TwigRootPrefix(), func(key, val []byte) bool {
		id, perr := ParseTwigRootKey(key)
		require.NoError(t, perr)
		seen = append(seen, id)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2, 10}, seen)
}

func TestCommitAndLoadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	b := NewBatch()
	b.PutUint64(KeyHeight, 99)
	require.NoError(t, db.Commit(b))
	require.NoError(t, db.Close())

	db2, err := Open(dir)
	require.NoError(t, err)
	defer db2.Close()

	height, ok, err := db2.GetUint64(KeyHeight)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(99), height)
}

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

package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoneIsIdentity(t *testing.T) {
	v := []byte("some value bytes")
	var c None
	require.True(t, bytes.Equal(v, c.Compress(v)))

	got, err := c.Decompress(c.Compress(v))
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestSnappyRoundTrips(t *testing.T) {
	v := bytes.Repeat([]byte("repeat-me-"), 100)
	var c Snappy

	compressed := c.Compress(v)
	require.NotEqual(t, v, compressed)

	got, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestSnappyRejectsCorruptedInput(t *testing.T) {
	var c Snappy
	_, err := c.Decompress([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)
}

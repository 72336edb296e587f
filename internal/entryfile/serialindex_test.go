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
)

func TestSerialIndexAppendAndAt(t *testing.T) {
	si, err := OpenSerialIndex(t.TempDir())
	require.NoError(t, err)
	defer si.Close()

	offsets := []uint64{0, 46, 1000, 1<<40 + 7}
	for _, off := range offsets {
		require.NoError(t, si.Append(off))
	}
	require.Equal(t, uint64(len(offsets)), si.Count())

	for serial, want := range offsets {
		got, err := si.At(uint64(serial))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSerialIndexAtRejectsUnrecordedSerial(t *testing.T) {
	si, err := OpenSerialIndex(t.TempDir())
	require.NoError(t, err)
	defer si.Close()

	_, err = si.At(0)
	require.Error(t, err)
}

func TestSerialIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	si, err := OpenSerialIndex(dir)
	require.NoError(t, err)
	require.NoError(t, si.Append(111))
	require.NoError(t, si.Append(222))
	require.NoError(t, si.Sync())
	require.NoError(t, si.Close())

	si2, err := OpenSerialIndex(dir)
	require.NoError(t, err)
	defer si2.Close()

	require.Equal(t, uint64(2), si2.Count())
	got, err := si2.At(1)
	require.NoError(t, err)
	require.Equal(t, uint64(222), got)

	// The next Append must continue from serial 2, not overwrite existing data.
	require.NoError(t, si2.Append(333))
	got, err = si2.At(2)
	require.NoError(t, err)
	require.Equal(t, uint64(333), got)
}

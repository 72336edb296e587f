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

package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []*Entry{
		{
			Height:     1,
			LastHeight: NoPriorVersion,
			SerialNum:  0,
			Key:        []byte("alice"),
			Value:      []byte("balance=100"),
		},
		{
			Height:         42,
			LastHeight:     7,
			SerialNum:      1000,
			Key:            []byte("bob"),
			Value:          []byte{},
			NextKeyHash:    make([]byte, 32),
			DeactivatedSNs: []uint64{1, 2, 3},
		},
		{
			Height:     5,
			LastHeight: NoPriorVersion,
			SerialNum:  3,
			Key:        nil,
			Value:      nil,
		},
	}

	for _, want := range cases {
		buf, err := want.Encode(nil)
		require.NoError(t, err)
		require.Len(t, buf, want.EncodedLen())

		got, n, err := Decode(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, want.Height, got.Height)
		require.Equal(t, want.LastHeight, got.LastHeight)
		require.Equal(t, want.SerialNum, got.SerialNum)
		require.Equal(t, want.Key, got.Key)
		require.Equal(t, want.NextKeyHash, got.NextKeyHash)
		require.Equal(t, want.DeactivatedSNs, got.DeactivatedSNs)
	}
}

func TestEncodeAppendsToExistingBuffer(t *testing.T) {
	prefix := []byte("prefix-bytes")
	e := &Entry{Height: 1, LastHeight: NoPriorVersion, Key: []byte("k"), Value: []byte("v")}

	out, err := e.Encode(append([]byte(nil), prefix...))
	require.NoError(t, err)
	require.Equal(t, prefix, out[:len(prefix)])

	got, n, err := Decode(out[len(prefix):])
	require.NoError(t, err)
	require.Equal(t, len(out)-len(prefix), n)
	require.Equal(t, e.Key, got.Key)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	e := &Entry{Height: 1, LastHeight: NoPriorVersion, Key: []byte("k"), Value: []byte("v")}
	buf, err := e.Encode(nil)
	require.NoError(t, err)

	_, _, err = Decode(buf[:len(buf)-1])
	require.Error(t, err)

	_, _, err = Decode(buf[:2])
	require.Error(t, err)
}

func TestDecodeRejectsCorruptedCRC(t *testing.T) {
	e := &Entry{Height: 1, LastHeight: NoPriorVersion, Key: []byte("k"), Value: []byte("v")}
	buf, err := e.Encode(nil)
	require.NoError(t, err)

	buf[len(buf)-1] ^= 0xFF

	_, _, err = Decode(buf)
	require.Error(t, err)
	require.IsType(t, &ErrDecode{}, err)
}

// TestEncodeDecodeRoundTripMatchesWholeStruct diffs the full decoded Entry
// against the original in one shot, catching a field TestEncodeDecodeRoundTrip
// above would miss if a future field were added but not wired into both
// Encode and Decode.
func TestEncodeDecodeRoundTripMatchesWholeStruct(t *testing.T) {
	want := &Entry{
		Height:         9,
		LastHeight:     3,
		SerialNum:      2048,
		Key:            []byte("carol"),
		Value:          []byte("balance=250"),
		NextKeyHash:    make([]byte, 32),
		DeactivatedSNs: []uint64{5, 6},
	}
	buf, err := want.Encode(nil)
	require.NoError(t, err)

	got, _, err := Decode(buf)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("decoded entry mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRejectsOversizedKey(t *testing.T) {
	e := &Entry{Key: make([]byte, 1<<16)}
	_, err := e.Encode(nil)
	require.Error(t, err)
}

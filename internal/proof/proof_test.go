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

package proof

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardaglobal/qmdb/internal/codec"
	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/indexer"
	"github.com/ardaglobal/qmdb/internal/keyhash"
	"github.com/ardaglobal/qmdb/internal/twig"
)

// fixture wires a minimal tree/entryfile/indexer substrate and appends a set
// of keys as live entries forming a ring, returning a Builder ready to prove
// against the resulting root.
type fixture struct {
	ef  *entryfile.EntryFile
	si  *entryfile.SerialIndex
	tf  *twig.TwigFile
	tr  *twig.Tree
	ab  *entryfile.ActiveBits
	ki  indexer.Indexer
	ri  indexer.Indexer
	b   *Builder
}

func newFixture(t *testing.T, keys []string) *fixture {
	t.Helper()
	dir := t.TempDir()

	ef, err := entryfile.Open(entryfile.Options{Dir: dir, SegSizeBits: 20})
	require.NoError(t, err)
	si, err := entryfile.OpenSerialIndex(dir)
	require.NoError(t, err)
	tf, err := twig.OpenTwigFile(twig.TwigFileOptions{Dir: dir, TwigsPerSeg: 4})
	require.NoError(t, err)
	ab := entryfile.NewActiveBits(0)
	tr := twig.NewTree(tf, ab, 0)
	ki := indexer.NewRAM()
	ri := indexer.NewRAM()

	f := &fixture{ef: ef, si: si, tf: tf, tr: tr, ab: ab, ki: ki, ri: ri}
	f.b = &Builder{Tree: tr, EntryFile: ef, SerialIndex: si, KeyIndex: ki, RingIndex: ri}

	// Sort keys by full key hash so each entry's next_key_hash can point at
	// its true ring successor, wrapping the last back to the first.
	type keyed struct {
		key  string
		hash keyhash.Full
	}
	ks := make([]keyed, len(keys))
	for i, k := range keys {
		ks[i] = keyed{key: k, hash: keyhash.HashKey([]byte(k))}
	}
	for i := range ks {
		for j := i + 1; j < len(ks); j++ {
			if string(ks[j].hash[:]) < string(ks[i].hash[:]) {
				ks[i], ks[j] = ks[j], ks[i]
			}
		}
	}

	for i, k := range ks {
		next := ks[(i+1)%len(ks)].hash
		serial := tr.NextSerial()
		e := &codec.Entry{
			Height:      1,
			LastHeight:  codec.NoPriorVersion,
			SerialNum:   serial,
			Key:         []byte(k.key),
			Value:       []byte("val-" + k.key),
			NextKeyHash: next[:],
		}
		frame, err := e.Encode(nil)
		require.NoError(t, err)
		off, err := ef.Append(frame)
		require.NoError(t, err)
		require.NoError(t, si.Append(off))
		_, _, err = tr.AppendEntry(frame, serial)
		require.NoError(t, err)

		shortHash := keyhash.Short(k.hash)
		require.NoError(t, ki.Put(shortHash, off))
		nextShort := keyhash.Short(next)
		require.NoError(t, ri.Put(nextShort, off))
	}
	_, err = ki.CommitGeneration()
	require.NoError(t, err)
	_, err = ri.CommitGeneration()
	require.NoError(t, err)

	t.Cleanup(func() {
		ef.Close()
		si.Close()
		tf.Close()
	})
	return f
}

func (f *fixture) root() twig.Hash {
	dirty := f.tr.DirtyTwigIDs()
	root := f.tr.CommitBlock()
	_ = dirty
	return root
}

func TestBuildInclusionAndVerifyRoundTrips(t *testing.T) {
	f := newFixture(t, []string{"alpha", "beta", "gamma"})
	root := f.root()

	p, ok, err := f.b.BuildInclusion([]byte("beta"), root)
	require.NoError(t, err)
	require.True(t, ok)

	val, err := p.Verify()
	require.NoError(t, err)
	require.Equal(t, []byte("val-beta"), val)
}

func TestBuildInclusionMissingKeyReturnsNotFound(t *testing.T) {
	f := newFixture(t, []string{"alpha", "beta"})
	root := f.root()

	p, ok, err := f.b.BuildInclusion([]byte("nope"), root)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, p)
}

func TestInclusionProofVerifyRejectsWrongRoot(t *testing.T) {
	f := newFixture(t, []string{"alpha", "beta"})
	root := f.root()

	p, ok, err := f.b.BuildInclusion([]byte("alpha"), root)
	require.NoError(t, err)
	require.True(t, ok)

	p.Root[0] ^= 0xFF
	_, err = p.Verify()
	require.Error(t, err)
}

func TestBuildExclusionAndVerifyRoundTrips(t *testing.T) {
	f := newFixture(t, []string{"alpha", "beta", "gamma"})
	root := f.root()

	p, err := f.b.BuildExclusion([]byte("nonexistent-key"), root)
	require.NoError(t, err)
	require.NoError(t, p.Verify())
}

func TestBuildExclusionRejectsLiveKey(t *testing.T) {
	f := newFixture(t, []string{"alpha", "beta"})
	root := f.root()

	_, err := f.b.BuildExclusion([]byte("alpha"), root)
	require.Error(t, err)
}

func TestRingBetweenHandlesWraparound(t *testing.T) {
	var lo, x, hi [32]byte
	lo[0], x[0], hi[0] = 0xF0, 0x01, 0x05 // hi < lo: the ring wraps through zero
	require.True(t, ringBetween(lo, x, hi))

	x[0] = 0xF8 // between lo and the wrap point, still inside the gap
	require.True(t, ringBetween(lo, x, hi))

	x[0] = 0x06 // past hi on the far side of the wrap, outside the gap
	require.False(t, ringBetween(lo, x, hi))
}

func TestBuildUpperExistenceAndVerify(t *testing.T) {
	f := newFixture(t, []string{"alpha", "beta"})
	root := f.root()

	p := f.b.BuildUpperExistence(0)
	require.NoError(t, VerifyUpperExistence(root, p))
}

func TestVerifyUpperExistenceRejectsTamperedRoot(t *testing.T) {
	f := newFixture(t, []string{"alpha", "beta"})
	root := f.root()
	root[0] ^= 0xFF

	p := f.b.BuildUpperExistence(0)
	require.Error(t, VerifyUpperExistence(root, p))
}

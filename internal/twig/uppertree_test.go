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

package twig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpperTreeEmptyRootIsEmptyTwigRoot(t *testing.T) {
	u := NewUpperTree()
	dirty := NewDirtySet()
	root := u.CommitBlock(dirty)
	require.Equal(t, EmptyTwigRoot(), root)
}

func TestUpperTreeSetTwigRootChangesCommittedRoot(t *testing.T) {
	u := NewUpperTree()
	dirty := NewDirtySet()

	r0 := keccak([]byte("twig-0-root"))
	u.SetTwigRoot(0, r0, dirty)
	root := u.CommitBlock(dirty)

	require.NotEqual(t, EmptyTwigRoot(), root)
	require.Equal(t, r0, u.Leaf(0))
}

func TestUpperTreePathToVerifiesUpToRoot(t *testing.T) {
	u := NewUpperTree()
	dirty := NewDirtySet()

	for id := uint64(0); id < 5; id++ {
		u.SetTwigRoot(id, keccak([]byte{byte(id)}), dirty)
	}
	root := u.CommitBlock(dirty)

	for id := uint64(0); id < 5; id++ {
		leaf := u.Leaf(id)
		path := u.PathTo(id)

		cur := leaf
		idx := id
		for _, sib := range path {
			if idx%2 == 0 {
				cur = NodeHash(cur, sib)
			} else {
				cur = NodeHash(sib, cur)
			}
			idx /= 2
		}
		require.Equal(t, root, cur, "twig %d failed to verify", id)
	}
}

func TestUpperTreePruneTwigCollapsesToEmptyLeaf(t *testing.T) {
	u := NewUpperTree()
	dirty := NewDirtySet()

	u.SetTwigRoot(0, keccak([]byte("root-0")), dirty)
	u.CommitBlock(dirty)

	dirty2 := NewDirtySet()
	u.PruneTwig(0, dirty2)
	u.CommitBlock(dirty2)

	require.Equal(t, EmptyTwigRoot(), u.Leaf(0))
	require.Equal(t, 0, u.LiveTwigCount())
}

func TestUpperTreeOldestLiveTwig(t *testing.T) {
	u := NewUpperTree()
	dirty := NewDirtySet()

	_, found := u.OldestLiveTwig()
	require.False(t, found)

	u.SetTwigRoot(5, keccak([]byte("a")), dirty)
	u.SetTwigRoot(2, keccak([]byte("b")), dirty)
	u.SetTwigRoot(9, keccak([]byte("c")), dirty)
	u.CommitBlock(dirty)

	id, found := u.OldestLiveTwig()
	require.True(t, found)
	require.Equal(t, uint64(2), id)
	require.Equal(t, 3, u.LiveTwigCount())
}

func TestUpperTreeCommitBlockIsIdempotentWithNoNewDirt(t *testing.T) {
	u := NewUpperTree()
	dirty := NewDirtySet()
	u.SetTwigRoot(0, keccak([]byte("x")), dirty)
	root1 := u.CommitBlock(dirty)

	root2 := u.CommitBlock(NewDirtySet())
	require.Equal(t, root1, root2)
}

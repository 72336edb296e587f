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

func TestNodeHashIsOrderSensitive(t *testing.T) {
	a := keccak([]byte("a"))
	b := keccak([]byte("b"))

	require.NotEqual(t, NodeHash(a, b), NodeHash(b, a))
	require.Equal(t, NodeHash(a, b), NodeHash(a, b))
}

func TestActiveLeafHashDistinguishesOnAndOff(t *testing.T) {
	require.NotEqual(t, ActiveLeafHash(true), ActiveLeafHash(false))
}

func TestCombineTwigRootIsDomainSeparatedFromNodeHash(t *testing.T) {
	entryRoot := keccak([]byte("entry"))
	activeRoot := keccak([]byte("active"))

	combined := CombineTwigRoot(entryRoot, activeRoot)
	plain := NodeHash(entryRoot, activeRoot)

	// The twig-root combiner folds in a domain tag, so it must never collide
	// with a plain two-child NodeHash of the same two inputs.
	require.NotEqual(t, combined, plain)
}

func TestEmptySubtreeHashIsConsistentWithNodeHash(t *testing.T) {
	leaf := EmptySubtreeHash(0)
	level1 := EmptySubtreeHash(1)
	require.Equal(t, NodeHash(leaf, leaf), level1)
}

func TestEmptyTwigRootMatchesTwigLevelsDepth(t *testing.T) {
	require.Equal(t, EmptySubtreeHash(TwigLevels), EmptyTwigRoot())
}

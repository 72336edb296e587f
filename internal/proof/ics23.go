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
	"encoding/binary"
	"fmt"

	ics23 "github.com/bnb-chain/ics23/go"

	"github.com/ardaglobal/qmdb/internal/twig"
)

// UpperTreeSpec describes the upper tree's plain binary NodeHash(left,
// right) = keccak256(left||right) combiner (spec section 4.3.1) in ics23's
// portable wire format, letting an external verifier (one that only links
// ics23, not this module) check that a twig root is included in a block
// root without understanding QMDB's own witness encoding.
func UpperTreeSpec() *ics23.ProofSpec {
	return &ics23.ProofSpec{
		LeafSpec: &ics23.LeafOp{
			Hash:         ics23.HashOp_KECCAK,
			PrehashKey:   ics23.HashOp_NO_HASH,
			PrehashValue: ics23.HashOp_NO_HASH,
			Length:       ics23.LengthOp_NO_PREFIX,
			Prefix:       []byte{},
		},
		InnerSpec: &ics23.InnerSpec{
			ChildOrder:      []int32{0, 1},
			ChildSize:       32,
			MinPrefixLength: 0,
			MaxPrefixLength: 32,
			Hash:            ics23.HashOp_KECCAK,
		},
		MinDepth: 0,
		MaxDepth: 64,
	}
}

// UpperExistenceProof builds an ics23 ExistenceProof that twigID's current
// root is committed under root via the upper tree, from the same sibling
// path UpperPath already returns. key is twigID encoded big-endian so two
// different twig ids never collide as ics23 keys.
func UpperExistenceProof(twigID uint64, twigRoot twig.Hash, upperPath []twig.Hash) *ics23.ExistenceProof {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, twigID)

	path := make([]*ics23.InnerOp, len(upperPath))
	idx := twigID
	for i, sibling := range upperPath {
		if idx%2 == 0 {
			// This node is the left child: sibling is appended after it.
			path[i] = &ics23.InnerOp{Hash: ics23.HashOp_KECCAK, Prefix: []byte{}, Suffix: append([]byte(nil), sibling[:]...)}
		} else {
			// This node is the right child: sibling is prepended before it.
			path[i] = &ics23.InnerOp{Hash: ics23.HashOp_KECCAK, Prefix: append([]byte(nil), sibling[:]...), Suffix: []byte{}}
		}
		idx /= 2
	}

	return &ics23.ExistenceProof{
		Key:   key,
		Value: append([]byte(nil), twigRoot[:]...),
		Leaf:  UpperTreeSpec().LeafSpec,
		Path:  path,
	}
}

// VerifyUpperExistence checks an ics23 ExistenceProof against a block root,
// the portable-wire-format counterpart to Tree.UpperPath verification.
func VerifyUpperExistence(root twig.Hash, p *ics23.ExistenceProof) error {
	ok := ics23.VerifyMembership(UpperTreeSpec(), root[:], &ics23.CommitmentProof{
		Proof: &ics23.CommitmentProof_Exist{Exist: p},
	}, p.Key, p.Value)
	if !ok {
		return fmt.Errorf("proof: ics23 upper tree membership check failed")
	}
	return nil
}

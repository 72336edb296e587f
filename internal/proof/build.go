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
	"fmt"

	ics23 "github.com/bnb-chain/ics23/go"

	"github.com/ardaglobal/qmdb/internal/entryfile"
	"github.com/ardaglobal/qmdb/internal/indexer"
	"github.com/ardaglobal/qmdb/internal/keyhash"
	"github.com/ardaglobal/qmdb/internal/twig"
)

// Builder composes a live engine's substrates into proofs. It only reads;
// nothing here mutates tree, entry log or indexer state.
type Builder struct {
	Tree        *twig.Tree
	EntryFile   *entryfile.EntryFile
	SerialIndex *entryfile.SerialIndex
	KeyIndex    indexer.Indexer
	RingIndex   indexer.Indexer
}

// witnessFor builds the EntryWitness for serialNum, whose own frame is
// already known to the caller (frame) together with its current active
// state.
func (b *Builder) witnessFor(serialNum uint64, frame []byte, active bool) (EntryWitness, error) {
	twigID, leafIdx := serialNum>>twig.TwigLevels, int(serialNum&(twig.TwigLeaves-1))
	siblingSerial := twig.SiblingSerial(serialNum)

	siblingOff, err := b.SerialIndex.At(siblingSerial)
	if err != nil {
		return EntryWitness{}, fmt.Errorf("proof: locate sibling serial %d: %w", siblingSerial, err)
	}
	siblingEntry, err := b.EntryFile.ReadAt(siblingOff)
	if err != nil {
		return EntryWitness{}, fmt.Errorf("proof: read sibling entry: %w", err)
	}
	siblingFrame, err := siblingEntry.Encode(nil)
	if err != nil {
		return EntryWitness{}, fmt.Errorf("proof: re-encode sibling entry: %w", err)
	}

	entryPath, err := b.Tree.EntryPath(serialNum, siblingFrame)
	if err != nil {
		return EntryWitness{}, fmt.Errorf("proof: entry path: %w", err)
	}
	activePath, err := b.Tree.ActivePath(serialNum)
	if err != nil {
		return EntryWitness{}, fmt.Errorf("proof: active path: %w", err)
	}
	upperPath := b.Tree.UpperPath(twigID)

	return EntryWitness{
		Frame:      frame,
		TwigID:     twigID,
		LeafIdx:    leafIdx,
		EntryPath:  entryPath,
		ActivePath: activePath,
		Active:     active,
		UpperPath:  upperPath,
	}, nil
}

// BuildInclusion constructs a proof that key's current live value is v,
// or reports that key has no live entry.
func (b *Builder) BuildInclusion(key []byte, root twig.Hash) (*InclusionProof, bool, error) {
	shortHash := keyhash.ShortOf(key)
	candidates, err := b.KeyIndex.Get(shortHash)
	if err != nil {
		return nil, false, err
	}
	for _, c := range candidates {
		e, err := b.EntryFile.ReadAt(c.Off)
		if err != nil {
			return nil, false, err
		}
		if string(e.Key) != string(key) {
			continue
		}
		frame, err := e.Encode(nil)
		if err != nil {
			return nil, false, err
		}
		w, err := b.witnessFor(e.SerialNum, frame, true)
		if err != nil {
			return nil, false, err
		}
		return &InclusionProof{Key: key, Entry: w, Root: root}, true, nil
	}
	return nil, false, nil
}

// BuildExclusion constructs a proof that key has no live entry, using the
// ring predecessor the indexer already tracks (internal/pipeline's
// ringIndex reverse-pointer map).
func (b *Builder) BuildExclusion(key []byte, root twig.Hash) (*ExclusionProof, error) {
	hash := keyhash.HashKey(key)
	shortHash := keyhash.Short(hash)

	successor, ok, err := b.KeyIndex.NextHashGE(shortHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		successor, ok, err = b.KeyIndex.NextHashGE(0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("proof: empty ring has no predecessor to exhibit")
		}
	} else if successor.ShortHash == shortHash {
		return nil, fmt.Errorf("proof: key has a live entry, exclusion proof does not apply")
	}

	predCandidates, err := b.RingIndex.Get(successor.ShortHash)
	if err != nil {
		return nil, err
	}
	if len(predCandidates) == 0 {
		return nil, fmt.Errorf("proof: ring index has no predecessor for hash %016x", successor.ShortHash)
	}
	predOff := predCandidates[0].Off
	pred, err := b.EntryFile.ReadAt(predOff)
	if err != nil {
		return nil, err
	}
	predFrame, err := pred.Encode(nil)
	if err != nil {
		return nil, err
	}
	w, err := b.witnessFor(pred.SerialNum, predFrame, true)
	if err != nil {
		return nil, err
	}
	return &ExclusionProof{KeyHash: [32]byte(hash), Predecessor: w, Root: root}, nil
}

// BuildUpperExistence returns an ics23 wire-format proof that twigID's
// current root is committed under the block root, for external verifiers
// that only want to check upper-tree membership without decoding QMDB's
// own EntryWitness encoding.
func (b *Builder) BuildUpperExistence(twigID uint64) *ics23.ExistenceProof {
	return UpperExistenceProof(twigID, b.Tree.TwigRoot(twigID), b.Tree.UpperPath(twigID))
}

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

// Package task defines the unit of work that flows through the four-stage
// pipeline (spec sections 4.4-4.6): a ChangeRequest submitted by the
// embedder becomes a Task, which Prefetch annotates with everything Update
// needs so Update never itself blocks on I/O.
package task

// Kind is the change a ChangeRequest asks for.
type Kind int

const (
	Create Kind = iota
	Update
	Delete
	Read
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Read:
		return "read"
	default:
		return "unknown"
	}
}

// ChangeRequest is one embedder-submitted operation against a block (spec
// section 6).
type ChangeRequest struct {
	Kind  Kind
	Key   []byte
	Value []byte
}

// PrefetchedTask is a ChangeRequest enriched by the Prefetch stage with
// everything the Update stage will need to touch the tree/indexer/
// ActiveBits without performing any I/O of its own (spec section 4.4):
// the request's own prior version if one exists, and — for Create, and for
// Delete of a live key — the predecessor entry in the hash-ordered ring the
// key is spliced into or out of.
type PrefetchedTask struct {
	Request ChangeRequest

	// SerialNum is the block's start serial plus this task's position in
	// the block, set by the Prefetch stage. Update does not read it: each
	// entry it appends takes the tree's next serial at apply time, so Reads,
	// no-op Deletes and predecessor re-appends make the two differ.
	SerialNum uint64

	// KeyHash is keyhash.HashKey(Request.Key), precomputed once.
	KeyHash [32]byte

	// PriorSerial is the serial number of Key's current live version, or
	// PriorAbsent if Key has no live version (a fresh Create, or a
	// Read/Update/Delete of a key that does not exist).
	PriorSerial uint64
	PriorExists bool
	// PriorEntry holds the decoded current live version of Key when
	// PriorExists; Update consults it to build the new version's
	// last_height and next_key_hash chain, and to know which serial to
	// deactivate.
	PriorEntry *PriorEntry

	// PredecessorSerial is the serial number of the ring predecessor — the
	// live entry whose next_key_hash is the smallest live key hash >=
	// KeyHash, wrapping to the smallest one if none is — needed to splice a
	// key into or out of the ring (spec section 4.3.5 / 9's predecessor
	// re-append note), or PriorAbsent if there is none. Populated for
	// Create, and for Delete of a live key.
	PredecessorSerial uint64
	PredecessorExists bool
	PredecessorEntry  *PriorEntry
}

// PriorEntry is the subset of a previously-written Entry that Update needs,
// decoupled from the codec package so task stays a leaf dependency.
type PriorEntry struct {
	SerialNum   uint64
	Height      uint64
	Offset      uint64
	Key         []byte
	Value       []byte
	NextKeyHash []byte
}

// PriorAbsent is the sentinel PriorSerial/PredecessorSerial carry when no
// such entry exists.
const PriorAbsent = ^uint64(0)

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

package pipeline

import "errors"

// Error kinds named by spec section 7, so Engine.Submit can tell a
// transient failure (block aborts, engine stays open) from a fatal one
// (engine poisons) instead of treating every pipeline error the same way.
var (
	// ErrAlreadyExists is returned when a Create task names a key that
	// already has a live entry (spec section 8 scenario S1: a replayed or
	// duplicate Create must not produce two simultaneously-active serials
	// for one key). It aborts only the block that produced it.
	ErrAlreadyExists = errors.New("pipeline: key already exists")
	// ErrIO marks a failure as a disk I/O problem: a fsync, a page read, or
	// a MetaDB write that didn't succeed even after retry. The block this
	// came from aborts, but the engine's in-memory state is untouched and
	// stays open for the next Submit.
	ErrIO = errors.New("pipeline: io error")
	// ErrInvariantViolated marks a failure that leaves in-memory state
	// possibly inconsistent with what's durable: a double-activation, a
	// double-deactivation, or an out-of-order append_entry. The caller
	// must stop submitting blocks until the engine is reopened.
	ErrInvariantViolated = errors.New("pipeline: invariant violated")
)

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

package qmdb

import "errors"

// Sentinel error kinds named by spec section 7. Callers test with
// errors.Is; wrapped errors from internal packages (entryfile.ErrCorrupt and
// friends) are translated to these at the Engine boundary so embedders
// never need to import internal packages to recognize a failure kind.
var (
	// ErrCorrupt means a frame's length prefix or CRC32 trailer did not
	// decode.
	ErrCorrupt = errors.New("qmdb: corrupt")
	// ErrNotFound means a key has no live entry.
	ErrNotFound = errors.New("qmdb: not found")
	// ErrHeightOutOfOrder means Submit was called with a height that does
	// not immediately follow the last committed one.
	ErrHeightOutOfOrder = errors.New("qmdb: height out of order")
	// ErrBlockClosed means Submit was called after Close.
	ErrBlockClosed = errors.New("qmdb: engine closed")
	// ErrNotAtSegmentBoundary mirrors entryfile.PruneTo's precondition.
	ErrNotAtSegmentBoundary = errors.New("qmdb: offset not at segment boundary")
	// ErrIO wraps an underlying filesystem failure. It is transient: the
	// block that hit it aborted, but the engine's in-memory state was not
	// touched and Submit can be retried on the next height.
	ErrIO = errors.New("qmdb: io error")
	// ErrInvariantViolated means an internal consistency check failed — a
	// double-activation, a double-deactivation, or a prune of a twig with
	// a live serial still inside it (spec section 7). It is fatal: the
	// engine poisons itself.
	ErrInvariantViolated = errors.New("qmdb: invariant violated")
	// ErrAlreadyExists means a Create task named a key that already has a
	// live entry (spec section 8 scenario S1). The offending block aborts;
	// the engine stays open.
	ErrAlreadyExists = errors.New("qmdb: key already exists")
	// ErrPoisoned means a prior Corrupt or InvariantViolated failure left
	// the engine's in-memory state possibly inconsistent with disk; Engine
	// refuses further Submit calls until reopened. A plain ErrIO or
	// ErrAlreadyExists never poisons the engine — see Engine.Submit.
	ErrPoisoned = errors.New("qmdb: engine poisoned, reopen required")
)

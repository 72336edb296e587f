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
	"errors"
	"fmt"
	"sync"

	"github.com/willf/bitset"
)

// ErrAlreadyInactive marks Clear's failure as an InvariantViolated condition
// (spec section 7: "deactivating a bit already zero") rather than a
// transient I/O one.
var ErrAlreadyInactive = errors.New("activebits: already inactive")

// ActiveBits is the dense bit array over serial numbers described by spec
// section 3: bit i is 1 iff the entry with serial_num = i is the current
// authoritative version of its key. It is written only by the Flusher and
// read by the Flusher and proof generators (spec section 5).
type ActiveBits struct {
	mu  sync.RWMutex
	bs  *bitset.BitSet
	pop uint64 // cached popcount, maintained incrementally
}

// NewActiveBits creates an empty bit array sized for an initial capacity
// hint; it grows automatically as higher serial numbers are set.
func NewActiveBits(hint uint64) *ActiveBits {
	return &ActiveBits{bs: bitset.New(uint(hint))}
}

// Set marks serial as live. Setting a bit that is already 1 leaves the bit
// and the population count unchanged.
func (a *ActiveBits) Set(serial uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.bs.Test(uint(serial)) {
		a.pop++
	}
	a.bs.Set(uint(serial))
}

// Clear deactivates serial. Clearing an already-clear bit is the
// InvariantViolated condition named in spec section 7 (design note:
// "deactivating a bit already zero").
func (a *ActiveBits) Clear(serial uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.bs.Test(uint(serial)) {
		return fmt.Errorf("%w: serial %d", ErrAlreadyInactive, serial)
	}
	a.bs.Clear(uint(serial))
	a.pop--
	return nil
}

// Test reports whether serial is currently active.
func (a *ActiveBits) Test(serial uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bs.Test(uint(serial))
}

// PopCount returns the number of currently active serials, i.e. the live
// entry count (spec section 8 invariant 3).
func (a *ActiveBits) PopCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pop
}

// AllClearInRange reports whether every serial in [lo, hi) is inactive,
// used to decide whether a twig is eligible for pruning (spec section
// 4.3.2 prune_twig).
func (a *ActiveBits) AllClearInRange(lo, hi uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := lo; i < hi; i++ {
		if a.bs.Test(uint(i)) {
			return false
		}
	}
	return true
}

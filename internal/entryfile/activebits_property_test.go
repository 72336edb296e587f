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
	"testing"

	"pgregory.net/rapid"
)

// TestActiveBitsMatchesBoolSliceModel checks ActiveBits against a plain
// []bool model across random sequences of Set/Clear/Test, the property
// that matters for spec section 8 invariant 3: PopCount always equals the
// model's live count, and Test always agrees with the model's bit.
func TestActiveBitsMatchesBoolSliceModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		const span = 64
		model := make([]bool, span)
		a := NewActiveBits(span)

		steps := rapid.IntRange(1, 200).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			serial := uint64(rapid.IntRange(0, span-1).Draw(rt, "serial"))
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0: // Set
				if !model[serial] {
					a.Set(serial)
					model[serial] = true
				}
			case 1: // Clear
				if model[serial] {
					if err := a.Clear(serial); err != nil {
						rt.Fatalf("Clear(%d): %v", serial, err)
					}
					model[serial] = false
				}
			case 2: // Test, no mutation
				if got := a.Test(serial); got != model[serial] {
					rt.Fatalf("Test(%d) = %v, model says %v", serial, got, model[serial])
				}
			}
		}

		var wantPop uint64
		for _, live := range model {
			if live {
				wantPop++
			}
		}
		if got := a.PopCount(); got != wantPop {
			rt.Fatalf("PopCount() = %d, want %d", got, wantPop)
		}
		for serial, live := range model {
			if got := a.Test(uint64(serial)); got != live {
				rt.Fatalf("final Test(%d) = %v, want %v", serial, got, live)
			}
		}
	})
}

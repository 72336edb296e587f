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

// Package compress is the optional value-compression hook supplementing
// spec section 4.1's Entry frame: large values can be compressed before
// being handed to codec.Entry.Encode, at the cost of the embedder needing
// to know which Compressor was in effect when it reads Value back out.
// QMDB itself never compresses transparently, since decompressing on every
// read would break the "entry hash is the hash of its own stored bytes"
// property proofs rely on — whatever Compressor is configured is applied
// before hashing, not after.
package compress

import "github.com/golang/snappy"

// Compressor turns a value into its stored representation and back.
type Compressor interface {
	Compress(v []byte) []byte
	Decompress(v []byte) ([]byte, error)
}

// None stores values unmodified; the default when Options.Compressor is
// left unset.
type None struct{}

func (None) Compress(v []byte) []byte             { return v }
func (None) Decompress(v []byte) ([]byte, error)   { return v, nil }

// Snappy compresses values with github.com/golang/snappy's block format.
type Snappy struct{}

func (Snappy) Compress(v []byte) []byte { return snappy.Encode(nil, v) }
func (Snappy) Decompress(v []byte) ([]byte, error) {
	return snappy.Decode(nil, v)
}

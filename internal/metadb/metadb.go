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

// Package metadb is the small ordered-KV store backing checkpoints and
// engine metadata (spec section 4.1's MetaDB), built on erigontech/mdbx-go.
// A single MDBX transaction per block commit is the linearization point
// named in spec sections 4.6 and 9: once that transaction is durable, the
// block is durable, full stop.
package metadb

import (
	"encoding/binary"
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"
)

// DB wraps one MDBX environment with a single named table holding every
// key QMDB needs (schema.go lists the key-space layout).
type DB struct {
	env   *mdbx.Env
	dbi   mdbx.DBI
	path  string
}

// Open creates or opens the MetaDB directory at path.
func Open(path string) (*DB, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("metadb: new env: %w", err)
	}
	if err := env.SetGeometry(-1, -1, 64<<30, -1, -1, 4096); err != nil {
		return nil, fmt.Errorf("metadb: set geometry: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, 1); err != nil {
		return nil, fmt.Errorf("metadb: set max dbs: %w", err)
	}
	if err := env.Open(path, mdbx.Coalesce|mdbx.LifoReclaim, 0o644); err != nil {
		return nil, fmt.Errorf("metadb: open %s: %w", path, err)
	}

	var dbi mdbx.DBI
	err = env.Update(func(txn *mdbx.Txn) error {
		var e error
		dbi, e = txn.OpenDBI("qmdb", mdbx.Create, nil, nil)
		return e
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("metadb: open table: %w", err)
	}
	return &DB{env: env, dbi: dbi, path: path}, nil
}

// Close releases the MDBX environment.
func (d *DB) Close() error {
	d.env.Close()
	return nil
}

// Get reads a single key. It returns (nil, false, nil) when absent.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := d.env.View(func(txn *mdbx.Txn) error {
		v, e := txn.Get(d.dbi, key)
		if mdbx.IsNotFound(e) {
			return nil
		}
		if e != nil {
			return e
		}
		val = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("metadb: get: %w", err)
	}
	return val, val != nil, nil
}

// Batch is a set of key/value writes (and deletes, via a nil value) applied
// in a single MDBX transaction — the atomic publication step the Flusher
// uses to commit a block (spec section 4.6).
type Batch struct {
	puts    map[string][]byte
	deletes map[string]struct{}
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{puts: make(map[string][]byte), deletes: make(map[string]struct{})}
}

// Put stages a key/value write.
func (b *Batch) Put(key string, val []byte) {
	delete(b.deletes, key)
	b.puts[key] = val
}

// Delete stages a key removal.
func (b *Batch) Delete(key string) {
	delete(b.puts, key)
	b.deletes[key] = struct{}{}
}

// PutUint64 stages a fixed 8-byte little-endian value, the encoding used
// throughout schema.go for heights, serial numbers, and offsets.
func (b *Batch) PutUint64(key string, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Put(key, buf[:])
}

// Commit applies every staged write in one MDBX transaction and fsyncs
// before returning, so a returned nil error means the block is durable.
func (d *DB) Commit(b *Batch) error {
	return d.env.Update(func(txn *mdbx.Txn) error {
		for k, v := range b.puts {
			if err := txn.Put(d.dbi, []byte(k), v, 0); err != nil {
				return fmt.Errorf("metadb: put %q: %w", k, err)
			}
		}
		for k := range b.deletes {
			if err := txn.Del(d.dbi, []byte(k), nil); err != nil && !mdbx.IsNotFound(err) {
				return fmt.Errorf("metadb: delete %q: %w", k, err)
			}
		}
		return nil
	})
}

// Scan calls fn for every key with the given prefix, in ascending key
// order, stopping early if fn returns false.
func (d *DB) Scan(prefix []byte, fn func(key, val []byte) bool) error {
	return d.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(d.dbi)
		if err != nil {
			return err
		}
		defer cur.Close()

		k, v, err := cur.Get(prefix, nil, mdbx.SetRange)
		for ; err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
			if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
				break
			}
			if !fn(k, v) {
				break
			}
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// GetUint64 reads a fixed 8-byte little-endian value written by PutUint64.
func (d *DB) GetUint64(key string) (uint64, bool, error) {
	v, ok, err := d.Get([]byte(key))
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("metadb: key %q is not an 8-byte value", key)
	}
	return binary.LittleEndian.Uint64(v), true, nil
}

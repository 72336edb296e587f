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

import "github.com/ardaglobal/qmdb/internal/task"

// ChangeRequest is one embedder-submitted operation against a block (spec
// section 6). It is a plain alias of internal/task's type: the public
// surface needs nothing the pipeline's own request type doesn't already
// have.
type ChangeRequest = task.ChangeRequest

// Kind is the change a ChangeRequest asks for.
type Kind = task.Kind

const (
	Create = task.Create
	Update = task.Update
	Delete = task.Delete
	Read   = task.Read
)

// Put is a convenience constructor for a Create-or-Update request: Submit
// resolves which of the two applies based on whether key currently has a
// live entry.
func Put(key, value []byte) ChangeRequest {
	return ChangeRequest{Kind: Update, Key: key, Value: value}
}

// Del is a convenience constructor for a Delete request.
func Del(key []byte) ChangeRequest {
	return ChangeRequest{Kind: Delete, Key: key}
}

// GetRequest is a convenience constructor for a Read request. It is
// answered from the state committed before its block: writes earlier in the
// same block are not visible to it.
func GetRequest(key []byte) ChangeRequest {
	return ChangeRequest{Kind: Read, Key: key}
}

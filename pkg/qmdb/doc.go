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

// Typical usage:
//
//	e, err := qmdb.Open(qmdb.Options{Dir: "/var/lib/qmdb"})
//	if err != nil { ... }
//	defer e.Close()
//
//	res, err := e.Submit(e.Height()+1, []qmdb.ChangeRequest{
//		qmdb.Put([]byte("k"), []byte("v")),
//	})
//
//	proof, found, err := e.ProveInclusion([]byte("k"))

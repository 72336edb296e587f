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

// Package codec encodes and decodes the on-disk Entry frame described by
// spec section 6: a length-prefixed, CRC32-trailered payload with
// little-endian integers throughout. It has no knowledge of offsets,
// segments or the Merkle tree; it only turns an Entry into bytes and back.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// NoPriorVersion is the last_height sentinel for a key's first write.
const NoPriorVersion = ^uint64(0)

// Entry is the atomic, immutable log record described by spec section 3.
type Entry struct {
	Height          uint64
	LastHeight      uint64
	SerialNum       uint64
	Key             []byte
	Value           []byte
	NextKeyHash     []byte
	DeactivatedSNs  []uint64
}

// ErrDecode wraps any failure to parse a frame; callers map it to the
// engine-level Corrupt error kind.
type ErrDecode struct {
	Reason string
}

func (e *ErrDecode) Error() string { return "codec: " + e.Reason }

// EncodedLen returns the number of bytes Encode will produce, including the
// outer u32 length prefix and u32 trailing CRC32.
func (e *Entry) EncodedLen() int {
	return 4 + e.payloadLen() + 4
}

func (e *Entry) payloadLen() int {
	n := 8 + 8 + 8 // height, last_height, serial_num
	n += 2 + len(e.Key)
	n += 4 + len(e.Value)
	n += 4 + len(e.NextKeyHash)
	n += 2 + 8*len(e.DeactivatedSNs)
	return n
}

// Encode appends the wire representation of e to dst and returns the
// extended slice.
func (e *Entry) Encode(dst []byte) ([]byte, error) {
	if len(e.Key) > 1<<16-1 {
		return nil, fmt.Errorf("codec: key_len %d exceeds u16", len(e.Key))
	}
	if len(e.NextKeyHash) > 1<<32-1 {
		return nil, fmt.Errorf("codec: next_key_hash_len too large")
	}
	if len(e.DeactivatedSNs) > 1<<16-1 {
		return nil, fmt.Errorf("codec: dsn_count %d exceeds u16", len(e.DeactivatedSNs))
	}

	payloadLen := e.payloadLen()
	start := len(dst)
	dst = append(dst, make([]byte, 4+payloadLen+4)...)

	binary.LittleEndian.PutUint32(dst[start:], uint32(payloadLen))
	p := start + 4

	binary.LittleEndian.PutUint64(dst[p:], e.Height)
	p += 8
	binary.LittleEndian.PutUint64(dst[p:], e.LastHeight)
	p += 8
	binary.LittleEndian.PutUint64(dst[p:], e.SerialNum)
	p += 8

	binary.LittleEndian.PutUint16(dst[p:], uint16(len(e.Key)))
	p += 2
	p += copy(dst[p:], e.Key)

	binary.LittleEndian.PutUint32(dst[p:], uint32(len(e.Value)))
	p += 4
	p += copy(dst[p:], e.Value)

	binary.LittleEndian.PutUint32(dst[p:], uint32(len(e.NextKeyHash)))
	p += 4
	p += copy(dst[p:], e.NextKeyHash)

	binary.LittleEndian.PutUint16(dst[p:], uint16(len(e.DeactivatedSNs)))
	p += 2
	for _, sn := range e.DeactivatedSNs {
		binary.LittleEndian.PutUint64(dst[p:], sn)
		p += 8
	}

	crc := crc32.ChecksumIEEE(dst[start+4 : p])
	binary.LittleEndian.PutUint32(dst[p:], crc)
	p += 4

	if p != start+4+payloadLen+4 {
		panic("codec: encoder length accounting bug")
	}
	return dst, nil
}

// Decode parses one frame from the head of buf, returning the entry and the
// number of bytes consumed. It never retains references into buf.
func Decode(buf []byte) (*Entry, int, error) {
	if len(buf) < 4 {
		return nil, 0, &ErrDecode{"buffer shorter than length prefix"}
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf))
	frameLen := 4 + payloadLen + 4
	if payloadLen < 8+8+8+2+4+4+2 {
		return nil, 0, &ErrDecode{"payload length implausibly small"}
	}
	if len(buf) < frameLen {
		return nil, 0, &ErrDecode{"buffer shorter than declared frame"}
	}

	payload := buf[4 : 4+payloadLen]
	wantCRC := binary.LittleEndian.Uint32(buf[4+payloadLen:])
	gotCRC := crc32.ChecksumIEEE(payload)
	if wantCRC != gotCRC {
		return nil, 0, &ErrDecode{"crc32 mismatch"}
	}

	e := &Entry{}
	p := 0
	e.Height = binary.LittleEndian.Uint64(payload[p:])
	p += 8
	e.LastHeight = binary.LittleEndian.Uint64(payload[p:])
	p += 8
	e.SerialNum = binary.LittleEndian.Uint64(payload[p:])
	p += 8

	keyLen := int(binary.LittleEndian.Uint16(payload[p:]))
	p += 2
	if p+keyLen > len(payload) {
		return nil, 0, &ErrDecode{"key overruns payload"}
	}
	e.Key = append([]byte(nil), payload[p:p+keyLen]...)
	p += keyLen

	valLen := int(binary.LittleEndian.Uint32(payload[p:]))
	p += 4
	if p+valLen > len(payload) {
		return nil, 0, &ErrDecode{"value overruns payload"}
	}
	e.Value = append([]byte(nil), payload[p:p+valLen]...)
	p += valLen

	nkhLen := int(binary.LittleEndian.Uint32(payload[p:]))
	p += 4
	if p+nkhLen > len(payload) {
		return nil, 0, &ErrDecode{"next_key_hash overruns payload"}
	}
	e.NextKeyHash = append([]byte(nil), payload[p:p+nkhLen]...)
	p += nkhLen

	dsnCount := int(binary.LittleEndian.Uint16(payload[p:]))
	p += 2
	if p+8*dsnCount > len(payload) {
		return nil, 0, &ErrDecode{"deactivated_sns overruns payload"}
	}
	if dsnCount > 0 {
		e.DeactivatedSNs = make([]uint64, dsnCount)
		for i := 0; i < dsnCount; i++ {
			e.DeactivatedSNs[i] = binary.LittleEndian.Uint64(payload[p:])
			p += 8
		}
	}

	return e, frameLen, nil
}

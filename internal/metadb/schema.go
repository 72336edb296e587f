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

package metadb

import "fmt"

// Key-space layout. A single flat MDBX table holds all of it; prefixes
// keep the families sorted apart from each other so Scan can walk one
// family without touching the others.
const (
	// KeyHeight holds the last committed block height (spec section 6).
	KeyHeight = "meta/height"
	// KeyNextSerial holds the next serial number append_entry expects.
	KeyNextSerial = "meta/next_serial"
	// KeyRoot holds the 32-byte root hash of the last committed block.
	KeyRoot = "meta/root"
	// KeyEntryFileTail holds EntryFile's logical tail offset.
	KeyEntryFileTail = "meta/entryfile_tail"
	// KeyEntryFileHead holds EntryFile's logical head offset (spec section
	// 4.1's head-prunable property).
	KeyEntryFileHead = "meta/entryfile_head"
	// KeyIndexerGeneration holds the indexer's last published generation.
	KeyIndexerGeneration = "meta/indexer_generation"

	twigRootPrefix = "twig_roots/"
)

// TwigRootKey addresses the persisted root of twigID, used to rebuild the
// upper tree's live-leaf registry on reopen without rescanning TwigFile.
func TwigRootKey(twigID uint64) string {
	return fmt.Sprintf("%s%020d", twigRootPrefix, twigID)
}

// TwigRootPrefix is passed to Scan to replay every registered twig root in
// ascending twig-id order.
func TwigRootPrefix() []byte { return []byte(twigRootPrefix) }

// ParseTwigRootKey extracts the twig id back out of a key produced by
// TwigRootKey, for use inside a Scan callback.
func ParseTwigRootKey(key []byte) (uint64, error) {
	if len(key) <= len(twigRootPrefix) {
		return 0, fmt.Errorf("metadb: malformed twig root key %q", key)
	}
	var id uint64
	if _, err := fmt.Sscanf(string(key[len(twigRootPrefix):]), "%020d", &id); err != nil {
		return 0, fmt.Errorf("metadb: parse twig root key %q: %w", key, err)
	}
	return id, nil
}

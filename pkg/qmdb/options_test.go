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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardaglobal/qmdb/internal/compress"
	"github.com/ardaglobal/qmdb/internal/pipeline"
)

func TestSetDefaultsFillsEveryZeroValueField(t *testing.T) {
	var o Options
	o.setDefaults()

	require.Equal(t, "qmdb", o.MetricsNamespace)
	require.Equal(t, compress.None{}, o.Compressor)
	require.Equal(t, pipeline.DefaultCompactionOptions(), o.Compaction)
	require.NotNil(t, o.Logger)
}

func TestSetDefaultsPreservesExplicitValues(t *testing.T) {
	o := Options{
		MetricsNamespace: "custom",
		Compressor:       compress.Snappy{},
		Compaction:       pipeline.CompactionOptions{TriggerEntries: 7, BatchSize: 2},
	}
	o.setDefaults()

	require.Equal(t, "custom", o.MetricsNamespace)
	require.Equal(t, compress.Snappy{}, o.Compressor)
	require.Equal(t, pipeline.CompactionOptions{TriggerEntries: 7, BatchSize: 2}, o.Compaction)
}

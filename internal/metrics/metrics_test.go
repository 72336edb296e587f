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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewEngineRegistersEveryMetric(t *testing.T) {
	m := NewEngine("qmdb_test")

	m.BlocksCommitted.Inc()
	m.ActiveEntries.Set(5)
	m.PipelineBacklog.WithLabelValues("update").Set(3)

	require.Equal(t, float64(1), testutil.ToFloat64(m.BlocksCommitted))
	require.Equal(t, float64(5), testutil.ToFloat64(m.ActiveEntries))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestTwoEnginesDoNotCollideOnRegistry(t *testing.T) {
	a := NewEngine("qmdb_a")
	b := NewEngine("qmdb_b")

	a.BlocksCommitted.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(a.BlocksCommitted))
	require.Equal(t, float64(0), testutil.ToFloat64(b.BlocksCommitted))
}

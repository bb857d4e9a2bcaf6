// Copyright 2025 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	opts, err := parseMetric(`regenv_env_attach{result="created"}`)
	require.NoError(t, err)
	require.Equal(t, "regenv_env_attach", opts.Name)
	require.Equal(t, "created", opts.ConstLabels["result"])

	opts, err = parseMetric("plain")
	require.NoError(t, err)
	require.Equal(t, "plain", opts.Name)
	require.Nil(t, opts.ConstLabels)

	_, err = parseMetric(`broken{a="b"`)
	require.Error(t, err)
}

func TestGetOrCreateCounter(t *testing.T) {
	c := GetOrCreateCounter(`metrics_test_counter{kind="a"}`)
	c.AddInt(2)
	same := GetOrCreateCounter(`metrics_test_counter{kind="a"}`)
	same.Inc()
	require.Equal(t, uint64(3), c.GetValueUint64())

	g := GetOrCreateGauge("metrics_test_gauge")
	g.SetInt(7)
	require.Equal(t, float64(7), g.GetValue())
}

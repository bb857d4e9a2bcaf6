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

//go:build linux

package osutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapSystemSegment(t *testing.T) {
	seg := &Segment{Size: uint64(PageSize())}
	a, err := Map("shm-test", seg, true, true, 0o600)
	if err != nil {
		t.Skipf("system shared memory unavailable: %v", err)
	}
	require.NotEqual(t, InvalidSegID, seg.SegID)
	require.True(t, a.System())

	b, err := Map("shm-test", &Segment{Size: seg.Size, SegID: seg.SegID}, false, true, 0o600)
	require.NoError(t, err)
	a.Data[10] = 7
	require.Equal(t, byte(7), b.Data[10])

	require.NoError(t, Unmap(b, false))
	require.NoError(t, Unmap(a, true))

	_, err = Map("shm-test", &Segment{Size: seg.Size, SegID: seg.SegID}, false, true, 0o600)
	require.Error(t, err)
}

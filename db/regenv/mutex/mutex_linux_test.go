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

package mutex

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFallbackMutexBetweenHandles(t *testing.T) {
	a, b, path := mapShared(t)
	require.NoError(t, Init(a.Data[128:128+Size], 128, KindFallback))

	fa, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer fa.Close()
	fb, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer fb.Close()

	ma, err := Attach(a.Data[128:128+Size], fa, 1)
	require.NoError(t, err)
	mb, err := Attach(b.Data[128:128+Size], fb, 1)
	require.NoError(t, err)
	require.Equal(t, KindFallback, mb.Kind())

	require.NoError(t, ma.Lock())
	ok, err := mb.TryLock()
	require.NoError(t, err)
	require.False(t, ok)

	acquired := make(chan error, 1)
	go func() { acquired <- mb.Lock() }()
	select {
	case <-acquired:
		t.Fatal("second handle acquired a held fcntl mutex")
	case <-time.After(30 * time.Millisecond):
	}
	require.NoError(t, ma.Unlock())
	require.NoError(t, <-acquired)
	require.True(t, mb.Stat().Locked)
	require.NoError(t, mb.Unlock())
	require.Equal(t, uint32(1), mb.Stat().Wait)
}

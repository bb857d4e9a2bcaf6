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

package shalloc

import (
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newArena(t *testing.T, size int, start uint64) (*Arena, []byte) {
	t.Helper()
	region := make([]byte, size)
	a, err := Init(region, start)
	require.NoError(t, err)
	return a, region
}

func TestInitAttach(t *testing.T) {
	_, err := Attach(make([]byte, 4096), 64)
	require.ErrorIs(t, err, ErrNotArena)

	a, region := newArena(t, 4096, 64)
	st := a.Stat()
	require.Equal(t, uint64(1), st.FreeBlocks)
	require.Equal(t, st.Size, st.FreeBytes)
	require.Equal(t, uint64(0), st.Allocated)

	b, err := Attach(region, 64)
	require.NoError(t, err)
	require.Equal(t, st, b.Stat())

	_, err = Attach(region[:2048], 64)
	require.ErrorIs(t, err, ErrNotArena)

	_, err = Init(make([]byte, 70), 64)
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestAllocAlignment(t *testing.T) {
	a, _ := newArena(t, 8192, 40)
	for _, align := range []uint64{1, 8, 16, 64, 256} {
		off, err := a.Alloc(24, align)
		require.NoError(t, err)
		require.Zero(t, off%max(align, 8), "align %d", align)
	}
	_, err := a.Alloc(8, 24)
	require.Error(t, err)
	_, err = a.Alloc(0, 8)
	require.Error(t, err)
}

func TestAllocFreeCoalesces(t *testing.T) {
	a, _ := newArena(t, 4096, 0)
	initial := a.Stat()

	var offs []uint64
	for i := 0; i < 10; i++ {
		off, err := a.Alloc(100, 8)
		require.NoError(t, err)
		offs = append(offs, off)
	}
	require.Equal(t, uint64(10), a.Stat().Allocated)

	// free every other block, then the rest, in a scrambled order
	for i := 0; i < len(offs); i += 2 {
		require.NoError(t, a.Free(offs[i]))
	}
	require.Greater(t, a.Stat().FreeBlocks, uint64(1))
	for i := len(offs) - 1; i > 0; i -= 2 {
		require.NoError(t, a.Free(offs[i]))
	}
	require.Equal(t, initial, a.Stat())
}

func TestExhaustion(t *testing.T) {
	a, _ := newArena(t, 1024, 0)
	var n int
	for {
		_, err := a.Alloc(64, 8)
		if err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			break
		}
		n++
	}
	require.Greater(t, n, 5)
	_, err := a.Alloc(2048, 8)
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestBadFree(t *testing.T) {
	a, _ := newArena(t, 4096, 0)
	off, err := a.Alloc(64, 8)
	require.NoError(t, err)
	require.NoError(t, a.Free(off))
	require.ErrorIs(t, a.Free(off), ErrBadFree)
	require.ErrorIs(t, a.Free(3), ErrBadFree)
	require.ErrorIs(t, a.Free(1<<20), ErrBadFree)
}

func TestAllocZeroesPayload(t *testing.T) {
	a, _ := newArena(t, 4096, 0)
	off, err := a.Alloc(32, 8)
	require.NoError(t, err)
	b := a.Bytes(off, 32)
	for i := range b {
		b[i] = 0xff
	}
	require.NoError(t, a.Free(off))
	off2, err := a.Alloc(32, 8)
	require.NoError(t, err)
	require.Equal(t, off, off2)
	require.Equal(t, make([]byte, 32), a.Bytes(off2, 32))
}

func TestRandomWorkload(t *testing.T) {
	a, _ := newArena(t, 64*1024, 128)
	initial := a.Stat()
	rnd := rand.New(rand.NewPCG(1, 2))
	live := map[uint64]uint64{}
	for i := 0; i < 5000; i++ {
		if len(live) > 0 && rnd.IntN(3) == 0 {
			for off := range live {
				require.NoError(t, a.Free(off))
				delete(live, off)
				break
			}
			continue
		}
		n := uint64(rnd.IntN(300) + 1)
		align := uint64(1) << rnd.IntN(7)
		off, err := a.Alloc(n, align)
		if err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			continue
		}
		for o, sz := range live {
			require.False(t, off < o+sz && o < off+n, "overlap %d+%d with %d+%d", off, n, o, sz)
		}
		live[off] = n
	}
	for off := range live {
		require.NoError(t, a.Free(off))
	}
	require.Equal(t, initial, a.Stat())
}

func TestROffsetRAddr(t *testing.T) {
	region := make([]byte, 256)
	p := RAddr(region, 40)
	require.Equal(t, unsafe.Pointer(&region[40]), p)
	require.Equal(t, uint64(40), ROffset(region, p))
}

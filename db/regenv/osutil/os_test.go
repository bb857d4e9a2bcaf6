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

package osutil

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCreateExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__db.env")
	f, err := CreateExclusive(path, 0o600)
	require.NoError(t, err)
	defer f.Close()

	_, err = CreateExclusive(path, 0o600)
	require.Error(t, err)
	require.True(t, IsExist(err))

	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	require.True(t, IsNotExist(err))
}

func TestStatSplitsMegabytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	f, err := CreateExclusive(path, 0o600)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(3*MegaByte+17))

	mbytes, bytes, err := Stat(f)
	require.NoError(t, err)
	require.Equal(t, uint64(3), mbytes)
	require.Equal(t, uint64(17), bytes)

	size, err := Size(f)
	require.NoError(t, err)
	require.Equal(t, uint64(3*MegaByte+17), size)
}

func TestReadWriteAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	f, err := CreateExclusive(path, 0o600)
	require.NoError(t, err)
	defer f.Close()

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:], 42)
	require.NoError(t, WriteAt(f, buf[:], 0))

	var got [16]byte
	require.NoError(t, ReadAt(f, got[:], 0))
	require.Equal(t, buf, got)

	var tooLong [32]byte
	require.ErrorIs(t, ReadAt(f, tooLong[:], 0), ErrShortRead)
}

func TestMapFileSharedBetweenMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__db.002")
	seg := &Segment{Size: uint64(PageSize() * 2)}
	a, err := Map(path, seg, true, false, 0o600)
	require.NoError(t, err)
	require.Equal(t, InvalidSegID, seg.SegID)
	require.Len(t, a.Data, PageSize()*2)

	b, err := Map(path, seg, false, false, 0o600)
	require.NoError(t, err)

	a.Data[PageSize()+1] = 0x5a
	require.Equal(t, byte(0x5a), b.Data[PageSize()+1])

	require.NoError(t, Unmap(b, false))
	require.NoError(t, Unmap(a, true))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestMapFileTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o600))
	_, err := Map(path, &Segment{Size: 4096}, false, false, 0o600)
	require.Error(t, err)
}

func TestDirList(t *testing.T) {
	home := t.TempDir()
	for _, n := range []string{"__db.env", "__db.003", "data.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(home, n), nil, 0o600))
	}
	names, err := DirList(home, func(n string) bool { return strings.HasPrefix(n, "__db.") })
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"__db.env", "__db.003"}, names)
}

func TestFaultIn(t *testing.T) {
	data := make([]byte, PageSize()*3)
	data[0], data[PageSize()], data[2*PageSize()] = 1, 1, 2
	require.Equal(t, byte(2), FaultIn(data, false))
	require.Equal(t, byte(1), data[0])
	require.Equal(t, byte(0), FaultIn(data, true))
	require.Equal(t, byte(0), data[PageSize()])
}

func TestFaultInConcurrentReaders(t *testing.T) {
	data := make([]byte, PageSize()*8)
	data[3*PageSize()] = 7
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			if got := FaultIn(data, false); got != 7 {
				return fmt.Errorf("fault-in read %d", got)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint64(0), AlignUp(0, 8))
	require.Equal(t, uint64(8), AlignUp(1, 8))
	require.Equal(t, uint64(4096), AlignUp(4000, 4096))
}

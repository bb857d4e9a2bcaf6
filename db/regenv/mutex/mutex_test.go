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

package mutex

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/regenv/db/regenv/osutil"
)

// mapShared returns two independent mappings of the same file, the way two
// processes would see one region.
func mapShared(t *testing.T) (a, b *osutil.Mapping, path string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "__db.env")
	seg := &osutil.Segment{Size: uint64(osutil.PageSize())}
	a, err := osutil.Map(path, seg, true, false, 0o600)
	require.NoError(t, err)
	b, err = osutil.Map(path, seg, false, false, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = osutil.Unmap(b, false)
		_ = osutil.Unmap(a, true)
	})
	return a, b, path
}

func TestInitAttach(t *testing.T) {
	buf := make([]byte, Size+Align)
	_, err := Attach(buf[:Size], nil, 1)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, Init(buf[:Size], 0, KindFast))
	require.Equal(t, KindFast, KindOf(buf[:Size]))

	m, err := Attach(buf[:Size], nil, 4)
	require.NoError(t, err)
	require.NoError(t, m.Lock())
	require.ErrorIs(t, Destroy(buf[:Size]), ErrLocked)
	require.NoError(t, m.Unlock())
	require.ErrorIs(t, m.Unlock(), ErrNotLocked)

	require.NoError(t, Destroy(buf[:Size]))
	require.Equal(t, Kind(0), KindOf(buf[:Size]))
	require.ErrorIs(t, m.Lock(), ErrNotInitialized)
}

func TestFallbackNeedsFile(t *testing.T) {
	buf := make([]byte, Size)
	require.NoError(t, Init(buf, 0, KindFallback))
	_, err := Attach(buf, nil, 1)
	require.ErrorIs(t, err, ErrNoFile)
	require.False(t, KindFallback.ThreadSafe())
	require.True(t, KindFast.ThreadSafe())
}

func TestFastMutexAcrossMappings(t *testing.T) {
	a, b, _ := mapShared(t)
	require.NoError(t, Init(a.Data[64:64+Size], 64, KindFast))

	ma, err := Attach(a.Data[64:64+Size], nil, 8)
	require.NoError(t, err)
	mb, err := Attach(b.Data[64:64+Size], nil, 8)
	require.NoError(t, err)

	require.NoError(t, ma.Lock())
	ok, err := mb.TryLock()
	require.NoError(t, err)
	require.False(t, ok)

	acquired := make(chan struct{})
	go func() {
		_ = mb.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second mapping acquired a held mutex")
	case <-time.After(30 * time.Millisecond):
	}
	require.NoError(t, ma.Unlock())
	<-acquired
	require.NoError(t, mb.Unlock())

	st := ma.Stat()
	require.Equal(t, KindFast, st.Kind)
	require.False(t, st.Locked)
	require.Equal(t, uint32(1), st.NoWait)
	require.Equal(t, uint32(1), st.Wait)
}

func TestFastMutexCounter(t *testing.T) {
	a, b, _ := mapShared(t)
	require.NoError(t, Init(a.Data[:Size], 0, KindFast))

	handles := make([]*Mutex, 0, 8)
	for i := 0; i < 8; i++ {
		src := a
		if i%2 == 1 {
			src = b
		}
		m, err := Attach(src.Data[:Size], nil, 2)
		require.NoError(t, err)
		handles = append(handles, m)
	}

	shared := 0
	var wg sync.WaitGroup
	for _, m := range handles {
		wg.Add(1)
		go func(m *Mutex) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if err := m.Lock(); err != nil {
					panic(err)
				}
				shared++
				if err := m.Unlock(); err != nil {
					panic(err)
				}
			}
		}(m)
	}
	wg.Wait()
	require.Equal(t, 8*500, shared)
	st := Snapshot(a.Data[:Size])
	require.Equal(t, uint32(8*500), st.NoWait+st.Wait)
}

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

package regenv

import (
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"
)

func TestCheckVersion(t *testing.T) {
	v := func(s string) *semver.Version { return semver.MustParse(s) }

	patch, err := checkVersion(v("1.2.0"), v("1.2.0"))
	require.NoError(t, err)
	require.False(t, patch)

	patch, err = checkVersion(v("1.2.3"), v("1.2.0"))
	require.NoError(t, err)
	require.True(t, patch)

	for _, have := range []string{"1.3.0", "1.1.9", "2.2.0", "0.2.0"} {
		_, err = checkVersion(v(have), v("1.2.0"))
		require.ErrorIs(t, err, ErrVersionMismatch, have)
	}
}

func TestRegionNames(t *testing.T) {
	require.Equal(t, "__db.002", regionFileName(2))
	require.Equal(t, "__db.1234", regionFileName(1234))
	require.Equal(t, filepath.Join("home", EnvFileName), regionPath("home", rootID))
	require.Equal(t, filepath.Join("home", "__db.002"), regionPath("home", 2))
	for _, name := range []string{EnvFileName, "__db.002", "__db.1234", "__db_txn.share", "__db_log.share"} {
		require.True(t, isRegionFile(name), name)
	}
	for _, name := range []string{"__db.01", "__db.abc", "__db.002.tmp", "DB_CONFIG.toml", "__db_foo.share"} {
		require.False(t, isRegionFile(name), name)
	}
}

func TestParseFlagsAndTypes(t *testing.T) {
	f, err := ParseInitFlags("lock|mpool,thread")
	require.NoError(t, err)
	require.Equal(t, InitLock|InitPool|InitThread, f)
	require.Equal(t, "lock|mpool|thread", f.String())
	require.Equal(t, "none", InitFlags(0).String())

	_, err = ParseInitFlags("locks")
	require.Error(t, err)

	typ, err := ParseRegionType("MPOOL")
	require.NoError(t, err)
	require.Equal(t, TypePool, typ)
	require.Equal(t, "mpool", typ.String())
	_, err = ParseRegionType("cache")
	require.Error(t, err)
}

func TestLayout(t *testing.T) {
	require.EqualValues(t, 96, regEnvSize)
	require.EqualValues(t, 80, regionDescSize)
	require.EqualValues(t, 32, regionHeadSize)
	require.Zero(t, rootMutexOff%8)
	require.Zero(t, descMutexOff%8)

	ref := envRef{Size: 1 << 20, SegID: 77}
	buf := ref.marshal()
	require.Len(t, buf, envRefSize)
	require.Equal(t, ref, unmarshalEnvRef(buf))
}

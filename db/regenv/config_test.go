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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFileName), []byte(body), 0o600))
}

func TestConfigFile(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
root_size = "256KB"
max_retries = 1
retry_delay = "5ms"
mutex_spins = 16
fault_mem = false
init_flags = "lock|txn"
`)
	opts, err := New(home, log.New()).applyConfigFile()
	require.NoError(t, err)
	require.Equal(t, 256*datasize.KB, opts.rootSize)
	require.Equal(t, 1, opts.maxRetries)
	require.Equal(t, 5*time.Millisecond, opts.retryDelay)
	require.Equal(t, 16, opts.spins)
	require.False(t, opts.faultMem)
	require.Equal(t, InitLock|InitTxn, opts.initFlags)

	explicit, err := New(home, log.New()).MaxRetries(7).FaultMem(true).InitFlags(InitLog).applyConfigFile()
	require.NoError(t, err)
	require.Equal(t, 7, explicit.maxRetries)
	require.True(t, explicit.faultMem)
	require.Equal(t, InitLog, explicit.initFlags)

	env, err := New(home, log.New()).Create().Open()
	require.NoError(t, err)
	st, err := env.Stat()
	require.NoError(t, err)
	require.EqualValues(t, alignPage(uint64(256*datasize.KB)), st.Size)
	require.Equal(t, InitLock|InitTxn, st.InitFlags)
	require.NoError(t, env.Detach(true))

	_, err = os.Stat(filepath.Join(home, ConfigFileName))
	require.NoError(t, err, "removal must keep the config file")
}

func TestConfigFileErrors(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":  `root_sise = "1MB"`,
		"bad size":     `root_size = "lots"`,
		"bad duration": `retry_delay = "soon"`,
		"bad flags":    `init_flags = "lock|tx"`,
	} {
		t.Run(name, func(t *testing.T) {
			home := t.TempDir()
			writeConfig(t, home, body)
			_, err := New(home, log.New()).Create().Open()
			require.Error(t, err)
			require.Equal(t, KindConfig, KindOf(err))
			_, err = os.Stat(filepath.Join(home, EnvFileName))
			require.True(t, os.IsNotExist(err))
		})
	}
}

func TestRootSizeFloor(t *testing.T) {
	home := t.TempDir()
	env := testOpts(home).Create().RootSize(datasize.B).MustOpen()
	st, err := env.Stat()
	require.NoError(t, err)
	require.Equal(t, minRootSize(), st.Size)
	require.NoError(t, env.Detach(true))
}

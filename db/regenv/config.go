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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the layout of DB_CONFIG.toml. Absent keys leave the option
// untouched.
type fileConfig struct {
	RootSize   string `toml:"root_size"`
	MutexSpins *int   `toml:"mutex_spins"`
	RetryDelay string `toml:"retry_delay"`
	MaxRetries *int   `toml:"max_retries"`
	FaultMem   *bool  `toml:"fault_mem"`
	SystemMem  *bool  `toml:"system_mem"`
	InitFlags  string `toml:"init_flags"`
}

func readConfigFile(home string) (*fileConfig, error) {
	raw, err := os.ReadFile(filepath.Join(home, ConfigFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg fileConfig
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigFileName, err)
	}
	return &cfg, nil
}

func (opts Opts) applyConfigFile() (Opts, error) {
	cfg, err := readConfigFile(opts.home)
	if err != nil {
		return opts, opErr("config", KindConfig, err)
	}
	if cfg == nil {
		return opts, nil
	}
	if cfg.RootSize != "" && opts.set&setRootSize == 0 {
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(cfg.RootSize)); err != nil {
			return opts, opErr("config", KindConfig, fmt.Errorf("root_size: %w", err))
		}
		opts.rootSize = sz
	}
	if cfg.RetryDelay != "" && opts.set&setRetryDelay == 0 {
		d, err := time.ParseDuration(cfg.RetryDelay)
		if err != nil {
			return opts, opErr("config", KindConfig, fmt.Errorf("retry_delay: %w", err))
		}
		opts.retryDelay = d
	}
	if cfg.MutexSpins != nil && opts.set&setSpins == 0 {
		opts.spins = *cfg.MutexSpins
	}
	if cfg.MaxRetries != nil && opts.set&setMaxRetries == 0 {
		opts.maxRetries = *cfg.MaxRetries
	}
	if cfg.FaultMem != nil && opts.set&setFaultMem == 0 {
		opts.faultMem = *cfg.FaultMem
	}
	if cfg.SystemMem != nil && opts.set&setSystemMem == 0 {
		opts.systemMem = *cfg.SystemMem
		opts.set |= setSystemMem
	}
	if cfg.InitFlags != "" && opts.initFlags == 0 {
		f, err := ParseInitFlags(cfg.InitFlags)
		if err != nil {
			return opts, opErr("config", KindConfig, fmt.Errorf("init_flags: %w", err))
		}
		opts.initFlags = f
	}
	opts.log.Debug("[regenv] applied "+ConfigFileName, "root_size", opts.rootSize, "retry_delay", opts.retryDelay, "system_mem", opts.systemMem)
	return opts, nil
}

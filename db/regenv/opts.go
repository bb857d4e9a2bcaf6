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
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/regenv/common/dbg"
	"github.com/erigontech/regenv/db/regenv/mutex"
)

// setMask records which options were chosen explicitly, so that DB_CONFIG.toml
// only fills the rest.
type setMask uint16

const (
	setSystemMem setMask = 1 << iota
	setRootSize
	setRetryDelay
	setMaxRetries
	setSpins
	setFaultMem
)

// Opts configures Open and Remove. The zero value is not usable; start from New.
type Opts struct {
	home       string
	log        log.Logger
	mode       os.FileMode
	create     bool
	systemMem  bool
	initFlags  InitFlags
	rootSize   datasize.ByteSize
	retryDelay time.Duration
	maxRetries int
	spins      int
	faultMem   bool
	version    *semver.Version
	mutexKind  mutex.Kind
	noConfig   bool
	set        setMask

	// Forced removal attaches without taking mutexes or honouring panic.
	noLocking bool
	noPanic   bool

	// afterFault runs once the creator has faulted in the root region and
	// before anything is written to it.
	afterFault func()
}

func New(home string, logger log.Logger) Opts {
	if logger == nil {
		logger = log.New("regenv", home)
	}
	return Opts{
		home:       home,
		log:        logger,
		mode:       0o600,
		rootSize:   dbg.EnvDataSize("ROOT_SIZE", 0),
		retryDelay: dbg.EnvDuration("RETRY_DELAY", time.Second),
		maxRetries: 3,
		spins:      dbg.MutexSpins(),
		faultMem:   dbg.FaultMem(),
		version:    BuildVersion(),
		mutexKind:  mutex.DefaultKind,
	}
}

func (opts Opts) Mode(mode os.FileMode) Opts {
	opts.mode = mode
	return opts
}

// Create allows Open to build the environment if it does not exist yet.
func (opts Opts) Create() Opts {
	opts.create = true
	return opts
}

// SystemMem places the regions in system shared-memory segments. The
// environment file then only points at the root segment.
func (opts Opts) SystemMem(on bool) Opts {
	opts.systemMem = on
	opts.set |= setSystemMem
	return opts
}

func (opts Opts) InitFlags(f InitFlags) Opts {
	opts.initFlags = f
	return opts
}

func (opts Opts) RootSize(sz datasize.ByteSize) Opts {
	opts.rootSize = sz
	opts.set |= setRootSize
	return opts
}

// RetryDelay is the step of the join back-off: attempt n sleeps n*d.
func (opts Opts) RetryDelay(d time.Duration) Opts {
	opts.retryDelay = d
	opts.set |= setRetryDelay
	return opts
}

func (opts Opts) MaxRetries(n int) Opts {
	opts.maxRetries = n
	opts.set |= setMaxRetries
	return opts
}

func (opts Opts) MutexSpins(n int) Opts {
	opts.spins = n
	opts.set |= setSpins
	return opts
}

func (opts Opts) FaultMem(on bool) Opts {
	opts.faultMem = on
	opts.set |= setFaultMem
	return opts
}

// Version overrides the layout version this handle claims to be built with.
func (opts Opts) Version(v *semver.Version) Opts {
	opts.version = v
	return opts
}

// MutexKind selects the mutex implementation a creator installs. Joiners use
// whatever the creator chose.
func (opts Opts) MutexKind(k mutex.Kind) Opts {
	opts.mutexKind = k
	return opts
}

// IgnoreConfigFile skips DB_CONFIG.toml in the home directory.
func (opts Opts) IgnoreConfigFile() Opts {
	opts.noConfig = true
	return opts
}

func (opts Opts) Open() (*Env, error) {
	if !opts.noConfig {
		var err error
		if opts, err = opts.applyConfigFile(); err != nil {
			return nil, err
		}
	}
	return open(opts)
}

func (opts Opts) MustOpen() *Env {
	env, err := opts.Open()
	if err != nil {
		panic(err)
	}
	return env
}

// Remove destroys the environment. Without force it refuses while others are
// attached and returns ErrBusy.
func (opts Opts) Remove(force bool) error {
	if !opts.noConfig {
		var err error
		if opts, err = opts.applyConfigFile(); err != nil {
			return err
		}
	}
	return remove(opts, force)
}

// Remove is New(home, logger).Remove(force).
func Remove(home string, force bool, logger log.Logger) error {
	return New(home, logger).Remove(force)
}

func (opts Opts) rootRegionSize() uint64 {
	want := uint64(opts.rootSize)
	if minSize := minRootSize(); want < minSize {
		return minSize
	}
	return alignPage(want)
}

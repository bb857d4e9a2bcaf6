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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/erigontech/regenv/common/dir"
	"github.com/erigontech/regenv/db/regenv/osutil"
)

func remove(opts Opts, force bool) error {
	const op = "remove"
	mxRemove.AddInt(1)
	opts.create = false
	if force {
		opts.noLocking, opts.noPanic = true, true
		opts.maxRetries = 0
	}

	env, err := open(opts)
	if err != nil {
		if !force {
			return err
		}
		opts.log.Warn("[regenv] environment cannot be attached, removing its files", "home", opts.home, "err", err)
		return removeFiles(opts.home)
	}

	if err := env.lockRoot(op); err != nil {
		return errors.Join(err, env.Detach(false))
	}
	if refs := env.hdr.refcnt; refs > 1 && !force {
		_ = env.unlockRoot()
		if err := env.Detach(false); err != nil {
			return err
		}
		return opErr(op, KindBusy, fmt.Errorf("%w: %d other attachments", ErrBusy, refs-1))
	}
	env.poison()
	_ = env.unlockRoot()
	env.noPanic.Store(true)
	env.markClosed()

	opts.log.Info("[regenv] removing environment", "home", opts.home, "force", force)
	errs := env.teardown()
	if err := removeFiles(opts.home); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// removeFiles unlinks every region file in home, including names written by
// older layouts, and the environment file last. A system segment the
// environment file still points at is destroyed first.
func removeFiles(home string) error {
	const op = "remove"
	envPath := filepath.Join(home, EnvFileName)
	if f, err := osutil.Open(envPath); err == nil {
		if _, size, err := osutil.Stat(f); err == nil && size == envRefSize {
			buf := make([]byte, envRefSize)
			if err := osutil.ReadAt(f, buf, 0); err == nil {
				_ = osutil.DestroySegment(unmarshalEnvRef(buf).SegID)
			}
		}
		_ = osutil.Close(f)
	}

	names, err := osutil.DirList(home, func(name string) bool {
		return name != EnvFileName && isRegionFile(name)
	})
	if err != nil {
		if osutil.IsNotExist(err) {
			return nil
		}
		return osErr(op, err)
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(home, name)
	}
	if err := dir.DeleteFiles(paths...); err != nil {
		return osErr(op, err)
	}
	if err := osutil.Unlink(envPath); err != nil {
		return osErr(op, err)
	}
	return nil
}

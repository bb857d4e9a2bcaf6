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

//go:build unix

package mutex

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

func (m *Mutex) rangeLock(typ int16) *unix.Flock_t {
	return &unix.Flock_t{Type: typ, Whence: io.SeekStart, Start: m.sh.off, Len: 1}
}

func (m *Mutex) tryLockFile() (bool, error) {
	lk := m.rangeLock(unix.F_WRLCK)
	err := unix.FcntlFlock(m.file.Fd(), fcntlSetLk, lk)
	switch {
	case err == nil:
		atomic.StoreUint32(&m.sh.state, stateLocked)
		atomic.AddUint32(&m.sh.nowait, 1)
		return true, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EACCES):
		return false, nil
	default:
		return false, fmt.Errorf("fcntl lock %s@%d: %w", m.file.Name(), m.sh.off, err)
	}
}

func (m *Mutex) lockFile() error {
	ok, err := m.tryLockFile()
	if err != nil || ok {
		return err
	}
	atomic.AddUint32(&m.sh.wait, 1)
	lk := m.rangeLock(unix.F_WRLCK)
	for {
		err = unix.FcntlFlock(m.file.Fd(), fcntlSetLkWait, lk)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		break
	}
	if err != nil {
		return fmt.Errorf("fcntl lock %s@%d: %w", m.file.Name(), m.sh.off, err)
	}
	atomic.StoreUint32(&m.sh.state, stateLocked)
	return nil
}

func (m *Mutex) unlockFile() error {
	if atomic.SwapUint32(&m.sh.state, stateUnlocked) == stateUnlocked {
		return ErrNotLocked
	}
	if err := unix.FcntlFlock(m.file.Fd(), fcntlSetLk, m.rangeLock(unix.F_UNLCK)); err != nil {
		return fmt.Errorf("fcntl unlock %s@%d: %w", m.file.Name(), m.sh.off, err)
	}
	return nil
}

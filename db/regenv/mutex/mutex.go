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

// Package mutex implements a mutex that lives inside shared memory and can be
// taken by every process that has the memory mapped.
//
// Two kinds exist. The fast kind is a test-and-set word that spins for a
// bounded number of attempts and then parks on a futex (a timed sleep on
// platforms without one). The fallback kind takes a one-byte fcntl lock on the
// environment file at an offset recorded in the mutex, so only one holder per
// open file description is possible: it cannot serialise goroutines sharing a
// handle.
package mutex

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

type Kind uint32

const (
	KindFast     Kind = 1
	KindFallback Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindFast:
		return "fast"
	case KindFallback:
		return "fcntl"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// ThreadSafe reports whether goroutines sharing one attach handle are
// serialised by a mutex of this kind.
func (k Kind) ThreadSafe() bool { return k == KindFast }

const (
	// Size is the number of bytes a mutex occupies in shared memory.
	Size = int(unsafe.Sizeof(shared{}))
	// Align is the alignment the in-region allocator must honour.
	Align = 8

	parkTimeout = 10 * time.Millisecond
)

var (
	ErrNotInitialized = errors.New("mutex is not initialized")
	ErrNotLocked      = errors.New("unlock of unlocked mutex")
	ErrLocked         = errors.New("mutex is locked")
	ErrNoFile         = errors.New("fcntl mutex needs a file handle")
	ErrMisaligned     = errors.New("mutex address is misaligned")
)

const (
	stateUnlocked  uint32 = 0
	stateLocked    uint32 = 1
	stateContended uint32 = 2
)

// shared is the in-region layout. Zeroed memory has kind 0 and is rejected by
// Attach.
type shared struct {
	state  uint32
	kind   uint32
	off    int64
	nowait uint32
	wait   uint32
	_      [8]byte
}

func at(buf []byte) (*shared, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("mutex needs %d bytes, have %d", Size, len(buf))
	}
	p := unsafe.Pointer(&buf[0])
	if uintptr(p)%Align != 0 {
		return nil, ErrMisaligned
	}
	return (*shared)(p), nil
}

// Init writes an unlocked mutex of the given kind into buf. offHint is the
// byte offset a fallback mutex locks in the environment file; callers pass
// the mutex's own offset in the root region so that every mutex of an
// environment gets a distinct byte.
func Init(buf []byte, offHint int64, kind Kind) error {
	sh, err := at(buf)
	if err != nil {
		return err
	}
	if kind != KindFast && kind != KindFallback {
		return fmt.Errorf("unknown mutex kind %d", kind)
	}
	atomic.StoreUint32(&sh.state, stateUnlocked)
	sh.off = offHint
	sh.nowait, sh.wait = 0, 0
	atomic.StoreUint32(&sh.kind, uint32(kind))
	return nil
}

// Destroy clears an unlocked mutex. Destroying a held mutex is refused.
func Destroy(buf []byte) error {
	sh, err := at(buf)
	if err != nil {
		return err
	}
	if atomic.LoadUint32(&sh.state) != stateUnlocked {
		return ErrLocked
	}
	atomic.StoreUint32(&sh.kind, 0)
	sh.off, sh.nowait, sh.wait = 0, 0, 0
	return nil
}

// KindOf returns the kind recorded in buf, or 0 when buf holds no mutex.
func KindOf(buf []byte) Kind {
	sh, err := at(buf)
	if err != nil {
		return 0
	}
	return Kind(atomic.LoadUint32(&sh.kind))
}

// Mutex is a process-local handle on a shared mutex.
type Mutex struct {
	sh    *shared
	kind  Kind
	file  *os.File
	spins int
}

// Attach returns a handle on the mutex initialised in buf. file is the
// environment file a fallback mutex locks; it may be nil for the fast kind.
func Attach(buf []byte, file *os.File, spins int) (*Mutex, error) {
	sh, err := at(buf)
	if err != nil {
		return nil, err
	}
	kind := Kind(atomic.LoadUint32(&sh.kind))
	switch kind {
	case KindFast:
	case KindFallback:
		if file == nil {
			return nil, ErrNoFile
		}
	default:
		return nil, ErrNotInitialized
	}
	if spins < 1 {
		spins = 1
	}
	return &Mutex{sh: sh, kind: kind, file: file, spins: spins}, nil
}

func (m *Mutex) Kind() Kind { return m.kind }

func (m *Mutex) Lock() error {
	if Kind(atomic.LoadUint32(&m.sh.kind)) != m.kind {
		return ErrNotInitialized
	}
	if m.kind == KindFallback {
		return m.lockFile()
	}
	for i := 0; i < m.spins; i++ {
		if atomic.CompareAndSwapUint32(&m.sh.state, stateUnlocked, stateLocked) {
			atomic.AddUint32(&m.sh.nowait, 1)
			return nil
		}
		if i%8 == 7 {
			runtime.Gosched()
		}
	}
	atomic.AddUint32(&m.sh.wait, 1)
	for atomic.SwapUint32(&m.sh.state, stateContended) != stateUnlocked {
		futexWait(&m.sh.state, stateContended, parkTimeout)
	}
	return nil
}

// TryLock takes the mutex only if it is free.
func (m *Mutex) TryLock() (bool, error) {
	if Kind(atomic.LoadUint32(&m.sh.kind)) != m.kind {
		return false, ErrNotInitialized
	}
	if m.kind == KindFallback {
		return m.tryLockFile()
	}
	if atomic.CompareAndSwapUint32(&m.sh.state, stateUnlocked, stateLocked) {
		atomic.AddUint32(&m.sh.nowait, 1)
		return true, nil
	}
	return false, nil
}

func (m *Mutex) Unlock() error {
	if m.kind == KindFallback {
		return m.unlockFile()
	}
	switch atomic.SwapUint32(&m.sh.state, stateUnlocked) {
	case stateUnlocked:
		return ErrNotLocked
	case stateContended:
		futexWake(&m.sh.state, 1)
	}
	return nil
}

// Stat is a snapshot of a mutex's counters.
type Stat struct {
	Kind   Kind
	Locked bool
	NoWait uint32 // acquisitions that did not block
	Wait   uint32 // acquisitions that had to block
}

func (m *Mutex) Stat() Stat { return statOf(m.sh) }

// Snapshot reads the counters of the mutex in buf without attaching to it.
func Snapshot(buf []byte) Stat {
	sh, err := at(buf)
	if err != nil {
		return Stat{}
	}
	return statOf(sh)
}

func statOf(sh *shared) Stat {
	return Stat{
		Kind:   Kind(atomic.LoadUint32(&sh.kind)),
		Locked: atomic.LoadUint32(&sh.state) != stateUnlocked,
		NoWait: atomic.LoadUint32(&sh.nowait),
		Wait:   atomic.LoadUint32(&sh.wait),
	}
}

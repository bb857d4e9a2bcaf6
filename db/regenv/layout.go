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
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"github.com/erigontech/regenv/db/regenv/mutex"
	"github.com/erigontech/regenv/db/regenv/osutil"
)

// RegionType names the subsystem that owns a region.
type RegionType uint32

const (
	TypeInvalid RegionType = iota
	TypeEnv
	TypeLock
	TypeLog
	TypePool
	TypeMutex
	TypeTxn
)

var regionTypeNames = map[RegionType]string{
	TypeEnv:   "env",
	TypeLock:  "lock",
	TypeLog:   "log",
	TypePool:  "mpool",
	TypeMutex: "mutex",
	TypeTxn:   "txn",
}

func (t RegionType) String() string {
	if s, ok := regionTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RegionType(%d)", uint32(t))
}

func ParseRegionType(s string) (RegionType, error) {
	for t, name := range regionTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return TypeInvalid, fmt.Errorf("unknown region type %q", s)
}

// InitFlags are the subsystems and behaviours the creator configured. Joiners
// adopt the creator's flags.
type InitFlags uint32

const (
	InitLock InitFlags = 1 << iota
	InitLog
	InitPool
	InitTxn
	InitMutex
	InitThread // handles may be shared by goroutines
)

func (f InitFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, x := range []struct {
		f    InitFlags
		name string
	}{{InitLock, "lock"}, {InitLog, "log"}, {InitPool, "mpool"}, {InitTxn, "txn"}, {InitMutex, "mutex"}, {InitThread, "thread"}} {
		if f&x.f != 0 {
			parts = append(parts, x.name)
			f &^= x.f
		}
	}
	if f != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(f)))
	}
	return strings.Join(parts, "|")
}

func ParseInitFlags(s string) (InitFlags, error) {
	var f InitFlags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "lock":
			f |= InitLock
		case "log":
			f |= InitLog
		case "mpool", "pool":
			f |= InitPool
		case "txn":
			f |= InitTxn
		case "mutex":
			f |= InitMutex
		case "thread":
			f |= InitThread
		case "", "none":
		default:
			return 0, fmt.Errorf("unknown init flag %q", part)
		}
	}
	return f, nil
}

const (
	envMagic    uint32 = 0x120897
	regionMagic uint32 = 0x7265676e

	rootID uint32 = 1

	// bootstrapDescriptors is how many descriptors the root region is sized
	// for, on top of a page of slack.
	bootstrapDescriptors = 50
)

// regEnv is the root header at offset 0 of the environment region.
// panic and magic are only touched atomically and without the mutex.
type regEnv struct {
	magic     uint32
	panic     uint32
	majver    uint32
	minver    uint32
	patch     uint32
	initFlags uint32
	refcnt    uint32
	mutexKind uint32
	regionq   listHead
	arenaOff  uint64
	_         uint64
	mutex     [mutex.Size]byte
}

type listHead struct {
	first uint64
	last  uint64
}

// regionDesc is one entry of the descriptor list, allocated from the root
// arena. next and prev are root-region offsets, 0 meaning none.
type regionDesc struct {
	id    uint32
	typ   uint32
	size  uint64
	segid int64
	next  uint64
	prev  uint64
	_     uint64
	mutex [mutex.Size]byte
}

// regionHead sits at offset 0 of every sub-region.
type regionHead struct {
	magic uint32
	id    uint32
	size  uint64
	arena uint64
	_     uint64
}

var (
	regEnvSize     = uint64(unsafe.Sizeof(regEnv{}))
	regionDescSize = uint64(unsafe.Sizeof(regionDesc{}))
	regionHeadSize = uint64(unsafe.Sizeof(regionHead{}))

	rootMutexOff = uint64(unsafe.Offsetof(regEnv{}.mutex))
	descMutexOff = uint64(unsafe.Offsetof(regionDesc{}.mutex))
)

// minRootSize fits the header, the bootstrap descriptors with allocator
// overhead, and a page of slack, rounded to whole pages.
func minRootSize() uint64 {
	perDesc := regionDescSize + 16 + mutex.Align
	return alignPage(regEnvSize + bootstrapDescriptors*perDesc + uint64(osutil.PageSize()))
}

func alignPage(n uint64) uint64 { return osutil.AlignUp(n, uint64(osutil.PageSize())) }

func header(data []byte) *regEnv {
	return (*regEnv)(unsafe.Pointer(&data[0]))
}

func descAt(data []byte, off uint64) *regionDesc {
	return (*regionDesc)(unsafe.Pointer(&data[off]))
}

func headAt(data []byte) *regionHead {
	return (*regionHead)(unsafe.Pointer(&data[0]))
}

// envRef is the whole content of the environment file when the regions live
// in system shared memory.
type envRef struct {
	Size  uint64
	SegID int64
}

const envRefSize = 16

func (r envRef) marshal() []byte {
	buf := make([]byte, envRefSize)
	binary.NativeEndian.PutUint64(buf, r.Size)
	binary.NativeEndian.PutUint64(buf[8:], uint64(r.SegID))
	return buf
}

func unmarshalEnvRef(buf []byte) envRef {
	return envRef{
		Size:  binary.NativeEndian.Uint64(buf),
		SegID: int64(binary.NativeEndian.Uint64(buf[8:])),
	}
}

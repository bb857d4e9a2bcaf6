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

	"github.com/erigontech/regenv/db/regenv/mutex"
	"github.com/erigontech/regenv/db/regenv/shalloc"
)

// The descriptor list lives in the root arena and is only walked or changed
// under the root mutex.

func (env *Env) rootDesc() *regionDesc {
	first := env.hdr.regionq.first
	if first == 0 || first+regionDescSize > uint64(len(env.m.Data)) {
		return nil
	}
	rd := descAt(env.m.Data, first)
	if rd.id != rootID {
		return nil
	}
	return rd
}

// walk calls fn for every descriptor in list order until fn returns false.
func (env *Env) walk(fn func(off uint64, rd *regionDesc) bool) {
	limit := uint64(len(env.m.Data))
	for off, n := env.hdr.regionq.first, 0; off != 0 && off+regionDescSize <= limit; n++ {
		rd := descAt(env.m.Data, off)
		if !fn(off, rd) {
			return
		}
		off = rd.next
		if n > int(limit/regionDescSize) {
			env.log.Error("[regenv] descriptor list loops", "home", env.home)
			return
		}
	}
}

func (env *Env) regionIDs() []uint32 {
	var ids []uint32
	env.walk(func(_ uint64, rd *regionDesc) bool {
		ids = append(ids, rd.id)
		return true
	})
	return ids
}

// findRegion returns the descriptor with the given id, or when id is 0 the
// primary descriptor of type t: the one with the smallest id.
func (env *Env) findRegion(id uint32, t RegionType) (off uint64, found bool) {
	var bestID uint32
	env.walk(func(o uint64, rd *regionDesc) bool {
		switch {
		case id != 0:
			if rd.id == id {
				off, found = o, true
				return false
			}
		case RegionType(rd.typ) == t:
			if !found || rd.id < bestID {
				off, bestID, found = o, rd.id, true
			}
		}
		return true
	})
	return off, found
}

func (env *Env) nextRegionID() uint32 {
	var maxID uint32
	env.walk(func(_ uint64, rd *regionDesc) bool {
		maxID = max(maxID, rd.id)
		return true
	})
	return maxID + 1
}

// newDesc allocates, initialises and links a descriptor. Nothing is left
// behind when the arena is full.
func (env *Env) newDesc(id uint32, t RegionType, size uint64, segid int64) (uint64, error) {
	off, err := env.arena.Alloc(regionDescSize, mutex.Align)
	if err != nil {
		if errors.Is(err, shalloc.ErrNoSpace) {
			return 0, opErr("region create", KindResource, fmt.Errorf("%w: descriptor for %s region %d", ErrNoSpace, t, id))
		}
		return 0, opErr("region create", KindCorruption, err)
	}
	rd := descAt(env.m.Data, off)
	rd.id, rd.typ, rd.size, rd.segid = id, uint32(t), size, segid
	kind := mutex.Kind(env.hdr.mutexKind)
	if err := mutex.Init(rd.mutex[:], int64(off+descMutexOff), kind); err != nil {
		_ = env.arena.Free(off)
		return 0, opErr("region create", KindIO, err)
	}

	rd.next, rd.prev = 0, env.hdr.regionq.last
	if last := env.hdr.regionq.last; last != 0 {
		descAt(env.m.Data, last).next = off
	} else {
		env.hdr.regionq.first = off
	}
	env.hdr.regionq.last = off
	return off, nil
}

// dropDesc unlinks a descriptor, destroys its mutex and frees it.
func (env *Env) dropDesc(off uint64) error {
	rd := descAt(env.m.Data, off)
	if rd.prev != 0 {
		descAt(env.m.Data, rd.prev).next = rd.next
	} else {
		env.hdr.regionq.first = rd.next
	}
	if rd.next != 0 {
		descAt(env.m.Data, rd.next).prev = rd.prev
	} else {
		env.hdr.regionq.last = rd.prev
	}
	rd.next, rd.prev = 0, 0

	var errs []error
	if err := mutex.Destroy(rd.mutex[:]); err != nil && !env.noLocking.Load() {
		errs = append(errs, fmt.Errorf("region %d mutex: %w", rd.id, err))
	}
	rd.id = 0
	if err := env.arena.Free(off); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return opErr("region destroy", KindCorruption, err)
	}
	return nil
}

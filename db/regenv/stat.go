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
	"sync/atomic"

	"github.com/Masterminds/semver/v3"

	"github.com/erigontech/regenv/db/regenv/mutex"
	"github.com/erigontech/regenv/db/regenv/shalloc"
)

type RegionStat struct {
	ID    uint32
	Type  RegionType
	Size  uint64
	SegID int64
	Mutex mutex.Stat
}

// EnvStat is a copy of the root header and the descriptor list taken under
// the root mutex.
type EnvStat struct {
	Magic     uint32
	Panic     bool
	Version   *semver.Version
	Refcnt    uint32
	InitFlags InitFlags
	MutexKind mutex.Kind
	System    bool
	Size      uint64
	Arena     shalloc.Stat
	Mutex     mutex.Stat
	Regions   []RegionStat
}

func (env *Env) Stat() (*EnvStat, error) {
	const op = "stat"
	if env.closed.Load() {
		return nil, opErr(op, KindIO, ErrDetached)
	}
	rootMutex := env.mu.Stat()
	if err := env.lockRoot(op); err != nil {
		return nil, err
	}
	defer func() { _ = env.unlockRoot() }()

	hdr := env.hdr
	st := &EnvStat{
		Magic:     atomic.LoadUint32(&hdr.magic),
		Panic:     atomic.LoadUint32(&hdr.panic) != 0,
		Version:   semver.New(uint64(hdr.majver), uint64(hdr.minver), uint64(hdr.patch), "", ""),
		Refcnt:    hdr.refcnt,
		InitFlags: InitFlags(hdr.initFlags),
		MutexKind: mutex.Kind(hdr.mutexKind),
		System:    env.m.System(),
		Size:      uint64(len(env.m.Data)),
		Arena:     env.arena.Stat(),
		Mutex:     rootMutex,
	}
	env.walk(func(_ uint64, rd *regionDesc) bool {
		st.Regions = append(st.Regions, RegionStat{
			ID:    rd.id,
			Type:  RegionType(rd.typ),
			Size:  rd.size,
			SegID: rd.segid,
			Mutex: mutex.Snapshot(rd.mutex[:]),
		})
		return true
	})
	return st, nil
}

// Region returns the stat entry for id.
func (st *EnvStat) Region(id uint32) (RegionStat, bool) {
	for _, r := range st.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return RegionStat{}, false
}

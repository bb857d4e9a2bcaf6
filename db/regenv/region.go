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
	"math"
	"sync/atomic"

	"github.com/c2h5oh/datasize"
	"github.com/pbnjay/memory"

	"github.com/erigontech/regenv/db/regenv/mutex"
	"github.com/erigontech/regenv/db/regenv/osutil"
	"github.com/erigontech/regenv/db/regenv/shalloc"
)

// Template selects the region RegionAttach joins or creates.
type Template struct {
	Type RegionType
	// ID picks a region by id. Zero picks the primary region of Type.
	ID uint32
	// Size of the usable area when the region has to be created.
	Size   datasize.ByteSize
	Create bool
}

// Info is a process-local attachment to a sub-region.
type Info struct {
	env     *Env
	id      uint32
	typ     RegionType
	descOff uint64
	path    string
	m       *osutil.Mapping
	mu      *mutex.Mutex
	arena   *shalloc.Arena
	created bool
}

// RegionAttach joins the region chosen by t, creating it when allowed. The
// region mutex is held on return; release it with Unlock once the subsystem
// has set the region up.
func (env *Env) RegionAttach(t Template) (*Info, error) {
	const op = "region attach"
	if env.closed.Load() {
		return nil, opErr(op, KindIO, ErrDetached)
	}
	if t.ID == 0 && (t.Type == TypeInvalid || t.Type == TypeEnv) {
		return nil, opErr(op, KindConfig, fmt.Errorf("no region id and type %s", t.Type))
	}
	info, err := env.regionAttach(op, t)
	if err != nil {
		return nil, err
	}

	env.infos.Store(info, struct{}{})
	if info.created {
		mxRegionCreated.AddInt(1)
		env.log.Debug("[regenv] created region", "home", env.home, "type", info.typ, "id", info.id, "size", len(info.m.Data))
	} else {
		mxRegionJoined.AddInt(1)
	}
	return info, nil
}

func (env *Env) regionAttach(op string, t Template) (*Info, error) {
	if err := env.lockRoot(op); err != nil {
		return nil, err
	}
	info, err := env.regionAttachLocked(op, t)
	if uerr := env.unlockRoot(); uerr != nil && err == nil {
		_ = info.unlockRegion()
		_ = osutil.Unmap(info.m, false)
		err = opErr(op, KindIO, uerr)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (env *Env) regionAttachLocked(op string, t Template) (_ *Info, err error) {
	off, found := env.findRegion(t.ID, t.Type)
	created := false
	if !found {
		if !t.Create {
			return nil, opErr(op, KindNotFound, fmt.Errorf("%w: type %s id %d", ErrRegionNotFound, t.Type, t.ID))
		}
		if t.Type == TypeInvalid || t.Type == TypeEnv {
			return nil, opErr(op, KindConfig, fmt.Errorf("cannot create region of type %s", t.Type))
		}
		if t.Size == 0 {
			return nil, opErr(op, KindConfig, errors.New("region size is zero"))
		}
		if uint64(t.Size) > math.MaxUint64-regionHeadSize-uint64(osutil.PageSize()) {
			return nil, opErr(op, KindConfig, fmt.Errorf("region size %d is too large", uint64(t.Size)))
		}
		size := alignPage(uint64(t.Size) + regionHeadSize)
		if total := memory.TotalMemory(); total != 0 && size > total {
			return nil, opErr(op, KindResource, fmt.Errorf("%w: region of %s exceeds %s of memory", ErrNoSpace,
				datasize.ByteSize(size).HumanReadable(), datasize.ByteSize(total).HumanReadable()))
		}
		if off, err = env.newDesc(env.nextRegionID(), t.Type, size, osutil.InvalidSegID); err != nil {
			return nil, err
		}
		created = true
	}
	rd := descAt(env.m.Data, off)
	info := &Info{env: env, id: rd.id, typ: RegionType(rd.typ), descOff: off, path: regionPath(env.home, rd.id), created: created}
	defer func() {
		if err != nil && created {
			_ = env.dropDesc(off)
		}
	}()

	seg := osutil.Segment{Size: rd.size, SegID: rd.segid}
	if info.m, err = osutil.Map(info.path, &seg, created, env.m.System(), env.mode); err != nil {
		return nil, osErr(op, err)
	}
	defer func() {
		if err != nil {
			_ = osutil.Unmap(info.m, created)
		}
	}()
	if created {
		rd.segid = seg.SegID
	}
	if env.faultMem {
		osutil.FaultIn(info.m.Data, created)
	}

	head := headAt(info.m.Data)
	if created {
		head.id, head.size, head.arena = rd.id, rd.size, regionHeadSize
		if info.arena, err = shalloc.Init(info.m.Data, regionHeadSize); err != nil {
			return nil, opErr(op, KindResource, err)
		}
		atomic.StoreUint32(&head.magic, regionMagic)
	} else {
		if atomic.LoadUint32(&head.magic) != regionMagic || head.id != rd.id {
			return nil, opErr(op, KindCorruption, fmt.Errorf("%s holds no region %d", info.m, rd.id))
		}
		if info.arena, err = shalloc.Attach(info.m.Data, head.arena); err != nil {
			return nil, opErr(op, KindCorruption, err)
		}
	}

	if info.mu, err = mutex.Attach(rd.mutex[:], env.file, env.spins); err != nil {
		return nil, opErr(op, KindIO, err)
	}
	if err = info.lockRegion(); err != nil {
		return nil, opErr(op, KindIO, err)
	}
	return info, nil
}

func (info *Info) lockRegion() error {
	if info.env.noLocking.Load() {
		return nil
	}
	return info.mu.Lock()
}

func (info *Info) unlockRegion() error {
	if info.env.noLocking.Load() {
		return nil
	}
	return info.mu.Unlock()
}

// Lock takes the region mutex, failing if the environment panicked before or
// while waiting.
func (info *Info) Lock() error {
	const op = "region lock"
	if err := info.env.checkPanic(op); err != nil {
		return err
	}
	if err := info.lockRegion(); err != nil {
		return opErr(op, KindIO, err)
	}
	if err := info.env.checkPanic(op); err != nil {
		_ = info.unlockRegion()
		return err
	}
	return nil
}

func (info *Info) Unlock() error {
	if err := info.unlockRegion(); err != nil {
		return opErr("region unlock", KindIO, err)
	}
	return nil
}

func (info *Info) ID() uint32               { return info.id }
func (info *Info) Type() RegionType         { return info.typ }
func (info *Info) Created() bool            { return info.created }
func (info *Info) Path() string             { return info.path }
func (info *Info) Size() uint64             { return uint64(len(info.m.Data)) }
func (info *Info) Arena() *shalloc.Arena    { return info.arena }
func (info *Info) MutexStat() mutex.Stat    { return info.mu.Stat() }
func (info *Info) Mapping() *osutil.Mapping { return info.m }

// Addr is the region's memory past the region and arena headers. It is owned
// by the arena: subsystems write only into blocks from Arena().Alloc, reached
// with Arena().Bytes, whose offsets are relative to the whole region.
func (info *Info) Addr() []byte { return info.m.Data[regionHeadSize+shalloc.HeadSize:] }

// Detach drops the attachment. With destroy set the subsystem destroyer runs,
// the backing store is removed and the descriptor is freed.
func (info *Info) Detach(destroy bool) error {
	env := info.env
	if _, ok := env.infos.LoadAndDelete(info); !ok {
		return opErr("region detach", KindIO, ErrDetached)
	}
	return info.detach(destroy)
}

func (info *Info) detach(destroy bool) error {
	const op = "region detach"
	env := info.env
	if err := env.lockRoot(op); err != nil {
		_ = osutil.Unmap(info.m, false)
		return err
	}
	var errs []error
	locked := true
	if err := info.lockRegion(); err != nil {
		locked = false
		errs = append(errs, opErr(op, KindIO, err))
	}
	if destroy {
		if d := env.destroyer(info.typ); d != nil {
			if err := d(info); err != nil {
				errs = append(errs, opErr(op, KindIO, fmt.Errorf("%s destroyer: %w", info.typ, err)))
			}
		}
	}
	if err := osutil.Unmap(info.m, destroy); err != nil {
		errs = append(errs, osErr(op, err))
	}
	if locked {
		if err := info.unlockRegion(); err != nil {
			errs = append(errs, opErr(op, KindIO, err))
		}
	}
	if destroy {
		if err := env.dropDesc(info.descOff); err != nil {
			errs = append(errs, err)
		}
	}
	if err := env.unlockRoot(); err != nil {
		errs = append(errs, opErr(op, KindIO, err))
	}
	return errors.Join(errs...)
}

// destroyRegionByID removes a sub-region during teardown. A region that can
// no longer be attached has its backing store and descriptor dropped directly.
func (env *Env) destroyRegionByID(id uint32) error {
	const op = "region destroy"
	info, err := env.regionAttach(op, Template{ID: id, Create: true})
	if err == nil {
		if err = info.Unlock(); err == nil {
			return info.detach(true)
		}
	}
	env.log.Warn("[regenv] dropping unattachable region", "home", env.home, "id", id, "err", err)

	if err := env.lockRoot(op); err != nil {
		return err
	}
	defer func() { _ = env.unlockRoot() }()
	off, found := env.findRegion(id, TypeInvalid)
	if !found {
		return nil
	}
	rd := descAt(env.m.Data, off)
	if env.m.System() {
		if err := osutil.DestroySegment(rd.segid); err != nil {
			return osErr(op, err)
		}
	} else if err := osutil.Unlink(regionPath(env.home, id)); err != nil {
		return osErr(op, err)
	}
	return env.dropDesc(off)
}

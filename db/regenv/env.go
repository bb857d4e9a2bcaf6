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
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/ledgerwatch/log/v3"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sys/unix"

	"github.com/erigontech/regenv/db/regenv/mutex"
	"github.com/erigontech/regenv/db/regenv/osutil"
	"github.com/erigontech/regenv/db/regenv/shalloc"
)

// Env is one process's attachment to an environment. With InitThread it may
// be shared by goroutines.
type Env struct {
	home     string
	log      log.Logger
	mode     os.FileMode
	spins    int
	faultMem bool

	file  *os.File // environment file; fallback mutexes lock byte ranges of it
	m     *osutil.Mapping
	hdr   *regEnv
	arena *shalloc.Arena
	mu    *mutex.Mutex

	created   bool
	retries   int
	initFlags InitFlags

	// Set by a forced remove.
	noLocking atomic.Bool
	noPanic   atomic.Bool

	closed     atomic.Bool
	infos      *xsync.Map[*Info, struct{}]
	destroyers *xsync.Map[RegionType, Destroyer]
}

func newEnv(opts Opts, f *os.File, m *osutil.Mapping) *Env {
	env := &Env{
		home:       opts.home,
		log:        opts.log,
		mode:       opts.mode,
		spins:      opts.spins,
		faultMem:   opts.faultMem,
		file:       f,
		m:          m,
		hdr:        header(m.Data),
		infos:      xsync.NewMap[*Info, struct{}](),
		destroyers: xsync.NewMap[RegionType, Destroyer](),
	}
	env.noLocking.Store(opts.noLocking)
	env.noPanic.Store(opts.noPanic)
	return env
}

// linearBackOff sleeps n*step before the n-th retry.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

func open(opts Opts) (*Env, error) {
	const op = "open"
	if opts.home == "" {
		return nil, opErr(op, KindConfig, errors.New("empty environment home"))
	}
	if opts.create && opts.initFlags&InitThread != 0 && !opts.mutexKind.ThreadSafe() {
		return nil, opErr(op, KindConfig, ErrThreadFallback)
	}

	var (
		env      *Env
		attempts int
	)
	attach := func() error {
		attempts++
		e, err := attachOnce(opts)
		if err != nil {
			if IsKind(err, KindTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		env = e
		return nil
	}
	notify := func(err error, d time.Duration) {
		mxJoinRetries.AddInt(1)
		opts.log.Debug("[regenv] environment not ready, retrying", "home", opts.home, "attempt", attempts, "sleep", d, "err", err)
	}
	b := backoff.WithMaxRetries(&linearBackOff{step: opts.retryDelay}, uint64(max(opts.maxRetries, 0)))
	if err := backoff.RetryNotify(attach, b, notify); err != nil {
		if IsKind(err, KindTransient) {
			return nil, opErr(op, KindCorruption, fmt.Errorf("%w after %d attempts: %w", ErrCannotJoin, attempts, err))
		}
		return nil, err
	}
	env.retries = attempts - 1

	trackAttached(1)
	if env.created {
		mxEnvCreated.AddInt(1)
		env.log.Info("[regenv] created environment", "home", env.home, "size", len(env.m.Data), "backing", env.m, "flags", env.initFlags)
	} else {
		mxEnvJoined.AddInt(1)
		env.log.Debug("[regenv] joined environment", "home", env.home, "backing", env.m, "retries", env.retries)
	}
	return env, nil
}

func attachOnce(opts Opts) (*Env, error) {
	path := filepath.Join(opts.home, EnvFileName)
	if opts.create {
		f, err := osutil.CreateExclusive(path, opts.mode)
		if err == nil {
			return create(opts, f)
		}
		if !osutil.IsExist(err) {
			return nil, osErr("create", err)
		}
	}
	f, err := osutil.Open(path)
	if err != nil {
		if osutil.IsNotExist(err) {
			if opts.create {
				// Removed between our create attempt and the open.
				return nil, opErr("join", KindTransient, fmt.Errorf("%w: %s vanished", ErrNotReady, path))
			}
			return nil, opErr("join", KindNotFound, fmt.Errorf("%w: %s", ErrNotFound, opts.home))
		}
		return nil, osErr("join", err)
	}
	env, err := join(opts, f)
	if err != nil {
		_ = osutil.Close(f)
		return nil, err
	}
	return env, nil
}

func create(opts Opts, f *os.File) (_ *Env, err error) {
	const op = "create"
	path := f.Name()
	size := opts.rootRegionSize()

	var m *osutil.Mapping
	if opts.systemMem {
		seg := osutil.Segment{Size: size, SegID: osutil.InvalidSegID}
		m, err = osutil.Map(path, &seg, true, true, opts.mode)
	} else {
		m, err = osutil.MapFile(f, size, true)
	}
	if err != nil {
		_ = osutil.Close(f)
		_ = osutil.Unlink(path)
		return nil, osErr(op, err)
	}
	defer func() {
		if err != nil {
			_ = osutil.Unmap(m, true)
			_ = osutil.Close(f)
			_ = osutil.Unlink(path)
		}
	}()

	if opts.faultMem {
		osutil.FaultIn(m.Data, true)
	}
	if opts.afterFault != nil {
		opts.afterFault()
	}

	hdr := header(m.Data)
	atomic.StoreUint32(&hdr.panic, 0)
	hdr.majver = uint32(opts.version.Major())
	hdr.minver = uint32(opts.version.Minor())
	hdr.patch = uint32(opts.version.Patch())
	hdr.initFlags = uint32(opts.initFlags)
	hdr.refcnt = 1
	hdr.mutexKind = uint32(opts.mutexKind)
	hdr.regionq = listHead{}
	hdr.arenaOff = regEnvSize
	if err = mutex.Init(hdr.mutex[:], int64(rootMutexOff), opts.mutexKind); err != nil {
		return nil, opErr(op, KindIO, err)
	}

	env := newEnv(opts, f, m)
	env.created = true
	env.initFlags = opts.initFlags
	if env.mu, err = mutex.Attach(hdr.mutex[:], f, opts.spins); err != nil {
		return nil, opErr(op, KindIO, err)
	}
	if err = env.mu.Lock(); err != nil {
		return nil, opErr(op, KindIO, fmt.Errorf("root mutex: %w", err))
	}
	locked := true
	defer func() {
		if locked {
			_ = env.mu.Unlock()
		}
	}()

	if env.arena, err = shalloc.Init(m.Data, hdr.arenaOff); err != nil {
		return nil, opErr(op, KindResource, err)
	}
	if _, err = env.newDesc(rootID, TypeEnv, size, m.SegID()); err != nil {
		return nil, err
	}

	if m.System() {
		ref := envRef{Size: size, SegID: m.SegID()}
		if err = osutil.WriteAt(f, ref.marshal(), 0); err != nil {
			return nil, osErr(op, err)
		}
		if err = osutil.Sync(f); err != nil {
			return nil, osErr(op, err)
		}
	}

	atomic.StoreUint32(&hdr.magic, envMagic)
	locked = false
	if err = env.mu.Unlock(); err != nil {
		return nil, opErr(op, KindIO, err)
	}
	return env, nil
}

func join(opts Opts, f *os.File) (_ *Env, err error) {
	const op = "join"
	_, size, err := osutil.Stat(f)
	if err != nil {
		return nil, osErr(op, err)
	}
	if size != envRefSize && (size < regEnvSize || size%uint64(osutil.PageSize()) != 0) {
		return nil, opErr(op, KindTransient, fmt.Errorf("%w: environment file is %d bytes", ErrNotReady, size))
	}
	system := size == envRefSize
	if opts.set&setSystemMem != 0 && opts.systemMem != system {
		return nil, opErr(op, KindConfig, fmt.Errorf("%w: system_mem=%t", ErrBackingMismatch, opts.systemMem))
	}

	var m *osutil.Mapping
	if system {
		buf := make([]byte, envRefSize)
		if err = osutil.ReadAt(f, buf, 0); err != nil {
			return nil, osErr(op, err)
		}
		ref := unmarshalEnvRef(buf)
		seg := osutil.Segment{Size: ref.Size, SegID: ref.SegID}
		if m, err = osutil.Map(f.Name(), &seg, false, true, opts.mode); err != nil {
			if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EIDRM) {
				return nil, opErr(op, KindTransient, fmt.Errorf("%w: %w", ErrNotReady, err))
			}
			return nil, osErr(op, err)
		}
		size = ref.Size
	} else if m, err = osutil.MapFile(f, size, false); err != nil {
		return nil, osErr(op, err)
	}
	defer func() {
		if err != nil {
			_ = osutil.Unmap(m, false)
		}
	}()

	env := newEnv(opts, f, m)
	hdr := env.hdr
	if atomic.LoadUint32(&hdr.magic) != envMagic {
		return nil, opErr(op, KindTransient, fmt.Errorf("%w: magic not set", ErrNotReady))
	}
	have := semver.New(uint64(hdr.majver), uint64(hdr.minver), uint64(hdr.patch), "", "")
	patchDiffers, err := checkVersion(have, opts.version)
	if err != nil {
		return nil, opErr(op, KindConfig, err)
	}
	if patchDiffers {
		env.log.Warn("[regenv] joining environment with different patch version", "home", env.home, "env", have, "build", opts.version)
	}
	if err = env.checkPanic(op); err != nil {
		return nil, err
	}
	if env.mu, err = mutex.Attach(hdr.mutex[:], f, opts.spins); err != nil {
		return nil, opErr(op, KindIO, err)
	}

	if err = env.lockRoot(op); err != nil {
		return nil, err
	}
	if err = env.joinLocked(op, size); err != nil {
		_ = env.unlockRoot()
		return nil, err
	}
	if err = env.unlockRoot(); err != nil {
		return nil, opErr(op, KindIO, err)
	}
	if env.faultMem {
		osutil.FaultIn(m.Data, false)
	}
	return env, nil
}

func (env *Env) joinLocked(op string, size uint64) (err error) {
	hdr := env.hdr
	if atomic.LoadUint32(&hdr.magic) != envMagic {
		return opErr(op, KindTransient, fmt.Errorf("%w: environment is being removed", ErrNotReady))
	}
	rd := env.rootDesc()
	if rd == nil || rd.size != size {
		return opErr(op, KindTransient, fmt.Errorf("%w: root region size not final", ErrNotReady))
	}
	if env.arena, err = shalloc.Attach(env.m.Data, hdr.arenaOff); err != nil {
		return opErr(op, KindCorruption, err)
	}
	hdr.refcnt++
	env.initFlags = InitFlags(hdr.initFlags)
	return nil
}

func (env *Env) checkPanic(op string) error {
	if env.noPanic.Load() || atomic.LoadUint32(&env.hdr.panic) == 0 {
		return nil
	}
	env.log.Error("[regenv] environment panic observed", "home", env.home, "op", op)
	return opErr(op, KindPanic, ErrPanic)
}

// lockRoot takes the root mutex, checking the panic flag before and after
// waiting.
func (env *Env) lockRoot(op string) error {
	if err := env.checkPanic(op); err != nil {
		return err
	}
	if env.noLocking.Load() {
		return nil
	}
	if err := env.mu.Lock(); err != nil {
		return opErr(op, KindIO, fmt.Errorf("root mutex: %w", err))
	}
	if err := env.checkPanic(op); err != nil {
		_ = env.mu.Unlock()
		return err
	}
	return nil
}

func (env *Env) unlockRoot() error {
	if env.noLocking.Load() {
		return nil
	}
	return env.mu.Unlock()
}

// poison clears magic and sets panic so that joiners back off.
func (env *Env) poison() {
	atomic.StoreUint32(&env.hdr.magic, 0)
	atomic.StoreUint32(&env.hdr.panic, 1)
}

// markClosed flips the handle to closed and returns the regions it still had
// attached.
func (env *Env) markClosed() ([]*Info, bool) {
	if !env.closed.CompareAndSwap(false, true) {
		return nil, false
	}
	infos := make([]*Info, 0, env.infos.Size())
	env.infos.Range(func(info *Info, _ struct{}) bool {
		infos = append(infos, info)
		return true
	})
	env.infos.Clear()
	return infos, true
}

// Detach drops this process's attachment. With destroy set and no other
// attachers left, every region and file of the environment is removed.
func (env *Env) Detach(destroy bool) error {
	const op = "detach"
	infos, ok := env.markClosed()
	if !ok {
		return opErr(op, KindIO, ErrDetached)
	}
	var errs []error
	for _, info := range infos {
		if err := info.detach(false); err != nil {
			errs = append(errs, err)
		}
	}

	if err := env.lockRoot(op); err != nil {
		return errors.Join(append(errs, err, env.release())...)
	}
	if env.hdr.refcnt == 0 {
		_ = env.unlockRoot()
		return errors.Join(append(errs, opErr(op, KindCorruption, errors.New("reference count underflow")), env.release())...)
	}
	env.hdr.refcnt--
	if destroy && env.hdr.refcnt == 0 {
		env.poison()
		_ = env.unlockRoot()
		env.noPanic.Store(true)
		env.log.Info("[regenv] destroying environment", "home", env.home)
		return errors.Join(append(errs, env.teardown()...)...)
	}
	if err := env.unlockRoot(); err != nil {
		errs = append(errs, opErr(op, KindIO, err))
	}
	return errors.Join(append(errs, env.release())...)
}

// release unmaps the root region and closes the environment file without
// touching shared state.
func (env *Env) release() error {
	trackAttached(-1)
	err := osutil.Unmap(env.m, false)
	if cerr := osutil.Close(env.file); cerr != nil && err == nil {
		err = cerr
	}
	env.hdr, env.arena = nil, nil
	if err != nil {
		return osErr("detach", err)
	}
	return nil
}

// teardown destroys every sub-region, then the root region and the
// environment file. The caller has poisoned the environment and holds no
// mutex.
func (env *Env) teardown() []error {
	var errs []error
	for _, id := range env.regionIDs() {
		if id == rootID {
			continue
		}
		if err := env.destroyRegionByID(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := mutex.Destroy(env.hdr.mutex[:]); err != nil && !env.noLocking.Load() {
		errs = append(errs, opErr("destroy", KindIO, fmt.Errorf("root mutex: %w", err)))
	}
	trackAttached(-1)
	path := filepath.Join(env.home, EnvFileName)
	if err := osutil.Unmap(env.m, true); err != nil {
		errs = append(errs, osErr("destroy", err))
	}
	if err := osutil.Close(env.file); err != nil {
		errs = append(errs, osErr("destroy", err))
	}
	if err := osutil.Unlink(path); err != nil {
		errs = append(errs, osErr("destroy", err))
	}
	env.hdr, env.arena = nil, nil
	return errs
}

// SetPanic marks the environment unusable for every attached process until
// it is removed.
func (env *Env) SetPanic() {
	if env.closed.Load() {
		return
	}
	env.setPanic()
}

func (env *Env) setPanic() {
	if atomic.SwapUint32(&env.hdr.panic, 1) == 0 {
		mxPanics.AddInt(1)
		env.log.Error("[regenv] environment panic set", "home", env.home)
	}
}

// PanicDetach drops this handle's reference, then sets panic, both under the
// root mutex. Detach after SetPanic fails and leaves the reference counted.
func (env *Env) PanicDetach() error {
	const op = "panic detach"
	infos, ok := env.markClosed()
	if !ok {
		return opErr(op, KindIO, ErrDetached)
	}
	var errs []error
	for _, info := range infos {
		if err := info.detach(false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := env.lockRoot(op); err != nil {
		return errors.Join(append(errs, err, env.release())...)
	}
	if env.hdr.refcnt > 0 {
		env.hdr.refcnt--
	}
	env.setPanic()
	if err := env.unlockRoot(); err != nil {
		errs = append(errs, opErr(op, KindIO, err))
	}
	return errors.Join(append(errs, env.release())...)
}

func (env *Env) Panicked() bool {
	if env.closed.Load() {
		return false
	}
	return atomic.LoadUint32(&env.hdr.panic) != 0
}

// Destroyer releases a subsystem's resources before its region is destroyed.
type Destroyer func(info *Info) error

// SetDestroyer registers the hook run when a region of type t is destroyed
// through this handle.
func (env *Env) SetDestroyer(t RegionType, d Destroyer) {
	if d == nil {
		env.destroyers.Delete(t)
		return
	}
	env.destroyers.Store(t, d)
}

func (env *Env) destroyer(t RegionType) Destroyer {
	d, _ := env.destroyers.Load(t)
	return d
}

func (env *Env) Home() string          { return env.home }
func (env *Env) Created() bool         { return env.created }
func (env *Env) InitFlags() InitFlags  { return env.initFlags }
func (env *Env) JoinRetries() int      { return env.retries }
func (env *Env) System() bool          { return env.m.System() }
func (env *Env) MutexKind() mutex.Kind { return env.mu.Kind() }

func (env *Env) String() string {
	return fmt.Sprintf("regenv(%s, %s)", env.home, env.m)
}

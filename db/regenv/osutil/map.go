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

package osutil

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// InvalidSegID marks a segment that lives in a file rather than in system
// shared memory.
const InvalidSegID int64 = -1

// Segment is what Map needs to know about a region: its size and, when the
// region lives in system shared memory, the OS segment id. Map stamps SegID
// when it creates a new system segment.
type Segment struct {
	Size  uint64
	SegID int64
}

// Mapping is one process-local view of a region.
type Mapping struct {
	Data []byte

	system bool
	segid  int64
	path   string
	file   *os.File
	owner  bool // file was opened by Map and is closed by Unmap
	mm     mmap.MMap
}

func (m *Mapping) System() bool   { return m.system }
func (m *Mapping) SegID() int64   { return m.segid }
func (m *Mapping) Path() string   { return m.path }
func (m *Mapping) File() *os.File { return m.file }

// Map creates or attaches the region described by seg. With system set the
// bytes live in a SysV shared-memory segment and path is only used in error
// messages; otherwise path is the backing file, created and sized when create
// is set.
func Map(path string, seg *Segment, create, system bool, mode os.FileMode) (*Mapping, error) {
	if system {
		return mapSystem(path, seg, create, mode)
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return nil, &OpError{Op: "open", Path: path, Err: unwrapPathErr(err)}
	}
	m, err := MapFile(f, seg.Size, create)
	if err != nil {
		_ = f.Close()
		if create {
			_ = os.Remove(path)
		}
		return nil, err
	}
	m.owner = true
	seg.SegID = InvalidSegID
	return m, nil
}

// MapFile maps the first size bytes of an already open file read-write and
// shared. With create set the file is first extended to size.
func MapFile(f *os.File, size uint64, create bool) (*Mapping, error) {
	if size == 0 {
		return nil, errorf("mmap", f.Name(), "zero-sized region")
	}
	if create {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, &OpError{Op: "truncate", Path: f.Name(), Err: unwrapPathErr(err)}
		}
	} else {
		have, err := Size(f)
		if err != nil {
			return nil, err
		}
		if have < size {
			return nil, errorf("mmap", f.Name(), "file is %d bytes, region needs %d", have, size)
		}
	}
	mm, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return nil, &OpError{Op: "mmap", Path: f.Name(), Err: err}
	}
	return &Mapping{Data: mm[:size], segid: InvalidSegID, path: f.Name(), file: f, mm: mm}, nil
}

// Unmap releases the mapping. With destroy set the backing store is removed as
// well: the file is unlinked, or the system segment is marked for deletion.
func Unmap(m *Mapping, destroy bool) error {
	if m == nil {
		return nil
	}
	if m.system {
		return unmapSystem(m, destroy)
	}
	var firstErr error
	if m.mm != nil {
		if err := m.mm.Unmap(); err != nil {
			firstErr = &OpError{Op: "munmap", Path: m.path, Err: err}
		}
		m.mm, m.Data = nil, nil
	}
	if m.owner {
		if err := Close(m.file); err != nil && firstErr == nil {
			firstErr = err
		}
		m.file = nil
	}
	if destroy && m.path != "" {
		if err := Unlink(m.path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Mapping) String() string {
	if m.system {
		return fmt.Sprintf("shm:%d(%d)", m.segid, len(m.Data))
	}
	return fmt.Sprintf("file:%s(%d)", m.path, len(m.Data))
}

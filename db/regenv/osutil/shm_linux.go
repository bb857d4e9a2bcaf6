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

//go:build linux

package osutil

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapSystem(path string, seg *Segment, create bool, mode os.FileMode) (*Mapping, error) {
	if create {
		id, err := unix.SysvShmGet(unix.IPC_PRIVATE, int(seg.Size), unix.IPC_CREAT|unix.IPC_EXCL|int(mode.Perm()))
		if err != nil {
			return nil, &OpError{Op: "shmget", Path: path, Err: err}
		}
		data, err := unix.SysvShmAttach(id, 0, 0)
		if err != nil {
			_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
			return nil, &OpError{Op: "shmat", Path: path, Err: err}
		}
		seg.SegID = int64(id)
		return &Mapping{Data: data[:seg.Size], system: true, segid: seg.SegID, path: path}, nil
	}

	if seg.SegID == InvalidSegID {
		return nil, errorf("shmat", path, "region has no system segment")
	}
	data, err := unix.SysvShmAttach(int(seg.SegID), 0, 0)
	if err != nil {
		return nil, &OpError{Op: "shmat", Path: path, Err: err}
	}
	if uint64(len(data)) < seg.Size {
		_ = unix.SysvShmDetach(data)
		return nil, errorf("shmat", path, "segment %d is %d bytes, region needs %d", seg.SegID, len(data), seg.Size)
	}
	return &Mapping{Data: data[:seg.Size], system: true, segid: seg.SegID, path: path}, nil
}

func unmapSystem(m *Mapping, destroy bool) error {
	var firstErr error
	if m.Data != nil {
		if err := unix.SysvShmDetach(m.Data[:cap(m.Data)]); err != nil {
			firstErr = &OpError{Op: "shmdt", Path: m.path, Err: err}
		}
		m.Data = nil
	}
	if destroy {
		if _, err := unix.SysvShmCtl(int(m.segid), unix.IPC_RMID, nil); err != nil && err != unix.EINVAL && firstErr == nil {
			firstErr = &OpError{Op: "shmctl", Path: m.path, Err: err}
		}
	}
	return firstErr
}

// DestroySegment removes a system segment nobody in this process has mapped.
func DestroySegment(segid int64) error {
	if segid == InvalidSegID {
		return nil
	}
	if _, err := unix.SysvShmCtl(int(segid), unix.IPC_RMID, nil); err != nil && err != unix.EINVAL && err != unix.EIDRM {
		return &OpError{Op: "shmctl", Err: err}
	}
	return nil
}

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

//go:build !linux

package osutil

import "os"

func mapSystem(path string, _ *Segment, _ bool, _ os.FileMode) (*Mapping, error) {
	return nil, &OpError{Op: "shmget", Path: path, Err: ErrNotSupported}
}

func unmapSystem(m *Mapping, _ bool) error {
	return &OpError{Op: "shmdt", Path: m.path, Err: ErrNotSupported}
}

func DestroySegment(segid int64) error {
	if segid == InvalidSegID {
		return nil
	}
	return &OpError{Op: "shmctl", Err: ErrNotSupported}
}

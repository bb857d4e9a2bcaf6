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
	"os"
)

var pageSize = os.Getpagesize()

func PageSize() int { return pageSize }

// FaultIn touches one byte in every page of data so the page faults are taken
// now rather than later while a mutex is held. Writing is used for memory this
// process has just created; joiners only read. The result folds the bytes read
// so the loads are not optimised away.
func FaultIn(data []byte, write bool) byte {
	if write {
		for i := 0; i < len(data); i += pageSize {
			data[i] = 0
		}
		return 0
	}
	var acc byte
	for i := 0; i < len(data); i += pageSize {
		acc ^= data[i]
	}
	return acc
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

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

package dbg

import (
	"sync"

	"github.com/ledgerwatch/log/v3"
)

var (
	faultMem     bool
	faultMemOnce sync.Once
)

// FaultMem reports whether freshly mapped regions should have every page
// touched before they are used. The value is read once per process; attach
// handles capture it and never consult it again.
func FaultMem() bool {
	faultMemOnce.Do(func() {
		faultMem = EnvBool("FAULT_MEM", true)
		if !faultMem {
			log.Info("[Experiment]", "REGENV_FAULT_MEM", faultMem)
		}
	})
	return faultMem
}

var (
	mutexSpins     int
	mutexSpinsOnce sync.Once
)

// MutexSpins is the number of test-and-set attempts a fast mutex makes before
// parking.
func MutexSpins() int {
	mutexSpinsOnce.Do(func() {
		mutexSpins = EnvInt("MUTEX_SPINS", 64)
		if mutexSpins < 1 {
			mutexSpins = 1
		}
	})
	return mutexSpins
}

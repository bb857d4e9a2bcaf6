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

	"github.com/erigontech/regenv/common/metrics"
)

var (
	mxEnvCreated    = metrics.GetOrCreateCounter(`regenv_env_attach{result="created"}`)
	mxEnvJoined     = metrics.GetOrCreateCounter(`regenv_env_attach{result="joined"}`)
	mxJoinRetries   = metrics.GetOrCreateCounter("regenv_join_retries")
	mxPanics        = metrics.GetOrCreateCounter("regenv_panics")
	mxRegionCreated = metrics.GetOrCreateCounter(`regenv_region_attach{result="created"}`)
	mxRegionJoined  = metrics.GetOrCreateCounter(`regenv_region_attach{result="joined"}`)
	mxRemove        = metrics.GetOrCreateCounter("regenv_remove")
	mxAttachedEnvs  = metrics.GetOrCreateGauge("regenv_attached_envs")

	attachedEnvs atomic.Int64
)

func trackAttached(delta int64) {
	mxAttachedEnvs.SetInt(int(attachedEnvs.Add(delta)))
}

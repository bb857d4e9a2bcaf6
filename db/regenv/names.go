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
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
)

const (
	EnvFileName    = "__db.env"
	regionFileFmt  = "__db.%03d"
	ConfigFileName = "DB_CONFIG.toml"
)

var regionFileRe = regexp.MustCompile(`^__db\.[0-9]{3,}$`)

// oldRegionFiles were written by earlier layouts. They are never created but
// are removed with the environment.
var oldRegionFiles = []string{
	"__db_lock.share",
	"__db_log.share",
	"__db_mpool.share",
	"__db_txn.share",
}

func regionFileName(id uint32) string { return fmt.Sprintf(regionFileFmt, id) }

// regionPath names the backing file of region id. The root region (id 1)
// lives in the environment file, so there is no __db.001.
func regionPath(home string, id uint32) string {
	if id == rootID {
		return filepath.Join(home, EnvFileName)
	}
	return filepath.Join(home, regionFileName(id))
}

// isRegionFile reports whether name belongs to the region manager.
func isRegionFile(name string) bool {
	return name == EnvFileName || regionFileRe.MatchString(name) || slices.Contains(oldRegionFiles, name)
}

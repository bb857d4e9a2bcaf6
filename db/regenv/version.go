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

	"github.com/Masterminds/semver/v3"
)

// Version of the region layout written by this build.
const (
	VersionMajor = 1
	VersionMinor = 2
	VersionPatch = 0
)

func BuildVersion() *semver.Version {
	return semver.New(VersionMajor, VersionMinor, VersionPatch, "", "")
}

// checkVersion decides whether a build at want may join an environment that
// was created at have. Major and minor must agree; a patch difference is
// allowed and reported through the returned bool.
func checkVersion(have, want *semver.Version) (patchDiffers bool, err error) {
	c, err := semver.NewConstraint(fmt.Sprintf("~%d.%d", want.Major(), want.Minor()))
	if err != nil {
		return false, err
	}
	if !c.Check(have) {
		return false, fmt.Errorf("%w: environment is %s, build is %s", ErrVersionMismatch, have, want)
	}
	return have.Patch() != want.Patch(), nil
}

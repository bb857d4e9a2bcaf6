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

package dir

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

func MustExist(path ...string) {
	const perm = 0764 // user rwx, group rw, other r
	for _, p := range path {
		exist, err := Exist(p)
		if err != nil {
			panic(err)
		}
		if exist {
			continue
		}
		if err := os.MkdirAll(p, perm); err != nil {
			panic(err)
		}
	}
}

func Exist(path string) (exists bool, err error) {
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// ListFiles returns the regular files of dir whose base name satisfies match.
// A nil match accepts every non-hidden file.
func ListFiles(dir string, match func(name string) bool) (paths []string, err error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	paths = make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !f.Type().IsRegular() {
			continue
		}
		if match == nil && strings.HasPrefix(f.Name(), ".") {
			continue
		}
		if match != nil && !match(f.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, f.Name()))
	}
	return paths, nil
}

// DeleteFiles removes paths in parallel. Files that are already gone are not
// an error.
func DeleteFiles(paths ...string) error {
	g := errgroup.Group{}
	for _, fPath := range paths {
		g.Go(func() error {
			if err := os.Remove(fPath); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

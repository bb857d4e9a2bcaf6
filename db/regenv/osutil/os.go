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

// Package osutil is the thin layer between the region manager and the
// operating system: files, mappings, directory listing and sleeping.
package osutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/erigontech/regenv/common/dir"
)

const MegaByte = 1 << 20

var (
	ErrNotSupported = errors.New("not supported on this platform")
	ErrShortRead    = errors.New("short read")
)

// OpError records the failed operation and the path it was applied to. The
// underlying error is kept so callers can classify it with errors.Is.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

func IsExist(err error) bool    { return errors.Is(err, fs.ErrExist) }
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

// CreateExclusive creates path and fails with an fs.ErrExist-wrapping error if
// it is already there. Losing this race is normal while several processes
// open the same environment.
func CreateExclusive(path string, mode os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return nil, &OpError{Op: "create", Path: path, Err: unwrapPathErr(err)}
	}
	return f, nil
}

func Open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &OpError{Op: "open", Path: path, Err: unwrapPathErr(err)}
	}
	return f, nil
}

// Stat returns the size of f split into whole megabytes and the remainder.
func Stat(f *os.File) (mbytes, bytes uint64, err error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, &OpError{Op: "stat", Path: f.Name(), Err: unwrapPathErr(err)}
	}
	size := uint64(fi.Size())
	return size / MegaByte, size % MegaByte, nil
}

// Size is Stat folded back into bytes.
func Size(f *os.File) (uint64, error) {
	mbytes, bytes, err := Stat(f)
	if err != nil {
		return 0, err
	}
	return mbytes*MegaByte + bytes, nil
}

// ReadAt fills buf from offset off; a short file is an error.
func ReadAt(f *os.File, buf []byte, off int64) error {
	n, err := f.ReadAt(buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		if errors.Is(err, io.EOF) {
			err = ErrShortRead
		}
		return &OpError{Op: "read", Path: f.Name(), Err: err}
	}
	return nil
}

func WriteAt(f *os.File, buf []byte, off int64) error {
	if _, err := f.WriteAt(buf, off); err != nil {
		return &OpError{Op: "write", Path: f.Name(), Err: err}
	}
	return nil
}

func Sync(f *os.File) error {
	if err := f.Sync(); err != nil {
		return &OpError{Op: "fsync", Path: f.Name(), Err: err}
	}
	return nil
}

func Close(f *os.File) error {
	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return &OpError{Op: "close", Path: f.Name(), Err: err}
	}
	return nil
}

// Unlink removes path. A missing file is not an error.
func Unlink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &OpError{Op: "unlink", Path: path, Err: unwrapPathErr(err)}
	}
	return nil
}

// DirList returns the base names of regular files in home accepted by match.
func DirList(home string, match func(name string) bool) ([]string, error) {
	paths, err := dir.ListFiles(home, match)
	if err != nil {
		return nil, &OpError{Op: "readdir", Path: home, Err: unwrapPathErr(err)}
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names, nil
}

func unwrapPathErr(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

func errorf(op, path, format string, args ...any) error {
	return &OpError{Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies a failure so that callers can tell a busy environment from
// a corrupt one without matching strings.
type Kind uint8

const (
	KindIO         Kind = iota // operating system failure
	KindTransient              // creation race, retried internally
	KindConfig                 // version or backing mismatch
	KindResource               // out of handles, memory or region space
	KindCorruption             // environment never became valid
	KindPanic                  // panic flag observed
	KindBusy                   // other processes are attached
	KindNotFound               // no environment or region
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTransient:
		return "transient"
	case KindConfig:
		return "config"
	case KindResource:
		return "resource"
	case KindCorruption:
		return "corruption"
	case KindPanic:
		return "panic"
	case KindBusy:
		return "busy"
	case KindNotFound:
		return "not-found"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var (
	ErrPanic           = errors.New("environment panic, run recovery")
	ErrBusy            = errors.New("environment is attached by other processes")
	ErrNotFound        = errors.New("environment does not exist")
	ErrRegionNotFound  = errors.New("region does not exist")
	ErrVersionMismatch = errors.New("environment version mismatch")
	ErrBackingMismatch = errors.New("environment backing does not match system memory setting")
	ErrThreadFallback  = errors.New("fcntl mutexes cannot serialise threads")
	ErrCannotJoin      = errors.New("unable to join environment")
	ErrNotReady        = errors.New("environment is not ready")
	ErrDetached        = errors.New("handle is already detached")
	ErrNoSpace         = errors.New("no space left in environment region")
)

// OpError is returned by every exported operation of this package.
type OpError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, kind Kind, err error) error {
	var oe *OpError
	if errors.As(err, &oe) && oe.Op == op {
		return err
	}
	return &OpError{Op: op, Kind: kind, Err: err}
}

// osErr wraps an operating system failure, telling exhausted resources apart
// from other I/O errors.
func osErr(op string, err error) error {
	switch {
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE), errors.Is(err, unix.ENOMEM), errors.Is(err, unix.ENOSPC):
		return opErr(op, KindResource, err)
	default:
		return opErr(op, KindIO, err)
	}
}

// KindOf returns the kind of err; errors that did not come from this package
// are reported as KindIO.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	if errors.Is(err, ErrPanic) {
		return KindPanic
	}
	return KindIO
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

func IsPanic(err error) bool { return errors.Is(err, ErrPanic) }
func IsBusy(err error) bool  { return errors.Is(err, ErrBusy) }
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRegionNotFound)
}

func IsVersionMismatch(err error) bool { return errors.Is(err, ErrVersionMismatch) }

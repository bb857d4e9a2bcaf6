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

// Package shalloc is a first-fit allocator over a byte range inside a mapped
// region. All bookkeeping lives in the region itself and every reference is a
// byte offset from the region's base, so processes that map the region at
// different addresses agree on its contents.
//
// Layout: a 32-byte head at the arena start, then blocks. A free block begins
// with {size, next}; an allocated block carries {size, start} in the 16 bytes
// right before the payload so that aligned payloads can sit anywhere inside
// their block. The free list is kept sorted by offset and neighbours are
// coalesced on Free.
package shalloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"
)

const (
	arenaMagic uint32 = 0x5ea110c8

	// HeadSize is the arena header laid at the start offset.
	HeadSize = 32

	hdrSize  = 16
	unit     = 8
	minBlock = hdrSize + 16
)

var (
	ErrNoSpace  = errors.New("shalloc: not enough space in region")
	ErrBadFree  = errors.New("shalloc: free of a block that is not allocated")
	ErrNotArena = errors.New("shalloc: region holds no arena")
)

var ne = binary.NativeEndian

// Arena is a process-local view of an allocator living in region[start:].
type Arena struct {
	region []byte
	start  uint64
}

// Init lays a fresh arena over region[start:], discarding whatever was there.
func Init(region []byte, start uint64) (*Arena, error) {
	a := &Arena{region: region, start: start}
	first := a.firstBlock()
	if first+minBlock > uint64(len(region)) {
		return nil, fmt.Errorf("%w: arena of %d bytes at %d", ErrNoSpace, uint64(len(region))-start, start)
	}
	ne.PutUint32(region[start:], arenaMagic)
	ne.PutUint64(region[start+8:], uint64(len(region)))
	a.setFree(first)
	ne.PutUint64(region[start+24:], 0)
	a.putBlock(first, uint64(len(region))-first, 0)
	return a, nil
}

// Attach returns a view of an arena a peer has already initialised.
func Attach(region []byte, start uint64) (*Arena, error) {
	if start+HeadSize > uint64(len(region)) || ne.Uint32(region[start:]) != arenaMagic {
		return nil, ErrNotArena
	}
	if ne.Uint64(region[start+8:]) != uint64(len(region)) {
		return nil, fmt.Errorf("%w: arena was built for %d bytes, mapping has %d", ErrNotArena, ne.Uint64(region[start+8:]), len(region))
	}
	return &Arena{region: region, start: start}, nil
}

func (a *Arena) firstBlock() uint64 { return alignUp(a.start+HeadSize, unit) }
func (a *Arena) free() uint64       { return ne.Uint64(a.region[a.start+16:]) }
func (a *Arena) setFree(off uint64) { ne.PutUint64(a.region[a.start+16:], off) }

func (a *Arena) addAllocated(delta int64) {
	ne.PutUint64(a.region[a.start+24:], uint64(int64(ne.Uint64(a.region[a.start+24:]))+delta))
}

func (a *Arena) putBlock(off, size, next uint64) {
	ne.PutUint64(a.region[off:], size)
	ne.PutUint64(a.region[off+8:], next)
}

func (a *Arena) block(off uint64) (size, next uint64) {
	return ne.Uint64(a.region[off:]), ne.Uint64(a.region[off+8:])
}

// link makes prev (0 meaning the list head) point at off.
func (a *Arena) link(prev, off uint64) {
	if prev == 0 {
		a.setFree(off)
		return
	}
	ne.PutUint64(a.region[prev+8:], off)
}

// Alloc reserves n bytes whose region offset is a multiple of align and
// returns that offset. align must be a power of two; values below 8 are
// raised to 8.
func (a *Arena) Alloc(n, align uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("shalloc: zero-byte allocation")
	}
	if align < unit {
		align = unit
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("shalloc: alignment %d is not a power of two", align)
	}
	n = alignUp(n, unit)

	var prev uint64
	for cur := a.free(); cur != 0; {
		size, next := a.block(cur)
		blockEnd := cur + size
		payload := alignUp(cur+hdrSize, align)
		end := payload + n
		if end > blockEnd {
			prev, cur = cur, next
			continue
		}
		if blockEnd-end >= minBlock {
			a.putBlock(end, blockEnd-end, next)
			a.link(prev, end)
			size = end - cur
		} else {
			a.link(prev, next)
		}
		ne.PutUint64(a.region[payload-hdrSize:], size)
		ne.PutUint64(a.region[payload-8:], cur)
		a.addAllocated(1)
		clear(a.region[payload:end])
		return payload, nil
	}
	return 0, fmt.Errorf("%w: %d bytes aligned to %d", ErrNoSpace, n, align)
}

// Free returns the block whose payload starts at off.
func (a *Arena) Free(off uint64) error {
	first := a.firstBlock()
	if off < first+hdrSize || off > uint64(len(a.region)) || off%unit != 0 {
		return fmt.Errorf("%w: offset %d", ErrBadFree, off)
	}
	size, start := ne.Uint64(a.region[off-hdrSize:]), ne.Uint64(a.region[off-8:])
	if start < first || start > off-hdrSize || size < hdrSize+unit || start+size > uint64(len(a.region)) || start+size < off {
		return fmt.Errorf("%w: offset %d", ErrBadFree, off)
	}

	var prev uint64
	cur := a.free()
	for cur != 0 && cur < start {
		_, next := a.block(cur)
		prev, cur = cur, next
	}
	if prev != 0 {
		psize, _ := a.block(prev)
		if prev+psize > start {
			return fmt.Errorf("%w: offset %d overlaps free block %d", ErrBadFree, off, prev)
		}
	}
	if cur != 0 && start+size > cur {
		return fmt.Errorf("%w: offset %d overlaps free block %d", ErrBadFree, off, cur)
	}

	a.putBlock(start, size, cur)
	a.link(prev, start)
	if cur != 0 && start+size == cur {
		csize, cnext := a.block(cur)
		a.putBlock(start, size+csize, cnext)
	}
	if prev != 0 {
		psize, _ := a.block(prev)
		if prev+psize == start {
			ssize, snext := a.block(start)
			a.putBlock(prev, psize+ssize, snext)
		}
	}
	a.addAllocated(-1)
	return nil
}

// Bytes returns the n bytes at region offset off.
func (a *Arena) Bytes(off, n uint64) []byte { return a.region[off : off+n : off+n] }

// Stat summarises the arena.
type Stat struct {
	Size       uint64 // bytes managed by the arena
	FreeBytes  uint64
	FreeBlocks uint64
	Largest    uint64 // largest free block, header included
	Allocated  uint64 // live allocations
}

func (a *Arena) Stat() Stat {
	st := Stat{Size: uint64(len(a.region)) - a.firstBlock(), Allocated: ne.Uint64(a.region[a.start+24:])}
	for cur := a.free(); cur != 0; {
		size, next := a.block(cur)
		st.FreeBytes += size
		st.FreeBlocks++
		st.Largest = max(st.Largest, size)
		cur = next
	}
	return st
}

// RAddr converts a region offset into a pointer into the local mapping.
func RAddr(region []byte, off uint64) unsafe.Pointer {
	return unsafe.Pointer(&region[off])
}

// ROffset converts a pointer into the local mapping back into a region
// offset.
func ROffset(region []byte, p unsafe.Pointer) uint64 {
	return uint64(uintptr(p) - uintptr(unsafe.Pointer(&region[0])))
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

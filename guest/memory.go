// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package guest

import "math"

// arenaBase reserves the low offsets so that 0 is never a valid allocation
// and can carry the "no buffer" / failure meaning of the ABI.
const arenaBase = 8

// span is a free region of the arena.
type span struct {
	off  uint32
	size uint32
}

// Memory is the guest linear memory: a growable byte arena with a first-fit
// free-list allocator.  Buffers crossing the host/guest boundary live here
// and are addressed as (offset, length) pairs.
type Memory struct {
	buf    []byte
	allocs map[uint32]uint32
	free   []span
}

// NewMemory returns an empty arena.
func NewMemory() *Memory {
	return &Memory{
		buf:    make([]byte, arenaBase),
		allocs: make(map[uint32]uint32),
	}
}

// Alloc reserves size bytes and returns their offset, or 0 when the arena
// cannot grow any further.  A zero size still yields a distinct live
// allocation.
func (m *Memory) Alloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	for i, s := range m.free {
		if s.size >= size {
			ptr := s.off
			if s.size == size {
				m.free = append(m.free[:i], m.free[i+1:]...)
			} else {
				m.free[i] = span{off: s.off + size, size: s.size - size}
			}
			m.allocs[ptr] = size
			return ptr
		}
	}
	if uint64(len(m.buf))+uint64(size) > math.MaxUint32 {
		return 0
	}
	ptr := uint32(len(m.buf))
	m.buf = append(m.buf, make([]byte, size)...)
	m.allocs[ptr] = size
	return ptr
}

// Free releases the allocation at ptr.  Freeing an offset that is not a
// live allocation, including 0, is a no-op.
func (m *Memory) Free(ptr uint32) {
	size, ok := m.allocs[ptr]
	if !ok {
		return
	}
	delete(m.allocs, ptr)
	m.free = append(m.free, span{off: ptr, size: size})
}

// Bytes returns the size-byte window at ptr, or false when the range falls
// outside the arena.  The window aliases arena storage; callers must copy
// anything they keep.
func (m *Memory) Bytes(ptr, size uint32) ([]byte, bool) {
	end := uint64(ptr) + uint64(size)
	if end > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[ptr:end:end], true
}

// Live reports the number of outstanding allocations.
func (m *Memory) Live() int {
	return len(m.allocs)
}

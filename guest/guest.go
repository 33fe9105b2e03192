// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package guest publishes the export surface a host drives to load, run,
// and reset sandboxed scripts: the lifecycle calls, the eval entry points,
// the limit setter, and the allocator for buffers crossing the boundary.
//
// Buffers exchanged with the host are (offset, length) pairs into the
// module's linear Memory.  Reply buffers returned by the eval entry points
// are allocated here and must be freed by the host via Free; a (0, 0) pair
// means "no buffer" and must not be freed.  Calls into one Module must be
// serialized by the host.
package guest

import (
	"github.com/fatal10110/lua-redis-wasm/codec"
	"github.com/fatal10110/lua-redis-wasm/redisapi"
	"github.com/fatal10110/lua-redis-wasm/runtime"
)

// AbiVersion gates compatibility between host and guest; hosts may inspect
// it before driving the export surface.
const AbiVersion = 0

// Module bundles the guest linear memory with the script runtime behind the
// exported ABI.
type Module struct {
	mem *Memory
	rt  *runtime.Runtime
}

// New returns a Module whose scripts reach the data store through host.
// Options are forwarded to the runtime.
func New(host redisapi.Host, opts ...runtime.Option) *Module {
	return &Module{
		mem: NewMemory(),
		rt:  runtime.New(host, opts...),
	}
}

// Memory exposes the module's linear memory so the embedding host can stage
// script and argument buffers and read reply buffers.
func (m *Module) Memory() *Memory {
	return m.mem
}

// Runtime exposes the underlying script runtime.
func (m *Module) Runtime() *runtime.Runtime {
	return m.rt
}

// Init creates a fresh interpreter, replacing any existing one.  It returns
// 0 on success and -1 on failure.
func (m *Module) Init() int32 {
	if err := m.rt.Init(); err != nil {
		return -1
	}
	return 0
}

// Reset recreates the interpreter.  It returns 0 on success and -1 when no
// interpreter exists or creation fails.
func (m *Module) Reset() int32 {
	if err := m.rt.Reset(); err != nil {
		return -1
	}
	return 0
}

// SetLimits replaces the execution caps; see runtime.SetLimits for the zero
// semantics.
func (m *Module) SetLimits(maxFuel, maxReplyBytes, maxArgBytes uint32) {
	m.rt.SetLimits(maxFuel, maxReplyBytes, maxArgBytes)
}

// Eval runs the script at (ptr, size) with empty KEYS and ARGV and returns
// the location of the encoded reply.
func (m *Module) Eval(ptr, size uint32) (uint32, uint32) {
	if !m.rt.Initialized() {
		return m.place(codec.AppendError(nil, "ERR Lua VM not initialized"))
	}
	script, ok := m.mem.Bytes(ptr, size)
	if !ok {
		return m.place(codec.AppendError(nil, "ERR script load failed"))
	}
	return m.place(m.rt.Eval(script))
}

// EvalWithArgs runs the script at (scriptPtr, scriptLen) with the KEYS/ARGV
// bundle encoded at (argsPtr, argsLen), of which the first keysCount items
// become KEYS.  It returns the location of the encoded reply.
func (m *Module) EvalWithArgs(scriptPtr, scriptLen, argsPtr, argsLen, keysCount uint32) (uint32, uint32) {
	if !m.rt.Initialized() {
		return m.place(codec.AppendError(nil, "ERR Lua VM not initialized"))
	}
	script, ok := m.mem.Bytes(scriptPtr, scriptLen)
	if !ok {
		return m.place(codec.AppendError(nil, "ERR script load failed"))
	}
	args, ok := m.mem.Bytes(argsPtr, argsLen)
	if !ok {
		return m.place(codec.AppendError(nil, "ERR invalid KEYS/ARGV encoding"))
	}
	return m.place(m.rt.EvalWithArgs(script, args, keysCount))
}

// Alloc reserves size bytes of guest memory for the host, returning 0 on
// failure.
func (m *Module) Alloc(size uint32) uint32 {
	return m.mem.Alloc(size)
}

// Free releases a guest allocation.
func (m *Module) Free(ptr uint32) {
	m.mem.Free(ptr)
}

// place copies reply into a fresh allocation and returns its (ptr, len).
// The caller owns the allocation and frees it via Free.
func (m *Module) place(reply []byte) (uint32, uint32) {
	ptr := m.mem.Alloc(uint32(len(reply)))
	if ptr == 0 {
		return 0, 0
	}
	window, _ := m.mem.Bytes(ptr, uint32(len(reply)))
	copy(window, reply)
	return ptr, uint32(len(reply))
}

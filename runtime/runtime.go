// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package runtime owns the embedded Lua interpreter: its lifecycle, the
// sandbox policy applied to it, the instruction-count fuel hook, and the
// eval entry points that run untrusted scripts and encode their results as
// reply frames.
//
// A Runtime is single-threaded by contract.  Only one entry point may run at
// a time; the embedding host is responsible for serializing calls.
package runtime

import (
	"bytes"
	"errors"

	"github.com/Shopify/go-lua"
	"go.uber.org/zap"

	"github.com/fatal10110/lua-redis-wasm/codec"
	"github.com/fatal10110/lua-redis-wasm/redisapi"
)

const (
	// DefaultFuelLimit is the instruction budget granted to a script when
	// no explicit limit has been configured.
	DefaultFuelLimit = 10000000

	// FuelHookStep is the number of interpreted instructions between fuel
	// hook invocations.
	FuelHookStep = 1000
)

// fuelExhaustedMessage is raised as a script error when the fuel budget runs
// out.  The wording is part of the external contract.
const fuelExhaustedMessage = "Script killed by fuel limit"

// ErrNotInitialized is returned by Reset when no interpreter exists.
var ErrNotInitialized = errors.New("runtime: Lua VM not initialized")

// Limits bundles the three configurable execution caps.  A zero
// MaxReplyBytes or MaxArgBytes means unlimited; a zero MaxFuel means "leave
// the current fuel limit unchanged".
type Limits struct {
	MaxFuel       uint32
	MaxReplyBytes uint32
	MaxArgBytes   uint32
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for lifecycle diagnostics.  The default
// discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runtime) {
		r.log = log
	}
}

// WithLimits applies an initial set of execution caps, with the same
// semantics as SetLimits.
func WithLimits(limits Limits) Option {
	return func(r *Runtime) {
		r.SetLimits(limits.MaxFuel, limits.MaxReplyBytes, limits.MaxArgBytes)
	}
}

// Runtime drives a single embedded Lua interpreter.
//
// The following fields are set when the runtime is created and do not change
// afterwards.
//
// host is the import surface scripts reach through the redis.* bridge.
//
// log receives lifecycle diagnostics.
//
// The remaining fields track the interpreter singleton and its execution
// budget.
//
// state is the interpreter instance, nil until Init succeeds.  While
// present it always has the sandbox policy applied, the redis API
// registered, and the fuel hook armed.
//
// fuelLimit is the instruction budget applied at each fuel reset;
// fuelRemaining is the running countdown the hook decrements.
//
// maxReplyBytes caps the encoded size of a reply returned to the host and
// maxArgBytes caps the inbound KEYS/ARGV frame; zero disables either cap.
type Runtime struct {
	host redisapi.Host
	log  *zap.Logger

	state         *lua.State
	fuelLimit     int64
	fuelRemaining int64
	maxReplyBytes uint32
	maxArgBytes   uint32
}

// New returns a Runtime bound to the given host import surface.  The
// interpreter itself is not created until Init is called.
func New(host redisapi.Host, opts ...Option) *Runtime {
	r := &Runtime{
		host:      host,
		log:       zap.NewNop(),
		fuelLimit: DefaultFuelLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init creates a fresh interpreter, tearing down any existing one first.
// The new interpreter has the sandbox policy applied, the redis API
// registered, the fuel hook armed, and a full fuel budget.
func (r *Runtime) Init() error {
	if r.state != nil {
		r.teardown()
	}
	return r.openState()
}

// Reset is Init for an already-initialized runtime.  It fails with
// ErrNotInitialized when no interpreter exists.
func (r *Runtime) Reset() error {
	if r.state == nil {
		return ErrNotInitialized
	}
	r.teardown()
	return r.openState()
}

// Initialized reports whether an interpreter currently exists.
func (r *Runtime) Initialized() bool {
	return r.state != nil
}

// SetLimits replaces the execution caps.  A maxFuel of zero keeps the
// current fuel limit; zero reply/arg caps mean unlimited.  A new fuel limit
// takes effect at the next fuel reset, i.e. the next entry point invocation.
func (r *Runtime) SetLimits(maxFuel, maxReplyBytes, maxArgBytes uint32) {
	if maxFuel > 0 {
		r.fuelLimit = int64(maxFuel)
	}
	r.maxReplyBytes = maxReplyBytes
	r.maxArgBytes = maxArgBytes
	r.log.Debug("limits updated",
		zap.Int64("max_fuel", r.fuelLimit),
		zap.Uint32("max_reply_bytes", maxReplyBytes),
		zap.Uint32("max_arg_bytes", maxArgBytes))
}

// Eval loads and runs script with empty KEYS and ARGV, returning exactly one
// encoded reply frame.  Failures of any kind are rendered as Error replies;
// Eval never returns an empty buffer.
func (r *Runtime) Eval(script []byte) []byte {
	if r.state == nil {
		return codec.AppendError(nil, "ERR Lua VM not initialized")
	}
	r.resetFuel()
	r.setEmptyKeysArgv()
	return r.run(script)
}

// EvalWithArgs is Eval with a caller-supplied KEYS/ARGV bundle.  args is a
// request frame whose first keysCount items populate KEYS and whose
// remainder populates ARGV, both 1-indexed.
func (r *Runtime) EvalWithArgs(script, args []byte, keysCount uint32) []byte {
	if r.state == nil {
		return codec.AppendError(nil, "ERR Lua VM not initialized")
	}
	r.resetFuel()
	if r.maxArgBytes > 0 && uint32(len(args)) > r.maxArgBytes {
		return codec.AppendError(nil, "ERR KEYS/ARGV exceeds configured limit")
	}
	if err := r.setKeysArgv(args, keysCount); err != nil {
		r.state.SetTop(0)
		return codec.AppendError(nil, "ERR invalid KEYS/ARGV encoding")
	}
	return r.run(script)
}

// run loads script as the chunk @user_script, executes it, and encodes the
// topmost result.  The interpreter stack is empty on return.
func (r *Runtime) run(script []byte) []byte {
	l := r.state
	if err := l.Load(bytes.NewReader(script), "@user_script", ""); err != nil {
		msg := topErrorMessage(l, "ERR script load failed")
		l.SetTop(0)
		return codec.AppendError(nil, msg)
	}
	if err := l.ProtectedCall(0, lua.MultipleReturns, 0); err != nil {
		msg := topErrorMessage(l, "ERR script execution failed")
		l.SetTop(0)
		return codec.AppendError(nil, msg)
	}
	if l.Top() == 0 {
		return codec.AppendStatus(nil, "OK")
	}
	reply, err := appendLuaValue(l, -1, nil, 0)
	l.SetTop(0)
	if err != nil {
		return codec.AppendError(nil, "ERR unsupported Lua return type")
	}
	if r.maxReplyBytes > 0 && uint32(len(reply)) > r.maxReplyBytes {
		return codec.AppendError(nil, "ERR reply exceeds configured limit")
	}
	return reply
}

// openState builds the interpreter singleton: baseline libraries, sandbox
// policy, auxiliary modules, redis API, fuel hook.
func (r *Runtime) openState() error {
	l := lua.NewState()
	openAllowedLibraries(l)
	redisapi.Register(l, r.host)
	lua.SetDebugHook(l, r.fuelHook, lua.MaskCount, FuelHookStep)
	r.state = l
	r.resetFuel()
	r.log.Debug("lua state created", zap.Int64("fuel_limit", r.fuelLimit))
	return nil
}

func (r *Runtime) teardown() {
	r.state = nil
	r.log.Debug("lua state destroyed")
}

// fuelHook runs every FuelHookStep interpreted instructions and terminates
// the script once the budget is exhausted.
func (r *Runtime) fuelHook(l *lua.State, _ lua.Debug) {
	r.fuelRemaining -= FuelHookStep
	if r.fuelRemaining <= 0 {
		r.log.Debug("script killed by fuel limit",
			zap.Int64("fuel_limit", r.fuelLimit))
		lua.Errorf(l, fuelExhaustedMessage)
	}
}

func (r *Runtime) resetFuel() {
	r.fuelRemaining = r.fuelLimit
}

// setEmptyKeysArgv installs fresh empty KEYS and ARGV globals.
func (r *Runtime) setEmptyKeysArgv() {
	l := r.state
	l.CreateTable(0, 0)
	l.SetGlobal("KEYS")
	l.CreateTable(0, 0)
	l.SetGlobal("ARGV")
}

// setKeysArgv parses the inbound argument frame and installs the first
// keysCount items into KEYS and the remainder into ARGV, both 1-indexed.
func (r *Runtime) setKeysArgv(args []byte, keysCount uint32) error {
	items, err := codec.ParseRequest(args)
	if err != nil {
		return err
	}
	if keysCount > uint32(len(items)) {
		return errors.New("runtime: keys count exceeds item count")
	}
	l := r.state
	l.CreateTable(int(keysCount), 0)
	for i, item := range items[:keysCount] {
		l.PushString(string(item))
		l.RawSetInt(-2, i+1)
	}
	l.SetGlobal("KEYS")
	l.CreateTable(len(items)-int(keysCount), 0)
	for i, item := range items[keysCount:] {
		l.PushString(string(item))
		l.RawSetInt(-2, i+1)
	}
	l.SetGlobal("ARGV")
	return nil
}

// topErrorMessage extracts the interpreter's error message from the top of
// the stack, falling back to a fixed description when none is available.
func topErrorMessage(l *lua.State, fallback string) string {
	if l.Top() > 0 {
		if s, ok := l.ToString(-1); ok && s != "" {
			return s
		}
	}
	return fallback
}

// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package redisapi exposes the script-callable redis.* table and bridges it
// to the host import surface: variadic script arguments are marshalled into
// request frames, the host is invoked, and its reply frames are decoded back
// into script values.
package redisapi

import (
	"encoding/binary"

	"github.com/Shopify/go-lua"

	"github.com/fatal10110/lua-redis-wasm/codec"
)

// Log levels understood by the host.  They are installed on the redis
// namespace for scripts; the host is not required to reject other values.
const (
	LogDebug   = 0
	LogVerbose = 1
	LogNotice  = 2
	LogWarning = 3
)

// defaultRespVersion is the protocol version reported by the first setresp
// call.  The stored value is kept for forward compatibility and imposes no
// behavior on the codec.
const defaultRespVersion = 2

// Host is the import surface the bridge invokes on behalf of scripts.  Call
// and PCall receive an encoded request frame and return an encoded reply
// frame, or nil/empty when there is no reply.  Implementations must not
// retain req past the call; the bridge does not retain returned buffers past
// decoding.
type Host interface {
	// Call performs a data-store command in strict mode.  Error replies
	// returned here are raised as script errors by the bridge.
	Call(req []byte) []byte

	// PCall performs a data-store command in tolerant mode.  Error
	// replies returned here surface to the script as {err=...} tables.
	PCall(req []byte) []byte

	// Log emits a script log line at the given level.
	Log(level int, msg []byte)

	// Sha1Hex returns the lowercase hex SHA-1 digest of data.
	Sha1Hex(data []byte) []byte
}

// bridge carries the per-interpreter bridge state.
type bridge struct {
	host        Host
	respVersion int
}

// Register installs the redis global table, backed by host, into l.
func Register(l *lua.State, host Host) {
	b := &bridge{host: host, respVersion: defaultRespVersion}
	l.CreateTable(0, 11)
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "call", Function: b.call},
		{Name: "pcall", Function: b.pcall},
		{Name: "log", Function: b.log},
		{Name: "sha1hex", Function: b.sha1hex},
		{Name: "error_reply", Function: errorReply},
		{Name: "status_reply", Function: statusReply},
		{Name: "setresp", Function: b.setresp},
	}, 0)
	for _, c := range []struct {
		name  string
		level int
	}{
		{"LOG_DEBUG", LogDebug},
		{"LOG_VERBOSE", LogVerbose},
		{"LOG_NOTICE", LogNotice},
		{"LOG_WARNING", LogWarning},
	} {
		l.PushInteger(c.level)
		l.SetField(-2, c.name)
	}
	l.SetGlobal("redis")
}

func (b *bridge) call(l *lua.State) int {
	return b.callCommon(l, true)
}

func (b *bridge) pcall(l *lua.State) int {
	return b.callCommon(l, false)
}

// callCommon marshals the script arguments into a request frame, invokes
// the strict or tolerant host variant, and decodes the reply.  raiseOnError
// is the only semantic difference between the two entry points.
func (b *bridge) callCommon(l *lua.State, raiseOnError bool) int {
	argc := l.Top()
	if argc == 0 {
		lua.Errorf(l, "ERR redis.call requires arguments")
	}
	items := make([][]byte, 0, argc)
	for i := 1; i <= argc; i++ {
		item, ok := argToBytes(l, i)
		if !ok {
			lua.Errorf(l, "ERR invalid argument to redis.call")
		}
		items = append(items, item)
	}
	req := codec.BuildRequest(items)

	var reply []byte
	if raiseOnError {
		reply = b.host.Call(req)
	} else {
		reply = b.host.PCall(req)
	}
	if len(reply) == 0 {
		lua.Errorf(l, "ERR empty reply from host")
	}
	off := 0
	return decodeReply(l, reply, &off, raiseOnError, 0)
}

// argToBytes converts a script argument to its request-frame bytes.  Strings
// pass through unchanged, numbers take their canonical string form, booleans
// become "1" or "0"; anything else is rejected.
func argToBytes(l *lua.State, index int) ([]byte, bool) {
	switch l.TypeOf(index) {
	case lua.TypeString, lua.TypeNumber:
		s, ok := l.ToString(index)
		if !ok {
			return nil, false
		}
		return []byte(s), true
	case lua.TypeBoolean:
		if l.ToBoolean(index) {
			return []byte("1"), true
		}
		return []byte("0"), true
	default:
		return nil, false
	}
}

// decodeReply decodes one reply frame at *off onto the Lua stack, advancing
// *off past it.  Error replies either raise a script error or surface as
// {err=...} tables depending on raiseOnError; malformed frames always raise.
func decodeReply(l *lua.State, buf []byte, off *int, raiseOnError bool, depth int) int {
	if depth > codec.MaxDecodeDepth {
		lua.Errorf(l, "ERR reply decoding failed")
	}
	if *off+codec.HeaderSize > len(buf) {
		lua.Errorf(l, "ERR reply decoding failed")
	}
	kind := codec.ReplyKind(buf[*off])
	countOrLen := binary.LittleEndian.Uint32(buf[*off+1:])
	*off += codec.HeaderSize

	switch kind {
	case codec.NullReply:
		l.PushNil()
		return 1

	case codec.IntReply:
		if *off+codec.IntPayloadSize > len(buf) {
			lua.Errorf(l, "ERR reply decoding failed")
		}
		v := int64(binary.LittleEndian.Uint64(buf[*off:]))
		*off += codec.IntPayloadSize
		l.PushInteger(int(v))
		return 1

	case codec.BulkReply:
		payload, ok := replyPayload(buf, off, countOrLen)
		if !ok {
			lua.Errorf(l, "ERR reply decoding failed")
		}
		l.PushString(string(payload))
		return 1

	case codec.StatusReply:
		payload, ok := replyPayload(buf, off, countOrLen)
		if !ok {
			lua.Errorf(l, "ERR reply decoding failed")
		}
		pushStatusTable(l, string(payload))
		return 1

	case codec.ErrorReply:
		payload, ok := replyPayload(buf, off, countOrLen)
		if !ok {
			lua.Errorf(l, "ERR reply decoding failed")
		}
		if raiseOnError {
			l.PushString(string(payload))
			l.Error()
		}
		pushErrorTable(l, string(payload))
		return 1

	case codec.ArrayReply:
		l.CreateTable(int(countOrLen), 0)
		for i := 1; i <= int(countOrLen); i++ {
			decodeReply(l, buf, off, raiseOnError, depth+1)
			l.RawSetInt(-2, i)
		}
		return 1

	default:
		lua.Errorf(l, "ERR unknown reply type")
		return 0
	}
}

// replyPayload slices countOrLen payload bytes at *off, advancing past them.
func replyPayload(buf []byte, off *int, countOrLen uint32) ([]byte, bool) {
	n := int(countOrLen)
	if n < 0 || *off+n > len(buf) {
		return nil, false
	}
	payload := buf[*off : *off+n]
	*off += n
	return payload, true
}

func (b *bridge) log(l *lua.State) int {
	if l.Top() < 2 {
		lua.Errorf(l, "ERR redis.log requires level and message")
	}
	level := lua.CheckInteger(l, 1)
	msg := lua.CheckString(l, 2)
	b.host.Log(level, []byte(msg))
	return 0
}

func (b *bridge) sha1hex(l *lua.State) int {
	data := lua.CheckString(l, 1)
	digest := b.host.Sha1Hex([]byte(data))
	if len(digest) == 0 {
		lua.Errorf(l, "ERR sha1hex failed")
	}
	l.PushString(string(digest))
	return 1
}

func errorReply(l *lua.State) int {
	msg := lua.CheckString(l, 1)
	pushErrorTable(l, msg)
	return 1
}

func statusReply(l *lua.State) int {
	msg := lua.CheckString(l, 1)
	pushStatusTable(l, msg)
	return 1
}

// setresp stores the protocol-version scalar and returns the previous value.
func (b *bridge) setresp(l *lua.State) int {
	prev := b.respVersion
	b.respVersion = lua.CheckInteger(l, 1)
	l.PushInteger(prev)
	return 1
}

func pushStatusTable(l *lua.State, msg string) {
	l.CreateTable(0, 1)
	l.PushString(msg)
	l.SetField(-2, "ok")
}

func pushErrorTable(l *lua.State, msg string) {
	l.CreateTable(0, 1)
	l.PushString(msg)
	l.SetField(-2, "err")
}

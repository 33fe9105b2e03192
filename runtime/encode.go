// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package runtime

import (
	"errors"

	"github.com/Shopify/go-lua"

	"github.com/fatal10110/lua-redis-wasm/codec"
)

// maxEncodeDepth bounds table recursion while encoding a script result.
// Lua tables are mutable and may contain themselves; without a cap a cyclic
// sequence would recurse unbounded.
const maxEncodeDepth = 64

var (
	errUnsupportedType = errors.New("runtime: unsupported Lua return type")
	errEncodeDepth     = errors.New("runtime: table nesting exceeds encode depth limit")
)

// appendLuaValue encodes the Lua value at index as a reply frame appended to
// dst.  Numbers equal to their 64-bit truncation become integer replies,
// other numbers their canonical string form; true becomes the integer 1 and
// false becomes null; tables encode as status, error, or array replies
// depending on their fields.
func appendLuaValue(l *lua.State, index int, dst []byte, depth int) ([]byte, error) {
	if depth > maxEncodeDepth {
		return nil, errEncodeDepth
	}
	index = l.AbsIndex(index)
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return codec.AppendNull(dst), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if n == float64(int64(n)) {
			return codec.AppendInt(dst, int64(n)), nil
		}
		s, _ := l.ToString(index)
		return codec.AppendBulk(dst, []byte(s)), nil
	case lua.TypeBoolean:
		if l.ToBoolean(index) {
			return codec.AppendInt(dst, 1), nil
		}
		return codec.AppendNull(dst), nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return codec.AppendBulk(dst, []byte(s)), nil
	case lua.TypeTable:
		return appendLuaTable(l, index, dst, depth)
	default:
		return nil, errUnsupportedType
	}
}

// appendLuaTable encodes the table at index.  A string-valued ok field wins
// and produces a status reply; otherwise a string-valued err field produces
// an error reply; otherwise the table's 1-indexed sequence prefix encodes as
// an array, ignoring any other keys.
func appendLuaTable(l *lua.State, index int, dst []byte, depth int) ([]byte, error) {
	l.Field(index, "ok")
	if l.IsString(-1) {
		s, _ := l.ToString(-1)
		l.Pop(1)
		return codec.AppendStatus(dst, s), nil
	}
	l.Pop(1)

	l.Field(index, "err")
	if l.IsString(-1) {
		s, _ := l.ToString(-1)
		l.Pop(1)
		return codec.AppendError(dst, s), nil
	}
	l.Pop(1)

	count := l.RawLength(index)
	dst = codec.AppendHeader(dst, codec.ArrayReply, uint32(count))
	var err error
	for i := 1; i <= count; i++ {
		l.RawGetInt(index, i)
		dst, err = appendLuaValue(l, -1, dst, depth+1)
		l.Pop(1)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

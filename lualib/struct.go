// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lualib

import (
	"bytes"
	"math"
	"strings"

	"github.com/Shopify/go-lua"
)

// StructOpen opens the struct module, exposing the C-style pack and unpack
// used by scripts for fixed binary layouts.
//
// Supported format codes: byte order '<', '>', '=' (taken as little-endian),
// integers 'b', 'B', 'h', 'H', 'l', 'L' and 'i'/'I' with an optional byte
// width 1..8, floats 'f' and 'd', zero-terminated strings 's', fixed-width
// strings 'cN', padding 'x', and spaces.
func StructOpen(l *lua.State) int {
	lua.NewLibrary(l, []lua.RegistryFunction{
		{Name: "pack", Function: structPack},
		{Name: "unpack", Function: structUnpack},
	})
	return 1
}

// formatCursor walks a struct format string, tracking byte order.
type formatCursor struct {
	format string
	pos    int
	big    bool
}

// next returns the next format code and its byte width, consuming any order
// prefixes and explicit width digits.  Width is -1 for 's'.
func (c *formatCursor) next(l *lua.State) (code byte, width int, ok bool) {
	for c.pos < len(c.format) {
		code = c.format[c.pos]
		c.pos++
		switch code {
		case ' ':
			continue
		case '<', '=':
			c.big = false
			continue
		case '>':
			c.big = true
			continue
		case 'b', 'B', 'x':
			return code, 1, true
		case 'h', 'H':
			return code, 2, true
		case 'l', 'L':
			return code, 8, true
		case 'f':
			return code, 4, true
		case 'd':
			return code, 8, true
		case 's':
			return code, -1, true
		case 'i', 'I':
			return code, c.digits(l, 4, 1, 8), true
		case 'c':
			return code, c.digits(l, -1, 0, 1<<30), true
		default:
			lua.Errorf(l, "invalid format option '%c'", code)
		}
	}
	return 0, 0, false
}

// digits consumes a decimal width suffix, enforcing [min, max]; def is used
// when no digits follow, and -1 means the digits are mandatory.
func (c *formatCursor) digits(l *lua.State, def, min, max int) int {
	start := c.pos
	for c.pos < len(c.format) && c.format[c.pos] >= '0' && c.format[c.pos] <= '9' {
		c.pos++
	}
	if c.pos == start {
		if def < 0 {
			lua.Errorf(l, "missing size for format option 'c'")
		}
		return def
	}
	n := 0
	for _, d := range c.format[start:c.pos] {
		n = n*10 + int(d-'0')
	}
	if n < min || n > max {
		lua.Errorf(l, "invalid size for format option")
	}
	return n
}

func structPack(l *lua.State) int {
	format := lua.CheckString(l, 1)
	cursor := &formatCursor{format: format}
	var out bytes.Buffer
	arg := 2
	for {
		code, width, ok := cursor.next(l)
		if !ok {
			break
		}
		switch code {
		case 'b', 'B', 'h', 'H', 'i', 'I', 'l', 'L':
			n := lua.CheckNumber(l, arg)
			arg++
			appendUint(&out, uint64(int64(n)), width, cursor.big)
		case 'f':
			n := lua.CheckNumber(l, arg)
			arg++
			appendUint(&out, uint64(math.Float32bits(float32(n))), 4, cursor.big)
		case 'd':
			n := lua.CheckNumber(l, arg)
			arg++
			appendUint(&out, math.Float64bits(n), 8, cursor.big)
		case 's':
			s := lua.CheckString(l, arg)
			arg++
			if strings.IndexByte(s, 0) >= 0 {
				lua.Errorf(l, "string contains zeros")
			}
			out.WriteString(s)
			out.WriteByte(0)
		case 'c':
			s := lua.CheckString(l, arg)
			arg++
			if len(s) < width {
				lua.Errorf(l, "string too short for format option 'c'")
			}
			out.WriteString(s[:width])
		case 'x':
			out.WriteByte(0)
		}
	}
	l.PushString(out.String())
	return 1
}

func structUnpack(l *lua.State) int {
	format := lua.CheckString(l, 1)
	data := lua.CheckString(l, 2)
	pos := lua.OptInteger(l, 3, 1) - 1
	if pos < 0 || pos > len(data) {
		lua.Errorf(l, "initial position out of range")
	}
	cursor := &formatCursor{format: format}
	pushed := 0
	for {
		code, width, ok := cursor.next(l)
		if !ok {
			break
		}
		switch code {
		case 'b', 'h', 'i', 'l':
			raw := takeBytes(l, data, &pos, width)
			l.PushNumber(float64(signExtend(readUint(raw, cursor.big), width)))
			pushed++
		case 'B', 'H', 'I', 'L':
			raw := takeBytes(l, data, &pos, width)
			l.PushNumber(float64(readUint(raw, cursor.big)))
			pushed++
		case 'f':
			raw := takeBytes(l, data, &pos, 4)
			l.PushNumber(float64(math.Float32frombits(uint32(readUint(raw, cursor.big)))))
			pushed++
		case 'd':
			raw := takeBytes(l, data, &pos, 8)
			l.PushNumber(math.Float64frombits(readUint(raw, cursor.big)))
			pushed++
		case 's':
			end := strings.IndexByte(data[pos:], 0)
			if end < 0 {
				lua.Errorf(l, "unfinished string for format 's'")
			}
			l.PushString(data[pos : pos+end])
			pos += end + 1
			pushed++
		case 'c':
			raw := takeBytes(l, data, &pos, width)
			l.PushString(string(raw))
			pushed++
		case 'x':
			takeBytes(l, data, &pos, 1)
		}
	}
	l.PushInteger(pos + 1)
	return pushed + 1
}

func takeBytes(l *lua.State, data string, pos *int, n int) []byte {
	if *pos+n > len(data) {
		lua.Errorf(l, "data string too short")
	}
	raw := []byte(data[*pos : *pos+n])
	*pos += n
	return raw
}

func appendUint(out *bytes.Buffer, v uint64, size int, big bool) {
	for i := 0; i < size; i++ {
		shift := uint(i) * 8
		if big {
			shift = uint(size-1-i) * 8
		}
		out.WriteByte(byte(v >> shift))
	}
}

func readUint(raw []byte, big bool) uint64 {
	var v uint64
	for i, b := range raw {
		shift := uint(i) * 8
		if big {
			shift = uint(len(raw)-1-i) * 8
		}
		v |= uint64(b) << shift
	}
	return v
}

// signExtend interprets the low size bytes of v as a two's-complement
// integer.
func signExtend(v uint64, size int) int64 {
	if size >= 8 {
		return int64(v)
	}
	shift := uint(64 - size*8)
	return int64(v<<shift) >> shift
}

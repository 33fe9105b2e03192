// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package lualib provides the auxiliary modules registered into the script
// environment as globals: the cjson and cmsgpack codecs, the C-style struct
// pack/unpack library, and LuaBitOp-style bit operations.
//
// These exist for script compatibility; their behavior follows the
// conventional Redis scripting environment.
package lualib

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Shopify/go-lua"
)

// maxConvertDepth bounds table recursion when converting script values for
// the codec modules.
const maxConvertDepth = 64

var errNestingTooDeep = errors.New("lualib: excessive table nesting")

// toGoValue converts the Lua value at index into a plain Go value suitable
// for marshalling.  Tables that form a pure 1..n sequence become slices;
// all other tables become string-keyed maps, with numeric keys taking their
// canonical decimal form.
func toGoValue(l *lua.State, index, depth int) (interface{}, error) {
	if depth > maxConvertDepth {
		return nil, errNestingTooDeep
	}
	index = l.AbsIndex(index)
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if n == float64(int64(n)) {
			return int64(n), nil
		}
		return n, nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeTable:
		return tableToGoValue(l, index, depth)
	default:
		return nil, errors.New("lualib: value type not supported")
	}
}

// tableToGoValue walks every pair of the table at index once, deciding
// between sequence and map form.
func tableToGoValue(l *lua.State, index, depth int) (interface{}, error) {
	seqLen := l.RawLength(index)
	total := 0
	isSequence := true

	l.PushNil()
	for l.Next(index) {
		total++
		if l.TypeOf(-2) == lua.TypeNumber {
			k, _ := l.ToNumber(-2)
			if k != float64(int64(k)) || k < 1 || int(k) > seqLen {
				isSequence = false
			}
		} else {
			isSequence = false
		}
		l.Pop(1)
	}

	if isSequence && total == seqLen && total > 0 {
		seq := make([]interface{}, 0, seqLen)
		for i := 1; i <= seqLen; i++ {
			l.RawGetInt(index, i)
			v, err := toGoValue(l, -1, depth+1)
			l.Pop(1)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil
	}

	obj := make(map[string]interface{}, total)
	l.PushNil()
	for l.Next(index) {
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			k, _ := l.ToNumber(-2)
			key = strconv.FormatFloat(k, 'g', -1, 64)
		default:
			l.Pop(2)
			return nil, errors.New("lualib: table key must be a string or number")
		}
		v, err := toGoValue(l, -1, depth+1)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		obj[key] = v
		l.Pop(1)
	}
	return obj, nil
}

// pushGoValue pushes a Go value produced by unmarshalling onto the stack.
// Unknown types push nil.
func pushGoValue(l *lua.State, v interface{}) {
	switch v := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(v)
	case string:
		l.PushString(v)
	case []byte:
		l.PushString(string(v))
	case float64:
		l.PushNumber(v)
	case float32:
		l.PushNumber(float64(v))
	case int:
		l.PushInteger(v)
	case int8:
		l.PushInteger(int(v))
	case int16:
		l.PushInteger(int(v))
	case int32:
		l.PushInteger(int(v))
	case int64:
		l.PushInteger(int(v))
	case uint:
		l.PushNumber(float64(v))
	case uint8:
		l.PushInteger(int(v))
	case uint16:
		l.PushInteger(int(v))
	case uint32:
		l.PushInteger(int(v))
	case uint64:
		l.PushNumber(float64(v))
	case []interface{}:
		l.CreateTable(len(v), 0)
		for i, elem := range v {
			pushGoValue(l, elem)
			l.RawSetInt(-2, i+1)
		}
	case map[string]interface{}:
		l.CreateTable(0, len(v))
		for key, elem := range v {
			pushGoValue(l, elem)
			l.SetField(-2, key)
		}
	case map[interface{}]interface{}:
		l.CreateTable(0, len(v))
		for key, elem := range v {
			l.PushString(fmt.Sprint(key))
			pushGoValue(l, elem)
			l.RawSet(-3)
		}
	default:
		l.PushNil()
	}
}

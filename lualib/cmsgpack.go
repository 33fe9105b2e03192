// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lualib

import (
	"bytes"
	"errors"
	"io"

	"github.com/Shopify/go-lua"
	"github.com/vmihailenco/msgpack/v5"
)

// CMsgPackOpen opens the cmsgpack module, exposing pack and unpack.
func CMsgPackOpen(l *lua.State) int {
	lua.NewLibrary(l, []lua.RegistryFunction{
		{Name: "pack", Function: cmsgpackPack},
		{Name: "unpack", Function: cmsgpackUnpack},
	})
	return 1
}

// cmsgpackPack serializes every argument in order and returns the
// concatenated encoding as one byte string.
func cmsgpackPack(l *lua.State) int {
	argc := l.Top()
	if argc == 0 {
		lua.Errorf(l, "wrong number of arguments to 'pack'")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for i := 1; i <= argc; i++ {
		v, err := toGoValue(l, i, 0)
		if err != nil {
			lua.Errorf(l, "cmsgpack: %s", err.Error())
		}
		if err := enc.Encode(v); err != nil {
			lua.Errorf(l, "cmsgpack: %s", err.Error())
		}
	}
	l.PushString(buf.String())
	return 1
}

// cmsgpackUnpack decodes every value in the input string and returns them
// all, in order.
func cmsgpackUnpack(l *lua.State) int {
	data := lua.CheckString(l, 1)
	dec := msgpack.NewDecoder(bytes.NewReader([]byte(data)))
	count := 0
	for {
		v, err := dec.DecodeInterface()
		if err != nil {
			if errors.Is(err, io.EOF) && count > 0 {
				break
			}
			if errors.Is(err, io.EOF) {
				lua.Errorf(l, "Missing bytes in input.")
			}
			lua.Errorf(l, "cmsgpack: %s", err.Error())
		}
		pushGoValue(l, v)
		count++
	}
	return count
}

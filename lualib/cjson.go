// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lualib

import (
	"encoding/json"

	"github.com/Shopify/go-lua"
)

// CJSONOpen opens the cjson module, exposing encode and decode.
func CJSONOpen(l *lua.State) int {
	lua.NewLibrary(l, []lua.RegistryFunction{
		{Name: "encode", Function: cjsonEncode},
		{Name: "decode", Function: cjsonDecode},
	})
	return 1
}

func cjsonEncode(l *lua.State) int {
	if l.Top() == 0 {
		lua.Errorf(l, "bad argument #1 to 'encode' (value expected)")
	}
	v, err := toGoValue(l, 1, 0)
	if err != nil {
		lua.Errorf(l, "Cannot serialise: %s", err.Error())
	}
	out, err := json.Marshal(v)
	if err != nil {
		lua.Errorf(l, "Cannot serialise: %s", err.Error())
	}
	l.PushString(string(out))
	return 1
}

func cjsonDecode(l *lua.State) int {
	text := lua.CheckString(l, 1)
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		lua.Errorf(l, "Expected value but found invalid token")
	}
	pushGoValue(l, v)
	return 1
}

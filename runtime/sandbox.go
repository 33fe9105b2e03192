// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package runtime

import (
	"github.com/Shopify/go-lua"

	"github.com/fatal10110/lua-redis-wasm/lualib"
)

// openAllowedLibraries opens the baseline script libraries, strips the
// non-deterministic and effectful capability surfaces, and registers the
// auxiliary modules scripts expect as globals.
func openAllowedLibraries(l *lua.State) {
	for _, lib := range []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "math", Function: lua.MathOpen},
	} {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
	disableNonDeterminism(l)
	loadAuxiliaryModules(l)
}

// disableNonDeterminism removes input/output, operating-system, debug
// introspection, and module-loading capabilities from the global
// environment and the package.loaded registry, and strips the random number
// surface from math.
func disableNonDeterminism(l *lua.State) {
	for _, name := range []string{"io", "os", "debug", "package"} {
		removePackageEntry(l, name)
	}
	for _, name := range []string{
		"io", "os", "debug", "package", "require", "dofile", "loadfile",
	} {
		removeGlobal(l, name)
	}
	l.Global("math")
	if l.IsTable(-1) {
		l.PushNil()
		l.SetField(-2, "random")
		l.PushNil()
		l.SetField(-2, "randomseed")
	}
	l.Pop(1)
}

func removeGlobal(l *lua.State, name string) {
	l.PushNil()
	l.SetGlobal(name)
}

func removePackageEntry(l *lua.State, name string) {
	l.Global("package")
	if !l.IsTable(-1) {
		l.Pop(1)
		return
	}
	l.Field(-1, "loaded")
	if l.IsTable(-1) {
		l.PushNil()
		l.SetField(-2, name)
	}
	l.Pop(2)
}

// loadAuxiliaryModules registers the script-visible codec and bit-operation
// libraries as globals.
func loadAuxiliaryModules(l *lua.State) {
	for _, lib := range []lua.RegistryFunction{
		{Name: "cjson", Function: lualib.CJSONOpen},
		{Name: "struct", Function: lualib.StructOpen},
		{Name: "cmsgpack", Function: lualib.CMsgPackOpen},
		{Name: "bit", Function: lualib.BitOpen},
	} {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
}

// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lualib

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/Shopify/go-lua"
)

// BitOpen opens the bit module with the LuaBitOp surface.  All operations
// normalize their operands to 32-bit words; all but tohex return signed
// 32-bit results, and tohex returns a hex string.
func BitOpen(l *lua.State) int {
	lua.NewLibrary(l, []lua.RegistryFunction{
		{Name: "tobit", Function: bitToBit},
		{Name: "bnot", Function: bitBNot},
		{Name: "band", Function: bitFold(func(a, b uint32) uint32 { return a & b })},
		{Name: "bor", Function: bitFold(func(a, b uint32) uint32 { return a | b })},
		{Name: "bxor", Function: bitFold(func(a, b uint32) uint32 { return a ^ b })},
		{Name: "lshift", Function: bitShift(func(w uint32, n uint) uint32 { return w << n })},
		{Name: "rshift", Function: bitShift(func(w uint32, n uint) uint32 { return w >> n })},
		{Name: "arshift", Function: bitShift(func(w uint32, n uint) uint32 {
			return uint32(int32(w) >> n)
		})},
		{Name: "rol", Function: bitShift(func(w uint32, n uint) uint32 {
			return bits.RotateLeft32(w, int(n))
		})},
		{Name: "ror", Function: bitShift(func(w uint32, n uint) uint32 {
			return bits.RotateLeft32(w, -int(n))
		})},
		{Name: "bswap", Function: bitBSwap},
		{Name: "tohex", Function: bitToHex},
	})
	return 1
}

// checkWord fetches the argument at index as a 32-bit word, folding the
// number into the 2^32 ring the way LuaBitOp does.
func checkWord(l *lua.State, index int) uint32 {
	n := lua.CheckNumber(l, index)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		lua.Errorf(l, "number has no integer representation")
	}
	m := math.Mod(n, 1<<32)
	if m < 0 {
		m += 1 << 32
	}
	return uint32(m)
}

func pushWord(l *lua.State, w uint32) int {
	l.PushInteger(int(int32(w)))
	return 1
}

func bitToBit(l *lua.State) int {
	return pushWord(l, checkWord(l, 1))
}

func bitBNot(l *lua.State) int {
	return pushWord(l, ^checkWord(l, 1))
}

func bitFold(op func(a, b uint32) uint32) lua.Function {
	return func(l *lua.State) int {
		w := checkWord(l, 1)
		for i := 2; i <= l.Top(); i++ {
			w = op(w, checkWord(l, i))
		}
		return pushWord(l, w)
	}
}

func bitShift(op func(w uint32, n uint) uint32) lua.Function {
	return func(l *lua.State) int {
		w := checkWord(l, 1)
		n := uint(lua.CheckInteger(l, 2)) & 31
		return pushWord(l, op(w, n))
	}
}

func bitBSwap(l *lua.State) int {
	return pushWord(l, bits.ReverseBytes32(checkWord(l, 1)))
}

func bitToHex(l *lua.State) int {
	w := checkWord(l, 1)
	digits := lua.OptInteger(l, 2, 8)
	upper := false
	if digits < 0 {
		digits = -digits
		upper = true
	}
	if digits < 1 || digits > 8 {
		lua.Errorf(l, "bad argument #2 to 'tohex' (invalid number of digits)")
	}
	format := fmt.Sprintf("%%0%dx", digits)
	if upper {
		format = fmt.Sprintf("%%0%dX", digits)
	}
	mask := uint64(1)<<(uint(digits)*4) - 1
	l.PushString(fmt.Sprintf(format, uint64(w)&mask))
	return 1
}

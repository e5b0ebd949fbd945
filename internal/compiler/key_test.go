package compiler

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazerofx/internal/wasm"
)

func TestCompileKey(t *testing.T) {
	k := ArrayToWasmTrampolineKey(5, 7)
	require.Equal(t, KindArrayToWasmTrampoline, k.Kind())
	require.Equal(t, wasm.StaticModuleIndex(5), k.Module())
	require.Equal(t, uint32(7), k.Index())
	require.Equal(t, "array_to_wasm_trampoline[5][7]", k.String())

	max := WasmFunctionKey(moduleMask, 0xffffffff)
	require.Equal(t, KindWasmFunction, max.Kind())
	require.Equal(t, wasm.StaticModuleIndex(moduleMask), max.Module())

	require.PanicsWithValue(t, "BUG: module index 536870912 does not fit in 29 bits", func() {
		WasmFunctionKey(moduleMask+1, 0)
	})
}

func TestCompileKey_Less(t *testing.T) {
	keys := []CompileKey{
		TranscoderKey(0),
		WasmToNativeTrampolineKey(3),
		WasmFunctionKey(1, 0),
		NativeToWasmTrampolineKey(0, 2),
		WasmFunctionKey(0, 9),
		WasmFunctionKey(0, 1),
		LoweringKey(1),
		AlwaysTrapKey(0),
		LoweringKey(0),
		ArrayToWasmTrampolineKey(0, 2),
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	require.Equal(t, []CompileKey{
		WasmFunctionKey(0, 1),
		WasmFunctionKey(0, 9),
		WasmFunctionKey(1, 0),
		ArrayToWasmTrampolineKey(0, 2),
		NativeToWasmTrampolineKey(0, 2),
		WasmToNativeTrampolineKey(3),
		LoweringKey(0),
		LoweringKey(1),
		AlwaysTrapKey(0),
		TranscoderKey(0),
	}, keys)

	require.False(t, WasmFunctionKey(0, 1).Less(WasmFunctionKey(0, 1)))
}

func TestKind_String(t *testing.T) {
	for _, tc := range []struct {
		kind Kind
		exp  string
	}{
		{kind: KindWasmFunction, exp: "wasm_function"},
		{kind: KindNativeToWasmTrampoline, exp: "native_to_wasm_trampoline"},
		{kind: KindWasmToNativeTrampoline, exp: "wasm_to_native_trampoline"},
		{kind: KindAlwaysTrap, exp: "always_trap"},
		{kind: kindEnd, exp: "kind(7)"},
	} {
		require.Equal(t, tc.exp, tc.kind.String())
	}
}

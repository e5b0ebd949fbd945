package compiler

import (
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// Kind is the kind of a unit of compilation. Its numeric order is the order in which compiled code is laid out.
type Kind uint32

const (
	// KindWasmFunction is a defined wasm function.
	KindWasmFunction Kind = iota
	// KindArrayToWasmTrampoline enters an escaping wasm function from the host array-call convention.
	KindArrayToWasmTrampoline
	// KindNativeToWasmTrampoline enters an escaping wasm function from the native call convention.
	KindNativeToWasmTrampoline
	// KindWasmToNativeTrampoline calls a host function of one signature from wasm.
	KindWasmToNativeTrampoline
	// KindLowering is a component lowering trampoline.
	KindLowering
	// KindAlwaysTrap is a component function which always traps.
	KindAlwaysTrap
	// KindTranscoder is a component string transcoder.
	KindTranscoder

	kindEnd
)

const (
	kindBits   = 3
	moduleBits = 32 - kindBits
	moduleMask = 1<<moduleBits - 1
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindWasmFunction:
		return "wasm_function"
	case KindArrayToWasmTrampoline:
		return "array_to_wasm_trampoline"
	case KindNativeToWasmTrampoline:
		return "native_to_wasm_trampoline"
	case KindWasmToNativeTrampoline:
		return "wasm_to_native_trampoline"
	case KindLowering:
		return "lowering"
	case KindAlwaysTrap:
		return "always_trap"
	case KindTranscoder:
		return "transcoder"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// CompileKey identifies one unit of compilation. The kind lives in the top 3 bits of namespace and the module in
// the rest, so comparing (namespace, index) orders keys by (kind, module, index).
type CompileKey struct {
	namespace uint32
	index     uint32
}

func newKey(kind Kind, module wasm.StaticModuleIndex, index uint32) CompileKey {
	if kind >= kindEnd {
		panic(fmt.Sprintf("BUG: invalid kind %d", kind))
	}
	if uint32(module) > moduleMask {
		panic(fmt.Sprintf("BUG: module index %d does not fit in %d bits", module, moduleBits))
	}
	return CompileKey{namespace: uint32(kind)<<moduleBits | uint32(module), index: index}
}

// WasmFunctionKey returns the key of a defined wasm function.
func WasmFunctionKey(module wasm.StaticModuleIndex, def wasm.DefinedFuncIndex) CompileKey {
	return newKey(KindWasmFunction, module, uint32(def))
}

// ArrayToWasmTrampolineKey returns the key of the array-to-wasm trampoline of a defined function.
func ArrayToWasmTrampolineKey(module wasm.StaticModuleIndex, def wasm.DefinedFuncIndex) CompileKey {
	return newKey(KindArrayToWasmTrampoline, module, uint32(def))
}

// NativeToWasmTrampolineKey returns the key of the native-to-wasm trampoline of a defined function.
func NativeToWasmTrampolineKey(module wasm.StaticModuleIndex, def wasm.DefinedFuncIndex) CompileKey {
	return newKey(KindNativeToWasmTrampoline, module, uint32(def))
}

// WasmToNativeTrampolineKey returns the key of the wasm-to-native trampoline of a signature. These are shared by
// every module, so the module part is always zero.
func WasmToNativeTrampolineKey(sig wasm.SignatureIndex) CompileKey {
	return newKey(KindWasmToNativeTrampoline, 0, uint32(sig))
}

// LoweringKey returns the key of the i-th lowering of a component.
func LoweringKey(i uint32) CompileKey {
	return newKey(KindLowering, 0, i)
}

// AlwaysTrapKey returns the key of the i-th always-trap function of a component.
func AlwaysTrapKey(i uint32) CompileKey {
	return newKey(KindAlwaysTrap, 0, i)
}

// TranscoderKey returns the key of the i-th transcoder of a component.
func TranscoderKey(i uint32) CompileKey {
	return newKey(KindTranscoder, 0, i)
}

// Kind returns the kind of the unit.
func (k CompileKey) Kind() Kind {
	return Kind(k.namespace >> moduleBits)
}

// Module returns the module owning the unit.
func (k CompileKey) Module() wasm.StaticModuleIndex {
	return wasm.StaticModuleIndex(k.namespace & moduleMask)
}

// Index returns the index of the unit within its kind and module.
func (k CompileKey) Index() uint32 {
	return k.index
}

// Less reports whether k sorts before o.
func (k CompileKey) Less(o CompileKey) bool {
	if k.namespace != o.namespace {
		return k.namespace < o.namespace
	}
	return k.index < o.index
}

// String implements fmt.Stringer.
func (k CompileKey) String() string {
	return fmt.Sprintf("%s[%d][%d]", k.Kind(), k.Module(), k.index)
}

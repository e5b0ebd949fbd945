package compiler

import (
	"fmt"
	"sort"

	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// FunctionIndices are the lookup tables built by PreLink and drained by LinkAndAppendCode.
type FunctionIndices struct {
	// compiledFuncIndexToModule maps the flattened index of wasm functions and their entry trampolines to their
	// module. Only these can contain relocations against wasm functions.
	compiledFuncIndexToModule map[int]wasm.StaticModuleIndex
	// wasmFunctionInfos is keyed by the CompileKey of wasm functions.
	wasmFunctionInfos map[CompileKey]*WasmFunctionInfo
	// indices maps each key to its flattened index. Units producing AllCallFunc occupy three consecutive indices
	// starting at the stored one.
	indices [kindEnd]map[CompileKey]int
}

const (
	arrayCallSuffix  = "_array_call"
	nativeCallSuffix = "_native_call"
	wasmCallSuffix   = "_wasm_call"
)

// PreLink flattens the outputs into one list, kind by kind in key order, and returns it with the tables needed to
// link it.
func (u *UnlinkedCompileOutputs) PreLink() ([]CompiledFunction, *FunctionIndices) {
	funcs := make([]CompiledFunction, 0, u.Len())
	fi := &FunctionIndices{
		compiledFuncIndexToModule: map[int]wasm.StaticModuleIndex{},
		wasmFunctionInfos:         map[CompileKey]*WasmFunctionInfo{},
	}

	for kind := range u.outputs {
		bucket := u.outputs[kind]
		indices := make(map[CompileKey]int, len(bucket))
		for i := range bucket {
			out := &bucket[i]
			index := len(funcs)
			if out.AllCall != nil {
				funcs = append(funcs,
					CompiledFunction{Symbol: out.Symbol + arrayCallSuffix, Code: out.AllCall.ArrayCall},
					CompiledFunction{Symbol: out.Symbol + nativeCallSuffix, Code: out.AllCall.NativeCall},
					CompiledFunction{Symbol: out.Symbol + wasmCallSuffix, Code: out.AllCall.WasmCall},
				)
			} else {
				funcs = append(funcs, CompiledFunction{Symbol: out.Symbol, Code: out.Code})
			}

			switch Kind(kind) {
			case KindWasmFunction, KindArrayToWasmTrampoline, KindNativeToWasmTrampoline:
				fi.compiledFuncIndexToModule[index] = out.Key.Module()
			}
			if out.Info != nil {
				fi.wasmFunctionInfos[out.Key] = out.Info
			}
			indices[out.Key] = index
		}
		fi.indices[kind] = indices
	}
	return funcs, fi
}

// Index returns the flattened index of the key.
func (fi *FunctionIndices) Index(key CompileKey) (int, bool) {
	i, ok := fi.indices[key.Kind()][key]
	return i, ok
}

// resolve finds the flattened index of a callee of the flattened function caller.
func (fi *FunctionIndices) resolve(translations []*wasm.ModuleTranslation, caller int, target RelocationTarget) (int, bool) {
	switch target.Kind {
	case RelocationWasmFunction:
		module, ok := fi.compiledFuncIndexToModule[caller]
		if !ok || int(module) >= len(translations) {
			return 0, false
		}
		def, ok := translations[module].DefinedFuncIndex(target.FuncIndex)
		if !ok {
			return 0, false
		}
		return fi.Index(WasmFunctionKey(module, def))
	case RelocationWasmToNativeTrampoline:
		return fi.Index(WasmToNativeTrampolineKey(target.Signature))
	}
	return 0, false
}

type keyIndex struct {
	key   CompileKey
	index int
}

// drain removes every entry of the kind and returns them sorted by key.
func (fi *FunctionIndices) drain(kind Kind) []keyIndex {
	m := fi.indices[kind]
	ret := make([]keyIndex, 0, len(m))
	for k, i := range m {
		ret = append(ret, keyIndex{key: k, index: i})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].key.Less(ret[j].key) })
	clear(m)
	return ret
}

// take removes the entry of key.
func (fi *FunctionIndices) take(key CompileKey) (int, bool) {
	m := fi.indices[key.Kind()]
	i, ok := m[key]
	if ok {
		delete(m, key)
	}
	return i, ok
}

// assertDrained panics if anything was left behind by LinkAndAppendCode.
func (fi *FunctionIndices) assertDrained() {
	for kind, m := range fi.indices {
		if len(m) != 0 {
			panic(fmt.Sprintf("BUG: %d %s outputs were not linked", len(m), Kind(kind)))
		}
	}
	if len(fi.wasmFunctionInfos) != 0 {
		panic(fmt.Sprintf("BUG: %d function infos were not linked", len(fi.wasmFunctionInfos)))
	}
}

// Package compiler orchestrates compilation: it enumerates units of work for a module or component, compiles them
// in parallel with a Compiler, and links the results into one object.
package compiler

import (
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/compiler/object"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// Code is machine code produced by a Compiler. Only the Compiler that produced it looks inside.
type Code interface {
	// Size returns the size of the machine code in bytes.
	Size() int
}

// RelocationKind is the kind of the callee of a relocated call site.
type RelocationKind byte

const (
	// RelocationWasmFunction targets a wasm function of the caller's module.
	RelocationWasmFunction RelocationKind = iota
	// RelocationWasmToNativeTrampoline targets the wasm-to-native trampoline of a signature.
	RelocationWasmToNativeTrampoline
)

// RelocationTarget is the callee of a call site, as known before linking.
type RelocationTarget struct {
	Kind RelocationKind
	// FuncIndex is the callee in the function index space of the caller's module. Only for RelocationWasmFunction.
	FuncIndex wasm.Index
	// Signature is only for RelocationWasmToNativeTrampoline.
	Signature wasm.SignatureIndex
}

// String implements fmt.Stringer.
func (r RelocationTarget) String() string {
	if r.Kind == RelocationWasmToNativeTrampoline {
		return fmt.Sprintf("wasm_to_native_trampoline[%d]", r.Signature)
	}
	return fmt.Sprintf("function[%d]", r.FuncIndex)
}

// Resolver maps a call site in the flattened function caller to the flattened index of its callee.
type Resolver func(caller int, target RelocationTarget) int

// AllCallFunc is the triple of entry points of a component trampoline, one per calling convention.
type AllCallFunc[T any] struct {
	ArrayCall  T `yaml:"array_call"`
	NativeCall T `yaml:"native_call"`
	WasmCall   T `yaml:"wasm_call"`
}

// MapAllCall applies fn to each entry point of f.
func MapAllCall[T, U any](f AllCallFunc[T], fn func(T) U) AllCallFunc[U] {
	return AllCallFunc[U]{ArrayCall: fn(f.ArrayCall), NativeCall: fn(f.NativeCall), WasmCall: fn(f.WasmCall)}
}

// WasmFunctionInfo is metadata produced while compiling a wasm function.
type WasmFunctionInfo struct {
	// StartSrcLoc is the offset of the function body in the module binary.
	StartSrcLoc uint64 `yaml:"start_src_loc"`
	// TrapOffsets are the offsets of trapping instructions relative to the start of the function.
	TrapOffsets []uint32 `yaml:"trap_offsets,omitempty"`
}

// CompiledFunction is one entry of the flattened function list passed to Compiler.AppendCode.
type CompiledFunction struct {
	Symbol string
	Code   Code
}

// DWARFFunction describes a linked wasm function to Compiler.AppendDWARF.
type DWARFFunction struct {
	Def    wasm.DefinedFuncIndex
	Symbol string
	Loc    FunctionLoc
}

// Compiler compiles units of work to machine code and appends the results to an object.
//
// Compile methods are called concurrently, so implementations must not share mutable state across calls.
type Compiler interface {
	// CompileFunction compiles a defined wasm function.
	CompileFunction(t *wasm.ModuleTranslation, def wasm.DefinedFuncIndex, types *wasm.Types) (Code, *WasmFunctionInfo, error)
	// CompileArrayToWasmTrampoline compiles the host array-call entry of an escaping function.
	CompileArrayToWasmTrampoline(t *wasm.ModuleTranslation, def wasm.DefinedFuncIndex, types *wasm.Types) (Code, error)
	// CompileNativeToWasmTrampoline compiles the native-call entry of an escaping function.
	CompileNativeToWasmTrampoline(t *wasm.ModuleTranslation, def wasm.DefinedFuncIndex, types *wasm.Types) (Code, error)
	// CompileWasmToNativeTrampoline compiles the exit from wasm to a host function of the signature.
	CompileWasmToNativeTrampoline(sig *wasm.FunctionType) (Code, error)
	// CompileLoweredTrampoline compiles the i-th lowering of a component.
	CompileLoweredTrampoline(c *ComponentTranslation, i uint32, types *wasm.Types) (*AllCallFunc[Code], error)
	// CompileAlwaysTrap compiles a function of the signature that traps when called.
	CompileAlwaysTrap(sig *wasm.FunctionType) (*AllCallFunc[Code], error)
	// CompileTranscoder compiles the i-th transcoder of a component.
	CompileTranscoder(c *ComponentTranslation, i uint32, types *wasm.Types) (*AllCallFunc[Code], error)

	// AppendCode appends funcs to obj in order, resolving call relocations with resolve, and returns the location of
	// each function index-correlated with funcs.
	AppendCode(obj *object.Builder, funcs []CompiledFunction, resolve Resolver) ([]FunctionLoc, error)
	// AppendDWARF appends debug information describing the functions of a single module.
	AppendDWARF(obj *object.Builder, t *wasm.ModuleTranslation, funcs []DWARFFunction) error
}

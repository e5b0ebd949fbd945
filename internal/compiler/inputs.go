package compiler

import (
	"fmt"
	"sort"

	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// CompileOutput is the result of one unit of compilation.
type CompileOutput struct {
	Key    CompileKey
	Symbol string
	// Code is set unless the unit compiles to the triple of entry points in AllCall.
	Code    Code
	AllCall *AllCallFunc[Code]
	// Info is only set for wasm functions.
	Info *WasmFunctionInfo
}

type compileInput struct {
	key CompileKey
	run func(c Compiler) (CompileOutput, error)
}

// CompileInputs are the units of compilation of a module or a component. Each unit is independent of the others.
type CompileInputs struct {
	types  *wasm.Types
	inputs []compileInput
}

// ForModule enumerates the units needed to compile a standalone module.
func ForModule(types *wasm.Types, t *wasm.ModuleTranslation) *CompileInputs {
	ci := &CompileInputs{types: types}
	ci.collectModule(t)
	ci.collectWasmToNativeTrampolines([]*wasm.ModuleTranslation{t})
	return ci
}

// ForComponent enumerates the units needed to compile a component: its core modules and its trampolines.
func ForComponent(types *wasm.Types, c *ComponentTranslation) (*CompileInputs, error) {
	if err := c.validate(types); err != nil {
		return nil, err
	}
	ci := &CompileInputs{types: types}
	for _, t := range c.Modules {
		ci.collectModule(t)
	}

	for i := range c.Lowerings {
		i := uint32(i)
		symbol := fmt.Sprintf("component::lowering[%d]::%s", i, c.Lowerings[i].Name)
		ci.push(LoweringKey(i), func(cc Compiler) (CompileOutput, error) {
			f, err := cc.CompileLoweredTrampoline(c, i, types)
			if err != nil {
				return CompileOutput{}, fmt.Errorf("%s: %w", symbol, err)
			}
			return CompileOutput{Key: LoweringKey(i), Symbol: symbol, AllCall: f}, nil
		})
	}
	for i := range c.AlwaysTraps {
		i := uint32(i)
		symbol := fmt.Sprintf("component::always_trap[%d]", i)
		sig := types.Signature(c.AlwaysTraps[i].Signature)
		ci.push(AlwaysTrapKey(i), func(cc Compiler) (CompileOutput, error) {
			f, err := cc.CompileAlwaysTrap(sig)
			if err != nil {
				return CompileOutput{}, fmt.Errorf("%s: %w", symbol, err)
			}
			return CompileOutput{Key: AlwaysTrapKey(i), Symbol: symbol, AllCall: f}, nil
		})
	}
	for i := range c.Transcoders {
		i := uint32(i)
		tc := &c.Transcoders[i]
		symbol := fmt.Sprintf("component::transcoder[%d]::%s_%s_to_%s", i, tc.Name, tc.From, tc.To)
		ci.push(TranscoderKey(i), func(cc Compiler) (CompileOutput, error) {
			f, err := cc.CompileTranscoder(c, i, types)
			if err != nil {
				return CompileOutput{}, fmt.Errorf("%s: %w", symbol, err)
			}
			return CompileOutput{Key: TranscoderKey(i), Symbol: symbol, AllCall: f}, nil
		})
	}

	ci.collectWasmToNativeTrampolines(c.Modules)
	return ci, nil
}

// Len returns the number of units.
func (ci *CompileInputs) Len() int {
	return len(ci.inputs)
}

func (ci *CompileInputs) push(key CompileKey, run func(c Compiler) (CompileOutput, error)) {
	ci.inputs = append(ci.inputs, compileInput{key: key, run: run})
}

func (ci *CompileInputs) collectModule(t *wasm.ModuleTranslation) {
	types := ci.types
	for i := 0; i < t.DefinedFunctionCount(); i++ {
		def := wasm.DefinedFuncIndex(i)
		funcIdx := t.FuncIndex(def)

		key := WasmFunctionKey(t.Index, def)
		symbol := fmt.Sprintf("wasm[%d]::function[%d]", t.Index, funcIdx)
		ci.push(key, func(c Compiler) (CompileOutput, error) {
			code, info, err := c.CompileFunction(t, def, types)
			if err != nil {
				return CompileOutput{}, fmt.Errorf("%s: %w", symbol, err)
			}
			return CompileOutput{Key: key, Symbol: symbol, Code: code, Info: info}, nil
		})

		if !t.IsEscaping(def) {
			continue
		}

		arrayKey := ArrayToWasmTrampolineKey(t.Index, def)
		arraySymbol := fmt.Sprintf("wasm[%d]::array_to_wasm_trampoline[%d]", t.Index, funcIdx)
		ci.push(arrayKey, func(c Compiler) (CompileOutput, error) {
			code, err := c.CompileArrayToWasmTrampoline(t, def, types)
			if err != nil {
				return CompileOutput{}, fmt.Errorf("%s: %w", arraySymbol, err)
			}
			return CompileOutput{Key: arrayKey, Symbol: arraySymbol, Code: code}, nil
		})

		nativeKey := NativeToWasmTrampolineKey(t.Index, def)
		nativeSymbol := fmt.Sprintf("wasm[%d]::native_to_wasm_trampoline[%d]", t.Index, funcIdx)
		ci.push(nativeKey, func(c Compiler) (CompileOutput, error) {
			code, err := c.CompileNativeToWasmTrampoline(t, def, types)
			if err != nil {
				return CompileOutput{}, fmt.Errorf("%s: %w", nativeSymbol, err)
			}
			return CompileOutput{Key: nativeKey, Symbol: nativeSymbol, Code: code}, nil
		})
	}
}

// collectWasmToNativeTrampolines pushes one trampoline per distinct signature of the modules. A trampoline depends
// only on the signature, so functions sharing one share the trampoline.
func (ci *CompileInputs) collectWasmToNativeTrampolines(modules []*wasm.ModuleTranslation) {
	set := map[wasm.SignatureIndex]struct{}{}
	for _, t := range modules {
		for _, sig := range t.FunctionSignatures() {
			set[sig] = struct{}{}
		}
	}
	sigs := make([]wasm.SignatureIndex, 0, len(set))
	for sig := range set {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })

	for _, sig := range sigs {
		key := WasmToNativeTrampolineKey(sig)
		symbol := fmt.Sprintf("signatures[%d]::wasm_to_native_trampoline", sig)
		ft := ci.types.Signature(sig)
		ci.push(key, func(c Compiler) (CompileOutput, error) {
			code, err := c.CompileWasmToNativeTrampoline(ft)
			if err != nil {
				return CompileOutput{}, fmt.Errorf("%s: %w", symbol, err)
			}
			return CompileOutput{Key: key, Symbol: symbol, Code: code}, nil
		})
	}
}

package compiler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/wazerofx/internal/compiler/object"
	"github.com/tetratelabs/wazerofx/internal/fxapi"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// LinkOptions configure LinkAndAppendCode.
type LinkOptions struct {
	// DebugInfo requests DWARF. It is only generated when exactly one module is linked.
	DebugInfo bool
	Logger    *zap.Logger
}

// LinkAndAppendCode appends funcs to obj through the compiler, defines their symbols and returns the Artifacts
// describing the result. translations are indexed by wasm.StaticModuleIndex. fi is drained by this call.
func (fi *FunctionIndices) LinkAndAppendCode(
	obj *object.Builder,
	c Compiler,
	translations []*wasm.ModuleTranslation,
	funcs []CompiledFunction,
	opts LinkOptions,
) (*Artifacts, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	resolve := func(caller int, target RelocationTarget) int {
		callee, ok := fi.resolve(translations, caller, target)
		if !ok {
			// Well-formed input always resolves, so this is a bug in the compiler or in the pipeline.
			panic(fmt.Sprintf("BUG: cannot resolve %s called from %s", target, funcs[caller].Symbol))
		}
		if fxapi.LinkLoggingEnabled {
			logger.Debug("resolved relocation",
				zap.String("caller", funcs[caller].Symbol),
				zap.Stringer("target", target),
				zap.String("callee", funcs[callee].Symbol))
		}
		return callee
	}

	locs, err := c.AppendCode(obj, funcs, resolve)
	if err != nil {
		return nil, fmt.Errorf("append code: %w", err)
	}
	if len(locs) != len(funcs) {
		panic(fmt.Sprintf("BUG: %d locations for %d functions", len(locs), len(funcs)))
	}
	for i := range funcs {
		obj.AddSymbol(funcs[i].Symbol, uint64(locs[i].Start), uint64(locs[i].Length))
	}

	if opts.DebugInfo {
		if len(translations) == 1 {
			t := translations[0]
			dfs := make([]DWARFFunction, 0, t.DefinedFunctionCount())
			for i := 0; i < t.DefinedFunctionCount(); i++ {
				def := wasm.DefinedFuncIndex(i)
				index, ok := fi.Index(WasmFunctionKey(t.Index, def))
				if !ok {
					panic(fmt.Sprintf("BUG: function[%d] of module %d was not compiled", t.FuncIndex(def), t.Index))
				}
				dfs = append(dfs, DWARFFunction{Def: def, Symbol: funcs[index].Symbol, Loc: locs[index]})
			}
			if err = c.AppendDWARF(obj, t, dfs); err != nil {
				return nil, fmt.Errorf("append dwarf: %w", err)
			}
		} else {
			logger.Warn("skipping DWARF: debug info of multiple modules cannot be merged into one object",
				zap.Int("modules", len(translations)))
		}
	}

	a := &Artifacts{Modules: make([]ModuleArtifacts, len(translations))}
	for i, t := range translations {
		a.Modules[i] = ModuleArtifacts{
			Index:     wasm.StaticModuleIndex(i),
			Functions: make([]CompiledFunctionInfo, 0, t.DefinedFunctionCount()),
		}
	}

	for _, e := range fi.drain(KindWasmFunction) {
		module, def := e.key.Module(), wasm.DefinedFuncIndex(e.key.Index())
		if int(module) >= len(a.Modules) {
			panic(fmt.Sprintf("BUG: %s belongs to no translation", e.key))
		}
		m := &a.Modules[module]
		if int(def) != len(m.Functions) {
			panic(fmt.Sprintf("BUG: %s linked out of order", e.key))
		}

		info := CompiledFunctionInfo{Loc: locs[e.index]}
		if wi, ok := fi.wasmFunctionInfos[e.key]; ok {
			info.Info = *wi
			delete(fi.wasmFunctionInfos, e.key)
		}
		if i, ok := fi.take(ArrayToWasmTrampolineKey(module, def)); ok {
			loc := locs[i]
			info.ArrayToWasmTrampoline = &loc
		}
		if i, ok := fi.take(NativeToWasmTrampolineKey(module, def)); ok {
			loc := locs[i]
			info.NativeToWasmTrampoline = &loc
		}
		m.Functions = append(m.Functions, info)
	}

	if entries := fi.drain(KindWasmToNativeTrampoline); len(entries) > 0 {
		a.WasmToNativeTrampolines = make(map[wasm.SignatureIndex]FunctionLoc, len(entries))
		for _, e := range entries {
			a.WasmToNativeTrampolines[wasm.SignatureIndex(e.key.Index())] = locs[e.index]
		}
	}

	a.Lowerings = drainAllCall(fi, KindLowering, locs)
	a.AlwaysTraps = drainAllCall(fi, KindAlwaysTrap, locs)
	a.Transcoders = drainAllCall(fi, KindTranscoder, locs)

	if fxapi.FunctionIndicesValidationEnabled {
		fi.assertDrained()
	}

	logger.Debug("linked",
		zap.Int("functions", len(funcs)),
		zap.Int("modules", len(translations)),
		zap.Int("text_size", len(obj.Text())))
	return a, nil
}

func drainAllCall(fi *FunctionIndices, kind Kind, locs []FunctionLoc) []AllCallFunc[FunctionLoc] {
	entries := fi.drain(kind)
	if len(entries) == 0 {
		return nil
	}
	ret := make([]AllCallFunc[FunctionLoc], 0, len(entries))
	for _, e := range entries {
		if int(e.key.Index()) != len(ret) {
			panic(fmt.Sprintf("BUG: %s linked out of order", e.key))
		}
		ret = append(ret, AllCallFunc[FunctionLoc]{
			ArrayCall:  locs[e.index],
			NativeCall: locs[e.index+1],
			WasmCall:   locs[e.index+2],
		})
	}
	return ret
}

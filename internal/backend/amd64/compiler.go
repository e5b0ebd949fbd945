// Package amd64 is the reference compiler.Compiler for amd64. It compiles the straight-line subset of wasm made of
// constants, parameter reads, calls, drop and unreachable, plus every kind of trampoline.
//
// Wasm functions take their parameters on the stack, pushed in order, and return their single result in AX.
// Generated code addresses the module context through R15.
package amd64

import (
	"fmt"
	"io"

	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/tetratelabs/wazerofx/internal/compiler"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// Offsets in the module context held by R15.
const (
	contextLoweringDispatcher   = 0
	contextTranscoderDispatcher = 8
	contextImportedFunctions    = 16
)

// Lowered trampolines tell the dispatcher which entry point was called.
const (
	variantArrayCall = iota
	variantNativeCall
	variantWasmCall
)

// nativeParamRegs are the System V integer argument registers.
var nativeParamRegs = []int16{x86.REG_DI, x86.REG_SI, x86.REG_DX, x86.REG_CX, x86.REG_R8, x86.REG_R9}

type relocation struct {
	// offset is where the rel32 displacement starts, relative to the function.
	offset uint32
	target compiler.RelocationTarget
}

type code struct {
	bytes  []byte
	relocs []relocation
	traps  []uint32
}

// Size implements compiler.Code.
func (c *code) Size() int {
	return len(c.bytes)
}

// Compiler implements compiler.Compiler. It holds no state, so one value serves every concurrent compilation.
type Compiler struct{}

var _ compiler.Compiler = (*Compiler)(nil)

// New returns a Compiler.
func New() *Compiler {
	initGolangAsm()
	return &Compiler{}
}

// CompileFunction implements compiler.Compiler.
func (*Compiler) CompileFunction(t *wasm.ModuleTranslation, def wasm.DefinedFuncIndex, _ *wasm.Types) (compiler.Code, *compiler.WasmFunctionInfo, error) {
	m := t.Module
	ft := m.FunctionType(m.FunctionSection[def])
	if len(ft.Results) > 1 {
		return nil, nil, fmt.Errorf("multiple results are not supported: %s", ft)
	}

	a, err := newAssembler()
	if err != nil {
		return nil, nil, err
	}
	a.prologue()

	var height int
	pop := func(n int, inst *wasm.Instruction) error {
		if height < n {
			return fmt.Errorf("%s at offset %d: value stack underflow", wasm.InstructionName(inst.Opcode), inst.Offset)
		}
		height -= n
		return nil
	}

	body := m.CodeSection[def].Body
	r := wasm.NewInstructionReader(body)
	terminated := false
	for {
		inst, err := r.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, err
		}
		if terminated && inst.Offset != len(body)-1 {
			// Code after return or unreachable cannot run.
			continue
		}

		switch inst.Opcode {
		case wasm.OpcodeNop:
		case wasm.OpcodeUnreachable:
			a.trap()
			terminated = true
		case wasm.OpcodeI32Const:
			a.constToReg(x86.AMOVL, int64(int32(inst.Imm1)), x86.REG_AX)
			a.push(x86.REG_AX)
			height++
		case wasm.OpcodeI64Const:
			a.constToReg(x86.AMOVQ, int64(inst.Imm1), x86.REG_AX)
			a.push(x86.REG_AX)
			height++
		case wasm.OpcodeLocalGet:
			i := int(inst.Imm1)
			if i >= len(ft.Params) {
				return nil, nil, fmt.Errorf("local.get %d at offset %d: only parameters are supported", i, inst.Offset)
			}
			a.memToReg(x86.AMOVQ, x86.REG_BP, paramOffset(len(ft.Params), i), x86.REG_AX)
			a.push(x86.REG_AX)
			height++
		case wasm.OpcodeDrop:
			if err = pop(1, &inst); err != nil {
				return nil, nil, err
			}
			a.constToReg(x86.AADDQ, 8, x86.REG_SP)
		case wasm.OpcodeCall:
			callee := wasm.Index(inst.Imm1)
			typeIdx, _ := m.TypeOfFunction(callee)
			sig := m.FunctionType(typeIdx)
			if len(sig.Results) > 1 {
				return nil, nil, fmt.Errorf("call at offset %d: multiple results are not supported: %s", inst.Offset, sig)
			}
			if err = pop(len(sig.Params), &inst); err != nil {
				return nil, nil, err
			}
			if _, ok := t.DefinedFuncIndex(callee); ok {
				a.call(compiler.RelocationTarget{Kind: compiler.RelocationWasmFunction, FuncIndex: callee})
			} else {
				a.memToReg(x86.AMOVQ, x86.REG_R15, contextImportedFunctions+8*int64(callee), x86.REG_R11)
				a.call(compiler.RelocationTarget{Kind: compiler.RelocationWasmToNativeTrampoline, Signature: t.Signatures[typeIdx]})
			}
			if n := len(sig.Params); n > 0 {
				a.constToReg(x86.AADDQ, 8*int64(n), x86.REG_SP)
			}
			if len(sig.Results) == 1 {
				a.push(x86.REG_AX)
				height++
			}
		case wasm.OpcodeReturn:
			if err = returnValue(a, ft, height, &inst); err != nil {
				return nil, nil, err
			}
			a.epilogue()
			terminated = true
		case wasm.OpcodeEnd:
			if inst.Offset != len(body)-1 {
				return nil, nil, fmt.Errorf("end at offset %d: blocks are not supported", inst.Offset)
			}
			if terminated {
				break
			}
			if err = returnValue(a, ft, height, &inst); err != nil {
				return nil, nil, err
			}
			a.epilogue()
		default:
			return nil, nil, fmt.Errorf("%s at offset %d: unsupported instruction", wasm.InstructionName(inst.Opcode), inst.Offset)
		}
	}

	c := a.assemble()
	return c, &compiler.WasmFunctionInfo{StartSrcLoc: m.CodeSection[def].BodyOffsetInCodeSection, TrapOffsets: c.traps}, nil
}

// paramOffset returns the offset from BP of the i-th of n parameters. Above BP are the saved BP, the return
// address, then the parameters with the last one first.
func paramOffset(n, i int) int64 {
	return 16 + 8*int64(n-1-i)
}

func returnValue(a *assembler, ft *wasm.FunctionType, height int, inst *wasm.Instruction) error {
	if height < len(ft.Results) {
		return fmt.Errorf("%s at offset %d: missing result", wasm.InstructionName(inst.Opcode), inst.Offset)
	}
	if len(ft.Results) == 1 {
		a.pop(x86.REG_AX)
	}
	return nil
}

func (c *Compiler) entryTrampoline(t *wasm.ModuleTranslation, def wasm.DefinedFuncIndex, native bool) (compiler.Code, error) {
	ft := t.Module.FunctionType(t.Module.FunctionSection[def])
	if len(ft.Results) > 1 {
		return nil, fmt.Errorf("multiple results are not supported: %s", ft)
	}
	if native && len(ft.Params) > len(nativeParamRegs) {
		return nil, fmt.Errorf("more than %d parameters are not supported: %s", len(nativeParamRegs), ft)
	}

	a, err := newAssembler()
	if err != nil {
		return nil, err
	}
	a.prologue()
	if native {
		for i := range ft.Params {
			a.push(nativeParamRegs[i])
		}
	} else {
		// DI points to the array of 16-byte values, which receives the result too.
		a.push(x86.REG_DI)
		for i := range ft.Params {
			a.memToReg(x86.AMOVQ, x86.REG_DI, 16*int64(i), x86.REG_AX)
			a.push(x86.REG_AX)
		}
	}
	a.call(compiler.RelocationTarget{Kind: compiler.RelocationWasmFunction, FuncIndex: t.FuncIndex(def)})
	if n := len(ft.Params); n > 0 {
		a.constToReg(x86.AADDQ, 8*int64(n), x86.REG_SP)
	}
	if !native {
		a.pop(x86.REG_DI)
		if len(ft.Results) == 1 {
			a.regToMem(x86.AMOVQ, x86.REG_AX, x86.REG_DI, 0)
		}
	}
	a.epilogue()
	return a.assemble(), nil
}

// CompileArrayToWasmTrampoline implements compiler.Compiler.
func (c *Compiler) CompileArrayToWasmTrampoline(t *wasm.ModuleTranslation, def wasm.DefinedFuncIndex, _ *wasm.Types) (compiler.Code, error) {
	return c.entryTrampoline(t, def, false)
}

// CompileNativeToWasmTrampoline implements compiler.Compiler.
func (c *Compiler) CompileNativeToWasmTrampoline(t *wasm.ModuleTranslation, def wasm.DefinedFuncIndex, _ *wasm.Types) (compiler.Code, error) {
	return c.entryTrampoline(t, def, true)
}

// CompileWasmToNativeTrampoline implements compiler.Compiler. The caller loads the host function into R11.
func (*Compiler) CompileWasmToNativeTrampoline(sig *wasm.FunctionType) (compiler.Code, error) {
	if len(sig.Params) > len(nativeParamRegs) {
		return nil, fmt.Errorf("more than %d parameters are not supported: %s", len(nativeParamRegs), sig)
	}
	a, err := newAssembler()
	if err != nil {
		return nil, err
	}
	a.prologue()
	for i := range sig.Params {
		a.memToReg(x86.AMOVQ, x86.REG_BP, paramOffset(len(sig.Params), i), nativeParamRegs[i])
	}
	a.callReg(x86.REG_R11)
	a.epilogue()
	return a.assemble(), nil
}

// allCall compiles the three entry points with body, which receives the variant.
func allCall(body func(a *assembler, variant int)) (*compiler.AllCallFunc[compiler.Code], error) {
	var ret [3]compiler.Code
	for variant := range ret {
		a, err := newAssembler()
		if err != nil {
			return nil, err
		}
		body(a, variant)
		ret[variant] = a.assemble()
	}
	return &compiler.AllCallFunc[compiler.Code]{
		ArrayCall:  ret[variantArrayCall],
		NativeCall: ret[variantNativeCall],
		WasmCall:   ret[variantWasmCall],
	}, nil
}

// CompileLoweredTrampoline implements compiler.Compiler.
func (*Compiler) CompileLoweredTrampoline(_ *compiler.ComponentTranslation, i uint32, _ *wasm.Types) (*compiler.AllCallFunc[compiler.Code], error) {
	return allCall(func(a *assembler, variant int) {
		a.prologue()
		a.constToReg(x86.AMOVQ, int64(i), x86.REG_DI)
		a.constToReg(x86.AMOVQ, int64(variant), x86.REG_SI)
		a.memToReg(x86.AMOVQ, x86.REG_R15, contextLoweringDispatcher, x86.REG_R11)
		a.callReg(x86.REG_R11)
		a.epilogue()
	})
}

// CompileAlwaysTrap implements compiler.Compiler.
func (*Compiler) CompileAlwaysTrap(*wasm.FunctionType) (*compiler.AllCallFunc[compiler.Code], error) {
	return allCall(func(a *assembler, _ int) {
		a.trap()
	})
}

// CompileTranscoder implements compiler.Compiler.
func (*Compiler) CompileTranscoder(c *compiler.ComponentTranslation, i uint32, _ *wasm.Types) (*compiler.AllCallFunc[compiler.Code], error) {
	tc := &c.Transcoders[i]
	return allCall(func(a *assembler, variant int) {
		a.prologue()
		a.constToReg(x86.AMOVQ, int64(i), x86.REG_DI)
		a.constToReg(x86.AMOVQ, int64(tc.From), x86.REG_SI)
		a.constToReg(x86.AMOVQ, int64(tc.To), x86.REG_DX)
		a.constToReg(x86.AMOVQ, int64(variant), x86.REG_CX)
		a.memToReg(x86.AMOVQ, x86.REG_R15, contextTranscoderDispatcher, x86.REG_R11)
		a.callReg(x86.REG_R11)
		a.epilogue()
	})
}

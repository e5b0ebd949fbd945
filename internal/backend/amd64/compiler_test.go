package amd64

import (
	"bytes"
	"context"
	"debug/elf"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/arch/x86/x86asm"

	"github.com/tetratelabs/wazerofx/internal/compiler"
	"github.com/tetratelabs/wazerofx/internal/compiler/object"
	"github.com/tetratelabs/wazerofx/internal/wasm"
	"github.com/tetratelabs/wazerofx/internal/wasmdebug"
)

var (
	v_v        = &wasm.FunctionType{}
	v_i32      = &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}
	i32_v      = &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}}
	i64i64_i64 = &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeI64}, Results: []wasm.ValueType{wasm.ValueTypeI64}}
)

func link(t *testing.T, m *wasm.Module, debugInfo bool) (*object.Builder, *compiler.Artifacts) {
	types := wasm.NewTypes()
	tr, err := wasm.Translate(types, 0, m)
	require.NoError(t, err)

	c := New()
	u, err := compiler.ForModule(types, tr).Compile(context.Background(), c, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	funcs, fi := u.PreLink()

	obj := object.NewBuilder(elf.EM_X86_64)
	a, err := fi.LinkAndAppendCode(obj, c, []*wasm.ModuleTranslation{tr}, funcs, compiler.LinkOptions{DebugInfo: debugInfo})
	require.NoError(t, err)
	return obj, a
}

type decoded struct {
	pc   uint32
	inst x86asm.Inst
}

func disassemble(t *testing.T, text []byte, loc compiler.FunctionLoc) (ret []decoded) {
	code := text[loc.Start : loc.Start+loc.Length]
	for pc := 0; pc < len(code); {
		inst, err := x86asm.Decode(code[pc:], 64)
		require.NoError(t, err, "at %#x", int(loc.Start)+pc)
		ret = append(ret, decoded{pc: loc.Start + uint32(pc), inst: inst})
		pc += inst.Len
	}
	return
}

// callTargets returns the absolute targets of the relative calls in the function.
func callTargets(t *testing.T, text []byte, loc compiler.FunctionLoc) (ret []uint32) {
	for _, d := range disassemble(t, text, loc) {
		if d.inst.Op != x86asm.CALL {
			continue
		}
		if rel, ok := d.inst.Args[0].(x86asm.Rel); ok {
			ret = append(ret, uint32(int64(d.pc)+int64(d.inst.Len)+int64(rel)))
		}
	}
	return
}

func contains(insts []decoded, op x86asm.Op, args ...x86asm.Arg) bool {
	for _, d := range insts {
		if d.inst.Op != op {
			continue
		}
		match := true
		for i, a := range args {
			if d.inst.Args[i] != a {
				match = false
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestCompiler_callRelocation(t *testing.T) {
	// Function 0 calls function 1, both locally defined.
	m := &wasm.Module{
		TypeSection:     []wasm.TypeDef{{Func: v_i32}},
		FunctionSection: []wasm.Index{0, 0},
		ExportSection:   []wasm.Export{{Type: wasm.ExternTypeFunc, Name: "a", Index: 0}},
		CodeSection: []wasm.Code{
			{Body: []byte{wasm.OpcodeCall, 1, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI32Const, 42, wasm.OpcodeEnd}},
		},
	}
	obj, a := link(t, m, true)
	text := obj.Text()

	fa, ok := a.Function(0, 0)
	require.True(t, ok)
	fb, ok := a.Function(0, 1)
	require.True(t, ok)

	require.Equal(t, []uint32{fb.Loc.Start}, callTargets(t, text, fa.Loc))
	require.True(t, contains(disassemble(t, text, fb.Loc), x86asm.MOV, x86asm.EAX, x86asm.Imm(42)))

	// Only the exported function gets entry trampolines, and they call it.
	require.NotNil(t, fa.ArrayToWasmTrampoline)
	require.NotNil(t, fa.NativeToWasmTrampoline)
	require.Nil(t, fb.ArrayToWasmTrampoline)
	require.Equal(t, []uint32{fa.Loc.Start}, callTargets(t, text, *fa.ArrayToWasmTrampoline))
	require.Equal(t, []uint32{fa.Loc.Start}, callTargets(t, text, *fa.NativeToWasmTrampoline))

	f, err := elf.NewFile(bytes.NewReader(obj.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.Symbols()
	require.NoError(t, err)
	values := map[string]uint64{}
	for _, s := range syms {
		values[s.Name] = s.Value
	}
	require.Equal(t, uint64(fb.Loc.Start), values["wasm[0]::function[1]"])
	require.Equal(t, uint64(fa.ArrayToWasmTrampoline.Start), values["wasm[0]::array_to_wasm_trampoline[0]"])

	d, err := f.DWARF()
	require.NoError(t, err)
	name, low, ok := wasmdebug.GetSubprogram(d, uint64(fb.Loc.Start))
	require.True(t, ok)
	require.Equal(t, "wasm[0]::function[1]", name)
	require.Equal(t, uint64(fb.Loc.Start), low)
	pc := uint64(fa.Loc.Start) + 1
	require.Equal(t, fmt.Sprintf("%#x: wasm[0]::function[0]+0x1", pc), wasmdebug.GetSourceInfo(d, pc))
	// Trampolines are not described.
	_, _, ok = wasmdebug.GetSubprogram(d, uint64(fa.ArrayToWasmTrampoline.Start))
	require.False(t, ok)
}

func TestCompiler_importedCall(t *testing.T) {
	m := &wasm.Module{
		TypeSection:         []wasm.TypeDef{{Func: i32_v}, {Func: v_v}},
		ImportSection:       []wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0}},
		ImportFunctionCount: 1,
		FunctionSection:     []wasm.Index{1},
		CodeSection:         []wasm.Code{{Body: []byte{wasm.OpcodeI32Const, 7, wasm.OpcodeCall, 0, wasm.OpcodeEnd}}},
	}
	obj, a := link(t, m, false)
	text := obj.Text()

	fn, ok := a.Function(0, 0)
	require.True(t, ok)
	require.Nil(t, fn.ArrayToWasmTrampoline)

	// i32_v is interned first.
	trampoline, ok := a.WasmToNativeTrampolines[0]
	require.True(t, ok)
	require.Equal(t, 2, len(a.WasmToNativeTrampolines))
	require.Equal(t, []uint32{trampoline.Start}, callTargets(t, text, fn.Loc))

	insts := disassemble(t, text, fn.Loc)
	require.True(t, contains(insts, x86asm.MOV, x86asm.R11, x86asm.Mem{Base: x86asm.R15, Disp: contextImportedFunctions}))

	insts = disassemble(t, text, trampoline)
	require.True(t, contains(insts, x86asm.MOV, x86asm.RDI, x86asm.Mem{Base: x86asm.RBP, Disp: 16}))
	require.True(t, contains(insts, x86asm.CALL, x86asm.R11))

	_, ok = obj.Section(".debug_info")
	require.False(t, ok)
}

func TestCompiler_params(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []wasm.TypeDef{{Func: i64i64_i64}},
		FunctionSection: []wasm.Index{0, 0},
		ExportSection:   []wasm.Export{{Type: wasm.ExternTypeFunc, Name: "first", Index: 0}},
		CodeSection: []wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 1, wasm.OpcodeLocalGet, 0, wasm.OpcodeCall, 0, wasm.OpcodeEnd}},
		},
	}
	obj, a := link(t, m, false)
	text := obj.Text()

	first, _ := a.Function(0, 0)
	// The first of two parameters is the farthest from BP.
	require.True(t, contains(disassemble(t, text, first.Loc), x86asm.MOV, x86asm.RAX, x86asm.Mem{Base: x86asm.RBP, Disp: 24}))

	second, _ := a.Function(0, 1)
	insts := disassemble(t, text, second.Loc)
	require.True(t, contains(insts, x86asm.MOV, x86asm.RAX, x86asm.Mem{Base: x86asm.RBP, Disp: 16}))
	require.True(t, contains(insts, x86asm.ADD, x86asm.RSP, x86asm.Imm(16)))
	require.Equal(t, []uint32{first.Loc.Start}, callTargets(t, text, second.Loc))

	insts = disassemble(t, text, *first.NativeToWasmTrampoline)
	require.True(t, contains(insts, x86asm.PUSH, x86asm.RDI))
	require.True(t, contains(insts, x86asm.PUSH, x86asm.RSI))

	insts = disassemble(t, text, *first.ArrayToWasmTrampoline)
	require.True(t, contains(insts, x86asm.MOV, x86asm.RAX, x86asm.Mem{Base: x86asm.RDI, Disp: 16}))
	require.True(t, contains(insts, x86asm.MOV, x86asm.Mem{Base: x86asm.RDI}, x86asm.RAX))
}

func TestCompiler_traps(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []wasm.TypeDef{{Func: v_i32}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []wasm.Code{
			{Body: []byte{wasm.OpcodeNop, wasm.OpcodeUnreachable, wasm.OpcodeI32Const, 1, wasm.OpcodeEnd}, BodyOffsetInCodeSection: 5},
		},
	}
	obj, a := link(t, m, false)
	fn, _ := a.Function(0, 0)
	require.Equal(t, uint64(5), fn.Info.StartSrcLoc)
	require.Equal(t, 1, len(fn.Info.TrapOffsets))

	insts := disassemble(t, obj.Text(), fn.Loc)
	var ud2 []uint32
	for _, d := range insts {
		if d.inst.Op == x86asm.UD2 {
			ud2 = append(ud2, d.pc-fn.Loc.Start)
		}
	}
	require.Equal(t, fn.Info.TrapOffsets, ud2)
	// Nothing after the trap is compiled.
	require.False(t, contains(insts, x86asm.RET))
}

func TestCompiler_CompileFunction_errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		ft     *wasm.FunctionType
		body   []byte
		expErr string
	}{
		{
			name:   "block",
			ft:     v_v,
			body:   []byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeEnd, wasm.OpcodeEnd},
			expErr: "block at offset 0: unsupported instruction",
		},
		{
			name:   "underflow",
			ft:     v_v,
			body:   []byte{wasm.OpcodeDrop, wasm.OpcodeEnd},
			expErr: "drop at offset 0: value stack underflow",
		},
		{
			name:   "local",
			ft:     v_v,
			body:   []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd},
			expErr: "local.get 0 at offset 0: only parameters are supported",
		},
		{
			name:   "missing result",
			ft:     v_i32,
			body:   []byte{wasm.OpcodeNop, wasm.OpcodeEnd},
			expErr: "end at offset 1: missing result",
		},
		{
			name:   "multiple results",
			ft:     &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}},
			body:   []byte{wasm.OpcodeEnd},
			expErr: "multiple results are not supported: v_i32i32",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := &wasm.Module{
				TypeSection:     []wasm.TypeDef{{Func: tc.ft}},
				FunctionSection: []wasm.Index{0},
				CodeSection:     []wasm.Code{{Body: tc.body}},
			}
			tr, err := wasm.Translate(wasm.NewTypes(), 0, m)
			require.NoError(t, err)
			_, _, err = New().CompileFunction(tr, 0, nil)
			require.EqualError(t, err, tc.expErr)
		})
	}
}

func TestCompiler_CompileWasmToNativeTrampoline_tooManyParams(t *testing.T) {
	ft := &wasm.FunctionType{Params: make([]wasm.ValueType, 7)}
	_, err := New().CompileWasmToNativeTrampoline(ft)
	require.EqualError(t, err, "more than 6 parameters are not supported: "+ft.String())
}

func TestCompiler_componentTrampolines(t *testing.T) {
	c := New()
	traps, err := c.CompileAlwaysTrap(v_v)
	require.NoError(t, err)
	for _, fn := range []compiler.Code{traps.ArrayCall, traps.NativeCall, traps.WasmCall} {
		cd := fn.(*code)
		inst, err := x86asm.Decode(cd.bytes, 64)
		require.NoError(t, err)
		require.Equal(t, x86asm.UD2, inst.Op)
		require.Equal(t, []uint32{0}, cd.traps)
	}

	comp := &compiler.ComponentTranslation{
		Transcoders: []compiler.Transcoder{{Name: "copy", From: compiler.EncodingLatin1, To: compiler.EncodingUTF8}},
	}
	transcoder, err := c.CompileTranscoder(comp, 0, nil)
	require.NoError(t, err)
	lowering, err := c.CompileLoweredTrampoline(comp, 3, nil)
	require.NoError(t, err)

	for _, tc := range []struct {
		fn      compiler.Code
		context int64
		variant int64
		// The assembler may shorten a MOVQ of a small constant to MOVL.
		reg64, reg32 x86asm.Reg
	}{
		{fn: transcoder.NativeCall, context: contextTranscoderDispatcher, variant: variantNativeCall, reg64: x86asm.RCX, reg32: x86asm.ECX},
		{fn: lowering.WasmCall, context: contextLoweringDispatcher, variant: variantWasmCall, reg64: x86asm.RSI, reg32: x86asm.ESI},
	} {
		cd := tc.fn.(*code)
		insts := disassemble(t, cd.bytes, compiler.FunctionLoc{Length: uint32(len(cd.bytes))})
		require.True(t, contains(insts, x86asm.MOV, x86asm.R11, x86asm.Mem{Base: x86asm.R15, Disp: tc.context}))
		require.True(t, contains(insts, x86asm.CALL, x86asm.R11))
		require.True(t, contains(insts, x86asm.MOV, tc.reg64, x86asm.Imm(tc.variant)) ||
			contains(insts, x86asm.MOV, tc.reg32, x86asm.Imm(tc.variant)))
		require.Empty(t, cd.relocs)
	}
}

type foreignCode struct{}

func (foreignCode) Size() int { return 0 }

func TestCompiler_AppendCode_foreignCode(t *testing.T) {
	_, err := New().AppendCode(object.NewBuilder(elf.EM_X86_64),
		[]compiler.CompiledFunction{{Symbol: "f", Code: foreignCode{}}}, nil)
	require.EqualError(t, err, "f: unexpected code amd64.foreignCode")
}

func TestCompiler_AppendDWARF_empty(t *testing.T) {
	obj := object.NewBuilder(elf.EM_X86_64)
	require.NoError(t, New().AppendDWARF(obj, nil, nil))
	_, ok := obj.Section(".debug_info")
	require.False(t, ok)
}

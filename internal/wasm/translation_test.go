package wasm

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	v_i32 = &FunctionType{Results: []ValueType{ValueTypeI32}}
	i32_v = &FunctionType{Params: []ValueType{ValueTypeI32}}
)

func TestFunctionType_String(t *testing.T) {
	for _, tc := range []struct {
		ft  *FunctionType
		exp string
	}{
		{ft: &FunctionType{}, exp: "v_v"},
		{ft: v_i32, exp: "v_i32"},
		{ft: i32_v, exp: "i32_v"},
		{ft: &FunctionType{Params: []ValueType{ValueTypeI64, ValueTypeF64}, Results: []ValueType{ValueTypeFuncref}}, exp: "i64f64_funcref"},
	} {
		require.Equal(t, tc.exp, tc.ft.String())
	}
}

func TestTypes_Intern(t *testing.T) {
	types := NewTypes()
	a := types.Intern(&FunctionType{Results: []ValueType{ValueTypeI32}})
	b := types.Intern(&FunctionType{Params: []ValueType{ValueTypeI32}})
	c := types.Intern(&FunctionType{Results: []ValueType{ValueTypeI32}})
	require.Equal(t, a, c)
	require.NotEqual(t, a, b)
	require.Equal(t, 2, types.Len())
	require.Equal(t, "i32_v", types.Signature(b).String())
}

func TestTranslate(t *testing.T) {
	start := Index(2)
	m := &Module{
		TypeSection: []TypeDef{{Func: v_i32}, {Func: &FunctionType{Results: []ValueType{ValueTypeI32}}}, {ContOf: 0}},
		ImportSection: []Import{
			{Type: ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0},
			{Type: ExternTypeTag, Module: "env", Name: "t", DescTag: 0},
		},
		ImportFunctionCount: 1,
		ImportTagCount:      1,
		FunctionSection:     []Index{0, 1, 0, 1},
		TagSection:          []Tag{{Type: 1}},
		ExportSection:       []Export{{Type: ExternTypeFunc, Name: "a", Index: 1}, {Type: ExternTypeFunc, Name: "imported", Index: 0}},
		StartSection:        &start,
		CodeSection: []Code{
			{Body: []byte{OpcodeCall, 2, OpcodeCall, 2, OpcodeCall, 0, OpcodeEnd}},
			{Body: []byte{OpcodeI32Const, 1, OpcodeEnd}},
			{Body: []byte{OpcodeRefFunc, 4, OpcodeDrop, OpcodeI32Const, 0x7f, OpcodeEnd}},
			{Body: []byte{OpcodeI32Const, 3, OpcodeEnd}},
		},
	}
	types := NewTypes()
	tr, err := Translate(types, 3, m)
	require.NoError(t, err)

	require.Equal(t, StaticModuleIndex(3), tr.Index)
	require.Equal(t, 1, types.Len())
	require.Equal(t, []SignatureIndex{0, 0, 0}, tr.Signatures)
	require.Equal(t, []SignatureIndex{0}, tr.FunctionSignatures())
	// Exported function 1, start function 2 and ref.func 4 escape, the exported import does not.
	require.Equal(t, []DefinedFuncIndex{0, 1, 3}, tr.Escaping)
	require.True(t, tr.IsEscaping(3))
	require.False(t, tr.IsEscaping(2))
	require.Equal(t, []Index{2, 0}, tr.Callees[0])
	require.Nil(t, tr.Callees[1])

	def, ok := tr.DefinedFuncIndex(2)
	require.True(t, ok)
	require.Equal(t, DefinedFuncIndex(1), def)
	_, ok = tr.DefinedFuncIndex(0)
	require.False(t, ok)
	require.Equal(t, Index(4), tr.FuncIndex(3))
	require.Equal(t, 4, tr.DefinedFunctionCount())
}

// Functions only reachable through a table or a global still escape.
func TestTranslate_FuncRefs(t *testing.T) {
	m := &Module{
		TypeSection:     []TypeDef{{Func: v_i32}},
		FunctionSection: []Index{0, 0, 0},
		ExportSection:   []Export{{Type: ExternTypeFunc, Name: "run", Index: 0}},
		FuncRefs:        []Index{1, 1},
		CodeSection: []Code{
			{Body: []byte{OpcodeI32Const, 1, OpcodeEnd}},
			{Body: []byte{OpcodeI32Const, 2, OpcodeEnd}},
			{Body: []byte{OpcodeI32Const, 3, OpcodeEnd}},
		},
	}
	tr, err := Translate(NewTypes(), 0, m)
	require.NoError(t, err)
	require.Equal(t, []DefinedFuncIndex{0, 1}, tr.Escaping)
	require.True(t, tr.IsEscaping(1))
	require.False(t, tr.IsEscaping(2))
}

func TestTranslate_Errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		m      *Module
		expErr string
	}{
		{
			name:   "inconsistent code",
			m:      &Module{TypeSection: []TypeDef{{Func: v_i32}}, FunctionSection: []Index{0}},
			expErr: "function and code section have inconsistent lengths: 1 != 0",
		},
		{
			name:   "cont of cont",
			m:      &Module{TypeSection: []TypeDef{{ContOf: 0}}},
			expErr: "type[0]: cont type refers to 0 which is not a function type",
		},
		{
			name: "function with cont type",
			m: &Module{
				TypeSection:     []TypeDef{{Func: v_i32}, {ContOf: 0}},
				FunctionSection: []Index{1},
				CodeSection:     []Code{{Body: []byte{OpcodeEnd}}},
			},
			expErr: "function[0]: invalid function type index 1",
		},
		{
			name: "call out of range",
			m: &Module{
				TypeSection:     []TypeDef{{Func: v_i32}},
				FunctionSection: []Index{0},
				CodeSection:     []Code{{Body: []byte{OpcodeCall, 1, OpcodeEnd}}},
			},
			expErr: "function[0]: call at offset 0: function index 1 out of range",
		},
		{
			name: "missing end",
			m: &Module{
				TypeSection:     []TypeDef{{Func: v_i32}},
				FunctionSection: []Index{0},
				CodeSection:     []Code{{Body: []byte{OpcodeNop}}},
			},
			expErr: "function[0]: expr not end with OpcodeEnd",
		},
		{
			name: "suspend unknown tag",
			m: &Module{
				TypeSection:     []TypeDef{{Func: v_i32}},
				FunctionSection: []Index{0},
				CodeSection:     []Code{{Body: []byte{OpcodeSuspend, 0, OpcodeEnd}}},
			},
			expErr: "function[0]: suspend at offset 0: tag index 0 out of range",
		},
		{
			name: "element function out of range",
			m: &Module{
				TypeSection:     []TypeDef{{Func: v_i32}},
				FunctionSection: []Index{0},
				FuncRefs:        []Index{1},
				CodeSection:     []Code{{Body: []byte{OpcodeI32Const, 1, OpcodeEnd}}},
			},
			expErr: "element or global: function index 1 out of range",
		},
		{
			name: "export out of range",
			m: &Module{
				ExportSection: []Export{{Type: ExternTypeFunc, Name: "x", Index: 0}},
			},
			expErr: `export[0] "x": function index 0 out of range`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Translate(NewTypes(), 0, tc.m)
			require.EqualError(t, err, tc.expErr)
		})
	}
}

func TestInstructionReader(t *testing.T) {
	body := []byte{
		OpcodeBlock, 0x40,
		OpcodeI32Const, 0x7f,
		OpcodeI64Const, 0x80, 0x01,
		OpcodeF32Const, 1, 2, 3, 4,
		OpcodeI32Load, 2, 8,
		OpcodeBrTable, 2, 0, 1, 2,
		OpcodeResume, 1, 2, HandlerKindOnLabel, 0, 3, HandlerKindOnSwitch, 1,
		OpcodeSwitch, 1, 1,
		OpcodeMiscPrefix, 10, 0, 0,
		OpcodeEnd,
		OpcodeEnd,
	}
	r := NewInstructionReader(body)
	var got []Instruction
	for {
		inst, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, inst)
	}
	require.Equal(t, []Instruction{
		{Opcode: OpcodeBlock, Offset: 0, Imm1: 0xffffffffffffffc0},
		{Opcode: OpcodeI32Const, Offset: 2, Imm1: 0xffffffffffffffff},
		{Opcode: OpcodeI64Const, Offset: 4, Imm1: 128},
		{Opcode: OpcodeF32Const, Offset: 7, Imm1: 0x04030201},
		{Opcode: OpcodeI32Load, Offset: 12, Imm1: 2, Imm2: 8},
		{Opcode: OpcodeBrTable, Offset: 15, Imm1: 2},
		{Opcode: OpcodeResume, Offset: 20, Imm1: 1, Handlers: []ResumeHandler{
			{Kind: HandlerKindOnLabel, Tag: 0, Label: 3},
			{Kind: HandlerKindOnSwitch, Tag: 1},
		}},
		{Opcode: OpcodeSwitch, Offset: 28, Imm1: 1, Imm2: 1},
		{Opcode: OpcodeMiscPrefix, Offset: 31, Imm1: 10},
		{Opcode: OpcodeEnd, Offset: 35},
		{Opcode: OpcodeEnd, Offset: 36},
	}, got)

	_, err := NewInstructionReader([]byte{0xff}).Next()
	require.EqualError(t, err, "unsupported opcode 0xff at offset 0")
}

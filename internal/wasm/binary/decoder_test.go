package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazerofx/internal/wasm"
)

func TestDecodeModule(t *testing.T) {
	i32, i64 := wasm.ValueTypeI32, wasm.ValueTypeI64
	zero := wasm.Index(0)

	tests := []struct {
		name  string
		input *wasm.Module
	}{
		{
			name:  "empty",
			input: &wasm.Module{},
		},
		{
			name: "types only",
			input: &wasm.Module{
				TypeSection: []wasm.TypeDef{
					{Func: &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}},
					{Func: &wasm.FunctionType{Params: []wasm.ValueType{i64}}},
				},
			},
		},
		{
			name: "cont type and tags",
			input: &wasm.Module{
				TypeSection: []wasm.TypeDef{
					{Func: &wasm.FunctionType{}},
					{ContOf: 0},
					{Func: &wasm.FunctionType{Params: []wasm.ValueType{i32}}},
				},
				ImportSection: []wasm.Import{
					{Type: wasm.ExternTypeFunc, Module: "env", Name: "print", DescFunc: 2},
					{Type: wasm.ExternTypeTag, Module: "env", Name: "yield", DescTag: 0},
				},
				ImportFunctionCount: 1,
				ImportTagCount:      1,
				FunctionSection:     []wasm.Index{0, 0},
				TagSection:          []wasm.Tag{{Type: 2}},
				ExportSection: []wasm.Export{
					{Type: wasm.ExternTypeFunc, Name: "run", Index: 1},
					{Type: wasm.ExternTypeTag, Name: "t", Index: 1},
				},
				StartSection: &zero,
				FuncRefs:     []wasm.Index{2, 1},
				CodeSection: []wasm.Code{
					{Body: []byte{wasm.OpcodeEnd}},
					{LocalTypes: []wasm.ValueType{i32, i32, i64}, Body: []byte{wasm.OpcodeNop, wasm.OpcodeEnd}},
				},
			},
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeModule(EncodeModule(tc.input))
			require.NoError(t, err)
			require.Equal(t, tc.input.TypeSection, m.TypeSection)
			require.Equal(t, tc.input.ImportSection, m.ImportSection)
			require.Equal(t, tc.input.ImportFunctionCount, m.ImportFunctionCount)
			require.Equal(t, tc.input.ImportTagCount, m.ImportTagCount)
			require.Equal(t, tc.input.FunctionSection, m.FunctionSection)
			require.Equal(t, tc.input.TagSection, m.TagSection)
			require.Equal(t, tc.input.ExportSection, m.ExportSection)
			require.Equal(t, tc.input.StartSection, m.StartSection)
			require.Equal(t, tc.input.FuncRefs, m.FuncRefs)
			require.Equal(t, len(tc.input.CodeSection), len(m.CodeSection))
			for i := range m.CodeSection {
				require.Equal(t, tc.input.CodeSection[i].LocalTypes, m.CodeSection[i].LocalTypes)
				require.Equal(t, tc.input.CodeSection[i].Body, m.CodeSection[i].Body)
			}
		})
	}
}

func TestDecodeModule_BodyOffsets(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []wasm.TypeDef{{Func: &wasm.FunctionType{}}},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []wasm.Code{
			{Body: []byte{wasm.OpcodeNop, wasm.OpcodeEnd}},
			{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: []byte{wasm.OpcodeEnd}},
		},
	}
	bin := EncodeModule(m)
	decoded, err := DecodeModule(bin)
	require.NoError(t, err)

	// vector length, body size, locals count.
	require.Equal(t, uint64(3), decoded.CodeSection[0].BodyOffsetInCodeSection)
	// previous body, body size, locals count, one local group.
	require.Equal(t, uint64(3+2+2+2), decoded.CodeSection[1].BodyOffsetInCodeSection)

	for _, c := range decoded.CodeSection {
		start := decoded.CodeSectionOffset + c.BodyOffsetInCodeSection
		require.Equal(t, c.Body, bin[start:start+uint64(len(c.Body))])
	}
}

func TestDecodeModule_Errors(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		expectedErr string
	}{
		{
			name:        "wrong magic",
			input:       []byte("wasm\x01\x00\x00\x00"),
			expectedErr: "invalid magic number",
		},
		{
			name:        "wrong version",
			input:       []byte("\x00asm\x01\x00\x00\x01"),
			expectedErr: "invalid version header",
		},
		{
			name:        "unknown section",
			input:       append(append(Magic, version...), 0x20, 0x00),
			expectedErr: "section unknown: invalid section id",
		},
		{
			name: "section size too large",
			input: append(append(Magic, version...),
				wasm.SectionIDType, 0x05, 0x00),
			expectedErr: "section type: size 5 exceeds the remaining 1 bytes",
		},
		{
			name: "section size mismatch",
			input: append(append(Magic, version...),
				wasm.SectionIDType, 0x02, 0x00, 0x00),
			expectedErr: "section type: invalid section length: expected to be 2 but got 1",
		},
		{
			name: "bad type form",
			input: append(append(Magic, version...),
				wasm.SectionIDType, 0x02, 0x01, 0x50),
			expectedErr: "section type: read 0-th type: invalid byte: 0x50 != 0x60 or 0x5d",
		},
		{
			name: "function without code",
			input: append(append(Magic, version...),
				wasm.SectionIDType, 0x04, 0x01, 0x60, 0x00, 0x00,
				wasm.SectionIDFunction, 0x02, 0x01, 0x00),
			expectedErr: "function and code section have inconsistent lengths: 1 != 0",
		},
		{
			name: "duplicate export",
			input: append(append(Magic, version...),
				wasm.SectionIDExport, 0x09, 0x02,
				0x01, 'a', wasm.ExternTypeFunc, 0x00,
				0x01, 'a', wasm.ExternTypeFunc, 0x00),
			expectedErr: "section export: export[1] duplicates name \"a\"",
		},
		{
			name: "tag attribute",
			input: append(append(Magic, version...),
				wasm.SectionIDTag, 0x03, 0x01, 0x01, 0x00),
			expectedErr: "section tag: read 0-th tag: invalid byte: tag attribute 0x1 != 0x00",
		},
		{
			name: "element prefix",
			input: append(append(Magic, version...),
				wasm.SectionIDElement, 0x02, 0x01, 0x08),
			expectedErr: "section element: read 0-th element segment: invalid byte: element prefix 8",
		},
		{
			name: "element kind",
			input: append(append(Magic, version...),
				wasm.SectionIDElement, 0x04, 0x01, 0x01, 0x70, 0x00),
			expectedErr: "section element: read 0-th element segment: element kind must be zero but was 0x70",
		},
		{
			name: "global init opcode",
			input: append(append(Magic, version...),
				wasm.SectionIDGlobal, 0x05, 0x01, wasm.ValueTypeI32, 0x00, wasm.OpcodeNop, wasm.OpcodeEnd),
			expectedErr: "section global: global[0]: read init: invalid byte for const expression opt code: 0x1",
		},
		{
			name: "body without end",
			input: append(append(Magic, version...),
				wasm.SectionIDType, 0x04, 0x01, 0x60, 0x00, 0x00,
				wasm.SectionIDFunction, 0x02, 0x01, 0x00,
				wasm.SectionIDCode, 0x04, 0x01, 0x02, 0x00, wasm.OpcodeNop),
			expectedErr: "section code: read 0-th code segment: expr not end with OpcodeEnd",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeModule(tc.input)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestDecodeModule_SkipsUnmodelledSections(t *testing.T) {
	input := append(append(Magic, version...),
		wasm.SectionIDCustom, 0x03, 0x01, 'x', 0xff,
		wasm.SectionIDMemory, 0x03, 0x01, 0x00, 0x01,
		wasm.SectionIDType, 0x04, 0x01, 0x60, 0x00, 0x00)
	m, err := DecodeModule(input)
	require.NoError(t, err)
	require.Equal(t, 1, len(m.TypeSection))
}

func TestDecodeModule_FuncRefs(t *testing.T) {
	input := append(append(Magic, version...),
		wasm.SectionIDGlobal, 0x0b, 0x02,
		// (global i32 (i32.const 42))
		wasm.ValueTypeI32, 0x00, wasm.OpcodeI32Const, 0x2a, wasm.OpcodeEnd,
		// (global funcref (ref.func 4))
		wasm.ValueTypeFuncref, 0x00, wasm.OpcodeRefFunc, 0x04, wasm.OpcodeEnd,
		wasm.SectionIDTable, 0x04, 0x01, wasm.ValueTypeFuncref, 0x00, 0x04,
		wasm.SectionIDElement, 0x20, 0x04,
		// (elem (i32.const 0) func 1)
		0x00, wasm.OpcodeI32Const, 0x00, wasm.OpcodeEnd, 0x01, 0x01,
		// (elem (table 0) (i32.const 1) func 2)
		0x02, 0x00, wasm.OpcodeI32Const, 0x01, wasm.OpcodeEnd, 0x00, 0x01, 0x02,
		// (elem (i32.const 0) funcref (ref.func 3) (ref.null func))
		0x04, wasm.OpcodeI32Const, 0x00, wasm.OpcodeEnd, 0x02,
		wasm.OpcodeRefFunc, 0x03, wasm.OpcodeEnd, wasm.OpcodeRefNull, wasm.ValueTypeFuncref, wasm.OpcodeEnd,
		// (elem declare funcref (ref.func 0))
		0x07, wasm.ValueTypeFuncref, 0x01, wasm.OpcodeRefFunc, 0x00, wasm.OpcodeEnd,
	)
	m, err := DecodeModule(input)
	require.NoError(t, err)
	require.Equal(t, []wasm.Index{4, 1, 2, 3, 0}, m.FuncRefs)
}

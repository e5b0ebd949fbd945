package wasm

import (
	"fmt"
	"strings"
)

// SectionID identifies the sections of a Module in the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly others not defined in the standard.
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
	SectionIDDataCount
	// SectionIDTag holds the tags used by exception handling and stack switching.
	//
	// See https://github.com/WebAssembly/stack-switching/blob/main/proposals/stack-switching/Explainer.md
	SectionIDTag
)

// SectionIDName returns the canonical name of a module section.
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	case SectionIDDataCount:
		return "data_count"
	case SectionIDTag:
		return "tag"
	}
	return "unknown"
}

// ValueType is the binary encoding of a type such as i32
// See https://www.w3.org/TR/wasm-core-2/#binary-valtype
//
// Note: This is a type alias as it is easier to encode and decode in the binary format.
type ValueType = byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section.
type Index = uint32

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/wasm-core-2/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	Results []ValueType

	// string is cached as it is used both for String and key
	string string
}

// String implements fmt.Stringer. Empty signatures print as "v_v".
func (f *FunctionType) String() string {
	if f.string != "" {
		return f.string
	}
	var sb strings.Builder
	writeValueTypes(&sb, f.Params)
	sb.WriteByte('_')
	writeValueTypes(&sb, f.Results)
	f.string = sb.String()
	return f.string
}

func writeValueTypes(sb *strings.Builder, vts []ValueType) {
	if len(vts) == 0 {
		sb.WriteByte('v')
		return
	}
	for _, vt := range vts {
		sb.WriteString(ValueTypeName(vt))
	}
}

// TypeDef is one entry of the type section: either a function type or a continuation type over a function type.
type TypeDef struct {
	// Func is non-nil for function types.
	Func *FunctionType
	// ContOf is the type index of the function type a continuation type wraps. Only meaningful when Func is nil.
	ContOf Index
}

// IsCont returns true if this is a continuation type.
func (t *TypeDef) IsCont() bool {
	return t.Func == nil
}

// ExternType classifies imports and exports with their respective types.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
	ExternTypeTag    ExternType = 0x04
)

// ExternTypeName returns the name of the WebAssembly Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	case ExternTypeTag:
		return "tag"
	}
	return fmt.Sprintf("%#x", et)
}

// Import is the binary representation of an import indicated by Type
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc
	DescFunc Index
	// DescTag is the index in Module.TypeSection when Type equals ExternTypeTag
	DescTag Index
}

// Export is the binary representation of an export indicated by Type
type Export struct {
	Type ExternType
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export, the index namespace is by Type
	Index Index
}

// Tag is an entry of the tag section. Its type must be a function type.
type Tag struct {
	Type Index
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order.
	LocalTypes []ValueType
	// Body is a sequence of expressions ending in OpcodeEnd
	Body []byte
	// BodyOffsetInCodeSection is the offset of the beginning of the body in the code section.
	BodyOffsetInCodeSection uint64
}

// Module is a WebAssembly binary representation restricted to what compilation needs.
//
// Tables, memories and data are skipped by the decoder as they do not change which functions and trampolines are
// compiled. Of globals and elements only the function references are kept, in FuncRefs.
type Module struct {
	// TypeSection contains the unique FunctionType and continuation type definitions.
	TypeSection []TypeDef

	// ImportSection contains imported functions, tables, memories, globals or tags required for instantiation.
	ImportSection []Import
	// ImportFunctionCount is the number of functions in ImportSection, which prefix the function index namespace.
	ImportFunctionCount Index
	// ImportTagCount is the number of tags in ImportSection, which prefix the tag index namespace.
	ImportTagCount Index

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	FunctionSection []Index

	// TagSection contains the tags defined in this module.
	TagSection []Tag

	// ExportSection contains the exported functions, tables, memories, globals or tags.
	ExportSection []Export

	// StartSection is the index of a function to call before returning from instantiation.
	StartSection *Index

	// CodeSection is index-correlated with FunctionSection.
	CodeSection []Code

	// CodeSectionOffset is the offset of the code section contents in the binary.
	CodeSectionOffset uint64

	// FuncRefs are the functions referenced by element segments and global initializers, in section order and
	// possibly repeated. Any of them may end up in a table and be called indirectly.
	FuncRefs []Index
}

// FunctionCount returns the total number of functions, imported ones first.
func (m *Module) FunctionCount() Index {
	return m.ImportFunctionCount + Index(len(m.FunctionSection))
}

// TypeOfFunction returns the type index of the function at funcIdx, or false if it is out of range.
func (m *Module) TypeOfFunction(funcIdx Index) (Index, bool) {
	if funcIdx < m.ImportFunctionCount {
		var cur Index
		for i := range m.ImportSection {
			imp := &m.ImportSection[i]
			if imp.Type != ExternTypeFunc {
				continue
			}
			if cur == funcIdx {
				return imp.DescFunc, true
			}
			cur++
		}
		return 0, false
	}
	defined := funcIdx - m.ImportFunctionCount
	if defined >= Index(len(m.FunctionSection)) {
		return 0, false
	}
	return m.FunctionSection[defined], true
}

// FunctionType returns the FunctionType at the given type index, or nil if the index is out of range or names a
// continuation type.
func (m *Module) FunctionType(typeIdx Index) *FunctionType {
	if typeIdx >= Index(len(m.TypeSection)) {
		return nil
	}
	return m.TypeSection[typeIdx].Func
}

// TagCount returns the total number of tags, imported ones first.
func (m *Module) TagCount() Index {
	return m.ImportTagCount + Index(len(m.TagSection))
}

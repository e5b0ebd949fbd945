package wasm

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// StaticModuleIndex identifies a core module within one compilation, e.g. the position of a module inside a
// component. A standalone module is always StaticModuleIndex zero.
type StaticModuleIndex uint32

// DefinedFuncIndex is the index of a function in Module.FunctionSection, i.e. excluding imported functions.
type DefinedFuncIndex uint32

// ModuleTranslation is a validated Module plus the facts compilation needs about it.
type ModuleTranslation struct {
	Index  StaticModuleIndex
	Module *Module

	// Signatures maps each type index to its interned signature. Continuation types map to the signature of the
	// function type they wrap.
	Signatures []SignatureIndex

	// Escaping are the defined functions which can be called from outside of wasm or indirectly, in ascending order.
	// These need array-to-wasm and native-to-wasm trampolines.
	Escaping []DefinedFuncIndex

	// Callees are the distinct functions each defined function calls directly, index-correlated with
	// Module.FunctionSection.
	Callees [][]Index
}

// Translate validates m and interns its signatures into types.
func Translate(types *Types, index StaticModuleIndex, m *Module) (*ModuleTranslation, error) {
	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}

	t := &ModuleTranslation{
		Index:      index,
		Module:     m,
		Signatures: make([]SignatureIndex, len(m.TypeSection)),
		Callees:    make([][]Index, len(m.FunctionSection)),
	}

	for i := range m.TypeSection {
		td := &m.TypeSection[i]
		if !td.IsCont() {
			t.Signatures[i] = types.Intern(td.Func)
			continue
		}
		ft := m.FunctionType(td.ContOf)
		if ft == nil {
			return nil, fmt.Errorf("type[%d]: cont type refers to %d which is not a function type", i, td.ContOf)
		}
		t.Signatures[i] = types.Intern(ft)
	}

	for i := range m.ImportSection {
		imp := &m.ImportSection[i]
		switch imp.Type {
		case ExternTypeFunc:
			if m.FunctionType(imp.DescFunc) == nil {
				return nil, fmt.Errorf("import[%d] %s.%s: invalid function type index %d", i, imp.Module, imp.Name, imp.DescFunc)
			}
		case ExternTypeTag:
			if m.FunctionType(imp.DescTag) == nil {
				return nil, fmt.Errorf("import[%d] %s.%s: invalid tag type index %d", i, imp.Module, imp.Name, imp.DescTag)
			}
		}
	}

	for i, typeIdx := range m.FunctionSection {
		if m.FunctionType(typeIdx) == nil {
			return nil, fmt.Errorf("function[%d]: invalid function type index %d", i, typeIdx)
		}
	}

	for i, tag := range m.TagSection {
		if m.FunctionType(tag.Type) == nil {
			return nil, fmt.Errorf("tag[%d]: invalid function type index %d", i, tag.Type)
		}
	}

	escaping := map[Index]struct{}{}
	funcCount := m.FunctionCount()
	for i := range m.ExportSection {
		exp := &m.ExportSection[i]
		switch exp.Type {
		case ExternTypeFunc:
			if exp.Index >= funcCount {
				return nil, fmt.Errorf("export[%d] %q: function index %d out of range", i, exp.Name, exp.Index)
			}
			escaping[exp.Index] = struct{}{}
		case ExternTypeTag:
			if exp.Index >= m.TagCount() {
				return nil, fmt.Errorf("export[%d] %q: tag index %d out of range", i, exp.Name, exp.Index)
			}
		}
	}

	if m.StartSection != nil {
		if *m.StartSection >= funcCount {
			return nil, fmt.Errorf("start function index %d out of range", *m.StartSection)
		}
		escaping[*m.StartSection] = struct{}{}
	}

	for _, funcIdx := range m.FuncRefs {
		if funcIdx >= funcCount {
			return nil, fmt.Errorf("element or global: function index %d out of range", funcIdx)
		}
		escaping[funcIdx] = struct{}{}
	}

	for i := range m.CodeSection {
		callees, err := t.scanBody(DefinedFuncIndex(i), escaping)
		if err != nil {
			return nil, fmt.Errorf("function[%d]: %w", i, err)
		}
		t.Callees[i] = callees
	}

	for funcIdx := range escaping {
		if def, ok := t.DefinedFuncIndex(funcIdx); ok {
			t.Escaping = append(t.Escaping, def)
		}
	}
	sort.Slice(t.Escaping, func(i, j int) bool { return t.Escaping[i] < t.Escaping[j] })
	return t, nil
}

func (t *ModuleTranslation) scanBody(def DefinedFuncIndex, escaping map[Index]struct{}) ([]Index, error) {
	m := t.Module
	body := m.CodeSection[def].Body
	if len(body) == 0 || body[len(body)-1] != OpcodeEnd {
		return nil, errors.New("expr not end with OpcodeEnd")
	}

	var callees []Index
	seen := map[Index]struct{}{}
	r := NewInstructionReader(body)
	for {
		inst, err := r.Next()
		if err == io.EOF {
			return callees, nil
		} else if err != nil {
			return nil, err
		}

		switch inst.Opcode {
		case OpcodeCall:
			callee := Index(inst.Imm1)
			if callee >= m.FunctionCount() {
				return nil, fmt.Errorf("call at offset %d: function index %d out of range", inst.Offset, callee)
			}
			if _, ok := seen[callee]; !ok {
				seen[callee] = struct{}{}
				callees = append(callees, callee)
			}
		case OpcodeRefFunc:
			target := Index(inst.Imm1)
			if target >= m.FunctionCount() {
				return nil, fmt.Errorf("ref.func at offset %d: function index %d out of range", inst.Offset, target)
			}
			escaping[target] = struct{}{}
		case OpcodeContNew, OpcodeResume, OpcodeResumeThrow, OpcodeContBind, OpcodeSwitch:
			typeIdx := Index(inst.Imm1)
			if typeIdx >= Index(len(m.TypeSection)) || !m.TypeSection[typeIdx].IsCont() {
				return nil, fmt.Errorf("%s at offset %d: type index %d is not a cont type",
					InstructionName(inst.Opcode), inst.Offset, typeIdx)
			}
			if inst.Opcode == OpcodeSwitch && Index(inst.Imm2) >= m.TagCount() {
				return nil, fmt.Errorf("switch at offset %d: tag index %d out of range", inst.Offset, inst.Imm2)
			}
			for _, h := range inst.Handlers {
				if h.Tag >= m.TagCount() {
					return nil, fmt.Errorf("%s at offset %d: tag index %d out of range",
						InstructionName(inst.Opcode), inst.Offset, h.Tag)
				}
			}
		case OpcodeSuspend:
			if Index(inst.Imm1) >= m.TagCount() {
				return nil, fmt.Errorf("suspend at offset %d: tag index %d out of range", inst.Offset, inst.Imm1)
			}
		}
	}
}

// DefinedFuncIndex returns the defined function index of funcIdx, or false if funcIdx is imported.
func (t *ModuleTranslation) DefinedFuncIndex(funcIdx Index) (DefinedFuncIndex, bool) {
	if funcIdx < t.Module.ImportFunctionCount {
		return 0, false
	}
	return DefinedFuncIndex(funcIdx - t.Module.ImportFunctionCount), true
}

// FuncIndex converts a defined function index to the function index namespace.
func (t *ModuleTranslation) FuncIndex(def DefinedFuncIndex) Index {
	return t.Module.ImportFunctionCount + Index(def)
}

// DefinedFunctionCount returns the number of functions defined (not imported) by this module.
func (t *ModuleTranslation) DefinedFunctionCount() int {
	return len(t.Module.FunctionSection)
}

// FunctionSignature returns the interned signature of a defined function.
func (t *ModuleTranslation) FunctionSignature(def DefinedFuncIndex) SignatureIndex {
	return t.Signatures[t.Module.FunctionSection[def]]
}

// IsEscaping returns true if def is in Escaping.
func (t *ModuleTranslation) IsEscaping(def DefinedFuncIndex) bool {
	i := sort.Search(len(t.Escaping), func(i int) bool { return t.Escaping[i] >= def })
	return i < len(t.Escaping) && t.Escaping[i] == def
}

// FunctionSignatures returns the distinct interned signatures of the function types in the type section, in
// declaration order.
func (t *ModuleTranslation) FunctionSignatures() []SignatureIndex {
	var ret []SignatureIndex
	seen := map[SignatureIndex]struct{}{}
	for i := range t.Module.TypeSection {
		if t.Module.TypeSection[i].IsCont() {
			continue
		}
		sig := t.Signatures[i]
		if _, ok := seen[sig]; !ok {
			seen[sig] = struct{}{}
			ret = append(ret, sig)
		}
	}
	return ret
}

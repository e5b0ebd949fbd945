package compiler

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tetratelabs/wazerofx/internal/compiler/object"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// ArtifactsSection is the object section holding the YAML encoded Artifacts.
const ArtifactsSection = ".wazerofx.artifacts"

// FunctionLoc is the location of a function in .text.
type FunctionLoc struct {
	Start  uint32 `yaml:"start"`
	Length uint32 `yaml:"length"`
}

// String implements fmt.Stringer.
func (l FunctionLoc) String() string {
	return fmt.Sprintf("[%#x, %#x)", l.Start, l.Start+l.Length)
}

// CompiledFunctionInfo is the linked form of a defined wasm function and its entry trampolines.
type CompiledFunctionInfo struct {
	Info WasmFunctionInfo `yaml:"info"`
	Loc  FunctionLoc      `yaml:"loc"`
	// The trampolines are only set for escaping functions.
	ArrayToWasmTrampoline  *FunctionLoc `yaml:"array_to_wasm_trampoline,omitempty"`
	NativeToWasmTrampoline *FunctionLoc `yaml:"native_to_wasm_trampoline,omitempty"`
}

// ModuleArtifacts are the functions of one module, index-correlated with wasm.DefinedFuncIndex.
type ModuleArtifacts struct {
	Index     wasm.StaticModuleIndex `yaml:"index"`
	Functions []CompiledFunctionInfo `yaml:"functions"`
}

// Artifacts describe where everything landed in a linked object. The runtime resolves function addresses from it
// when it loads the object.
type Artifacts struct {
	Modules                 []ModuleArtifacts                   `yaml:"modules"`
	WasmToNativeTrampolines map[wasm.SignatureIndex]FunctionLoc `yaml:"wasm_to_native_trampolines,omitempty"`
	Lowerings               []AllCallFunc[FunctionLoc]          `yaml:"lowerings,omitempty"`
	AlwaysTraps             []AllCallFunc[FunctionLoc]          `yaml:"always_traps,omitempty"`
	Transcoders             []AllCallFunc[FunctionLoc]          `yaml:"transcoders,omitempty"`
}

// Function returns the info of a defined function.
func (a *Artifacts) Function(module wasm.StaticModuleIndex, def wasm.DefinedFuncIndex) (*CompiledFunctionInfo, bool) {
	if int(module) >= len(a.Modules) || int(def) >= len(a.Modules[module].Functions) {
		return nil, false
	}
	return &a.Modules[module].Functions[def], true
}

// Marshal encodes a as YAML.
func (a *Artifacts) Marshal() ([]byte, error) {
	return yaml.Marshal(a)
}

// AppendTo stores a in the ArtifactsSection of obj.
func (a *Artifacts) AppendTo(obj *object.Builder) error {
	data, err := a.Marshal()
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	obj.AddSection(ArtifactsSection, data, 1)
	return nil
}

// UnmarshalArtifacts decodes Artifacts encoded by Artifacts.Marshal.
func UnmarshalArtifacts(data []byte) (*Artifacts, error) {
	a := &Artifacts{}
	if err := yaml.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	return a, nil
}

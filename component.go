package wazerofx

import (
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/compiler"
	"github.com/tetratelabs/wazerofx/internal/wasm"
	"github.com/tetratelabs/wazerofx/internal/wasm/binary"
)

// ValueType is a core wasm value type in its binary encoding.
type ValueType = wasm.ValueType

const (
	ValueTypeI32 = wasm.ValueTypeI32
	ValueTypeI64 = wasm.ValueTypeI64
	ValueTypeF32 = wasm.ValueTypeF32
	ValueTypeF64 = wasm.ValueTypeF64
)

// Signature is a core wasm function type.
type Signature struct {
	Params, Results []ValueType
}

// StringEncoding is an encoding a Transcoder converts between.
type StringEncoding byte

const (
	StringEncodingUTF8 StringEncoding = iota
	StringEncodingUTF16
	StringEncodingLatin1
)

// Lowering is a host function made callable from a core module.
type Lowering struct {
	Name      string
	Signature Signature
}

// Transcoder copies a string from one linear memory to another.
type Transcoder struct {
	Name      string
	From, To  StringEncoding
	Signature Signature
}

// Component lists what a component needs compiled: its core modules in instantiation order and the entry points
// the host provides to them.
type Component struct {
	// Modules are WebAssembly binaries.
	Modules     [][]byte
	Lowerings   []Lowering
	AlwaysTraps []Signature
	Transcoders []Transcoder
}

func (c *Component) translate(types *wasm.Types) (*compiler.ComponentTranslation, error) {
	ret := &compiler.ComponentTranslation{}
	for i, source := range c.Modules {
		m, err := binary.DecodeModule(source)
		if err != nil {
			return nil, fmt.Errorf("module[%d]: decode: %w", i, err)
		}
		t, err := wasm.Translate(types, wasm.StaticModuleIndex(i), m)
		if err != nil {
			return nil, fmt.Errorf("module[%d]: translate: %w", i, err)
		}
		ret.Modules = append(ret.Modules, t)
	}

	intern := func(s Signature) wasm.SignatureIndex {
		return types.Intern(&wasm.FunctionType{Params: s.Params, Results: s.Results})
	}
	for _, l := range c.Lowerings {
		ret.Lowerings = append(ret.Lowerings, compiler.Lowering{Name: l.Name, Signature: intern(l.Signature)})
	}
	for _, s := range c.AlwaysTraps {
		ret.AlwaysTraps = append(ret.AlwaysTraps, compiler.AlwaysTrap{Signature: intern(s)})
	}
	for _, tc := range c.Transcoders {
		ret.Transcoders = append(ret.Transcoders, compiler.Transcoder{
			Name:      tc.Name,
			From:      compiler.Encoding(tc.From),
			To:        compiler.Encoding(tc.To),
			Signature: intern(tc.Signature),
		})
	}
	return ret, nil
}

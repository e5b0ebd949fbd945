package compiler

import (
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// Encoding is a string encoding of the component model.
type Encoding byte

const (
	EncodingUTF8 Encoding = iota
	EncodingUTF16
	EncodingLatin1
)

// String implements fmt.Stringer.
func (e Encoding) String() string {
	switch e {
	case EncodingUTF8:
		return "utf8"
	case EncodingUTF16:
		return "utf16"
	case EncodingLatin1:
		return "latin1"
	}
	return fmt.Sprintf("encoding(%d)", byte(e))
}

// Lowering adapts a host function to a core wasm signature.
type Lowering struct {
	Name      string
	Signature wasm.SignatureIndex
}

// AlwaysTrap is a function that exists only to trap, e.g. a lowering of a lifted function of the same instance.
type AlwaysTrap struct {
	Signature wasm.SignatureIndex
}

// Transcoder copies a string between two linear memories converting its encoding.
type Transcoder struct {
	Name      string
	From, To  Encoding
	Signature wasm.SignatureIndex
}

// ComponentTranslation is a component reduced to what compilation needs: its core modules and the trampolines
// connecting them.
type ComponentTranslation struct {
	// Modules are the core modules, indexed by wasm.StaticModuleIndex.
	Modules     []*wasm.ModuleTranslation
	Lowerings   []Lowering
	AlwaysTraps []AlwaysTrap
	Transcoders []Transcoder
}

func (c *ComponentTranslation) validate(types *wasm.Types) error {
	for i, m := range c.Modules {
		if m.Index != wasm.StaticModuleIndex(i) {
			return fmt.Errorf("module[%d] has static index %d", i, m.Index)
		}
	}
	n := wasm.SignatureIndex(types.Len())
	for i := range c.Lowerings {
		if c.Lowerings[i].Signature >= n {
			return fmt.Errorf("lowering[%d] %q: unknown signature %d", i, c.Lowerings[i].Name, c.Lowerings[i].Signature)
		}
	}
	for i := range c.AlwaysTraps {
		if c.AlwaysTraps[i].Signature >= n {
			return fmt.Errorf("always_trap[%d]: unknown signature %d", i, c.AlwaysTraps[i].Signature)
		}
	}
	for i := range c.Transcoders {
		tc := &c.Transcoders[i]
		if tc.Signature >= n {
			return fmt.Errorf("transcoder[%d] %q: unknown signature %d", i, tc.Name, tc.Signature)
		}
		if tc.From > EncodingLatin1 || tc.To > EncodingLatin1 {
			return fmt.Errorf("transcoder[%d] %q: invalid encoding %s to %s", i, tc.Name, tc.From, tc.To)
		}
	}
	return nil
}

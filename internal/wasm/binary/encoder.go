package binary

import (
	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// EncodeModule implements functionality likely to be used in tests and CLI fixtures: it encodes the given module
// into a byte slice depicting the WebAssembly Binary Format.
//
// Note: CodeSectionOffset and Code.BodyOffsetInCodeSection are ignored.
//
// See https://www.w3.org/TR/wasm-core-2/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(Magic, version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDType, encodeVector(len(m.TypeSection), func(i int) []byte {
			return encodeTypeDef(&m.TypeSection[i])
		}))...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDImport, encodeVector(len(m.ImportSection), func(i int) []byte {
			return encodeImport(&m.ImportSection[i])
		}))...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDFunction, encodeVector(len(m.FunctionSection), func(i int) []byte {
			return leb128.EncodeUint32(m.FunctionSection[i])
		}))...)
	}
	if len(m.TagSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDTag, encodeVector(len(m.TagSection), func(i int) []byte {
			return append([]byte{0x00}, leb128.EncodeUint32(m.TagSection[i].Type)...)
		}))...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDExport, encodeVector(len(m.ExportSection), func(i int) []byte {
			e := &m.ExportSection[i]
			data := encodeName(e.Name)
			data = append(data, e.Type)
			return append(data, leb128.EncodeUint32(e.Index)...)
		}))...)
	}
	if m.StartSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDStart, leb128.EncodeUint32(*m.StartSection))...)
	}
	if len(m.FuncRefs) > 0 {
		// FuncRefs are written as a single declarative segment: prefix 3, elemkind funcref.
		segment := append([]byte{0x03, 0x00}, encodeVector(len(m.FuncRefs), func(i int) []byte {
			return leb128.EncodeUint32(m.FuncRefs[i])
		})...)
		bytes = append(bytes, encodeSection(wasm.SectionIDElement, append(leb128.EncodeUint32(1), segment...))...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDCode, encodeVector(len(m.CodeSection), func(i int) []byte {
			return encodeCode(&m.CodeSection[i])
		}))...)
	}
	return
}

// encodeSection encodes the sectionID, the size of its contents in bytes, followed by the contents.
// See https://www.w3.org/TR/wasm-core-2/#sections%E2%91%A0
func encodeSection(sectionID wasm.SectionID, contents []byte) []byte {
	return append([]byte{sectionID}, encodeSizePrefixed(contents)...)
}

func encodeVector(n int, elem func(i int) []byte) []byte {
	data := leb128.EncodeUint32(uint32(n))
	for i := 0; i < n; i++ {
		data = append(data, elem(i)...)
	}
	return data
}

func encodeSizePrefixed(data []byte) []byte {
	return append(leb128.EncodeUint32(uint32(len(data))), data...)
}

func encodeName(name string) []byte {
	return encodeSizePrefixed([]byte(name))
}

func encodeTypeDef(t *wasm.TypeDef) []byte {
	if t.IsCont() {
		return append([]byte{typeCont}, leb128.EncodeUint32(t.ContOf)...)
	}
	data := []byte{typeFunc}
	data = append(data, encodeSizePrefixed(t.Func.Params)...)
	return append(data, encodeSizePrefixed(t.Func.Results)...)
}

func encodeImport(i *wasm.Import) []byte {
	data := encodeName(i.Module)
	data = append(data, encodeName(i.Name)...)
	data = append(data, i.Type)
	switch i.Type {
	case wasm.ExternTypeFunc:
		data = append(data, leb128.EncodeUint32(i.DescFunc)...)
	case wasm.ExternTypeTag:
		data = append(data, 0x00)
		data = append(data, leb128.EncodeUint32(i.DescTag)...)
	default:
		panic("BUG: unsupported import type " + wasm.ExternTypeName(i.Type))
	}
	return data
}

// encodeCode groups consecutive locals of the same type.
func encodeCode(c *wasm.Code) []byte {
	var groups [][2]uint32
	for _, vt := range c.LocalTypes {
		if n := len(groups); n > 0 && groups[n-1][1] == uint32(vt) {
			groups[n-1][0]++
		} else {
			groups = append(groups, [2]uint32{1, uint32(vt)})
		}
	}
	data := encodeVector(len(groups), func(i int) []byte {
		return append(leb128.EncodeUint32(groups[i][0]), byte(groups[i][1]))
	})
	return encodeSizePrefixed(append(data, c.Body...))
}

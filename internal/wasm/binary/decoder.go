package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// DecodeModule decodes the WebAssembly Binary Format into a wasm.Module.
//
// Sections irrelevant to compilation are skipped by size: custom, table, memory, data and data count. Their contents
// are not validated. Global and element sections are only read for the functions they reference.
//
// See https://www.w3.org/TR/wasm-core-2/#binary-format%E2%91%A0
func DecodeModule(binary []byte) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	// Magic number.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, Magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	var functionCount, codeCount uint32
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}

		sectionContentStart := r.Len()
		if int(sectionSize) > sectionContentStart {
			return nil, fmt.Errorf("section %s: size %d exceeds the remaining %d bytes",
				wasm.SectionIDName(sectionID), sectionSize, sectionContentStart)
		}

		switch sectionID {
		case wasm.SectionIDCustom, wasm.SectionIDTable, wasm.SectionIDMemory, wasm.SectionIDData,
			wasm.SectionIDDataCount:
			_, err = r.Seek(int64(sectionSize), io.SeekCurrent)
		case wasm.SectionIDGlobal:
			m.FuncRefs, err = decodeGlobalSection(r, m.FuncRefs)
		case wasm.SectionIDElement:
			m.FuncRefs, err = decodeElementSection(r, m.FuncRefs)
		case wasm.SectionIDType:
			m.TypeSection, err = decodeTypeSection(r)
		case wasm.SectionIDImport:
			if m.ImportSection, err = decodeImportSection(r); err == nil {
				for i := range m.ImportSection {
					switch m.ImportSection[i].Type {
					case wasm.ExternTypeFunc:
						m.ImportFunctionCount++
					case wasm.ExternTypeTag:
						m.ImportTagCount++
					}
				}
			}
		case wasm.SectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(r)
			functionCount = uint32(len(m.FunctionSection))
		case wasm.SectionIDExport:
			m.ExportSection, err = decodeExportSection(r)
		case wasm.SectionIDStart:
			m.StartSection, err = decodeStartSection(r)
		case wasm.SectionIDCode:
			m.CodeSectionOffset = uint64(len(binary) - r.Len())
			m.CodeSection, err = decodeCodeSection(r)
			codeCount = uint32(len(m.CodeSection))
		case wasm.SectionIDTag:
			m.TagSection, err = decodeTagSection(r)
		default:
			err = ErrInvalidSectionID
		}

		if readBytes := sectionContentStart - r.Len(); err == nil && int(sectionSize) != readBytes {
			err = fmt.Errorf("invalid section length: expected to be %d but got %d", sectionSize, readBytes)
		}

		if err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}
	}

	if functionCount != codeCount {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", functionCount, codeCount)
	}
	for i := range m.CodeSection {
		m.CodeSection[i].BodyOffsetInCodeSection -= m.CodeSectionOffset
	}
	return m, nil
}

package binary

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

func decodeTypeSection(r *bytes.Reader) ([]wasm.TypeDef, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	result := make([]wasm.TypeDef, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeTypeDef(r, &result[i]); err != nil {
			return nil, fmt.Errorf("read %d-th type: %v", i, err)
		}
	}
	return result, nil
}

func decodeTypeDef(r *bytes.Reader, ret *wasm.TypeDef) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read leading byte: %w", err)
	}

	switch b {
	case typeFunc:
		ret.Func, err = decodeFunctionType(r)
		return err
	case typeCont:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read cont type index: %w", err)
		}
		ret.ContOf = idx
		return nil
	default:
		return fmt.Errorf("%w: %#x != 0x60 or 0x5d", ErrInvalidByte, b)
	}
}

func decodeFunctionType(r *bytes.Reader) (*wasm.FunctionType, error) {
	s, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("could not read parameter count: %w", err)
	}

	paramTypes, err := decodeValueTypes(r, s)
	if err != nil {
		return nil, fmt.Errorf("could not read parameter types: %w", err)
	}

	s, _, err = leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("could not read result count: %w", err)
	}

	resultTypes, err := decodeValueTypes(r, s)
	if err != nil {
		return nil, fmt.Errorf("could not read result types: %w", err)
	}

	return &wasm.FunctionType{
		Params:  paramTypes,
		Results: resultTypes,
	}, nil
}

func decodeImportSection(r *bytes.Reader) ([]wasm.Import, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	result := make([]wasm.Import, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeImport(r, &result[i]); err != nil {
			return nil, fmt.Errorf("read import: %w", err)
		}
	}
	return result, nil
}

func decodeFunctionSection(r *bytes.Reader) ([]uint32, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	result := make([]uint32, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("get type index: %w", err)
		}
	}
	return result, err
}

func decodeExportSection(r *bytes.Reader) ([]wasm.Export, error) {
	vs, _, sizeErr := leb128.DecodeUint32(r)
	if sizeErr != nil {
		return nil, fmt.Errorf("get size of vector: %v", sizeErr)
	}

	usedName := make(map[string]struct{}, vs)
	exportSection := make([]wasm.Export, vs)
	for i := wasm.Index(0); i < vs; i++ {
		export := &exportSection[i]
		if err := decodeExport(r, export); err != nil {
			return nil, fmt.Errorf("read export: %w", err)
		}
		if _, ok := usedName[export.Name]; ok {
			return nil, fmt.Errorf("export[%d] duplicates name %q", i, export.Name)
		}
		usedName[export.Name] = struct{}{}
	}
	return exportSection, nil
}

func decodeStartSection(r *bytes.Reader) (*wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get function index: %w", err)
	}
	return &vs, nil
}

func decodeCodeSection(r *bytes.Reader) ([]wasm.Code, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	result := make([]wasm.Code, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeCode(r, &result[i]); err != nil {
			return nil, fmt.Errorf("read %d-th code segment: %v", i, err)
		}
	}
	return result, nil
}

func decodeTagSection(r *bytes.Reader) ([]wasm.Tag, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	result := make([]wasm.Tag, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i].Type, err = decodeTagType(r); err != nil {
			return nil, fmt.Errorf("read %d-th tag: %v", i, err)
		}
	}
	return result, nil
}

// decodeTagType decodes the attribute byte, which is always zero, and the type index of a tag.
func decodeTagType(r *bytes.Reader) (wasm.Index, error) {
	attr, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read tag attribute: %w", err)
	}
	if attr != 0 {
		return 0, fmt.Errorf("%w: tag attribute %#x != 0x00", ErrInvalidByte, attr)
	}
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("read tag type index: %w", err)
	}
	return idx, nil
}

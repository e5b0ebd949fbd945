package binary

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// decodeElementSection reads every element segment and appends the functions they reference to funcRefs. Offsets,
// tables and modes are not kept.
//
// See https://www.w3.org/TR/wasm-core-2/#element-section%E2%91%A0
func decodeElementSection(r *bytes.Reader, funcRefs []wasm.Index) ([]wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	for i := uint32(0); i < vs; i++ {
		if funcRefs, err = decodeElementSegment(r, funcRefs); err != nil {
			return nil, fmt.Errorf("read %d-th element segment: %v", i, err)
		}
	}
	return funcRefs, nil
}

// decodeElementSegment decodes one segment. The prefix is a bit field: bit 0 set means passive or declarative,
// bit 1 set means an explicit table index (active) or declarative (otherwise), and bit 2 set means the items are
// constant expressions instead of function indexes.
func decodeElementSegment(r *bytes.Reader, funcRefs []wasm.Index) ([]wasm.Index, error) {
	prefix, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read element prefix: %w", err)
	}
	if prefix > 7 {
		return nil, fmt.Errorf("%w: element prefix %d", ErrInvalidByte, prefix)
	}

	active := prefix&0b001 == 0
	explicit := prefix&0b010 != 0
	exprs := prefix&0b100 != 0

	if active {
		if explicit {
			if _, _, err = leb128.DecodeUint32(r); err != nil {
				return nil, fmt.Errorf("read table index: %w", err)
			}
		}
		if funcRefs, err = decodeConstantExpression(r, funcRefs); err != nil {
			return nil, fmt.Errorf("read expr for offset: %w", err)
		}
	}

	// Prefixes 0 and 4 imply funcref, the others carry an element kind or a ref type.
	if !active || explicit {
		if exprs {
			err = decodeRefType(r)
		} else {
			err = ensureElementKindFuncRef(r)
		}
		if err != nil {
			return nil, err
		}
	}

	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	for j := uint32(0); j < count; j++ {
		if exprs {
			funcRefs, err = decodeConstantExpression(r, funcRefs)
		} else {
			var idx wasm.Index
			if idx, _, err = leb128.DecodeUint32(r); err == nil {
				funcRefs = append(funcRefs, idx)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("read %d-th item: %w", j, err)
		}
	}
	return funcRefs, nil
}

func ensureElementKindFuncRef(r *bytes.Reader) error {
	elemKind, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read element kind: %w", err)
	}
	if elemKind != 0x0 { // elemkind is fixed to 0x00, funcref.
		return fmt.Errorf("element kind must be zero but was %#x", elemKind)
	}
	return nil
}

// decodeGlobalSection reads every global and appends the functions their initializers reference to funcRefs.
//
// See https://www.w3.org/TR/wasm-core-2/#global-section%E2%91%A0
func decodeGlobalSection(r *bytes.Reader, funcRefs []wasm.Index) ([]wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}

	for i := uint32(0); i < vs; i++ {
		if err = decodeGlobalType(r); err != nil {
			return nil, fmt.Errorf("global[%d]: %v", i, err)
		}
		if funcRefs, err = decodeConstantExpression(r, funcRefs); err != nil {
			return nil, fmt.Errorf("global[%d]: read init: %v", i, err)
		}
	}
	return funcRefs, nil
}

func decodeGlobalType(r *bytes.Reader) error {
	vt, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read value type: %w", err)
	}
	switch vt {
	case refTypeNullable, refTypeNonNull:
		if _, err = decodeHeapType(r); err != nil {
			return fmt.Errorf("read heap type: %w", err)
		}
	default:
		if err = validateValueType(vt); err != nil {
			return fmt.Errorf("read value type: %w", err)
		}
	}

	mut, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read mutability: %w", err)
	}
	if mut > 1 {
		return fmt.Errorf("%w: mutability %#x != 0x00 or 0x01", ErrInvalidByte, mut)
	}
	return nil
}

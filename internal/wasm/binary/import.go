package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

func decodeImport(r *bytes.Reader, i *wasm.Import) (err error) {
	if i.Module, err = decodeUTF8(r, "import module"); err != nil {
		return err
	}

	if i.Name, err = decodeUTF8(r, "import name"); err != nil {
		return err
	}

	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("error decoding import kind: %w", err)
	}

	i.Type = b
	switch i.Type {
	case wasm.ExternTypeFunc:
		if i.DescFunc, _, err = leb128.DecodeUint32(r); err != nil {
			return fmt.Errorf("error decoding import func typeindex: %w", err)
		}
	case wasm.ExternTypeTable:
		if _, err = r.ReadByte(); err != nil {
			return fmt.Errorf("error decoding import table reftype: %w", err)
		}
		if err = skipLimits(r); err != nil {
			return fmt.Errorf("error decoding import table desc: %w", err)
		}
	case wasm.ExternTypeMemory:
		if err = skipLimits(r); err != nil {
			return fmt.Errorf("error decoding import mem desc: %w", err)
		}
	case wasm.ExternTypeGlobal:
		// valtype followed by the mutability flag.
		var desc [2]byte
		if _, err = io.ReadFull(r, desc[:]); err != nil {
			return fmt.Errorf("error decoding import global desc: %w", err)
		}
	case wasm.ExternTypeTag:
		if i.DescTag, err = decodeTagType(r); err != nil {
			return fmt.Errorf("error decoding import tag desc: %w", err)
		}
	default:
		return fmt.Errorf("%w: invalid byte for importdesc: %#x", ErrInvalidByte, b)
	}
	return
}

// skipLimits reads the limits of a table or memory type. Flags 0x04 and above select 64-bit limits.
//
// See https://www.w3.org/TR/wasm-core-2/#limits%E2%91%A6
func skipLimits(r *bytes.Reader) error {
	flag, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read leading byte: %v", err)
	}
	if flag > 0x07 {
		return fmt.Errorf("%v for limits: %#x", ErrInvalidByte, flag)
	}
	n := 1
	if flag&0x01 != 0 {
		n = 2
	}
	for ; n > 0; n-- {
		if _, _, err = leb128.DecodeUint64(r); err != nil {
			return fmt.Errorf("read limit: %v", err)
		}
	}
	return nil
}

package binary

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

func decodeExport(r *bytes.Reader, ret *wasm.Export) (err error) {
	if ret.Name, err = decodeUTF8(r, "export name"); err != nil {
		return err
	}

	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("error decoding export kind: %w", err)
	}

	ret.Type = b
	switch ret.Type {
	case wasm.ExternTypeFunc, wasm.ExternTypeTable, wasm.ExternTypeMemory, wasm.ExternTypeGlobal, wasm.ExternTypeTag:
		if ret.Index, _, err = leb128.DecodeUint32(r); err != nil {
			return fmt.Errorf("error decoding export index: %w", err)
		}
	default:
		return fmt.Errorf("%w: invalid byte for exportdesc: %#x", ErrInvalidByte, b)
	}
	return
}

package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// extended constant expression operators: i32.add, i32.sub, i32.mul, i64.add, i64.sub and i64.mul.
const (
	opcodeI32Add = 0x6a
	opcodeI32Mul = 0x6c
	opcodeI64Add = 0x7c
	opcodeI64Mul = 0x7e

	opcodeVecPrefix = 0xfd
	opcodeV128Const = 0x0c
)

// decodeConstantExpression reads a constant expression through its end opcode and appends the function index of
// every ref.func in it to funcRefs.
func decodeConstantExpression(r *bytes.Reader, funcRefs []wasm.Index) ([]wasm.Index, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read opcode: %v", err)
		}

		switch {
		case b == wasm.OpcodeEnd:
			return funcRefs, nil
		case b == wasm.OpcodeI32Const:
			_, _, err = leb128.DecodeInt32(r)
		case b == wasm.OpcodeI64Const:
			_, _, err = leb128.DecodeInt64(r)
		case b == wasm.OpcodeF32Const:
			err = skip(r, 4)
		case b == wasm.OpcodeF64Const:
			err = skip(r, 8)
		case b == wasm.OpcodeGlobalGet:
			_, _, err = leb128.DecodeUint32(r)
		case b == wasm.OpcodeRefNull:
			_, err = decodeHeapType(r)
		case b == wasm.OpcodeRefFunc:
			var idx wasm.Index
			if idx, _, err = leb128.DecodeUint32(r); err == nil {
				funcRefs = append(funcRefs, idx)
			}
		case b >= opcodeI32Add && b <= opcodeI32Mul, b >= opcodeI64Add && b <= opcodeI64Mul:
			// no immediates
		case b == opcodeVecPrefix:
			var sub uint32
			if sub, _, err = leb128.DecodeUint32(r); err == nil {
				if sub != opcodeV128Const {
					return nil, fmt.Errorf("%v for const expression vector opcode: %#x", ErrInvalidByte, sub)
				}
				err = skip(r, 16)
			}
		default:
			return nil, fmt.Errorf("%v for const expression opt code: %#x", ErrInvalidByte, b)
		}

		if err != nil {
			return nil, fmt.Errorf("read value of %s: %v", wasm.InstructionName(b), err)
		}
	}
}

// skip advances r by n bytes. bytes.Reader seeks past its end without error, so that is checked first.
func skip(r *bytes.Reader, n int) error {
	if r.Len() < n {
		return io.ErrUnexpectedEOF
	}
	_, err := r.Seek(int64(n), io.SeekCurrent)
	return err
}

// decodeHeapType reads the heap type of ref.null or of a reference type. Abstract heap types such as func are
// single byte negative values and concrete ones are type indexes, both encoded as a signed 33-bit integer.
func decodeHeapType(r *bytes.Reader) (int64, error) {
	ht, _, err := leb128.DecodeInt64(r)
	return ht, err
}

// reference type prefixes of the typed function references proposal: (ref null ht) and (ref ht).
const (
	refTypeNullable = 0x63
	refTypeNonNull  = 0x64
)

// decodeRefType reads a reference type: either funcref or externref in their short form, or a prefixed heap type.
func decodeRefType(r *bytes.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read ref type: %w", err)
	}
	switch b {
	case wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		return nil
	case refTypeNullable, refTypeNonNull:
		if _, err = decodeHeapType(r); err != nil {
			return fmt.Errorf("read heap type: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: ref type %#x", ErrInvalidByte, b)
}

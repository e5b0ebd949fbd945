package binary

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

func validateValueType(vt wasm.ValueType) error {
	switch vt {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64, wasm.ValueTypeV128,
		wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		return nil
	}
	return fmt.Errorf("%w: %#x", ErrInvalidByte, vt)
}

func decodeValueTypes(r *bytes.Reader, num uint32) ([]wasm.ValueType, error) {
	if num == 0 {
		return nil, nil
	}
	if int(num) > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	ret := make([]wasm.ValueType, num)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}

	for _, v := range ret {
		if err := validateValueType(v); err != nil {
			return nil, fmt.Errorf("invalid value type: %w", err)
		}
	}
	return ret, nil
}

// decodeUTF8 decodes a size prefixed string from the reader, returning it as a string.
// contextFormat and contextArgs apply an error format when present
func decodeUTF8(r *bytes.Reader, contextFormat string, contextArgs ...interface{}) (string, error) {
	size, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s size: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}

	if int(size) > r.Len() {
		return "", fmt.Errorf("failed to read %s: %w", fmt.Sprintf(contextFormat, contextArgs...), io.ErrUnexpectedEOF)
	}
	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}

	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%s is not valid UTF-8", fmt.Sprintf(contextFormat, contextArgs...))
	}

	return string(buf), nil
}

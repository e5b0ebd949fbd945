package binary

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

// decodeCode decodes one entry of the code section. BodyOffsetInCodeSection is set relative to the whole binary
// and rebased by DecodeModule once the section offset is known.
func decodeCode(r *bytes.Reader, ret *wasm.Code) error {
	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get the size of code: %w", err)
	}
	if int(ss) > r.Len() {
		return fmt.Errorf("code size %d exceeds the remaining %d bytes", ss, r.Len())
	}
	remaining := int64(ss)
	startLen := r.Len()

	// parse locals
	ls, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get the size locals: %v", err)
	}

	var sum uint64
	for i := uint32(0); i < ls; i++ {
		n, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read n of locals: %v", err)
		}
		sum += uint64(n)
		if sum > math.MaxUint32 {
			return fmt.Errorf("too many locals: %d", sum)
		}

		vt, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type of local: %v", err)
		}
		if err = validateValueType(vt); err != nil {
			return fmt.Errorf("invalid local type: %w", err)
		}
		for j := uint32(0); j < n; j++ {
			ret.LocalTypes = append(ret.LocalTypes, vt)
		}
	}

	remaining -= int64(startLen - r.Len())
	if remaining <= 0 {
		return io.ErrUnexpectedEOF
	}
	bodyStart, _ := r.Seek(0, io.SeekCurrent)
	ret.BodyOffsetInCodeSection = uint64(bodyStart)
	ret.Body = make([]byte, remaining)
	if _, err = io.ReadFull(r, ret.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if ret.Body[len(ret.Body)-1] != wasm.OpcodeEnd {
		return fmt.Errorf("expr not end with OpcodeEnd")
	}
	return nil
}

package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tetratelabs/wazerofx/internal/compiler"
	"github.com/tetratelabs/wazerofx/internal/compiler/object"
)

// functionAlignment is the alignment of each function in .text.
const functionAlignment = 16

type pendingRelocation struct {
	caller int
	// site is the offset of the rel32 displacement in .text.
	site   uint64
	target compiler.RelocationTarget
}

// AppendCode implements compiler.Compiler.
func (*Compiler) AppendCode(obj *object.Builder, funcs []compiler.CompiledFunction, resolve compiler.Resolver) ([]compiler.FunctionLoc, error) {
	locs := make([]compiler.FunctionLoc, len(funcs))
	var pending []pendingRelocation
	for i := range funcs {
		c, ok := funcs[i].Code.(*code)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected code %T", funcs[i].Symbol, funcs[i].Code)
		}
		offset := obj.AppendText(c.bytes, functionAlignment)
		if offset+uint64(len(c.bytes)) > math.MaxUint32 {
			return nil, fmt.Errorf("%s: text exceeds 4 GiB", funcs[i].Symbol)
		}
		locs[i] = compiler.FunctionLoc{Start: uint32(offset), Length: uint32(len(c.bytes))}
		for _, r := range c.relocs {
			pending = append(pending, pendingRelocation{caller: i, site: offset + uint64(r.offset), target: r.target})
		}
	}

	// Every function is in place, so displacements can be computed.
	text := obj.Text()
	for _, r := range pending {
		callee := resolve(r.caller, r.target)
		// rel32 is relative to the end of the call instruction.
		rel := int64(locs[callee].Start) - int64(r.site+4)
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return nil, fmt.Errorf("%s: call to %s out of rel32 range", funcs[r.caller].Symbol, funcs[callee].Symbol)
		}
		binary.LittleEndian.PutUint32(text[r.site:], uint32(int32(rel)))
	}
	return locs, nil
}

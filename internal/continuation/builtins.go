package continuation

import (
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/fxapi"
	"github.com/tetratelabs/wazerofx/internal/wasmruntime"
)

// BuiltinIndex identifies a builtin function called by generated code.
type BuiltinIndex uint32

const (
	// BuiltinContNew is tc_cont_new(func_index, arg_count, result_count) -> (revision, id).
	BuiltinContNew BuiltinIndex = iota
	// BuiltinDropContRef is tc_drop_cont_ref(revision, id).
	BuiltinDropContRef
	// BuiltinAllocate is tc_allocate(size, align) -> addr.
	BuiltinAllocate
	// BuiltinDeallocate is tc_deallocate(addr, size, align).
	BuiltinDeallocate
	// BuiltinReallocate is tc_reallocate(addr, old_size, align, new_size) -> addr.
	BuiltinReallocate
	// BuiltinPrintStr is tc_print_str(addr, len).
	BuiltinPrintStr
	// BuiltinPrintInt is tc_print_int(value).
	BuiltinPrintInt
	// BuiltinPrintPointer is tc_print_pointer(addr).
	BuiltinPrintPointer
	// BuiltinPrintNewline is tc_print_newline().
	BuiltinPrintNewline

	builtinMax
)

// builtinParams is the number of arguments of each builtin.
var builtinParams = [builtinMax]int{
	BuiltinContNew:      3,
	BuiltinDropContRef:  2,
	BuiltinAllocate:     2,
	BuiltinDeallocate:   3,
	BuiltinReallocate:   4,
	BuiltinPrintStr:     2,
	BuiltinPrintInt:     1,
	BuiltinPrintPointer: 1,
	BuiltinPrintNewline: 0,
}

// String implements fmt.Stringer.
func (b BuiltinIndex) String() string {
	switch b {
	case BuiltinContNew:
		return "tc_cont_new"
	case BuiltinDropContRef:
		return "tc_drop_cont_ref"
	case BuiltinAllocate:
		return "tc_allocate"
	case BuiltinDeallocate:
		return "tc_deallocate"
	case BuiltinReallocate:
		return "tc_reallocate"
	case BuiltinPrintStr:
		return "tc_print_str"
	case BuiltinPrintInt:
		return "tc_print_int"
	case BuiltinPrintPointer:
		return "tc_print_pointer"
	case BuiltinPrintNewline:
		return "tc_print_newline"
	}
	return fmt.Sprintf("builtin(%d)", uint32(b))
}

// CallBuiltin runs the builtin idx with raw arguments as passed by generated code. Malformed calls are errors
// wrapping wasmruntime.ErrRuntimeInvalidBuiltin; traps are raised as panics like the other operations.
func (s *Store) CallBuiltin(idx BuiltinIndex, args []uint64) ([]uint64, error) {
	if idx >= builtinMax {
		return nil, fmt.Errorf("%w: unknown builtin %d", wasmruntime.ErrRuntimeInvalidBuiltin, uint32(idx))
	}
	if want := builtinParams[idx]; len(args) != want {
		return nil, fmt.Errorf("%w: %s takes %d arguments but got %d", wasmruntime.ErrRuntimeInvalidBuiltin, idx, want, len(args))
	}

	switch idx {
	case BuiltinContNew:
		if args[0] >= uint64(len(s.funcs)) {
			return nil, fmt.Errorf("%w: %s: unknown function %d", wasmruntime.ErrRuntimeInvalidBuiltin, idx, args[0])
		}
		if args[1] > maximumVectorLength || args[2] > maximumVectorLength {
			return nil, fmt.Errorf("%w: %s: %d arguments and %d results exceed %d",
				wasmruntime.ErrRuntimeInvalidBuiltin, idx, args[1], args[2], maximumVectorLength)
		}
		ref, err := s.contNew(s.funcs[args[0]], uint32(args[0]), uint32(args[1]), uint32(args[2]))
		if err != nil {
			return nil, err
		}
		v := RefToVal(ref)
		return []uint64{v.Lo, v.Hi}, nil
	case BuiltinDropContRef:
		s.Drop(s.RefFromVal(ValRaw{Lo: args[0], Hi: args[1]}))
		return nil, nil
	case BuiltinAllocate:
		if err := checkAlign(args[1]); err != nil {
			return nil, err
		}
		if err := checkSize(args[0]); err != nil {
			return nil, err
		}
		return []uint64{uint64(s.heap.allocate(args[0], args[1]))}, nil
	case BuiltinDeallocate:
		if err := s.heap.deallocate(uintptr(args[0]), args[1], args[2]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", wasmruntime.ErrRuntimeInvalidBuiltin, idx, err)
		}
		return nil, nil
	case BuiltinReallocate:
		if err := checkAlign(args[2]); err != nil {
			return nil, err
		}
		if err := checkSize(args[3]); err != nil {
			return nil, err
		}
		if args[0] != 0 {
			if mem, ok := s.heap.blocks[uintptr(args[0])]; !ok || uint64(len(mem)) != max(args[1], 1) {
				return nil, fmt.Errorf("%w: %s: unknown block %#x of size %d", wasmruntime.ErrRuntimeInvalidBuiltin, idx, args[0], args[1])
			}
		}
		return []uint64{uint64(s.heap.reallocate(uintptr(args[0]), args[1], args[2], args[3]))}, nil
	}

	if !fxapi.ContinuationDebugPrintEnabled {
		return nil, nil
	}
	switch idx {
	case BuiltinPrintStr:
		b, ok := s.heap.bytes(uintptr(args[0]), args[1])
		if !ok {
			return nil, fmt.Errorf("%w: %s: %#x+%d is not allocated", wasmruntime.ErrRuntimeInvalidBuiltin, idx, args[0], args[1])
		}
		_, _ = s.debug.Write(b)
	case BuiltinPrintInt:
		_, _ = fmt.Fprint(s.debug, int64(args[0]))
	case BuiltinPrintPointer:
		_, _ = fmt.Fprintf(s.debug, "%#x", args[0])
	case BuiltinPrintNewline:
		_, _ = fmt.Fprintln(s.debug)
	}
	return nil, nil
}

func checkAlign(align uint64) error {
	if align == 0 || align&(align-1) != 0 || align > 4096 {
		return fmt.Errorf("%w: invalid alignment %d", wasmruntime.ErrRuntimeInvalidBuiltin, align)
	}
	return nil
}

func checkSize(size uint64) error {
	if size > maximumAllocationSize {
		return fmt.Errorf("%w: allocation size %d exceeds %d", wasmruntime.ErrRuntimeInvalidBuiltin, size, maximumAllocationSize)
	}
	return nil
}

// HeapBytes returns the n bytes at an address returned by tc_allocate or tc_reallocate.
func (s *Store) HeapBytes(addr, n uint64) ([]byte, bool) {
	return s.heap.bytes(uintptr(addr), n)
}

// HeapAllocated returns the number of bytes currently allocated through the tc_allocate family.
func (s *Store) HeapAllocated() uint64 {
	return s.heap.allocated
}


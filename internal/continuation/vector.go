package continuation

import (
	"unsafe"

	"github.com/tetratelabs/wazerofx/internal/wasmruntime"
)

// maximumVectorLength bounds payload and handler vectors, and with them the argument and result counts of a
// continuation.
const maximumVectorLength = 1 << 16

// vector is a growable array allocated from a Store's heap, so that generated code can address it. Its layout is
// described by fxapi.VectorOffsets.
type vector[T any] struct {
	length   uint32
	capacity uint32
	data     *T
}

func (v *vector[T]) len() int {
	return int(v.length)
}

// slice returns the elements as a slice aliasing the heap memory.
func (v *vector[T]) slice() []T {
	if v.data == nil {
		return nil
	}
	return unsafe.Slice(v.data, v.capacity)[:v.length]
}

// ensureCapacity grows v to hold at least n elements. Growing past maximumVectorLength traps.
func (v *vector[T]) ensureCapacity(h *heap, n uint64) {
	if n <= uint64(v.capacity) {
		return
	}
	if n > maximumVectorLength {
		panic(wasmruntime.ErrRuntimeFiberAllocation)
	}
	newCap := max(uint64(v.capacity)*2, 4)
	for newCap < n {
		newCap *= 2
	}
	newCap = min(newCap, maximumVectorLength)
	var zero T
	size, align := uint64(unsafe.Sizeof(zero)), uint64(unsafe.Alignof(zero))
	addr := h.reallocate(uintptr(unsafe.Pointer(v.data)), size*uint64(v.capacity), align, size*uint64(newCap))
	v.data = (*T)(h.pointer(addr))
	v.capacity = uint32(newCap)
}

func (v *vector[T]) append(h *heap, vals ...T) {
	if len(vals) == 0 {
		return
	}
	v.ensureCapacity(h, uint64(v.length)+uint64(len(vals)))
	copy(unsafe.Slice(v.data, v.capacity)[v.length:], vals)
	v.length += uint32(len(vals))
}

// take copies the elements out and empties v.
func (v *vector[T]) take() []T {
	if v.length == 0 {
		return nil
	}
	ret := make([]T, v.length)
	copy(ret, v.slice())
	v.length = 0
	return ret
}

func (v *vector[T]) clear() {
	v.length = 0
}

func (v *vector[T]) free(h *heap) {
	if v.data != nil {
		var zero T
		if err := h.deallocate(uintptr(unsafe.Pointer(v.data)), uint64(unsafe.Sizeof(zero))*uint64(v.capacity), uint64(unsafe.Alignof(zero))); err != nil {
			panic("BUG: " + err.Error())
		}
	}
	*v = vector[T]{}
}

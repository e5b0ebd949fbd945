package continuation

import (
	"fmt"
	"unsafe"
)

// heap is the allocator behind the tc_allocate, tc_deallocate and tc_reallocate builtins, and behind the payload
// and handler vectors. Blocks are Go memory free of pointers, kept reachable by the blocks map.
type heap struct {
	blocks map[uintptr][]byte
	// allocated is the total size of live blocks.
	allocated uint64
}

func newHeap() heap {
	return heap{blocks: map[uintptr][]byte{}}
}

// maximumAllocationSize bounds a single block.
const maximumAllocationSize = 1 << 30

func (h *heap) allocate(size, align uint64) uintptr {
	if align == 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("BUG: invalid alignment %d", align))
	}
	if size > maximumAllocationSize {
		panic(fmt.Sprintf("BUG: allocation size %d exceeds %d", size, maximumAllocationSize))
	}
	if size == 0 {
		size = 1
	}
	backing := make([]byte, size+align-1)
	base := uintptr(unsafe.Pointer(&backing[0]))
	off := (uintptr(align) - base%uintptr(align)) % uintptr(align)
	mem := backing[off : off+uintptr(size)]
	addr := base + off
	h.blocks[addr] = mem
	h.allocated += size
	return addr
}

// deallocate frees the block at addr. A zero addr is ignored.
func (h *heap) deallocate(addr uintptr, size, _ uint64) error {
	if addr == 0 {
		return nil
	}
	mem, ok := h.blocks[addr]
	if !ok {
		return fmt.Errorf("deallocating unknown address %#x", addr)
	}
	if size == 0 {
		size = 1
	}
	if uint64(len(mem)) != size {
		return fmt.Errorf("deallocating %#x with size %d but it was allocated with %d", addr, size, len(mem))
	}
	delete(h.blocks, addr)
	h.allocated -= size
	return nil
}

// reallocate moves the block at addr, which may be zero, to a block of newSize bytes keeping its contents.
func (h *heap) reallocate(addr uintptr, oldSize, align, newSize uint64) uintptr {
	newAddr := h.allocate(newSize, align)
	if addr != 0 {
		old := h.blocks[addr]
		copy(h.blocks[newAddr], old)
		if err := h.deallocate(addr, oldSize, align); err != nil {
			panic("BUG: " + err.Error())
		}
	}
	return newAddr
}

// pointer returns the pointer to the block starting at addr.
func (h *heap) pointer(addr uintptr) unsafe.Pointer {
	mem, ok := h.blocks[addr]
	if !ok {
		panic(fmt.Sprintf("BUG: unknown heap address %#x", addr))
	}
	return unsafe.Pointer(&mem[0])
}

// bytes returns the n bytes at addr if they are within one live block.
func (h *heap) bytes(addr uintptr, n uint64) ([]byte, bool) {
	for base, mem := range h.blocks {
		if addr >= base && uint64(addr-base)+n <= uint64(len(mem)) {
			off := addr - base
			return mem[off : uint64(off)+n], true
		}
	}
	return nil, false
}

func (h *heap) reset() {
	clear(h.blocks)
	h.allocated = 0
}

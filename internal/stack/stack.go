// Package stack allocates the memory regions backing continuation stacks.
//
// Every stack is preceded by an inaccessible guard page at its low end. Stacks grow down, so the usable region
// is [Limit(), Top()).
package stack

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

// ErrPoolExhausted is returned by a pooling Allocator when all of its stacks are in use.
var ErrPoolExhausted = errors.New("stack pool exhausted")

var pageSize = os.Getpagesize()

// Stack is one allocated stack. Its memory stays valid until it is returned to the Allocator it came from.
type Stack struct {
	// mem includes the guard page at the beginning.
	mem   []byte
	guard int
	// slot is the index in the pool, or -1 for on-demand stacks.
	slot int
}

// Top returns the address one past the highest usable byte.
func (s *Stack) Top() uintptr {
	return uintptr(unsafe.Pointer(&s.mem[0])) + uintptr(len(s.mem))
}

// Limit returns the lowest usable address, i.e. the end of the guard page.
func (s *Stack) Limit() uintptr {
	return uintptr(unsafe.Pointer(&s.mem[0])) + uintptr(s.guard)
}

// Size returns the number of usable bytes.
func (s *Stack) Size() int {
	return len(s.mem) - s.guard
}

// TopPointer returns a pointer to the byte offset bytes below Top.
func (s *Stack) TopPointer(offset int) unsafe.Pointer {
	if offset <= 0 || offset > s.Size() {
		panic(fmt.Sprintf("BUG: offset %d out of stack of size %d", offset, s.Size()))
	}
	return unsafe.Pointer(&s.mem[len(s.mem)-offset])
}

func (s *Stack) usable() []byte {
	return s.mem[s.guard:]
}

// Allocator hands out stacks of a fixed size.
type Allocator interface {
	// Allocate returns a fresh stack.
	Allocate() (*Stack, error)
	// Deallocate returns a stack obtained from Allocate.
	Deallocate(*Stack) error
	// StackSize returns the usable size of every stack.
	StackSize() int
	// Close releases all the memory held by the allocator. Stacks not yet returned become invalid.
	Close() error
}

func roundUpToPage(size int) int {
	return (size + pageSize - 1) &^ (pageSize - 1)
}

// NewOnDemand returns an Allocator mapping every stack separately and unmapping it on Deallocate.
func NewOnDemand(size int, logger *zap.Logger) Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &onDemand{size: roundUpToPage(size), logger: logger}
}

type onDemand struct {
	size   int
	live   atomic.Int64
	logger *zap.Logger
}

func (a *onDemand) StackSize() int {
	return a.size
}

func (a *onDemand) Allocate() (*Stack, error) {
	mem, err := mmapStack(a.size + pageSize)
	if err != nil {
		return nil, fmt.Errorf("mmap stack: %w", err)
	}
	if err = protectGuard(mem[:pageSize]); err != nil {
		_ = munmapStack(mem)
		return nil, fmt.Errorf("protect guard page: %w", err)
	}
	a.live.Add(1)
	return &Stack{mem: mem, guard: pageSize, slot: -1}, nil
}

func (a *onDemand) Deallocate(s *Stack) error {
	if s.slot != -1 {
		panic("BUG: deallocating a pooled stack to an on-demand allocator")
	}
	a.live.Add(-1)
	mem := s.mem
	s.mem = nil
	return munmapStack(mem)
}

func (a *onDemand) Close() error {
	if n := a.live.Load(); n != 0 {
		a.logger.Warn("closing stack allocator with live stacks", zap.Int64("live", n))
	}
	return nil
}

// NewPooling returns an Allocator reserving count stacks in one mapping. When zero is true, stacks are zeroed as
// they are returned.
func NewPooling(size, count int, zero bool, logger *zap.Logger) (Allocator, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid stack pool size %d", count)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size = roundUpToPage(size)
	stride := size + pageSize
	mem, err := mmapStack(stride * count)
	if err != nil {
		return nil, fmt.Errorf("reserve %d stacks: %w", count, err)
	}
	p := &pooling{mem: mem, size: size, stride: stride, zero: zero, logger: logger}
	p.free = make([]int, 0, count)
	for i := count - 1; i >= 0; i-- {
		if err = protectGuard(mem[i*stride : i*stride+pageSize]); err != nil {
			_ = munmapStack(mem)
			return nil, fmt.Errorf("protect guard page of stack %d: %w", i, err)
		}
		p.free = append(p.free, i)
	}
	logger.Debug("reserved stack pool", zap.Int("count", count), zap.Int("stack_size", size))
	return p, nil
}

type pooling struct {
	mem          []byte
	size, stride int
	zero         bool
	logger       *zap.Logger

	mux sync.Mutex
	// free is used as a stack of slot indices so that the most recently returned stack, still warm, is reused first.
	free []int
}

func (p *pooling) StackSize() int {
	return p.size
}

func (p *pooling) Allocate() (*Stack, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	slot := p.free[n-1]
	p.free = p.free[:n-1]
	start := slot * p.stride
	return &Stack{mem: p.mem[start : start+p.stride : start+p.stride], guard: pageSize, slot: slot}, nil
}

func (p *pooling) Deallocate(s *Stack) error {
	if s.slot < 0 {
		panic("BUG: deallocating an on-demand stack to a pooling allocator")
	}
	var err error
	if p.zero {
		err = zeroStack(s.usable())
	}
	p.mux.Lock()
	defer p.mux.Unlock()
	p.free = append(p.free, s.slot)
	s.mem = nil
	return err
}

func (p *pooling) Close() error {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.mem == nil {
		return nil
	}
	if live := cap(p.free) - len(p.free); live != 0 {
		p.logger.Warn("closing stack pool with live stacks", zap.Int("live", live))
	}
	mem := p.mem
	p.mem = nil
	p.logger.Debug("released stack pool", zap.Int("count", cap(p.free)))
	return munmapStack(mem)
}

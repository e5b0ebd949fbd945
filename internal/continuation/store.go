// Package continuation implements the stack switching runtime: continuation objects, the chain of active stacks
// and the resume, suspend and switch control protocol.
//
// A Store is an execution context. At most one of its stacks runs at any time and all of its methods must be
// called from the stack currently running, i.e. from a function passed to Call or from a Func running inside a
// continuation of the same Store.
package continuation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tetratelabs/wazerofx/internal/fiber"
	"github.com/tetratelabs/wazerofx/internal/fxapi"
	"github.com/tetratelabs/wazerofx/internal/stack"
	"github.com/tetratelabs/wazerofx/internal/wasmdebug"
	"github.com/tetratelabs/wazerofx/internal/wasmruntime"
)

// Func is the body of a continuation. It receives the arguments the continuation was bound and resumed with and
// returns its results.
type Func func(s *Store, args []ValRaw) []ValRaw

var (
	// ErrStoreClosed is returned when using a Store after Close.
	ErrStoreClosed = errors.New("store closed")
	// ErrTooManyValues is returned by ContNew when a continuation would take or return too many values.
	ErrTooManyValues = errors.New("too many continuation values")
)

// Store owns the continuations of one execution context.
type Store struct {
	alloc  stack.Allocator
	logger *zap.Logger
	debug  io.Writer

	root    executionRoot
	main    CommonStackInformation
	mainCtx *fiber.Context

	heap heap
	// payloads carry suspend arguments from the suspending stack to its handler.
	payloads vector[ValRaw]

	// conts are the live continuations by identifier.
	conts  map[uint32]*ContinuationObject
	nextID uint32

	// funcs are the functions tc_cont_new can refer to by index.
	funcs []Func

	// trace collects the continuations a trap unwound through.
	trace  []string
	closed bool
	// ownsAlloc is set by OwnAllocator.
	ownsAlloc bool
}

// NewStore returns a Store allocating continuation stacks from alloc. The Store does not own alloc unless
// OwnAllocator is called.
func NewStore(alloc stack.Allocator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		alloc:   alloc,
		logger:  logger,
		debug:   io.Discard,
		mainCtx: fiber.NewMainContext(),
		heap:    newHeap(),
		conts:   map[uint32]*ContinuationObject{},
	}
	s.main.State = StateRunning
	s.root.activeChain = MainStackChain(&s.main)
	return s
}

// OwnAllocator makes Close also close the allocator the Store was created with.
func (s *Store) OwnAllocator() {
	s.ownsAlloc = true
}

// SetDebugWriter sets where the tc_print_* builtins write when fxapi.ContinuationDebugPrintEnabled is set.
func (s *Store) SetDebugWriter(w io.Writer) {
	s.debug = w
}

// RegisterFunc makes f available to tc_cont_new under the returned index.
func (s *Store) RegisterFunc(f Func) uint32 {
	s.funcs = append(s.funcs, f)
	return uint32(len(s.funcs) - 1)
}

// Limits returns the live stack limits.
func (s *Store) Limits() StackLimits {
	return s.root.limits
}

// SetLimits sets the live stack limits, as done by generated code entering wasm.
func (s *Store) SetLimits(l StackLimits) {
	s.root.limits = l
}

// ActiveChain returns the chain link of the running stack.
func (s *Store) ActiveChain() StackChain {
	return s.root.activeChain
}

// Lookup returns the live continuation with the given identifier.
func (s *Store) Lookup(id uint32) (*ContinuationObject, bool) {
	c, ok := s.conts[id]
	return c, ok
}

// LiveContinuations returns the number of continuations not yet returned or dropped.
func (s *Store) LiveContinuations() int {
	return len(s.conts)
}

// RefFromVal decodes a reference encoded with RefToVal. The zero value decodes to the null reference.
func (s *Store) RefFromVal(v ValRaw) Ref {
	if v.Hi == 0 {
		return Ref{}
	}
	c, ok := s.conts[uint32(v.Hi)]
	if !ok {
		// Only a reference to a returned or dropped continuation can point at nothing.
		panic(wasmruntime.ErrRuntimeContinuationAlreadyConsumed)
	}
	return Ref{revision: v.Lo, obj: c}
}

// Activation is the part of a Store which describes where execution currently is. It is saved and restored
// around any handoff of the Store between goroutines or host calls.
type Activation struct {
	limits    StackLimits
	chain     StackChain
	mainState State
}

// SaveActivation returns the current activation.
func (s *Store) SaveActivation() Activation {
	return Activation{limits: s.root.limits, chain: s.root.activeChain, mainState: s.main.State}
}

// RestoreActivation makes a previously saved activation current again.
func (s *Store) RestoreActivation(a Activation) {
	s.root.limits = a.limits
	s.root.activeChain = a.chain
	s.main.State = a.mainState
	s.main.Handlers.clear()
	s.main.FirstSwitchHandlerIndex = 0
}

// Call runs f on the main stack. Traps raised by f or any continuation it resumes are returned as errors; use
// errors.Is with the wasmruntime errors to identify them.
func (s *Store) Call(ctx context.Context, f Func, args ...ValRaw) (results []ValRaw, err error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if !s.root.activeChain.IsMainStack() {
		return nil, errors.New("call while a continuation is running")
	}

	saved := s.SaveActivation()
	defer func() {
		if r := recover(); r != nil {
			builder := wasmdebug.NewErrorBuilder()
			for _, frame := range s.trace {
				builder.AddFrame(frame, nil, nil, nil)
			}
			builder.AddFrame("main", nil, nil, nil)
			err = builder.FromRecovered(r)
			results = nil

			// Ensures that the Store can be reused after a trap.
			s.trace = s.trace[:0]
			s.payloads.clear()
			s.RestoreActivation(saved)
		}
	}()
	results = f(s, args)
	return
}

// Close unwinds and frees every live continuation. The Store must not be running.
func (s *Store) Close() (err error) {
	if s.closed {
		return nil
	}
	if !s.root.activeChain.IsMainStack() {
		panic("BUG: closing a store from a running continuation")
	}
	s.closed = true

	ids := make([]uint32, 0, len(s.conts))
	for id := range s.conts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Suspended continuations are the innermost of their segments, unwinding them also releases their ancestors.
	for _, id := range ids {
		if c, ok := s.conts[id]; ok && c.Common.State == StateSuspended {
			err = multierr.Append(err, s.unwindSegment(c))
		}
	}
	for _, id := range ids {
		if c, ok := s.conts[id]; ok {
			if c.Common.State != StateFresh {
				panic(fmt.Sprintf("BUG: continuation %d left in state %s", c.id, c.Common.State))
			}
			err = multierr.Append(err, s.release(c))
		}
	}

	s.payloads.free(&s.heap)
	s.main.Handlers.free(&s.heap)
	if n := len(s.heap.blocks); n != 0 {
		s.logger.Debug("freeing leaked heap blocks", zap.Int("blocks", n), zap.Uint64("bytes", s.heap.allocated))
	}
	s.heap.reset()
	if s.ownsAlloc {
		err = multierr.Append(err, s.alloc.Close())
	}
	return
}

// contextOf returns the execution context of the stack the chain link points at.
func (s *Store) contextOf(chain StackChain) *fiber.Context {
	switch {
	case chain.IsMainStack():
		return s.mainCtx
	case chain.IsAbsent():
		panic("BUG: stack chain ends in Absent")
	default:
		return chain.Continuation().fiber.Context()
	}
}

// release frees the stack and buffers of c, which must not be running.
func (s *Store) release(c *ContinuationObject) error {
	c.fiber.Drop()
	delete(s.conts, c.id)
	c.Common.State = StateReturned
	// Invalidates any reference still outstanding.
	c.Revision++
	c.Args.free(&s.heap)
	c.Values.free(&s.heap)
	c.Common.Handlers.free(&s.heap)
	c.ParentChain = AbsentChain()
	c.LastAncestor = nil

	st := c.stack
	c.stack = nil
	if fxapi.ContinuationLoggingEnabled {
		s.logger.Debug("released continuation", zap.Uint32("id", c.id))
	}
	if err := s.alloc.Deallocate(st); err != nil {
		return fmt.Errorf("deallocate stack of continuation %d: %w", c.id, err)
	}
	return nil
}

// validateChain checks the chain invariant: from the active stack, zero or more continuation links followed by
// exactly one main stack link.
func (s *Store) validateChain() {
	chain := s.root.activeChain
	for depth := 0; ; depth++ {
		if depth > len(s.conts) {
			panic("BUG: cycle in the active stack chain")
		}
		switch {
		case chain.IsMainStack():
			return
		case chain.IsAbsent():
			panic("BUG: active stack chain ends in Absent")
		}
		c := chain.Continuation()
		want := StateParent
		if depth == 0 {
			want = StateRunning
		}
		if c.Common.State != want {
			panic(fmt.Sprintf("BUG: continuation %d on the active chain is %s, not %s", c.id, c.Common.State, want))
		}
		chain = c.ParentChain
	}
}

package continuation

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/tetratelabs/wazerofx/internal/fiber"
	"github.com/tetratelabs/wazerofx/internal/fxapi"
	"github.com/tetratelabs/wazerofx/internal/stack"
	"github.com/tetratelabs/wazerofx/internal/wasmruntime"
)

// ValRaw is an untyped value slot wide enough for any wasm value including v128.
type ValRaw struct {
	Lo, Hi uint64
}

// ValI32 returns the ValRaw holding v.
func ValI32(v uint32) ValRaw { return ValRaw{Lo: uint64(v)} }

// ValI64 returns the ValRaw holding v.
func ValI64(v uint64) ValRaw { return ValRaw{Lo: v} }

// ValF32 returns the ValRaw holding v.
func ValF32(v float32) ValRaw { return ValRaw{Lo: uint64(math.Float32bits(v))} }

// ValF64 returns the ValRaw holding v.
func ValF64(v float64) ValRaw { return ValRaw{Lo: math.Float64bits(v)} }

func (v ValRaw) I32() uint32  { return uint32(v.Lo) }
func (v ValRaw) I64() uint64  { return v.Lo }
func (v ValRaw) F32() float32 { return math.Float32frombits(uint32(v.Lo)) }
func (v ValRaw) F64() float64 { return math.Float64frombits(v.Lo) }

// StackLimits is the record generated code consults for stack overflow checks and backtraces. Its layout is
// described by fxapi.StackLimitsOffsets.
type StackLimits struct {
	StackLimit      uintptr
	LastWasmExitFP  uintptr
	LastWasmExitPC  uintptr
	LastWasmEntrySP uintptr
}

// State is the lifecycle state of a stack.
type State uint32

const (
	// StateFresh is a continuation created by cont.new which never ran.
	StateFresh State = iota
	// StateRunning is the stack currently executing.
	StateRunning
	// StateParent is a stack which resumed a child and waits for it.
	StateParent
	// StateSuspended is a continuation which suspended or switched away.
	StateSuspended
	// StateReturned is a continuation whose function returned. It is terminal.
	StateReturned
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRunning:
		return "running"
	case StateParent:
		return "parent"
	case StateSuspended:
		return "suspended"
	case StateReturned:
		return "returned"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// CommonStackInformation is the part shared by the main stack and continuations. Its layout is described by
// fxapi.CommonStackInformationOffsets.
type CommonStackInformation struct {
	Limits StackLimits
	State  State
	// FirstSwitchHandlerIndex splits Handlers: suspend handlers come before it and switch handlers from it on.
	FirstSwitchHandlerIndex uint32
	// Handlers are the tags handled by the resume this stack is blocked in.
	Handlers vector[uint32]
}

// suspendHandlers returns the tags installed as suspend handlers.
func (c *CommonStackInformation) suspendHandlers() []uint32 {
	return c.Handlers.slice()[:c.FirstSwitchHandlerIndex]
}

// switchHandlers returns the tags installed as switch handlers.
func (c *CommonStackInformation) switchHandlers() []uint32 {
	return c.Handlers.slice()[c.FirstSwitchHandlerIndex:]
}

// StackChain is a link in the list of stacks from the active one up to the main stack. The discriminant is one of
// fxapi.StackChainAbsent, fxapi.StackChainMainStack or fxapi.StackChainContinuation. In both non-absent cases ptr
// points at a CommonStackInformation, which is also the first field of ContinuationObject.
type StackChain struct {
	kind uintptr
	ptr  unsafe.Pointer
}

// AbsentChain returns the chain terminating a detached continuation.
func AbsentChain() StackChain {
	return StackChain{kind: fxapi.StackChainAbsent}
}

// MainStackChain returns the chain link to the main stack.
func MainStackChain(main *CommonStackInformation) StackChain {
	return StackChain{kind: fxapi.StackChainMainStack, ptr: unsafe.Pointer(main)}
}

// ContinuationChain returns the chain link to c.
func ContinuationChain(c *ContinuationObject) StackChain {
	return StackChain{kind: fxapi.StackChainContinuation, ptr: unsafe.Pointer(c)}
}

func (c StackChain) IsAbsent() bool    { return c.kind == fxapi.StackChainAbsent }
func (c StackChain) IsMainStack() bool { return c.kind == fxapi.StackChainMainStack }

// Continuation returns the continuation this link points at, or nil if it is not a continuation link.
func (c StackChain) Continuation() *ContinuationObject {
	if c.kind != fxapi.StackChainContinuation {
		return nil
	}
	return (*ContinuationObject)(c.ptr)
}

// Common returns the information shared by both kinds of stacks.
func (c StackChain) Common() *CommonStackInformation {
	if c.kind == fxapi.StackChainAbsent {
		panic("BUG: stack chain ends in Absent")
	}
	return (*CommonStackInformation)(c.ptr)
}

// ContinuationObject is a continuation: a stack plus the bookkeeping to resume it. The exported prefix is laid out
// as described by fxapi.ContinuationObjectOffsets.
type ContinuationObject struct {
	Common      CommonStackInformation
	ParentChain StackChain
	// LastAncestor is the outermost continuation of the suspended segment this one is the innermost of.
	LastAncestor *ContinuationObject
	// Revision is incremented by every consuming use of a reference.
	Revision uint64
	// Args hold the pending arguments of a fresh continuation, and the return values once it returned.
	Args vector[ValRaw]
	// Values hold the values passed to a suspended continuation by resume or switch.
	Values vector[ValRaw]

	stack                 *stack.Stack
	fiber                 *fiber.Fiber
	id                    uint32
	fn                    Func
	funcIndex             uint32
	argCount, resultCount uint32
}

// ID returns the identifier of c which is unique within its Store.
func (c *ContinuationObject) ID() uint32 {
	return c.id
}

// lastAncestor returns the continuation to splice when c is resumed.
func (c *ContinuationObject) lastAncestor() *ContinuationObject {
	if c.LastAncestor != nil {
		return c.LastAncestor
	}
	return c
}

// Ref is a reference to a continuation. It is valid until its first consuming use.
type Ref struct {
	revision uint64
	obj      *ContinuationObject
}

// IsNull returns true for the zero Ref.
func (r Ref) IsNull() bool {
	return r.obj == nil
}

// ID returns the identifier of the referenced continuation, or zero for a null Ref.
func (r Ref) ID() uint32 {
	if r.obj == nil {
		return 0
	}
	return r.obj.id
}

// Revision returns the revision this reference witnesses.
func (r Ref) Revision() uint64 {
	return r.revision
}

// consume checks r against the object and invalidates every outstanding reference to it.
func (r Ref) consume() *ContinuationObject {
	if r.obj == nil {
		panic(wasmruntime.ErrRuntimeNullContinuation)
	}
	if r.obj.Revision != r.revision {
		panic(wasmruntime.ErrRuntimeContinuationAlreadyConsumed)
	}
	r.obj.Revision++
	return r.obj
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	if r.obj == nil {
		return "null"
	}
	return fmt.Sprintf("cont[%d]@%d", r.obj.id, r.revision)
}

// RefToVal encodes r as a value: the revision in Lo and the continuation identifier in Hi. A null Ref encodes to
// the zero value.
func RefToVal(r Ref) ValRaw {
	if r.obj == nil {
		return ValRaw{}
	}
	return ValRaw{Lo: r.revision, Hi: uint64(r.obj.id)}
}

// executionRoot holds what generated code reaches from the vmcontext: the live stack limits and the active chain.
// Its layout is described by fxapi.ExecutionRootOffsets.
type executionRoot struct {
	limits      StackLimits
	activeChain StackChain
}

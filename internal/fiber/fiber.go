// Package fiber implements symmetric execution contexts on which continuations run.
//
// Each Fiber runs on its own goroutine, and exactly one Context of a group is running at any time: a switch hands
// control to the target and parks the caller until something switches back to it. The Direction and payload of a
// switch are written to the ControlRecord at the top of the target's stack before it is woken.
package fiber

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/tetratelabs/wazerofx/internal/fxapi"
	"github.com/tetratelabs/wazerofx/internal/stack"
)

// Direction tells a context woken by a switch why it was woken.
type Direction uint32

const (
	// DirectionResume is sent to a continuation being resumed.
	DirectionResume Direction = iota
	// DirectionSuspend is sent to a handler when a continuation suspends. The payload is the handler index.
	DirectionSuspend
	// DirectionReturn is sent to the parent when a continuation returns.
	DirectionReturn
	// DirectionPanic is sent to the parent when a continuation terminates with a panic. See Context.TakePanic.
	DirectionPanic

	// directionUnwind makes the woken fiber unwind its goroutine.
	directionUnwind
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case DirectionResume:
		return "resume"
	case DirectionSuspend:
		return "suspend"
	case DirectionReturn:
		return "return"
	case DirectionPanic:
		return "panic"
	case directionUnwind:
		return "unwind"
	}
	return fmt.Sprintf("direction(%d)", uint32(d))
}

// Signal is what a switch delivers to its target.
type Signal struct {
	Direction Direction
	Payload   uint32
}

// ControlRecord is the record at the top of each fiber stack. Its layout is described by
// fxapi.ControlRecordOffsets.
type ControlRecord struct {
	Direction uint32
	Payload   uint32
	Switches  uint64
}

var controlRecordSize = int(fxapi.ControlRecordOffsets.Size)

func init() {
	if unsafe.Sizeof(ControlRecord{}) != uintptr(controlRecordSize) {
		panic("BUG: ControlRecord layout does not match fxapi.ControlRecordOffsets")
	}
}

// errUnwind is panicked inside a fiber asked to unwind, so that its deferred functions run.
var errUnwind = errors.New("fiber unwind")

// Context is an execution context that can be switched to. The zero value is not usable; see NewMainContext and New.
type Context struct {
	wake    chan struct{}
	control *ControlRecord
	// start launches the goroutine of a fiber which was never switched to.
	start      func()
	panicValue interface{}
}

// NewMainContext returns the Context of the goroutine which drives a group of fibers.
func NewMainContext() *Context {
	return &Context{wake: make(chan struct{}, 1), control: &ControlRecord{}}
}

// SwitchTo transfers control to target with sig and blocks until another context switches back to c.
func (c *Context) SwitchTo(target *Context, sig Signal) Signal {
	if target == c {
		panic("BUG: switching to the running context")
	}
	transfer(target, sig)
	<-c.wake
	return c.received()
}

// Switches returns how many times c has been switched to.
func (c *Context) Switches() uint64 {
	return c.control.Switches
}

// TakePanic returns and clears the value carried by the last DirectionPanic signal delivered to c.
func (c *Context) TakePanic() interface{} {
	v := c.panicValue
	c.panicValue = nil
	return v
}

func transfer(target *Context, sig Signal) {
	target.control.Direction = uint32(sig.Direction)
	target.control.Payload = sig.Payload
	target.control.Switches++
	if start := target.start; start != nil {
		target.start = nil
		start()
	}
	target.wake <- struct{}{}
}

func (c *Context) received() Signal {
	sig := Signal{Direction: Direction(c.control.Direction), Payload: c.control.Payload}
	if sig.Direction == directionUnwind {
		panic(errUnwind)
	}
	return sig
}

// Fiber is a Context with its own stack which runs entry once switched to.
type Fiber struct {
	ctx   Context
	stack *stack.Stack
	entry func(Signal)
	// exit returns the context to hand control to once entry returns or panics.
	exit func() *Context

	started, done bool
	// unwinder is the context waiting for Unwind to complete.
	unwinder *Context
}

// New returns a fiber which runs entry on the first switch into it. The first Signal is passed to entry. Once
// entry returns, the fiber switches with DirectionReturn to the context returned by exit.
func New(st *stack.Stack, entry func(Signal), exit func() *Context) *Fiber {
	f := &Fiber{stack: st, entry: entry, exit: exit}
	f.ctx.wake = make(chan struct{}, 1)
	f.ctx.control = (*ControlRecord)(st.TopPointer(controlRecordSize))
	*f.ctx.control = ControlRecord{}
	f.ctx.start = func() {
		f.started = true
		go f.run()
	}
	return f
}

// Context returns the Context to switch to in order to run f.
func (f *Fiber) Context() *Context {
	return &f.ctx
}

// Stack returns the stack f was created with.
func (f *Fiber) Stack() *stack.Stack {
	return f.stack
}

// Started returns true once f was switched to at least once.
func (f *Fiber) Started() bool {
	return f.started
}

// Done returns true once entry has returned, panicked or was unwound.
func (f *Fiber) Done() bool {
	return f.done
}

// Resume switches from the running context to f.
func (f *Fiber) Resume(from *Context, payload uint32) Signal {
	if f.done {
		panic("BUG: resuming a finished fiber")
	}
	return from.SwitchTo(&f.ctx, Signal{Direction: DirectionResume, Payload: payload})
}

// Unwind terminates a suspended fiber by unwinding its goroutine. A fiber never started is simply marked as done.
func (f *Fiber) Unwind(from *Context) {
	if f.done {
		return
	}
	if !f.started {
		f.ctx.start = nil
		f.done = true
		return
	}
	f.unwinder = from
	if sig := from.SwitchTo(&f.ctx, Signal{Direction: directionUnwind}); sig.Direction != DirectionReturn {
		panic(fmt.Sprintf("BUG: unwinding fiber answered with %s", sig.Direction))
	}
}

// Drop checks that f can be discarded: it must either have never run or have finished.
func (f *Fiber) Drop() {
	if f.started && !f.done {
		panic("BUG: dropping a running or suspended fiber")
	}
	f.ctx.start = nil
}

func (f *Fiber) run() {
	defer f.finish()
	<-f.ctx.wake
	f.entry(f.ctx.received())
}

func (f *Fiber) finish() {
	r := recover()
	f.done = true

	var target *Context
	var sig Signal
	switch {
	case r == errUnwind:
		target, sig = f.unwinder, Signal{Direction: DirectionReturn}
	case r != nil:
		target, sig = f.exit(), Signal{Direction: DirectionPanic}
		target.panicValue = r
	default:
		target, sig = f.exit(), Signal{Direction: DirectionReturn}
	}
	transfer(target, sig)
}

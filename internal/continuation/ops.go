package continuation

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/wazerofx/internal/fiber"
	"github.com/tetratelabs/wazerofx/internal/fxapi"
	"github.com/tetratelabs/wazerofx/internal/stack"
	"github.com/tetratelabs/wazerofx/internal/wasmruntime"
)

// noFuncIndex is the funcIndex of continuations created from a Func rather than a registered function.
const noFuncIndex = ^uint32(0)

// HandlerClause is one entry of a resume table. Suspend clauses transfer to Label when the tag is suspended with;
// switch clauses only mark the resume as the target of switches with the tag.
type HandlerClause struct {
	Tag    uint32
	Switch bool
	Label  uint32
}

// ResumeResult is the outcome of Resume.
type ResumeResult struct {
	// Suspended is false if the continuation returned, in which case Values are its results.
	Suspended bool
	// Values are the results, or the payload of the suspend.
	Values []ValRaw
	// Handler is the index in the resume table of the clause which handled the suspend.
	Handler int
	Tag     uint32
	Label   uint32
	// Cont is the fresh reference to the suspended continuation.
	Cont Ref
}

// ContNew creates a continuation running fn once resumed. It returns stack.ErrPoolExhausted when a pooling
// allocator has no stack left, and ErrTooManyValues when argCount or resultCount is above 65536. Any other
// allocation failure is a trap.
func (s *Store) ContNew(fn Func, argCount, resultCount uint32) (Ref, error) {
	return s.contNew(fn, noFuncIndex, argCount, resultCount)
}

func (s *Store) contNew(fn Func, funcIndex, argCount, resultCount uint32) (Ref, error) {
	if s.closed {
		return Ref{}, ErrStoreClosed
	}
	if argCount > maximumVectorLength || resultCount > maximumVectorLength {
		return Ref{}, fmt.Errorf("%w: %d arguments and %d results exceed %d", ErrTooManyValues, argCount, resultCount, maximumVectorLength)
	}
	st, err := s.alloc.Allocate()
	if err != nil {
		if errors.Is(err, stack.ErrPoolExhausted) {
			return Ref{}, err
		}
		s.logger.Error("failed to allocate continuation stack", zap.Error(err))
		panic(wasmruntime.ErrRuntimeFiberAllocation)
	}

	s.nextID++
	c := &ContinuationObject{
		ParentChain: AbsentChain(),
		stack:       st,
		id:          s.nextID,
		fn:          fn,
		funcIndex:   funcIndex,
		argCount:    argCount,
		resultCount: resultCount,
	}
	c.Common.State = StateFresh
	c.Common.Limits.StackLimit = st.Limit()
	if n := max(argCount, resultCount); n > 0 {
		c.Args.ensureCapacity(&s.heap, uint64(n))
	}
	c.fiber = fiber.New(st, func(fiber.Signal) { s.run(c) }, func() *fiber.Context { return s.contextOf(c.ParentChain) })
	s.conts[c.id] = c

	if fxapi.ContinuationLoggingEnabled {
		s.logger.Debug("cont.new", zap.Uint32("id", c.id), zap.Uint32("args", argCount), zap.Uint32("results", resultCount))
	}
	return Ref{revision: c.Revision, obj: c}, nil
}

// run is the entry of the fiber of c. The results replace the arguments in Args.
func (s *Store) run(c *ContinuationObject) {
	args := c.Args.take()
	if uint32(len(args)) != c.argCount {
		panic(fmt.Sprintf("BUG: continuation %d expects %d arguments but got %d", c.id, c.argCount, len(args)))
	}
	results := c.fn(s, args)
	if uint32(len(results)) != c.resultCount {
		panic(fmt.Sprintf("BUG: continuation %d must return %d results but returned %d", c.id, c.resultCount, len(results)))
	}
	c.Args.append(&s.heap, results...)
}

// Bind consumes ref, appends args to the pending arguments of the continuation and returns the new reference.
func (s *Store) Bind(ref Ref, args []ValRaw) Ref {
	c := ref.consume()
	s.pushArgs(c, args)
	return Ref{revision: c.Revision, obj: c}
}

// pushArgs stores values for c: as arguments if it never ran, otherwise as the values its pending suspend or
// switch returns.
func (s *Store) pushArgs(c *ContinuationObject, vals []ValRaw) {
	if c.Common.State == StateFresh {
		c.Args.append(&s.heap, vals...)
	} else {
		c.Values.append(&s.heap, vals...)
	}
}

// Resume consumes ref and runs the continuation until it returns or suspends to one of the suspend clauses of
// table. Traps are raised as panics carrying a wasmruntime error.
func (s *Store) Resume(ref Ref, args []ValRaw, table []HandlerClause) ResumeResult {
	c := ref.consume()
	if st := c.Common.State; st != StateFresh && st != StateSuspended {
		panic(fmt.Sprintf("BUG: resuming continuation %d in state %s", c.id, st))
	}
	s.pushArgs(c, args)

	parentChain := s.root.activeChain
	parent := parentChain.Common()
	parentCtx := s.contextOf(parentChain)

	c.lastAncestor().ParentChain = parentChain
	c.LastAncestor = nil

	parent.Limits = s.root.limits
	s.root.limits = c.Common.Limits

	clauses := installHandlers(&s.heap, parent, table)
	parent.State = StateParent
	c.Common.State = StateRunning
	s.root.activeChain = ContinuationChain(c)

	if fxapi.ContinuationLoggingEnabled {
		s.logger.Debug("resume", zap.Uint32("id", c.id), zap.Int("handlers", len(table)))
	}
	if fxapi.StackChainValidationEnabled {
		s.validateChain()
	}

	sig := c.fiber.Resume(parentCtx, 0)

	active := s.root.activeChain.Continuation()
	if active == nil {
		panic("BUG: active stack chain is not a continuation after resume")
	}
	s.root.activeChain = parentChain
	s.root.limits = parent.Limits
	parent.State = StateRunning
	parent.Handlers.clear()
	parent.FirstSwitchHandlerIndex = 0

	switch sig.Direction {
	case fiber.DirectionReturn:
		results := active.Args.take()
		if err := s.release(active); err != nil {
			s.logger.Error("failed to release continuation", zap.Error(err))
		}
		if fxapi.StackChainValidationEnabled {
			s.validateChain()
		}
		return ResumeResult{Values: results}
	case fiber.DirectionSuspend:
		idx := clauses[sig.Payload]
		if fxapi.StackChainValidationEnabled {
			s.validateChain()
		}
		return ResumeResult{
			Suspended: true,
			Values:    s.payloads.take(),
			Handler:   idx,
			Tag:       table[idx].Tag,
			Label:     table[idx].Label,
			Cont:      Ref{revision: active.Revision, obj: active},
		}
	case fiber.DirectionPanic:
		r := parentCtx.TakePanic()
		s.trace = append(s.trace, fmt.Sprintf("cont[%d]", active.id))
		if err := s.release(active); err != nil {
			s.logger.Error("failed to release continuation", zap.Error(err))
		}
		panic(r)
	default:
		panic(fmt.Sprintf("BUG: resume answered with %s", sig.Direction))
	}
}

// installHandlers rebuilds the handler list of parent from table: suspend clauses first, then switch clauses.
// It returns the index in table of each installed handler.
func installHandlers(h *heap, parent *CommonStackInformation, table []HandlerClause) []int {
	parent.Handlers.clear()
	clauses := make([]int, 0, len(table))
	for i := range table {
		if !table[i].Switch {
			parent.Handlers.append(h, table[i].Tag)
			clauses = append(clauses, i)
		}
	}
	parent.FirstSwitchHandlerIndex = uint32(len(clauses))
	for i := range table {
		if table[i].Switch {
			parent.Handlers.append(h, table[i].Tag)
			clauses = append(clauses, i)
		}
	}
	return clauses
}

// searchHandler walks the chain up from the running continuation and returns the first stack with a handler for
// tag, the continuation right below it and the index of the handler.
func (s *Store) searchHandler(tag uint32, switchHandler bool) (handler StackChain, child *ContinuationObject, index uint32) {
	child = s.root.activeChain.Continuation()
	for {
		handler = child.ParentChain
		common := handler.Common()
		if switchHandler {
			for i, t := range common.switchHandlers() {
				if t == tag {
					return handler, child, common.FirstSwitchHandlerIndex + uint32(i)
				}
			}
		} else {
			for i, t := range common.suspendHandlers() {
				if t == tag {
					return handler, child, uint32(i)
				}
			}
		}
		if handler.IsMainStack() {
			panic(wasmruntime.ErrRuntimeUnhandledTag)
		}
		child = handler.Continuation()
	}
}

// detach suspends the running continuation active, cutting the chain between child and its parent.
func (s *Store) detach(active, child *ContinuationObject) {
	active.Common.State = StateSuspended
	active.Common.Limits = s.root.limits
	active.LastAncestor = child
	child.ParentChain = AbsentChain()
}

// Suspend transfers control with args to the innermost resume with a suspend clause for tag, and returns the
// values the continuation is later resumed with.
func (s *Store) Suspend(tag uint32, args []ValRaw) []ValRaw {
	active := s.root.activeChain.Continuation()
	if active == nil {
		panic(wasmruntime.ErrRuntimeSuspendOnMainStack)
	}
	handler, child, idx := s.searchHandler(tag, false)

	s.payloads.clear()
	s.payloads.append(&s.heap, args...)
	s.detach(active, child)

	if fxapi.ContinuationLoggingEnabled {
		s.logger.Debug("suspend", zap.Uint32("id", active.id), zap.Uint32("tag", tag), zap.Uint32("handler", idx))
	}

	sig := active.fiber.Context().SwitchTo(s.contextOf(handler), fiber.Signal{Direction: fiber.DirectionSuspend, Payload: idx})
	if sig.Direction != fiber.DirectionResume {
		panic(fmt.Sprintf("BUG: suspended continuation woken with %s", sig.Direction))
	}
	return active.Values.take()
}

// Switch suspends the running continuation and transfers control directly to target, which runs under the
// innermost resume with a switch clause for tag. target receives args followed by a reference to the switcher.
// It returns the values the switcher is later resumed or switched to with.
func (s *Store) Switch(tag uint32, target Ref, args []ValRaw) []ValRaw {
	active := s.root.activeChain.Continuation()
	if active == nil {
		panic(wasmruntime.ErrRuntimeSwitchOnMainStack)
	}
	t := target.consume()
	if st := t.Common.State; st != StateFresh && st != StateSuspended {
		panic(fmt.Sprintf("BUG: switching to continuation %d in state %s", t.id, st))
	}
	handler, child, _ := s.searchHandler(tag, true)

	s.detach(active, child)
	t.lastAncestor().ParentChain = handler
	t.LastAncestor = nil

	switcher := Ref{revision: active.Revision, obj: active}
	vals := make([]ValRaw, 0, len(args)+1)
	vals = append(append(vals, args...), RefToVal(switcher))
	s.pushArgs(t, vals)

	s.root.limits = t.Common.Limits
	t.Common.State = StateRunning
	s.root.activeChain = ContinuationChain(t)

	if fxapi.ContinuationLoggingEnabled {
		s.logger.Debug("switch", zap.Uint32("from", active.id), zap.Uint32("to", t.id), zap.Uint32("tag", tag))
	}
	if fxapi.StackChainValidationEnabled {
		s.validateChain()
	}

	sig := t.fiber.Resume(active.fiber.Context(), 0)
	if sig.Direction != fiber.DirectionResume {
		panic(fmt.Sprintf("BUG: switcher woken with %s", sig.Direction))
	}
	return active.Values.take()
}

// Drop consumes ref and frees the continuation without running it any further. A suspended continuation is
// unwound together with the ancestors suspended with it.
func (s *Store) Drop(ref Ref) {
	c := ref.consume()
	switch c.Common.State {
	case StateFresh:
		if err := s.release(c); err != nil {
			s.logger.Error("failed to release continuation", zap.Error(err))
		}
	case StateSuspended:
		if err := s.unwindSegment(c); err != nil {
			s.logger.Error("failed to release continuation", zap.Error(err))
		}
	default:
		panic(fmt.Sprintf("BUG: dropping continuation %d in state %s", c.id, c.Common.State))
	}
}

// unwindSegment unwinds and releases the suspended continuation c and its ancestors up to its last ancestor,
// innermost first.
func (s *Store) unwindSegment(c *ContinuationObject) (err error) {
	last := c.lastAncestor()
	from := s.contextOf(s.root.activeChain)
	for cur := c; ; {
		next := cur.ParentChain
		cur.fiber.Unwind(from)
		if e := s.release(cur); e != nil {
			err = e
		}
		if cur == last {
			return
		}
		cur = next.Continuation()
		if cur == nil {
			panic("BUG: suspended segment does not reach its last ancestor")
		}
	}
}

// Package wasmruntime contains internal symbols shared between the continuation runtime and the user facing API.
package wasmruntime

var (
	// ErrRuntimeUnreachable means "unreachable" instruction was executed by the program.
	ErrRuntimeUnreachable = New("unreachable")
	// ErrRuntimeUnhandledTag indicates that suspend or switch found no matching handler on the parent chain.
	ErrRuntimeUnhandledTag = New("unhandled tag")
	// ErrRuntimeContinuationAlreadyConsumed indicates that a continuation reference was resumed, bound, switched to
	// or dropped after a previous use.
	ErrRuntimeContinuationAlreadyConsumed = New("continuation already consumed")
	// ErrRuntimeNullContinuation indicates an operation on a null continuation reference.
	ErrRuntimeNullContinuation = New("null continuation reference")
	// ErrRuntimeSuspendOnMainStack indicates suspend was executed outside of any continuation.
	ErrRuntimeSuspendOnMainStack = New("suspend on main stack")
	// ErrRuntimeSwitchOnMainStack indicates switch was executed outside of any continuation.
	ErrRuntimeSwitchOnMainStack = New("switch on main stack")
	// ErrRuntimeFiberAllocation indicates that the stack or the value buffers of a continuation could not be allocated.
	ErrRuntimeFiberAllocation = New("fiber allocation failed")
	// ErrRuntimeInvalidBuiltin indicates a call to an unknown builtin or with the wrong number of arguments.
	ErrRuntimeInvalidBuiltin = New("invalid builtin call")
)

// Error is returned by the continuation runtime during the execution of Wasm functions, and they indicate that the
// Wasm runtime state is unrecoverable.
type Error struct {
	s string
}

func New(text string) *Error {
	return &Error{s: text}
}

func (e *Error) Error() string {
	return e.s
}

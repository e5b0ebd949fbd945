// Package wasmdebug contains utilities used to give consistent search keys between stack traces and error messages.
package wasmdebug

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/tetratelabs/wazerofx/internal/wasm"
	"github.com/tetratelabs/wazerofx/internal/wasmruntime"
)

// signature formats a frame like a Go function declaration, e.g. "cont[1](i32,i64) i64".
func signature(funcName string, paramTypes []wasm.ValueType, resultTypes []wasm.ValueType) string {
	var ret strings.Builder
	ret.WriteString(funcName)

	// Start params
	ret.WriteByte('(')
	paramCount := len(paramTypes)
	switch paramCount {
	case 0:
	case 1:
		ret.WriteString(wasm.ValueTypeName(paramTypes[0]))
	default:
		ret.WriteString(wasm.ValueTypeName(paramTypes[0]))
		for _, vt := range paramTypes[1:] {
			ret.WriteByte(',')
			ret.WriteString(wasm.ValueTypeName(vt))
		}
	}
	ret.WriteByte(')')

	// Start results
	resultCount := len(resultTypes)
	switch resultCount {
	case 0:
	case 1:
		ret.WriteByte(' ')
		ret.WriteString(wasm.ValueTypeName(resultTypes[0]))
	default: // As this is used for errors, don't panic if there are multiple returns, even if that's invalid!
		ret.WriteByte(' ')
		ret.WriteByte('(')
		ret.WriteString(wasm.ValueTypeName(resultTypes[0]))
		for _, vt := range resultTypes[1:] {
			ret.WriteByte(',')
			ret.WriteString(wasm.ValueTypeName(vt))
		}
		ret.WriteByte(')')
	}
	return ret.String()
}

// ErrorBuilder helps build consistent errors, particularly adding a stack trace.
//
// AddFrame should be called beginning at the frame that panicked until no more frames exist. Once done, call Format.
type ErrorBuilder interface {
	// AddFrame adds the next frame.
	//
	// * funcName should be formatted like a symbol, e.g. "cont[2].yield"
	// * paramTypes and resultTypes may be nil when the signature is unknown
	// * sources is the source code information for this frame and can be empty.
	AddFrame(funcName string, paramTypes, resultTypes []wasm.ValueType, sources []string)

	// FromRecovered returns an error with the wasm stack trace appended to it.
	FromRecovered(recovered interface{}) error
}

func NewErrorBuilder() ErrorBuilder {
	return &stackTrace{}
}

type stackTrace struct {
	// frameCount is the number of stack frame currently pushed into lines.
	frameCount int
	// lines contains the stack trace and possibly the inlined source code information.
	lines []string
}

// GoRuntimeErrorTracePrefix is the prefix coming before the Go runtime stack trace included in the face of runtime.Error.
// This is exported for testing purpose.
const GoRuntimeErrorTracePrefix = "Go runtime stack trace:"

func (s *stackTrace) FromRecovered(recovered interface{}) error {
	stack := strings.Join(s.lines, "\n\t")

	// If the error was internal, don't mention it was recovered.
	var wasmErr *wasmruntime.Error
	if err, ok := recovered.(error); ok && errors.As(err, &wasmErr) {
		return fmt.Errorf("wasm error: %w\nwasm stack trace:\n\t%s", err, stack)
	}

	// If we have a runtime.Error, something severe happened which should include the stack trace. This could be
	// a nil pointer from wasm or a host function.
	if runtimeErr, ok := recovered.(runtime.Error); ok {
		return fmt.Errorf("%w (recovered by wazerofx)\nwasm stack trace:\n\t%s\n\n%s\n%s",
			runtimeErr, stack, GoRuntimeErrorTracePrefix, debug.Stack())
	}

	// At this point we expect the error was from a host function that intentionally called panic.
	if runtimeErr, ok := recovered.(error); ok {
		return fmt.Errorf("%w (recovered by wazerofx)\nwasm stack trace:\n\t%s", runtimeErr, stack)
	} else {
		return fmt.Errorf("%v (recovered by wazerofx)\nwasm stack trace:\n\t%s", recovered, stack)
	}
}

// MaxFrames is the maximum number of frames to include in the stack trace.
const MaxFrames = 30

// AddFrame implements ErrorBuilder.AddFrame
func (s *stackTrace) AddFrame(funcName string, paramTypes, resultTypes []wasm.ValueType, sources []string) {
	if s.frameCount == MaxFrames {
		return
	}
	s.frameCount++
	sig := signature(funcName, paramTypes, resultTypes)
	s.lines = append(s.lines, sig)
	for _, source := range sources {
		s.lines = append(s.lines, "\t"+source)
	}
	if s.frameCount == MaxFrames {
		s.lines = append(s.lines, "... maybe followed by omitted frames")
	}
}

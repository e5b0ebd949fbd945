package continuation

import (
	"fmt"
	"unsafe"

	"github.com/tetratelabs/wazerofx/internal/fxapi"
)

func init() {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		if err := checkLayout(); err != nil {
			panic("BUG: " + err.Error())
		}
	}
}

// checkLayout verifies that the Go structures match the offsets generated code is compiled with.
func checkLayout() error {
	var (
		limits StackLimits
		vec    vector[ValRaw]
		chain  StackChain
		common CommonStackInformation
		co     ContinuationObject
		root   executionRoot
	)
	for _, c := range []struct {
		name     string
		got      uintptr
		expected fxapi.Offset
	}{
		{"StackLimits.StackLimit", unsafe.Offsetof(limits.StackLimit), fxapi.StackLimitsOffsets.StackLimit},
		{"StackLimits.LastWasmExitFP", unsafe.Offsetof(limits.LastWasmExitFP), fxapi.StackLimitsOffsets.LastWasmExitFP},
		{"StackLimits.LastWasmExitPC", unsafe.Offsetof(limits.LastWasmExitPC), fxapi.StackLimitsOffsets.LastWasmExitPC},
		{"StackLimits.LastWasmEntrySP", unsafe.Offsetof(limits.LastWasmEntrySP), fxapi.StackLimitsOffsets.LastWasmEntrySP},
		{"sizeof(StackLimits)", unsafe.Sizeof(limits), fxapi.StackLimitsOffsets.Size},

		{"vector.length", unsafe.Offsetof(vec.length), fxapi.VectorOffsets.Length},
		{"vector.capacity", unsafe.Offsetof(vec.capacity), fxapi.VectorOffsets.Capacity},
		{"vector.data", unsafe.Offsetof(vec.data), fxapi.VectorOffsets.Data},
		{"sizeof(vector)", unsafe.Sizeof(vec), fxapi.VectorOffsets.Size},

		{"StackChain.kind", unsafe.Offsetof(chain.kind), fxapi.StackChainOffsets.Discriminant},
		{"StackChain.ptr", unsafe.Offsetof(chain.ptr), fxapi.StackChainOffsets.Payload},
		{"sizeof(StackChain)", unsafe.Sizeof(chain), fxapi.StackChainOffsets.Size},

		{"CommonStackInformation.Limits", unsafe.Offsetof(common.Limits), fxapi.CommonStackInformationOffsets.Limits},
		{"CommonStackInformation.State", unsafe.Offsetof(common.State), fxapi.CommonStackInformationOffsets.State},
		{"CommonStackInformation.FirstSwitchHandlerIndex", unsafe.Offsetof(common.FirstSwitchHandlerIndex), fxapi.CommonStackInformationOffsets.FirstSwitchHandlerIndex},
		{"CommonStackInformation.Handlers", unsafe.Offsetof(common.Handlers), fxapi.CommonStackInformationOffsets.Handlers},
		{"sizeof(CommonStackInformation)", unsafe.Sizeof(common), fxapi.CommonStackInformationOffsets.Size},

		{"ContinuationObject.Common", unsafe.Offsetof(co.Common), fxapi.ContinuationObjectOffsets.Common},
		{"ContinuationObject.ParentChain", unsafe.Offsetof(co.ParentChain), fxapi.ContinuationObjectOffsets.ParentChain},
		{"ContinuationObject.LastAncestor", unsafe.Offsetof(co.LastAncestor), fxapi.ContinuationObjectOffsets.LastAncestor},
		{"ContinuationObject.Revision", unsafe.Offsetof(co.Revision), fxapi.ContinuationObjectOffsets.Revision},
		{"ContinuationObject.Args", unsafe.Offsetof(co.Args), fxapi.ContinuationObjectOffsets.Args},
		{"ContinuationObject.Values", unsafe.Offsetof(co.Values), fxapi.ContinuationObjectOffsets.Values},

		{"executionRoot.limits", unsafe.Offsetof(root.limits), fxapi.ExecutionRootOffsets.Limits},
		{"executionRoot.activeChain", unsafe.Offsetof(root.activeChain), fxapi.ExecutionRootOffsets.ActiveChain},
		{"sizeof(executionRoot)", unsafe.Sizeof(root), fxapi.ExecutionRootOffsets.Size},
	} {
		if int64(c.got) != c.expected.I64() {
			return fmt.Errorf("%s is at %d but generated code expects %d", c.name, c.got, c.expected)
		}
	}
	return nil
}

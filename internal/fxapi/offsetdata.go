package fxapi

// Offset represents an offset of a field of a struct.
type Offset int32

// I64 encodes an Offset as int64 for convenience.
func (o Offset) I64() int64 {
	return int64(o)
}

// StackLimitsOffsets are the offsets into continuation.StackLimits, read and written by generated code on every
// stack switch.
var StackLimitsOffsets = StackLimitsOffsetData{
	StackLimit:      0,
	LastWasmExitFP:  8,
	LastWasmExitPC:  16,
	LastWasmEntrySP: 24,
	Size:            32,
}

// StackLimitsOffsetData describes the layout of continuation.StackLimits.
type StackLimitsOffsetData struct {
	// StackLimit is an offset of `StackLimit` field.
	StackLimit Offset
	// LastWasmExitFP is an offset of `LastWasmExitFP` field.
	LastWasmExitFP Offset
	// LastWasmExitPC is an offset of `LastWasmExitPC` field.
	LastWasmExitPC Offset
	// LastWasmEntrySP is an offset of `LastWasmEntrySP` field.
	LastWasmEntrySP Offset
	Size            Offset
}

// VectorOffsets are the offsets into the growable vectors used for payloads and handler lists.
var VectorOffsets = VectorOffsetData{
	Length:   0,
	Capacity: 4,
	Data:     8,
	Size:     16,
}

// VectorOffsetData describes the layout of a length/capacity/data vector.
type VectorOffsetData struct {
	Length   Offset
	Capacity Offset
	Data     Offset
	Size     Offset
}

// StackChainOffsets are the offsets into continuation.StackChain. The discriminant is stored as a full word so that
// the payload is pointer aligned.
var StackChainOffsets = StackChainOffsetData{
	Discriminant: 0,
	Payload:      8,
	Size:         16,
}

// StackChainOffsetData describes the layout of continuation.StackChain.
type StackChainOffsetData struct {
	Discriminant Offset
	Payload      Offset
	Size         Offset
}

// StackChain discriminants.
const (
	StackChainAbsent       = 0
	StackChainMainStack    = 1
	StackChainContinuation = 2
)

// CommonStackInformationOffsets are the offsets into continuation.CommonStackInformation.
var CommonStackInformationOffsets = CommonStackInformationOffsetData{
	Limits:                  0,
	State:                   32,
	FirstSwitchHandlerIndex: 36,
	Handlers:                40,
	Size:                    56,
}

// CommonStackInformationOffsetData describes the layout of continuation.CommonStackInformation.
type CommonStackInformationOffsetData struct {
	Limits                  Offset
	State                   Offset
	FirstSwitchHandlerIndex Offset
	// Handlers is an offset of the handler list; a vector of tag identifiers.
	Handlers Offset
	Size     Offset
}

// ContinuationObjectOffsets are the offsets into continuation.ContinuationObject. Only the prefix shared with
// generated code is described; the Go-only tail is free to change.
var ContinuationObjectOffsets = ContinuationObjectOffsetData{
	Common:       0,
	ParentChain:  56,
	LastAncestor: 72,
	Revision:     80,
	Args:         88,
	Values:       104,
}

// ContinuationObjectOffsetData describes the layout of continuation.ContinuationObject.
type ContinuationObjectOffsetData struct {
	Common       Offset
	ParentChain  Offset
	LastAncestor Offset
	Revision     Offset
	Args         Offset
	Values       Offset
}

// ExecutionRootOffsets are the offsets into the per-store root record holding the main stack's limits and the
// currently active stack chain.
var ExecutionRootOffsets = ExecutionRootOffsetData{
	Limits:      0,
	ActiveChain: 32,
	Size:        48,
}

// ExecutionRootOffsetData describes the layout of the execution root record.
type ExecutionRootOffsetData struct {
	Limits      Offset
	ActiveChain Offset
	Size        Offset
}

// ControlRecordOffsets are the offsets into the record stored at the top of every fiber stack, through which a
// switch communicates its direction and payload to the resumed side.
var ControlRecordOffsets = ControlRecordOffsetData{
	Direction: 0,
	Payload:   4,
	Switches:  8,
	Size:      16,
}

// ControlRecordOffsetData describes the layout of fiber.ControlRecord.
type ControlRecordOffsetData struct {
	Direction Offset
	Payload   Offset
	// Switches counts the switches into the owning fiber.
	Switches Offset
	Size     Offset
}

package fxapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOffset(t *testing.T) {
	o := Offset(-8)
	require.Equal(t, int64(-8), o.I64())
}

func TestOffsetData_Consistency(t *testing.T) {
	// Nested records must start where their enclosing layouts say they do.
	require.Equal(t, StackLimitsOffsets.Size, CommonStackInformationOffsets.State)
	require.Equal(t, CommonStackInformationOffsets.Handlers+VectorOffsets.Size, CommonStackInformationOffsets.Size)
	require.Equal(t, CommonStackInformationOffsets.Size, ContinuationObjectOffsets.ParentChain)
	require.Equal(t, ContinuationObjectOffsets.ParentChain+StackChainOffsets.Size, ContinuationObjectOffsets.LastAncestor)
	require.Equal(t, ContinuationObjectOffsets.Args+VectorOffsets.Size, ContinuationObjectOffsets.Values)
	require.Equal(t, StackLimitsOffsets.Size, ExecutionRootOffsets.ActiveChain)
	require.Equal(t, ExecutionRootOffsets.ActiveChain+StackChainOffsets.Size, ExecutionRootOffsets.Size)
}

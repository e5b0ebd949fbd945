package stack

import (
	"runtime/debug"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOnDemand(t *testing.T) {
	a := NewOnDemand(10000, zaptest.NewLogger(t))
	defer a.Close()

	require.Equal(t, roundUpToPage(10000), a.StackSize())

	s, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, a.StackSize(), s.Size())
	require.Equal(t, uintptr(s.Size()), s.Top()-s.Limit())

	// The whole usable region is writable.
	usable := s.usable()
	usable[0], usable[len(usable)-1] = 1, 2
	require.Equal(t, byte(2), *(*byte)(s.TopPointer(1)))

	require.NoError(t, a.Deallocate(s))
}

func TestStack_TopPointer_Panics(t *testing.T) {
	a := NewOnDemand(pageSize, nil)
	defer a.Close()
	s, err := a.Allocate()
	require.NoError(t, err)
	defer a.Deallocate(s)

	require.PanicsWithValue(t, "BUG: offset 0 out of stack of size "+strconv.Itoa(pageSize), func() { s.TopPointer(0) })
}

func TestPooling(t *testing.T) {
	a, err := NewPooling(pageSize, 2, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	s1, err := a.Allocate()
	require.NoError(t, err)
	s2, err := a.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, s1.Top(), s2.Top())

	_, err = a.Allocate()
	require.ErrorIs(t, err, ErrPoolExhausted)

	top := s2.Top()
	require.NoError(t, a.Deallocate(s2))

	// Most recently returned first.
	s3, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, top, s3.Top())

	require.NoError(t, a.Deallocate(s1))
	require.NoError(t, a.Deallocate(s3))
}

func TestPooling_Zero(t *testing.T) {
	a, err := NewPooling(pageSize, 1, true, nil)
	require.NoError(t, err)
	defer a.Close()

	s, err := a.Allocate()
	require.NoError(t, err)
	*(*byte)(s.TopPointer(8)) = 0xff
	require.NoError(t, a.Deallocate(s))

	s, err = a.Allocate()
	require.NoError(t, err)
	require.Equal(t, byte(0), *(*byte)(s.TopPointer(8)))
	require.NoError(t, a.Deallocate(s))
}

func TestNewPooling_Invalid(t *testing.T) {
	_, err := NewPooling(pageSize, 0, false, nil)
	require.EqualError(t, err, "invalid stack pool size 0")
}

func TestPooling_CloseTwice(t *testing.T) {
	a, err := NewPooling(pageSize, 1, false, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestStack_GuardPage(t *testing.T) {
	if !GuardPagesSupported {
		t.Skip("stacks have no guard page on this platform")
	}
	// Faults at a non-nil address become recoverable panics on this goroutine.
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))

	pool, err := NewPooling(pageSize, 2, false, nil)
	require.NoError(t, err)
	defer pool.Close()

	for _, a := range []Allocator{NewOnDemand(pageSize, nil), pool} {
		s1, err := a.Allocate()
		require.NoError(t, err)
		s2, err := a.Allocate()
		require.NoError(t, err)

		for _, s := range []*Stack{s1, s2} {
			s.usable()[0] = 1
			require.Panics(t, func() { s.mem[s.guard-1] = 1 })
		}
		require.NoError(t, a.Deallocate(s1))
		require.NoError(t, a.Deallocate(s2))
	}
}

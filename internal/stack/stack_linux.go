package stack

import "golang.org/x/sys/unix"

// Reservations are only committed when touched.
const mapFlags = unix.MAP_NORESERVE | unix.MAP_STACK

// zeroStack drops the pages so that the next touch faults in zeroed ones.
func zeroStack(b []byte) error {
	return unix.Madvise(b, unix.MADV_DONTNEED)
}

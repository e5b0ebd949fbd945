//go:build unix

package stack

import "golang.org/x/sys/unix"

// GuardPagesSupported is true as stacks are mapped and their guard pages protected.
const GuardPagesSupported = true

func mmapStack(size int) ([]byte, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE|mapFlags)
}

func protectGuard(b []byte) error {
	return unix.Mprotect(b, unix.PROT_NONE)
}

func munmapStack(b []byte) error {
	return unix.Munmap(b)
}

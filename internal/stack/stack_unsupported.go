//go:build !unix

package stack

// GuardPagesSupported is false: without mmap, stacks live on the Go heap and have no guard page protection.
const GuardPagesSupported = false

func mmapStack(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func protectGuard([]byte) error {
	return nil
}

func munmapStack([]byte) error {
	return nil
}

func zeroStack(b []byte) error {
	clear(b)
	return nil
}

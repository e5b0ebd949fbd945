//go:build unix && !linux

package stack

const mapFlags = 0

func zeroStack(b []byte) error {
	clear(b)
	return nil
}

package wazerofx

import (
	"os"

	"go.uber.org/zap"

	"github.com/tetratelabs/wazerofx/internal/stack"
)

// DefaultStackSize is the usable size of a continuation stack unless RuntimeConfig.WithStackSize says otherwise.
const DefaultStackSize = 2 << 20

// GuardPagesSupported is true when continuation stacks are mapped with an inaccessible guard page below them, so
// overflowing one faults instead of corrupting memory. Elsewhere stacks live on the Go heap.
const GuardPagesSupported = stack.GuardPagesSupported

// RuntimeConfig controls runtime behavior, with the default implementation as NewRuntimeConfig.
//
// RuntimeConfig is immutable: every WithXxx returns a copy.
type RuntimeConfig struct {
	stackSize          int
	stackPoolSize      int
	stackZeroing       bool
	compilationWorkers int
	debugInfo          bool
	logger             *zap.Logger
}

var defaultConfig = &RuntimeConfig{
	stackSize: DefaultStackSize,
	logger:    zap.NewNop(),
}

// NewRuntimeConfig returns the default configuration: on-demand stacks of DefaultStackSize, one compilation worker
// per CPU, no debug info and no logging.
func NewRuntimeConfig() *RuntimeConfig {
	return defaultConfig.clone()
}

// clone ensures all fields are copied even if nil.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithStackSize sets the usable size of every continuation stack. It is rounded up to the page size. Zero restores
// DefaultStackSize.
func (c *RuntimeConfig) WithStackSize(size uint64) *RuntimeConfig {
	ret := c.clone()
	if size == 0 {
		size = DefaultStackSize
	}
	page := uint64(os.Getpagesize())
	ret.stackSize = int((size + page - 1) &^ (page - 1))
	return ret
}

// WithPoolingStackAllocator reserves count stacks up front and recycles them instead of mapping each continuation
// stack separately. Creating more than count live continuations in one Store fails. Zero or less restores the
// on-demand allocator.
func (c *RuntimeConfig) WithPoolingStackAllocator(count int) *RuntimeConfig {
	ret := c.clone()
	if count < 0 {
		count = 0
	}
	ret.stackPoolSize = count
	return ret
}

// WithStackZeroing clears pooled stacks when they are returned, so a continuation never observes the memory of a
// previous one. It has no effect on on-demand stacks, which are always fresh.
func (c *RuntimeConfig) WithStackZeroing(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.stackZeroing = enabled
	return ret
}

// WithCompilationWorkers bounds how many functions are compiled in parallel. Zero or less means
// runtime.GOMAXPROCS(0).
func (c *RuntimeConfig) WithCompilationWorkers(n int) *RuntimeConfig {
	ret := c.clone()
	if n < 0 {
		n = 0
	}
	ret.compilationWorkers = n
	return ret
}

// WithDebugInfo emits DWARF for compiled modules. Components never carry debug info as the DWARF of several modules
// cannot be merged into one object.
func (c *RuntimeConfig) WithDebugInfo(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.debugInfo = enabled
	return ret
}

// WithLogger sets the logger of the runtime and of every Store it creates. Defaults to zap.NewNop if nil.
func (c *RuntimeConfig) WithLogger(logger *zap.Logger) *RuntimeConfig {
	if logger == nil {
		logger = zap.NewNop()
	}
	ret := c.clone()
	ret.logger = logger
	return ret
}

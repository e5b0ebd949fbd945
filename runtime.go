package wazerofx

import (
	"bytes"
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tetratelabs/wazerofx/internal/backend/amd64"
	"github.com/tetratelabs/wazerofx/internal/compiler"
	"github.com/tetratelabs/wazerofx/internal/compiler/object"
	"github.com/tetratelabs/wazerofx/internal/continuation"
	"github.com/tetratelabs/wazerofx/internal/stack"
	"github.com/tetratelabs/wazerofx/internal/wasm"
	"github.com/tetratelabs/wazerofx/internal/wasm/binary"
)

// Store runs continuations. See NewStore on Runtime.
type Store = continuation.Store

// Func is the body of a continuation or of a Store.Call.
type Func = continuation.Func

// ValRaw is an untyped value slot.
type ValRaw = continuation.ValRaw

// ErrRuntimeClosed is returned when using a Runtime after Close.
var ErrRuntimeClosed = errors.New("runtime closed")

// Runtime compiles WebAssembly modules and components to relocatable amd64 objects and creates the Stores that run
// stack switching continuations.
//
// Ex.
//
//	r := wazerofx.NewRuntime()
//	defer r.Close(ctx)
//	compiled, _ := r.CompileModule(ctx, source)
//	_ = os.WriteFile("module.o", compiled.Object(), 0o644)
type Runtime interface {
	// CompileModule decodes, compiles and links the WebAssembly binary source.
	CompileModule(ctx context.Context, source []byte) (*CompiledModule, error)

	// CompileComponent compiles the core modules of c together with its trampolines into one object.
	CompileComponent(ctx context.Context, c *Component) (*CompiledModule, error)

	// NewStore returns a Store with its own stack allocator configured by RuntimeConfig. Closing the Store releases
	// its stacks, including a pooled reservation. The Store is closed by Runtime.Close if not closed before.
	NewStore(ctx context.Context) (*Store, error)

	// Close closes every Store created by this Runtime and releases their stacks.
	Close(ctx context.Context) error
}

// NewRuntime returns a runtime with the default configuration.
func NewRuntime() Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a runtime with the given configuration.
func NewRuntimeWithConfig(config *RuntimeConfig) Runtime {
	return &runtime{config: config.clone(), logger: config.logger}
}

// runtime allows decoupling of public interfaces from internal representation.
type runtime struct {
	config *RuntimeConfig
	logger *zap.Logger

	mux sync.Mutex
	// stores own their allocators.
	stores []*Store
	closed bool
}

// CompileModule implements Runtime.CompileModule
func (r *runtime) CompileModule(ctx context.Context, source []byte) (*CompiledModule, error) {
	if source == nil {
		return nil, errors.New("source == nil")
	}
	if !bytes.HasPrefix(source, binary.Magic) {
		return nil, errors.New("invalid binary")
	}

	m, err := binary.DecodeModule(source)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	types := wasm.NewTypes()
	t, err := wasm.Translate(types, 0, m)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	return r.compile(ctx, types, compiler.ForModule(types, t), []*wasm.ModuleTranslation{t}, r.config.debugInfo)
}

// CompileComponent implements Runtime.CompileComponent
func (r *runtime) CompileComponent(ctx context.Context, c *Component) (*CompiledModule, error) {
	types := wasm.NewTypes()
	ct, err := c.translate(types)
	if err != nil {
		return nil, err
	}
	inputs, err := compiler.ForComponent(types, ct)
	if err != nil {
		return nil, err
	}
	return r.compile(ctx, types, inputs, ct.Modules, r.config.debugInfo && len(ct.Modules) == 1)
}

func (r *runtime) compile(
	ctx context.Context,
	types *wasm.Types,
	inputs *compiler.CompileInputs,
	translations []*wasm.ModuleTranslation,
	debugInfo bool,
) (*CompiledModule, error) {
	if r.isClosed() {
		return nil, ErrRuntimeClosed
	}
	c := amd64.New()
	unlinked, err := inputs.Compile(ctx, c, r.config.compilationWorkers, r.logger)
	if err != nil {
		return nil, err
	}

	funcs, indices := unlinked.PreLink()
	obj := object.NewBuilder(elf.EM_X86_64)
	artifacts, err := indices.LinkAndAppendCode(obj, c, translations, funcs, compiler.LinkOptions{
		DebugInfo: debugInfo,
		Logger:    r.logger,
	})
	if err != nil {
		return nil, err
	}
	if err = artifacts.AppendTo(obj); err != nil {
		return nil, err
	}

	r.logger.Debug("compiled",
		zap.Int("signatures", types.Len()),
		zap.Int("functions", len(funcs)),
		zap.Int("text_bytes", len(obj.Text())))
	return &CompiledModule{object: obj.Bytes(), symbols: obj.Symbols(), artifacts: artifacts}, nil
}

// NewStore implements Runtime.NewStore
func (r *runtime) NewStore(context.Context) (*Store, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return nil, ErrRuntimeClosed
	}

	var alloc stack.Allocator
	if n := r.config.stackPoolSize; n > 0 {
		var err error
		if alloc, err = stack.NewPooling(r.config.stackSize, n, r.config.stackZeroing, r.logger); err != nil {
			return nil, err
		}
	} else {
		alloc = stack.NewOnDemand(r.config.stackSize, r.logger)
	}
	s := continuation.NewStore(alloc, r.logger)
	s.OwnAllocator()
	r.stores = append(r.stores, s)
	return s, nil
}

// Close implements Runtime.Close
func (r *runtime) Close(context.Context) (err error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, s := range r.stores {
		err = multierr.Append(err, s.Close())
	}
	r.stores = nil
	return
}

func (r *runtime) isClosed() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.closed
}

// CompiledModule is a linked relocatable object plus the description of what it contains.
type CompiledModule struct {
	object    []byte
	symbols   []object.Symbol
	artifacts *compiler.Artifacts
}

// Object returns the ELF relocatable object.
func (m *CompiledModule) Object() []byte {
	return m.object
}

// Symbol is a function defined in the object.
type Symbol struct {
	Name   string
	Offset uint64
	Size   uint64
}

// Symbols returns every function of the object ordered by offset.
func (m *CompiledModule) Symbols() []Symbol {
	ret := make([]Symbol, len(m.symbols))
	for i, s := range m.symbols {
		ret[i] = Symbol{Name: s.Name, Offset: s.Offset, Size: s.Size}
	}
	// Symbols are defined in link order, which is also offset order.
	return ret
}

// Manifest returns the YAML document describing where each function, trampoline and component entry point landed.
// It is also embedded in the object as a section.
func (m *CompiledModule) Manifest() ([]byte, error) {
	return m.artifacts.Marshal()
}

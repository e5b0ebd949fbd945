package compiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tetratelabs/wazerofx/internal/fxapi"
)

// UnlinkedCompileOutputs are compile outputs bucketed by kind, each bucket sorted by key.
type UnlinkedCompileOutputs struct {
	outputs [kindEnd][]CompileOutput
}

// Compile runs every unit on up to workers goroutines, or runtime.GOMAXPROCS(0) if workers is not positive.
// The first failure cancels the units that have not started yet and is returned without any output.
func (ci *CompileInputs) Compile(ctx context.Context, c Compiler, workers int, logger *zap.Logger) (*UnlinkedCompileOutputs, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	outputs := make([]CompileOutput, len(ci.inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range ci.inputs {
		i := i
		input := &ci.inputs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				// Compilation canceled!
				return err
			}
			out, err := input.run(c)
			if err != nil {
				return err
			}
			if out.Key != input.key {
				panic(fmt.Sprintf("BUG: unit %s produced output %s", input.key, out.Key))
			}
			if (out.Code == nil) == (out.AllCall == nil) {
				panic(fmt.Sprintf("BUG: unit %s must produce exactly one of Code and AllCall", input.key))
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	u := &UnlinkedCompileOutputs{}
	for i := range outputs {
		kind := outputs[i].Key.Kind()
		u.outputs[kind] = append(u.outputs[kind], outputs[i])
	}
	for kind := range u.outputs {
		bucket := u.outputs[kind]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Key.Less(bucket[j].Key) })
	}
	u.validate()

	logger.Debug("compiled units",
		zap.Int("units", len(outputs)),
		zap.Int("workers", workers),
		zap.Duration("elapsed", time.Since(start)))
	return u, nil
}

// Outputs returns the sorted outputs of the kind.
func (u *UnlinkedCompileOutputs) Outputs(kind Kind) []CompileOutput {
	return u.outputs[kind]
}

// Len returns the number of outputs across all kinds.
func (u *UnlinkedCompileOutputs) Len() (n int) {
	for _, bucket := range u.outputs {
		n += len(bucket)
	}
	return
}

func (u *UnlinkedCompileOutputs) validate() {
	if !fxapi.FunctionIndicesValidationEnabled {
		return
	}
	for kind, bucket := range u.outputs {
		for i := range bucket {
			if bucket[i].Key.Kind() != Kind(kind) {
				panic(fmt.Sprintf("BUG: %s in the bucket of %s", bucket[i].Key, Kind(kind)))
			}
			if i > 0 && !bucket[i-1].Key.Less(bucket[i].Key) {
				panic(fmt.Sprintf("BUG: outputs not strictly sorted: %s then %s", bucket[i-1].Key, bucket[i].Key))
			}
		}
	}
}

package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tetratelabs/wazerofx"
)

type cmdCompile struct {
	gs *globalState

	workers   int
	debugInfo bool
	manifest  bool
	output    string
}

func (c *cmdCompile) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.IntVar(&c.workers, "workers", 0, "number of functions compiled in parallel, 0 for one per CPU")
	flags.BoolVar(&c.debugInfo, "debug-info", false, "emit DWARF for the compiled functions")
	flags.BoolVar(&c.manifest, "manifest", false, "print the artifacts manifest after the function table")
	flags.StringVarP(&c.output, "output", "o", "", "object file to write, defaults to the input with the .o extension")
	return flags
}

func (c *cmdCompile) run(cmd *cobra.Command, args []string) error {
	wasmPath := args[0]
	source, err := afero.ReadFile(c.gs.fs, wasmPath)
	if err != nil {
		return fmt.Errorf("read wasm binary: %w", err)
	}

	logger := c.gs.logger()
	defer logger.Sync() //nolint:errcheck

	config := wazerofx.NewRuntimeConfig().
		WithCompilationWorkers(c.workers).
		WithDebugInfo(c.debugInfo).
		WithLogger(logger)
	ctx := cmd.Context()
	r := wazerofx.NewRuntimeWithConfig(config)
	defer r.Close(ctx) //nolint:errcheck

	compiled, err := r.CompileModule(ctx, source)
	if err != nil {
		return fmt.Errorf("compile %s: %w", wasmPath, err)
	}

	output := c.output
	if output == "" {
		output = strings.TrimSuffix(wasmPath, filepath.Ext(wasmPath)) + ".o"
	}
	if err = afero.WriteFile(c.gs.fs, output, compiled.Object(), 0o644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	logger.Info("wrote object", zap.String("path", output), zap.Int("bytes", len(compiled.Object())))

	if err = printFunctionTable(c.gs, compiled.Symbols()); err != nil {
		return err
	}
	if !c.manifest {
		return nil
	}
	manifest, err := compiled.Manifest()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err = c.gs.stdOut.Write(manifest)
	return err
}

func printFunctionTable(gs *globalState, symbols []wazerofx.Symbol) error {
	w := tabwriter.NewWriter(gs.stdOut, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSTART\tLENGTH")
	for _, s := range symbols {
		fmt.Fprintf(w, "%s\t%#x\t%d\n", s.Name, s.Offset, s.Size)
	}
	return w.Flush()
}

func getCmdCompile(gs *globalState) *cobra.Command {
	c := &cmdCompile{gs: gs}
	cmd := &cobra.Command{
		Use:   "compile [flags] <file.wasm>",
		Short: "Compile a WebAssembly binary to an ELF relocatable object",
		Long: `Compile a WebAssembly binary to an ELF relocatable object.

The object defines one symbol per function and trampoline, and embeds the
artifacts manifest describing where each of them landed.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}
	cmd.Flags().AddFlagSet(c.flagSet())
	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tetratelabs/wazerofx/internal/version"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer, exit func(code int)) {
	gs := &globalState{
		ctx:    context.Background(),
		fs:     afero.NewOsFs(),
		stdOut: stdOut,
		stdErr: stdErr,
	}
	exit(execute(gs, os.Args[1:]))
}

// globalState is what commands may touch outside of their flags.
type globalState struct {
	ctx            context.Context
	fs             afero.Fs
	stdOut, stdErr io.Writer
	verbose        bool
}

// logger returns a development logger writing to stderr when --verbose is set.
func (gs *globalState) logger() *zap.Logger {
	if !gs.verbose {
		return zap.NewNop()
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(gs.stdErr),
		zap.DebugLevel,
	)
	return zap.New(core, zap.Development())
}

func newRootCmd(gs *globalState) *cobra.Command {
	root := &cobra.Command{
		Use:           "wazerofx",
		Short:         "Compile WebAssembly to relocatable amd64 objects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(gs.stdOut)
	root.SetErr(gs.stdErr)
	root.PersistentFlags().BoolVarP(&gs.verbose, "verbose", "v", false, "log compilation details to stderr")

	root.AddCommand(getCmdCompile(gs), getCmdVersion(gs))
	return root
}

// execute runs the command line and returns the process exit code.
func execute(gs *globalState, args []string) int {
	root := newRootCmd(gs)
	root.SetArgs(args)
	if err := root.ExecuteContext(gs.ctx); err != nil {
		fmt.Fprintf(gs.stdErr, "error: %v\n", err)
		return 1
	}
	return 0
}

func getCmdVersion(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the wazerofx version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(gs.stdOut, version.GetWazeroFXVersion())
			return err
		},
	}
}

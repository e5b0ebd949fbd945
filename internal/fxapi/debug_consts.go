package fxapi

// These consts are used various places in the continuation runtime and the compile pipeline.
// Instead of defining them in each file, we define them here so that we can quickly iterate on
// debugging without spending "where do we have debug logging?" time.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	ContinuationLoggingEnabled = false
	LinkLoggingEnabled         = false
)

// ----- Output prints -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	// ContinuationDebugPrintEnabled makes the tc_print_* builtins write to the store's debug writer.
	// When disabled, those builtins are accepted and ignored.
	ContinuationDebugPrintEnabled = false
)

// ----- Validations -----
// These consts must be enabled by default until we reach the point where we can disable them (e.g. multiple days of fuzzing passes).

const (
	StackChainValidationEnabled      = true
	FunctionIndicesValidationEnabled = true
)

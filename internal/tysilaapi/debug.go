package tysilaapi

// These switches collect the debugging knobs of the pipeline in one place.
// Validation is on by default in tests; the driver sets it from the config.

// Debug holds the per-compilation debug switches.
type Debug struct {
	// ValidateSSA runs the SSA dominance check after construction.
	ValidateSSA bool
	// ValidateRegAlloc checks that interfering nodes got distinct colors.
	ValidateRegAlloc bool
	// PrintPasses logs the listing of the graph after every pass at debug level.
	PrintPasses bool
}

// DebugForTesting is the configuration used by package tests.
var DebugForTesting = Debug{ValidateSSA: true, ValidateRegAlloc: true}

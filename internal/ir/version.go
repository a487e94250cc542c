package ir

// Version constants for the IR schema and runtime.
const (
	// IRVersion is the IR schema version. Bump when the hashed plan shape changes.
	IRVersion = "1"

	// EngineVersion is the DIEL runtime version.
	EngineVersion = "0.1.0"
)

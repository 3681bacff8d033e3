package ir

// Version constants for the compiled recipe format and the engine.
const (
	// IRVersion is the compiled program schema version.
	IRVersion = "1"

	// EngineVersion is the reduce engine version. It is mixed into stack
	// and display identities so that incompatible releases do not share
	// cached stacks.
	EngineVersion = "0.1.0"
)

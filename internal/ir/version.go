package ir

const (
	// FingerprintVersion is bumped whenever the query encoding changes.
	FingerprintVersion = "1"

	// EngineVersion is the relq engine version.
	EngineVersion = "0.1.0"
)

package domain

// EngineKind identifies one of the two orchestrated native engines.
type EngineKind string

const (
	EngineSpeech        EngineKind = "speech"
	EngineLanguageModel EngineKind = "language-model"
)

// Valid reports whether the kind names a known engine.
func (k EngineKind) Valid() bool {
	return k == EngineSpeech || k == EngineLanguageModel
}

// EngineState tracks the lifecycle of a single engine client.
type EngineState string

const (
	EngineStateUninitialized EngineState = "uninitialized"
	EngineStateInitializing  EngineState = "initializing"
	EngineStateReady         EngineState = "ready"
	EngineStateFailed        EngineState = "failed"
	EngineStateShuttingDown  EngineState = "shutting_down"
)

// EngineStatus is a point-in-time snapshot of one engine client.
type EngineStatus struct {
	Kind        EngineKind  `json:"kind"`
	State       EngineState `json:"state"`
	Initialized bool        `json:"initialized"`
	Ready       bool        `json:"ready"`
	BinaryPath  string      `json:"binaryPath,omitempty"`
	ModelPath   string      `json:"modelPath,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// EngineInitResult is returned from InitializeEngine calls.
type EngineInitResult struct {
	Kind  EngineKind `json:"kind"`
	Ready bool       `json:"ready"`
	Error string     `json:"error,omitempty"`
}

package domain

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelDir       string `json:"modelDir"`
	Language       string `json:"language"`
	Threads        int    `json:"threads"`
	ServerPort     int    `json:"serverPort"`
	ContextSize    int    `json:"contextSize"`
	GPULayers      int    `json:"gpuLayers"`
	SpeechBinary   string `json:"speechBinary,omitempty"`
	LanguageBinary string `json:"languageBinary,omitempty"`
	SpeechModel    string `json:"speechModel,omitempty"`
	LanguageModel  string `json:"languageModel,omitempty"`
	PackagedMode   bool   `json:"packagedMode"`
	LogLevel       string `json:"logLevel,omitempty"`
	ConsoleLogs    bool   `json:"consoleLogs,omitempty"`
}

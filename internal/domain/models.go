package domain

// ModelPreset describes one downloadable engine model.
type ModelPreset struct {
	ID          string     `json:"id"`
	Engine      EngineKind `json:"engine"`
	Name        string     `json:"name"`
	FileName    string     `json:"fileName"`
	URL         string     `json:"url"`
	SizeLabel   string     `json:"sizeLabel,omitempty"`
	Description string     `json:"description,omitempty"`
	Downloaded  bool       `json:"downloaded"`
	LocalPath   string     `json:"localPath,omitempty"`
}

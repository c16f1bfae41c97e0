package domain

// ContentType classifies a free-form generation request.
type ContentType string

const (
	ContentTypeEmail    ContentType = "email"
	ContentTypeDocument ContentType = "document"
	ContentTypeMeeting  ContentType = "meeting"
	ContentTypeList     ContentType = "list"
	ContentTypeNote     ContentType = "note"
	ContentTypeGeneral  ContentType = "general"
)

// ContentResult is the outcome of one content-generation request.
// On failure Success is false and FallbackContent carries the original
// request so the consuming paste action always has text to act on.
type ContentResult struct {
	Success          bool        `json:"success"`
	ContentType      ContentType `json:"contentType,omitempty"`
	GeneratedContent string      `json:"generatedContent,omitempty"`
	Error            string      `json:"error,omitempty"`
	FallbackContent  string      `json:"fallbackContent,omitempty"`
}

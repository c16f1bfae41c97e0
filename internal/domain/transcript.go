package domain

// DefaultSpeaker tags segments when the engine performs no diarization.
const DefaultSpeaker = "speaker_0"

// TranscriptSegment is one timed span of recognized speech.
type TranscriptSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

// TranscriptResult is the normalized output of one transcription call.
type TranscriptResult struct {
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language"`
	Error    string              `json:"error,omitempty"`
}

// EmptyTranscript returns the result used for absorbed per-chunk failures.
func EmptyTranscript() TranscriptResult {
	return TranscriptResult{
		Segments: []TranscriptSegment{},
		Language: "en",
	}
}

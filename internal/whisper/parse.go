package whisper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"local-dictation/internal/domain"
)

// jsonAnnouncementPattern matches the diagnostic-stream line the engine
// prints when structured output is written to a side file, e.g.
// "output_json: saving output to 'out.json'".
var jsonAnnouncementPattern = regexp.MustCompile(`saving output to '([^']+\.json)'`)

// timedLinePattern matches the plain-text "[start --> end] text" line form.
var timedLinePattern = regexp.MustCompile(
	`^\[(\d{2}:\d{2}:\d{2}[.,]\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2}[.,]\d{3})\]\s*(.*)$`,
)

// JSONOutputPath extracts the announced structured-output file path from
// diagnostic-stream text, or returns an empty string.
func JSONOutputPath(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		if match := jsonAnnouncementPattern.FindStringSubmatch(line); match != nil {
			return match[1]
		}
	}
	return ""
}

// structuredOutput covers the engine's structured JSON shapes: the
// per-segment transcription array, the flat segment array, and a bare
// text field.
type structuredOutput struct {
	Transcription []struct {
		Timestamps struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timestamps"`
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
	Text   string `json:"text"`
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Language string `json:"language"`
}

// ParseStructured parses engine JSON output into a normalized result.
func ParseStructured(data []byte) (domain.TranscriptResult, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return domain.TranscriptResult{}, fmt.Errorf("structured output is empty")
	}

	var out structuredOutput
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return domain.TranscriptResult{}, fmt.Errorf("parse structured output: %w", err)
	}

	result := domain.TranscriptResult{Segments: []domain.TranscriptSegment{}}

	switch {
	case len(out.Transcription) > 0:
		for _, seg := range out.Transcription {
			start := float64(seg.Offsets.From) / 1000
			end := float64(seg.Offsets.To) / 1000
			if seg.Offsets.From == 0 && seg.Offsets.To == 0 {
				start = parseTimestamp(seg.Timestamps.From)
				end = parseTimestamp(seg.Timestamps.To)
			}
			result.Segments = append(result.Segments, domain.TranscriptSegment{
				Start: start,
				End:   end,
				Text:  strings.TrimSpace(seg.Text),
			})
		}
	case len(out.Segments) > 0:
		for _, seg := range out.Segments {
			result.Segments = append(result.Segments, domain.TranscriptSegment{
				Start:   seg.Start,
				End:     seg.End,
				Text:    strings.TrimSpace(seg.Text),
				Speaker: seg.Speaker,
			})
		}
	case out.Text != "":
		result.Segments = append(result.Segments, domain.TranscriptSegment{
			Text: strings.TrimSpace(out.Text),
		})
	default:
		return domain.TranscriptResult{}, fmt.Errorf("structured output carries no transcription")
	}

	result.Language = out.Language
	if result.Language == "" {
		result.Language = out.Result.Language
	}
	return normalizeResult(result), nil
}

// ParsePlainText applies the line-oriented fallback parse. Bracketed
// timestamp lines become timed segments; any other non-empty line becomes
// untimed continuation text.
func ParsePlainText(text string) domain.TranscriptResult {
	result := domain.TranscriptResult{Segments: []domain.TranscriptSegment{}}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if match := timedLinePattern.FindStringSubmatch(line); match != nil {
			result.Segments = append(result.Segments, domain.TranscriptSegment{
				Start: parseTimestamp(match[1]),
				End:   parseTimestamp(match[2]),
				Text:  strings.TrimSpace(match[3]),
			})
			continue
		}

		result.Segments = append(result.Segments, domain.TranscriptSegment{Text: line})
	}

	return normalizeResult(result)
}

// parseTimestamp converts "HH:MM:SS.mmm" (or comma-millis) to seconds.
func parseTimestamp(ts string) float64 {
	ts = strings.ReplaceAll(strings.TrimSpace(ts), ",", ".")
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0
	}

	return float64(hours)*3600 + float64(minutes)*60 + seconds
}

// normalizeResult fills defaults so every parse path returns the same
// shape: full text joined from segments, default speaker tags, and a
// default language.
func normalizeResult(result domain.TranscriptResult) domain.TranscriptResult {
	texts := make([]string, 0, len(result.Segments))
	for i := range result.Segments {
		if result.Segments[i].Speaker == "" {
			result.Segments[i].Speaker = domain.DefaultSpeaker
		}
		if result.Segments[i].Text != "" {
			texts = append(texts, result.Segments[i].Text)
		}
	}

	if result.Text == "" {
		result.Text = strings.Join(texts, " ")
	}
	if result.Language == "" {
		result.Language = "en"
	}
	return result
}

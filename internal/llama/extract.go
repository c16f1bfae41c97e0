package llama

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrResponseShape reports a success response matching no known shape.
var ErrResponseShape = errors.New("completion response matches no known shape")

// completionResponse covers the historical response layouts the local
// server may produce.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Text string `json:"text"`
}

// extractor is one response-shape strategy, attempted in order.
type extractor struct {
	name string
	fn   func(completionResponse) (string, bool)
}

// extractors lists accepted shapes, most current API first.
var extractors = []extractor{
	{
		name: "choices[0].message.content",
		fn: func(r completionResponse) (string, bool) {
			if len(r.Choices) > 0 && r.Choices[0].Message.Content != "" {
				return r.Choices[0].Message.Content, true
			}
			return "", false
		},
	},
	{
		name: "choices[0].text",
		fn: func(r completionResponse) (string, bool) {
			if len(r.Choices) > 0 && r.Choices[0].Text != "" {
				return r.Choices[0].Text, true
			}
			return "", false
		},
	},
	{
		name: "text",
		fn: func(r completionResponse) (string, bool) {
			if r.Text != "" {
				return r.Text, true
			}
			return "", false
		},
	},
}

// ExtractContent pulls the answer text out of a success response body,
// trying each accepted shape in order. The first present field wins.
func ExtractContent(body []byte) (string, error) {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}

	for _, ex := range extractors {
		if content, ok := ex.fn(resp); ok {
			return strings.TrimSpace(content), nil
		}
	}
	return "", ErrResponseShape
}

// quotePairs are the surrounding quote styles stripped from answers.
var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"},
}

// StripQuotes removes a single layer of symmetric surrounding quotes.
// Some prompt styles induce the model to echo the answer quoted.
func StripQuotes(s string) string {
	trimmed := strings.TrimSpace(s)
	for _, pair := range quotePairs {
		if len(trimmed) >= len(pair[0])+len(pair[1]) &&
			strings.HasPrefix(trimmed, pair[0]) &&
			strings.HasSuffix(trimmed, pair[1]) {
			return strings.TrimSpace(trimmed[len(pair[0]) : len(trimmed)-len(pair[1])])
		}
	}
	return trimmed
}

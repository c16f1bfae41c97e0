package llama

import (
	"context"
	"fmt"
	"strings"

	"local-dictation/internal/domain"
)

const refineSystemPrompt = "You clean up dictated text. Fix punctuation, casing, and " +
	"recognition errors, and remove filler words. Return only the corrected text " +
	"with no explanation."

const answerSystemPrompt = "You answer questions using the provided context documents. " +
	"Prefer information from the context; say so briefly when the context does not " +
	"cover the question. Answer concisely."

// contentTemplates maps each content category to its instruction.
var contentTemplates = map[domain.ContentType]string{
	domain.ContentTypeEmail: "Write a complete, professional email based on the request. " +
		"Include a subject line, greeting, body, and sign-off. Return only the email text.",
	domain.ContentTypeDocument: "Write a well-structured document based on the request, " +
		"with a title and clear sections. Return only the document text.",
	domain.ContentTypeMeeting: "Write a meeting agenda based on the request, with a title, " +
		"attendee list placeholder, and time-boxed agenda items. Return only the agenda text.",
	domain.ContentTypeList: "Write the requested list as concise bullet points. " +
		"Return only the list text.",
	domain.ContentTypeNote: "Write a short, clear note based on the request. " +
		"Return only the note text.",
	domain.ContentTypeGeneral: "Write the requested content clearly and completely. " +
		"Return only the content text.",
}

// categoryKeywords drive the free-form request classification.
var categoryKeywords = []struct {
	category domain.ContentType
	words    []string
}{
	{domain.ContentTypeEmail, []string{"email", "e-mail", "mail to", "reply to", "follow up with"}},
	{domain.ContentTypeMeeting, []string{"agenda", "meeting", "standup", "sync", "1:1"}},
	{domain.ContentTypeList, []string{"list", "checklist", "bullet", "todo", "to-do", "shopping"}},
	{domain.ContentTypeDocument, []string{"document", "report", "proposal", "summary", "spec", "memo"}},
	{domain.ContentTypeNote, []string{"note", "reminder", "jot down"}},
}

// ClassifyContent maps a free-form request onto a content category by
// keyword heuristics, defaulting to general.
func ClassifyContent(request string) domain.ContentType {
	lowered := strings.ToLower(request)
	for _, entry := range categoryKeywords {
		for _, word := range entry.words {
			if strings.Contains(lowered, word) {
				return entry.category
			}
		}
	}
	return domain.ContentTypeGeneral
}

// Refine cleans up a dictated transcript through the completion path.
func (c *Client) Refine(ctx context.Context, text string) (string, error) {
	if err := c.sup.Guard("refine"); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	return c.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: refineSystemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   1024,
		Temperature: 0.3,
		TopP:        0.9,
	})
}

// AnswerWithContext answers a question against supplied context documents,
// carrying prior turns of the conversation when an id is given.
func (c *Client) AnswerWithContext(ctx context.Context, question, conversationID string, docs []string) (string, error) {
	if err := c.sup.Guard("answer"); err != nil {
		return "", err
	}

	messages := []Message{{Role: "system", Content: answerSystemPrompt}}
	if len(docs) > 0 {
		var b strings.Builder
		b.WriteString("Context documents:\n")
		for i, doc := range docs {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, doc)
		}
		messages = append(messages, Message{Role: "system", Content: b.String()})
	}
	for _, exchange := range c.history.Get(conversationID) {
		messages = append(messages,
			Message{Role: "user", Content: exchange.Prompt},
			Message{Role: "assistant", Content: exchange.Response},
		)
	}
	messages = append(messages, Message{Role: "user", Content: question})

	answer, err := c.Complete(ctx, CompletionRequest{
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.5,
		TopP:        0.9,
	})
	if err != nil {
		return "", err
	}

	c.history.Append(conversationID, question, answer)
	return answer, nil
}

// GenerateContent turns a free-form request into generated content. It
// never returns an error: this path feeds a user-facing paste action, so
// any failure becomes a structured fallback carrying the original input.
func (c *Client) GenerateContent(ctx context.Context, request string) domain.ContentResult {
	category := ClassifyContent(request)
	generated, err := c.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: contentTemplates[category]},
			{Role: "user", Content: request},
		},
		MaxTokens:   2048,
		Temperature: 0.7,
		TopP:        0.95,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("category", string(category)).Msg("content generation failed, returning fallback")
		return domain.ContentResult{
			Success:         false,
			ContentType:     category,
			Error:           err.Error(),
			FallbackContent: request,
		}
	}

	return domain.ContentResult{
		Success:          true,
		ContentType:      category,
		GeneratedContent: generated,
	}
}

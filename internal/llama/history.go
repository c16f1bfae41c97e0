package llama

import "sync"

// maxExchanges bounds the rolling history kept per conversation.
const maxExchanges = 10

// Exchange is one stored (prompt, response) pair.
type Exchange struct {
	Prompt   string
	Response string
}

// History keeps a bounded rolling exchange list per conversation id.
type History struct {
	mu      sync.Mutex
	entries map[string][]Exchange
}

// NewHistory creates an empty conversation history store.
func NewHistory() *History {
	return &History{entries: make(map[string][]Exchange)}
}

// Append records one exchange, truncating to the most recent entries.
func (h *History) Append(conversationID, prompt, response string) {
	if conversationID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.entries[conversationID], Exchange{Prompt: prompt, Response: response})
	if len(list) > maxExchanges {
		list = append([]Exchange(nil), list[len(list)-maxExchanges:]...)
	}
	h.entries[conversationID] = list
}

// Get returns a copy of the stored exchanges for a conversation.
func (h *History) Get(conversationID string) []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.entries[conversationID]
	out := make([]Exchange, len(list))
	copy(out, list)
	return out
}

// Clear drops one conversation's history.
func (h *History) Clear(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, conversationID)
}

// Reset drops all conversations. Used on engine shutdown.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[string][]Exchange)
}

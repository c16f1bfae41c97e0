package llama

import (
	"fmt"
	"testing"
)

// TestHistoryBound checks the rolling window never exceeds ten exchanges.
func TestHistoryBound(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 25; i++ {
		h.Append("conv-1", fmt.Sprintf("prompt %d", i), fmt.Sprintf("response %d", i))
	}

	got := h.Get("conv-1")
	if len(got) != maxExchanges {
		t.Fatalf("history length = %d, want %d", len(got), maxExchanges)
	}
	if got[0].Prompt != "prompt 15" || got[len(got)-1].Prompt != "prompt 24" {
		t.Fatalf("history window = %q .. %q", got[0].Prompt, got[len(got)-1].Prompt)
	}
}

// TestHistoryPerConversationIsolation checks ids do not share state.
func TestHistoryPerConversationIsolation(t *testing.T) {
	h := NewHistory()
	h.Append("a", "pa", "ra")
	h.Append("b", "pb", "rb")

	if len(h.Get("a")) != 1 || len(h.Get("b")) != 1 {
		t.Fatal("conversations must be isolated")
	}

	h.Clear("a")
	if len(h.Get("a")) != 0 {
		t.Fatal("cleared conversation should be empty")
	}
	if len(h.Get("b")) != 1 {
		t.Fatal("clearing one conversation must not touch another")
	}
}

// TestHistoryIgnoresEmptyID checks appends without an id are dropped.
func TestHistoryIgnoresEmptyID(t *testing.T) {
	h := NewHistory()
	h.Append("", "p", "r")
	if len(h.Get("")) != 0 {
		t.Fatal("empty conversation id must not be stored")
	}
}

// TestHistoryReset checks shutdown clears everything.
func TestHistoryReset(t *testing.T) {
	h := NewHistory()
	h.Append("a", "p", "r")
	h.Reset()
	if len(h.Get("a")) != 0 {
		t.Fatal("reset should drop all conversations")
	}
}

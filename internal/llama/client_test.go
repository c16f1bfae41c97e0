package llama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"local-dictation/internal/engine"
)

// fakeHandle records lifecycle calls against a pretend server process.
type fakeHandle struct {
	mu         sync.Mutex
	terminated bool
	killed     bool
	waitErr    error
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *fakeHandle) Wait(timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// testConfig returns a config with a small retry policy so tests stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartupAttempts = 3
	cfg.StartupDelay = time.Millisecond
	cfg.WarmupDelay = time.Millisecond
	cfg.MaxRetries = 2
	cfg.BackoffBase = time.Millisecond
	return cfg
}

// readyClient builds an initialized client against the given base URL.
// Sleeps recorded during startup are discarded so tests observe only the
// backoff delays of the calls under test.
func readyClient(t *testing.T, baseURL string, cfg Config) (*Client, *fakeHandle, *[]time.Duration) {
	t.Helper()

	handle := &fakeHandle{}
	sleeps := &[]time.Duration{}
	c := NewClientForTests(cfg, baseURL,
		func(ctx context.Context, binary string, args []string) (serverHandle, error) {
			return handle, nil
		},
		func(addr string, timeout time.Duration) error { return nil },
		func(d time.Duration) { *sleeps = append(*sleeps, d) },
	)

	ready, err := c.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !ready {
		t.Fatal("Initialize() ready = false, want true")
	}
	*sleeps = (*sleeps)[:0]
	return c, handle, sleeps
}

func TestInitializeSpawnsServerWithFlags(t *testing.T) {
	var gotBinary string
	var gotArgs []string
	handle := &fakeHandle{}
	cfg := testConfig()

	c := NewClientForTests(cfg, "http://127.0.0.1:0",
		func(ctx context.Context, binary string, args []string) (serverHandle, error) {
			gotBinary = binary
			gotArgs = args
			return handle, nil
		},
		func(addr string, timeout time.Duration) error { return nil },
		func(time.Duration) {},
	)

	ready, err := c.Initialize(context.Background())
	if err != nil || !ready {
		t.Fatalf("Initialize() = %v, %v", ready, err)
	}
	if gotBinary != "llama-server" {
		t.Fatalf("spawned binary = %q", gotBinary)
	}
	joined := strings.Join(gotArgs, " ")
	for _, flag := range []string{"--model model.gguf", "--host 127.0.0.1", "--port 8737", "--ctx-size 4096", "--threads 4", "--n-gpu-layers 0"} {
		if !strings.Contains(joined, flag) {
			t.Errorf("server args missing %q in %q", flag, joined)
		}
	}
}

func TestInitializeStartupTimeoutStopsServer(t *testing.T) {
	handle := &fakeHandle{}
	cfg := testConfig()

	c := NewClientForTests(cfg, "http://127.0.0.1:0",
		func(ctx context.Context, binary string, args []string) (serverHandle, error) {
			return handle, nil
		},
		func(addr string, timeout time.Duration) error { return errors.New("connection refused") },
		func(time.Duration) {},
	)

	ready, err := c.Initialize(context.Background())
	if ready {
		t.Fatal("Initialize() ready = true, want false")
	}
	var timeoutErr *StartupTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Initialize() error = %v, want StartupTimeoutError", err)
	}
	if timeoutErr.Attempts != cfg.StartupAttempts {
		t.Fatalf("Attempts = %d, want %d", timeoutErr.Attempts, cfg.StartupAttempts)
	}
	if !handle.terminated {
		t.Fatal("orphaned server must be stopped after a failed startup")
	}
}

func TestCompleteSendsChatRequest(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"refined text"}}]}`))
	}))
	defer srv.Close()

	c, _, _ := readyClient(t, srv.URL, testConfig())
	got, err := c.Complete(context.Background(), CompletionRequest{
		Messages:    []Message{{Role: "user", Content: "raw text"}},
		MaxTokens:   256,
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "refined text" {
		t.Fatalf("Complete() = %q", got)
	}
	if gotBody.Stream {
		t.Error("stream must be disabled")
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Content != "raw text" {
		t.Fatalf("request messages = %+v", gotBody.Messages)
	}
	if gotBody.MaxTokens != 256 {
		t.Fatalf("max_tokens = %d", gotBody.MaxTokens)
	}
}

func TestCompleteStripsWrappingQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"\"quoted reply\""}}]}`))
	}))
	defer srv.Close()

	c, _, _ := readyClient(t, srv.URL, testConfig())
	got, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "quoted reply" {
		t.Fatalf("Complete() = %q, want unquoted content", got)
	}
}

func TestCompleteRetriesWhileUnavailable(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"late answer"}}]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	c, _, sleeps := readyClient(t, srv.URL, cfg)
	got, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "late answer" {
		t.Fatalf("Complete() = %q", got)
	}
	if calls != 3 {
		t.Fatalf("server calls = %d, want 3", calls)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("backoff sleeps = %d, want 2", len(*sleeps))
	}
	if (*sleeps)[1] <= (*sleeps)[0] {
		t.Fatalf("backoff must grow: %v then %v", (*sleeps)[0], (*sleeps)[1])
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	c, _, _ := readyClient(t, srv.URL, cfg)
	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})

	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("Complete() error = %v, want RetryError", err)
	}
	if retryErr.Attempts != cfg.MaxRetries {
		t.Fatalf("Attempts = %d, want %d", retryErr.Attempts, cfg.MaxRetries)
	}
	if retryErr.Last == nil {
		t.Fatal("RetryError must carry the last cause")
	}
	if calls != cfg.MaxRetries+1 {
		t.Fatalf("server calls = %d, want %d", calls, cfg.MaxRetries+1)
	}
}

func TestCompleteFailsFastOnClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"malformed"}`))
	}))
	defer srv.Close()

	c, _, sleeps := readyClient(t, srv.URL, testConfig())
	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("Complete() error = nil, want failure")
	}
	var retryErr *RetryError
	if errors.As(err, &retryErr) {
		t.Fatal("client errors must not be retried")
	}
	if calls != 1 {
		t.Fatalf("server calls = %d, want 1", calls)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("unexpected backoff sleeps: %v", *sleeps)
	}
}

func TestCompleteRequiresInitializedEngine(t *testing.T) {
	c := NewClientForTests(testConfig(), "http://127.0.0.1:0",
		func(ctx context.Context, binary string, args []string) (serverHandle, error) {
			return &fakeHandle{}, nil
		},
		func(addr string, timeout time.Duration) error { return nil },
		func(time.Duration) {},
	)

	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	var notInit *engine.NotInitializedError
	if !errors.As(err, &notInit) {
		t.Fatalf("Complete() error = %v, want NotInitializedError", err)
	}
}

func TestShutdownStopsServerAndClearsHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, handle, _ := readyClient(t, srv.URL, testConfig())
	c.history.Append("conv", "p", "r")

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !handle.terminated {
		t.Fatal("server must receive the graceful termination signal")
	}
	if handle.killed {
		t.Fatal("clean exit must not be force-killed")
	}
	if len(c.history.Get("conv")) != 0 {
		t.Fatal("shutdown must drop conversation history")
	}

	// Second shutdown is a no-op.
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

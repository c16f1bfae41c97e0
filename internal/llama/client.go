// Package llama runs the language-model engine as a persistent local
// server and issues completion requests against it.
package llama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	goruntime "runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"local-dictation/internal/domain"
	"local-dictation/internal/engine"
	"local-dictation/internal/resolve"
)

// StartupTimeoutError reports that the server port never became
// connectable within the attempt budget.
type StartupTimeoutError struct {
	Port     int
	Attempts int
}

// Error names the port and the exhausted attempt count.
func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("language-model server on port %d not reachable after %d attempts", e.Port, e.Attempts)
}

// RetryError reports exhausted retries against a transiently unavailable
// server, naming the last underlying cause.
type RetryError struct {
	Attempts int
	Last     error
}

// Error includes the final failure.
func (e *RetryError) Error() string {
	return fmt.Sprintf("completion still unavailable after %d retries: %v", e.Attempts, e.Last)
}

// Unwrap exposes the last cause for errors.Is / errors.As.
func (e *RetryError) Unwrap() error { return e.Last }

// Config holds server spawn flags and client retry policy.
type Config struct {
	Port            int
	ContextSize     int
	Threads         int
	GPULayers       int
	Temperature     float64
	StartupAttempts int
	StartupDelay    time.Duration
	DialTimeout     time.Duration
	WarmupDelay     time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	RequestTimeout  time.Duration
}

// DefaultConfig returns the server defaults for local dictation loads.
func DefaultConfig() Config {
	return Config{
		Port:            8737,
		ContextSize:     4096,
		Threads:         4,
		GPULayers:       0,
		Temperature:     0.7,
		StartupAttempts: 60,
		StartupDelay:    500 * time.Millisecond,
		DialTimeout:     2 * time.Second,
		WarmupDelay:     1500 * time.Millisecond,
		MaxRetries:      3,
		BackoffBase:     time.Second,
		RequestTimeout:  2 * time.Minute,
	}
}

// Message is one role-tagged entry in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries messages and sampling parameters for one call.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// chatRequest is the wire form sent to the local server.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

// serverHandle abstracts the spawned server process for testability.
type serverHandle interface {
	Terminate() error
	Kill() error
	Wait(timeout time.Duration) error
}

// execHandle wraps a real os/exec server process.
type execHandle struct {
	cmd *exec.Cmd
}

// Terminate sends the graceful termination signal.
func (h *execHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	if goruntime.GOOS == "windows" {
		return h.cmd.Process.Kill()
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill force-terminates the process.
func (h *execHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// Wait blocks until exit or the timeout elapses.
func (h *execHandle) Wait(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process did not exit within %s", timeout)
	}
}

// Client is the long-running server client for the language-model engine.
type Client struct {
	sup        *engine.Supervisor
	cfg        Config
	logger     zerolog.Logger
	httpClient *http.Client
	baseURL    string
	history    *History

	mu     sync.Mutex
	server serverHandle

	spawn func(ctx context.Context, binary string, args []string) (serverHandle, error)
	dial  func(addr string, timeout time.Duration) error
	sleep func(time.Duration)
}

// NewClient builds the language-model client. Supervisor hooks resolve
// the binary and model, start the server and wait for its port, then
// self-test against the health endpoint.
func NewClient(resolver *resolve.Resolver, cfg Config, logger zerolog.Logger) *Client {
	c := &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Port),
		history:    NewHistory(),
		spawn:      spawnServer,
		dial: func(addr string, timeout time.Duration) error {
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		sleep: time.Sleep,
	}

	var binaryPath, modelPath string
	c.sup = engine.NewSupervisor(domain.EngineLanguageModel, engine.Hooks{
		ResolveBinary: func(ctx context.Context) (string, error) {
			path, err := resolver.Binary(ctx, domain.EngineLanguageModel)
			binaryPath = path
			return path, err
		},
		ResolveModel: func(ctx context.Context) (string, error) {
			path, err := resolver.Model(domain.EngineLanguageModel)
			modelPath = path
			return path, err
		},
		Setup: func(ctx context.Context) error {
			return c.startServer(ctx, binaryPath, modelPath)
		},
		SelfTest: c.selfTest,
		Teardown: func(ctx context.Context) error {
			return c.stopServer()
		},
	}, logger)

	return c
}

// NewClientForTests builds a client with injectable dependencies.
func NewClientForTests(
	cfg Config,
	baseURL string,
	spawn func(ctx context.Context, binary string, args []string) (serverHandle, error),
	dial func(addr string, timeout time.Duration) error,
	sleep func(time.Duration),
) *Client {
	c := &Client{
		cfg:        cfg,
		logger:     zerolog.Nop(),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    baseURL,
		history:    NewHistory(),
		spawn:      spawn,
		dial:       dial,
		sleep:      sleep,
	}

	c.sup = engine.NewSupervisor(domain.EngineLanguageModel, engine.Hooks{
		ResolveBinary: func(ctx context.Context) (string, error) { return "llama-server", nil },
		ResolveModel:  func(ctx context.Context) (string, error) { return "model.gguf", nil },
		Setup: func(ctx context.Context) error {
			return c.startServer(ctx, "llama-server", "model.gguf")
		},
		Teardown: func(ctx context.Context) error {
			return c.stopServer()
		},
	}, zerolog.Nop())

	return c
}

// spawnServer starts a real server process.
func spawnServer(ctx context.Context, binary string, args []string) (serverHandle, error) {
	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start server process: %w", err)
	}
	return &execHandle{cmd: cmd}, nil
}

// buildServerArgs builds the server spawn flags.
func buildServerArgs(modelPath string, cfg Config) []string {
	return []string{
		"--model", modelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(cfg.Port),
		"--ctx-size", strconv.Itoa(cfg.ContextSize),
		"--threads", strconv.Itoa(cfg.Threads),
		"--n-gpu-layers", strconv.Itoa(cfg.GPULayers),
		"--temp", strconv.FormatFloat(cfg.Temperature, 'f', -1, 64),
	}
}

// startServer spawns the server and waits for its port to accept
// connections, then applies the warm-up delay before first use.
func (c *Client) startServer(ctx context.Context, binary, model string) error {
	handle, err := c.spawn(ctx, binary, buildServerArgs(model, c.cfg))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.server = handle
	c.mu.Unlock()

	addr := fmt.Sprintf("127.0.0.1:%d", c.cfg.Port)
	if err := c.waitForPort(ctx, addr); err != nil {
		if stopErr := c.stopServer(); stopErr != nil {
			c.logger.Warn().Err(stopErr).Msg("stop server after failed startup")
		}
		return err
	}

	// Give the server time to finish loading weights before real traffic.
	c.sleep(c.cfg.WarmupDelay)
	return nil
}

// waitForPort probes the server port with bounded attempts.
func (c *Client) waitForPort(ctx context.Context, addr string) error {
	for attempt := 1; attempt <= c.cfg.StartupAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.dial(addr, c.cfg.DialTimeout); err == nil {
			c.logger.Debug().Str("addr", addr).Int("attempt", attempt).Msg("server port connectable")
			return nil
		}
		c.sleep(c.cfg.StartupDelay)
	}
	return &StartupTimeoutError{Port: c.cfg.Port, Attempts: c.cfg.StartupAttempts}
}

// selfTest checks the health endpoint responds at all. A 503 still proves
// the server process is alive and loading.
func (c *Client) selfTest(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// stopServer applies the two-phase shutdown: graceful signal, bounded
// wait, forced kill.
func (c *Client) stopServer() error {
	c.mu.Lock()
	handle := c.server
	c.server = nil
	c.mu.Unlock()

	if handle == nil {
		return nil
	}

	if err := handle.Terminate(); err != nil {
		c.logger.Debug().Err(err).Msg("graceful terminate failed, killing")
		if killErr := handle.Kill(); killErr != nil {
			return killErr
		}
		return handle.Wait(time.Second)
	}

	if err := handle.Wait(5 * time.Second); err != nil {
		c.logger.Warn().Msg("server did not exit gracefully, killing")
		if killErr := handle.Kill(); killErr != nil {
			return killErr
		}
		return handle.Wait(time.Second)
	}
	return nil
}

// Initialize runs the supervisor lifecycle for this engine.
func (c *Client) Initialize(ctx context.Context) (bool, error) {
	return c.sup.Initialize(ctx)
}

// Shutdown stops the server and clears all conversation history.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.sup.Shutdown(ctx)
	c.history.Reset()
	return err
}

// Status returns the engine lifecycle snapshot.
func (c *Client) Status() domain.EngineStatus {
	return c.sup.Status()
}

// ClearHistory drops the stored exchanges for one conversation.
func (c *Client) ClearHistory(conversationID string) {
	c.history.Clear(conversationID)
}

// Complete issues one completion request. Temporarily-unavailable
// responses are retried with exponential backoff up to the configured
// ceiling; other failures surface immediately.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := c.sup.Guard("complete"); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:       "local",
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		content, retryable, err := c.postCompletion(ctx, body)
		if err == nil {
			return StripQuotes(content), nil
		}
		if !retryable {
			return "", err
		}

		lastErr = err
		if attempt >= c.cfg.MaxRetries {
			return "", &RetryError{Attempts: attempt, Last: lastErr}
		}

		delay := c.cfg.BackoffBase << uint(attempt)
		c.logger.Debug().Err(err).Dur("delay", delay).Int("attempt", attempt+1).Msg("server busy, backing off")
		c.sleep(delay)
	}
}

// postCompletion performs one HTTP round trip. The second return value
// reports whether the failure is a retryable transient condition.
func (c *Client) postCompletion(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", true, fmt.Errorf("server unavailable: status=503 body=%s", bytes.TrimSpace(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("completion failed: status=%d body=%s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	content, err := ExtractContent(respBody)
	if err != nil {
		return "", false, err
	}
	return content, false, nil
}

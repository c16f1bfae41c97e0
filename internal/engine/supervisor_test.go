package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"local-dictation/internal/domain"
)

func readyHooks(counter *int) Hooks {
	return Hooks{
		ResolveBinary: func(ctx context.Context) (string, error) {
			if counter != nil {
				*counter++
			}
			return "/bin/engine", nil
		},
		ResolveModel: func(ctx context.Context) (string, error) {
			return "/models/model.bin", nil
		},
	}
}

// TestInitializeHappyPath checks resolution results land in status.
func TestInitializeHappyPath(t *testing.T) {
	s := NewSupervisor(domain.EngineSpeech, readyHooks(nil), zerolog.Nop())

	ready, err := s.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !ready {
		t.Fatal("expected ready = true")
	}

	status := s.Status()
	if status.State != domain.EngineStateReady {
		t.Fatalf("state = %s, want ready", status.State)
	}
	if status.BinaryPath != "/bin/engine" || status.ModelPath != "/models/model.bin" {
		t.Fatalf("paths = %q, %q", status.BinaryPath, status.ModelPath)
	}
}

// TestInitializeIsIdempotent checks a second call does not rerun hooks.
func TestInitializeIsIdempotent(t *testing.T) {
	calls := 0
	s := NewSupervisor(domain.EngineSpeech, readyHooks(&calls), zerolog.Nop())

	if _, err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("first Initialize() error = %v", err)
	}
	ready, err := s.Initialize(context.Background())
	if err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if !ready {
		t.Fatal("second Initialize should report ready")
	}
	if calls != 1 {
		t.Fatalf("resolve calls = %d, want 1", calls)
	}
}

// TestConcurrentInitializeSpawnsOnce checks the mutex-guarded transition.
func TestConcurrentInitializeSpawnsOnce(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	release := make(chan struct{})
	hooks := Hooks{
		ResolveBinary: func(ctx context.Context) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			<-release
			return "/bin/engine", nil
		},
		ResolveModel: func(ctx context.Context) (string, error) {
			return "/models/model.bin", nil
		},
	}
	s := NewSupervisor(domain.EngineLanguageModel, hooks, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	var winnerReady bool
	go func() {
		defer wg.Done()
		winnerReady, _ = s.Initialize(context.Background())
	}()

	// Wait until the winner is inside its resolve hook.
	for {
		mu.Lock()
		started := calls > 0
		mu.Unlock()
		if started {
			break
		}
	}

	// A second caller during Initializing must not rerun hooks.
	ready, err := s.Initialize(context.Background())
	if err != nil {
		t.Fatalf("concurrent Initialize() error = %v", err)
	}
	if ready {
		t.Fatal("caller during Initializing must observe not-ready")
	}

	close(release)
	wg.Wait()

	if !winnerReady {
		t.Fatal("winning caller should observe ready")
	}
	if calls != 1 {
		t.Fatalf("resolve calls = %d, want 1", calls)
	}
}

// TestInitializeFailureClearsPartialState checks the failed transition.
func TestInitializeFailureClearsPartialState(t *testing.T) {
	teardowns := 0
	hooks := Hooks{
		ResolveBinary: func(ctx context.Context) (string, error) { return "/bin/engine", nil },
		ResolveModel:  func(ctx context.Context) (string, error) { return "/models/model.bin", nil },
		Setup:         func(ctx context.Context) error { return errors.New("port never opened") },
		Teardown: func(ctx context.Context) error {
			teardowns++
			return nil
		},
	}
	s := NewSupervisor(domain.EngineLanguageModel, hooks, zerolog.Nop())

	ready, err := s.Initialize(context.Background())
	if err == nil || ready {
		t.Fatalf("Initialize() = %v, %v, want failure", ready, err)
	}
	if got := err.Error(); got != "setup: port never opened" {
		t.Fatalf("error = %q, failing step must be identifiable", got)
	}
	if teardowns != 1 {
		t.Fatalf("teardowns = %d, want 1 (no child left behind)", teardowns)
	}

	status := s.Status()
	if status.State != domain.EngineStateFailed {
		t.Fatalf("state = %s, want failed", status.State)
	}
	if status.BinaryPath != "" || status.ModelPath != "" {
		t.Fatal("partial paths must be cleared on failure")
	}
	if status.LastError == "" {
		t.Fatal("last error must surface in status")
	}
}

// TestInitializeRecoversAfterFailure checks Failed permits a retry.
func TestInitializeRecoversAfterFailure(t *testing.T) {
	shouldFail := true
	hooks := Hooks{
		ResolveBinary: func(ctx context.Context) (string, error) {
			if shouldFail {
				return "", errors.New("binary absent")
			}
			return "/bin/engine", nil
		},
		ResolveModel: func(ctx context.Context) (string, error) { return "/models/model.bin", nil },
	}
	s := NewSupervisor(domain.EngineSpeech, hooks, zerolog.Nop())

	if _, err := s.Initialize(context.Background()); err == nil {
		t.Fatal("expected first initialize to fail")
	}

	shouldFail = false
	ready, err := s.Initialize(context.Background())
	if err != nil || !ready {
		t.Fatalf("retry Initialize() = %v, %v, want ready", ready, err)
	}
}

// TestGuard checks operations are rejected until ready.
func TestGuard(t *testing.T) {
	s := NewSupervisor(domain.EngineSpeech, readyHooks(nil), zerolog.Nop())

	err := s.Guard("transcribe")
	var guardErr *NotInitializedError
	if !errors.As(err, &guardErr) {
		t.Fatalf("error = %v, want NotInitializedError", err)
	}
	if guardErr.Op != "transcribe" {
		t.Fatalf("op = %q, want transcribe", guardErr.Op)
	}

	if _, err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := s.Guard("transcribe"); err != nil {
		t.Fatalf("Guard() after initialize error = %v", err)
	}
}

// TestShutdownIsIdempotent checks double and never-initialized shutdown.
func TestShutdownIsIdempotent(t *testing.T) {
	teardowns := 0
	hooks := readyHooks(nil)
	hooks.Teardown = func(ctx context.Context) error {
		teardowns++
		return nil
	}
	s := NewSupervisor(domain.EngineLanguageModel, hooks, zerolog.Nop())

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown before initialize error = %v", err)
	}
	if teardowns != 0 {
		t.Fatal("teardown must not run for a never-initialized engine")
	}

	if _, err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown error = %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown error = %v", err)
	}
	if teardowns != 1 {
		t.Fatalf("teardowns = %d, want 1", teardowns)
	}

	status := s.Status()
	if status.State != domain.EngineStateUninitialized {
		t.Fatalf("state after shutdown = %s", status.State)
	}
}

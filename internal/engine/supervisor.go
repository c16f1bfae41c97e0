// Package engine provides the shared lifecycle template for both native
// engine clients: idempotent initialization, readiness guarding, and
// two-phase shutdown.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"local-dictation/internal/domain"
)

// NotInitializedError reports an operation attempted before readiness.
type NotInitializedError struct {
	Kind domain.EngineKind
	Op   string
}

// Error names the rejected operation and its engine.
func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s engine is not initialized: %s", e.Kind, e.Op)
}

// Hooks are the engine-specific steps run by the lifecycle template.
// ResolveBinary and ResolveModel are required; Setup, SelfTest, and
// Teardown may be nil when an engine has no such step.
type Hooks struct {
	ResolveBinary func(ctx context.Context) (string, error)
	ResolveModel  func(ctx context.Context) (string, error)
	Setup         func(ctx context.Context) error
	SelfTest      func(ctx context.Context) error
	Teardown      func(ctx context.Context) error
}

// Supervisor owns one engine's lifecycle state. State transitions happen
// under a mutex so two concurrent first-time Initialize calls cannot both
// pass the guard and spawn duplicate children.
type Supervisor struct {
	kind   domain.EngineKind
	hooks  Hooks
	logger zerolog.Logger

	mu         sync.Mutex
	state      domain.EngineState
	binaryPath string
	modelPath  string
	lastErr    error
}

// NewSupervisor creates a supervisor in the uninitialized state.
func NewSupervisor(kind domain.EngineKind, hooks Hooks, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		kind:   kind,
		hooks:  hooks,
		logger: logger,
		state:  domain.EngineStateUninitialized,
	}
}

// Initialize resolves resources and runs setup and self-test. When the
// engine is already ready or another initialization is in flight, it
// returns the current readiness without running anything.
func (s *Supervisor) Initialize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	switch s.state {
	case domain.EngineStateReady:
		s.mu.Unlock()
		return true, nil
	case domain.EngineStateInitializing, domain.EngineStateShuttingDown:
		s.mu.Unlock()
		return false, nil
	}
	s.state = domain.EngineStateInitializing
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info().Str("engine", string(s.kind)).Msg("initializing engine")

	binary, model, err := s.runInitSteps(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = domain.EngineStateFailed
		s.binaryPath = ""
		s.modelPath = ""
		s.lastErr = err
		s.logger.Error().Err(err).Str("engine", string(s.kind)).Msg("engine initialization failed")
		return false, err
	}

	s.state = domain.EngineStateReady
	s.binaryPath = binary
	s.modelPath = model
	s.logger.Info().
		Str("engine", string(s.kind)).
		Str("binary", binary).
		Str("model", model).
		Msg("engine ready")
	return true, nil
}

// runInitSteps executes the ordered initialization hooks.
func (s *Supervisor) runInitSteps(ctx context.Context) (string, string, error) {
	binary, err := s.hooks.ResolveBinary(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolve binary: %w", err)
	}

	model, err := s.hooks.ResolveModel(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolve model: %w", err)
	}

	if s.hooks.Setup != nil {
		if err := s.hooks.Setup(ctx); err != nil {
			s.runTeardownAfterFailure(ctx)
			return "", "", fmt.Errorf("setup: %w", err)
		}
	}

	if s.hooks.SelfTest != nil {
		if err := s.hooks.SelfTest(ctx); err != nil {
			s.runTeardownAfterFailure(ctx)
			return "", "", fmt.Errorf("self-test: %w", err)
		}
	}

	return binary, model, nil
}

// runTeardownAfterFailure undoes partial setup so a failed initialize never
// leaves a child running.
func (s *Supervisor) runTeardownAfterFailure(ctx context.Context) {
	if s.hooks.Teardown == nil {
		return
	}
	if err := s.hooks.Teardown(ctx); err != nil {
		s.logger.Warn().Err(err).Str("engine", string(s.kind)).Msg("teardown after failed initialize")
	}
}

// Shutdown tears the engine down and clears state. Safe to call when
// never initialized or already shut down.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == domain.EngineStateUninitialized || s.state == domain.EngineStateShuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.state = domain.EngineStateShuttingDown
	s.mu.Unlock()

	var teardownErr error
	if s.hooks.Teardown != nil {
		teardownErr = s.hooks.Teardown(ctx)
	}

	s.mu.Lock()
	s.state = domain.EngineStateUninitialized
	s.binaryPath = ""
	s.modelPath = ""
	s.lastErr = nil
	s.mu.Unlock()

	if teardownErr != nil {
		s.logger.Warn().Err(teardownErr).Str("engine", string(s.kind)).Msg("engine teardown reported error")
		return teardownErr
	}
	s.logger.Info().Str("engine", string(s.kind)).Msg("engine shut down")
	return nil
}

// Guard rejects an operation unless the engine is ready. This is a local
// synchronous check, never a blocking wait.
func (s *Supervisor) Guard(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.EngineStateReady {
		return &NotInitializedError{Kind: s.kind, Op: op}
	}
	return nil
}

// Status returns a snapshot of the lifecycle state.
func (s *Supervisor) Status() domain.EngineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.EngineStatus{
		Kind:        s.kind,
		State:       s.state,
		Initialized: s.state == domain.EngineStateReady,
		Ready:       s.state == domain.EngineStateReady,
		BinaryPath:  s.binaryPath,
		ModelPath:   s.modelPath,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// Paths returns the resolved binary and model paths.
func (s *Supervisor) Paths() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binaryPath, s.modelPath
}

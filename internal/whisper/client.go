// Package whisper drives the speech-recognition engine through one-shot
// process invocations and recovers structured transcripts from its output.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"local-dictation/internal/domain"
	"local-dictation/internal/engine"
	"local-dictation/internal/execx"
	"local-dictation/internal/resolve"
	"local-dictation/internal/wav"
)

// ProcessError reports a non-zero exit from a one-shot engine invocation.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

// Error includes the diagnostic-stream contents for the caller.
func (e *ProcessError) Error() string {
	return fmt.Sprintf("speech engine exited with code %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Unwrap exposes the underlying exec error.
func (e *ProcessError) Unwrap() error { return e.Err }

// Config holds per-invocation engine options.
type Config struct {
	Language string
	Threads  int
}

// Client is the one-shot invocation client for the speech engine.
type Client struct {
	sup    *engine.Supervisor
	runner execx.Runner
	logger zerolog.Logger
	cfg    Config

	tempDir   string
	writeFile func(string, []byte, os.FileMode) error
	readFile  func(string) ([]byte, error)
	remove    func(string) error
}

// NewClient builds the speech engine client. The supervisor hooks resolve
// the binary and model through the shared resolver and self-test the
// binary with a runnability probe.
func NewClient(resolver *resolve.Resolver, cfg Config, logger zerolog.Logger) *Client {
	c := &Client{
		runner:    &execx.ExecRunner{},
		logger:    logger,
		cfg:       cfg,
		tempDir:   os.TempDir(),
		writeFile: os.WriteFile,
		readFile:  os.ReadFile,
		remove:    os.Remove,
	}

	var binaryPath string
	c.sup = engine.NewSupervisor(domain.EngineSpeech, engine.Hooks{
		ResolveBinary: func(ctx context.Context) (string, error) {
			path, err := resolver.Binary(ctx, domain.EngineSpeech)
			binaryPath = path
			return path, err
		},
		ResolveModel: func(ctx context.Context) (string, error) {
			return resolver.Model(domain.EngineSpeech)
		},
		SelfTest: func(ctx context.Context) error {
			if !execx.Probe(ctx, c.runner, binaryPath, "--help", execx.DefaultProbeTimeout) {
				return fmt.Errorf("binary did not respond to probe: %s", binaryPath)
			}
			return nil
		},
	}, logger)

	return c
}

// NewClientForTests builds a client with injectable dependencies.
func NewClientForTests(
	sup *engine.Supervisor,
	runner execx.Runner,
	cfg Config,
	tempDir string,
	writeFile func(string, []byte, os.FileMode) error,
	readFile func(string) ([]byte, error),
	remove func(string) error,
) *Client {
	return &Client{
		sup:       sup,
		runner:    runner,
		logger:    zerolog.Nop(),
		cfg:       cfg,
		tempDir:   tempDir,
		writeFile: writeFile,
		readFile:  readFile,
		remove:    remove,
	}
}

// Initialize runs the supervisor lifecycle for this engine.
func (c *Client) Initialize(ctx context.Context) (bool, error) {
	return c.sup.Initialize(ctx)
}

// Shutdown clears the engine state. The speech engine has no persistent
// child, so only supervisor state is released.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.sup.Shutdown(ctx)
}

// Status returns the engine lifecycle snapshot.
func (c *Client) Status() domain.EngineStatus {
	return c.sup.Status()
}

// TranscribeChunk encodes one raw audio chunk and transcribes it. It never
// returns an error: live-session callers must not be interrupted by a
// single bad chunk, so failures are absorbed into an empty result.
func (c *Client) TranscribeChunk(ctx context.Context, raw any, sampleRate int) domain.TranscriptResult {
	encoded, err := wav.Encode(raw, sampleRate)
	if err != nil {
		if !errors.Is(err, wav.ErrEmptyAudio) {
			c.logger.Warn().Err(err).Msg("chunk audio rejected")
		}
		return domain.EmptyTranscript()
	}
	if err := wav.Validate(encoded); err != nil {
		c.logger.Warn().Err(err).Msg("chunk container invalid")
		return domain.EmptyTranscript()
	}

	tempPath := filepath.Join(c.tempDir, "dictation-chunk-"+xid.New().String()+".wav")
	if err := c.writeFile(tempPath, encoded, 0o600); err != nil {
		c.logger.Warn().Err(err).Str("path", tempPath).Msg("write chunk temp file")
		return domain.EmptyTranscript()
	}
	defer func() {
		// Best-effort cleanup, never allowed to mask the primary result.
		if err := c.remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug().Err(err).Str("path", tempPath).Msg("remove chunk temp file")
		}
	}()

	result, err := c.invoke(ctx, tempPath)
	if err != nil {
		c.logger.Warn().Err(err).Msg("chunk transcription failed, returning empty result")
		empty := domain.EmptyTranscript()
		empty.Error = err.Error()
		return empty
	}
	return result
}

// TranscribeFile transcribes a complete audio file. Engine failures are
// propagated: batch callers want the error.
func (c *Client) TranscribeFile(ctx context.Context, path string) (domain.TranscriptResult, error) {
	if strings.TrimSpace(path) == "" {
		return domain.TranscriptResult{}, fmt.Errorf("audio file path is required")
	}
	return c.invoke(ctx, path)
}

// invoke runs the engine once against a WAV file and recovers the result.
func (c *Client) invoke(ctx context.Context, wavPath string) (domain.TranscriptResult, error) {
	if err := c.sup.Guard("transcribe"); err != nil {
		return domain.TranscriptResult{}, err
	}

	binary, model := c.sup.Paths()
	args := buildArgs(model, wavPath, c.cfg.Language, c.cfg.Threads)

	c.logger.Debug().Str("binary", binary).Strs("args", args).Msg("invoking speech engine")
	cmdResult, runErr := c.runner.Run(ctx, binary, args...)
	if runErr != nil {
		return domain.TranscriptResult{}, &ProcessError{
			ExitCode: cmdResult.ExitCode,
			Stderr:   cmdResult.Stderr,
			Err:      runErr,
		}
	}

	return c.recoverResult(cmdResult.Stdout, cmdResult.Stderr), nil
}

// recoverResult applies the output-recovery order: announced JSON side
// file, then direct structured stdout, then the plain-text fallback.
func (c *Client) recoverResult(stdout, stderr string) domain.TranscriptResult {
	if jsonPath := JSONOutputPath(stderr); jsonPath != "" {
		data, err := c.readFile(jsonPath)
		if err != nil {
			c.logger.Debug().Err(err).Str("path", jsonPath).Msg("announced json output unreadable")
		} else {
			defer func() {
				if err := c.remove(jsonPath); err != nil && !errors.Is(err, os.ErrNotExist) {
					c.logger.Debug().Err(err).Str("path", jsonPath).Msg("remove engine json output")
				}
			}()
			result, parseErr := ParseStructured(data)
			if parseErr == nil {
				return result
			}
			c.logger.Debug().Err(parseErr).Str("path", jsonPath).Msg("announced json output unparseable")
		}
	}

	if result, err := ParseStructured([]byte(stdout)); err == nil {
		return result
	}

	return ParsePlainText(stdout)
}

// buildArgs builds the one-shot CLI arguments: model, input file,
// structured JSON output, language hint, and thread count.
func buildArgs(modelPath, wavPath, language string, threads int) []string {
	base := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	args := []string{
		"-m", modelPath,
		"-f", wavPath,
		"-oj",
		"-of", base,
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

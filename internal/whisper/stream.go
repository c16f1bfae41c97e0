package whisper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	goruntime "runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"local-dictation/internal/domain"
)

// StreamOptions configure the engine's long-lived incremental mode.
type StreamOptions struct {
	StepMs       int
	LengthMs     int
	KeepMs       int
	AudioContext int
}

// DefaultStreamOptions returns the incremental flags used for live input.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		StepMs:       3000,
		LengthMs:     10000,
		KeepMs:       200,
		AudioContext: 0,
	}
}

// StreamSession is one long-lived incremental engine process. Segments
// are delivered through the callback as they appear on the output stream.
type StreamSession struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// StartStream spawns the engine once in incremental mode and emits parsed
// segments to onSegment until stopped or the process exits.
func (c *Client) StartStream(ctx context.Context, opts StreamOptions, onSegment func(domain.TranscriptSegment)) (*StreamSession, error) {
	if err := c.sup.Guard("stream"); err != nil {
		return nil, err
	}
	if onSegment == nil {
		return nil, fmt.Errorf("segment callback is required")
	}

	binary, model := c.sup.Paths()
	args := buildStreamArgs(model, c.cfg.Language, c.cfg.Threads, opts)

	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open engine output stream: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start streaming engine: %w", err)
	}

	session := &StreamSession{
		cmd:    cmd,
		stdout: stdout,
		done:   make(chan struct{}),
	}

	c.logger.Info().Str("binary", binary).Strs("args", args).Msg("streaming session started")
	go session.readLoop(onSegment)
	return session, nil
}

// readLoop parses output-stream lines into segments until EOF.
func (s *StreamSession) readLoop(onSegment func(domain.TranscriptSegment)) {
	defer close(s.done)

	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		result := ParsePlainText(scanner.Text())
		for _, segment := range result.Segments {
			onSegment(segment)
		}
	}
	_ = s.cmd.Wait()
}

// Stop sends a termination signal to the engine process and waits for
// the output stream to drain.
func (s *StreamSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		if goruntime.GOOS == "windows" {
			_ = s.cmd.Process.Kill()
		} else if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = s.cmd.Process.Kill()
		}
	}

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.done
	}
	return nil
}

// buildStreamArgs builds the incremental-mode CLI arguments.
func buildStreamArgs(modelPath, language string, threads int, opts StreamOptions) []string {
	args := []string{
		"-m", modelPath,
		"--step", strconv.Itoa(opts.StepMs),
		"--length", strconv.Itoa(opts.LengthMs),
		"--keep", strconv.Itoa(opts.KeepMs),
	}
	if opts.AudioContext > 0 {
		args = append(args, "-ac", strconv.Itoa(opts.AudioContext))
	}
	if lang := language; lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

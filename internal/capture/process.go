package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/turntable-streamer/internal/errors"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

const (
	// stderrTailSize bounds how much helper stderr is kept for diagnostics
	stderrTailSize = 4096
	// processWaitDelay bounds how long Close waits for pipes after the kill
	processWaitDelay = 2 * time.Second
)

// ProcessSource runs a helper command and reads PCM from its stdout. The command runs in
// its own process group so helpers that fork are killed together.
type ProcessSource struct {
	path string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	closed bool

	stderr *stderrTail
	log    logger.Logger
}

// NewProcessSource creates an unopened source for path with args
func NewProcessSource(path string, args ...string) *ProcessSource {
	return &ProcessSource{
		path:   path,
		args:   args,
		stderr: newStderrTail(stderrTailSize),
		log:    GetLogger(),
	}
}

// String returns the command line
func (p *ProcessSource) String() string {
	return strings.Join(append([]string{p.path}, p.args...), " ")
}

// Open starts the helper process
func (p *ProcessSource) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil || p.closed {
		return errors.Newf("process source already used: %s", p.String()).
			Component("capture").
			Category(errors.CategoryAudioSource).
			Context("operation", "open_process").
			Build()
	}

	cmd := exec.CommandContext(ctx, p.path, p.args...) //nolint:gosec // G204: command and args come from validated settings
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = processWaitDelay
	cmd.Stderr = p.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(fmt.Errorf("failed to create stdout pipe: %w", err)).
			Component("capture").
			Category(errors.CategorySystem).
			Context("operation", "open_process").
			Context("command", p.path).
			Build()
	}

	if err := cmd.Start(); err != nil {
		return errors.New(fmt.Errorf("failed to start %s: %w", p.path, err)).
			Component("capture").
			Category(errors.CategoryCommandExecution).
			Priority(errors.PriorityLow).
			Context("operation", "open_process").
			Context("command", p.path).
			Build()
	}

	p.cmd = cmd
	p.stdout = stdout

	p.log.Info("capture process started",
		logger.String("command", p.String()),
		logger.Int("pid", cmd.Process.Pid))
	return nil
}

// Read reads PCM bytes from the helper's stdout
func (p *ProcessSource) Read(b []byte) (int, error) {
	p.mu.Lock()
	stdout := p.stdout
	p.mu.Unlock()

	if stdout == nil {
		return 0, ErrSourceClosed
	}
	return stdout.Read(b)
}

// Close kills the process group and reaps the process. It is safe to call more than once.
func (p *ProcessSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	if err := killProcessGroup(cmd); err != nil {
		p.log.Debug("process group kill failed, killing leader",
			logger.Int("pid", pid),
			logger.Error(err))
		_ = cmd.Process.Kill()
	}

	// Wait closes stdout once the process is gone
	waitErr := cmd.Wait()
	p.mu.Lock()
	p.stdout = nil
	p.mu.Unlock()

	p.log.Debug("capture process reaped",
		logger.Int("pid", pid),
		logger.String("exit", exitDescription(waitErr)))
	return nil
}

// StderrTail returns the last lines the helper wrote to stderr
func (p *ProcessSource) StderrTail() string {
	return p.stderr.String()
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.String()
	}
	return err.Error()
}

// stderrTail keeps the most recent bytes written to it
type stderrTail struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer
}

func newStderrTail(size int) *stderrTail {
	return &stderrTail{rb: ringbuffer.New(size)}
}

// Write never fails; when full the oldest bytes are dropped
func (s *stderrTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(p)
	if capacity := s.rb.Capacity(); len(p) > capacity {
		p = p[len(p)-capacity:]
	}
	if need := len(p) - s.rb.Free(); need > 0 {
		discard := make([]byte, need)
		_, _ = s.rb.Read(discard)
	}
	_, _ = s.rb.Write(p)
	return n, nil
}

// String returns the buffered text trimmed to whole lines
func (s *stderrTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.rb.Length()
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	_, _ = s.rb.Read(buf)
	_, _ = s.rb.Write(buf)

	text := string(buf)
	if s.rb.Free() == 0 {
		// the first line is probably cut
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}
	return strings.TrimSpace(text)
}

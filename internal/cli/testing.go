package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// CLI provides a clean interface for running CLI commands in tests.
// It manages a work directory, a private shm directory and environment
// variables, so tests never see the real user config or /dev/shm.
type CLI struct {
	t      *testing.T
	Dir    string
	ShmDir string
	Env    map[string]string
}

// NewCLI creates a new test CLI with temp directories.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	home := t.TempDir()
	shmDir := t.TempDir()

	return &CLI{
		t:      t,
		Dir:    t.TempDir(),
		ShmDir: shmDir,
		Env: map[string]string{
			"HOME":            home,
			"XDG_CONFIG_HOME": home,
			"CASINO_SHM_DIR":  shmDir,
		},
	}
}

func (r *CLI) args(args []string) []string {
	return append([]string{"casino", "--cwd", r.Dir}, args...)
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "casino" or "--cwd" - those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	code := Run(nil, &outBuf, &errBuf, r.args(args), r.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// RunWithInput executes the CLI with stdin and returns stdout, stderr, and exit code.
// stdin must be a string or io.Reader; panics otherwise.
func (r *CLI) RunWithInput(stdin any, args ...string) (string, string, int) {
	var inReader io.Reader
	switch v := stdin.(type) {
	case string:
		inReader = strings.NewReader(v)
	case io.Reader:
		inReader = v
	default:
		panic(fmt.Sprintf("stdin must be string or io.Reader, got %T", stdin))
	}

	var outBuf, errBuf bytes.Buffer

	code := Run(inReader, &outBuf, &errBuf, r.args(args), r.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Also fails if stdout is not empty. Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	if stdout != "" {
		r.t.Fatalf("command %v failed but stdout should be empty\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// Process is a long-running command started with [CLI.Start].
type Process struct {
	t      *testing.T
	sigCh  chan os.Signal
	done   chan struct{}
	mu     sync.Mutex
	out    bytes.Buffer
	errOut bytes.Buffer
	code   int
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.w.Write(p)
}

// Start runs a command in the background. Stop it with [Process.Stop].
func (r *CLI) Start(args ...string) *Process {
	r.t.Helper()

	p := &Process{t: r.t, sigCh: make(chan os.Signal, 1), done: make(chan struct{})}

	go func() {
		defer close(p.done)

		code := Run(nil, lockedWriter{&p.mu, &p.out}, lockedWriter{&p.mu, &p.errOut}, r.args(args), r.Env, p.sigCh)

		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
	}()

	r.t.Cleanup(func() {
		select {
		case <-p.done:
		default:
			p.Stop()
		}
	})

	return p
}

// Exited reports whether the command has returned.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stderr returns what the command wrote to stderr so far.
func (p *Process) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.errOut.String()
}

// Stop sends SIGTERM and waits for the command to return. It returns
// stdout, stderr and the exit code.
func (p *Process) Stop() (string, string, int) {
	p.t.Helper()

	select {
	case p.sigCh <- syscall.SIGTERM:
	default:
	}

	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		p.t.Fatalf("command did not stop within 10s\nstderr: %s", p.Stderr())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.out.String(), p.errOut.String(), p.code
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}

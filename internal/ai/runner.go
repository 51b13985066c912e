package ai

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Subprocess timeout tiers: idle kills a command that produced no new
// output bytes for the window; total caps the whole run.
const (
	DefaultIdleTimeout  = 3 * time.Minute
	DefaultTotalTimeout = 10 * time.Minute
)

// cleanTmpDir is a dedicated temp directory for CLI invocations, kept
// free of editor socket files that some CLIs choke on.
var (
	cleanTmpDir     string
	cleanTmpDirOnce sync.Once
)

func cleanTempDir() string {
	cleanTmpDirOnce.Do(func() {
		cleanTmpDir = filepath.Join(os.TempDir(), "kairos-ai")
		os.MkdirAll(cleanTmpDir, 0755)
	})
	return cleanTmpDir
}

// setCleanEnv gives the command the current environment with TMPDIR
// pointed at the dedicated directory.
func setCleanEnv(cmd *exec.Cmd) {
	cmd.Env = os.Environ()
	found := false
	for i, env := range cmd.Env {
		if strings.HasPrefix(env, "TMPDIR=") {
			cmd.Env[i] = "TMPDIR=" + cleanTempDir()
			found = true
			break
		}
	}
	if !found {
		cmd.Env = append(cmd.Env, "TMPDIR="+cleanTempDir())
	}
}

// watchedWriter tracks the last time bytes arrived, for idle detection.
type watchedWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	lastByte time.Time
}

func (w *watchedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastByte = time.Now()
	return w.buf.Write(p)
}

func (w *watchedWriter) last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastByte
}

func (w *watchedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// Runner executes CLI subprocesses with argv-only construction, a
// closed stdin, two-tier timeouts and SIGTERM on expiry.
type Runner struct {
	IdleTimeout  time.Duration
	TotalTimeout time.Duration
}

// NewRunner creates a Runner with the default timeout tiers.
func NewRunner() *Runner {
	return &Runner{IdleTimeout: DefaultIdleTimeout, TotalTimeout: DefaultTotalTimeout}
}

// Run executes the binary with args, returning combined, scrubbed
// output. Timeouts and context cancellation terminate the process with
// SIGTERM.
func (r *Runner) Run(ctx context.Context, binary string, args ...string) (string, error) {
	totalCtx, cancel := context.WithTimeout(ctx, r.total())
	defer cancel()

	cmd := exec.CommandContext(totalCtx, binary, args...)
	setCleanEnv(cmd)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	// Give the process a grace period after SIGTERM before SIGKILL.
	cmd.WaitDelay = 10 * time.Second

	out := &watchedWriter{lastByte: time.Now()}
	cmd.Stdout = out
	cmd.Stderr = out
	// Stdin is closed immediately; providers must not prompt.
	cmd.Stdin = strings.NewReader("")

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", binary, err)
	}

	// Idle watchdog.
	idleDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-idleDone:
				return
			case <-ticker.C:
				if time.Since(out.last()) > r.idle() {
					cancel()
					return
				}
			}
		}
	}()

	err := cmd.Wait()
	close(idleDone)

	output := Scrub(out.String())
	if err != nil {
		if totalCtx.Err() != nil {
			return output, fmt.Errorf("%s timed out: %w", binary, totalCtx.Err())
		}
		return output, fmt.Errorf("%s failed: %w (output: %s)", binary, err, truncate(output, 500))
	}
	return output, nil
}

func (r *Runner) idle() time.Duration {
	if r.IdleTimeout > 0 {
		return r.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (r *Runner) total() time.Duration {
	if r.TotalTimeout > 0 {
		return r.TotalTimeout
	}
	return DefaultTotalTimeout
}

var (
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	oscRe  = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
)

// Scrub removes ANSI/OSC escape sequences and non-printable control
// characters (except tab and newline) from CLI output.
func Scrub(s string) string {
	s = oscRe.ReplaceAllString(s, "")
	s = ansiRe.ReplaceAllString(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package monitor provides the host functions available to luamon scripts.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Runner runs shell commands for scripts and caches the output of commands
// run with an interval.
type Runner struct {
	shell   string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	cache     map[string]cachedOutput
	refreshes sync.WaitGroup
}

type cachedOutput struct {
	out        string
	at         time.Time
	refreshing bool
}

// NewRunner returns a Runner using shell -c to run commands. A zero timeout
// lets commands run until the context is done.
func NewRunner(shell string, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		shell:   shell,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]cachedOutput),
	}
}

// Exec runs cmd and returns its standard output with one trailing newline
// removed and backspaced characters applied. A non-zero exit status is not
// an error; the output is returned as is.
func (r *Runner) Exec(ctx context.Context, cmd string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	c := exec.CommandContext(ctx, r.shell, "-c", cmd)
	c.Stdout = &stdout
	c.WaitDelay = time.Second
	err := c.Run()

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		r.logger.Debug("command exited with an error",
			"cmd", cmd, "status", exitErr.ExitCode())
	case err != nil:
		return "", fmt.Errorf("exec %q: %w", cmd, err)
	}

	out := strings.TrimSuffix(stdout.String(), "\n")
	return RemoveDeleted(out), nil
}

// ExecI is Exec with the output cached for interval. The cache is keyed by
// the command text. The first call for a command waits for its output. Once
// the interval has passed, ExecI returns the cached output and reruns the
// command in the background; the next call after it finishes sees the new
// output. A failed rerun keeps the old output and is retried on the next call.
func (r *Runner) ExecI(ctx context.Context, interval time.Duration, cmd string) (string, error) {
	now := r.now()

	r.mu.Lock()
	c, ok := r.cache[cmd]
	if !ok {
		r.mu.Unlock()
		out, err := r.Exec(ctx, cmd)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[cmd] = cachedOutput{out: out, at: now}
		r.mu.Unlock()
		return out, nil
	}
	if now.Sub(c.at) >= interval && !c.refreshing {
		c.refreshing = true
		r.cache[cmd] = c
		r.refreshes.Go(func() { r.refresh(ctx, cmd, now) })
	}
	r.mu.Unlock()
	return c.out, nil
}

func (r *Runner) refresh(ctx context.Context, cmd string, at time.Time) {
	out, err := r.Exec(ctx, cmd)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.logger.Warn("rerunning command failed", "cmd", cmd, "error", err)
		c := r.cache[cmd]
		c.refreshing = false
		r.cache[cmd] = c
		return
	}
	r.cache[cmd] = cachedOutput{out: out, at: at}
}

// Wait blocks until the background reruns started by ExecI are done.
func (r *Runner) Wait() {
	r.refreshes.Wait()
}

// RemoveDeleted applies backspaces: "dog\b\b\bcat" becomes "cat".
func RemoveDeleted(s string) string {
	if strings.IndexByte(s, '\b') < 0 {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\b' {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// leadingNumber matches the number a %lf conversion would read at the start
// of the output.
var leadingNumber = regexp.MustCompile(`^\s*[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)

// BarNum reads the number at the start of command output for use as a bar
// value. Text after the number is ignored, so "75%" reads as 75. It fails for
// output not starting with a number or with a number outside 0..100.
func BarNum(out string) (float64, error) {
	m := leadingNumber.FindString(out)
	if m == "" {
		return 0, fmt.Errorf("reading bar value failed: no number in %s", strconv.Quote(out))
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
	if err != nil {
		return 0, fmt.Errorf("reading bar value failed: %w", err)
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("bar value %g is not between 0 and 100", n)
	}
	return n, nil
}

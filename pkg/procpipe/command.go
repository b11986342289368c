package procpipe

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultStderrLimit is how many trailing bytes of stderr a [Command] keeps.
const DefaultStderrLimit = 4096

// DefaultWaitDelay bounds how long a finished process may keep its I/O
// pipes open before Run gives up on them.
const DefaultWaitDelay = 2 * time.Second

// Command is a [Stage] that runs an external program with an argument
// vector. No shell is involved, so arguments are never re-parsed.
type Command struct {
	// Label names the stage in errors and logs. Defaults to the base name of
	// Path.
	Label string

	// Path is the executable, resolved through PATH when it has no slash.
	Path string

	// Args are passed verbatim after the program name.
	Args []string

	// Env, when non-nil, replaces the inherited environment.
	Env []string

	// Dir is the working directory. Empty inherits ours.
	Dir string

	// StderrLimit caps the stderr tail kept for errors. Zero means
	// [DefaultStderrLimit].
	StderrLimit int

	// WaitDelay is passed to [exec.Cmd.WaitDelay]. Zero means
	// [DefaultWaitDelay].
	WaitDelay time.Duration
}

// Name implements [Stage].
func (c Command) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return filepath.Base(c.Path)
}

// Run implements [Stage]. A non-zero exit, a failed start or a kill is
// returned as a [*StageError] carrying the stderr tail.
func (c Command) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	limit := c.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}
	stderr := &tailBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = in
	cmd.Stdout = out
	cmd.Stderr = stderr
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	err := cmd.Run()
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(ctxErr, err)
	}
	return &StageError{
		Stage:  c.Name(),
		Stderr: strings.TrimSpace(stderr.String()),
		Err:    err,
	}
}

// ExitCode extracts the process exit code from err, or -1 when err does not
// carry one.
func ExitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

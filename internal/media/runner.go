package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// stderrTailSize bounds captured ffmpeg diagnostics. ffmpeg writes progress
// lines to stderr continuously; only the tail matters when it fails.
const stderrTailSize = 8 * 1024

// ProcessError reports a failed tool invocation with its exit code and the
// tail of its stderr output.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("ffmpeg failed: %v", e.Err)
}

// Unwrap returns the underlying exec error.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Runner executes ffmpeg with a timeout and bounded stderr capture.
type Runner struct {
	ffmpegPath string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRunner creates a Runner for the given ffmpeg binary path.
func NewRunner(ffmpegPath string, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		logger:     logger,
	}
}

// Run executes ffmpeg with the given arguments. Output written by ffmpeg to
// stdout (when the argument vector targets pipe:1) is copied to sink; sink
// may be nil when the output is a file. The process is killed when ctx is
// cancelled or the configured timeout elapses.
func (r *Runner) Run(ctx context.Context, args []string, sink io.Writer) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tail := newTailBuffer(stderrTailSize)
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	cmd.Stderr = tail
	if sink != nil {
		cmd.Stdout = sink
	}

	start := time.Now()
	r.logger.Debug("running ffmpeg", "path", r.ffmpegPath, "arg_count", len(args))

	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		r.logger.Debug("ffmpeg completed", "elapsed", elapsed)
		return nil
	}

	// Prefer the deadline error so callers see "timed out" rather than
	// the kill signal the context delivered.
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.logger.Warn("ffmpeg cancelled", "elapsed", elapsed, "error", ctxErr)
		return &ProcessError{ExitCode: -1, Stderr: tail.String(), Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Warn("ffmpeg failed",
			"exit_code", exitErr.ExitCode(),
			"elapsed", elapsed,
			"stderr_tail", tail.String())
		return &ProcessError{ExitCode: exitErr.ExitCode(), Stderr: tail.String(), Err: err}
	}

	// Spawn failure: binary missing, not executable, etc.
	r.logger.Error("ffmpeg could not start", "error", err)
	return &ProcessError{ExitCode: -1, Err: err}
}

// tailBuffer is an io.Writer that retains only the last max bytes written.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

// Write implements io.Writer. It never fails; overflow discards the oldest bytes.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

// String returns the retained tail.
func (t *tailBuffer) String() string {
	return string(t.buf)
}

// Package proc runs the external dissection tools.
//
// Two modes are supported: Run waits for the process to exit and returns
// its buffered output, Start returns a Stream that is read one stdout line
// at a time and must be closed by the caller.
package proc

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/qerr"
)

// waitDelay bounds how long reaping waits for descendants that still hold
// the output pipes after the process itself was killed.
const waitDelay = 500 * time.Millisecond

// Result is the outcome of a buffered run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner spawns external processes. args[0] is the executable.
type Runner interface {
	// Run executes the command to completion. A positive timeout bounds the
	// run; exceeding it kills the process and fails with TIMEOUT.
	Run(ctx context.Context, args []string, timeout time.Duration) (*Result, error)

	// Start launches the command and returns immediately with a Stream over
	// its output. The caller owns the Stream and must Close it.
	Start(ctx context.Context, args []string) (*Stream, error)
}

// Exec implements Runner with os/exec.
type Exec struct {
	Logger *zap.Logger
}

// NewExec creates an Exec runner. A nil logger disables logging.
func NewExec(logger *zap.Logger) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{Logger: logger}
}

// Run executes args and waits for it to exit.
func (e *Exec) Run(ctx context.Context, args []string, timeout time.Duration) (*Result, error) {
	if len(args) == 0 {
		return nil, qerr.New(qerr.InvalidArgument, "empty command")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log().Debug("run", zap.Strings("args", args), zap.Duration("timeout", timeout))
	start := time.Now()
	err := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			e.log().Warn("run timed out", zap.String("cmd", args[0]), zap.Duration("elapsed", time.Since(start)))
			return nil, qerr.WithDetails(qerr.Timeout, "process timed out", map[string]any{
				"cmd":     args[0],
				"timeout": timeout.String(),
			})
		}
		return nil, qerr.Wrap(ctxErr)
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, startError(args[0], err)
	}
	return res, nil
}

// Start launches args and streams its stdout.
func (e *Exec) Start(ctx context.Context, args []string) (*Stream, error) {
	if len(args) == 0 {
		return nil, qerr.New(qerr.InvalidArgument, "empty command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, qerr.Wrap(err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	// Closing stdout on cancellation unblocks a pending ReadLine even when a
	// child of the process keeps the pipe open.
	cmd.Cancel = func() error {
		err := cmd.Process.Kill()
		_ = stdout.Close()
		return err
	}

	e.log().Debug("start", zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, startError(args[0], err)
	}

	s := NewStream(stdout, stderr, cmd.Process.Kill)
	// Wait closes stdout and flushes the stderr copy, so it runs only from Close.
	s.wait = cmd.Wait
	return s, nil
}

func (e *Exec) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// startError maps a failure to launch name to a structured error.
func startError(name string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return qerr.WithDetails(qerr.TsharkNotFound, "executable not found", map[string]any{
			"cmd":   name,
			"error": err.Error(),
		})
	}
	return qerr.Wrap(err)
}

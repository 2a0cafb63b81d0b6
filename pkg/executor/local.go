package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalExecutor runs commands through the host shell as a child process.
type LocalExecutor struct {
	shell string
}

// NewLocalExecutor creates a local executor. An empty shell defaults to sh.
func NewLocalExecutor(shell string) *LocalExecutor {
	if shell == "" {
		shell = "sh"
	}
	return &LocalExecutor{shell: shell}
}

// Execute runs the command under the shell with the given timeout. On
// timeout the child process is killed and ErrTimeout is returned. A normal
// completion with non-zero exit is not an error.
func (e *LocalExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.shell, "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	// The kill is performed by CommandContext; report the timeout rather
	// than whatever partial state the process left behind.
	if ctxErr := execCtx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			log.Warn().
				Dur("timeout", timeout).
				Msg("Local command timed out")
			return Result{}, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		return Result{}, fmt.Errorf("command cancelled: %w", ctxErr)
	}

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The process never ran (shell missing, fork failure).
			return Result{}, fmt.Errorf("failed to start command: %w", err)
		}

		result.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signal = ws.Signal().String()
		}
		if result.ExitCode < 0 {
			result.ExitCode = 1
		}
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}

	log.Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Local command executed")

	return result, nil
}

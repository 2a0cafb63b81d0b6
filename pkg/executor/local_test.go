package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutor_Success(t *testing.T) {
	exec := NewLocalExecutor("")

	result, err := exec.Execute(context.Background(), "echo hello", 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Empty(t, result.Stderr)
}

func TestLocalExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	exec := NewLocalExecutor("")

	result, err := exec.Execute(context.Background(), "echo oops >&2; exit 3", 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestLocalExecutor_StderrFallsBackToErrorText(t *testing.T) {
	exec := NewLocalExecutor("")

	result, err := exec.Execute(context.Background(), "exit 7", 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 7, result.ExitCode)
	assert.NotEmpty(t, result.Stderr)
}

func TestLocalExecutor_Timeout(t *testing.T) {
	exec := NewLocalExecutor("")

	start := time.Now()
	_, err := exec.Execute(context.Background(), "sleep 10", 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 2*time.Second, "process must be terminated, not waited out")
}

func TestLocalExecutor_PartialOutputNotReturnedOnTimeout(t *testing.T) {
	exec := NewLocalExecutor("")

	result, err := exec.Execute(context.Background(), "echo partial; sleep 10", 100*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, result.Stdout)
}

func TestLocalExecutor_ShellNotFound(t *testing.T) {
	exec := NewLocalExecutor("/nonexistent/shell")

	_, err := exec.Execute(context.Background(), "echo hi", 5*time.Second)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestLocalExecutor_CapturesBothStreams(t *testing.T) {
	exec := NewLocalExecutor("")

	result, err := exec.Execute(context.Background(), "echo out; echo err >&2", 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
}

func TestLocalExecutor_ContextCancellation(t *testing.T) {
	exec := NewLocalExecutor("")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := exec.Execute(ctx, "sleep 10", 30*time.Second)

	require.Error(t, err)
}

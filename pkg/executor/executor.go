// Package executor runs rendered tool commands on the local host or on a
// remote host over SSH and normalizes the outcome. A non-zero exit code is a
// successful execution; only transport-level failures (timeout, connection,
// auth) surface as errors.
package executor

import (
	"context"
	"time"
)

// Result is the normalized outcome of a completed command.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}

// Executor runs a rendered command string and returns its normalized result.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (Result, error)
}

package executor

import "errors"

var (
	// ErrTimeout is returned when a command does not complete within the
	// tool's timeout. The process or connection has been terminated.
	ErrTimeout = errors.New("command execution timed out")

	// ErrServerRequired is returned when a remote tool has no server
	// reference.
	ErrServerRequired = errors.New("remote execution requires server configuration")

	// ErrServerNotFound is returned when a remote tool references a server
	// profile that cannot be resolved.
	ErrServerNotFound = errors.New("server configuration not found")
)

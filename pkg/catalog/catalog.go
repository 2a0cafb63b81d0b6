package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Execution modes for a tool.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Auth types for a server profile.
const (
	AuthPassword   = "password"
	AuthPrivateKey = "privatekey"
)

// DefaultTimeoutMs is applied when a tool declares no timeout.
const DefaultTimeoutMs = 30000

// ToolDefinition describes a single named tool: a shell command template with
// optional parameter schema, execution mode, and approval requirement.
// Definitions are immutable once loaded into a Registry.
type ToolDefinition struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Command         string                 `json:"command"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	ExecutionMode   string                 `json:"executionMode,omitempty"`
	Server          string                 `json:"server,omitempty"`
	RequireApproval bool                   `json:"requireApproval,omitempty"`
	TimeoutMs       int64                  `json:"timeout,omitempty"`
}

// Timeout returns the tool's execution timeout as a duration.
func (t *ToolDefinition) Timeout() time.Duration {
	ms := t.TimeoutMs
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// IsRemote reports whether the tool executes on a remote host.
func (t *ToolDefinition) IsRemote() bool {
	return t.ExecutionMode == ModeRemote
}

// ParametersSchema returns the declared parameter schema, or the default
// empty object schema when the tool declares none.
func (t *ToolDefinition) ParametersSchema() map[string]interface{} {
	if t.Parameters != nil {
		return t.Parameters
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []interface{}{},
	}
}

// Credentials is the opaque secret bundle attached to a server profile.
// Values are resolved through the secret mechanism at load time and must
// never appear in logs or outbound messages.
type Credentials struct {
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// ServerProfile describes a remote host reachable over SSH.
type ServerProfile struct {
	Name           string      `json:"name"`
	Hostname       string      `json:"hostname"`
	Port           int         `json:"port,omitempty"`
	Username       string      `json:"username"`
	AuthType       string      `json:"authType,omitempty"`
	KnownHostsPath string      `json:"knownHostsPath,omitempty"`
	Credentials    Credentials `json:"credentials,omitempty"`
}

// Validate checks a tool definition for structural problems.
func (t *ToolDefinition) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Description == "" {
		return fmt.Errorf("tool %q: description is required", t.Name)
	}
	if strings.TrimSpace(t.Command) == "" {
		return fmt.Errorf("tool %q: command is required", t.Name)
	}
	switch t.ExecutionMode {
	case "", ModeLocal:
	case ModeRemote:
		if t.Server == "" {
			return fmt.Errorf("tool %q: remote execution requires a server reference", t.Name)
		}
	default:
		return fmt.Errorf("tool %q: unknown execution mode %q", t.Name, t.ExecutionMode)
	}
	if t.Parameters != nil {
		if typ, ok := t.Parameters["type"]; ok && typ != "object" {
			return fmt.Errorf("tool %q: parameters type must be 'object'", t.Name)
		}
	}
	return nil
}

// Validate checks a server profile for structural problems.
func (p *ServerProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("server name is required")
	}
	if strings.TrimSpace(p.Hostname) == "" {
		return fmt.Errorf("server %q: hostname is required", p.Name)
	}
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("server %q: username is required", p.Name)
	}
	switch p.AuthType {
	case "", AuthPassword, AuthPrivateKey:
	default:
		return fmt.Errorf("server %q: unknown auth type %q", p.Name, p.AuthType)
	}
	return nil
}

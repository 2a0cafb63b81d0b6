package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ParseTools parses a tool catalog from JSON. The catalog is a JSON array of
// tool definitions. Every definition is structurally validated and its
// declared parameter schema, if any, must compile as a JSON Schema.
func ParseTools(data []byte) ([]ToolDefinition, error) {
	var tools []ToolDefinition
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}

	for i := range tools {
		if err := tools[i].Validate(); err != nil {
			return nil, err
		}
		if tools[i].Parameters != nil {
			loader := gojsonschema.NewGoLoader(tools[i].Parameters)
			if _, err := gojsonschema.NewSchema(loader); err != nil {
				return nil, fmt.Errorf("tool %q: invalid parameter schema: %w", tools[i].Name, err)
			}
		}
	}

	return tools, nil
}

// ParseServers parses server profiles from JSON and resolves credential
// indirections.
func ParseServers(data []byte) ([]ServerProfile, error) {
	var servers []ServerProfile
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("failed to parse server profiles: %w", err)
	}

	for i := range servers {
		if err := servers[i].Validate(); err != nil {
			return nil, err
		}
		servers[i].Credentials = resolveCredentials(servers[i].Credentials)
	}

	return servers, nil
}

// LoadToolsFile loads a tool catalog from a file path.
func LoadToolsFile(path string) ([]ToolDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool catalog: %w", err)
	}
	return ParseTools(data)
}

// LoadServersFile loads server profiles from a file path. A missing file is
// not an error; remote tools are simply unresolvable until one is provided.
func LoadServersFile(path string) ([]ServerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read server profiles: %w", err)
	}
	return ParseServers(data)
}

// resolveCredentials resolves "env:NAME" indirections so profile files never
// need to hold secret material inline.
func resolveCredentials(c Credentials) Credentials {
	return Credentials{
		Password:   resolveSecret(c.Password),
		PrivateKey: resolveSecret(c.PrivateKey),
		Passphrase: resolveSecret(c.Passphrase),
	}
}

func resolveSecret(value string) string {
	if name, ok := strings.CutPrefix(value, "env:"); ok {
		return os.Getenv(name)
	}
	return value
}

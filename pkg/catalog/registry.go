package catalog

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds the loaded tool catalog and server profiles. Definitions are
// read-only during request processing; Replace swaps the whole catalog
// atomically, which is how hot reload works.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	order   []string
	servers map[string]*ServerProfile
}

// NewRegistry creates a registry from parsed tools and server profiles.
// Tool names must be unique.
func NewRegistry(tools []ToolDefinition, servers []ServerProfile) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]*ToolDefinition),
		servers: make(map[string]*ServerProfile),
	}
	if err := r.replace(tools, servers); err != nil {
		return nil, err
	}
	return r, nil
}

// EmptyRegistry creates a registry with no tools. Used when the catalog file
// is malformed: the engine starts with an empty catalog instead of crashing.
func EmptyRegistry() *Registry {
	r, _ := NewRegistry(nil, nil)
	return r
}

// Lookup returns the tool with the given name, or nil if absent.
func (r *Registry) Lookup(name string) *ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Server returns the server profile with the given name, or nil if absent.
func (r *Registry) Server(name string) *ServerProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.servers[name]
}

// List returns every tool in catalog order.
func (r *Registry) List() []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Replace atomically swaps the catalog contents. In-flight requests keep the
// definitions they already resolved.
func (r *Registry) Replace(tools []ToolDefinition, servers []ServerProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replace(tools, servers)
}

func (r *Registry) replace(tools []ToolDefinition, servers []ServerProfile) error {
	toolMap := make(map[string]*ToolDefinition, len(tools))
	order := make([]string, 0, len(tools))
	for i := range tools {
		def := tools[i]
		if _, exists := toolMap[def.Name]; exists {
			return fmt.Errorf("duplicate tool name %q", def.Name)
		}
		toolMap[def.Name] = &def
		order = append(order, def.Name)
	}

	serverMap := make(map[string]*ServerProfile, len(servers))
	for i := range servers {
		profile := servers[i]
		if _, exists := serverMap[profile.Name]; exists {
			return fmt.Errorf("duplicate server name %q", profile.Name)
		}
		serverMap[profile.Name] = &profile
	}

	r.tools = toolMap
	r.order = order
	r.servers = serverMap

	log.Info().
		Int("tools", len(toolMap)).
		Int("servers", len(serverMap)).
		Msg("Tool catalog loaded")

	return nil
}

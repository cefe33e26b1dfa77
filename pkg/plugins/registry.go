package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a plugin instance from the current credentials.
type Factory func(creds Credentials) Plugin

// Credentials carries the API keys plugins need. Empty fields leave the
// corresponding plugin unconfigured.
type Credentials struct {
	ShodanAPIKey string
	CensysPAT    string
	CensysOrgID  string
}

// Registry maps plugin names to factories and caches constructed instances.
// It is mutated at process start and treated as read-only afterwards.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Plugin
	creds     Credentials
}

// NewRegistry returns an empty registry, primarily for tests.
func NewRegistry(creds Credentials) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Plugin),
		creds:     creds,
	}
}

// DefaultRegistry returns a registry with the built-in plugins registered.
func DefaultRegistry(creds Credentials) *Registry {
	reg := NewRegistry(creds)
	reg.Register("shodan", func(c Credentials) Plugin { return NewShodan(c.ShodanAPIKey) })
	reg.Register("censys", func(c Credentials) Plugin { return NewCensys(c.CensysPAT, c.CensysOrgID) })
	return reg
}

// Register adds a factory under name. Registering a name twice is a
// programmer error and panics.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("plugins: %q already registered", name))
	}
	r.factories[name] = factory
}

// Get returns the cached instance for name, constructing it on first use.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.instances[name]; ok {
		return p, true
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	p := factory(r.creds)
	r.instances[name] = p
	return p, true
}

// Names lists registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfiguredPlugins returns instances whose credentials are present, in
// sorted name order.
func (r *Registry) ConfiguredPlugins() []Plugin {
	var configured []Plugin
	for _, name := range r.Names() {
		if p, ok := r.Get(name); ok && p.IsConfigured() {
			configured = append(configured, p)
		}
	}
	return configured
}

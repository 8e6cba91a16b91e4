package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
)

// Registry maps workflow types to versioned definitions. New executions use
// the latest version; running executions keep the version they were stamped
// with. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	versions  map[string][]*Definition
	contracts *activity.Registry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithContracts makes Register reject activity steps and compensations
// whose (service, operation) is not a registered contract.
func WithContracts(c *activity.Registry) RegistryOption {
	return func(r *Registry) { r.contracts = c }
}

// NewRegistry creates an empty workflow registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{versions: make(map[string][]*Definition)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates def and adds it. Version 0 is treated as 1.
// Registering an existing (name, version) replaces it.
func (r *Registry) Register(def *Definition) error {
	if err := def.Check(); err != nil {
		return fmt.Errorf("%w: %v", saga.ErrValidation, err)
	}
	if r.contracts != nil {
		for i := range def.Steps {
			s := &def.Steps[i]
			if s.Kind == KindActivity && !r.contracts.Has(s.Service, s.Operation) {
				return fmt.Errorf("workflow %s step %q: %w: %s", def.Name, s.Name, saga.ErrUnknownOperation, s.Target())
			}
			if c := s.Compensation; c != nil && !r.contracts.Has(c.Service, c.Operation) {
				return fmt.Errorf("workflow %s compensation of %q: %w: %s.%s", def.Name, s.Name, saga.ErrUnknownOperation, c.Service, c.Operation)
			}
		}
	}
	if def.Version <= 0 {
		def.Version = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.versions[def.Name]
	for i, v := range existing {
		if v.Version == def.Version {
			existing[i] = def
			return nil
		}
	}
	r.versions[def.Name] = append(existing, def)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the latest version of name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Definition
	for _, v := range r.versions[name] {
		if best == nil || v.Version > best.Version {
			best = v
		}
	}
	return best, best != nil
}

// GetVersion returns a specific version. version <= 0 means latest.
func (r *Registry) GetVersion(name string, version int) (*Definition, bool) {
	if version <= 0 {
		return r.Get(name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[name] {
		if v.Version == version {
			return v, true
		}
	}
	return nil, false
}

// LatestVersion returns the highest version of name, or 0.
func (r *Registry) LatestVersion(name string) int {
	if d, ok := r.Get(name); ok {
		return d.Version
	}
	return 0
}

// Names returns every registered type, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeInfo summarizes one registered type.
type TypeInfo struct {
	Name     string   `json:"name"`
	Versions []int    `json:"versions"`
	Steps    []string `json:"steps"`
}

// Types describes every registered type with the steps of its latest
// version.
func (r *Registry) Types() []TypeInfo {
	names := r.Names()
	out := make([]TypeInfo, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		info := TypeInfo{Name: name}
		var latest *Definition
		for _, d := range r.versions[name] {
			info.Versions = append(info.Versions, d.Version)
			if latest == nil || d.Version > latest.Version {
				latest = d
			}
		}
		sort.Ints(info.Versions)
		info.Steps = latest.StepNames()
		out = append(out, info)
	}
	return out
}

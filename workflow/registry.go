package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased workflow handler that accepts raw JSON
// input and returns raw JSON output. The typed Definition[I, O] is
// converted to a HandlerFunc at registration time.
type HandlerFunc func(wf *Workflow, input []byte) ([]byte, error)

// versionedHandler holds a handler tagged with its version number.
type versionedHandler struct {
	version int
	handler HandlerFunc
}

// Registry maps workflow names to versioned handler functions.
// Multiple versions of the same workflow can be registered; the latest
// version is used for new runs. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]versionedHandler // name → list of versioned handlers
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]versionedHandler),
	}
}

// RegisterDefinition registers a typed workflow definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into I
// and JSON-marshals the returned O.
//
// If Version is 0 (default), it is treated as version 1.
// Multiple versions of the same workflow name can coexist.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[I, O any](r *Registry, def *Definition[I, O]) {
	version := def.Version
	if version <= 0 {
		version = 1
	}

	handler := func(wf *Workflow, input []byte) ([]byte, error) {
		var in I
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("unmarshal input for workflow %q: %w", def.Name, err)
			}
		}
		out, err := def.Handler(wf, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal output for workflow %q: %w", def.Name, err)
		}
		return data, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vr := versionedHandler{version: version, handler: handler}
	existing := r.versions[def.Name]

	// Replace if same version already registered, else append.
	replaced := false
	for i, v := range existing {
		if v.version == version {
			existing[i] = vr
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, vr)
	}
	r.versions[def.Name] = existing
}

// Get returns the latest-version handler for the given workflow name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[name]
	if len(versions) == 0 {
		return nil, false
	}
	// Find the highest version.
	best := versions[0]
	for _, v := range versions[1:] {
		if v.version > best.version {
			best = v
		}
	}
	return best.handler, true
}

// GetVersion returns the handler for a specific version of a workflow.
// If version <= 0, behaves like Get (returns latest).
func (r *Registry) GetVersion(name string, version int) (HandlerFunc, bool) {
	if version <= 0 {
		return r.Get(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[name] {
		if v.version == version {
			return v.handler, true
		}
	}
	return nil, false
}

// LatestVersion returns the highest registered version number for a workflow.
// Returns 0 if the workflow is not registered.
func (r *Registry) LatestVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := 0
	for _, v := range r.versions[name] {
		if v.version > best {
			best = v.version
		}
	}
	return best
}

// Names returns all registered workflow names.
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
